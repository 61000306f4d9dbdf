package tools

import (
	"context"

	"agentgate/internal/capability"
)

type echoTool struct{}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Returns the input back unchanged." }

func (e *echoTool) InputSchema() string {
	return `{"type": "object"}`
}

func (e *echoTool) Execute(ctx context.Context, input map[string]interface{}) (capability.Result, error) {
	return capability.Result{Output: map[string]interface{}{"result": input}}, nil
}
