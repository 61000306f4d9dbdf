// Package capability maintains the registry of tools the service can
// execute, together with their JSON Schema input contracts.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is one executable capability. Implementations live in
// internal/tools.
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns the JSON Schema the tool's input must satisfy.
	InputSchema() string
	Execute(ctx context.Context, input map[string]interface{}) (Result, error)
}

// Result is a tool invocation's output plus its accounting footprint.
type Result struct {
	Output       map[string]interface{}
	BytesFetched int64
}

// Descriptor is the public description of a registered tool.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds registered tools keyed by name. Registration compiles
// each tool's schema once, so execution-time validation never pays the
// compile cost.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

// Register adds a tool, compiling its input schema. Registering the
// same name twice is an error.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	compiler := jsonschema.NewCompiler()
	resource := name + "_input.json"
	if err := compiler.AddResource(resource, strings.NewReader(t.InputSchema())); err != nil {
		return fmt.Errorf("add schema for %s: %w", name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.entries[name] = entry{tool: t, schema: schema}
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.tool, ok
}

// Names returns registered tool names sorted for stable output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns descriptors for all registered tools, sorted by
// name.
func (r *Registry) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Descriptor{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			InputSchema: json.RawMessage(e.tool.InputSchema()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateInput checks raw input against the named tool's schema and
// returns the decoded map on success.
func (r *Registry) ValidateInput(name string, raw json.RawMessage) (map[string]interface{}, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("input is not valid JSON: %w", err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("input does not match schema for %s: %w", name, err)
	}
	input, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("input for %s must be a JSON object", name)
	}
	return input, nil
}
