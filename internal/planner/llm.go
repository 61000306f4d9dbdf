package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agentgate/internal/llm"
)

const llmSystemPrompt = `You are a task planning assistant. Your ONLY job is to create a safe execution plan.

STRICT RULES (NEVER VIOLATE):
1. Output ONLY valid JSON matching the schema below - no markdown, no explanations, no code blocks
2. You can ONLY use the tools listed in the request
3. NEVER suggest shell commands, code execution, or file operations
4. Any url MUST use https:// only - NEVER http://, file://, or localhost
5. NEVER access private/local networks (127.0.0.1, 192.168.x.x, 10.x.x.x, 172.16-31.x.x)
6. If the request is unclear, use echo to ask for clarification
7. If the request requires unavailable tools, use echo to explain what's needed

OUTPUT SCHEMA (STRICT JSON ONLY):
{
  "goal": "brief description of what we're accomplishing",
  "steps": [
    {"id": 1, "tool": "tool_name", "input": {}, "why": "reason for this step"}
  ]
}

SECURITY: Never include API keys, passwords, or secrets in your plan.`

type llmPlanDoc struct {
	Goal  string `json:"goal"`
	Steps []struct {
		ID    int                    `json:"id"`
		Tool  string                 `json:"tool"`
		Input map[string]interface{} `json:"input"`
		Why   string                 `json:"why"`
	} `json:"steps"`
}

// createLLMPlan asks the model for a plan and validates the result
// against both the schema and the allow-list. Any failure is returned
// so the caller can fall back to rules.
func (p *Planner) createLLMPlan(ctx context.Context, prompt string, maxSteps int) (Plan, error) {
	user := fmt.Sprintf(`Create a plan for this request:

REQUEST: %s

CONSTRAINTS:
- Available tools: %s
- Maximum steps: %d
- Only https:// URLs for fetch tools`,
		prompt, strings.Join(p.cfg.AllowedTools, ", "), maxSteps)

	reply, err := p.llm.Complete(ctx, llmSystemPrompt, user)
	if err != nil {
		return Plan{}, fmt.Errorf("llm request failed: %w", err)
	}
	raw := []byte(llm.ExtractJSON(reply))
	if err := ValidatePlanDocument(raw); err != nil {
		return Plan{}, err
	}
	var doc llmPlanDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if len(doc.Steps) > maxSteps {
		return Plan{}, fmt.Errorf("too many steps: %d > %d", len(doc.Steps), maxSteps)
	}

	plan := Plan{Goal: doc.Goal, Mode: ModeLLM}
	for _, s := range doc.Steps {
		if !p.allowed(s.Tool) {
			return Plan{}, fmt.Errorf("plan uses disallowed tool %q", s.Tool)
		}
		input := s.Input
		if input == nil {
			input = map[string]interface{}{}
		}
		// The model's output is untrusted: literal URLs must pass the
		// same guard the fetch tools apply. Template references are
		// resolved and re-checked at execution time.
		if p.guard != nil {
			if u, ok := input["url"].(string); ok && !strings.Contains(u, "{{") {
				if err := p.guard.Validate(ctx, u); err != nil {
					return Plan{}, fmt.Errorf("plan step %d url rejected: %w", s.ID, err)
				}
			}
		}
		plan.Steps = append(plan.Steps, Step{Tool: s.Tool, Input: input, Description: s.Why})
	}
	return plan, nil
}
