// Package planner turns a natural-language prompt into a bounded tool
// execution plan. The rule-based planner always works; the LLM planner
// is used when configured and falls back to rules on any failure.
package planner

import (
	"context"
	"log"

	"agentgate/config"
	"agentgate/internal/llm"
)

// Planner modes.
const (
	ModeRules       = "rules"
	ModeLLM         = "llm"
	ModeLLMFallback = "llm_fallback"
)

// Step is one planned tool invocation. Input values may contain
// template references like {{search_result_0_url}} or
// {{previous_text}} that the executor resolves at run time.
type Step struct {
	Tool        string                 `json:"tool"`
	Input       map[string]interface{} `json:"input"`
	Description string                 `json:"description,omitempty"`
}

// Plan is an ordered list of steps with the planner's reasoning.
type Plan struct {
	Goal  string `json:"goal,omitempty"`
	Steps []Step `json:"steps"`
	Mode  string `json:"mode"`
}

// Metadata records how the plan came to be. It never contains secrets
// and is safe to persist with the job.
type Metadata struct {
	Mode           string `json:"mode"`
	StepCount      int    `json:"step_count"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

// URLValidator rejects unsafe outbound URLs. Satisfied by
// policy.URLGuard.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// Planner builds plans according to the configured mode.
type Planner struct {
	cfg    config.PlannerConfig
	mode   string
	llm    llm.Client
	guard  URLValidator
	logger *log.Logger
}

func New(cfg config.PlannerConfig, mode string, llmClient llm.Client, guard URLValidator) *Planner {
	if mode != ModeLLM {
		mode = ModeRules
	}
	return &Planner{
		cfg:    cfg,
		mode:   mode,
		llm:    llmClient,
		guard:  guard,
		logger: log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// CreatePlan produces a plan for the prompt. In LLM mode a failed or
// invalid LLM plan degrades to the rule-based plan, and the metadata
// records the fallback reason.
func (p *Planner) CreatePlan(ctx context.Context, prompt string) (Plan, Metadata) {
	maxSteps := p.cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 3
	}

	if p.mode == ModeLLM && p.llm != nil && p.llm.Configured() {
		plan, err := p.createLLMPlan(ctx, prompt, maxSteps)
		if err == nil {
			p.logger.Printf("planner_llm_success steps=%d", len(plan.Steps))
			return plan, Metadata{Mode: ModeLLM, StepCount: len(plan.Steps)}
		}
		p.logger.Printf("planner_llm_fallback reason=%v", err)
		plan = p.createRulePlan(prompt, maxSteps)
		plan.Mode = ModeLLMFallback
		return plan, Metadata{
			Mode:           ModeLLMFallback,
			StepCount:      len(plan.Steps),
			FallbackReason: err.Error(),
		}
	}

	plan := p.createRulePlan(prompt, maxSteps)
	p.logger.Printf("planner_rules steps=%d", len(plan.Steps))
	return plan, Metadata{Mode: ModeRules, StepCount: len(plan.Steps)}
}

func (p *Planner) allowed(tool string) bool {
	for _, t := range p.cfg.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}
