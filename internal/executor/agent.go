package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"agentgate/internal/planner"
	"agentgate/internal/store"
)

// executeAgent plans the prompt and runs each step in order, stopping
// at the first failure. Step 0 records the planning phase itself.
func (e *Executor) executeAgent(ctx context.Context, job store.Job) (json.RawMessage, error) {
	plan, meta := e.planner.CreatePlan(ctx, job.Prompt)

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	if err := e.store.SetJobPlan(ctx, job.ID, planJSON); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}
	if err := e.recordPlannerStep(ctx, job.ID, meta); err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	var citations []citation

	for i, planStep := range plan.Steps {
		stepNumber := i + 1
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		inputSummary, _ := json.Marshal(planStep.Input)
		stepID, err := e.store.CreateStep(ctx, job.ID, stepNumber, planStep.Tool, string(inputSummary))
		if err != nil {
			return nil, err
		}
		if err := e.store.StartStep(ctx, stepID); err != nil {
			return nil, err
		}

		stepInput := resolveTemplates(planStep.Input, results)
		result, err := e.invokeTool(ctx, job.TenantID, planStep.Tool, stepInput)
		if err != nil {
			stepsExecuted.WithLabelValues(planStep.Tool, store.StepStatusError).Inc()
			_ = e.store.FinishStep(ctx, stepID, store.StepStatusError, "", err.Error())
			return nil, fmt.Errorf("step %d failed: %w", stepNumber, err)
		}
		results = append(results, result.Output)
		citations = extractCitations(planStep.Tool, result.Output, citations)

		stepsExecuted.WithLabelValues(planStep.Tool, store.StepStatusDone).Inc()
		if err := e.store.FinishStep(ctx, stepID, store.StepStatusDone, outputSummary(planStep.Tool, result.Output), ""); err != nil {
			return nil, err
		}
	}

	return finalOutput(plan, results, citations)
}

// recordPlannerStep persists planning metadata as step 0, so clients
// can see which planner produced the plan and why a fallback happened.
func (e *Executor) recordPlannerStep(ctx context.Context, jobID string, meta planner.Metadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	stepID, err := e.store.CreateStep(ctx, jobID, 0, "planner", "{}")
	if err != nil {
		return err
	}
	if err := e.store.StartStep(ctx, stepID); err != nil {
		return err
	}
	return e.store.FinishStep(ctx, stepID, store.StepStatusDone, string(metaJSON), "")
}
