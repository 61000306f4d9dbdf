// Package batch executes approved action batches sequentially with a
// full audit trail. Nothing here runs unless the storage-level gate
// already moved the batch to executing.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"agentgate/config"
	"agentgate/internal/store"
)

// systemActor is the audit actor for execution-time events.
const systemActor = "system"

// Runner executes batches one action at a time, fail-fast: the first
// failing action marks the rest skipped and the batch failed.
type Runner struct {
	store      *store.Store
	cfg        config.BatchConfig
	logger     *log.Logger
	httpClient *http.Client
	wg         sync.WaitGroup
}

func NewRunner(st *store.Store, cfg config.BatchConfig) *Runner {
	timeout := cfg.ActionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Runner{
		store:      st,
		cfg:        cfg,
		logger:     log.New(log.Writer(), "[BATCH] ", log.LstdFlags),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Wait blocks until all in-flight batch executions finish. For tests
// and shutdown.
func (r *Runner) Wait() { r.wg.Wait() }

// RunAsync executes an already-executing batch in the background.
func (r *Runner) RunAsync(batchID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(context.Background(), batchID)
	}()
}

type actionResult struct {
	Seq     int    `json:"seq"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Run executes every action of a batch in seq order. The batch must
// already have status executing.
func (r *Runner) Run(ctx context.Context, batchID string) {
	batch, err := r.store.GetBatch(ctx, batchID, "")
	if err != nil {
		r.logger.Printf("batch not found for execution: %s", batchID)
		return
	}
	if batch.Status != store.BatchStatusExecuting {
		r.logger.Printf("batch %s not in executing status: %s", batchID, batch.Status)
		return
	}

	allSuccess := true
	var results []actionResult

	for _, action := range batch.Actions {
		if err := r.store.StartAction(ctx, action, systemActor); err != nil {
			r.logger.Printf("start action failed batch=%s seq=%d err=%v", batchID, action.Seq, err)
			allSuccess = false
			if err := r.store.SkipPendingActions(ctx, batchID); err != nil {
				r.logger.Printf("skip pending failed batch=%s err=%v", batchID, err)
			}
			break
		}

		output, execErr := r.executeAction(ctx, action)

		res := actionResult{Seq: action.Seq, Success: execErr == nil, Output: output}
		status := store.StepStatusDone
		errMsg := ""
		if execErr != nil {
			status = store.StepStatusError
			errMsg = clip(execErr.Error(), 500)
			res.Error = errMsg
			allSuccess = false
		}
		results = append(results, res)

		data, _ := json.Marshal(map[string]interface{}{
			"success": execErr == nil,
			"output":  output,
			"error":   errMsg,
		})
		if err := r.store.FinishAction(ctx, action, systemActor, status, output, errMsg, data); err != nil {
			r.logger.Printf("finish action failed batch=%s seq=%d err=%v", batchID, action.Seq, err)
		}

		if execErr != nil {
			if err := r.store.SkipPendingActions(ctx, batchID); err != nil {
				r.logger.Printf("skip pending failed batch=%s err=%v", batchID, err)
			}
			break
		}
	}

	var summary map[string]interface{}
	if allSuccess {
		summary = map[string]interface{}{
			"message": fmt.Sprintf("All %d actions completed successfully", len(results)),
			"results": results,
		}
	} else {
		failed := 0
		for _, res := range results {
			if !res.Success {
				failed++
			}
		}
		summary = map[string]interface{}{
			"message": fmt.Sprintf("Execution failed: %d action(s) failed", failed),
			"results": results,
		}
	}
	summaryJSON, _ := json.Marshal(summary)
	if err := r.store.FinishBatch(ctx, batchID, systemActor, !allSuccess, summaryJSON); err != nil {
		r.logger.Printf("finish batch failed batch=%s err=%v", batchID, err)
		return
	}
	r.logger.Printf("batch execution completed batch=%s success=%v actions=%d", batchID, allSuccess, len(results))
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
