package executor

import (
	"time"

	"agentgate/internal/store"
)

// sweepLoop periodically deletes jobs older than the retention window.
func (e *Executor) sweepLoop() {
	defer e.wg.Done()

	retention := e.cfg.Retention
	if retention <= 0 {
		retention = store.JobRetention
	}
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			n, err := e.store.PurgeExpiredJobs(e.baseCtx, cutoff)
			if err != nil {
				e.logger.Printf("retention sweep failed: %v", err)
				continue
			}
			if n > 0 {
				jobsPurgedTotal.Add(float64(n))
				e.logger.Printf("retention sweep removed %d jobs", n)
			}
		}
	}
}
