// Package executor runs jobs in the background: claiming, planning,
// step execution, cancellation and retention cleanup.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"agentgate/config"
	"agentgate/internal/capability"
	"agentgate/internal/planner"
	"agentgate/internal/quota"
	"agentgate/internal/store"
)

var (
	metricsOnce     sync.Once
	jobsStarted     *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	stepsExecuted   *prometheus.CounterVec
	jobsPurgedTotal prometheus.Counter
)

func registerMetrics() {
	metricsOnce.Do(func() {
		jobsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_jobs_started_total",
			Help: "Jobs claimed for execution, by mode.",
		}, []string{"mode"})
		jobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_jobs_completed_total",
			Help: "Jobs finished, by terminal status.",
		}, []string{"status"})
		jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentgate_job_duration_seconds",
			Help:    "Wall time of job execution.",
			Buckets: prometheus.DefBuckets,
		})
		stepsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_steps_executed_total",
			Help: "Executed plan steps, by tool and status.",
		}, []string{"tool", "status"})
		jobsPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentgate_jobs_purged_total",
			Help: "Jobs removed by retention cleanup.",
		})
		prometheus.MustRegister(jobsStarted, jobsCompleted, jobDuration, stepsExecuted, jobsPurgedTotal)
	})
}

// Executor owns the background job lifecycle. At most cfg.Workers jobs
// run concurrently; each job gets its own cancellable context.
type Executor struct {
	store    *store.Store
	registry *capability.Registry
	planner  *planner.Planner
	quota    *quota.Tracker
	cfg      config.ExecutorConfig
	logger   *log.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	running map[string]context.CancelFunc

	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

func New(st *store.Store, reg *capability.Registry, pl *planner.Planner, qt *quota.Tracker, cfg config.ExecutorConfig) *Executor {
	registerMetrics()
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		store:    st,
		registry: reg,
		planner:  pl,
		quota:    qt,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
		sem:      semaphore.NewWeighted(int64(workers)),
		running:  map[string]context.CancelFunc{},
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// Start launches the retention sweeper. Job execution itself is driven
// by Submit.
func (e *Executor) Start() {
	e.wg.Add(1)
	go e.sweepLoop()
}

// Shutdown cancels all running jobs and waits for them to unwind.
func (e *Executor) Shutdown() {
	e.stop()
	e.wg.Wait()
}

// Submit schedules a queued job for background execution.
func (e *Executor) Submit(job store.Job) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(e.baseCtx, 1); err != nil {
			return
		}
		defer e.sem.Release(1)
		e.run(job)
	}()
}

// Cancel terminates a job. Queued or running jobs move to the error
// status with error "cancelled"; a running job's context is cancelled
// so in-flight tool calls stop promptly.
func (e *Executor) Cancel(ctx context.Context, jobID, tenantID string) (store.Job, error) {
	job, err := e.store.CancelJob(ctx, jobID, tenantID)
	if err != nil {
		return job, err
	}
	e.mu.Lock()
	if cancel, ok := e.running[jobID]; ok {
		cancel()
	}
	e.mu.Unlock()
	return job, nil
}

func (e *Executor) run(job store.Job) {
	// Claim first: a job cancelled while queued stays terminal and the
	// claim loses.
	if err := e.store.ClaimJob(e.baseCtx, job.ID); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			e.logger.Printf("claim failed job_id=%s err=%v", job.ID, err)
		}
		return
	}
	jobsStarted.WithLabelValues(job.Mode).Inc()

	timeout := e.cfg.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(e.baseCtx, timeout)
	e.mu.Lock()
	e.running[job.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.running, job.ID)
		e.mu.Unlock()
	}()

	started := time.Now()
	output, runErr := e.execute(ctx, job)
	jobDuration.Observe(time.Since(started).Seconds())

	if runErr != nil {
		msg := runErr.Error()
		if ctx.Err() != nil && errors.Is(runErr, context.Canceled) {
			// A cancel request already finalized the row.
			msg = "cancelled"
		}
		if err := e.store.FailJob(e.baseCtx, job.ID, msg); err != nil && !errors.Is(err, store.ErrConflict) {
			e.logger.Printf("fail update job_id=%s err=%v", job.ID, err)
		}
		jobsCompleted.WithLabelValues(store.JobStatusError).Inc()
		e.logger.Printf("job_failed job_id=%s err=%v", job.ID, runErr)
		return
	}
	if err := e.store.CompleteJob(e.baseCtx, job.ID, output); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			e.logger.Printf("complete update job_id=%s err=%v", job.ID, err)
		}
		// Conflict means the job was cancelled mid-flight; leave it.
		return
	}
	jobsCompleted.WithLabelValues(store.JobStatusDone).Inc()
	e.logger.Printf("job_done job_id=%s duration=%s", job.ID, time.Since(started).Round(time.Millisecond))
}

func (e *Executor) execute(ctx context.Context, job store.Job) (json.RawMessage, error) {
	switch job.Mode {
	case store.JobModeAgent:
		return e.executeAgent(ctx, job)
	default:
		return e.executeTool(ctx, job)
	}
}

// executeTool runs a single-tool job: the tool named on the job with
// the job's input, no planning involved.
func (e *Executor) executeTool(ctx context.Context, job store.Job) (json.RawMessage, error) {
	input, err := e.registry.ValidateInput(job.Tool, job.Input)
	if err != nil {
		return nil, err
	}
	result, err := e.invokeTool(ctx, job.TenantID, job.Tool, input)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result.Output)
}

// invokeTool charges quota, reserves byte budget, executes and settles.
func (e *Executor) invokeTool(ctx context.Context, tenantID, tool string, input map[string]interface{}) (capability.Result, error) {
	impl, ok := e.registry.Get(tool)
	if !ok {
		return capability.Result{}, fmt.Errorf("unknown tool %q", tool)
	}
	if err := e.quota.AdmitToolCall(ctx, tenantID, tool); err != nil {
		return capability.Result{}, err
	}

	var reservation *quota.Reservation
	if fetchingTool(tool) {
		var err error
		reservation, err = e.quota.ReserveBytes(ctx, tenantID, reserveEstimate(impl))
		if err != nil {
			return capability.Result{}, err
		}
	}

	result, err := impl.Execute(ctx, input)
	if reservation != nil {
		if settleErr := reservation.Settle(ctx, tool, result.BytesFetched); settleErr != nil {
			e.logger.Printf("settle failed tool=%s err=%v", tool, settleErr)
		}
	}
	return result, err
}

// byteEstimate is the fallback up-front reservation for fetching tools
// that do not declare a read bound. The settle step replaces the
// reservation with the actual count.
const byteEstimate = 64 * 1024

// reserveEstimate sizes the byte reservation at the most the tool can
// actually read, so a single fetch can never exceed what was checked
// against the daily cap.
func reserveEstimate(impl capability.Tool) int64 {
	if b, ok := impl.(interface{ MaxReadBytes() int64 }); ok {
		if n := b.MaxReadBytes(); n > 0 {
			return n
		}
	}
	return byteEstimate
}

func fetchingTool(tool string) bool {
	switch tool {
	case "http_fetch", "web_search", "web_page_text":
		return true
	}
	return false
}
