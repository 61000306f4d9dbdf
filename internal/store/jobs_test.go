package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestJobLifecycle(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "", JobModeTool, "echo", json.RawMessage(`{"message":"hi"}`), "")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if job.Status != JobStatusQueued {
		t.Fatalf("status = %q, want queued", job.Status)
	}

	if err := st.ClaimJob(ctx, job.ID); err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}
	// A claimed job cannot be claimed again.
	if err := st.ClaimJob(ctx, job.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second ClaimJob() error = %v, want ErrConflict", err)
	}

	if err := st.CompleteJob(ctx, job.ID, json.RawMessage(`{"result":{"message":"hi"}}`)); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}
	got, err := st.GetJob(ctx, job.ID, "")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != JobStatusDone {
		t.Fatalf("status = %q, want done", got.Status)
	}
	if got.CompletedAt == nil || got.DurationMS == nil {
		t.Fatalf("completed_at/duration_ms not set: %+v", got)
	}
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "", JobModeAgent, "", nil, "look something up")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	got, err := st.CancelJob(ctx, job.ID, "")
	if err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	if got.Status != JobStatusError || got.Error != "cancelled" {
		t.Fatalf("cancelled job = status %q error %q", got.Status, got.Error)
	}
	// Cancelling a terminal job is a conflict.
	if _, err := st.CancelJob(ctx, job.ID, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("second CancelJob() error = %v, want ErrConflict", err)
	}
	// A cancelled-while-queued job loses the claim race too.
	if err := st.ClaimJob(ctx, job.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("ClaimJob() after cancel error = %v, want ErrConflict", err)
	}
}

func TestJobTenantIsolation(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	ta, err := st.CreateTenant(ctx, "tenant-a", 100, 100, 1000)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	tb, err := st.CreateTenant(ctx, "tenant-b", 100, 100, 1000)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}

	job, err := st.CreateJob(ctx, ta.ID, JobModeTool, "echo", json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if _, err := st.GetJob(ctx, job.ID, tb.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant GetJob() error = %v, want ErrNotFound", err)
	}
	if err := st.DeleteJob(ctx, job.ID, tb.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant DeleteJob() error = %v, want ErrNotFound", err)
	}
	if _, err := st.GetJob(ctx, job.ID, ta.ID); err != nil {
		t.Fatalf("owner GetJob() error = %v", err)
	}

	jobs, total, err := st.ListJobs(ctx, JobFilter{TenantID: tb.ID})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if total != 0 || len(jobs) != 0 {
		t.Fatalf("tenant-b sees %d jobs, want 0", total)
	}
}

func TestListJobsFilters(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := st.CreateJob(ctx, "", JobModeTool, "echo", json.RawMessage(`{}`), ""); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}
	agentJob, err := st.CreateJob(ctx, "", JobModeAgent, "", nil, "summarize the news")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	jobs, total, err := st.ListJobs(ctx, JobFilter{Mode: JobModeAgent})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if total != 1 || len(jobs) != 1 || jobs[0].ID != agentJob.ID {
		t.Fatalf("agent filter got total=%d jobs=%d", total, len(jobs))
	}

	jobs, total, err = st.ListJobs(ctx, JobFilter{Status: JobStatusQueued, Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if total != 4 || len(jobs) != 2 {
		t.Fatalf("queued filter got total=%d page=%d, want 4/2", total, len(jobs))
	}
}

func TestPurgeExpiredJobs(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "", JobModeTool, "echo", json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	n, err := st.PurgeExpiredJobs(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpiredJobs() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("purged %d fresh jobs, want 0", n)
	}
	n, err = st.PurgeExpiredJobs(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpiredJobs() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d jobs, want 1", n)
	}
	if _, err := st.GetJob(ctx, job.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetJob() after purge error = %v, want ErrNotFound", err)
	}
}

func TestCreateJobPurgesExpired(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	old, err := st.CreateJob(ctx, "", JobModeTool, "echo", json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	stale := time.Now().UTC().Add(-JobRetention - time.Hour)
	if _, err := st.DB.ExecContext(ctx, `UPDATE jobs SET created_at = ? WHERE id = ?`, stale, old.ID); err != nil {
		t.Fatalf("backdate job: %v", err)
	}

	// Creating the next job sweeps anything past retention.
	fresh, err := st.CreateJob(ctx, "", JobModeTool, "echo", json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if _, err := st.GetJob(ctx, old.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetJob(expired) error = %v, want ErrNotFound", err)
	}
	if _, err := st.GetJob(ctx, fresh.ID, ""); err != nil {
		t.Fatalf("GetJob(fresh) error = %v", err)
	}
}

func TestJobSteps(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "", JobModeAgent, "", nil, "fetch a page")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	planID, err := st.CreateStep(ctx, job.ID, 0, "planner", "{}")
	if err != nil {
		t.Fatalf("CreateStep() error = %v", err)
	}
	if err := st.StartStep(ctx, planID); err != nil {
		t.Fatalf("StartStep() error = %v", err)
	}
	if err := st.FinishStep(ctx, planID, StepStatusDone, `{"mode":"rules","step_count":1}`, ""); err != nil {
		t.Fatalf("FinishStep() error = %v", err)
	}
	stepID, err := st.CreateStep(ctx, job.ID, 1, "http_fetch", `{"url":"https://example.com"}`)
	if err != nil {
		t.Fatalf("CreateStep() error = %v", err)
	}
	if err := st.StartStep(ctx, stepID); err != nil {
		t.Fatalf("StartStep() error = %v", err)
	}
	if err := st.FinishStep(ctx, stepID, StepStatusError, "", "connection refused"); err != nil {
		t.Fatalf("FinishStep() error = %v", err)
	}

	steps, err := st.ListSteps(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListSteps() error = %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].StepNumber != 0 || steps[0].Tool != "planner" {
		t.Fatalf("step 0 = %+v", steps[0])
	}
	if steps[1].Status != StepStatusError || steps[1].Error != "connection refused" {
		t.Fatalf("step 1 = %+v", steps[1])
	}

	// The planner step is excluded from the job's step count.
	got, err := st.GetJob(ctx, job.ID, "")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.StepCount != 1 {
		t.Fatalf("step count = %d, want 1", got.StepCount)
	}
}
