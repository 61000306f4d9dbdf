package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LegacyTenant is the sentinel tenant id used when the service runs in
// single-key mode. It bypasses tenant scoping and usage tracking.
const LegacyTenant = "legacy"

// Job statuses. Forward transitions only.
const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusError   = "error"
)

// Job modes.
const (
	JobModeTool  = "tool"
	JobModeAgent = "agent"
)

// Job is one unit of asynchronous work.
type Job struct {
	ID          string
	TenantID    string
	Mode        string
	Tool        string
	Input       json.RawMessage
	Prompt      string
	Status      string
	Output      json.RawMessage
	Error       string
	PlanJSON    json.RawMessage
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMS  *int64
	StepCount   int
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	TenantID string
	Status   string
	Tool     string
	Mode     string
	Limit    int
	Offset   int
}

// JobRetention is how long jobs and their steps are kept before they
// are eligible for deletion.
const JobRetention = 24 * time.Hour

// CreateJob inserts a new queued job and returns it. Expired jobs are
// purged opportunistically first, so retention holds even when the
// background sweep is not running; a purge failure never blocks the
// insert.
func (s *Store) CreateJob(ctx context.Context, tenantID, mode, tool string, input json.RawMessage, prompt string) (Job, error) {
	if mode != JobModeTool && mode != JobModeAgent {
		return Job{}, fmt.Errorf("invalid job mode %q", mode)
	}
	_, _ = s.PurgeExpiredJobs(ctx, time.Now().UTC().Add(-JobRetention))
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	job := Job{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Mode:      mode,
		Tool:      tool,
		Input:     input,
		Prompt:    prompt,
		Status:    JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO jobs (id, tenant_id, mode, tool, input, prompt, status, created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		job.ID, nullString(tenantID), mode, nullString(tool), string(input), nullString(prompt), job.Status, job.CreatedAt)
	if err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

const jobColumns = `
j.id, j.tenant_id, j.mode, j.tool, j.input, j.prompt, j.status, j.output, j.error, j.plan_json,
j.created_at, j.started_at, j.completed_at, j.duration_ms,
(SELECT COUNT(*) FROM job_steps st WHERE st.job_id = j.id AND st.step_number > 0)`

func scanJob(row interface{ Scan(...interface{}) error }) (Job, error) {
	var (
		j                            Job
		tenant, tool, prompt, errMsg sql.NullString
		input, output, planJSON      sql.NullString
		started, completed           sql.NullTime
		duration                     sql.NullInt64
	)
	err := row.Scan(&j.ID, &tenant, &j.Mode, &tool, &input, &prompt, &j.Status, &output, &errMsg, &planJSON,
		&j.CreatedAt, &started, &completed, &duration, &j.StepCount)
	if err != nil {
		return Job{}, err
	}
	j.TenantID = tenant.String
	j.Tool = tool.String
	j.Prompt = prompt.String
	j.Error = errMsg.String
	if input.Valid {
		j.Input = json.RawMessage(input.String)
	}
	if output.Valid {
		j.Output = json.RawMessage(output.String)
	}
	if planJSON.Valid {
		j.PlanJSON = json.RawMessage(planJSON.String)
	}
	j.StartedAt = nullTime(started)
	j.CompletedAt = nullTime(completed)
	if duration.Valid {
		v := duration.Int64
		j.DurationMS = &v
	}
	return j, nil
}

// GetJob returns a job scoped to tenantID. A job owned by another
// tenant is indistinguishable from a missing one.
func (s *Store) GetJob(ctx context.Context, jobID, tenantID string) (Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	if !tenantCanSee(tenantID, job.TenantID) {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func tenantCanSee(caller, owner string) bool {
	if caller == "" || caller == LegacyTenant {
		return true
	}
	return caller == owner
}

// ListJobs returns jobs matching the filter plus the total count.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]Job, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if f.TenantID != "" && f.TenantID != LegacyTenant {
		where = append(where, "j.tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		where = append(where, "j.status = ?")
		args = append(args, f.Status)
	}
	if f.Tool != "" {
		where = append(where, "j.tool = ?")
		args = append(args, f.Tool)
	}
	if f.Mode != "" {
		where = append(where, "j.mode = ?")
		args = append(args, f.Mode)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs j WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	rows, err := s.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE `+cond+`
ORDER BY j.created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// ClaimJob transitions a queued job to running. Returns ErrConflict if
// the job was not queued, so concurrent claims resolve to one winner.
func (s *Store) ClaimJob(ctx context.Context, jobID string) error {
	return s.execConditional(ctx, `
UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		JobStatusRunning, time.Now().UTC(), jobID, JobStatusQueued)
}

// SetJobPlan records the planned steps for an agent job.
func (s *Store) SetJobPlan(ctx context.Context, jobID string, planJSON json.RawMessage) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE jobs SET plan_json = ? WHERE id = ?`, string(planJSON), jobID)
	return err
}

// CompleteJob transitions a running job to done with its final output.
func (s *Store) CompleteJob(ctx context.Context, jobID string, output json.RawMessage) error {
	now := time.Now().UTC()
	return s.execConditional(ctx, `
UPDATE jobs SET status = ?, output = ?, completed_at = ?,
duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
WHERE id = ? AND status = ?`,
		JobStatusDone, string(output), now, now, jobID, JobStatusRunning)
}

// FailJob terminates a queued or running job with an error message.
func (s *Store) FailJob(ctx context.Context, jobID, errMsg string) error {
	now := time.Now().UTC()
	return s.execConditional(ctx, `
UPDATE jobs SET status = ?, error = ?, completed_at = ?,
duration_ms = CASE WHEN started_at IS NULL THEN NULL
ELSE CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER) END
WHERE id = ? AND status IN (?, ?)`,
		JobStatusError, errMsg, now, now, jobID, JobStatusQueued, JobStatusRunning)
}

// CancelJob marks a queued or running job as cancelled (status=error,
// error="cancelled"). ErrConflict means the job was already terminal.
func (s *Store) CancelJob(ctx context.Context, jobID, tenantID string) (Job, error) {
	job, err := s.GetJob(ctx, jobID, tenantID)
	if err != nil {
		return Job{}, err
	}
	if err := s.FailJob(ctx, jobID, "cancelled"); err != nil {
		return job, err
	}
	return s.GetJob(ctx, jobID, tenantID)
}

// DeleteJob removes a job (steps cascade). Cross-tenant deletes report
// ErrNotFound.
func (s *Store) DeleteJob(ctx context.Context, jobID, tenantID string) error {
	if _, err := s.GetJob(ctx, jobID, tenantID); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

// PurgeExpiredJobs deletes jobs created before the cutoff. Steps go with
// them via ON DELETE CASCADE. Returns the number of jobs removed.
func (s *Store) PurgeExpiredJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return res.RowsAffected()
}
