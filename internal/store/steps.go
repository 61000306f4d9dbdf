package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Step statuses.
const (
	StepStatusPending = "pending"
	StepStatusRunning = "running"
	StepStatusDone    = "done"
	StepStatusError   = "error"
	StepStatusSkipped = "skipped"
)

// JobStep is one recorded step of an agent job. Step number 0 is the
// planning step; tool steps count from 1.
type JobStep struct {
	ID            string
	JobID         string
	StepNumber    int
	Tool          string
	InputSummary  string
	Status        string
	OutputSummary string
	Error         string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	DurationMS    *int64
}

// CreateStep inserts a pending step for a job and returns its id.
func (s *Store) CreateStep(ctx context.Context, jobID string, number int, tool, inputSummary string) (string, error) {
	id := uuid.New().String()
	if inputSummary == "" {
		inputSummary = "{}"
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO job_steps (id, job_id, step_number, tool, input_summary, status, created_at)
VALUES (?,?,?,?,?,?,?)`, id, jobID, number, tool, inputSummary, StepStatusPending, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert step: %w", err)
	}
	return id, nil
}

// StartStep marks a pending step running.
func (s *Store) StartStep(ctx context.Context, stepID string) error {
	return s.execConditional(ctx, `
UPDATE job_steps SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		StepStatusRunning, time.Now().UTC(), stepID, StepStatusPending)
}

// FinishStep records the terminal state of a step. status must be one
// of done, error or skipped.
func (s *Store) FinishStep(ctx context.Context, stepID, status, outputSummary, errMsg string) error {
	switch status {
	case StepStatusDone, StepStatusError, StepStatusSkipped:
	default:
		return fmt.Errorf("invalid terminal step status %q", status)
	}
	now := time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `
UPDATE job_steps SET status = ?, output_summary = ?, error = ?, completed_at = ?,
duration_ms = CASE WHEN started_at IS NULL THEN NULL
ELSE CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER) END
WHERE id = ?`,
		status, nullString(outputSummary), nullString(errMsg), now, now, stepID)
	return err
}

// ListSteps returns all steps of a job ordered by step number.
func (s *Store) ListSteps(ctx context.Context, jobID string) ([]JobStep, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, job_id, step_number, tool, input_summary, status, output_summary, error, created_at, started_at, completed_at, duration_ms
FROM job_steps WHERE job_id = ? ORDER BY step_number ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []JobStep
	for rows.Next() {
		var (
			st                 JobStep
			output, eMsg       sql.NullString
			started, completed sql.NullTime
			duration           sql.NullInt64
		)
		if err := rows.Scan(&st.ID, &st.JobID, &st.StepNumber, &st.Tool, &st.InputSummary, &st.Status,
			&output, &eMsg, &st.CreatedAt, &started, &completed, &duration); err != nil {
			return nil, err
		}
		st.OutputSummary = output.String
		st.Error = eMsg.String
		st.StartedAt = nullTime(started)
		st.CompletedAt = nullTime(completed)
		if duration.Valid {
			v := duration.Int64
			st.DurationMS = &v
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}
