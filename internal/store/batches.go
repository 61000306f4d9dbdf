package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Batch statuses.
const (
	BatchStatusDraft     = "draft"
	BatchStatusPending   = "pending"
	BatchStatusApproved  = "approved"
	BatchStatusRejected  = "rejected"
	BatchStatusExecuting = "executing"
	BatchStatusExecuted  = "executed"
	BatchStatusFailed    = "failed"
)

// Action risk levels.
const (
	RiskSafe   = "safe"
	RiskMedium = "medium"
	RiskRisky  = "risky"
)

// Audit event types, in the order a batch normally emits them.
const (
	AuditCreated        = "created"
	AuditSubmitted      = "submitted"
	AuditApproved       = "approved"
	AuditRejected       = "rejected"
	AuditRunRequested   = "run_requested"
	AuditActionStarted  = "action_started"
	AuditActionFinished = "action_finished"
	AuditBatchFinished  = "batch_finished"
	AuditBatchFailed    = "batch_failed"
)

// Batch is a reviewable group of proposed actions.
type Batch struct {
	ID               string
	TenantID         string
	Title            string
	Description      string
	CreatedBy        string
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ApprovedAt       *time.Time
	ApprovedBy       string
	ExecutedAt       *time.Time
	ExecutionSummary json.RawMessage
	Actions          []Action
	RiskSummary      map[string]int
}

// Action is one proposed operation inside a batch.
type Action struct {
	ID            string
	BatchID       string
	Seq           int
	Kind          string
	Risk          string
	Payload       json.RawMessage
	PreviewText   string
	Status        string
	OutputSummary string
	Error         string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// AuditEvent is one append-only audit log entry.
type AuditEvent struct {
	ID        int64
	TS        time.Time
	Actor     string
	EventType string
	BatchID   string
	ActionID  string
	Message   string
	Data      json.RawMessage
}

// CreateBatch inserts a draft batch and its "created" audit event.
func (s *Store) CreateBatch(ctx context.Context, tenantID, title, description, createdBy string) (Batch, error) {
	if createdBy == "" {
		createdBy = "agent"
	}
	b := Batch{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Title:       title,
		Description: description,
		CreatedBy:   createdBy,
		Status:      BatchStatusDraft,
		CreatedAt:   time.Now().UTC(),
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Batch{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO action_batches (id, tenant_id, title, description, created_by, status, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, nullString(tenantID), b.Title, nullString(description), b.CreatedBy, b.Status, b.CreatedAt, b.CreatedAt)
	if err != nil {
		return Batch{}, fmt.Errorf("insert batch: %w", err)
	}
	if err := appendAuditTx(ctx, tx, createdBy, AuditCreated, b.ID, "", "batch created", nil); err != nil {
		return Batch{}, err
	}
	return b, tx.Commit()
}

// AddAction appends an action to a draft batch. Once the batch leaves
// draft its contents are frozen, so a non-draft batch is a conflict.
func (s *Store) AddAction(ctx context.Context, batchID, kind, risk string, payload json.RawMessage, preview string) (Action, error) {
	switch risk {
	case RiskSafe, RiskMedium, RiskRisky:
	case "":
		risk = RiskSafe
	default:
		return Action{}, fmt.Errorf("invalid risk level %q", risk)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Action{}, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM action_batches WHERE id = ?`, batchID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return Action{}, ErrNotFound
	}
	if err != nil {
		return Action{}, fmt.Errorf("load batch: %w", err)
	}
	if status != BatchStatusDraft {
		return Action{}, ErrConflict
	}

	a := Action{
		ID:          uuid.New().String(),
		BatchID:     batchID,
		Kind:        kind,
		Risk:        risk,
		Payload:     payload,
		PreviewText: preview,
		Status:      StepStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM batch_actions WHERE batch_id = ?`, batchID).Scan(&a.Seq)
	if err != nil {
		return Action{}, fmt.Errorf("next seq: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO batch_actions (id, batch_id, seq, kind, risk, payload, preview_text, status, created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.BatchID, a.Seq, a.Kind, a.Risk, string(payload), preview, a.Status, a.CreatedAt)
	if err != nil {
		return Action{}, fmt.Errorf("insert action: %w", err)
	}
	return a, tx.Commit()
}

// GetBatch loads a batch with its actions and per-risk counts, scoped
// to the tenant.
func (s *Store) GetBatch(ctx context.Context, batchID, tenantID string) (Batch, error) {
	var (
		b                  Batch
		tenant, desc       sql.NullString
		approvedBy         sql.NullString
		summary            sql.NullString
		approved, executed sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, tenant_id, title, description, created_by, status, created_at, updated_at, approved_at, approved_by, executed_at, execution_summary
FROM action_batches WHERE id = ?`, batchID).
		Scan(&b.ID, &tenant, &b.Title, &desc, &b.CreatedBy, &b.Status, &b.CreatedAt, &b.UpdatedAt, &approved, &approvedBy, &executed, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, fmt.Errorf("get batch: %w", err)
	}
	b.TenantID = tenant.String
	b.Description = desc.String
	b.ApprovedBy = approvedBy.String
	b.ApprovedAt = nullTime(approved)
	b.ExecutedAt = nullTime(executed)
	if summary.Valid {
		b.ExecutionSummary = json.RawMessage(summary.String)
	}
	if !tenantCanSee(tenantID, b.TenantID) {
		return Batch{}, ErrNotFound
	}

	b.Actions, err = s.listActions(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	b.RiskSummary = map[string]int{RiskSafe: 0, RiskMedium: 0, RiskRisky: 0}
	for _, a := range b.Actions {
		b.RiskSummary[a.Risk]++
	}
	return b, nil
}

func (s *Store) listActions(ctx context.Context, batchID string) ([]Action, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, batch_id, seq, kind, risk, payload, preview_text, status, output_summary, error, created_at, started_at, completed_at
FROM batch_actions WHERE batch_id = ? ORDER BY seq ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var (
			a                  Action
			payload            string
			output, eMsg       sql.NullString
			started, completed sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.BatchID, &a.Seq, &a.Kind, &a.Risk, &payload, &a.PreviewText, &a.Status,
			&output, &eMsg, &a.CreatedAt, &started, &completed); err != nil {
			return nil, err
		}
		a.Payload = json.RawMessage(payload)
		a.OutputSummary = output.String
		a.Error = eMsg.String
		a.StartedAt = nullTime(started)
		a.CompletedAt = nullTime(completed)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// BatchFilter narrows ListBatches results.
type BatchFilter struct {
	TenantID string
	Status   string
	Limit    int
	Offset   int
}

// ListBatches returns batch headers (no actions) matching the filter.
func (s *Store) ListBatches(ctx context.Context, f BatchFilter) ([]Batch, error) {
	query := `
SELECT id, tenant_id, title, description, created_by, status, created_at, updated_at, approved_at, approved_by, executed_at
FROM action_batches WHERE 1=1`
	args := []interface{}{}
	if f.TenantID != "" && f.TenantID != LegacyTenant {
		query += ` AND tenant_id = ?`
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var (
			b                        Batch
			tenant, desc, approvedBy sql.NullString
			approved, executed       sql.NullTime
		)
		if err := rows.Scan(&b.ID, &tenant, &b.Title, &desc, &b.CreatedBy, &b.Status, &b.CreatedAt, &b.UpdatedAt, &approved, &approvedBy, &executed); err != nil {
			return nil, err
		}
		b.TenantID = tenant.String
		b.Description = desc.String
		b.ApprovedBy = approvedBy.String
		b.ApprovedAt = nullTime(approved)
		b.ExecutedAt = nullTime(executed)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// SubmitBatch moves a draft batch with at least one action to pending.
func (s *Store) SubmitBatch(ctx context.Context, batchID, actor string) error {
	return s.transitionBatch(ctx, batchID, actor, AuditSubmitted, "batch submitted for review", `
UPDATE action_batches SET status = ?, updated_at = ? WHERE id = ? AND status = ?
AND EXISTS (SELECT 1 FROM batch_actions WHERE batch_id = ?)`,
		BatchStatusPending, time.Now().UTC(), batchID, BatchStatusDraft, batchID)
}

// ApproveBatch moves a pending batch to approved and records who
// approved it.
func (s *Store) ApproveBatch(ctx context.Context, batchID, actor string) error {
	now := time.Now().UTC()
	return s.transitionBatch(ctx, batchID, actor, AuditApproved, "batch approved", `
UPDATE action_batches SET status = ?, approved_at = ?, approved_by = ?, updated_at = ? WHERE id = ? AND status = ?`,
		BatchStatusApproved, now, actor, now, batchID, BatchStatusPending)
}

// RejectBatch moves a pending batch to rejected. Rejected is terminal.
func (s *Store) RejectBatch(ctx context.Context, batchID, actor, reason string) error {
	msg := "batch rejected"
	if reason != "" {
		msg = "batch rejected: " + reason
	}
	return s.transitionBatch(ctx, batchID, actor, AuditRejected, msg, `
UPDATE action_batches SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		BatchStatusRejected, time.Now().UTC(), batchID, BatchStatusPending)
}

// MarkBatchExecuting is the run gate: exactly one caller wins the
// approved to executing transition, every other attempt conflicts.
func (s *Store) MarkBatchExecuting(ctx context.Context, batchID, actor string) error {
	return s.transitionBatch(ctx, batchID, actor, AuditRunRequested, "execution started", `
UPDATE action_batches SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		BatchStatusExecuting, time.Now().UTC(), batchID, BatchStatusApproved)
}

// FinishBatch records the terminal result of an execution run.
func (s *Store) FinishBatch(ctx context.Context, batchID, actor string, failed bool, summary json.RawMessage) error {
	status, event, msg := BatchStatusExecuted, AuditBatchFinished, "batch executed"
	if failed {
		status, event, msg = BatchStatusFailed, AuditBatchFailed, "batch failed"
	}
	now := time.Now().UTC()
	return s.transitionBatch(ctx, batchID, actor, event, msg, `
UPDATE action_batches SET status = ?, executed_at = ?, execution_summary = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, now, string(summary), now, batchID, BatchStatusExecuting)
}

// transitionBatch applies a guarded status update and its audit event
// in one transaction. ErrConflict means the guard did not match;
// callers distinguish a missing batch themselves.
func (s *Store) transitionBatch(ctx context.Context, batchID, actor, event, msg, query string, args ...interface{}) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM action_batches WHERE id = ?`, batchID).Scan(&exists); errors.Is(scanErr, sql.ErrNoRows) {
			return ErrNotFound
		}
		return ErrConflict
	}
	if err := appendAuditTx(ctx, tx, actor, event, batchID, "", msg, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// StartAction marks a pending action running and audits it.
func (s *Store) StartAction(ctx context.Context, a Action, actor string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE batch_actions SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		StepStatusRunning, time.Now().UTC(), a.ID, StepStatusPending)
	if err != nil {
		return fmt.Errorf("start action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	msg := fmt.Sprintf("action %d (%s) started", a.Seq, a.Kind)
	if err := appendAuditTx(ctx, tx, actor, AuditActionStarted, a.BatchID, a.ID, msg, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// FinishAction records an action's terminal state (done, error or
// skipped) and audits it.
func (s *Store) FinishAction(ctx context.Context, a Action, actor, status, outputSummary, errMsg string, data json.RawMessage) error {
	switch status {
	case StepStatusDone, StepStatusError, StepStatusSkipped:
	default:
		return fmt.Errorf("invalid terminal action status %q", status)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
UPDATE batch_actions SET status = ?, output_summary = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, nullString(outputSummary), nullString(errMsg), time.Now().UTC(), a.ID)
	if err != nil {
		return fmt.Errorf("finish action: %w", err)
	}
	msg := fmt.Sprintf("action %d (%s) %s", a.Seq, a.Kind, status)
	if errMsg != "" {
		msg += ": " + errMsg
	}
	if err := appendAuditTx(ctx, tx, actor, AuditActionFinished, a.BatchID, a.ID, msg, data); err != nil {
		return err
	}
	return tx.Commit()
}

// SkipPendingActions marks every still-pending action in a batch as
// skipped. Used after a fail-fast stop so later actions never run.
func (s *Store) SkipPendingActions(ctx context.Context, batchID string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE batch_actions SET status = ?, completed_at = ? WHERE batch_id = ? AND status = ?`,
		StepStatusSkipped, time.Now().UTC(), batchID, StepStatusPending)
	return err
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, actor, event, batchID, actionID, msg string, data json.RawMessage) error {
	var dataArg interface{}
	if len(data) > 0 {
		dataArg = string(data)
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO audit_log (ts, actor, event_type, batch_id, action_id, message, data)
VALUES (?,?,?,?,?,?,?)`,
		time.Now().UTC(), actor, event, batchID, nullString(actionID), msg, dataArg)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// DeleteBatch removes a draft or rejected batch. Actions and audit
// entries cascade. A batch in any other status is a conflict.
func (s *Store) DeleteBatch(ctx context.Context, batchID, tenantID string) error {
	if _, err := s.GetBatch(ctx, batchID, tenantID); err != nil {
		return err
	}
	return s.execConditional(ctx, `
DELETE FROM action_batches WHERE id = ? AND status IN (?, ?)`,
		batchID, BatchStatusDraft, BatchStatusRejected)
}

// AuditFilter narrows ListAuditLogs results.
type AuditFilter struct {
	BatchID   string
	EventType string
	Limit     int
}

// ListAudit returns a batch's audit trail in append order.
func (s *Store) ListAudit(ctx context.Context, batchID string) ([]AuditEvent, error) {
	return s.queryAudit(ctx, `
SELECT id, ts, actor, event_type, batch_id, action_id, message, data
FROM audit_log WHERE batch_id = ? ORDER BY id ASC`, batchID)
}

// ListAuditLogs returns recent audit entries across batches, newest
// first.
func (s *Store) ListAuditLogs(ctx context.Context, f AuditFilter) ([]AuditEvent, error) {
	query := `
SELECT id, ts, actor, event_type, batch_id, action_id, message, data
FROM audit_log WHERE 1=1`
	args := []interface{}{}
	if f.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, f.BatchID)
	}
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryAudit(ctx, query, args...)
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...interface{}) ([]AuditEvent, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			e              AuditEvent
			actionID, data sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Actor, &e.EventType, &e.BatchID, &actionID, &e.Message, &data); err != nil {
			return nil, err
		}
		e.ActionID = actionID.String
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
