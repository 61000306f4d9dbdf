package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustCreateBatch(t *testing.T, st *Store, actions int) Batch {
	t.Helper()
	ctx := context.Background()
	b, err := st.CreateBatch(ctx, "", "deploy notes", "release prep", "agent")
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	for i := 0; i < actions; i++ {
		if _, err := st.AddAction(ctx, b.ID, "note", RiskSafe, json.RawMessage(`{"note":"hello"}`), "record a note"); err != nil {
			t.Fatalf("AddAction() error = %v", err)
		}
	}
	return b
}

func TestBatchLifecycle(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	b := mustCreateBatch(t, st, 2)

	if err := st.SubmitBatch(ctx, b.ID, "agent"); err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if err := st.ApproveBatch(ctx, b.ID, "admin"); err != nil {
		t.Fatalf("ApproveBatch() error = %v", err)
	}
	if err := st.MarkBatchExecuting(ctx, b.ID, "admin"); err != nil {
		t.Fatalf("MarkBatchExecuting() error = %v", err)
	}
	if err := st.FinishBatch(ctx, b.ID, "system", false, json.RawMessage(`{"message":"ok"}`)); err != nil {
		t.Fatalf("FinishBatch() error = %v", err)
	}

	got, err := st.GetBatch(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if got.Status != BatchStatusExecuted {
		t.Fatalf("status = %q, want %q", got.Status, BatchStatusExecuted)
	}
	if got.ApprovedAt == nil || got.ExecutedAt == nil {
		t.Fatalf("approved_at/executed_at not set: %+v", got)
	}
	if got.RiskSummary[RiskSafe] != 2 {
		t.Fatalf("risk summary = %v, want 2 safe", got.RiskSummary)
	}
}

func TestApprovalGateSingleWinner(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	b := mustCreateBatch(t, st, 1)
	if err := st.SubmitBatch(ctx, b.ID, "agent"); err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if err := st.ApproveBatch(ctx, b.ID, "admin"); err != nil {
		t.Fatalf("ApproveBatch() error = %v", err)
	}

	if err := st.MarkBatchExecuting(ctx, b.ID, "admin"); err != nil {
		t.Fatalf("first run request error = %v", err)
	}
	// The gate admits exactly one run request.
	if err := st.MarkBatchExecuting(ctx, b.ID, "admin"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second run request error = %v, want ErrConflict", err)
	}
}

func TestRunRequiresApproval(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	b := mustCreateBatch(t, st, 1)
	if err := st.MarkBatchExecuting(ctx, b.ID, "admin"); !errors.Is(err, ErrConflict) {
		t.Fatalf("run on draft error = %v, want ErrConflict", err)
	}
	if err := st.SubmitBatch(ctx, b.ID, "agent"); err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if err := st.MarkBatchExecuting(ctx, b.ID, "admin"); !errors.Is(err, ErrConflict) {
		t.Fatalf("run on pending error = %v, want ErrConflict", err)
	}
}

func TestSubmitEmptyBatch(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	b := mustCreateBatch(t, st, 0)
	if err := st.SubmitBatch(ctx, b.ID, "agent"); !errors.Is(err, ErrConflict) {
		t.Fatalf("submit empty batch error = %v, want ErrConflict", err)
	}
}

func TestAddActionFrozenAfterSubmit(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	b := mustCreateBatch(t, st, 1)
	if err := st.SubmitBatch(ctx, b.ID, "agent"); err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if _, err := st.AddAction(ctx, b.ID, "note", RiskSafe, nil, "late addition"); !errors.Is(err, ErrConflict) {
		t.Fatalf("AddAction() after submit error = %v, want ErrConflict", err)
	}
}

func TestRejectBatch(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	b := mustCreateBatch(t, st, 1)
	if err := st.SubmitBatch(ctx, b.ID, "agent"); err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if err := st.RejectBatch(ctx, b.ID, "admin", "too risky"); err != nil {
		t.Fatalf("RejectBatch() error = %v", err)
	}
	got, err := st.GetBatch(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if got.Status != BatchStatusRejected {
		t.Fatalf("status = %q, want rejected", got.Status)
	}
	// Rejected batches never run.
	if err := st.MarkBatchExecuting(ctx, b.ID, "admin"); !errors.Is(err, ErrConflict) {
		t.Fatalf("run after reject error = %v, want ErrConflict", err)
	}
}

func TestSkipPendingActions(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	b := mustCreateBatch(t, st, 3)
	got, err := st.GetBatch(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	first := got.Actions[0]
	if err := st.StartAction(ctx, first, "system"); err != nil {
		t.Fatalf("StartAction() error = %v", err)
	}
	if err := st.FinishAction(ctx, first, "system", StepStatusError, "", "boom", nil); err != nil {
		t.Fatalf("FinishAction() error = %v", err)
	}
	if err := st.SkipPendingActions(ctx, b.ID); err != nil {
		t.Fatalf("SkipPendingActions() error = %v", err)
	}

	got, err = st.GetBatch(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if got.Actions[0].Status != StepStatusError {
		t.Fatalf("first action status = %q, want error", got.Actions[0].Status)
	}
	for _, a := range got.Actions[1:] {
		if a.Status != StepStatusSkipped {
			t.Fatalf("action seq %d status = %q, want skipped", a.Seq, a.Status)
		}
	}
}

func TestAuditTrailOrder(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	b := mustCreateBatch(t, st, 1)
	if err := st.SubmitBatch(ctx, b.ID, "agent"); err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if err := st.ApproveBatch(ctx, b.ID, "admin"); err != nil {
		t.Fatalf("ApproveBatch() error = %v", err)
	}
	if err := st.MarkBatchExecuting(ctx, b.ID, "admin"); err != nil {
		t.Fatalf("MarkBatchExecuting() error = %v", err)
	}
	got, err := st.GetBatch(ctx, b.ID, "")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	a := got.Actions[0]
	if err := st.StartAction(ctx, a, "system"); err != nil {
		t.Fatalf("StartAction() error = %v", err)
	}
	if err := st.FinishAction(ctx, a, "system", StepStatusDone, "Note recorded", "", nil); err != nil {
		t.Fatalf("FinishAction() error = %v", err)
	}
	if err := st.FinishBatch(ctx, b.ID, "system", false, json.RawMessage(`{"message":"ok"}`)); err != nil {
		t.Fatalf("FinishBatch() error = %v", err)
	}

	events, err := st.ListAudit(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListAudit() error = %v", err)
	}
	want := []string{
		AuditCreated, AuditSubmitted, AuditApproved, AuditRunRequested,
		AuditActionStarted, AuditActionFinished, AuditBatchFinished,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d audit events, want %d: %+v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.EventType != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, ev.EventType, want[i])
		}
	}
}

func TestDeleteBatchOnlyDraftOrRejected(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	b := mustCreateBatch(t, st, 1)
	if err := st.SubmitBatch(ctx, b.ID, "agent"); err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if err := st.DeleteBatch(ctx, b.ID, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete pending batch error = %v, want ErrConflict", err)
	}
	if err := st.RejectBatch(ctx, b.ID, "admin", ""); err != nil {
		t.Fatalf("RejectBatch() error = %v", err)
	}
	if err := st.DeleteBatch(ctx, b.ID, ""); err != nil {
		t.Fatalf("delete rejected batch error = %v", err)
	}
	if _, err := st.GetBatch(ctx, b.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetBatch() after delete error = %v, want ErrNotFound", err)
	}
}

func TestBatchTenantIsolation(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	ta, err := st.CreateTenant(ctx, "team-a", 100, 100, 1000)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	tb, err := st.CreateTenant(ctx, "team-b", 100, 100, 1000)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}

	b, err := st.CreateBatch(ctx, ta.ID, "a's batch", "", "agent")
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if _, err := st.GetBatch(ctx, b.ID, tb.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant GetBatch() error = %v, want ErrNotFound", err)
	}
	if _, err := st.GetBatch(ctx, b.ID, ta.ID); err != nil {
		t.Fatalf("owner GetBatch() error = %v", err)
	}
	// The legacy caller sees every batch.
	if _, err := st.GetBatch(ctx, b.ID, LegacyTenant); err != nil {
		t.Fatalf("legacy GetBatch() error = %v", err)
	}
}
