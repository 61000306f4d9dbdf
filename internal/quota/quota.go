// Package quota enforces per-tenant daily usage limits on top of the
// store's atomic counters.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentgate/internal/store"
)

// Kinds of quota.
const (
	KindRequests  = "requests_per_day"
	KindToolCalls = "tool_calls_per_day"
	KindBytes     = "bytes_fetched_per_day"
)

// ExceededError reports which daily limit a tenant ran into.
type ExceededError struct {
	TenantID string
	Kind     string
	Limit    int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for tenant %s: %s limit %d", e.TenantID, e.Kind, e.Limit)
}

// IsExceeded reports whether err is a quota limit error.
func IsExceeded(err error) bool {
	var e *ExceededError
	return errors.As(err, &e)
}

// Tracker charges usage against tenant limits. The legacy tenant is
// never tracked or limited.
type Tracker struct {
	store *store.Store
	now   func() time.Time
}

func NewTracker(st *store.Store) *Tracker {
	return &Tracker{store: st, now: time.Now}
}

func (t *Tracker) tracked(tenantID string) bool {
	return tenantID != "" && tenantID != store.LegacyTenant
}

func (t *Tracker) day() string { return store.UsageDayKey(t.now()) }

// AdmitRequest consumes one unit of the tenant's daily request quota.
func (t *Tracker) AdmitRequest(ctx context.Context, tenantID string) error {
	if !t.tracked(tenantID) {
		return nil
	}
	tenant, err := t.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	err = t.store.IncrementRequests(ctx, tenantID, t.day(), tenant.MaxRequestsPerDay)
	if errors.Is(err, store.ErrConflict) {
		return &ExceededError{TenantID: tenantID, Kind: KindRequests, Limit: tenant.MaxRequestsPerDay}
	}
	return err
}

// AdmitToolCall consumes one unit of the tenant's daily tool-call
// quota and records the per-tool breakdown.
func (t *Tracker) AdmitToolCall(ctx context.Context, tenantID, tool string) error {
	if !t.tracked(tenantID) {
		return nil
	}
	tenant, err := t.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	err = t.store.IncrementToolCalls(ctx, tenantID, t.day(), tenant.MaxToolCallsPerDay)
	if errors.Is(err, store.ErrConflict) {
		return &ExceededError{TenantID: tenantID, Kind: KindToolCalls, Limit: tenant.MaxToolCallsPerDay}
	}
	if err != nil {
		return err
	}
	return t.store.RecordToolUsage(ctx, tenantID, t.day(), tool, 0)
}

// Reservation is a byte-quota hold that must be settled with the
// actual byte count once the fetch completes.
type Reservation struct {
	tracker  *Tracker
	tenantID string
	day      string
	estimate int64
	settled  bool
}

// ReserveBytes charges an estimated byte cost up front. Settle with
// the actual count afterwards; the difference is refunded or charged.
func (t *Tracker) ReserveBytes(ctx context.Context, tenantID string, estimate int64) (*Reservation, error) {
	if !t.tracked(tenantID) {
		return &Reservation{settled: true}, nil
	}
	tenant, err := t.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	day := t.day()
	err = t.store.ReserveBytes(ctx, tenantID, day, estimate, tenant.MaxBytesFetchedPerDay)
	if errors.Is(err, store.ErrConflict) {
		return nil, &ExceededError{TenantID: tenantID, Kind: KindBytes, Limit: tenant.MaxBytesFetchedPerDay}
	}
	if err != nil {
		return nil, err
	}
	return &Reservation{tracker: t, tenantID: tenantID, day: day, estimate: estimate}, nil
}

// Settle replaces the reservation's estimate with the actual bytes
// fetched and updates the per-tool breakdown. Settling twice is a
// no-op.
func (r *Reservation) Settle(ctx context.Context, tool string, actual int64) error {
	if r.settled {
		return nil
	}
	r.settled = true
	if err := r.tracker.store.SettleBytes(ctx, r.tenantID, r.day, r.estimate, actual); err != nil {
		return err
	}
	if actual > 0 {
		return r.tracker.store.AddToolBytes(ctx, r.tenantID, r.day, tool, actual)
	}
	return nil
}

// Usage returns a tenant's counters and per-tool breakdown for today.
func (t *Tracker) Usage(ctx context.Context, tenantID string) (store.UsageDay, []store.ToolUsage, error) {
	day := t.day()
	u, err := t.store.GetUsage(ctx, tenantID, day)
	if err != nil {
		return u, nil, err
	}
	tools, err := t.store.GetToolUsage(ctx, tenantID, day)
	return u, tools, err
}
