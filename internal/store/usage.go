package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UsageDay is one tenant's counters for one UTC day.
type UsageDay struct {
	TenantID     string
	Day          string
	Requests     int64
	ToolCalls    int64
	BytesFetched int64
}

// ToolUsage is one tenant's per-tool counters for one UTC day.
type ToolUsage struct {
	Tool  string
	Calls int64
	Bytes int64
}

// UsageDayKey formats t as the usage_daily day column.
func UsageDayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (s *Store) ensureUsageRow(ctx context.Context, tenantID, day string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT OR IGNORE INTO usage_daily (tenant_id, day, requests_total, tool_calls_total, bytes_fetched_total)
VALUES (?,?,0,0,0)`, tenantID, day)
	return err
}

// IncrementRequests admits one request against the tenant's daily
// request limit. ErrConflict means the limit is exhausted; the counter
// is untouched in that case.
func (s *Store) IncrementRequests(ctx context.Context, tenantID, day string, limit int64) error {
	if err := s.ensureUsageRow(ctx, tenantID, day); err != nil {
		return err
	}
	return s.execConditional(ctx, `
UPDATE usage_daily SET requests_total = requests_total + 1
WHERE tenant_id = ? AND day = ? AND requests_total < ?`, tenantID, day, limit)
}

// IncrementToolCalls admits one tool invocation against the daily
// tool-call limit.
func (s *Store) IncrementToolCalls(ctx context.Context, tenantID, day string, limit int64) error {
	if err := s.ensureUsageRow(ctx, tenantID, day); err != nil {
		return err
	}
	return s.execConditional(ctx, `
UPDATE usage_daily SET tool_calls_total = tool_calls_total + 1
WHERE tenant_id = ? AND day = ? AND tool_calls_total < ?`, tenantID, day, limit)
}

// ReserveBytes charges an estimated byte cost before a fetch runs.
// ErrConflict means the reservation would exceed the daily byte limit.
func (s *Store) ReserveBytes(ctx context.Context, tenantID, day string, estimate, limit int64) error {
	if err := s.ensureUsageRow(ctx, tenantID, day); err != nil {
		return err
	}
	return s.execConditional(ctx, `
UPDATE usage_daily SET bytes_fetched_total = bytes_fetched_total + ?
WHERE tenant_id = ? AND day = ? AND bytes_fetched_total + ? <= ?`,
		estimate, tenantID, day, estimate, limit)
}

// SettleBytes replaces a reservation's estimate with the actual byte
// count once the fetch finishes. The counter never drops below zero.
func (s *Store) SettleBytes(ctx context.Context, tenantID, day string, estimate, actual int64) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE usage_daily SET bytes_fetched_total = MAX(0, bytes_fetched_total + ?)
WHERE tenant_id = ? AND day = ?`, actual-estimate, tenantID, day)
	return err
}

// RecordToolUsage bumps the per-tool breakdown counters.
func (s *Store) RecordToolUsage(ctx context.Context, tenantID, day, tool string, bytes int64) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO usage_tool_daily (tenant_id, day, tool, calls, bytes)
VALUES (?,?,?,1,?)
ON CONFLICT(tenant_id, day, tool) DO UPDATE SET calls = calls + 1, bytes = bytes + excluded.bytes`,
		tenantID, day, tool, bytes)
	return err
}

// AddToolBytes folds fetched bytes into the per-tool breakdown without
// touching the call counter.
func (s *Store) AddToolBytes(ctx context.Context, tenantID, day, tool string, bytes int64) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO usage_tool_daily (tenant_id, day, tool, calls, bytes)
VALUES (?,?,?,0,?)
ON CONFLICT(tenant_id, day, tool) DO UPDATE SET bytes = bytes + excluded.bytes`,
		tenantID, day, tool, bytes)
	return err
}

// GetUsage returns the counters for one tenant and day. A missing row
// reads as all zeros.
func (s *Store) GetUsage(ctx context.Context, tenantID, day string) (UsageDay, error) {
	u := UsageDay{TenantID: tenantID, Day: day}
	err := s.DB.QueryRowContext(ctx, `
SELECT requests_total, tool_calls_total, bytes_fetched_total FROM usage_daily WHERE tenant_id = ? AND day = ?`,
		tenantID, day).Scan(&u.Requests, &u.ToolCalls, &u.BytesFetched)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return u, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

// GetToolUsage returns the per-tool breakdown for one tenant and day.
func (s *Store) GetToolUsage(ctx context.Context, tenantID, day string) ([]ToolUsage, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT tool, calls, bytes FROM usage_tool_daily WHERE tenant_id = ? AND day = ? ORDER BY tool`,
		tenantID, day)
	if err != nil {
		return nil, fmt.Errorf("get tool usage: %w", err)
	}
	defer rows.Close()

	var out []ToolUsage
	for rows.Next() {
		var tu ToolUsage
		if err := rows.Scan(&tu.Tool, &tu.Calls, &tu.Bytes); err != nil {
			return nil, err
		}
		out = append(out, tu)
	}
	return out, rows.Err()
}

// GetUsageHistory returns a tenant's daily counters for days on or
// after since, newest first. Days with no activity have no row.
func (s *Store) GetUsageHistory(ctx context.Context, tenantID, since string) ([]UsageDay, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT day, requests_total, tool_calls_total, bytes_fetched_total
FROM usage_daily WHERE tenant_id = ? AND day >= ? ORDER BY day DESC`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}
	defer rows.Close()

	var out []UsageDay
	for rows.Next() {
		u := UsageDay{TenantID: tenantID}
		if err := rows.Scan(&u.Day, &u.Requests, &u.ToolCalls, &u.BytesFetched); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
