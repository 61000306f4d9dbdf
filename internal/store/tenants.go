package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated consumer of the service with its own quotas.
type Tenant struct {
	ID                    string
	Name                  string
	MaxRequestsPerDay     int64
	MaxToolCallsPerDay    int64
	MaxBytesFetchedPerDay int64
	CreatedAt             time.Time
}

// APIKey is a credential bound to a tenant. Only the HMAC hash of the
// raw key is stored.
type APIKey struct {
	ID         string
	TenantID   string
	KeyHash    string
	KeyPrefix  string
	Label      string
	Status     string
	CreatedAt  time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// API key statuses.
const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
)

// CreateTenant inserts a new tenant. Zero quota values fall back to the
// provided defaults.
func (s *Store) CreateTenant(ctx context.Context, name string, maxRequests, maxToolCalls, maxBytes int64) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, errors.New("tenant name required")
	}
	t := Tenant{
		ID:                    uuid.New().String(),
		Name:                  name,
		MaxRequestsPerDay:     maxRequests,
		MaxToolCallsPerDay:    maxToolCalls,
		MaxBytesFetchedPerDay: maxBytes,
		CreatedAt:             time.Now().UTC(),
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO tenants (id, name, max_requests_per_day, max_tool_calls_per_day, max_bytes_fetched_per_day, created_at)
VALUES (?,?,?,?,?,?)`,
		t.ID, t.Name, t.MaxRequestsPerDay, t.MaxToolCallsPerDay, t.MaxBytesFetchedPerDay, t.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return Tenant{}, fmt.Errorf("tenant %q already exists: %w", name, ErrConflict)
		}
		return Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	return t, nil
}

// GetTenant looks a tenant up by id.
func (s *Store) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, max_requests_per_day, max_tool_calls_per_day, max_bytes_fetched_per_day, created_at
FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.MaxRequestsPerDay, &t.MaxToolCallsPerDay, &t.MaxBytesFetchedPerDay, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// ListTenants returns all tenants ordered by creation time.
func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, name, max_requests_per_day, max_tool_calls_per_day, max_bytes_fetched_per_day, created_at
FROM tenants ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.MaxRequestsPerDay, &t.MaxToolCallsPerDay, &t.MaxBytesFetchedPerDay, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// UpdateTenantQuotas overwrites a tenant's daily limits.
func (s *Store) UpdateTenantQuotas(ctx context.Context, id string, maxRequests, maxToolCalls, maxBytes int64) error {
	return s.execConditionalNotFound(ctx, `
UPDATE tenants SET max_requests_per_day = ?, max_tool_calls_per_day = ?, max_bytes_fetched_per_day = ?
WHERE id = ?`, maxRequests, maxToolCalls, maxBytes, id)
}

// InsertAPIKey stores a hashed key for a tenant.
func (s *Store) InsertAPIKey(ctx context.Context, tenantID, keyHash, keyPrefix, label string) (APIKey, error) {
	k := APIKey{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		Label:     label,
		Status:    KeyStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO api_keys (id, tenant_id, key_hash, key_prefix, label, status, created_at)
VALUES (?,?,?,?,?,?,?)`,
		k.ID, k.TenantID, k.KeyHash, k.KeyPrefix, nullString(label), k.Status, k.CreatedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return k, nil
}

// LookupActiveKeyByHash resolves a key hash to its record, active keys
// only.
func (s *Store) LookupActiveKeyByHash(ctx context.Context, keyHash string) (APIKey, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, tenant_id, key_hash, key_prefix, label, status, created_at, revoked_at, last_used_at
FROM api_keys WHERE key_hash = ? AND status = ?`, keyHash, KeyStatusActive)
	return scanKey(row)
}

// GetAPIKey loads a key by id.
func (s *Store) GetAPIKey(ctx context.Context, keyID string) (APIKey, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, tenant_id, key_hash, key_prefix, label, status, created_at, revoked_at, last_used_at
FROM api_keys WHERE id = ?`, keyID)
	return scanKey(row)
}

// ListAPIKeys returns a tenant's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]APIKey, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, tenant_id, key_hash, key_prefix, label, status, created_at, revoked_at, last_used_at
FROM api_keys WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks an active key revoked. Revoking twice is a
// conflict.
func (s *Store) RevokeAPIKey(ctx context.Context, keyID, tenantID string) error {
	err := s.execConditional(ctx, `
UPDATE api_keys SET status = ?, revoked_at = ? WHERE id = ? AND tenant_id = ? AND status = ?`,
		KeyStatusRevoked, time.Now().UTC(), keyID, tenantID, KeyStatusActive)
	if errors.Is(err, ErrConflict) {
		var status string
		row := s.DB.QueryRowContext(ctx, `SELECT status FROM api_keys WHERE id = ? AND tenant_id = ?`, keyID, tenantID)
		if scanErr := row.Scan(&status); errors.Is(scanErr, sql.ErrNoRows) {
			return ErrNotFound
		}
	}
	return err
}

// RotateAPIKey revokes the old key and inserts its replacement in one
// transaction, so no moment exists with both keys active or neither
// usable by mistake.
func (s *Store) RotateAPIKey(ctx context.Context, keyID, tenantID, newHash, newPrefix, label string) (APIKey, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return APIKey{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE api_keys SET status = ?, revoked_at = ? WHERE id = ? AND tenant_id = ? AND status = ?`,
		KeyStatusRevoked, time.Now().UTC(), keyID, tenantID, KeyStatusActive)
	if err != nil {
		return APIKey{}, fmt.Errorf("revoke old key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return APIKey{}, ErrConflict
	}

	k := APIKey{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		KeyHash:   newHash,
		KeyPrefix: newPrefix,
		Label:     label,
		Status:    KeyStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO api_keys (id, tenant_id, key_hash, key_prefix, label, status, created_at)
VALUES (?,?,?,?,?,?,?)`,
		k.ID, k.TenantID, k.KeyHash, k.KeyPrefix, nullString(label), k.Status, k.CreatedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("insert replacement key: %w", err)
	}
	return k, tx.Commit()
}

// TouchKey updates last_used_at. Best effort, callers ignore the error.
func (s *Store) TouchKey(ctx context.Context, keyID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), keyID)
	return err
}

func scanKey(row interface{ Scan(...interface{}) error }) (APIKey, error) {
	var (
		k                 APIKey
		label             sql.NullString
		revoked, lastUsed sql.NullTime
	)
	err := row.Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.KeyPrefix, &label, &k.Status, &k.CreatedAt, &revoked, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("scan api key: %w", err)
	}
	k.Label = label.String
	k.RevokedAt = nullTime(revoked)
	k.LastUsedAt = nullTime(lastUsed)
	return k, nil
}
