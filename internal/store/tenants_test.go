package store

import (
	"context"
	"errors"
	"testing"
)

func TestCreateTenantDuplicateName(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	if _, err := st.CreateTenant(ctx, "acme", 100, 100, 1000); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	if _, err := st.CreateTenant(ctx, "acme", 100, 100, 1000); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate CreateTenant() error = %v, want ErrConflict", err)
	}
}

func TestUpdateTenantQuotas(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	tn, err := st.CreateTenant(ctx, "acme", 100, 100, 1000)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	if err := st.UpdateTenantQuotas(ctx, tn.ID, 50, 25, 500); err != nil {
		t.Fatalf("UpdateTenantQuotas() error = %v", err)
	}
	got, err := st.GetTenant(ctx, tn.ID)
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	if got.MaxRequestsPerDay != 50 || got.MaxToolCallsPerDay != 25 || got.MaxBytesFetchedPerDay != 500 {
		t.Fatalf("quotas = %+v", got)
	}
	if err := st.UpdateTenantQuotas(ctx, "missing", 1, 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateTenantQuotas(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRevokeAPIKey(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	tn, err := st.CreateTenant(ctx, "acme", 100, 100, 1000)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	k, err := st.InsertAPIKey(ctx, tn.ID, "hash-1", "agk_live_0001", "ci")
	if err != nil {
		t.Fatalf("InsertAPIKey() error = %v", err)
	}

	if _, err := st.LookupActiveKeyByHash(ctx, "hash-1"); err != nil {
		t.Fatalf("LookupActiveKeyByHash() error = %v", err)
	}
	if err := st.RevokeAPIKey(ctx, k.ID, tn.ID); err != nil {
		t.Fatalf("RevokeAPIKey() error = %v", err)
	}
	// A revoked key no longer authenticates anything.
	if _, err := st.LookupActiveKeyByHash(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lookup after revoke error = %v, want ErrNotFound", err)
	}
	if err := st.RevokeAPIKey(ctx, k.ID, tn.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second RevokeAPIKey() error = %v, want ErrConflict", err)
	}
	if err := st.RevokeAPIKey(ctx, "missing", tn.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RevokeAPIKey(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRotateAPIKey(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	tn, err := st.CreateTenant(ctx, "acme", 100, 100, 1000)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	old, err := st.InsertAPIKey(ctx, tn.ID, "hash-old", "agk_live_0001", "ci")
	if err != nil {
		t.Fatalf("InsertAPIKey() error = %v", err)
	}

	replacement, err := st.RotateAPIKey(ctx, old.ID, tn.ID, "hash-new", "agk_live_0002", "ci")
	if err != nil {
		t.Fatalf("RotateAPIKey() error = %v", err)
	}
	if replacement.ID == old.ID {
		t.Fatalf("rotation reused the key id")
	}
	if _, err := st.LookupActiveKeyByHash(ctx, "hash-old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old hash still active after rotation")
	}
	if _, err := st.LookupActiveKeyByHash(ctx, "hash-new"); err != nil {
		t.Fatalf("new hash lookup error = %v", err)
	}
	// Rotating the revoked key again is a conflict.
	if _, err := st.RotateAPIKey(ctx, old.ID, tn.ID, "hash-x", "agk_live_0003", "ci"); !errors.Is(err, ErrConflict) {
		t.Fatalf("rotate revoked key error = %v, want ErrConflict", err)
	}
}
