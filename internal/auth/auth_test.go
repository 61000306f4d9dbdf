package auth

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"agentgate/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestGenerateKeyFormat(t *testing.T) {
	t.Parallel()
	k := NewKeyring("secret", "", nil)

	raw, hash, prefix, err := k.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !regexp.MustCompile(`^agk_live_[0-9a-f]{48}$`).MatchString(raw) {
		t.Fatalf("raw key = %q, want agk_live_<hex48>", raw)
	}
	if prefix != raw[:16] {
		t.Fatalf("display prefix = %q, want %q", prefix, raw[:16])
	}
	if hash != k.Hash(raw) {
		t.Fatalf("stored hash does not match Hash(raw)")
	}
	if strings.Contains(hash, raw[len("agk_live_"):]) {
		t.Fatalf("hash leaks raw key material")
	}

	raw2, _, _, err := k.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if raw2 == raw {
		t.Fatalf("two generated keys are identical")
	}
}

func TestHashDependsOnSecret(t *testing.T) {
	t.Parallel()
	a := NewKeyring("secret-a", "", nil)
	b := NewKeyring("secret-b", "", nil)

	if a.Hash("agk_live_abc") != a.Hash("agk_live_abc") {
		t.Fatalf("hash is not deterministic")
	}
	if a.Hash("agk_live_abc") == b.Hash("agk_live_abc") {
		t.Fatalf("different secrets produced the same hash")
	}
}

func TestResolveStoredKey(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()
	k := NewKeyring("secret", "", st)

	tenant, err := st.CreateTenant(ctx, "acme", 100, 50, 1<<20)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	raw, hash, prefix, err := k.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	rec, err := st.InsertAPIKey(ctx, tenant.ID, hash, prefix, "ci")
	if err != nil {
		t.Fatalf("InsertAPIKey() error = %v", err)
	}

	id, err := k.Resolve(ctx, raw)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.TenantID != tenant.ID || id.KeyID != rec.ID || id.Legacy {
		t.Fatalf("identity = %+v", id)
	}
}

func TestResolveRejectsRevokedKey(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()
	k := NewKeyring("secret", "", st)

	tenant, err := st.CreateTenant(ctx, "acme", 100, 50, 1<<20)
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	raw, hash, prefix, err := k.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	rec, err := st.InsertAPIKey(ctx, tenant.ID, hash, prefix, "")
	if err != nil {
		t.Fatalf("InsertAPIKey() error = %v", err)
	}
	if err := st.RevokeAPIKey(ctx, rec.ID, tenant.ID); err != nil {
		t.Fatalf("RevokeAPIKey() error = %v", err)
	}

	if _, err := k.Resolve(ctx, raw); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Resolve() after revoke error = %v, want ErrInvalidKey", err)
	}
}

func TestResolveLegacyKey(t *testing.T) {
	t.Parallel()
	k := NewKeyring("secret", "shared-legacy-key", nil)
	ctx := context.Background()

	id, err := k.Resolve(ctx, "shared-legacy-key")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.TenantID != store.LegacyTenant || !id.Legacy {
		t.Fatalf("identity = %+v, want legacy tenant", id)
	}
}

func TestResolveInvalidKeys(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	k := NewKeyring("secret", "", st)
	ctx := context.Background()

	for _, raw := range []string{"", "   ", "not-a-key", "agk_live_" + strings.Repeat("0", 48)} {
		if _, err := k.Resolve(ctx, raw); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Resolve(%q) error = %v, want ErrInvalidKey", raw, err)
		}
	}
}
