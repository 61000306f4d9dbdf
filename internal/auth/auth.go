// Package auth issues and verifies tenant API keys.
//
// Key format: agk_live_<hex48>. Only an HMAC-SHA256 of the raw key is
// persisted; the raw key is shown once at creation time.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"agentgate/internal/store"
)

const keyPrefix = "agk_live_"

// ErrInvalidKey is returned for unknown, malformed or revoked keys.
var ErrInvalidKey = errors.New("invalid api key")

// Keyring hashes and resolves API keys for a store.
type Keyring struct {
	secret    []byte
	legacyKey string
	store     *store.Store
}

// NewKeyring builds a keyring. legacyKey, when non-empty, is a single
// shared key accepted as the legacy tenant with no usage tracking.
func NewKeyring(secret, legacyKey string, st *store.Store) *Keyring {
	return &Keyring{secret: []byte(secret), legacyKey: legacyKey, store: st}
}

// Generate creates a fresh raw key plus the hash and display prefix to
// store. The raw key is never persisted.
func (k *Keyring) Generate() (rawKey, keyHash, displayPrefix string, err error) {
	buf := make([]byte, 24)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	rawKey = keyPrefix + hex.EncodeToString(buf)
	keyHash = k.Hash(rawKey)
	displayPrefix = rawKey[:16]
	return rawKey, keyHash, displayPrefix, nil
}

// Hash computes the storable HMAC-SHA256 digest of a raw key.
func (k *Keyring) Hash(rawKey string) string {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// Identity is the resolved caller of a request.
type Identity struct {
	TenantID string
	KeyID    string
	Legacy   bool
}

// Resolve maps a presented key to an identity. The legacy key wins via
// constant-time comparison before any store lookup.
func (k *Keyring) Resolve(ctx context.Context, rawKey string) (Identity, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return Identity{}, ErrInvalidKey
	}
	if k.legacyKey != "" && subtle.ConstantTimeCompare([]byte(rawKey), []byte(k.legacyKey)) == 1 {
		return Identity{TenantID: store.LegacyTenant, Legacy: true}, nil
	}
	if !strings.HasPrefix(rawKey, keyPrefix) {
		return Identity{}, ErrInvalidKey
	}
	rec, err := k.store.LookupActiveKeyByHash(ctx, k.Hash(rawKey))
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, ErrInvalidKey
	}
	if err != nil {
		return Identity{}, err
	}
	// Best effort, a stale last_used_at is harmless.
	_ = k.store.TouchKey(ctx, rec.ID)
	return Identity{TenantID: rec.TenantID, KeyID: rec.ID}, nil
}
