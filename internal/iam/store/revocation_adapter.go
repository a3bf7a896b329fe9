package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/pkg/revocation"
)

// RevocationRegistry is a revocation.Registry persisted in the database, so
// revocations survive restarts and are shared by replicas on the same store.
type RevocationRegistry struct {
	store Store
	now   func() time.Time
}

var (
	_ revocation.Registry = (*RevocationRegistry)(nil)
	_ revocation.Purger   = (*RevocationRegistry)(nil)
)

func NewRevocationRegistry(s Store, now func() time.Time) *RevocationRegistry {
	if now == nil {
		now = time.Now
	}
	return &RevocationRegistry{store: s, now: now}
}

func (r *RevocationRegistry) Revoke(ctx context.Context, jti string, until time.Time) (bool, error) {
	if strings.TrimSpace(jti) == "" {
		return false, revocation.ErrEmptyJTI
	}
	now := r.now()
	if !until.After(now) {
		return false, nil
	}
	first, err := r.store.RevokedTokens().Revoke(ctx, domain.RevokedToken{JTI: jti, ExpiresAt: until, RevokedAt: now})
	if err != nil {
		return false, fmt.Errorf("store: revoke %s: %w", jti, err)
	}
	return first, nil
}

func (r *RevocationRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return r.store.RevokedTokens().IsRevoked(ctx, jti, r.now())
}

func (r *RevocationRegistry) Purge(ctx context.Context, now time.Time) (int, error) {
	n, err := r.store.RevokedTokens().DeleteExpired(ctx, now)
	return int(n), err
}
