package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/internal/iam/store/drivers/sqlite"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/revocation"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0).UTC()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type env struct {
	clock    *clock
	store    store.Store
	km       *jwtx.KeyManager
	revoked  *revocation.Memory
	resolver *PermissionResolver
	roles    *RolesService
	override *OverrideService
	tokens   *TokenService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := newClock()
	s := newTestStore(t)

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, Now: clk.Now})
	require.NoError(t, err)

	issuer, err := jwtx.NewIssuer(km, jwtx.IssuerOptions{Issuer: "qhome-iam", Audience: []string{"qhome"}, Now: clk.Now})
	require.NoError(t, err)

	revoked := revocation.NewMemory(clk.Now)
	verifier, err := jwtx.NewVerifier(km, jwtx.VerifierOptions{
		Issuer:      "qhome-iam",
		Audience:    []string{"qhome"},
		Revocations: revoked,
		Now:         clk.Now,
	})
	require.NoError(t, err)

	resolver := &PermissionResolver{Store: s, Now: clk.Now}
	return &env{
		clock:    clk,
		store:    s,
		km:       km,
		revoked:  revoked,
		resolver: resolver,
		roles:    &RolesService{Store: s, Now: clk.Now},
		override: &OverrideService{Store: s, Now: clk.Now},
		tokens: &TokenService{
			Issuer:      issuer,
			Verifier:    verifier,
			Revocations: revoked,
			Permissions: resolver,
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  24 * time.Hour,
			ServiceTTL:  time.Hour,
		},
	}
}

// seed gives u1 the manager role in t1 with two bound permissions.
func (e *env) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.roles.SetPermissions(ctx, "manager", []authz.Permission{"booking.read", "invoice.read"})
	require.NoError(t, err)
	_, err = e.roles.Assign(ctx, "admin", "u1", "t1", "manager")
	require.NoError(t, err)
}

func (e *env) setOverride(t *testing.T, perm authz.Permission, kind domain.OverrideKind, ttl time.Duration) {
	t.Helper()
	req := OverrideRequest{UserID: "u1", TenantID: "t1", Permission: perm, Kind: kind}
	if ttl > 0 {
		exp := e.clock.Now().Add(ttl)
		req.ExpiresAt = &exp
	}
	_, err := e.override.Set(context.Background(), "admin", req)
	require.NoError(t, err)
}
