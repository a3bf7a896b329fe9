package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/pkg/jwtx"
)

func TestIssueForUser_EmbedsResolvedPermissions(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	e.setOverride(t, "invoice.read", domain.OverrideDeny, 0)
	ctx := context.Background()

	pair, err := e.tokens.IssueForUser(ctx, UserTokenRequest{UserID: "u1", Username: "alice", TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)
	require.EqualValues(t, 900, pair.ExpiresIn)
	require.EqualValues(t, 86400, pair.RefreshExpiresIn)

	claims, err := e.tokens.Verifier.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, jwtx.TokenTypeAccess, claims.Type)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "alice", claims.Username())
	require.Equal(t, "t1", claims.Tenant)
	require.Equal(t, []string{"manager"}, claims.Roles)
	require.Equal(t, []string{"booking.read"}, claims.Perms)

	refresh, err := e.tokens.Verifier.Verify(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, jwtx.TokenTypeRefresh, refresh.Type)
	require.Empty(t, refresh.Perms)
}

func TestIssueForUser_NoTenant(t *testing.T) {
	e := newEnv(t)
	pair, err := e.tokens.IssueForUser(context.Background(), UserTokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	claims, err := e.tokens.Verifier.Verify(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Empty(t, claims.Roles)
	require.Empty(t, claims.Perms)
}

func TestIssueForUser_InvalidInput(t *testing.T) {
	e := newEnv(t)
	_, err := e.tokens.IssueForUser(context.Background(), UserTokenRequest{UserID: "u1"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestIssueServiceToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	token, claims, err := e.tokens.IssueServiceToken(ctx, ServiceTokenRequest{
		ServiceID:   "svc-billing",
		Roles:       []string{"service"},
		Permissions: []string{"iam.token.issue"},
	})
	require.NoError(t, err)
	require.Equal(t, jwtx.TokenTypeService, claims.Type)
	require.Equal(t, "svc-billing", claims.Username())
	require.Equal(t, time.Hour, claims.ExpiresAtTime().Sub(claims.IssuedAt.Time))

	verified, err := e.tokens.Verifier.Verify(ctx, token)
	require.NoError(t, err)
	require.Equal(t, []string{"iam.token.issue"}, verified.Perms)

	_, claims, err = e.tokens.IssueServiceToken(ctx, ServiceTokenRequest{ServiceID: "svc", TTL: 5 * time.Minute})
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, claims.ExpiresAtTime().Sub(claims.IssuedAt.Time))

	_, _, err = e.tokens.IssueServiceToken(ctx, ServiceTokenRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)

	// A lifetime the retired signing key would not outlast is refused.
	_, _, err = e.tokens.IssueServiceToken(ctx, ServiceTokenRequest{ServiceID: "svc", TTL: e.km.Retention() + time.Hour})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRefresh_RotatesAndRecomputes(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	ctx := context.Background()

	pair, err := e.tokens.IssueForUser(ctx, UserTokenRequest{UserID: "u1", Username: "alice", TenantID: "t1", Audience: []string{"qhome"}})
	require.NoError(t, err)

	// Permissions change between issuance and refresh.
	e.setOverride(t, "invoice.pay", domain.OverrideGrant, 0)
	e.clock.Advance(time.Minute)

	next, err := e.tokens.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	claims, err := e.tokens.Verifier.Verify(ctx, next.AccessToken)
	require.NoError(t, err)
	require.Contains(t, claims.Perms, "invoice.pay")

	// The superseded refresh token is revoked.
	_, err = e.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefresh_ConcurrentUseHasOneWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, err := e.tokens.IssueForUser(ctx, UserTokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		refused int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.tokens.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrInvalidRefresh):
				refused++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	require.Equal(t, 7, refused)
}

func TestRevokeToken_InsideLeewayAfterExpiry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, err := e.tokens.IssueForUser(ctx, UserTokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	// Past exp but still accepted because of clock-skew leeway.
	e.clock.Advance(15*time.Minute + 5*time.Second)
	_, err = e.tokens.Verifier.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, e.tokens.RevokeToken(ctx, pair.AccessToken))
	_, err = e.tokens.Verifier.Verify(ctx, pair.AccessToken)
	require.ErrorIs(t, err, jwtx.ErrRevoked)

	e.clock.Advance(10 * time.Second)
	_, err = e.tokens.Verifier.Verify(ctx, pair.AccessToken)
	require.ErrorIs(t, err, jwtx.ErrRevoked)
}

func TestRevokeToken_HoldsUntilLeewayEnds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, err := e.tokens.IssueForUser(ctx, UserTokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	require.NoError(t, e.tokens.RevokeToken(ctx, pair.AccessToken))

	e.clock.Advance(15*time.Minute + 10*time.Second)
	_, err = e.tokens.Verifier.Verify(ctx, pair.AccessToken)
	require.ErrorIs(t, err, jwtx.ErrRevoked)

	e.clock.Advance(jwtx.DefaultLeeway)
	_, err = e.tokens.Verifier.Verify(ctx, pair.AccessToken)
	require.ErrorIs(t, err, jwtx.ErrExpired)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	e := newEnv(t)
	pair, err := e.tokens.IssueForUser(context.Background(), UserTokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = e.tokens.Refresh(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidRefresh)

	_, err = e.tokens.Refresh(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefresh_Expired(t *testing.T) {
	e := newEnv(t)
	pair, err := e.tokens.IssueForUser(context.Background(), UserTokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	e.clock.Advance(25 * time.Hour)
	_, err = e.tokens.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRevokeToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, err := e.tokens.IssueForUser(ctx, UserTokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	require.NoError(t, e.tokens.RevokeToken(ctx, pair.AccessToken))
	_, err = e.tokens.Verifier.Verify(ctx, pair.AccessToken)
	require.ErrorIs(t, err, jwtx.ErrRevoked)

	// Revoking an invalid or already revoked token is a no-op.
	require.NoError(t, e.tokens.RevokeToken(ctx, pair.AccessToken))
	require.NoError(t, e.tokens.RevokeToken(ctx, "garbage"))

	// Other tokens of the same user are unaffected.
	_, err = e.tokens.Verifier.Verify(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestIntrospect(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	ctx := context.Background()
	pair, err := e.tokens.IssueForUser(ctx, UserTokenRequest{UserID: "u1", Username: "alice", TenantID: "t1"})
	require.NoError(t, err)

	got, err := e.tokens.Introspect(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.True(t, got.Active)
	require.Equal(t, "alice", got.Subject)
	require.Equal(t, "t1", got.TenantID)
	require.Equal(t, jwtx.TokenTypeAccess, got.TokenType)
	require.Equal(t, got.IssuedAt+900, got.ExpiresAt)

	e.clock.Advance(time.Hour)
	got, err = e.tokens.Introspect(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.False(t, got.Active)
	require.Equal(t, "expired", got.Reason)
}

type failingRegistry struct{ err error }

func (f failingRegistry) Revoke(context.Context, string, time.Time) (bool, error) {
	return false, f.err
}
func (f failingRegistry) IsRevoked(context.Context, string) (bool, error) { return false, f.err }

func TestRefresh_RevocationFailureIsReturned(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, err := e.tokens.IssueForUser(ctx, UserTokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	boom := errors.New("redis down")
	e.tokens.Revocations = failingRegistry{err: boom}

	_, err = e.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrInvalidRefresh)
}
