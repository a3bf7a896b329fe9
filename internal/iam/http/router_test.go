package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	iamhttp "github.com/qhomebase/iam/internal/iam/http"
	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/internal/iam/store/drivers/sqlite"
	"github.com/qhomebase/iam/pkg/authsdk"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/revocation"
)

type fixture struct {
	srv    *httptest.Server
	issuer *jwtx.Issuer
	km     *jwtx.KeyManager
	tokens *service.TokenService
	roles  *service.RolesService
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0).UTC()
	clk := func() time.Time { return now }

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, Now: clk})
	require.NoError(t, err)
	issuer, err := jwtx.NewIssuer(km, jwtx.IssuerOptions{Issuer: "qhome-iam", Audience: []string{"qhome"}, Now: clk})
	require.NoError(t, err)
	revoked := revocation.NewMemory(clk)
	verifier, err := jwtx.NewVerifier(km, jwtx.VerifierOptions{
		Issuer:      "qhome-iam",
		Audience:    []string{"qhome"},
		Revocations: revoked,
		Now:         clk,
	})
	require.NoError(t, err)

	resolver := &service.PermissionResolver{Store: st, Now: clk}
	gate, err := authz.NewGate(authz.ModeRecompute, resolver)
	require.NoError(t, err)

	tokens := &service.TokenService{
		Issuer:      issuer,
		Verifier:    verifier,
		Revocations: revoked,
		Permissions: resolver,
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  24 * time.Hour,
		ServiceTTL:  time.Hour,
	}
	roles := &service.RolesService{Store: st, Now: clk}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := iamhttp.NewRouter(km, verifier, gate, "test", st, logger)
	r.TokenService = tokens
	r.Permissions = resolver
	r.OverrideService = &service.OverrideService{Store: st, Now: clk}
	r.RolesService = roles
	r.KeyRotationService = &service.KeyRotationService{KeyManager: km, Now: clk}
	r.Revocations = revoked
	r.ApplyRoutes()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	f := &fixture{srv: srv, issuer: issuer, km: km, tokens: tokens, roles: roles, now: now}
	f.seed(t)
	return f
}

// seed: u1 is a manager in t1; "iam_admin" holds every IAM permission.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.roles.SetPermissions(ctx, "manager", []authz.Permission{"booking.read", "invoice.read"})
	require.NoError(t, err)
	_, err = f.roles.SetPermissions(ctx, "iam_admin", []authz.Permission{
		authz.PermUserPermissionRead,
		authz.PermUserPermissionManage,
		authz.PermTenantRoleAssign,
		authz.PermTenantRoleRemove,
		authz.PermRolePermissionRead,
		authz.PermRolePermissionManage,
	})
	require.NoError(t, err)
	_, err = f.roles.Assign(ctx, "seed", "u1", "t1", "manager")
	require.NoError(t, err)
	_, err = f.roles.Assign(ctx, "seed", "boss", "t1", "iam_admin")
	require.NoError(t, err)
}

func (f *fixture) userToken(t *testing.T, userID, tenantID string) string {
	t.Helper()
	pair, err := f.tokens.IssueForUser(context.Background(), service.UserTokenRequest{
		UserID: userID, Username: userID, TenantID: tenantID,
	})
	require.NoError(t, err)
	return pair.AccessToken
}

func (f *fixture) serviceToken(t *testing.T, roles []string, perms ...authz.Permission) string {
	t.Helper()
	ps := make([]string, len(perms))
	for i, p := range perms {
		ps[i] = string(p)
	}
	tok, _, err := f.tokens.IssueServiceToken(context.Background(), service.ServiceTokenRequest{
		ServiceID: "svc-web", Roles: roles, Permissions: ps,
	})
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestJWKSAndHealth(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jwks := decode[authsdk.JWKSResponse](t, resp)
	require.Len(t, jwks.Keys, 1)
	kid, err := f.km.ActiveKeyID()
	require.NoError(t, err)
	require.Equal(t, kid, jwks.Keys[0].Kid)

	resp = f.do(t, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = f.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[authsdk.HealthResponse](t, resp)
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "ok", health.Checks.Database)
}

func TestIssueTokens_RequiresServicePermission(t *testing.T) {
	f := newFixture(t)
	req := authsdk.TokenRequest{UserID: "u1", Username: "alice", TenantID: "t1"}

	resp := f.do(t, http.MethodPost, "/v1/tokens", "", req)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")

	resp = f.do(t, http.MethodPost, "/v1/tokens", f.serviceToken(t, nil), req)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decode[authsdk.ErrorResponse](t, resp)
	require.Equal(t, authsdk.ErrorCodeAccessDenied, body.Error)

	resp = f.do(t, http.MethodPost, "/v1/tokens", f.serviceToken(t, nil, authz.PermTokenIssue), req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pair := decode[authsdk.TokenResponse](t, resp)
	require.Equal(t, "Bearer", pair.TokenType)
	require.EqualValues(t, 900, pair.ExpiresIn)

	claims, err := f.tokens.Verifier.Verify(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{"manager"}, claims.Roles)
	require.Equal(t, []string{"booking.read", "invoice.read"}, claims.Perms)
}

func TestRefreshRotatesAndRevokes(t *testing.T) {
	f := newFixture(t)
	pair, err := f.tokens.IssueForUser(context.Background(), service.UserTokenRequest{UserID: "u1", Username: "alice", TenantID: "t1"})
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/v1/tokens/refresh", "", authsdk.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	next := decode[authsdk.TokenResponse](t, resp)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The superseded refresh token is dead.
	resp = f.do(t, http.MethodPost, "/v1/tokens/refresh", "", authsdk.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, authsdk.ErrorCodeInvalidGrant, decode[authsdk.ErrorResponse](t, resp).Error)

	// An access token is not a refresh token.
	resp = f.do(t, http.MethodPost, "/v1/tokens/refresh", "", authsdk.RefreshRequest{RefreshToken: next.AccessToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/tokens/refresh", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRevokeLogsOut(t *testing.T) {
	f := newFixture(t)
	pair, err := f.tokens.IssueForUser(context.Background(), service.UserTokenRequest{UserID: "u1", Username: "alice", TenantID: "t1"})
	require.NoError(t, err)
	self := "/v1/tenants/t1/users/u1/permissions"

	resp := f.do(t, http.MethodGet, self, pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/tokens/revoke", pair.AccessToken, authsdk.RevokeRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, self, pair.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/tokens/refresh", "", authsdk.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRevoke_EmptyBody(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/tokens/revoke", f.userToken(t, "u1", "t1"), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestIntrospect(t *testing.T) {
	f := newFixture(t)
	caller := f.serviceToken(t, nil, authz.PermTokenIntrospect)
	target := f.userToken(t, "u1", "t1")

	resp := f.do(t, http.MethodPost, "/v1/tokens/introspect", caller, authsdk.IntrospectRequest{Token: target})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[authsdk.IntrospectionResponse](t, resp)
	require.True(t, info.Active)
	require.Equal(t, "u1", info.UserID)
	require.Equal(t, "t1", info.TenantID)
	require.Equal(t, "access", info.TokenType)

	resp = f.do(t, http.MethodPost, "/v1/tokens/introspect", caller, authsdk.IntrospectRequest{Token: "garbage"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info = decode[authsdk.IntrospectionResponse](t, resp)
	require.False(t, info.Active)
	require.Empty(t, info.UserID)

	resp = f.do(t, http.MethodPost, "/v1/tokens/introspect", target, authsdk.IntrospectRequest{Token: target})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPermissionSummary_SelfOrPermission(t *testing.T) {
	f := newFixture(t)
	path := "/v1/tenants/t1/users/u1/permissions"

	resp := f.do(t, http.MethodGet, path, f.userToken(t, "u1", "t1"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[authsdk.PermissionSummaryResponse](t, resp)
	require.Equal(t, []string{"manager"}, sum.Roles)
	require.Equal(t, []string{"booking.read", "invoice.read"}, sum.Effective)

	// Another user without the read permission.
	resp = f.do(t, http.MethodGet, path, f.userToken(t, "u2", "t1"), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, path, f.userToken(t, "boss", "t1"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The admin's permission does not reach into another tenant.
	resp = f.do(t, http.MethodGet, "/v1/tenants/t2/users/u1/permissions", f.userToken(t, "boss", "t1"), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOverrides_DenyWins(t *testing.T) {
	f := newFixture(t)
	admin := f.userToken(t, "boss", "t1")
	base := "/v1/tenants/t1/users/u1/overrides"

	resp := f.do(t, http.MethodPut, base, admin, authsdk.OverrideRequest{Permission: "invoice.approve", Kind: "grant", Reason: "cover"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	o := decode[authsdk.OverrideInfo](t, resp)
	require.Equal(t, "GRANT", o.Kind)
	require.Equal(t, "boss", o.GrantedBy)
	require.True(t, o.Active)

	resp = f.do(t, http.MethodPut, base, admin, authsdk.OverrideRequest{Permission: "invoice.read", Kind: "DENY"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/tenants/t1/users/u1/permissions", admin, nil)
	sum := decode[authsdk.PermissionSummaryResponse](t, resp)
	require.Equal(t, []string{"booking.read", "invoice.approve"}, sum.Effective)
	require.Equal(t, 1, sum.GrantCounts.Total)
	require.Equal(t, 1, sum.DenyCounts.Active)

	resp = f.do(t, http.MethodDelete, base+"/DENY/invoice.read", admin, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, base+"/DENY/invoice.read", admin, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	past := f.now.Add(-time.Hour)
	resp = f.do(t, http.MethodPut, base, admin, authsdk.OverrideRequest{Permission: "x.y", Kind: "GRANT", ExpiresAt: &past})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, base, admin, authsdk.OverrideRequest{Permission: "x.y", Kind: "MAYBE"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, base, f.userToken(t, "u1", "t1"), authsdk.OverrideRequest{Permission: "x.y", Kind: "GRANT"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestTenantRoles(t *testing.T) {
	f := newFixture(t)
	admin := f.userToken(t, "boss", "t1")
	base := "/v1/tenants/t1/users/u2/roles"

	resp := f.do(t, http.MethodPost, base, admin, authsdk.RoleAssignRequest{Role: "manager"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "manager", decode[authsdk.TenantRoleResponse](t, resp).Role)

	resp = f.do(t, http.MethodPost, base, admin, authsdk.RoleAssignRequest{Role: "manager"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, base, admin, authsdk.RoleAssignRequest{Role: "Not A Role!"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Recompute mode: the new role is visible without a new token.
	resp = f.do(t, http.MethodGet, "/v1/tenants/t1/users/u2/permissions", f.userToken(t, "u2", "t1"), nil)
	require.Equal(t, []string{"booking.read", "invoice.read"}, decode[authsdk.PermissionSummaryResponse](t, resp).Effective)

	resp = f.do(t, http.MethodDelete, base+"/manager", admin, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, base+"/manager", admin, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRolePermissions(t *testing.T) {
	f := newFixture(t)
	admin := f.userToken(t, "boss", "t1")

	resp := f.do(t, http.MethodPut, "/v1/roles/clerk/permissions", admin,
		authsdk.RolePermissionsRequest{Permissions: []string{"booking.write", "booking.read", "booking.read"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"booking.read", "booking.write"}, decode[authsdk.RolePermissionsResponse](t, resp).Permissions)

	resp = f.do(t, http.MethodGet, "/v1/roles/clerk/permissions", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"booking.read", "booking.write"}, decode[authsdk.RolePermissionsResponse](t, resp).Permissions)

	resp = f.do(t, http.MethodPut, "/v1/roles/clerk/permissions", admin,
		authsdk.RolePermissionsRequest{Permissions: []string{"BAD PERM"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/roles/clerk/permissions", f.userToken(t, "u1", "t1"), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestKeyRotation_AdminOnly(t *testing.T) {
	f := newFixture(t)
	old, err := f.km.ActiveKeyID()
	require.NoError(t, err)
	oldToken := f.userToken(t, "u1", "t1")

	resp := f.do(t, http.MethodPost, "/v1/keys/rotate", f.userToken(t, "boss", "t1"), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := f.serviceToken(t, []string{"admin"})
	resp = f.do(t, http.MethodPost, "/v1/keys/rotate", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rot := decode[authsdk.RotateKeyResponse](t, resp)
	require.NotEqual(t, old, rot.NewKid)
	require.Equal(t, old, rot.RetiredKid)
	require.Len(t, rot.Keys, 2)

	// Tokens signed with the retired key still verify.
	resp = f.do(t, http.MethodGet, "/v1/tenants/t1/users/u1/permissions", oldToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/keys", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[authsdk.ListKeysResponse](t, resp).Keys, 2)

	resp = f.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Len(t, decode[authsdk.JWKSResponse](t, resp).Keys, 2)
}

func TestExpiredTokenIsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	tok, _, err := f.issuer.Issue(jwtx.IssueRequest{
		SubjectID: "u1", Username: "alice", TenantID: "t1",
		Roles: []string{}, Permissions: []string{},
		Type: jwtx.TokenTypeAccess, TTL: 0,
	})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/v1/tenants/t1/users/u1/permissions", tok, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, authsdk.ErrorCodeInvalidToken, decode[authsdk.ErrorResponse](t, resp).Error)
}
