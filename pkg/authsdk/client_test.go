package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qhomebase/iam/pkg/jwtx"
)

func newKeyManager(t *testing.T) *jwtx.KeyManager {
	t.Helper()
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: "EdDSA"})
	require.NoError(t, err)
	return km
}

// jwksServer serves km's public keys and counts fetches.
func jwksServer(t *testing.T, km *jwtx.KeyManager) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/.well-known/jwks.json", r.URL.Path)
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(km.PublicJWKS())
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRemoteKeySet_VerifiesLocally(t *testing.T) {
	km := newKeyManager(t)
	srv, _ := jwksServer(t, km)

	keys := NewRemoteKeySet(NewSDKClient(srv.URL), time.Minute)
	require.NoError(t, keys.Refresh(context.Background()))

	issuer, err := jwtx.NewIssuer(km, jwtx.IssuerOptions{Issuer: "iam", Audience: []string{"api"}})
	require.NoError(t, err)
	verifier, err := jwtx.NewVerifier(keys, jwtx.VerifierOptions{Issuer: "iam", Audience: []string{"api"}})
	require.NoError(t, err)

	token, _, err := issuer.Issue(jwtx.IssueRequest{
		SubjectID:   "u1",
		Username:    "alice",
		TenantID:    "t1",
		Roles:       []string{"manager"},
		Permissions: []string{"booking.read"},
		Type:        jwtx.TokenTypeAccess,
		TTL:         time.Minute,
	})
	require.NoError(t, err)

	claims, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, []string{"booking.read"}, claims.Perms)
}

func TestRemoteKeySet_RefetchesOnUnknownKID(t *testing.T) {
	km := newKeyManager(t)
	srv, hits := jwksServer(t, km)

	keys := NewRemoteKeySet(NewSDKClient(srv.URL), time.Minute)
	now := time.Now()
	keys.now = func() time.Time { return now }
	require.NoError(t, keys.Refresh(context.Background()))
	require.EqualValues(t, 1, hits.Load())

	// A rotation on the server is invisible until the interval has passed.
	newKID, err := km.Rotate()
	require.NoError(t, err)

	_, err = keys.VerificationKey(newKID)
	require.ErrorIs(t, err, jwtx.ErrKeyNotFound)
	require.EqualValues(t, 1, hits.Load())

	now = now.Add(2 * time.Minute)
	k, err := keys.VerificationKey(newKID)
	require.NoError(t, err)
	require.Equal(t, newKID, k.KID)
	require.EqualValues(t, 2, hits.Load())

	// Known kids never hit the network.
	_, err = keys.VerificationKey(newKID)
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load())
	require.Len(t, keys.KIDs(), 2)
}

func TestRemoteKeySet_FetchFailureIsNotARejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ErrUnavailable.WriteError(w)
	}))
	defer srv.Close()

	keys := NewRemoteKeySet(NewSDKClient(srv.URL), time.Minute)
	_, err := keys.VerificationKey("kid-1")
	require.Error(t, err)
	require.False(t, jwtx.IsRejection(err))

	var oerr *OAuth2Error
	require.True(t, errors.As(err, &oerr))
	require.Equal(t, http.StatusServiceUnavailable, oerr.StatusCode)
}

func TestClient_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/tokens/refresh", r.URL.Path)

		var req RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.RefreshToken != "good" {
			ErrInvalidGrant.WriteError(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "a2", RefreshToken: "r2", TokenType: "Bearer", ExpiresIn: 900})
	}))
	defer srv.Close()

	c := NewSDKClient(srv.URL + "/")

	pair, err := c.Refresh(context.Background(), "good")
	require.NoError(t, err)
	require.Equal(t, "a2", pair.AccessToken)
	require.Equal(t, "r2", pair.RefreshToken)

	_, err = c.Refresh(context.Background(), "stale")
	var oerr *OAuth2Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, http.StatusUnauthorized, oerr.StatusCode)
	require.Equal(t, ErrorCodeInvalidGrant, oerr.Code)
}

func TestClient_RevokeAndIntrospect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tokens/revoke":
			require.Equal(t, "Bearer access", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusNoContent)
		case "/v1/tokens/introspect":
			if r.Header.Get("Authorization") != "Bearer svc" {
				ErrInvalidToken.WriteError(w)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(IntrospectionResponse{Active: true, UserID: "u1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewSDKClient(srv.URL)
	require.NoError(t, c.Revoke(context.Background(), "access", "refresh"))

	info, err := c.Introspect(context.Background(), "svc", "access")
	require.NoError(t, err)
	require.True(t, info.Active)
	require.Equal(t, "u1", info.UserID)

	_, err = c.Introspect(context.Background(), "nope", "access")
	var oerr *OAuth2Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, ErrorCodeInvalidToken, oerr.Code)
	require.Equal(t, `Bearer error="invalid_token", error_description="invalid or expired session"`,
		func() string {
			rec := httptest.NewRecorder()
			ErrInvalidToken.WriteError(rec)
			return rec.Header().Get("WWW-Authenticate")
		}())
}

func TestParseErrorResponse_Fallback(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusBadGateway}
	err := parseErrorResponse(resp, []byte("<html>bad gateway</html>"))

	var oerr *OAuth2Error
	require.ErrorAs(t, err, &oerr)
	require.Equal(t, ErrorCodeServerError, oerr.Code)
	require.Equal(t, "HTTP 502: Bad Gateway", oerr.Description)
}

func TestClient_AdminCalls(t *testing.T) {
	type call struct{ method, path string }
	var calls []call

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.EscapedPath()})
		require.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/tenants/t1/users/u1/roles":
			var req RoleAssignRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(TenantRoleResponse{UserID: "u1", TenantID: "t1", Role: req.Role})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/keys/rotate":
			_ = json.NewEncoder(w).Encode(RotateKeyResponse{NewKid: "k2", RetiredKid: "k1"})
		default:
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorCodeAccessDenied, ErrorDescription: "no"})
		}
	}))
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL)
	ctx := context.Background()

	tr, err := client.AssignRole(ctx, "admin-token", "t1", "u1", "manager")
	require.NoError(t, err)
	require.Equal(t, "manager", tr.Role)

	require.NoError(t, client.DeleteOverride(ctx, "admin-token", "t1", "u1", "DENY", "invoice.read"))

	rot, err := client.RotateKey(ctx, "admin-token")
	require.NoError(t, err)
	require.Equal(t, "k2", rot.NewKid)

	_, err = client.ListKeys(ctx, "admin-token")
	var oerr *OAuth2Error
	require.True(t, errors.As(err, &oerr))
	require.Equal(t, http.StatusForbidden, oerr.StatusCode)

	require.Equal(t, []call{
		{http.MethodPost, "/v1/tenants/t1/users/u1/roles"},
		{http.MethodDelete, "/v1/tenants/t1/users/u1/overrides/DENY/invoice.read"},
		{http.MethodPost, "/v1/keys/rotate"},
		{http.MethodGet, "/v1/keys"},
	}, calls)
}
