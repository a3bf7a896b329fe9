package iam_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qhomebase/iam/pkg/authsdk"
	"github.com/qhomebase/iam/pkg/jwtx"
)

// TestPermissionsFlow binds a role, assigns it, applies overrides and checks
// that the recomputed permissions reach the refreshed token.
func TestPermissionsFlow(t *testing.T) {
	baseURL, cleanup := setupIAMContainer(t, relaxedLimits)
	defer cleanup()

	ctx := t.Context()
	client := authsdk.NewSDKClient(baseURL)
	admin := operatorToken(t, nil,
		"iam.token.issue",
		"iam.role.permission.manage",
		"iam.tenant.role.assign",
		"iam.user.permission.read",
		"iam.user.permission.manage",
	)

	_, err := client.SetRolePermissions(ctx, admin, "manager", []string{"booking.read", "invoice.read"})
	require.NoError(t, err)
	_, err = client.AssignRole(ctx, admin, tenantID, "u1", "manager")
	require.NoError(t, err)

	_, err = client.SetOverride(ctx, admin, tenantID, "u1", authsdk.OverrideRequest{Permission: "invoice.approve", Kind: "GRANT"})
	require.NoError(t, err)
	_, err = client.SetOverride(ctx, admin, tenantID, "u1", authsdk.OverrideRequest{Permission: "invoice.read", Kind: "DENY", Reason: "audit"})
	require.NoError(t, err)

	sum, err := client.PermissionSummary(ctx, admin, tenantID, "u1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"booking.read", "invoice.approve"}, sum.Effective)
	require.Equal(t, 1, sum.DenyCounts.Active)

	pair, err := client.IssueTokens(ctx, admin, authsdk.TokenRequest{UserID: "u1", Username: "alice", TenantID: tenantID})
	require.NoError(t, err)

	// A user may read their own summary.
	self, err := client.PermissionSummary(ctx, pair.AccessToken, tenantID, "u1")
	require.NoError(t, err)
	require.ElementsMatch(t, sum.Effective, self.Effective)

	_, err = client.PermissionSummary(ctx, pair.AccessToken, tenantID, "u2")
	requireStatus(t, err, http.StatusForbidden)

	// Lifting the deny shows up in the next refreshed token.
	require.NoError(t, client.DeleteOverride(ctx, admin, tenantID, "u1", "DENY", "invoice.read"))
	next, err := client.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	keys := authsdk.NewRemoteKeySet(client, 0)
	require.NoError(t, keys.Refresh(ctx))
	verifier, err := jwtx.NewVerifier(keys, jwtx.VerifierOptions{Issuer: issuer, Audience: audience})
	require.NoError(t, err)
	claims, err := verifier.Verify(ctx, next.AccessToken)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"booking.read", "invoice.approve", "invoice.read"}, claims.Perms)
}

// TestKeyRotation checks that tokens signed before a rotation keep
// verifying and that new tokens use the new key.
func TestKeyRotation(t *testing.T) {
	baseURL, cleanup := setupIAMContainer(t, relaxedLimits)
	defer cleanup()

	ctx := t.Context()
	client := authsdk.NewSDKClient(baseURL)
	service := operatorToken(t, nil, "iam.token.issue", "iam.token.introspect")
	admin := operatorToken(t, []string{"admin"})

	_, err := client.RotateKey(ctx, service)
	requireStatus(t, err, http.StatusForbidden)

	before, err := client.IssueTokens(ctx, service, authsdk.TokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	rotated, err := client.RotateKey(ctx, admin)
	require.NoError(t, err)
	require.NotEmpty(t, rotated.RetiredKid)
	require.NotEqual(t, rotated.RetiredKid, rotated.NewKid)

	after, err := client.IssueTokens(ctx, service, authsdk.TokenRequest{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	for _, token := range []string{before.AccessToken, after.AccessToken} {
		info, err := client.Introspect(ctx, service, token)
		require.NoError(t, err)
		require.True(t, info.Active)
	}

	listed, err := client.ListKeys(ctx, admin)
	require.NoError(t, err)
	kids := make([]string, 0, len(listed.Keys))
	for _, k := range listed.Keys {
		kids = append(kids, k.Kid)
	}
	require.Contains(t, kids, rotated.NewKid)
	require.Contains(t, kids, rotated.RetiredKid)
	require.Contains(t, kids, operatorKID)
}
