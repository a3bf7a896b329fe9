package authsdk

import (
	"time"

	"github.com/qhomebase/iam/pkg/jwtx"
)

// ============================================================================
// Errors
// ============================================================================

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error            string `json:"error" example:"invalid_token"`
	ErrorDescription string `json:"error_description" example:"invalid or expired session"`
}

// ============================================================================
// Tokens
// ============================================================================

// TokenRequest asks for a token pair on behalf of a user who authenticated
// elsewhere. Only trusted services may call it.
type TokenRequest struct {
	UserID   string   `json:"user_id" example:"01J9ZQ4Y3C8G8X1V3F7T5K2M6N"`
	Username string   `json:"username" example:"alice"`
	TenantID string   `json:"tenant_id,omitempty" example:"t-42"`
	Audience []string `json:"audience,omitempty"`
}

// TokenResponse carries an access and refresh token.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type" example:"Bearer"`
	ExpiresIn        int64  `json:"expires_in" example:"900"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty" example:"604800"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RevokeRequest optionally names a refresh token to revoke together with
// the bearer access token.
type RevokeRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IntrospectRequest names the token to inspect.
type IntrospectRequest struct {
	Token string `json:"token"`
}

// IntrospectionResponse is the RFC 7662-like token view. Only Active is set
// for tokens that fail verification.
type IntrospectionResponse struct {
	Active    bool     `json:"active"`
	Subject   string   `json:"sub,omitempty"`
	UserID    string   `json:"uid,omitempty"`
	TenantID  string   `json:"tenant,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Perms     []string `json:"perms,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	JTI       string   `json:"jti,omitempty"`
}

// ============================================================================
// Permissions
// ============================================================================

// OverrideInfo is one GRANT or DENY override.
type OverrideInfo struct {
	Permission string     `json:"permission" example:"invoice.approve"`
	Kind       string     `json:"kind" example:"GRANT"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
	GrantedBy  string     `json:"granted_by,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Active     bool       `json:"active"`
	Temporary  bool       `json:"temporary"`
}

// OverrideCounts summarises one kind of override.
type OverrideCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Temporary int `json:"temporary"`
}

// PermissionSummaryResponse explains how a user's effective permissions in
// a tenant come about.
type PermissionSummaryResponse struct {
	UserID      string         `json:"user_id"`
	TenantID    string         `json:"tenant_id"`
	Roles       []string       `json:"roles"`
	Inherited   []string       `json:"inherited"`
	Grants      []OverrideInfo `json:"grants"`
	Denies      []OverrideInfo `json:"denies"`
	Effective   []string       `json:"effective"`
	GrantCounts OverrideCounts `json:"grant_counts"`
	DenyCounts  OverrideCounts `json:"deny_counts"`
}

// OverrideRequest creates or replaces a GRANT or DENY override.
type OverrideRequest struct {
	Permission string     `json:"permission" example:"invoice.approve"`
	Kind       string     `json:"kind" example:"DENY"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// ============================================================================
// Roles
// ============================================================================

// RoleAssignRequest assigns a role to a user in a tenant.
type RoleAssignRequest struct {
	Role string `json:"role" example:"manager"`
}

// TenantRoleResponse describes an assigned tenant role.
type TenantRoleResponse struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	GrantedAt time.Time `json:"granted_at"`
	GrantedBy string    `json:"granted_by,omitempty"`
}

// RolePermissionsRequest replaces the permissions bound to a role.
type RolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// RolePermissionsResponse lists the permissions bound to a role.
type RolePermissionsResponse struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status" example:"ok"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the state of each dependency in /readyz.
type HealthChecks struct {
	Database    string `json:"database"`
	Signer      string `json:"signer"`
	Revocations string `json:"revocations"`
}

// ============================================================================
// Keys
// ============================================================================

// JWKSResponse is the published key set.
type JWKSResponse jwtx.JWKS

// SigningKeyInfo describes one key in the key manager.
type SigningKeyInfo struct {
	Kid          string     `json:"kid"`
	Algorithm    string     `json:"algorithm" example:"EdDSA"`
	Active       bool       `json:"active"`
	Static       bool       `json:"static,omitempty"`
	RetiredUntil *time.Time `json:"retired_until,omitempty"`
}

// RotateKeyResponse is the result of a key rotation.
type RotateKeyResponse struct {
	NewKid       string           `json:"new_kid"`
	Algorithm    string           `json:"algorithm"`
	RetiredKid   string           `json:"retired_kid,omitempty"`
	RetiredUntil *time.Time       `json:"retired_until,omitempty"`
	Keys         []SigningKeyInfo `json:"keys"`
}

// ListKeysResponse lists the keys in the key manager.
type ListKeysResponse struct {
	Keys []SigningKeyInfo `json:"keys"`
}
