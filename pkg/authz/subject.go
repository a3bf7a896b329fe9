package authz

import "github.com/qhomebase/iam/pkg/jwtx"

// Subject is the verified caller, passed explicitly to everything that
// makes an access decision.
type Subject struct {
	UserID   string
	Username string
	TenantID string
	Roles    RoleSet
	// Permissions as embedded at issuance. Only authoritative in
	// ModeEmbedded and for service tokens.
	Permissions PermissionSet
	TokenType   jwtx.TokenType
	TokenID     string
}

// SubjectFromClaims converts verified claims into typed form. Role and
// permission strings that fail validation are dropped.
func SubjectFromClaims(c jwtx.Claims) Subject {
	return Subject{
		UserID:      c.UserID,
		Username:    c.Username(),
		TenantID:    c.Tenant,
		Roles:       RolesFromStrings(c.Roles),
		Permissions: PermissionsFromStrings(c.Perms),
		TokenType:   c.Type,
		TokenID:     c.ID,
	}
}

// IsService reports whether the subject authenticated with a service token.
func (s Subject) IsService() bool { return s.TokenType == jwtx.TokenTypeService }

// HasRole reports whether the subject holds role in its token tenant.
func (s Subject) HasRole(role Role) bool { return s.Roles.Has(role) }

// HasAnyRole reports whether the subject holds at least one of roles.
func (s Subject) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if s.Roles.Has(r) {
			return true
		}
	}
	return false
}

// SameTenant reports whether the subject is scoped to tenantID.
func (s Subject) SameTenant(tenantID string) bool {
	return tenantID != "" && s.TenantID == tenantID
}
