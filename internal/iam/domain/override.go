package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/qhomebase/iam/pkg/authz"
)

// OverrideKind is GRANT or DENY.
type OverrideKind string

const (
	OverrideGrant OverrideKind = "GRANT"
	OverrideDeny  OverrideKind = "DENY"
)

// ParseOverrideKind accepts either kind, case-insensitively.
func ParseOverrideKind(s string) (OverrideKind, error) {
	switch k := OverrideKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case OverrideGrant, OverrideDeny:
		return k, nil
	}
	return "", fmt.Errorf("domain: unknown override kind %q", s)
}

// PermissionOverride adds (GRANT) or removes (DENY) one permission for a
// user in a tenant, optionally until ExpiresAt. At most one override of each
// kind exists per (UserID, TenantID, Permission).
type PermissionOverride struct {
	UserID     string
	TenantID   string
	Permission authz.Permission
	Kind       OverrideKind
	ExpiresAt  *time.Time
	GrantedAt  time.Time
	GrantedBy  string
	Reason     string
}

// IsActive reports whether the override applies at now. An override whose
// expiry equals now has already lapsed.
func (o PermissionOverride) IsActive(now time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// IsTemporary reports whether the override has an expiry.
func (o PermissionOverride) IsTemporary() bool { return o.ExpiresAt != nil }
