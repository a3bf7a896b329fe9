package domain

import "github.com/qhomebase/iam/pkg/authz"

// OverrideCounts tallies the overrides of one kind.
type OverrideCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Temporary int `json:"temporary"`
}

// PermissionSummary explains how a user's effective permissions in a
// tenant were derived.
type PermissionSummary struct {
	UserID    string
	TenantID  string
	Roles     []authz.Role
	Inherited []authz.Permission
	Grants    []PermissionOverride
	Denies    []PermissionOverride
	Effective []authz.Permission

	GrantCounts OverrideCounts
	DenyCounts  OverrideCounts
}
