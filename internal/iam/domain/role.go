package domain

import (
	"time"

	"github.com/qhomebase/iam/pkg/authz"
)

// RolePermission binds a permission code to a role, globally.
type RolePermission struct {
	Role       authz.Role
	Permission authz.Permission
	CreatedAt  time.Time
}

// TenantRole grants a role to a user inside one tenant. (UserID, TenantID,
// Role) is unique.
type TenantRole struct {
	UserID    string
	TenantID  string
	Role      authz.Role
	GrantedAt time.Time
	GrantedBy string
}
