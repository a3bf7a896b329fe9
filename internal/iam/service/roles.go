package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/slogx"
)

// RolesService manages role bindings and tenant role assignments.
type RolesService struct {
	Store store.Store
	Now   func() time.Time
}

// Permissions returns the permissions bound to role, sorted.
func (s *RolesService) Permissions(ctx context.Context, role authz.Role) ([]authz.Permission, error) {
	rows, err := s.Store.RolePermissions().ListByRoles(ctx, []authz.Role{role})
	if err != nil {
		return nil, err
	}
	perms := make([]authz.Permission, len(rows))
	for i, row := range rows {
		perms[i] = row.Permission
	}
	return perms, nil
}

// SetPermissions replaces the permission list of role atomically.
func (s *RolesService) SetPermissions(ctx context.Context, role authz.Role, perms []authz.Permission) ([]authz.Permission, error) {
	set := authz.NewPermissionSet(perms...)
	sorted := set.Sorted()

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.RolePermissions().ReplaceForRole(ctx, role, sorted, nowFrom(s.Now))
	})
	if err != nil {
		return nil, fmt.Errorf("replace role permissions: %w", err)
	}
	slogx.FromContext(ctx).Info("role permissions replaced", "role", role, "count", len(sorted))
	return sorted, nil
}

// Bind adds one permission to role. Binding twice is not an error.
func (s *RolesService) Bind(ctx context.Context, role authz.Role, perm authz.Permission) error {
	err := s.Store.RolePermissions().Bind(ctx, domain.RolePermission{Role: role, Permission: perm, CreatedAt: nowFrom(s.Now)})
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}
	return nil
}

// Assign grants role to userID in tenantID. store.ErrAlreadyExists when the
// role is already held.
func (s *RolesService) Assign(ctx context.Context, actor, userID, tenantID string, role authz.Role) (domain.TenantRole, error) {
	if err := requireIDs(userID, tenantID); err != nil {
		return domain.TenantRole{}, err
	}
	tr := domain.TenantRole{
		UserID:    userID,
		TenantID:  tenantID,
		Role:      role,
		GrantedAt: nowFrom(s.Now),
		GrantedBy: actor,
	}
	if err := s.Store.TenantRoles().Assign(ctx, tr); err != nil {
		return domain.TenantRole{}, err
	}
	slogx.FromContext(ctx).Info("tenant role assigned", "user_id", userID, "tenant_id", tenantID, "role", role, "by", actor)
	return tr, nil
}

// Remove revokes role from userID in tenantID. store.ErrNotFound when it
// was not held.
func (s *RolesService) Remove(ctx context.Context, actor, userID, tenantID string, role authz.Role) error {
	if err := requireIDs(userID, tenantID); err != nil {
		return err
	}
	if err := s.Store.TenantRoles().Remove(ctx, userID, tenantID, role); err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("tenant role removed", "user_id", userID, "tenant_id", tenantID, "role", role, "by", actor)
	return nil
}
