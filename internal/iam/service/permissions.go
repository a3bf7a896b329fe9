package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/pkg/authz"
)

// PermissionResolver computes effective permissions from tenant roles,
// role bindings and per-user overrides. It only reads.
type PermissionResolver struct {
	Store store.Store
	Now   func() time.Time
}

var _ authz.PermissionSource = (*PermissionResolver)(nil)

func (r *PermissionResolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Roles returns the roles userID holds in tenantID, sorted.
func (r *PermissionResolver) Roles(ctx context.Context, userID, tenantID string) ([]authz.Role, error) {
	if err := requireIDs(userID, tenantID); err != nil {
		return nil, err
	}
	rows, err := r.Store.TenantRoles().ListForUser(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant roles: %w", err)
	}
	roles := make([]authz.Role, len(rows))
	for i, row := range rows {
		roles[i] = row.Role
	}
	return roles, nil
}

// EffectivePermissions returns (base ∪ grants) − denies for userID in
// tenantID, where base comes from the user's tenant roles and only
// overrides active at the resolver's clock count. Store errors are returned,
// never treated as an empty set.
func (r *PermissionResolver) EffectivePermissions(ctx context.Context, userID, tenantID string) (authz.PermissionSet, error) {
	in, err := r.load(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	return in.effective(), nil
}

// Summary explains the derivation of the effective set.
func (r *PermissionResolver) Summary(ctx context.Context, userID, tenantID string) (domain.PermissionSummary, error) {
	in, err := r.load(ctx, userID, tenantID)
	if err != nil {
		return domain.PermissionSummary{}, err
	}

	sum := domain.PermissionSummary{
		UserID:    userID,
		TenantID:  tenantID,
		Roles:     in.roles,
		Inherited: in.base.Sorted(),
		Grants:    []domain.PermissionOverride{},
		Denies:    []domain.PermissionOverride{},
		Effective: in.effective().Sorted(),
	}
	for _, o := range in.overrides {
		counts := &sum.GrantCounts
		if o.Kind == domain.OverrideDeny {
			counts = &sum.DenyCounts
			sum.Denies = append(sum.Denies, o)
		} else {
			sum.Grants = append(sum.Grants, o)
		}
		counts.Total++
		if o.IsActive(in.now) {
			counts.Active++
		}
		if o.IsTemporary() {
			counts.Temporary++
		}
	}
	return sum, nil
}

type resolverInput struct {
	now       time.Time
	roles     []authz.Role
	base      authz.PermissionSet
	overrides []domain.PermissionOverride
}

func (in resolverInput) effective() authz.PermissionSet {
	grants, denies := authz.PermissionSet{}, authz.PermissionSet{}
	for _, o := range in.overrides {
		if !o.IsActive(in.now) {
			continue
		}
		switch o.Kind {
		case domain.OverrideGrant:
			grants.Add(o.Permission)
		case domain.OverrideDeny:
			denies.Add(o.Permission)
		}
	}
	return authz.Resolve(in.base, grants, denies)
}

func (r *PermissionResolver) load(ctx context.Context, userID, tenantID string) (resolverInput, error) {
	roles, err := r.Roles(ctx, userID, tenantID)
	if err != nil {
		return resolverInput{}, err
	}

	bindings, err := r.Store.RolePermissions().ListByRoles(ctx, roles)
	if err != nil {
		return resolverInput{}, fmt.Errorf("load role permissions: %w", err)
	}
	base := authz.PermissionSet{}
	for _, b := range bindings {
		base.Add(b.Permission)
	}

	overrides, err := r.Store.Overrides().ListForUser(ctx, userID, tenantID)
	if err != nil {
		return resolverInput{}, fmt.Errorf("load permission overrides: %w", err)
	}

	return resolverInput{now: r.now(), roles: roles, base: base, overrides: overrides}, nil
}

func requireIDs(userID, tenantID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: user and tenant are required", ErrInvalidRequest)
	}
	return nil
}
