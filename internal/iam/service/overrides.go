package service

import (
	"context"
	"fmt"
	"time"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/slogx"
)

// OverrideService manages per-user GRANT and DENY overrides.
type OverrideService struct {
	Store store.Store
	Now   func() time.Time
}

// OverrideRequest describes one override to set.
type OverrideRequest struct {
	UserID     string
	TenantID   string
	Permission authz.Permission
	Kind       domain.OverrideKind
	ExpiresAt  *time.Time
	Reason     string
}

// Set creates or replaces the override of the same kind. An expiry must lie
// in the future.
func (s *OverrideService) Set(ctx context.Context, actor string, req OverrideRequest) (domain.PermissionOverride, error) {
	if err := requireIDs(req.UserID, req.TenantID); err != nil {
		return domain.PermissionOverride{}, err
	}
	if _, err := authz.ParsePermission(string(req.Permission)); err != nil {
		return domain.PermissionOverride{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Kind != domain.OverrideGrant && req.Kind != domain.OverrideDeny {
		return domain.PermissionOverride{}, fmt.Errorf("%w: unknown override kind %q", ErrInvalidRequest, req.Kind)
	}

	now := nowFrom(s.Now)
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return domain.PermissionOverride{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidRequest)
	}

	o := domain.PermissionOverride{
		UserID:     req.UserID,
		TenantID:   req.TenantID,
		Permission: req.Permission,
		Kind:       req.Kind,
		ExpiresAt:  req.ExpiresAt,
		GrantedAt:  now,
		GrantedBy:  actor,
		Reason:     req.Reason,
	}
	if err := s.Store.Overrides().Upsert(ctx, o); err != nil {
		return domain.PermissionOverride{}, err
	}

	slogx.FromContext(ctx).Info("permission override set",
		"user_id", o.UserID, "tenant_id", o.TenantID,
		"permission", o.Permission, "kind", o.Kind, "by", actor,
	)
	return o, nil
}

// Remove deletes an override. store.ErrNotFound when none exists.
func (s *OverrideService) Remove(ctx context.Context, actor, userID, tenantID string, perm authz.Permission, kind domain.OverrideKind) error {
	if err := requireIDs(userID, tenantID); err != nil {
		return err
	}
	if err := s.Store.Overrides().Delete(ctx, userID, tenantID, perm, kind); err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("permission override removed",
		"user_id", userID, "tenant_id", tenantID, "permission", perm, "kind", kind, "by", actor,
	)
	return nil
}

func nowFrom(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now()
}
