package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrPermissionDenied is the authorization-time rejection. It is distinct
// from authentication failures and maps to 403.
var ErrPermissionDenied = errors.New("authz: permission denied")

// Mode selects where permission checks get their effective set.
type Mode int

const (
	// ModeRecompute resolves permissions from the store on every check.
	ModeRecompute Mode = iota
	// ModeEmbedded trusts the permissions carried in the token.
	ModeEmbedded
)

// ParseMode accepts "recompute" or "embedded".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "recompute":
		return ModeRecompute, nil
	case "embedded":
		return ModeEmbedded, nil
	}
	return 0, fmt.Errorf("authz: unknown permission mode %q", s)
}

func (m Mode) String() string {
	if m == ModeEmbedded {
		return "embedded"
	}
	return "recompute"
}

// PermissionSource computes the effective permission set of a user in a
// tenant.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID, tenantID string) (PermissionSet, error)
}

// Decision reasons.
const (
	ReasonAllowed           = "allowed"
	ReasonMissingRole       = "missing_role"
	ReasonMissingPermission = "missing_permission"
	ReasonTenantMismatch    = "tenant_mismatch"
	ReasonNoRequirement     = "no_requirement"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil for an allow and ErrPermissionDenied otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Reason)
}

func allow() Decision { return Decision{Allowed: true, Reason: ReasonAllowed} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// Gate is the single chokepoint protected operations pass through. It has
// no side effects.
type Gate struct {
	mode     Mode
	resolver PermissionSource
}

// NewGate returns a Gate. ModeRecompute requires a resolver.
func NewGate(mode Mode, resolver PermissionSource) (*Gate, error) {
	if mode == ModeRecompute && resolver == nil {
		return nil, errors.New("authz: recompute mode needs a permission source")
	}
	return &Gate{mode: mode, resolver: resolver}, nil
}

// Mode returns the configured mode.
func (g *Gate) Mode() Mode { return g.mode }

// Authorize decides whether subject satisfies req. A non-nil error means the
// decision could not be made (e.g. the permission store failed) and the
// caller must treat it as a denial.
func (g *Gate) Authorize(ctx context.Context, subject Subject, req Requirement) (Decision, error) {
	switch r := req.(type) {
	case RequireRole:
		if r.TenantID != "" && subject.TenantID != r.TenantID {
			return deny(ReasonTenantMismatch), nil
		}
		if !subject.HasRole(r.Role) {
			return deny(ReasonMissingRole), nil
		}
		return allow(), nil

	case RequirePermission:
		if r.TenantID != "" && subject.TenantID != r.TenantID {
			return deny(ReasonTenantMismatch), nil
		}
		perms, err := g.permissionsOf(ctx, subject)
		if err != nil {
			return deny(ReasonMissingPermission), err
		}
		if !perms.Has(r.Permission) {
			return deny(ReasonMissingPermission), nil
		}
		return allow(), nil

	case AnyOfRequirement:
		if len(r) == 0 {
			return deny(ReasonNoRequirement), nil
		}
		var (
			last     = deny(ReasonNoRequirement)
			firstErr error
		)
		for _, inner := range r {
			d, err := g.Authorize(ctx, subject, inner)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if d.Allowed {
				return d, nil
			}
			last = d
		}
		return last, firstErr

	default:
		return deny(ReasonNoRequirement), fmt.Errorf("authz: unsupported requirement %T", req)
	}
}

// Effective returns the permission set the gate would check for subject.
func (g *Gate) Effective(ctx context.Context, subject Subject) (PermissionSet, error) {
	perms, err := g.permissionsOf(ctx, subject)
	if err != nil {
		return nil, err
	}
	return perms.Clone(), nil
}

func (g *Gate) permissionsOf(ctx context.Context, subject Subject) (PermissionSet, error) {
	// Service tokens have no user or tenant rows to resolve against; their
	// embedded permissions are the grant.
	if g.mode == ModeEmbedded || subject.IsService() {
		return subject.Permissions, nil
	}
	if subject.TenantID == "" {
		return PermissionSet{}, nil
	}
	perms, err := g.resolver.EffectivePermissions(ctx, subject.UserID, subject.TenantID)
	if err != nil {
		return nil, fmt.Errorf("authz: resolve permissions: %w", err)
	}
	return perms, nil
}
