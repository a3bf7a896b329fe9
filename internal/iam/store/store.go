package store

import (
	"context"
	"errors"
	"time"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/pkg/authz"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Drivers expose sub-repositories
// so a Tx-scoped store can hand out the same repos without nesting
// transactions.
type Store interface {
	RolePermissions() RolePermissions
	TenantRoles() TenantRoles
	Overrides() Overrides
	RevokedTokens() RevokedTokens
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction. The caller must Commit or
	// Rollback the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type RolePermissions interface {
	// ListByRoles returns the bindings of every listed role.
	ListByRoles(ctx context.Context, roles []authz.Role) ([]domain.RolePermission, error)

	// ReplaceForRole sets the complete permission list of role.
	ReplaceForRole(ctx context.Context, role authz.Role, perms []authz.Permission, now time.Time) error

	Bind(ctx context.Context, b domain.RolePermission) error
	Unbind(ctx context.Context, role authz.Role, perm authz.Permission) error
}

type TenantRoles interface {
	// ListForUser returns the roles of userID in tenantID.
	ListForUser(ctx context.Context, userID, tenantID string) ([]domain.TenantRole, error)

	// Assign returns ErrAlreadyExists when the role is already held.
	Assign(ctx context.Context, r domain.TenantRole) error

	// Remove returns ErrNotFound when the role was not held.
	Remove(ctx context.Context, userID, tenantID string, role authz.Role) error
}

type Overrides interface {
	// ListForUser returns every override of userID in tenantID, including
	// expired ones.
	ListForUser(ctx context.Context, userID, tenantID string) ([]domain.PermissionOverride, error)

	// Upsert creates or replaces the override with the same user, tenant,
	// permission and kind.
	Upsert(ctx context.Context, o domain.PermissionOverride) error

	// Delete returns ErrNotFound when no such override exists.
	Delete(ctx context.Context, userID, tenantID string, perm authz.Permission, kind domain.OverrideKind) error

	// DeleteExpiredBefore removes overrides that expired before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type RevokedTokens interface {
	// Revoke records jti and reports whether this call created the entry.
	// An entry still live at t.RevokedAt is left unchanged.
	Revoke(ctx context.Context, t domain.RevokedToken) (bool, error)

	// IsRevoked reports whether jti is revoked and not yet past its expiry.
	IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error)

	// DeleteExpired removes entries whose token has expired.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type SigningKeys interface {
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	GetSigningKeyByKID(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListSigningKeys returns every stored key, oldest first.
	ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// RetireSigningKey stops kid from signing. It stays verifiable until
	// expiresAt.
	RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error

	// DeleteExpiredSigningKeys removes retired keys past their expiry.
	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error)
}
