package sqlite

import (
	"context"
	"database/sql"

	"github.com/qhomebase/iam/internal/iam/store"
)

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Close is a no-op; the outer database stays open.
func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(context.Context) error { return nil }

// Nested transactions are not supported.
func (t *txStore) Tx(context.Context) (store.Tx, error) { return nil, sql.ErrTxDone }

func (t *txStore) WithTx(context.Context, func(tx store.Tx) error) error { return sql.ErrTxDone }

func (t *txStore) ApplyMigrations() error { return nil }

func (t *txStore) RolePermissions() store.RolePermissions { return &rolePermissionsRepo{db: t.tx} }
func (t *txStore) TenantRoles() store.TenantRoles         { return &tenantRolesRepo{db: t.tx} }
func (t *txStore) Overrides() store.Overrides             { return &overridesRepo{db: t.tx} }
func (t *txStore) RevokedTokens() store.RevokedTokens     { return &revokedTokensRepo{db: t.tx} }
func (t *txStore) SigningKeys() store.SigningKeys         { return &signingKeysRepo{db: t.tx} }
