package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/internal/iam/store/drivers/sqlite"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/cryptox"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/revocation"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))

	version, dirty, err := s.MigrationVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.EqualValues(t, 1, version)
}

func TestRolePermissions(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).RolePermissions()

	require.NoError(t, repo.Bind(ctx, domain.RolePermission{Role: "manager", Permission: "booking.read", CreatedAt: t0}))
	require.ErrorIs(t, repo.Bind(ctx, domain.RolePermission{Role: "manager", Permission: "booking.read", CreatedAt: t0}), store.ErrAlreadyExists)
	require.NoError(t, repo.ReplaceForRole(ctx, "staff", []authz.Permission{"invoice.read", "chat.send", "invoice.read"}, t0))

	got, err := repo.ListByRoles(ctx, []authz.Role{"manager", "staff", "ghost"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, authz.Role("manager"), got[0].Role)
	require.True(t, got[0].CreatedAt.Equal(t0))
	require.Equal(t, authz.Permission("chat.send"), got[1].Permission)

	require.NoError(t, repo.ReplaceForRole(ctx, "staff", nil, t0))
	got, err = repo.ListByRoles(ctx, []authz.Role{"staff"})
	require.NoError(t, err)
	require.Empty(t, got)

	empty, err := repo.ListByRoles(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, empty)

	require.NoError(t, repo.Unbind(ctx, "manager", "booking.read"))
	require.ErrorIs(t, repo.Unbind(ctx, "manager", "booking.read"), store.ErrNotFound)
}

func TestTenantRoles(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).TenantRoles()

	tr := domain.TenantRole{UserID: "u1", TenantID: "t1", Role: "resident", GrantedAt: t0, GrantedBy: "admin-1"}
	require.NoError(t, repo.Assign(ctx, tr))
	require.ErrorIs(t, repo.Assign(ctx, tr), store.ErrAlreadyExists)
	require.NoError(t, repo.Assign(ctx, domain.TenantRole{UserID: "u1", TenantID: "t2", Role: "manager", GrantedAt: t0}))

	got, err := repo.ListForUser(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, authz.Role("resident"), got[0].Role)
	require.Equal(t, "admin-1", got[0].GrantedBy)

	require.NoError(t, repo.Remove(ctx, "u1", "t1", "resident"))
	require.ErrorIs(t, repo.Remove(ctx, "u1", "t1", "resident"), store.ErrNotFound)
}

func TestOverrides(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Overrides()

	exp := t0.Add(time.Hour)
	grant := domain.PermissionOverride{
		UserID: "u1", TenantID: "t1", Permission: "invoice.pay", Kind: domain.OverrideGrant,
		ExpiresAt: &exp, GrantedAt: t0, GrantedBy: "admin", Reason: "temp",
	}
	deny := domain.PermissionOverride{
		UserID: "u1", TenantID: "t1", Permission: "invoice.pay", Kind: domain.OverrideDeny,
		GrantedAt: t0, GrantedBy: "admin",
	}
	require.NoError(t, repo.Upsert(ctx, grant))
	require.NoError(t, repo.Upsert(ctx, deny))

	// Same key replaces the previous override.
	grant.Reason = "extended"
	grant.ExpiresAt = nil
	require.NoError(t, repo.Upsert(ctx, grant))

	got, err := repo.ListForUser(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, domain.OverrideDeny, got[0].Kind)
	require.Equal(t, domain.OverrideGrant, got[1].Kind)
	require.Equal(t, "extended", got[1].Reason)
	require.Nil(t, got[1].ExpiresAt)

	require.NoError(t, repo.Delete(ctx, "u1", "t1", "invoice.pay", domain.OverrideDeny))
	require.ErrorIs(t, repo.Delete(ctx, "u1", "t1", "invoice.pay", domain.OverrideDeny), store.ErrNotFound)
}

func TestOverrides_DeleteExpiredBefore(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Overrides()

	past := t0.Add(-time.Hour)
	future := t0.Add(time.Hour)
	for perm, exp := range map[authz.Permission]*time.Time{"a.x": &past, "b.x": &future, "c.x": nil} {
		require.NoError(t, repo.Upsert(ctx, domain.PermissionOverride{
			UserID: "u", TenantID: "t", Permission: perm, Kind: domain.OverrideGrant, ExpiresAt: exp, GrantedAt: t0,
		}))
	}

	n, err := repo.DeleteExpiredBefore(ctx, t0)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := repo.ListForUser(ctx, "u", "t")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestRevocationRegistry(t *testing.T) {
	ctx := context.Background()
	now := t0
	reg := store.NewRevocationRegistry(newStore(t), func() time.Time { return now })

	_, err := reg.Revoke(ctx, " ", now.Add(time.Hour))
	require.ErrorIs(t, err, revocation.ErrEmptyJTI)

	first, err := reg.Revoke(ctx, "jti-1", now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, first)
	first, err = reg.Revoke(ctx, "jti-1", now.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, first, "live entry is not replaced")

	// Already-expired tokens are not recorded.
	first, err = reg.Revoke(ctx, "jti-old", now.Add(-time.Second))
	require.NoError(t, err)
	require.False(t, first)

	revoked, err := reg.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = reg.IsRevoked(ctx, "jti-old")
	require.NoError(t, err)
	require.False(t, revoked)

	now = t0.Add(59 * time.Minute)
	revoked, err = reg.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	// The first expiry stands.
	now = t0.Add(90 * time.Minute)
	revoked, err = reg.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	// A stale row that was never purged is replaced and reported as new.
	first, err = reg.Revoke(ctx, "jti-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, first)

	now = t0.Add(2 * time.Hour)
	n, err := reg.Purge(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSigningKeys(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).SigningKeys()

	k1 := domain.SigningKey{ID: "01", KID: "kid-1", Algorithm: "EdDSA", PrivateKeyEncrypted: []byte{1, 2, 3}, CreatedAt: t0}
	k2 := domain.SigningKey{ID: "02", KID: "kid-2", Algorithm: "EdDSA", PrivateKeyEncrypted: []byte{4}, CreatedAt: t0.Add(time.Minute)}
	require.NoError(t, repo.CreateSigningKey(ctx, k2))
	require.NoError(t, repo.CreateSigningKey(ctx, k1))
	require.ErrorIs(t, repo.CreateSigningKey(ctx, k1), store.ErrAlreadyExists)

	keys, err := repo.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, "kid-1", keys[0].KID)
	require.True(t, keys[0].IsActive())

	until := t0.Add(time.Hour)
	require.NoError(t, repo.RetireSigningKey(ctx, "kid-1", t0, until))
	require.ErrorIs(t, repo.RetireSigningKey(ctx, "kid-1", t0, until), store.ErrNotFound)

	got, err := repo.GetSigningKeyByKID(ctx, "kid-1")
	require.NoError(t, err)
	require.False(t, got.IsActive())
	require.True(t, got.ExpiresAt.Equal(until))
	require.Equal(t, []byte{1, 2, 3}, got.PrivateKeyEncrypted)

	_, err = repo.GetSigningKeyByKID(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := repo.DeleteExpiredSigningKeys(ctx, until)
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = repo.DeleteExpiredSigningKeys(ctx, until.Add(time.Millisecond))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.TenantRoles().Assign(ctx, domain.TenantRole{UserID: "u", TenantID: "t", Role: "admin", GrantedAt: t0}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	roles, err := s.TenantRoles().ListForUser(ctx, "u", "t")
	require.NoError(t, err)
	require.Empty(t, roles)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.TenantRoles().Assign(ctx, domain.TenantRole{UserID: "u", TenantID: "t", Role: "admin", GrantedAt: t0})
	}))
	roles, err = s.TenantRoles().ListForUser(ctx, "u", "t")
	require.NoError(t, err)
	require.Len(t, roles, 1)
}

func TestPersistentKeyManager_OverSQLite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	sealer, err := cryptox.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	opts := jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA},
		Store:             store.NewKeyStoreAdapter(s),
		Sealer:            sealer,
	}
	first, err := jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)
	kid, err := first.ActiveKeyID()
	require.NoError(t, err)

	second, err := jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)
	reloaded, err := second.ActiveKeyID()
	require.NoError(t, err)
	require.Equal(t, kid, reloaded)
}
