package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/pkg/authz"
)

type overridesRepo struct {
	db dbtx
}

func (r *overridesRepo) ListForUser(ctx context.Context, userID, tenantID string) ([]domain.PermissionOverride, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, tenant_id, permission, kind, expires_at, granted_at, granted_by, reason
FROM permission_overrides WHERE user_id = ? AND tenant_id = ? ORDER BY kind, permission`,
		userID, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.PermissionOverride{}
	for rows.Next() {
		var (
			o         domain.PermissionOverride
			expiresAt sql.NullInt64
			grantedAt int64
		)
		err := rows.Scan(&o.UserID, &o.TenantID, &o.Permission, &o.Kind, &expiresAt, &grantedAt, &o.GrantedBy, &o.Reason)
		if err != nil {
			return nil, err
		}
		o.ExpiresAt = fromNullMillis(expiresAt)
		o.GrantedAt = fromMillis(grantedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *overridesRepo) Upsert(ctx context.Context, o domain.PermissionOverride) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO permission_overrides
    (user_id, tenant_id, permission, kind, expires_at, granted_at, granted_by, reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, tenant_id, permission, kind) DO UPDATE SET
    expires_at = excluded.expires_at,
    granted_at = excluded.granted_at,
    granted_by = excluded.granted_by,
    reason     = excluded.reason`,
		o.UserID, o.TenantID, string(o.Permission), string(o.Kind),
		toNullMillis(o.ExpiresAt), toMillis(o.GrantedAt), o.GrantedBy, o.Reason,
	)
	return err
}

func (r *overridesRepo) Delete(ctx context.Context, userID, tenantID string, perm authz.Permission, kind domain.OverrideKind) error {
	return requireAffected(r.db.ExecContext(ctx,
		`DELETE FROM permission_overrides WHERE user_id = ? AND tenant_id = ? AND permission = ? AND kind = ?`,
		userID, tenantID, string(perm), string(kind),
	))
}

func (r *overridesRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM permission_overrides WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		toMillis(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
