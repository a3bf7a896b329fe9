package sqlite

import (
	"context"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/pkg/authz"
)

type tenantRolesRepo struct {
	db dbtx
}

func (r *tenantRolesRepo) ListForUser(ctx context.Context, userID, tenantID string) ([]domain.TenantRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, tenant_id, role, granted_at, granted_by FROM tenant_roles
WHERE user_id = ? AND tenant_id = ? ORDER BY role`,
		userID, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.TenantRole{}
	for rows.Next() {
		var (
			tr        domain.TenantRole
			grantedAt int64
		)
		if err := rows.Scan(&tr.UserID, &tr.TenantID, &tr.Role, &grantedAt, &tr.GrantedBy); err != nil {
			return nil, err
		}
		tr.GrantedAt = fromMillis(grantedAt)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (r *tenantRolesRepo) Assign(ctx context.Context, tr domain.TenantRole) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenant_roles (user_id, tenant_id, role, granted_at, granted_by) VALUES (?, ?, ?, ?, ?)`,
		tr.UserID, tr.TenantID, string(tr.Role), toMillis(tr.GrantedAt), tr.GrantedBy,
	)
	return mapConstraint(err)
}

func (r *tenantRolesRepo) Remove(ctx context.Context, userID, tenantID string, role authz.Role) error {
	return requireAffected(r.db.ExecContext(ctx,
		`DELETE FROM tenant_roles WHERE user_id = ? AND tenant_id = ? AND role = ?`,
		userID, tenantID, string(role),
	))
}
