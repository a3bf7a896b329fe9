package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/pkg/authz"
)

type rolePermissionsRepo struct {
	db dbtx
}

func (r *rolePermissionsRepo) ListByRoles(ctx context.Context, roles []authz.Role) ([]domain.RolePermission, error) {
	if len(roles) == 0 {
		return []domain.RolePermission{}, nil
	}

	args := make([]any, len(roles))
	for i, role := range roles {
		args[i] = string(role)
	}
	query := `SELECT role, permission, created_at FROM role_permissions
WHERE role IN (?` + strings.Repeat(",?", len(roles)-1) + `)
ORDER BY role, permission`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.RolePermission{}
	for rows.Next() {
		var (
			b         domain.RolePermission
			createdAt int64
		)
		if err := rows.Scan(&b.Role, &b.Permission, &createdAt); err != nil {
			return nil, err
		}
		b.CreatedAt = fromMillis(createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *rolePermissionsRepo) ReplaceForRole(ctx context.Context, role authz.Role, perms []authz.Permission, now time.Time) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM role_permissions WHERE role = ?`, string(role)); err != nil {
		return err
	}
	for _, p := range perms {
		_, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO role_permissions (role, permission, created_at) VALUES (?, ?, ?)`,
			string(role), string(p), toMillis(now),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *rolePermissionsRepo) Bind(ctx context.Context, b domain.RolePermission) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO role_permissions (role, permission, created_at) VALUES (?, ?, ?)`,
		string(b.Role), string(b.Permission), toMillis(b.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *rolePermissionsRepo) Unbind(ctx context.Context, role authz.Role, perm authz.Permission) error {
	return requireAffected(r.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role = ? AND permission = ?`,
		string(role), string(perm),
	))
}
