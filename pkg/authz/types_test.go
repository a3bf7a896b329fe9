package authz_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qhomebase/iam/pkg/authz"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    authz.Role
		wantErr bool
	}{
		{"tenant_manager", authz.RoleTenantManager, false},
		{"  Resident ", authz.RoleResident, false},
		{"ROLE_admin", "role_admin", false},
		{"", "", true},
		{"1admin", "", true},
		{"tenant-manager", "", true},
		{"a.b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := authz.ParseRole(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, authz.ErrInvalidName)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParsePermission(t *testing.T) {
	tests := []struct {
		in      string
		want    authz.Permission
		wantErr bool
	}{
		{"base.view", "base.view", false},
		{"iam.user.permission.read", authz.PermUserPermissionRead, false},
		{"INVOICE.Export", "invoice.export", false},
		{"billing", "billing", false},
		{"", "", true},
		{".view", "", true},
		{"base..view", "", true},
		{"base view", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := authz.ParsePermission(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, authz.ErrInvalidName)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSetsFromStrings_DropInvalid(t *testing.T) {
	roles := authz.RolesFromStrings([]string{"resident", "bad role", "resident"})
	require.Equal(t, []string{"resident"}, roles.Strings())

	perms := authz.PermissionsFromStrings([]string{"b.view", "a.edit", "??"})
	require.Equal(t, []string{"a.edit", "b.view"}, perms.Strings())
}

func TestResolve(t *testing.T) {
	p := authz.NewPermissionSet

	tests := []struct {
		name   string
		base   authz.PermissionSet
		grants authz.PermissionSet
		denies authz.PermissionSet
		want   []string
	}{
		{
			name:   "deny removes role permission",
			base:   p("base.view", "base.edit"),
			denies: p("base.edit"),
			want:   []string{"base.view"},
		},
		{
			name:   "grant supplements roles",
			base:   p("base.view"),
			grants: p("invoice.view"),
			want:   []string{"base.view", "invoice.view"},
		},
		{
			name:   "deny beats grant",
			grants: p("invoice.view"),
			denies: p("invoice.view"),
			want:   []string{},
		},
		{
			name: "nothing",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := authz.Resolve(tt.base, tt.grants, tt.denies)
			require.Equal(t, tt.want, got.Strings())
		})
	}

	t.Run("inputs are not mutated", func(t *testing.T) {
		base := p("base.view", "base.edit")
		authz.Resolve(base, p("x.y"), p("base.edit"))
		require.Equal(t, []string{"base.edit", "base.view"}, base.Strings())
	})
}
