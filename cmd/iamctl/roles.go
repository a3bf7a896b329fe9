package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/pkg/authz"
)

func rolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage role permissions and tenant role assignments",
	}
	cmd.AddCommand(rolesShowCmd())
	cmd.AddCommand(rolesBindCmd())
	cmd.AddCommand(rolesAssignCmd())
	cmd.AddCommand(rolesRemoveCmd())
	return cmd
}

func rolesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ROLE",
		Short: "List the permissions bound to a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := authz.ParseRole(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			perms, err := (&service.RolesService{Store: e.db}).Permissions(ctxOf(cmd), role)
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(cmd, map[string]any{"role": role, "permissions": perms})
			}
			for _, p := range perms {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func rolesBindCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "bind ROLE PERMISSION...",
		Short:   "Bind permissions to a role",
		Example: "  iamctl roles bind admin iam.token.issue iam.tenant.role.assign",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := authz.ParseRole(args[0])
			if err != nil {
				return err
			}
			perms := make([]authz.Permission, 0, len(args)-1)
			for _, arg := range args[1:] {
				p, err := authz.ParsePermission(arg)
				if err != nil {
					return err
				}
				perms = append(perms, p)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			roles := &service.RolesService{Store: e.db}
			for _, p := range perms {
				if err := roles.Bind(ctxOf(cmd), role, p); err != nil {
					return fmt.Errorf("binding %s: %w", p, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bound %d permission(s) to %s\n", len(perms), role)
			return nil
		},
	}
}

type assignment struct {
	userID   string
	tenantID string
	role     string
}

func (a *assignment) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&a.tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&a.role, "role", "", "Role (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("role")
}

func rolesAssignCmd() *cobra.Command {
	var a assignment
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a role to a user in a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := authz.ParseRole(a.role)
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			tr, err := (&service.RolesService{Store: e.db}).Assign(ctxOf(cmd), actor(), a.userID, a.tenantID, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s to %s in %s\n", tr.Role, tr.UserID, tr.TenantID)
			return nil
		},
	}
	a.register(cmd)
	return cmd
}

func rolesRemoveCmd() *cobra.Command {
	var a assignment
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a role from a user in a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := authz.ParseRole(a.role)
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := (&service.RolesService{Store: e.db}).Remove(ctxOf(cmd), actor(), a.userID, a.tenantID, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s in %s\n", role, a.userID, a.tenantID)
			return nil
		},
	}
	a.register(cmd)
	return cmd
}
