package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/pkg/authz"
)

func overridesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overrides",
		Short: "Manage per-user permission overrides",
	}
	cmd.AddCommand(overrideSetCmd(domain.OverrideGrant))
	cmd.AddCommand(overrideSetCmd(domain.OverrideDeny))
	cmd.AddCommand(overrideRemoveCmd())
	cmd.AddCommand(overrideSummaryCmd())
	return cmd
}

func overrideSetCmd(kind domain.OverrideKind) *cobra.Command {
	var (
		userID   string
		tenantID string
		expires  time.Duration
		reason   string
	)

	verb := strings.ToLower(string(kind))
	cmd := &cobra.Command{
		Use:   verb + " PERMISSION",
		Short: fmt.Sprintf("%s a permission to a user in a tenant", strings.ToUpper(verb[:1])+verb[1:]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := authz.ParsePermission(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			req := service.OverrideRequest{
				UserID:     userID,
				TenantID:   tenantID,
				Permission: perm,
				Kind:       kind,
				Reason:     reason,
			}
			if expires > 0 {
				at := time.Now().Add(expires).UTC()
				req.ExpiresAt = &at
			}

			o, err := (&service.OverrideService{Store: e.db}).Set(ctxOf(cmd), actor(), req)
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(cmd, o)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s for %s in %s", o.Kind, o.Permission, o.UserID, o.TenantID)
			if o.ExpiresAt != nil {
				fmt.Fprintf(cmd.OutOrStdout(), " until %s", o.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().DurationVar(&expires, "expires-in", 0, "Make the override temporary")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the override exists")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func overrideRemoveCmd() *cobra.Command {
	var userID, tenantID, kind string
	cmd := &cobra.Command{
		Use:   "remove PERMISSION",
		Short: "Remove a GRANT or DENY override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := authz.ParsePermission(args[0])
			if err != nil {
				return err
			}
			k, err := domain.ParseOverrideKind(kind)
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := (&service.OverrideService{Store: e.db}).Remove(ctxOf(cmd), actor(), userID, tenantID, perm, k); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s for %s in %s\n", k, perm, userID, tenantID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&kind, "kind", "", "GRANT or DENY (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func overrideSummaryCmd() *cobra.Command {
	var userID, tenantID string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Explain a user's effective permissions in a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			sum, err := (&service.PermissionResolver{Store: e.db}).Summary(ctxOf(cmd), userID, tenantID)
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(cmd, sum)
			}
			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ROLES\t%s\n", joinStrings(sum.Roles))
			fmt.Fprintf(w, "INHERITED\t%s\n", joinStrings(sum.Inherited))
			for _, o := range append(sum.Grants, sum.Denies...) {
				state := "active"
				if !o.IsActive(now) {
					state = "expired"
				}
				fmt.Fprintf(w, "%s\t%s (%s)\n", o.Kind, o.Permission, state)
			}
			fmt.Fprintf(w, "EFFECTIVE\t%s\n", joinStrings(sum.Effective))
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func joinStrings[T ~string](items []T) string {
	if len(items) == 0 {
		return "-"
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = string(it)
	}
	return strings.Join(out, ", ")
}
