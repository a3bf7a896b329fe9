package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  "Apply pending migrations and report the resulting schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			version, dirty, err := e.db.MigrationVersion()
			if err != nil {
				return fmt.Errorf("reading migration version: %w", err)
			}

			if output == "json" {
				return printJSON(cmd, map[string]any{
					"database": e.cfg.DatabaseFile,
					"version":  version,
					"dirty":    dirty,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %d", e.cfg.DatabaseFile, version)
			if dirty {
				fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	return cmd
}
