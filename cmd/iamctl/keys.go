package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/qhomebase/iam/internal/iam/app"
	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/pkg/cryptox"
	"github.com/qhomebase/iam/pkg/jwtx"
)

// loadKeys opens the signing keys the service itself would use. Only keys
// that outlive the process are useful here.
func loadKeys(cmd *cobra.Command, e *env) (*jwtx.KeyManager, *cryptox.Sealer, error) {
	if e.cfg.Algorithm != jwtx.AlgorithmHS256 && e.cfg.KeyStorageMode != app.KeyStoragePersistent {
		return nil, nil, errors.New("signing keys are ephemeral; set IAM_KEY_STORAGE_MODE=persistent or use HS256")
	}

	sealer, err := cryptox.LoadSealer(e.cfg.MasterKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load master key: %w", err)
	}
	if e.cfg.Algorithm != jwtx.AlgorithmHS256 && sealer.Ephemeral() {
		return nil, nil, fmt.Errorf("no master key configured; set IAM_MASTER_KEY_PATH or %s", cryptox.MasterKeyEnv)
	}

	km, err := app.InitKeys(ctxOf(cmd), e.cfg, e.db, sealer, e.logger)
	if err != nil {
		return nil, nil, err
	}
	return km, sealer, nil
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys",
	}
	cmd.AddCommand(keysListCmd())
	cmd.AddCommand(keysRotateCmd())
	return cmd
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List signing and verification keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			km, _, err := loadKeys(cmd, e)
			if err != nil {
				return err
			}
			return printKeys(cmd, km.Keys())
		},
	}
}

func keysRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Generate a new signing key and retire the current one",
		Long: "Generate a new signing key and retire the current one. Running " +
			"services pick up the new key on their next start.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if e.cfg.Algorithm == jwtx.AlgorithmHS256 {
				return errors.New("HS256 keys come from IAM_HMAC_SECRET; change the secret to rotate")
			}
			km, sealer, err := loadKeys(cmd, e)
			if err != nil {
				return err
			}

			rotation := &service.KeyRotationService{Store: e.db, Sealer: sealer, KeyManager: km}
			res, err := rotation.Rotate(ctxOf(cmd))
			if err != nil {
				return fmt.Errorf("rotation failed: %w", err)
			}

			if output == "json" {
				return printJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rotated to %s (%s)\n", res.NewKID, res.Algorithm)
			if res.RetiredKID != "" && res.RetiredUntil != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Retired %s, verifies until %s\n", res.RetiredKID, res.RetiredUntil.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func printKeys(cmd *cobra.Command, keys []jwtx.KeyInfo) error {
	if output == "json" {
		return printJSON(cmd, keys)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KID\tALGORITHM\tSTATE\tRETIRED UNTIL")
	for _, k := range keys {
		state, until := "retired", "-"
		switch {
		case k.Active:
			state = "active"
		case k.Static:
			state = "static"
		}
		if k.RetiredUntil != nil {
			until = k.RetiredUntil.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.KID, k.Algorithm, state, until)
	}
	return w.Flush()
}
