package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"relaychat/internal/app"
	"relaychat/internal/crypto"
)

func initCmd() *cobra.Command {
	var defaultParams bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate the identity key pair for the relay's group and store it securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := getPassphrase(true)
			if err != nil {
				return err
			}

			params := crypto.DefaultDomainParams()
			if !defaultParams {
				params, err = wire.Relay.FetchParams(cmd.Context())
				if err != nil {
					return fmt.Errorf("fetching domain parameters (use --default-params offline): %w", err)
				}
			}

			id, created, err := wire.Identity.LoadOrGenerate(pass, params)
			if err != nil {
				return err
			}
			defer id.Wipe()

			cfgPath := filepath.Join(wire.Config.Home, app.ConfigFileName)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := app.SaveConfig(wire.Config); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintln(out, "Identity created.")
			} else {
				fmt.Fprintln(out, "Identity already present.")
			}
			fmt.Fprintf(out, "Fingerprint: %s\nGroup:       %s\n", id.Fingerprint(), id.ParamsFingerprint)
			return nil
		},
	}
	cmd.Flags().BoolVar(&defaultParams, "default-params", false,
		"use the built-in 2048-bit group instead of asking the relay")
	return cmd
}
