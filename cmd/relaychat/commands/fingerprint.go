package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print identity fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := getPassphrase(false)
			if err != nil {
				return err
			}
			id, err := wire.Identity.LoadIdentity(pass)
			if err != nil {
				return err
			}
			defer id.Wipe()
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\nGroup:       %s\n", id.Fingerprint(), id.ParamsFingerprint)
			return nil
		},
	}
	return cmd
}
