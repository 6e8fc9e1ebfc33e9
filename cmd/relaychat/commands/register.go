package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Publish your public key to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := getPassphrase(false)
			if err != nil {
				return err
			}
			s, err := wire.NewSession(pass, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Start(cmd.Context()); err != nil {
				return err
			}
			if err := wire.Remember(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered as %s\nFingerprint: %s\n", s.Self(), s.Fingerprint())
			return nil
		},
	}
	return cmd
}
