package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// send <message>: encrypt a message for everyone on the roster.
func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Encrypt and send a message to every other participant",
		Args:  cobra.MinimumNArgs(1),
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
			bundle, err := s.Send(cmd.Context(), []byte(strings.Join(args, " ")))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent to %d recipient(s)\n", len(bundle.Recipients))
			return nil
		},
	}
	return cmd
}
