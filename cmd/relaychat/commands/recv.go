package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// recv: fetch and decrypt queued messages.
func recvCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "recv",
		Aliases: []string{"receive"},
		Short:   "Fetch and decrypt your queued messages",
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

			recs, err := s.Receive(cmd.Context(), limit)
			for _, r := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", r.SenderID, r.Plaintext)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of messages to fetch (0 = all)")
	return cmd
}
