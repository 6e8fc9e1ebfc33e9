package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"relaychat/internal/crypto"
)

func rosterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roster",
		Short: "List the participants registered with the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := wire.Relay.FetchRoster(cmd.Context())
			if err != nil {
				return err
			}
			self, err := wire.Self()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, id := range r.IDs() {
				mark := ""
				if id == self {
					mark = "(you)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", id, crypto.Fingerprint(r[id]), mark)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d participant(s)\n", len(r))
			return nil
		},
	}
}
