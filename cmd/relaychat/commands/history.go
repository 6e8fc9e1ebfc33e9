package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print decrypted messages from the local log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ml, err := wire.MessageLog()
			if err != nil {
				return err
			}
			recs, err := ml.Records()
			if err != nil {
				return err
			}
			if last > 0 && len(recs) > last {
				recs = recs[len(recs)-last:]
			}
			for _, r := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "#%d %s [%s] %s\n",
					r.Seq, r.ReceivedAt.Format(time.RFC3339), r.SenderID, r.Plaintext)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&last, "last", 0, "only print the last N messages")
	return cmd
}
