package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaychat/internal/services/session"
)

func listenCmd() *cobra.Command {
	var (
		chat        bool
		paramsCheck time.Duration
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print messages as they arrive",
		Long: "Subscribe to the roster and your message queue and print every message\n" +
			"as it is decrypted. With --chat each line read from stdin is sent to the\n" +
			"other participants.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := getPassphrase(false)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := wire.NewSession(pass, false)
			if err != nil {
				return err
			}
			defer s.Close()

			events, unlisten := s.Events()
			defer unlisten()
			if err := s.Start(ctx); err != nil {
				return err
			}
			if err := wire.Remember(s); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "listening as %s (%s), ctrl-c to stop\n", s.Self(), s.Fingerprint())
			fmt.Fprintln(out, "a busy terminal may skip events; run `relaychat history` for the full log")

			if chat {
				go readLines(ctx, s, cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			if paramsCheck > 0 {
				go watchParams(ctx, s, paramsCheck, cmd.ErrOrStderr())
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					printEvent(out, ev)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&chat, "chat", false, "send each line read from stdin")
	cmd.Flags().DurationVar(&paramsCheck, "params-check", time.Minute,
		"how often to check the relay for new domain parameters (0 disables)")
	return cmd
}

func printEvent(w io.Writer, ev session.Event) {
	switch ev.Kind {
	case session.EventMessage:
		fmt.Fprintf(w, "[%s] %s\n", ev.Record.SenderID, ev.Record.Plaintext)
	case session.EventSent:
		fmt.Fprintf(w, "* sent to %d recipient(s)\n", ev.Recipients)
	case session.EventRoster:
		fmt.Fprintf(w, "* %d participant(s) online\n", ev.RosterSize)
	case session.EventReset:
		fmt.Fprintf(w, "* relay changed its group, new identity bound (%d participant(s))\n", ev.RosterSize)
	case session.EventError:
		fmt.Fprintf(w, "! %v\n", ev.Err)
	}
}

func readLines(ctx context.Context, s *session.Session, in io.Reader, errw io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if _, err := s.Send(ctx, []byte(line)); err != nil {
			fmt.Fprintf(errw, "send: %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func watchParams(ctx context.Context, s *session.Session, every time.Duration, errw io.Writer) {
	ticker := wire.Clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.Reset(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(errw, "params check: %v\n", err)
			}
		}
	}
}
