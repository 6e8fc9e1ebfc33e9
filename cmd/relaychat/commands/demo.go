package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/relay"
	"relaychat/internal/services/identity"
	"relaychat/internal/services/session"
	"relaychat/internal/store"
	"relaychat/internal/transport/memory"
)

// demo runs a whole conversation in one process, no relay needed.
func demoCmd() *cobra.Command {
	var (
		names   []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:         "demo",
		Short:       "Run an in-process conversation between several participants",
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(names) < 2 {
				return fmt.Errorf("demo needs at least two participants, got %d", len(names))
			}
			suite, err := crypto.NewSuite(nil, hashName, aeadName)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runDemo(ctx, cmd, suite, names)
		},
	}
	cmd.Flags().StringSliceVar(&names, "participants", []string{"alice", "bob", "carol"}, "participant ids")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")
	return cmd
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func runDemo(ctx context.Context, cmd *cobra.Command, suite crypto.Suite, names []string) error {
	l := log.New(zapcore.Lock(os.Stderr), log.ParseLevel(orDefault(logLevel, "warn")), logJSON)
	clock := clockwork.NewRealClock()
	broker := memory.New(relay.NewHub(crypto.DefaultDomainParams(), clock, l), l)
	out := cmd.OutOrStdout()

	sessions := make([]*session.Session, 0, len(names))
	defer func() {
		for _, s := range sessions {
			_ = s.Close()
		}
		broker.Wait()
	}()
	for _, name := range names {
		s, err := session.New(session.Config{
			Self:      domain.ParticipantID(name),
			Suite:     suite,
			Directory: broker,
			Transport: broker,
			Mailbox:   broker,
			Messages:  store.NewMemoryLog(clock),
			Identity: func(params *crypto.DomainParams) (domain.Identity, error) {
				return identity.NewEphemeralIdentity(nil, params)
			},
			Clock: clock,
			Log:   l.Named(name),
		})
		if err != nil {
			return err
		}
		sessions = append(sessions, s)
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\n", s.Self(), s.Fingerprint())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range sessions {
		if _, err := s.Refresh(ctx); err != nil {
			return err
		}
	}
	for _, s := range sessions {
		text := fmt.Sprintf("hello from %s", s.Self())
		bundle, err := s.Send(ctx, []byte(text))
		if err != nil {
			return fmt.Errorf("%s send: %w", s.Self(), err)
		}
		fmt.Fprintf(out, "%s -> %d envelope(s): %q\n", s.Self(), len(bundle.Recipients), text)
	}

	want := len(names) - 1
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		done := true
		for _, s := range sessions {
			recs, err := s.Messages()
			if err != nil {
				return err
			}
			if len(recs) < want {
				done = false
			}
		}
		if done {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("not every message arrived: %w", ctx.Err())
		case <-ticker.Chan():
		}
	}

	for _, s := range sessions {
		recs, _ := s.Messages()
		got := make([]string, len(recs))
		for i, r := range recs {
			got[i] = fmt.Sprintf("%s: %s", r.SenderID, r.Plaintext)
		}
		fmt.Fprintf(out, "%s received [%s]\n", s.Self(), strings.Join(got, "; "))
	}
	fmt.Fprintln(out, "ok")
	return nil
}
