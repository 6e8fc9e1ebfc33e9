package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"relaychat/internal/app"
)

// passphraseEnv supplies the passphrase for non-interactive use.
const passphraseEnv = "RELAYCHAT_PASSPHRASE"

var (
	home       string
	passphrase string
	wire       *app.Wire

	relayURL     string
	participant  string
	entropyFile  string
	hashName     string
	aeadName     string
	messageLog   string
	pollInterval time.Duration
	logLevel     string
	logJSON      bool
)

// Execute runs the CLI.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	wire = nil
	root := &cobra.Command{
		Use:           "relaychat",
		Short:         "Multi-party encrypted chat over a relay",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			dir, err := app.ResolveHome(home)
			if err != nil {
				return err
			}
			cfg, err := app.LoadConfig(dir)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg)

			wire, err = app.NewWire(cfg)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&home, "home", "", "config dir (default ~/.relaychat)")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity (or $"+passphraseEnv+")")
	pf.StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	pf.StringVar(&participant, "id", "", "participant id to register under (default: assigned by the relay)")
	pf.StringVar(&entropyFile, "entropy-file", "", "read randomness from this character device (e.g. a hardware RNG) instead of the OS")
	pf.StringVar(&hashName, "hash", "", "key derivation hash: sha256 or blake2b-256")
	pf.StringVar(&aeadName, "aead", "", "cipher: aes-256-gcm or chacha20-poly1305")
	pf.StringVar(&messageLog, "message-log", "", "message log: memory or bolt")
	pf.DurationVar(&pollInterval, "poll", 0, "relay poll interval")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		rosterCmd(),
		sendCmd(),
		recvCmd(),
		listenCmd(),
		historyCmd(),
		demoCmd(),
	)
	return root
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *app.Config) {
	changed := cmd.Flags().Changed
	if changed("relay") {
		cfg.RelayURL = relayURL
	}
	if changed("id") {
		cfg.ParticipantID = participant
	}
	if changed("entropy-file") {
		cfg.EntropyFile = entropyFile
	}
	if changed("hash") {
		cfg.Hash = hashName
	}
	if changed("aead") {
		cfg.AEAD = aeadName
	}
	if changed("message-log") {
		cfg.MessageLog = messageLog
	}
	if changed("poll") {
		cfg.PollInterval = app.Duration(pollInterval)
	}
	if changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if changed("log-json") {
		cfg.LogJSON = logJSON
	}
}

// getPassphrase returns the flag value, then the environment, then asks on
// the terminal. confirm asks twice.
func getPassphrase(confirm bool) (string, error) {
	if passphrase != "" {
		return passphrase, nil
	}
	if v := os.Getenv(passphraseEnv); v != "" {
		return v, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("passphrase required (-p or $%s)", passphraseEnv)
	}
	first, err := askPassphrase("Enter passphrase: ")
	if err != nil {
		return "", err
	}
	if confirm {
		second, err := askPassphrase("Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", errors.New("passphrases do not match")
		}
	}
	return first, nil
}

func askPassphrase(prompt string) (string, error) {
	defer func() { _, _ = fmt.Fprintln(os.Stderr) }()

	_, _ = fmt.Fprint(os.Stderr, prompt)

	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	return string(b), err
}
