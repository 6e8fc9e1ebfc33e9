package app

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
)

// Message log backends.
const (
	LogMemory = "memory"
	LogBolt   = "bolt"
)

// Duration is a time.Duration written as text ("1s", "250ms") in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config holds runtime wiring options for building the app.
type Config struct {
	Home string `toml:"-"` // config directory, e.g. $HOME/.relaychat

	RelayURL      string   `toml:"relay_url"`      // relay base URL, e.g. http://127.0.0.1:8080
	ParticipantID string   `toml:"participant_id"` // empty lets the relay assign one
	Hash          string   `toml:"hash"`           // sha256 | blake2b-256
	AEAD          string   `toml:"aead"`           // aes-256-gcm | chacha20-poly1305
	EntropyFile   string   `toml:"entropy_file"`   // random source; empty means the OS
	MessageLog    string   `toml:"message_log"`    // memory | bolt
	PollInterval  Duration `toml:"poll_interval"`
	HTTPTimeout   Duration `toml:"http_timeout"`
	LogLevel      string   `toml:"log_level"`
	LogJSON       bool     `toml:"log_json"`

	HTTP *http.Client `toml:"-"` // optional; built from HTTPTimeout otherwise
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig(home string) Config {
	return Config{
		Home:         home,
		RelayURL:     "http://127.0.0.1:8080",
		Hash:         crypto.SHA256.Name(),
		AEAD:         crypto.AESGCM.Name(),
		MessageLog:   LogBolt,
		PollInterval: Duration(time.Second),
		HTTPTimeout:  Duration(10 * time.Second),
		LogLevel:     "info",
	}
}

// LoadConfig reads <home>/config.toml over the defaults. A missing file is
// not an error.
func LoadConfig(home string) (Config, error) {
	cfg := DefaultConfig(home)
	path := filepath.Join(home, ConfigFileName)
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Home = home
	return cfg, cfg.Validate()
}

// SaveConfig writes cfg to <home>/config.toml.
func SaveConfig(cfg Config) error {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cfg.Home, ConfigFileName), b.Bytes(), 0o600)
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	switch c.MessageLog {
	case LogMemory, LogBolt:
	default:
		return fmt.Errorf("message_log must be %q or %q, got %q", LogMemory, LogBolt, c.MessageLog)
	}
	if _, err := crypto.NewSuite(nil, c.Hash, c.AEAD); err != nil {
		return err
	}
	if c.ParticipantID != "" {
		if err := domain.ParticipantID(c.ParticipantID).Validate(); err != nil {
			return fmt.Errorf("participant_id: %w", err)
		}
	}
	if c.PollInterval < 0 || c.HTTPTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// Logger builds the logger the config asks for. It writes to stderr so
// command output stays clean.
func (c Config) Logger() log.Logger {
	return log.New(zapcore.Lock(os.Stderr), log.ParseLevel(c.LogLevel), c.LogJSON)
}
