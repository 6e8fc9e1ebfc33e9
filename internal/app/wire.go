package app

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	bolt "go.etcd.io/bbolt"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/entropy"
	"relaychat/internal/log"
	"relaychat/internal/relay"
	identitysvc "relaychat/internal/services/identity"
	"relaychat/internal/services/session"
	"relaychat/internal/store"
)

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Config   Config
	Log      log.Logger
	Clock    clockwork.Clock
	Rand     io.Reader
	Suite    crypto.Suite
	HTTP     *http.Client
	Relay    *relay.Client
	Identity *identitysvc.Service
	Accounts domain.AccountStore

	logOnce  sync.Once
	messages domain.MessageLog
	logErr   error
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := cfg.Logger()

	// Random source: the OS unless an entropy file is configured. A failing
	// file is never replaced by another source.
	rand, err := entropy.Source(cfg.EntropyFile, l)
	if err != nil {
		return nil, err
	}
	suite, err := crypto.NewSuite(rand, cfg.Hash, cfg.AEAD)
	if err != nil {
		if c, ok := rand.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}

	// Ensure an HTTP client is available for outbound calls
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.HTTPTimeout)}
	}

	clock := clockwork.NewRealClock()
	rc := relay.NewClient(cfg.RelayURL, time.Duration(cfg.PollInterval), clock, l)
	rc.HTTP = httpClient

	return &Wire{
		Config:   cfg,
		Log:      l,
		Clock:    clock,
		Rand:     rand,
		Suite:    suite,
		HTTP:     httpClient,
		Relay:    rc,
		Identity: identitysvc.New(store.NewIdentityFileStore(cfg.Home), rand, l),
		Accounts: store.NewAccountFileStore(cfg.Home),
	}, nil
}

// MessageLog opens the configured message log on first use.
func (w *Wire) MessageLog() (domain.MessageLog, error) {
	w.logOnce.Do(func() {
		switch w.Config.MessageLog {
		case LogBolt:
			w.messages, w.logErr = store.NewBoltLog(w.Log, w.Config.Home, w.Clock, &bolt.Options{Timeout: time.Second})
		default:
			w.messages = store.NewMemoryLog(w.Clock)
		}
	})
	return w.messages, w.logErr
}

// Self returns the participant id to register under: the configured one,
// else the one the relay assigned last time, else empty.
func (w *Wire) Self() (domain.ParticipantID, error) {
	if w.Config.ParticipantID != "" {
		return domain.ParticipantID(w.Config.ParticipantID), nil
	}
	profile, ok, err := w.Accounts.LoadAccountProfile(w.Config.RelayURL)
	if err != nil || !ok {
		return "", err
	}
	return profile.ParticipantID, nil
}

// NewSession assembles a session against the configured relay. With a
// passphrase the identity is loaded from disk, or generated and saved when
// missing or bound to other parameters. Without one a throwaway identity is
// used. A pullOnly session never subscribes.
func (w *Wire) NewSession(passphrase string, pullOnly bool) (*session.Session, error) {
	messages, err := w.MessageLog()
	if err != nil {
		return nil, err
	}
	self, err := w.Self()
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		Self:      self,
		Suite:     w.Suite,
		Directory: w.Relay,
		Transport: w.Relay,
		Mailbox:   w.Relay,
		Messages:  messages,
		Identity:  w.identityFunc(passphrase),
		PullOnly:  pullOnly,
		Clock:     w.Clock,
		Log:       w.Log,
	})
}

func (w *Wire) identityFunc(passphrase string) session.IdentityFunc {
	if passphrase == "" {
		return func(params *crypto.DomainParams) (domain.Identity, error) {
			return identitysvc.NewEphemeralIdentity(w.Rand, params)
		}
	}
	return func(params *crypto.DomainParams) (domain.Identity, error) {
		id, created, err := w.Identity.LoadOrGenerate(passphrase, params)
		if err != nil {
			return domain.Identity{}, err
		}
		if created {
			w.Log.Infow("new identity for these domain parameters", "fingerprint", id.Fingerprint())
		}
		return id, nil
	}
}

// Remember stores the session's participant id for the configured relay so
// later runs register under the same id.
func (w *Wire) Remember(s *session.Session) error {
	params, err := s.Params()
	if err != nil {
		return err
	}
	return w.Accounts.SaveAccountProfile(domain.AccountProfile{
		ServerURL:         w.Config.RelayURL,
		ParticipantID:     s.Self(),
		ParamsFingerprint: params.Fingerprint(),
	})
}

// Close releases the message log and the entropy device.
func (w *Wire) Close() error {
	var result *multierror.Error
	if w.messages != nil {
		result = multierror.Append(result, w.messages.Close())
	}
	if c, ok := w.Rand.(io.Closer); ok {
		result = multierror.Append(result, c.Close())
	}
	return result.ErrorOrNil()
}
