package session

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/services/message"
	"relaychat/internal/services/roster"
	"relaychat/internal/util"
)

var (
	// ErrNotStarted is returned by operations that need a started session.
	ErrNotStarted = errors.New("session not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// IdentityFunc returns the identity key pair to use under params. It is
// called on Start and again when the domain parameters change.
type IdentityFunc func(params *crypto.DomainParams) (domain.Identity, error)

// Config wires a Session to its collaborators.
type Config struct {
	// Self is the participant id to register under. Empty lets the
	// directory assign one.
	Self domain.ParticipantID

	Suite     crypto.Suite
	Directory domain.Directory
	Transport domain.Transport
	// Mailbox is optional; without it only subscriptions deliver messages.
	Mailbox  domain.Mailbox
	Messages domain.MessageLog
	Identity IdentityFunc
	// PullOnly skips the subscriptions; deliveries then arrive only through
	// Receive and the roster only through Refresh.
	PullOnly bool

	Clock clockwork.Clock
	Log   log.Logger
}

// Session is one participant's view of the conversation: the pinned domain
// parameters, the identity key pair, the roster and the message log. All
// methods are safe for concurrent use.
type Session struct {
	cfg      Config
	log      log.Logger
	roster   *roster.Cache
	messages *message.Service
	events   *util.FanOutChan[Event]
	// dropped is the last Dropped count that was logged.
	dropped atomic.Uint64

	mu       sync.Mutex
	self     domain.ParticipantID
	identity domain.Identity
	started  bool
	closed   bool
	cancel   context.CancelFunc
}

// New builds a session. Nothing touches the network until Start.
func New(cfg Config) (*Session, error) {
	switch {
	case cfg.Directory == nil:
		return nil, errors.New("session: directory is required")
	case cfg.Transport == nil:
		return nil, errors.New("session: transport is required")
	case cfg.Messages == nil:
		return nil, errors.New("session: message log is required")
	case cfg.Identity == nil:
		return nil, errors.New("session: identity source is required")
	}
	if cfg.Self != "" {
		if err := cfg.Self.Validate(); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log == nil {
		cfg.Log = log.DefaultLogger()
	}
	if cfg.Suite.Rand == nil && cfg.Suite.Hash == nil && cfg.Suite.AEAD == nil {
		cfg.Suite = crypto.DefaultSuite()
	}

	l := cfg.Log.Named("session")
	cache := roster.New(cfg.Directory, l, cfg.Clock)
	svc, err := message.New(cfg.Suite, cache, cfg.Transport, cfg.Mailbox, cfg.Messages, l)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:      cfg,
		log:      l,
		roster:   cache,
		messages: svc,
		events:   util.NewFanOutChan[Event](0),
		self:     cfg.Self,
	}, nil
}

// Start loads the domain parameters, obtains the identity, registers its
// public key, fetches the roster and, unless PullOnly, subscribes to roster
// pushes and to the participant's queue. Subscriptions live until Close.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.started:
		return ErrAlreadyStarted
	}

	params, err := s.roster.LoadParams(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("start: %w", err))
	}
	if err := s.bindIdentityLocked(ctx, params); err != nil {
		return s.fail(fmt.Errorf("start: %w", err))
	}
	snap, err := s.roster.Refresh(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("start: %w", err))
	}

	subCtx, cancel := context.WithCancel(context.Background())
	if err := s.subscribe(subCtx); err != nil {
		cancel()
		return s.fail(err)
	}
	s.cancel = cancel
	s.started = true

	s.log.Infow("session started", "participant", s.self, "fingerprint", s.identity.Fingerprint(),
		"params", params.Fingerprint(), "roster_size", snap.Len(), "pull_only", s.cfg.PullOnly)
	return nil
}

func (s *Session) subscribe(ctx context.Context) error {
	if s.cfg.PullOnly {
		return nil
	}
	if err := s.cfg.Transport.Subscribe(ctx, domain.TopicPublicKeys, domain.HandlerFunc(s.onRoster)); err != nil {
		return fmt.Errorf("subscribe roster: %w", err)
	}
	if err := s.cfg.Transport.Subscribe(ctx, domain.UserQueue(s.self), domain.HandlerFunc(s.onDelivery)); err != nil {
		return fmt.Errorf("subscribe queue: %w", err)
	}
	return nil
}

// bindIdentityLocked obtains the identity for params, registers it and
// hands it to the message service.
func (s *Session) bindIdentityLocked(ctx context.Context, params *crypto.DomainParams) error {
	id, err := s.cfg.Identity(params)
	if err != nil {
		return err
	}
	if !id.Matches(params) {
		id.Wipe()
		return message.ErrIdentityParams
	}
	self, err := s.cfg.Directory.RegisterKey(ctx, s.self, id.KeyPair.Public)
	if err != nil {
		id.Wipe()
		return fmt.Errorf("register key: %w", err)
	}

	s.self, s.identity = self, id
	s.messages.SetIdentity(self, id)
	return nil
}

// Send encrypts text for every other participant in the current roster and
// publishes one bundle.
func (s *Session) Send(ctx context.Context, text []byte) (domain.Bundle, error) {
	if err := s.ready(); err != nil {
		return domain.Bundle{}, err
	}
	b, err := s.messages.Send(ctx, text)
	if err != nil {
		s.emit(Event{Kind: EventError, Err: err})
		return domain.Bundle{}, err
	}
	s.emit(Event{Kind: EventSent, Recipients: len(b.Recipients)})
	return b, nil
}

// Receive pulls up to limit queued deliveries through the mailbox, for
// callers that do not wait on the subscription.
func (s *Session) Receive(ctx context.Context, limit int) ([]domain.Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	recs, err := s.messages.Receive(ctx, limit)
	for _, r := range recs {
		s.emit(Event{Kind: EventMessage, Record: r})
	}
	if err != nil {
		s.emit(Event{Kind: EventError, Err: err})
	}
	return recs, err
}

// Refresh refetches the roster from the directory.
func (s *Session) Refresh(ctx context.Context) (*roster.Snapshot, error) {
	snap, err := s.roster.Refresh(ctx)
	if err != nil {
		s.emit(Event{Kind: EventError, Err: err})
		return nil, err
	}
	s.emit(Event{Kind: EventRoster, RosterSize: snap.Len()})
	return snap, nil
}

// Reset refetches the domain parameters. When they changed, every key pair
// generated under the old ones is useless: a new identity is obtained and
// registered and the roster refetched. changed reports whether that
// happened.
func (s *Session) Reset(ctx context.Context) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return false, ErrNotStarted
	}

	changed, err = s.roster.Reset(ctx)
	if err != nil {
		return false, s.fail(fmt.Errorf("reset: %w", err))
	}
	if !changed {
		return false, nil
	}
	params, err := s.roster.Params()
	if err != nil {
		return true, s.fail(err)
	}
	if err := s.bindIdentityLocked(ctx, params); err != nil {
		return true, s.fail(fmt.Errorf("reset: %w", err))
	}
	snap, err := s.roster.Refresh(ctx)
	if err != nil {
		return true, s.fail(fmt.Errorf("reset: %w", err))
	}

	s.log.Warnw("session reset", "params", params.Fingerprint(), "fingerprint", s.identity.Fingerprint())
	s.emit(Event{Kind: EventReset, RosterSize: snap.Len()})
	return true, nil
}

// Messages returns the decrypted message log.
func (s *Session) Messages() ([]domain.Record, error) {
	return s.messages.Records()
}

// Roster returns the latest roster snapshot.
func (s *Session) Roster() *roster.Snapshot {
	return s.roster.Snapshot()
}

// Params returns the pinned domain parameters.
func (s *Session) Params() (*crypto.DomainParams, error) {
	return s.roster.Params()
}

// Self returns the participant id in effect, which may have been assigned
// by the directory.
func (s *Session) Self() domain.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Fingerprint returns the identity public key fingerprint, or "" before
// Start.
func (s *Session) Fingerprint() domain.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity.KeyPair.Public == nil {
		return ""
	}
	return s.identity.Fingerprint()
}

// Events returns a stream of session events. stop releases it. A listener
// that falls more than util.DefaultFanOutBuffer events behind misses the
// rest; Messages still holds every delivered record.
func (s *Session) Events() (<-chan Event, func()) {
	return s.events.Listen()
}

// DroppedEvents reports how many events were discarded across all
// listeners because their buffers were full.
func (s *Session) DroppedEvents() uint64 {
	return s.events.Dropped()
}

// Close stops the subscriptions and closes every event stream. The message
// log and the identity are left to their owners.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.events.Close()
	return nil
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case !s.started:
		return ErrNotStarted
	}
	return nil
}

func (s *Session) onRoster(ctx context.Context, body []byte) error {
	if err := s.roster.OnMessage(ctx, body); err != nil {
		s.emit(Event{Kind: EventError, Err: err})
		return err
	}
	s.emit(Event{Kind: EventRoster, RosterSize: s.roster.Snapshot().Len()})
	return nil
}

func (s *Session) onDelivery(ctx context.Context, body []byte) error {
	rec, err := s.messages.HandleDelivery(ctx, body)
	if err != nil {
		s.emit(Event{Kind: EventError, Err: err})
		return err
	}
	s.emit(Event{Kind: EventMessage, Record: rec})
	return nil
}

func (s *Session) fail(err error) error {
	s.emit(Event{Kind: EventError, Err: err})
	return err
}

func (s *Session) emit(e Event) {
	e.At = s.cfg.Clock.Now()
	s.events.Send(e)

	// Warn on the first drop and then each time the total doubles.
	n := s.events.Dropped()
	if prev := s.dropped.Swap(n); bits.Len64(n) > bits.Len64(prev) {
		s.log.Warnw("event listener too slow, events dropped", "dropped", n, "last_kind", e.Kind.String())
	}
}
