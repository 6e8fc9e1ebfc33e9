package message

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/metrics"
	"relaychat/internal/protocol/fanout"
	"relaychat/internal/services/roster"
)

// DefaultReplayCacheSize is the number of recent deliveries remembered for
// replay detection.
const DefaultReplayCacheSize = 4096

var (
	// ErrNoIdentity is returned before SetIdentity has been called.
	ErrNoIdentity = errors.New("no identity bound to the message service")

	// ErrIdentityParams is returned when the identity was generated under
	// other domain parameters than the ones currently pinned.
	ErrIdentityParams = errors.New("identity does not belong to the current domain parameters")

	// ErrReplay is returned for a delivery that was already decrypted.
	ErrReplay = errors.New("delivery already processed")

	// ErrMisaddressed is returned for a delivery whose recipient is not us.
	ErrMisaddressed = errors.New("delivery addressed to another participant")
)

// Service sends and receives messages for one participant.
type Service struct {
	suite     crypto.Suite
	roster    *roster.Cache
	transport domain.Transport
	mailbox   domain.Mailbox
	messages  domain.MessageLog
	log       log.Logger
	replay    *lru.Cache

	mu       sync.RWMutex
	self     domain.ParticipantID
	identity *domain.Identity
}

// New constructs a message Service. mailbox may be nil when only
// subscriptions are used.
func New(
	suite crypto.Suite,
	cache *roster.Cache,
	transport domain.Transport,
	mailbox domain.Mailbox,
	messages domain.MessageLog,
	l log.Logger,
) (*Service, error) {
	replay, err := lru.New(DefaultReplayCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		suite:     suite,
		roster:    cache,
		transport: transport,
		mailbox:   mailbox,
		messages:  messages,
		log:       l.Named("message"),
		replay:    replay,
	}, nil
}

// SetIdentity binds the participant id and identity key pair used for
// sending and decrypting.
func (s *Service) SetIdentity(self domain.ParticipantID, id domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = self
	s.identity = &id
	s.replay.Purge()
}

// Self returns the bound participant id.
func (s *Service) Self() domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

func (s *Service) current() (domain.ParticipantID, *domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil || s.self == "" {
		return "", nil, ErrNoIdentity
	}
	return s.self, s.identity, nil
}

// Send encrypts plaintext for every participant in the current roster
// except us and publishes the bundle. The bundle is returned for display.
// ctx cancels the send up to the publish.
func (s *Service) Send(ctx context.Context, plaintext []byte) (domain.Bundle, error) {
	bundle, err := s.send(ctx, plaintext)
	if err != nil {
		s.log.Warnw("send failed", "err", err)
	}
	return bundle, err
}

func (s *Service) send(ctx context.Context, plaintext []byte) (domain.Bundle, error) {
	self, id, err := s.current()
	if err != nil {
		metrics.SendFailures.WithLabelValues("identity").Inc()
		return domain.Bundle{}, err
	}
	params, snap, err := s.roster.SendSnapshot()
	if err != nil {
		metrics.SendFailures.WithLabelValues("directory").Inc()
		return domain.Bundle{}, fmt.Errorf("send: %w", err)
	}
	if id.ParamsFingerprint != params.Fingerprint() {
		metrics.SendFailures.WithLabelValues("identity").Inc()
		return domain.Bundle{}, ErrIdentityParams
	}

	start := time.Now()
	bundle, err := fanout.Seal(ctx, s.suite, params, self, plaintext, snap.Roster())
	if err != nil {
		metrics.SendFailures.WithLabelValues("seal").Inc()
		return domain.Bundle{}, fmt.Errorf("send: %w", err)
	}
	metrics.SealLatency.Observe(time.Since(start).Seconds())

	body, err := json.Marshal(bundle)
	if err != nil {
		metrics.SendFailures.WithLabelValues("encode").Inc()
		return domain.Bundle{}, err
	}
	if err := ctx.Err(); err != nil {
		metrics.SendFailures.WithLabelValues("cancelled").Inc()
		return domain.Bundle{}, err
	}
	if err := s.transport.Publish(ctx, domain.TopicSendMessage, body); err != nil {
		metrics.SendFailures.WithLabelValues("publish").Inc()
		return domain.Bundle{}, fmt.Errorf("publish bundle: %w", err)
	}

	metrics.MessagesSent.Inc()
	metrics.EnvelopesSealed.Add(float64(len(bundle.Recipients)))
	s.log.Debugw("bundle published", "recipients", len(bundle.Recipients), "roster_version", snap.Version())
	return bundle, nil
}

// HandleDelivery decrypts one queued delivery and appends it to the log.
func (s *Service) HandleDelivery(ctx context.Context, body []byte) (domain.Record, error) {
	rec, err := s.handleDelivery(body)
	metrics.DeliveriesReceived.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.log.Warnw("dropping delivery", "err", err)
		return domain.Record{}, err
	}
	s.log.Debugw("delivery decrypted", "sender", rec.SenderID, "seq", rec.Seq)
	return rec, nil
}

func (s *Service) handleDelivery(body []byte) (domain.Record, error) {
	self, id, err := s.current()
	if err != nil {
		return domain.Record{}, err
	}
	d, err := domain.ParseDelivery(body)
	if err != nil {
		return domain.Record{}, err
	}
	if d.RecipientID != self {
		return domain.Record{}, fmt.Errorf("%w: %s", ErrMisaddressed, d.RecipientID)
	}
	params, err := s.roster.Params()
	if err != nil {
		return domain.Record{}, err
	}
	key := replayKey(d.Envelope)
	if s.replay.Contains(key) {
		return domain.Record{}, ErrReplay
	}

	pt, err := fanout.Open(s.suite, params, &id.KeyPair, d.Envelope)
	if err != nil {
		return domain.Record{}, fmt.Errorf("from %s: %w", d.SenderID, err)
	}
	defer crypto.Wipe(pt)

	if seen, _ := s.replay.ContainsOrAdd(key, struct{}{}); seen {
		return domain.Record{}, ErrReplay
	}
	return s.messages.Append(d.SenderID, pt)
}

// OnMessage implements domain.Handler for the participant's queue topic.
func (s *Service) OnMessage(ctx context.Context, body []byte) error {
	_, err := s.HandleDelivery(ctx, body)
	return err
}

// Receive fetches up to limit queued deliveries from the mailbox, decrypts
// each independently and acknowledges all of them. Failed deliveries are
// not retried; their errors are aggregated in the returned error alongside
// the records that did decrypt.
func (s *Service) Receive(ctx context.Context, limit int) ([]domain.Record, error) {
	if s.mailbox == nil {
		return nil, errors.New("receive: no mailbox configured")
	}
	self, _, err := s.current()
	if err != nil {
		return nil, err
	}
	batch, err := s.mailbox.FetchMessages(ctx, self, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	out, result := s.HandleBatch(ctx, batch.Bodies)
	if batch.Len() > 0 {
		if err := s.mailbox.AckMessages(ctx, self, batch.Through(batch.Len())); err != nil {
			result = multierror.Append(result, fmt.Errorf("ack %d messages: %w", batch.Len(), err))
		}
	}
	return out, result.ErrorOrNil()
}

// HandleBatch decrypts every body on its own. One failure never stops the
// others.
func (s *Service) HandleBatch(ctx context.Context, bodies [][]byte) ([]domain.Record, *multierror.Error) {
	var result *multierror.Error
	out := make([]domain.Record, 0, len(bodies))
	for i, body := range bodies {
		rec, err := s.HandleDelivery(ctx, body)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("delivery %d: %w", i, err))
			continue
		}
		out = append(out, rec)
	}
	return out, result
}

// Records returns the decrypted message log.
func (s *Service) Records() ([]domain.Record, error) {
	return s.messages.Records()
}

func replayKey(e domain.Envelope) string {
	return e.SenderEphemeralKey.Text(16) + ":" + base64.StdEncoding.EncodeToString(e.Nonce)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, crypto.ErrDecode):
		return "decode"
	case errors.Is(err, crypto.ErrAuthentication):
		return "auth"
	case errors.Is(err, crypto.ErrInvalidPublicKey):
		return "invalid_key"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrMisaddressed):
		return "misaddressed"
	default:
		return "error"
	}
}

// Compile-time assertions.
var (
	_ domain.MessageService = (*Service)(nil)
	_ domain.Handler        = (*Service)(nil)
)
