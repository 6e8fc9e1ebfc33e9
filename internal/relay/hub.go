package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/metrics"
)

// ErrQueueLimit is returned when a recipient's queue cannot take more
// deliveries. Nothing from the bundle is queued in that case.
var ErrQueueLimit = errors.New("recipient queue is full")

// DefaultMaxQueue bounds the number of undelivered messages per participant.
const DefaultMaxQueue = 10000

type queued struct {
	seq  uint64
	body []byte
	at   time.Time
}

// queue holds one participant's deliveries. Sequence numbers start at 1 and
// grow by one per delivery, so the entries left after trimming the front are
// always consecutive.
type queue struct {
	next  uint64
	items []queued
}

func (q *queue) push(body []byte, at time.Time) {
	q.next++
	q.items = append(q.items, queued{seq: q.next, body: body, at: at})
}

// dropThrough removes the entries with seq <= upTo and returns how many.
func (q *queue) dropThrough(upTo uint64) int {
	i := 0
	for i < len(q.items) && q.items[i].seq <= upTo {
		i++
	}
	q.drop(i)
	return i
}

func (q *queue) drop(n int) {
	if n == 0 {
		return
	}
	q.items = append([]queued(nil), q.items[n:]...)
}

// Hub is the relay's state: the domain parameters it serves, the roster of
// registered public keys and one delivery queue per participant. It never
// sees plaintext or private keys.
type Hub struct {
	params   *crypto.DomainParams
	clock    clockwork.Clock
	log      log.Logger
	maxQueue int

	mu       sync.Mutex
	roster   domain.Roster
	version  uint64
	queues   map[domain.ParticipantID]*queue
	watchers map[uint64]chan struct{}
	nextW    uint64
}

// NewHub returns an empty hub serving params.
func NewHub(params *crypto.DomainParams, clock clockwork.Clock, l log.Logger) *Hub {
	return &Hub{
		params:   params,
		clock:    clock,
		log:      l.Named("hub"),
		maxQueue: DefaultMaxQueue,
		roster:   domain.Roster{},
		queues:   make(map[domain.ParticipantID]*queue),
		watchers: make(map[uint64]chan struct{}),
	}
}

// Params returns the served domain parameters.
func (h *Hub) Params() *crypto.DomainParams { return h.params }

// Register records pub under id, replacing any earlier key. An empty id gets
// a fresh uuid; any other id must pass ParticipantID.Validate. pub must be a
// valid public value in the served group.
func (h *Hub) Register(id domain.ParticipantID, pub *big.Int) (domain.ParticipantID, error) {
	if err := crypto.ValidatePublic(pub, h.params); err != nil {
		return "", err
	}
	if id == "" {
		id = domain.ParticipantID(uuid.NewString())
	} else if err := id.Validate(); err != nil {
		return "", err
	}

	h.mu.Lock()
	h.roster[id] = new(big.Int).Set(pub)
	h.version++
	if _, ok := h.queues[id]; !ok {
		h.queues[id] = &queue{}
	}
	size := len(h.roster)
	h.notifyLocked()
	h.mu.Unlock()

	metrics.RelayRegistrations.Inc()
	h.log.Infow("key registered", "participant", id, "fingerprint", crypto.Fingerprint(pub), "roster_size", size)
	return id, nil
}

// Roster returns a copy of the roster and its version.
func (h *Hub) Roster() (domain.Roster, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roster.Clone(), h.version
}

// Route splits b into per-recipient deliveries and queues them all under one
// lock, so a fetch never sees part of a bundle. Recipients that never
// registered are skipped.
func (h *Hub) Route(b domain.Bundle) (queuedN, skipped int, err error) {
	deliveries := b.Deliveries()
	bodies := make([][]byte, len(deliveries))
	for i, d := range deliveries {
		raw, err := d.MarshalJSON()
		if err != nil {
			return 0, 0, err
		}
		bodies[i] = raw
	}

	now := h.clock.Now()

	h.mu.Lock()
	for _, d := range deliveries {
		if q, ok := h.queues[d.RecipientID]; ok && len(q.items) >= h.maxQueue {
			h.mu.Unlock()
			return 0, 0, fmt.Errorf("%w: %s", ErrQueueLimit, d.RecipientID)
		}
	}
	for i, d := range deliveries {
		q, ok := h.queues[d.RecipientID]
		if _, known := h.roster[d.RecipientID]; !known || !ok {
			skipped++
			continue
		}
		q.push(bodies[i], now)
		queuedN++
	}
	depth := h.depthLocked()
	if queuedN > 0 {
		h.notifyLocked()
	}
	h.mu.Unlock()

	metrics.RelayBundles.Inc()
	metrics.RelayEnvelopes.WithLabelValues("queued").Add(float64(queuedN))
	metrics.RelayEnvelopes.WithLabelValues("skipped").Add(float64(skipped))
	metrics.RelayQueueDepth.Set(float64(depth))
	if skipped > 0 {
		h.log.Warnw("skipped envelopes for unknown recipients", "sender", b.SenderID, "skipped", skipped)
	}
	h.log.Debugw("bundle routed", "sender", b.SenderID, "queued", queuedN)
	return queuedN, skipped, nil
}

// Fetch returns up to limit queued deliveries for id, oldest first, without
// removing them. limit <= 0 means all.
func (h *Hub) Fetch(id domain.ParticipantID, limit int) domain.QueueBatch {
	h.mu.Lock()
	defer h.mu.Unlock()

	q, ok := h.queues[id]
	if !ok || len(q.items) == 0 {
		return domain.QueueBatch{}
	}
	if limit <= 0 || limit > len(q.items) {
		limit = len(q.items)
	}
	out := domain.QueueBatch{First: q.items[0].seq, Bodies: make([][]byte, limit)}
	for i := 0; i < limit; i++ {
		out.Bodies[i] = append([]byte{}, q.items[i].body...)
	}
	return out
}

// Ack removes the deliveries for id with a sequence number up to and
// including upTo and returns how many were removed. Deliveries queued after
// the acknowledged fetch are kept even when older ones expired meanwhile.
func (h *Hub) Ack(id domain.ParticipantID, upTo uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	q, ok := h.queues[id]
	if !ok {
		return 0
	}
	n := q.dropThrough(upTo)
	if n > 0 {
		metrics.RelayQueueDepth.Set(float64(h.depthLocked()))
	}
	return n
}

// Expire drops deliveries queued longer than maxAge ago and returns how
// many were dropped.
func (h *Hub) Expire(maxAge time.Duration) int {
	cutoff := h.clock.Now().Add(-maxAge)

	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for _, q := range h.queues {
		i := 0
		for i < len(q.items) && q.items[i].at.Before(cutoff) {
			i++
		}
		q.drop(i)
		dropped += i
	}
	if dropped > 0 {
		metrics.RelayQueueDepth.Set(float64(h.depthLocked()))
		h.log.Infow("expired queued deliveries", "dropped", dropped, "max_age", maxAge)
	}
	return dropped
}

// Pending returns the number of deliveries waiting for id.
func (h *Hub) Pending(id domain.ParticipantID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if q, ok := h.queues[id]; ok {
		return len(q.items)
	}
	return 0
}

// Watch returns a channel that receives a value after every registration or
// routed bundle, coalescing bursts. stop releases it.
func (h *Hub) Watch() (ch <-chan struct{}, stop func()) {
	c := make(chan struct{}, 1)
	h.mu.Lock()
	id := h.nextW
	h.nextW++
	h.watchers[id] = c
	h.mu.Unlock()

	return c, func() {
		h.mu.Lock()
		delete(h.watchers, id)
		h.mu.Unlock()
	}
}

func (h *Hub) notifyLocked() {
	for _, c := range h.watchers {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) depthLocked() int {
	n := 0
	for _, q := range h.queues {
		n += len(q.items)
	}
	return n
}

// RunJanitor calls Expire(maxAge) every interval until ctx is done.
func (h *Hub) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := h.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.Expire(maxAge)
		}
	}
}
