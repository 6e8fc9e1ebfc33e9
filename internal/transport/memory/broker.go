// Package memory runs a relay in-process. Broker is a Transport, Directory
// and Mailbox backed directly by a relay.Hub, with push delivery instead of
// polling. It serves tests and the demo command.
package memory

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/relay"
)

// Broker is an in-process relay.
type Broker struct {
	hub *relay.Hub
	log log.Logger

	mu     sync.Mutex
	topics map[string]map[uint64]domain.Handler
	nextID uint64

	wg sync.WaitGroup
}

// New returns a broker over hub.
func New(hub *relay.Hub, l log.Logger) *Broker {
	return &Broker{
		hub:    hub,
		log:    l.Named("broker"),
		topics: make(map[string]map[uint64]domain.Handler),
	}
}

// Hub returns the relay state behind the broker.
func (b *Broker) Hub() *relay.Hub { return b.hub }

// FetchParams implements domain.Directory.
func (b *Broker) FetchParams(ctx context.Context) (*crypto.DomainParams, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.hub.Params(), nil
}

// FetchRoster implements domain.Directory.
func (b *Broker) FetchRoster(ctx context.Context) (domain.Roster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, _ := b.hub.Roster()
	return r, nil
}

// RegisterKey implements domain.Directory.
func (b *Broker) RegisterKey(ctx context.Context, id domain.ParticipantID, pub *big.Int) (domain.ParticipantID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.hub.Register(id, pub)
}

// FetchMessages implements domain.Mailbox.
func (b *Broker) FetchMessages(ctx context.Context, id domain.ParticipantID, limit int) (domain.QueueBatch, error) {
	if err := ctx.Err(); err != nil {
		return domain.QueueBatch{}, err
	}
	return b.hub.Fetch(id, limit), nil
}

// AckMessages implements domain.Mailbox.
func (b *Broker) AckMessages(ctx context.Context, id domain.ParticipantID, upTo uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.hub.Ack(id, upTo)
	return nil
}

// Publish implements domain.Transport. Registrations and bundles go to the
// hub; any other topic is handed synchronously to its subscribers.
func (b *Broker) Publish(ctx context.Context, topic string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch topic {
	case domain.TopicRegisterKey:
		reg, err := domain.ParseRegistration(body)
		if err != nil {
			return err
		}
		_, err = b.hub.Register(reg.ParticipantID, reg.PublicKey)
		return err
	case domain.TopicSendMessage:
		bundle, err := domain.ParseBundle(body)
		if err != nil {
			return err
		}
		_, _, err = b.hub.Route(bundle)
		return err
	}

	b.mu.Lock()
	handlers := make([]domain.Handler, 0, len(b.topics[topic]))
	for _, h := range b.topics[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h.OnMessage(ctx, body); err != nil {
			b.log.Debugw("subscriber rejected message", "topic", topic, "err", err)
		}
	}
	return nil
}

// Subscribe implements domain.Transport. The roster topic delivers the
// current roster at once and again after every change. A user queue delivers
// queued messages in order and acknowledges them. Delivery stops when ctx is
// done.
func (b *Broker) Subscribe(ctx context.Context, topic string, h domain.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if topic == domain.TopicPublicKeys {
		b.watch(ctx, b.rosterStep(h))
		return nil
	}
	if id, ok := domain.ParseUserQueue(topic); ok {
		b.watch(ctx, b.queueStep(id, h))
		return nil
	}

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]domain.Handler)
		b.topics[topic] = subs
	}
	id := b.nextID
	b.nextID++
	subs[id] = h
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-ctx.Done()
		b.mu.Lock()
		delete(b.topics[topic], id)
		b.mu.Unlock()
	}()
	return nil
}

// Wait blocks until every subscription whose context was cancelled has
// stopped delivering.
func (b *Broker) Wait() { b.wg.Wait() }

func (b *Broker) watch(ctx context.Context, step func(context.Context)) {
	ch, stop := b.hub.Watch()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer stop()
		for {
			step(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ch:
			}
		}
	}()
}

func (b *Broker) rosterStep(h domain.Handler) func(context.Context) {
	var last uint64
	first := true
	return func(ctx context.Context) {
		r, version := b.hub.Roster()
		if !first && version == last {
			return
		}
		body, err := json.Marshal(r)
		if err != nil {
			b.log.Errorw("encoding roster", "err", err)
			return
		}
		first, last = false, version
		if err := h.OnMessage(ctx, body); err != nil {
			b.log.Debugw("roster subscriber rejected push", "err", err)
		}
	}
}

func (b *Broker) queueStep(id domain.ParticipantID, h domain.Handler) func(context.Context) {
	return func(ctx context.Context) {
		batch := b.hub.Fetch(id, 0)
		delivered := 0
		for _, body := range batch.Bodies {
			if ctx.Err() != nil {
				break
			}
			_ = h.OnMessage(ctx, body)
			delivered++
		}
		b.hub.Ack(id, batch.Through(delivered))
	}
}

var (
	_ domain.Transport = (*Broker)(nil)
	_ domain.Directory = (*Broker)(nil)
	_ domain.Mailbox   = (*Broker)(nil)
)
