package memory_test

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/relay"
	"relaychat/internal/testlogger"
	"relaychat/internal/transport/memory"
)

func newBroker(t *testing.T) *memory.Broker {
	t.Helper()
	l := testlogger.New(t)
	return memory.New(relay.NewHub(crypto.DefaultDomainParams(), clockwork.NewFakeClock(), l), l)
}

func newKey(t *testing.T) *big.Int {
	t.Helper()
	kp, err := crypto.GenerateKeyPair(nil, crypto.DefaultDomainParams())
	require.NoError(t, err)
	return kp.Public
}

type recorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (r *recorder) OnMessage(_ context.Context, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
	return nil
}

func (r *recorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.bodies...)
}

func TestBroker_Directory(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	params, err := b.FetchParams(ctx)
	require.NoError(t, err)
	require.True(t, params.Equal(crypto.DefaultDomainParams()))

	pub := newKey(t)
	id, err := b.RegisterKey(ctx, "", pub)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	roster, err := b.FetchRoster(ctx)
	require.NoError(t, err)
	require.Zero(t, roster[id].Cmp(pub))
}

func TestBroker_CancelledContext(t *testing.T) {
	b := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.FetchParams(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, b.Publish(ctx, domain.TopicSendMessage, []byte("{}")), context.Canceled)
	require.ErrorIs(t, b.Subscribe(ctx, domain.TopicPublicKeys, &recorder{}), context.Canceled)
}

func TestBroker_PublishRegistration(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	body, err := json.Marshal(domain.Registration{ParticipantID: "alice", PublicKey: newKey(t)})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, domain.TopicRegisterKey, body))

	roster, _ := b.Hub().Roster()
	require.Contains(t, roster, domain.ParticipantID("alice"))

	require.ErrorIs(t, b.Publish(ctx, domain.TopicRegisterKey, []byte(`{"participantId":"x"}`)), crypto.ErrDecode)

	bad, err := json.Marshal(domain.Registration{ParticipantID: "mallory", PublicKey: big.NewInt(1)})
	require.NoError(t, err)
	require.ErrorIs(t, b.Publish(ctx, domain.TopicRegisterKey, bad), crypto.ErrInvalidPublicKey)
}

func TestBroker_PublishMalformedBundle(t *testing.T) {
	b := newBroker(t)
	require.ErrorIs(t, b.Publish(context.Background(), domain.TopicSendMessage, []byte(`{"senderId":"a"}`)), crypto.ErrDecode)
}

func TestBroker_SubscribeRoster(t *testing.T) {
	b := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	got := &recorder{}
	require.NoError(t, b.Subscribe(ctx, domain.TopicPublicKeys, got))
	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, time.Millisecond)

	first, err := domain.ParseRoster(got.snapshot()[0])
	require.NoError(t, err)
	require.Empty(t, first)

	_, err = b.RegisterKey(ctx, "alice", newKey(t))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		bodies := got.snapshot()
		if len(bodies) == 0 {
			return false
		}
		r, err := domain.ParseRoster(bodies[len(bodies)-1])
		return err == nil && len(r) == 1
	}, time.Second, time.Millisecond)

	cancel()
	b.Wait()
}

func TestBroker_SubscribeQueue(t *testing.T) {
	b := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := b.RegisterKey(ctx, "bob", newKey(t))
	require.NoError(t, err)

	got := &recorder{}
	require.NoError(t, b.Subscribe(ctx, domain.UserQueue("bob"), got))

	for i := 0; i < 3; i++ {
		bundle := domain.Bundle{SenderID: domain.ParticipantID(rune('a' + i)), Recipients: []domain.Envelope{{
			RecipientID:        "bob",
			SenderEphemeralKey: big.NewInt(5),
			Nonce:              make([]byte, 12),
			Ciphertext:         []byte{byte(i)},
		}}}
		body, err := json.Marshal(bundle)
		require.NoError(t, err)
		require.NoError(t, b.Publish(ctx, domain.TopicSendMessage, body))
	}

	require.Eventually(t, func() bool { return len(got.snapshot()) == 3 }, time.Second, time.Millisecond)
	for i, body := range got.snapshot() {
		d, err := domain.ParseDelivery(body)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, d.Ciphertext, "delivery order")
	}
	require.Eventually(t, func() bool { return b.Hub().Pending("bob") == 0 }, time.Second, time.Millisecond)

	cancel()
	b.Wait()
}

func TestBroker_GenericTopic(t *testing.T) {
	b := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	got := &recorder{}
	require.NoError(t, b.Subscribe(ctx, "/topic/announcements", got))
	require.NoError(t, b.Publish(context.Background(), "/topic/announcements", []byte("hi")))
	require.Equal(t, [][]byte{[]byte("hi")}, got.snapshot())

	cancel()
	b.Wait()
	require.NoError(t, b.Publish(context.Background(), "/topic/announcements", []byte("again")))
	require.Len(t, got.snapshot(), 1)
}

func TestBroker_Mailbox(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()
	_, err := b.RegisterKey(ctx, "bob", newKey(t))
	require.NoError(t, err)

	body, err := json.Marshal(domain.Bundle{SenderID: "alice", Recipients: []domain.Envelope{{
		RecipientID:        "bob",
		SenderEphemeralKey: big.NewInt(5),
		Nonce:              make([]byte, 12),
		Ciphertext:         []byte("c"),
	}}})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, domain.TopicSendMessage, body))

	msgs, err := b.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	require.Equal(t, 1, msgs.Len())
	require.NoError(t, b.AckMessages(ctx, "bob", msgs.Through(1)))
	msgs, err = b.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	require.Zero(t, msgs.Len())
}
