package message_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/relay"
	"relaychat/internal/services/identity"
	"relaychat/internal/services/message"
	"relaychat/internal/services/roster"
	"relaychat/internal/store"
	"relaychat/internal/testlogger"
	"relaychat/internal/transport/memory"
)

type participant struct {
	id       domain.ParticipantID
	identity domain.Identity
	cache    *roster.Cache
	log      *store.MemoryLog
	svc      *message.Service
}

// flakyDirectory fails every call while fail is set.
type flakyDirectory struct {
	domain.Directory
	fail atomic.Bool
}

var errDown = errors.New("directory down")

func (d *flakyDirectory) FetchRoster(ctx context.Context) (domain.Roster, error) {
	if d.fail.Load() {
		return nil, errDown
	}
	return d.Directory.FetchRoster(ctx)
}

func (d *flakyDirectory) FetchParams(ctx context.Context) (*crypto.DomainParams, error) {
	if d.fail.Load() {
		return nil, errDown
	}
	return d.Directory.FetchParams(ctx)
}

// recordingTransport keeps every publish and optionally fails them.
type recordingTransport struct {
	mu        sync.Mutex
	published []publishCall
	err       error
}

type publishCall struct {
	topic string
	body  []byte
}

func (r *recordingTransport) Publish(_ context.Context, topic string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, publishCall{topic: topic, body: body})
	return nil
}

func (r *recordingTransport) Subscribe(context.Context, string, domain.Handler) error { return nil }

func (r *recordingTransport) calls() []publishCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishCall(nil), r.published...)
}

func newBroker(t *testing.T) *memory.Broker {
	t.Helper()
	l := testlogger.New(t)
	return memory.New(relay.NewHub(crypto.DefaultDomainParams(), clockwork.NewFakeClock(), l), l)
}

func join(
	t *testing.T,
	dir domain.Directory,
	tr domain.Transport,
	mb domain.Mailbox,
	id domain.ParticipantID,
) *participant {
	t.Helper()
	ctx := context.Background()
	l := testlogger.New(t).With("participant", id)
	clock := clockwork.NewFakeClock()

	cache := roster.New(dir, l, clock)
	params, err := cache.LoadParams(ctx)
	require.NoError(t, err)

	ident, err := identity.NewEphemeralIdentity(nil, params)
	require.NoError(t, err)
	assigned, err := dir.RegisterKey(ctx, id, ident.KeyPair.Public)
	require.NoError(t, err)
	require.Equal(t, id, assigned)

	msgLog := store.NewMemoryLog(clock)
	svc, err := message.New(crypto.DefaultSuite(), cache, tr, mb, msgLog, l)
	require.NoError(t, err)
	svc.SetIdentity(id, ident)

	return &participant{id: id, identity: ident, cache: cache, log: msgLog, svc: svc}
}

func refreshAll(t *testing.T, ps ...*participant) {
	t.Helper()
	for _, p := range ps {
		_, err := p.cache.Refresh(context.Background())
		require.NoError(t, err)
	}
}

func plaintexts(t *testing.T, p *participant) []string {
	t.Helper()
	recs, err := p.svc.Records()
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = string(r.Plaintext)
	}
	return out
}

func TestSend_DeliversToEveryoneButSender(t *testing.T) {
	b := newBroker(t)
	alice := join(t, b, b, b, "alice")
	bob := join(t, b, b, b, "bob")
	carol := join(t, b, b, b, "carol")
	refreshAll(t, alice, bob, carol)
	ctx := context.Background()

	bundle, err := alice.svc.Send(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, bundle.Recipients, 2)

	for _, p := range []*participant{bob, carol} {
		recs, err := p.svc.Receive(ctx, 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "hello", string(recs[0].Plaintext))
		require.Equal(t, domain.ParticipantID("alice"), recs[0].SenderID)
	}

	recs, err := alice.svc.Receive(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Zero(t, b.Hub().Pending("bob"))
}

func TestSend_PublishesOneBundle(t *testing.T) {
	b := newBroker(t)
	tr := &recordingTransport{}
	alice := join(t, b, tr, b, "alice")
	join(t, b, b, b, "bob")
	join(t, b, b, b, "carol")
	refreshAll(t, alice)

	_, err := alice.svc.Send(context.Background(), []byte("one bundle"))
	require.NoError(t, err)

	calls := tr.calls()
	require.Len(t, calls, 1)
	require.Equal(t, domain.TopicSendMessage, calls[0].topic)
	bundle, err := domain.ParseBundle(calls[0].body)
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantID("alice"), bundle.SenderID)
	require.Equal(t, domain.ParticipantID("bob"), bundle.Recipients[0].RecipientID)
	require.Equal(t, domain.ParticipantID("carol"), bundle.Recipients[1].RecipientID)
}

func TestSend_EmptyRoster(t *testing.T) {
	b := newBroker(t)
	tr := &recordingTransport{}
	alice := join(t, b, tr, b, "alice")
	refreshAll(t, alice)

	bundle, err := alice.svc.Send(context.Background(), []byte("anyone?"))
	require.NoError(t, err)
	require.Empty(t, bundle.Recipients)
	require.Len(t, tr.calls(), 1)
}

func TestSend_FailsClosedBeforeRosterFetch(t *testing.T) {
	b := newBroker(t)
	tr := &recordingTransport{}
	alice := join(t, b, tr, b, "alice")

	_, err := alice.svc.Send(context.Background(), []byte("too early"))
	require.ErrorIs(t, err, roster.ErrDirectoryUnavailable)
	require.Empty(t, tr.calls())
}

func TestSend_FailsClosedWhenStale(t *testing.T) {
	b := newBroker(t)
	dir := &flakyDirectory{Directory: b}
	tr := &recordingTransport{}
	alice := join(t, dir, tr, b, "alice")
	join(t, b, b, b, "bob")
	refreshAll(t, alice)

	dir.fail.Store(true)
	_, err := alice.cache.Refresh(context.Background())
	require.ErrorIs(t, err, roster.ErrDirectoryUnavailable)

	_, err = alice.svc.Send(context.Background(), []byte("stale"))
	require.ErrorIs(t, err, roster.ErrStale)
	require.Empty(t, tr.calls())

	dir.fail.Store(false)
	refreshAll(t, alice)
	_, err = alice.svc.Send(context.Background(), []byte("fresh"))
	require.NoError(t, err)
	require.Len(t, tr.calls(), 1)
}

func TestSend_NoParams(t *testing.T) {
	b := newBroker(t)
	l := testlogger.New(t)
	cache := roster.New(b, l, clockwork.NewFakeClock())
	svc, err := message.New(crypto.DefaultSuite(), cache, b, b, store.NewMemoryLog(clockwork.NewFakeClock()), l)
	require.NoError(t, err)
	ident, err := identity.NewEphemeralIdentity(nil, crypto.DefaultDomainParams())
	require.NoError(t, err)
	svc.SetIdentity("alice", ident)

	_, err = svc.Send(context.Background(), []byte("x"))
	require.ErrorIs(t, err, roster.ErrNoParams)
}

func TestSend_NoIdentity(t *testing.T) {
	b := newBroker(t)
	l := testlogger.New(t)
	svc, err := message.New(crypto.DefaultSuite(), roster.New(b, l, clockwork.NewFakeClock()), b, b,
		store.NewMemoryLog(clockwork.NewFakeClock()), l)
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), []byte("x"))
	require.ErrorIs(t, err, message.ErrNoIdentity)
	_, err = svc.Receive(context.Background(), 0)
	require.ErrorIs(t, err, message.ErrNoIdentity)
}

func TestSend_IdentityFromOtherParams(t *testing.T) {
	b := newBroker(t)
	alice := join(t, b, b, b, "alice")
	refreshAll(t, alice)

	small, err := crypto.NewDomainParams(big.NewInt(23), big.NewInt(5))
	require.NoError(t, err)
	other, err := identity.NewEphemeralIdentity(nil, small)
	require.NoError(t, err)
	alice.svc.SetIdentity("alice", other)

	_, err = alice.svc.Send(context.Background(), []byte("x"))
	require.ErrorIs(t, err, message.ErrIdentityParams)
}

func TestSend_PublishFailure(t *testing.T) {
	b := newBroker(t)
	tr := &recordingTransport{err: errors.New("connection reset")}
	alice := join(t, b, tr, b, "alice")
	join(t, b, b, b, "bob")
	refreshAll(t, alice)

	bundle, err := alice.svc.Send(context.Background(), []byte("lost"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
	require.Empty(t, bundle.Recipients)
}

func TestSend_CancelledContextPublishesNothing(t *testing.T) {
	b := newBroker(t)
	tr := &recordingTransport{}
	alice := join(t, b, tr, b, "alice")
	join(t, b, b, b, "bob")
	refreshAll(t, alice)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := alice.svc.Send(ctx, []byte("never"))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, tr.calls())
}

func tamper(t *testing.T, body []byte) []byte {
	t.Helper()
	d, err := domain.ParseDelivery(body)
	require.NoError(t, err)
	d.Ciphertext = append([]byte{}, d.Ciphertext...)
	d.Ciphertext[0] ^= 0x01
	out, err := json.Marshal(d)
	require.NoError(t, err)
	return out
}

func TestReceive_IsolatesFailures(t *testing.T) {
	b := newBroker(t)
	alice := join(t, b, b, b, "alice")
	bob := join(t, b, b, b, "bob")
	refreshAll(t, alice, bob)
	ctx := context.Background()

	_, err := alice.svc.Send(ctx, []byte("first"))
	require.NoError(t, err)
	_, err = alice.svc.Send(ctx, []byte("second"))
	require.NoError(t, err)

	batch, err := b.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	queued := batch.Bodies
	require.Len(t, queued, 2)

	bodies := [][]byte{tamper(t, queued[0]), []byte(`{"senderId":"alice"}`), queued[1]}
	recs, result := bob.svc.HandleBatch(ctx, bodies)
	require.Len(t, recs, 1)
	require.Equal(t, "second", string(recs[0].Plaintext))
	require.NotNil(t, result)
	require.Len(t, result.Errors, 2)
	require.ErrorIs(t, result.Errors[0], crypto.ErrAuthentication)
	require.ErrorIs(t, result.Errors[1], crypto.ErrDecode)
	require.Equal(t, []string{"second"}, plaintexts(t, bob))
}

func TestReceive_AcksEverything(t *testing.T) {
	b := newBroker(t)
	alice := join(t, b, b, b, "alice")
	bob := join(t, b, b, b, "bob")
	refreshAll(t, alice, bob)
	ctx := context.Background()

	_, err := alice.svc.Send(ctx, []byte("ok"))
	require.NoError(t, err)
	_, _, err = b.Hub().Route(domain.Bundle{SenderID: "mallory", Recipients: []domain.Envelope{{
		RecipientID:        "bob",
		SenderEphemeralKey: big.NewInt(1),
		Nonce:              make([]byte, 12),
		Ciphertext:         make([]byte, 32),
	}}})
	require.NoError(t, err)

	recs, err := bob.svc.Receive(ctx, 0)
	require.Len(t, recs, 1)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 1)
	require.ErrorIs(t, merr.Errors[0], crypto.ErrInvalidPublicKey)
	require.Zero(t, b.Hub().Pending("bob"))
}

func TestHandleDelivery_Replay(t *testing.T) {
	b := newBroker(t)
	alice := join(t, b, b, b, "alice")
	bob := join(t, b, b, b, "bob")
	refreshAll(t, alice, bob)
	ctx := context.Background()

	_, err := alice.svc.Send(ctx, []byte("once"))
	require.NoError(t, err)
	batch, err := b.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	queued := batch.Bodies
	require.Len(t, queued, 1)

	// A forged copy with the same key and nonce must not block the real one.
	_, err = bob.svc.HandleDelivery(ctx, tamper(t, queued[0]))
	require.ErrorIs(t, err, crypto.ErrAuthentication)

	_, err = bob.svc.HandleDelivery(ctx, queued[0])
	require.NoError(t, err)
	_, err = bob.svc.HandleDelivery(ctx, queued[0])
	require.ErrorIs(t, err, message.ErrReplay)

	n, err := bob.log.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestHandleDelivery_Misaddressed(t *testing.T) {
	b := newBroker(t)
	alice := join(t, b, b, b, "alice")
	bob := join(t, b, b, b, "bob")
	carol := join(t, b, b, b, "carol")
	refreshAll(t, alice, bob, carol)
	ctx := context.Background()

	_, err := alice.svc.Send(ctx, []byte("for bob"))
	require.NoError(t, err)
	batch, err := b.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	queued := batch.Bodies

	_, err = carol.svc.HandleDelivery(ctx, queued[0])
	require.ErrorIs(t, err, message.ErrMisaddressed)
	require.Empty(t, plaintexts(t, carol))
}

func TestHandleDelivery_OtherRecipientsKeyFails(t *testing.T) {
	b := newBroker(t)
	alice := join(t, b, b, b, "alice")
	bob := join(t, b, b, b, "bob")
	carol := join(t, b, b, b, "carol")
	refreshAll(t, alice, bob, carol)
	ctx := context.Background()

	_, err := alice.svc.Send(ctx, []byte("for bob"))
	require.NoError(t, err)
	batch, err := b.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	queued := batch.Bodies

	// carol pretends to be bob but only holds her own key.
	carol.svc.SetIdentity("bob", carol.identity)
	_, err = carol.svc.HandleDelivery(ctx, queued[0])
	require.ErrorIs(t, err, crypto.ErrAuthentication)
}

func TestSubscribe_EndToEnd(t *testing.T) {
	b := newBroker(t)
	alice := join(t, b, b, b, "alice")
	bob := join(t, b, b, b, "bob")
	carol := join(t, b, b, b, "carol")
	refreshAll(t, alice, bob, carol)

	ctx, cancel := context.WithCancel(context.Background())
	for _, p := range []*participant{alice, bob, carol} {
		require.NoError(t, b.Subscribe(ctx, domain.UserQueue(p.id), p.svc))
	}

	_, err := alice.svc.Send(ctx, []byte("hi from alice"))
	require.NoError(t, err)
	_, err = bob.svc.Send(ctx, []byte("hi from bob"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, _ := alice.log.Len()
		bb, _ := bob.log.Len()
		c, _ := carol.log.Len()
		return a == 1 && bb == 1 && c == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, []string{"hi from bob"}, plaintexts(t, alice))
	require.Equal(t, []string{"hi from alice"}, plaintexts(t, bob))
	require.ElementsMatch(t, []string{"hi from alice", "hi from bob"}, plaintexts(t, carol))

	cancel()
	b.Wait()
}
