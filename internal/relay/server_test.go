package relay_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/relay"
	"relaychat/internal/testlogger"
)

type fixture struct {
	hub    *relay.Hub
	srv    *httptest.Server
	client *relay.Client
	clock  clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := testlogger.New(t)
	clock := clockwork.NewFakeClock()
	hub := relay.NewHub(crypto.DefaultDomainParams(), clock, l)
	srv := httptest.NewServer(relay.NewServer(hub, l))
	t.Cleanup(srv.Close)
	return &fixture{
		hub:    hub,
		srv:    srv,
		client: relay.NewClient(srv.URL, time.Second, clock, l),
		clock:  clock,
	}
}

func newKey(t *testing.T) *big.Int {
	t.Helper()
	kp, err := crypto.GenerateKeyPair(nil, crypto.DefaultDomainParams())
	require.NoError(t, err)
	return kp.Public
}

func testBundle(sender domain.ParticipantID, recipients ...domain.ParticipantID) domain.Bundle {
	b := domain.Bundle{SenderID: sender}
	for _, id := range recipients {
		b.Recipients = append(b.Recipients, domain.Envelope{
			RecipientID:        id,
			SenderEphemeralKey: big.NewInt(9),
			Nonce:              make([]byte, 12),
			Ciphertext:         []byte("sealed"),
		})
	}
	return b
}

type collector struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (c *collector) OnMessage(_ context.Context, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, append([]byte{}, body...))
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *collector) at(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[i]
}

func TestClient_FetchParams(t *testing.T) {
	f := newFixture(t)
	params, err := f.client.FetchParams(context.Background())
	require.NoError(t, err)
	require.True(t, params.Equal(crypto.DefaultDomainParams()))
}

func TestServer_Params_BareHex(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/params")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var w domain.ParamsWire
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&w))
	require.Equal(t, "2", w.G)
	require.Equal(t, crypto.DefaultDomainParams().P().Text(16), w.P)
}

func TestClient_RegisterAndRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := newKey(t), newKey(t)

	id, err := f.client.RegisterKey(ctx, "", alice)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	named, err := f.client.RegisterKey(ctx, "bob", bob)
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantID("bob"), named)

	roster, err := f.client.FetchRoster(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	require.Zero(t, roster[id].Cmp(alice))
	require.Zero(t, roster["bob"].Cmp(bob))
}

func TestClient_RegisterKey_InvalidKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.RegisterKey(context.Background(), "mallory", big.NewInt(1))
	require.ErrorIs(t, err, relay.ErrUnexpectedStatus)
	require.Contains(t, err.Error(), "400")
}

func TestServer_Roster_VersionHeader(t *testing.T) {
	f := newFixture(t)
	_, err := f.hub.Register("alice", newKey(t))
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + domain.TopicPublicKeys)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "1", resp.Header.Get(relay.RosterVersionHeader))
}

func TestClient_SendFetchAck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []domain.ParticipantID{"alice", "bob"} {
		_, err := f.client.RegisterKey(ctx, id, newKey(t))
		require.NoError(t, err)
	}

	body, err := json.Marshal(testBundle("alice", "bob", "ghost"))
	require.NoError(t, err)
	require.NoError(t, f.client.Publish(ctx, domain.TopicSendMessage, body))

	msgs, err := f.client.FetchMessages(ctx, "bob", 10)
	require.NoError(t, err)
	require.Equal(t, 1, msgs.Len())
	require.Equal(t, uint64(1), msgs.First)
	d, err := domain.ParseDelivery(msgs.Bodies[0])
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantID("alice"), d.SenderID)
	require.Equal(t, domain.ParticipantID("bob"), d.RecipientID)

	require.NoError(t, f.client.AckMessages(ctx, "bob", msgs.Through(msgs.Len())))
	msgs, err = f.client.FetchMessages(ctx, "bob", 10)
	require.NoError(t, err)
	require.Zero(t, msgs.Len())
}

func TestClient_AckAfterExpireKeepsUnfetched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []domain.ParticipantID{"alice", "bob", "carol"} {
		_, err := f.client.RegisterKey(ctx, id, newKey(t))
		require.NoError(t, err)
	}
	send := func(from domain.ParticipantID) {
		body, err := json.Marshal(testBundle(from, "bob"))
		require.NoError(t, err)
		require.NoError(t, f.client.Publish(ctx, domain.TopicSendMessage, body))
	}

	send("alice")
	fetched, err := f.client.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	require.Equal(t, 1, fetched.Len())

	require.Equal(t, 1, f.hub.Expire(-time.Second))
	send("carol")

	require.NoError(t, f.client.AckMessages(ctx, "bob", fetched.Through(fetched.Len())))
	rest, err := f.client.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	require.Equal(t, 1, rest.Len())
	require.Equal(t, uint64(2), rest.First)
	d, err := domain.ParseDelivery(rest.Bodies[0])
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantID("carol"), d.SenderID)
}

func TestClient_Publish_RegisterTopic(t *testing.T) {
	f := newFixture(t)
	body, err := json.Marshal(domain.Registration{ParticipantID: "carol", PublicKey: newKey(t)})
	require.NoError(t, err)
	require.NoError(t, f.client.Publish(context.Background(), domain.TopicRegisterKey, body))

	roster, _ := f.hub.Roster()
	require.Contains(t, roster, domain.ParticipantID("carol"))
}

func TestServer_RejectsMalformedRequests(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"bundle not json", http.MethodPost, domain.TopicSendMessage, "{"},
		{"bundle without recipients", http.MethodPost, domain.TopicSendMessage, `{"senderId":"a"}`},
		{"registration without key", http.MethodPost, domain.TopicRegisterKey, `{"participantId":"a"}`},
		{"registration bad base64", http.MethodPost, domain.TopicRegisterKey, `{"participantId":"a","publicKey":"%%"}`},
		{"registration id with slash", http.MethodPost, domain.TopicRegisterKey, `{"participantId":"a/b","publicKey":"` + crypto.EncodeInt(big.NewInt(4)) + `"}`},
		{"negative limit", http.MethodGet, "/user/a/queue/messages?limit=-1", ""},
		{"ack not json", http.MethodPost, "/user/a/queue/messages/ack", "nope"},
		{"ack negative seq", http.MethodPost, "/user/a/queue/messages/ack", `{"upTo":-1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, f.srv.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestClient_UnsupportedTopics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.ErrorIs(t, f.client.Publish(ctx, domain.TopicPublicKeys, []byte("{}")), relay.ErrUnsupportedTopic)
	require.ErrorIs(t, f.client.Subscribe(ctx, "/topic/other", &collector{}), relay.ErrUnsupportedTopic)
	require.ErrorIs(t, f.client.Subscribe(ctx, "/user//queue/messages", &collector{}), relay.ErrUnsupportedTopic)
}

func TestClient_SubscribeRoster_DeliversOnVersionChange(t *testing.T) {
	f := newFixture(t)
	_, err := f.hub.Register("alice", newKey(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := &collector{}
	require.NoError(t, f.client.Subscribe(ctx, domain.TopicPublicKeys, got))

	require.Eventually(t, func() bool { return got.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Polls without a change deliver nothing.
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
	}
	_, err = f.hub.Register("bob", newKey(t))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.clock.Advance(time.Second)
		return got.len() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	roster, err := domain.ParseRoster(got.at(got.len() - 1))
	require.NoError(t, err)
	require.Len(t, roster, 2)
	for i := 0; i < got.len(); i++ {
		r, err := domain.ParseRoster(got.at(i))
		require.NoError(t, err)
		if i < got.len()-1 {
			require.Len(t, r, 1)
		}
	}
}

func TestClient_SubscribeQueue_DeliversAndAcks(t *testing.T) {
	f := newFixture(t)
	for _, id := range []domain.ParticipantID{"alice", "bob"} {
		_, err := f.hub.Register(id, newKey(t))
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, _, err := f.hub.Route(testBundle("alice", "bob"))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := &collector{}
	require.NoError(t, f.client.Subscribe(ctx, domain.UserQueue("bob"), got))

	require.Eventually(t, func() bool {
		return got.len() == 3 && f.hub.Pending("bob") == 0
	}, 2*time.Second, 5*time.Millisecond)

	_, _, err := f.hub.Route(testBundle("alice", "bob"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		f.clock.Advance(time.Second)
		return got.len() == 4
	}, 2*time.Second, 5*time.Millisecond)
}
