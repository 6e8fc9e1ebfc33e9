package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
)

var (
	// ErrUnexpectedStatus wraps every non-2xx response from the relay.
	ErrUnexpectedStatus = errors.New("unexpected relay status")

	// ErrUnsupportedTopic is returned for destinations the relay does not
	// serve over HTTP.
	ErrUnsupportedTopic = errors.New("unsupported topic")
)

// DefaultPollInterval is how often subscriptions poll the relay.
const DefaultPollInterval = time.Second

// Client talks to a relay over HTTP. It is the Directory, the Transport and
// the Mailbox of a participant. Subscriptions are served by polling.
type Client struct {
	Base string
	HTTP *http.Client

	clock clockwork.Clock
	log   log.Logger
	poll  time.Duration
	batch int
}

// NewClient returns a client for the relay at base. A poll interval <= 0
// means DefaultPollInterval.
func NewClient(base string, poll time.Duration, clock clockwork.Clock, l log.Logger) *Client {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Client{
		Base:  base,
		HTTP:  http.DefaultClient,
		clock: clock,
		log:   l.Named("relay"),
		poll:  poll,
		batch: 100,
	}
}

// FetchParams implements domain.Directory.
func (c *Client) FetchParams(ctx context.Context) (*crypto.DomainParams, error) {
	b, _, err := c.get(ctx, "/params")
	if err != nil {
		return nil, err
	}
	return domain.ParseParams(b)
}

// FetchRoster implements domain.Directory.
func (c *Client) FetchRoster(ctx context.Context) (domain.Roster, error) {
	b, _, err := c.get(ctx, domain.TopicPublicKeys)
	if err != nil {
		return nil, err
	}
	return domain.ParseRoster(b)
}

// RegisterKey implements domain.Directory.
func (c *Client) RegisterKey(ctx context.Context, id domain.ParticipantID, pub *big.Int) (domain.ParticipantID, error) {
	var out RegisterResponse
	if err := c.post(ctx, domain.TopicRegisterKey, domain.Registration{ParticipantID: id, PublicKey: pub}, &out); err != nil {
		return "", err
	}
	if out.ParticipantID == "" {
		return "", fmt.Errorf("%w: register: empty participantId", crypto.ErrDecode)
	}
	return domain.ParticipantID(out.ParticipantID), nil
}

// FetchMessages implements domain.Mailbox.
func (c *Client) FetchMessages(ctx context.Context, id domain.ParticipantID, limit int) (domain.QueueBatch, error) {
	path := "/user/" + url.PathEscape(string(id)) + "/queue/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	b, header, err := c.get(ctx, path)
	if err != nil {
		return domain.QueueBatch{}, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return domain.QueueBatch{}, fmt.Errorf("%w: queue: %v", crypto.ErrDecode, err)
	}
	if len(raw) == 0 {
		return domain.QueueBatch{}, nil
	}
	first, err := strconv.ParseUint(header.Get(QueueSeqHeader), 10, 64)
	if err != nil || first == 0 {
		return domain.QueueBatch{}, fmt.Errorf("%w: queue: missing or bad %s", crypto.ErrDecode, QueueSeqHeader)
	}
	out := domain.QueueBatch{First: first, Bodies: make([][]byte, len(raw))}
	for i, m := range raw {
		out.Bodies[i] = m
	}
	return out, nil
}

// AckMessages implements domain.Mailbox.
func (c *Client) AckMessages(ctx context.Context, id domain.ParticipantID, upTo uint64) error {
	if upTo == 0 {
		return nil
	}
	path := "/user/" + url.PathEscape(string(id)) + "/queue/messages/ack"
	return c.post(ctx, path, AckRequest{UpTo: upTo}, nil)
}

// Publish implements domain.Transport for the register and send topics.
func (c *Client) Publish(ctx context.Context, topic string, body []byte) error {
	switch topic {
	case domain.TopicRegisterKey, domain.TopicSendMessage:
		return c.postRaw(ctx, topic, body, nil)
	default:
		return fmt.Errorf("%w: publish %s", ErrUnsupportedTopic, topic)
	}
}

// Subscribe implements domain.Transport. The roster topic delivers the
// roster whenever its version changes, starting with the current one. A user
// queue delivers every queued message in order and acknowledges what was
// handed to h. Polling stops when ctx is done.
func (c *Client) Subscribe(ctx context.Context, topic string, h domain.Handler) error {
	var step func(context.Context) error
	switch {
	case topic == domain.TopicPublicKeys:
		step = c.rosterPoller(h)
	default:
		id, ok := domain.ParseUserQueue(topic)
		if !ok {
			return fmt.Errorf("%w: subscribe %s", ErrUnsupportedTopic, topic)
		}
		step = c.queuePoller(id, h)
	}

	go c.pollLoop(ctx, topic, step)
	return nil
}

func (c *Client) pollLoop(ctx context.Context, topic string, step func(context.Context) error) {
	ticker := c.clock.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		if err := step(ctx); err != nil && ctx.Err() == nil {
			c.log.Warnw("poll failed", "topic", topic, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (c *Client) rosterPoller(h domain.Handler) func(context.Context) error {
	last := ""
	return func(ctx context.Context) error {
		b, hdr, err := c.get(ctx, domain.TopicPublicKeys)
		if err != nil {
			return err
		}
		version := hdr.Get(RosterVersionHeader)
		if version != "" && version == last {
			return nil
		}
		if err := h.OnMessage(ctx, b); err != nil {
			return err
		}
		last = version
		return nil
	}
}

func (c *Client) queuePoller(id domain.ParticipantID, h domain.Handler) func(context.Context) error {
	return func(ctx context.Context) error {
		batch, err := c.FetchMessages(ctx, id, c.batch)
		if err != nil {
			return err
		}
		delivered := 0
		for _, b := range batch.Bodies {
			if ctx.Err() != nil {
				break
			}
			// Handler errors are the handler's to report; the message was
			// still delivered.
			_ = h.OnMessage(ctx, b)
			delivered++
		}
		if delivered == 0 {
			return nil
		}
		// The ack must land even when the subscription is being torn down,
		// otherwise the next subscriber sees the same messages again.
		return c.AckMessages(context.WithoutCancel(ctx), id, batch.Through(delivered))
	}
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	return c.postRaw(ctx, path, buf.Bytes(), out)
}

func (c *Client) postRaw(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(http.MethodPost, path, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %s: %v", crypto.ErrDecode, path, err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, nil, statusError(http.MethodGet, path, resp)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, err
	}
	return b, resp.Header, nil
}

func statusError(method, path string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: %s %s: %s: %s", ErrUnexpectedStatus, method, path, resp.Status, bytes.TrimSpace(msg))
}

var (
	_ domain.Directory = (*Client)(nil)
	_ domain.Transport = (*Client)(nil)
	_ domain.Mailbox   = (*Client)(nil)
)
