package interfaces

import (
	"context"
	"math/big"

	"relaychat/internal/crypto"
	domaintypes "relaychat/internal/domain/types"
)

// Handler receives inbound messages for a subscription. Implementations must
// be safe for concurrent use: deliveries on different topics may overlap.
type Handler interface {
	OnMessage(ctx context.Context, body []byte) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, body []byte) error

// OnMessage calls f.
func (f HandlerFunc) OnMessage(ctx context.Context, body []byte) error { return f(ctx, body) }

// Transport moves opaque payloads between participants.
type Transport interface {
	// Publish hands body to the destination topic. Once it returns nil the
	// payload is the transport's responsibility.
	Publish(ctx context.Context, topic string, body []byte) error
	// Subscribe registers h for topic until ctx is cancelled.
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// Directory serves the domain parameters and the public-key roster.
type Directory interface {
	FetchParams(ctx context.Context) (*crypto.DomainParams, error)
	FetchRoster(ctx context.Context) (domaintypes.Roster, error)
	// RegisterKey publishes pub under id. An empty id asks the directory to
	// assign one; the id in effect is returned.
	RegisterKey(
		ctx context.Context,
		id domaintypes.ParticipantID,
		pub *big.Int,
	) (domaintypes.ParticipantID, error)
}

// Mailbox is pull access to a participant's delivery queue, for one-shot
// receives outside a subscription.
type Mailbox interface {
	// FetchMessages returns up to limit queued deliveries, oldest first,
	// without removing them. limit <= 0 means all.
	FetchMessages(ctx context.Context, id domaintypes.ParticipantID, limit int) (domaintypes.QueueBatch, error)
	// AckMessages removes every queued delivery with a sequence number up to
	// and including upTo. Deliveries queued later are never touched.
	AckMessages(ctx context.Context, id domaintypes.ParticipantID, upTo uint64) error
}
