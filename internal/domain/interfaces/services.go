package interfaces

import (
	"context"

	"relaychat/internal/crypto"
	domaintypes "relaychat/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects your identity keys.
type IdentityService interface {
	LoadOrGenerate(passphrase string, params *crypto.DomainParams) (domaintypes.Identity, bool, error)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// MessageService encrypts and sends bundles and decrypts deliveries.
type MessageService interface {
	Send(ctx context.Context, plaintext []byte) (domaintypes.Bundle, error)
	HandleDelivery(ctx context.Context, body []byte) (domaintypes.Record, error)
	Receive(ctx context.Context, limit int) ([]domaintypes.Record, error)
}
