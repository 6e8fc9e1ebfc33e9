package interfaces

import domaintypes "relaychat/internal/domain/types"

// IdentityStore persists your long-term identity keys.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
}

// MessageLog is the append-only log of decrypted messages. Append is
// serialised; records are never modified once written.
type MessageLog interface {
	Append(sender domaintypes.ParticipantID, plaintext []byte) (domaintypes.Record, error)
	Records() ([]domaintypes.Record, error)
	Len() (int, error)
	Close() error
}
