package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"relaychat/internal/crypto"
)

// Registration is the body published on TopicRegisterKey. An empty
// ParticipantID asks the directory to assign one.
type Registration struct {
	ParticipantID ParticipantID
	PublicKey     *big.Int
}

type registrationWire struct {
	ParticipantID string `json:"participantId"`
	PublicKey     string `json:"publicKey"`
}

// MarshalJSON implements json.Marshaler.
func (r Registration) MarshalJSON() ([]byte, error) {
	return json.Marshal(registrationWire{
		ParticipantID: string(r.ParticipantID),
		PublicKey:     crypto.EncodeInt(r.PublicKey),
	})
}

// UnmarshalJSON implements json.Unmarshaler; publicKey is required.
func (r *Registration) UnmarshalJSON(b []byte) error {
	var w registrationWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: registration: %v", crypto.ErrDecode, err)
	}
	if w.PublicKey == "" {
		return fmt.Errorf("%w: registration: missing publicKey", crypto.ErrDecode)
	}
	pub, err := crypto.DecodeInt(w.PublicKey)
	if err != nil {
		return fmt.Errorf("registration publicKey: %w", err)
	}
	*r = Registration{ParticipantID: ParticipantID(w.ParticipantID), PublicKey: pub}
	return nil
}

// ParseRegistration decodes a registration body.
func ParseRegistration(b []byte) (Registration, error) {
	var r Registration
	if err := json.Unmarshal(b, &r); err != nil {
		return Registration{}, wrapDecode(err)
	}
	return r, nil
}
