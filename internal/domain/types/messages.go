package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"relaychat/internal/crypto"
)

// Envelope is one recipient's individually encrypted copy of a message.
type Envelope struct {
	RecipientID        ParticipantID
	SenderEphemeralKey *big.Int
	Nonce              []byte
	Ciphertext         []byte
}

// Bundle is every envelope produced for one plaintext, published as a unit.
type Bundle struct {
	SenderID   ParticipantID
	Recipients []Envelope
}

// Delivery is a single envelope as it reaches its recipient's queue.
type Delivery struct {
	SenderID ParticipantID
	Envelope
}

// envelopeWire is the normative JSON shape of an envelope. Binary values are
// base64 text.
type envelopeWire struct {
	RecipientID        string `json:"recipientId"`
	SenderEphemeralKey string `json:"senderEphemeralKey"`
	Nonce              string `json:"nonce"`
	Ciphertext         string `json:"ciphertext"`
}

type bundleWire struct {
	SenderID   string          `json:"senderId"`
	Recipients *[]envelopeWire `json:"recipients"`
}

type deliveryWire struct {
	SenderID string `json:"senderId"`
	envelopeWire
}

func (e Envelope) wire() envelopeWire {
	return envelopeWire{
		RecipientID:        string(e.RecipientID),
		SenderEphemeralKey: crypto.EncodeInt(e.SenderEphemeralKey),
		Nonce:              crypto.EncodeBytes(e.Nonce),
		Ciphertext:         crypto.EncodeBytes(e.Ciphertext),
	}
}

func (w envelopeWire) parse() (Envelope, error) {
	if w.RecipientID == "" {
		return Envelope{}, fmt.Errorf("%w: missing recipientId", crypto.ErrDecode)
	}
	if w.SenderEphemeralKey == "" {
		return Envelope{}, fmt.Errorf("%w: missing senderEphemeralKey", crypto.ErrDecode)
	}
	key, err := crypto.DecodeInt(w.SenderEphemeralKey)
	if err != nil {
		return Envelope{}, fmt.Errorf("senderEphemeralKey: %w", err)
	}
	nonce, err := crypto.DecodeBytes("nonce", w.Nonce)
	if err != nil {
		return Envelope{}, err
	}
	ct, err := crypto.DecodeBytes("ciphertext", w.Ciphertext)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		RecipientID:        ParticipantID(w.RecipientID),
		SenderEphemeralKey: key,
		Nonce:              nonce,
		Ciphertext:         ct,
	}, nil
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

// UnmarshalJSON implements json.Unmarshaler; every field is required.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: envelope: %v", crypto.ErrDecode, err)
	}
	env, err := w.parse()
	if err != nil {
		return err
	}
	*e = env
	return nil
}

// MarshalJSON implements json.Marshaler. A bundle with no envelopes encodes
// an empty recipients array.
func (b Bundle) MarshalJSON() ([]byte, error) {
	recipients := make([]envelopeWire, 0, len(b.Recipients))
	for _, e := range b.Recipients {
		recipients = append(recipients, e.wire())
	}
	return json.Marshal(bundleWire{SenderID: string(b.SenderID), Recipients: &recipients})
}

// UnmarshalJSON implements json.Unmarshaler. senderId and recipients must
// both be present; recipients may be empty.
func (b *Bundle) UnmarshalJSON(raw []byte) error {
	var w bundleWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return fmt.Errorf("%w: bundle: %v", crypto.ErrDecode, err)
	}
	if w.SenderID == "" {
		return fmt.Errorf("%w: bundle: missing senderId", crypto.ErrDecode)
	}
	if w.Recipients == nil {
		return fmt.Errorf("%w: bundle: missing recipients", crypto.ErrDecode)
	}
	out := Bundle{SenderID: ParticipantID(w.SenderID), Recipients: make([]Envelope, 0, len(*w.Recipients))}
	for i, ew := range *w.Recipients {
		env, err := ew.parse()
		if err != nil {
			return fmt.Errorf("bundle envelope %d: %w", i, err)
		}
		out.Recipients = append(out.Recipients, env)
	}
	*b = out
	return nil
}

// Deliveries splits the bundle into the per-recipient messages a relay
// queues.
func (b Bundle) Deliveries() []Delivery {
	out := make([]Delivery, 0, len(b.Recipients))
	for _, e := range b.Recipients {
		out = append(out, Delivery{SenderID: b.SenderID, Envelope: e})
	}
	return out
}

// MarshalJSON implements json.Marshaler: the envelope fields plus senderId,
// with no wrapper.
func (d Delivery) MarshalJSON() ([]byte, error) {
	return json.Marshal(deliveryWire{SenderID: string(d.SenderID), envelopeWire: d.Envelope.wire()})
}

// UnmarshalJSON implements json.Unmarshaler; every field is required.
func (d *Delivery) UnmarshalJSON(b []byte) error {
	var w deliveryWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: delivery: %v", crypto.ErrDecode, err)
	}
	if w.SenderID == "" {
		return fmt.Errorf("%w: delivery: missing senderId", crypto.ErrDecode)
	}
	env, err := w.envelopeWire.parse()
	if err != nil {
		return err
	}
	*d = Delivery{SenderID: ParticipantID(w.SenderID), Envelope: env}
	return nil
}

// ParseBundle decodes a bundle message body.
func ParseBundle(b []byte) (Bundle, error) {
	var out Bundle
	if err := json.Unmarshal(b, &out); err != nil {
		return Bundle{}, wrapDecode(err)
	}
	return out, nil
}

// ParseDelivery decodes a queue message body.
func ParseDelivery(b []byte) (Delivery, error) {
	var out Delivery
	if err := json.Unmarshal(b, &out); err != nil {
		return Delivery{}, wrapDecode(err)
	}
	return out, nil
}

// wrapDecode makes sure syntax errors caught before our UnmarshalJSON runs
// still report crypto.ErrDecode.
func wrapDecode(err error) error {
	if errors.Is(err, crypto.ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %v", crypto.ErrDecode, err)
}

// Record is a decrypted message in the local append-only log.
type Record struct {
	Seq        uint64        `json:"seq"`
	SenderID   ParticipantID `json:"senderId"`
	Plaintext  []byte        `json:"plaintext"`
	ReceivedAt time.Time     `json:"receivedAt"`
}
