package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"relaychat/internal/crypto"
)

// Roster maps participant ids to their long-term public keys. On the wire it
// is a JSON object of id to base64 key text.
type Roster map[ParticipantID]*big.Int

// IDs returns the roster's participant ids in ascending order.
func (r Roster) IDs() []ParticipantID {
	ids := make([]ParticipantID, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a deep copy of r.
func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for id, pub := range r {
		out[id] = new(big.Int).Set(pub)
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (r Roster) MarshalJSON() ([]byte, error) {
	wire := make(map[string]string, len(r))
	for id, pub := range r {
		wire[string(id)] = crypto.EncodeInt(pub)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler. Empty ids and undecodable keys
// fail with crypto.ErrDecode.
func (r *Roster) UnmarshalJSON(b []byte) error {
	var wire map[string]string
	if err := json.Unmarshal(b, &wire); err != nil {
		return fmt.Errorf("%w: roster: %v", crypto.ErrDecode, err)
	}
	if wire == nil {
		return fmt.Errorf("%w: roster: not an object", crypto.ErrDecode)
	}
	out := make(Roster, len(wire))
	for id, text := range wire {
		if id == "" {
			return fmt.Errorf("%w: roster: empty participant id", crypto.ErrDecode)
		}
		pub, err := crypto.DecodeInt(text)
		if err != nil {
			return fmt.Errorf("roster entry %q: %w", id, err)
		}
		out[ParticipantID(id)] = pub
	}
	*r = out
	return nil
}

// ParseRoster decodes a roster message body.
func ParseRoster(b []byte) (Roster, error) {
	var r Roster
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, wrapDecode(err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: roster: not an object", crypto.ErrDecode)
	}
	return r, nil
}
