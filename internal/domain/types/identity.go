package types

import (
	"encoding/json"
	"fmt"

	"relaychat/internal/crypto"
)

// Identity is the local participant's long-term key pair, bound to the
// domain parameters it was generated under.
type Identity struct {
	ParamsFingerprint string
	KeyPair           crypto.KeyPair
}

// Fingerprint returns the display fingerprint of the public key.
func (id Identity) Fingerprint() Fingerprint {
	return Fingerprint(crypto.Fingerprint(id.KeyPair.Public))
}

type identityWire struct {
	ParamsFingerprint string `json:"params_fingerprint"`
	Private           string `json:"private"`
	Public            string `json:"public"`
}

// MarshalJSON implements json.Marshaler. Keys are stored as hex.
func (id Identity) MarshalJSON() ([]byte, error) {
	if id.KeyPair.Private == nil || id.KeyPair.Public == nil {
		return nil, fmt.Errorf("identity: incomplete key pair")
	}
	return json.Marshal(identityWire{
		ParamsFingerprint: id.ParamsFingerprint,
		Private:           id.KeyPair.Private.Text(16),
		Public:            id.KeyPair.Public.Text(16),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *Identity) UnmarshalJSON(b []byte) error {
	var w identityWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: identity: %v", crypto.ErrDecode, err)
	}
	priv, err := crypto.DecodeHexInt(w.Private)
	if err != nil {
		return fmt.Errorf("identity private key: %w", err)
	}
	pub, err := crypto.DecodeHexInt(w.Public)
	if err != nil {
		return fmt.Errorf("identity public key: %w", err)
	}
	*id = Identity{
		ParamsFingerprint: w.ParamsFingerprint,
		KeyPair:           crypto.KeyPair{Private: priv, Public: pub},
	}
	return nil
}

// Matches reports whether the identity was generated under params and its
// public key is consistent with its private key.
func (id Identity) Matches(params *crypto.DomainParams) bool {
	if id.KeyPair.Private == nil || id.KeyPair.Public == nil {
		return false
	}
	if id.ParamsFingerprint != params.Fingerprint() {
		return false
	}
	return crypto.ModPow(params.G(), id.KeyPair.Private, params.P()).Cmp(id.KeyPair.Public) == 0
}

// Wipe clears the private key.
func (id *Identity) Wipe() {
	id.KeyPair.Wipe()
}

