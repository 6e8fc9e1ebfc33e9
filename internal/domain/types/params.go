package types

import (
	"encoding/json"
	"fmt"

	"relaychat/internal/crypto"
)

// ParamsWire is the JSON shape served by GET /params: bare hex, no base64.
type ParamsWire struct {
	P string `json:"p"`
	G string `json:"g"`
}

// MarshalParams encodes params in the directory wire form.
func MarshalParams(params *crypto.DomainParams) ([]byte, error) {
	return json.Marshal(ParamsWire{P: params.P().Text(16), G: params.G().Text(16)})
}

// ParseParams decodes and validates the directory wire form.
func ParseParams(b []byte) (*crypto.DomainParams, error) {
	var w ParamsWire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: params: %v", crypto.ErrDecode, err)
	}
	if w.P == "" || w.G == "" {
		return nil, fmt.Errorf("%w: params: missing p or g", crypto.ErrDecode)
	}
	p, err := crypto.DecodeHexInt(w.P)
	if err != nil {
		return nil, fmt.Errorf("params p: %w", err)
	}
	g, err := crypto.DecodeHexInt(w.G)
	if err != nil {
		return nil, fmt.Errorf("params g: %w", err)
	}
	return crypto.NewDomainParams(p, g)
}
