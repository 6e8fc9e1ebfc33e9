package crypto

import (
	"encoding/base64"
	"fmt"
	"math/big"
)

// EncodeInt returns the transport form of a non-negative integer: standard
// base64 over its lowercase hexadecimal text, without leading zeros.
func EncodeInt(n *big.Int) string {
	if n.Sign() < 0 {
		panic("crypto: EncodeInt of a negative integer")
	}
	return base64.StdEncoding.EncodeToString([]byte(n.Text(16)))
}

// DecodeInt is the inverse of EncodeInt.
func DecodeInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty integer", ErrDecode)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: integer is not base64: %v", ErrDecode, err)
	}
	return DecodeHexInt(string(raw))
}

// DecodeHexInt parses bare hexadecimal text (either case, no sign or prefix).
func DecodeHexInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty hex integer", ErrDecode)
	}
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) {
			return nil, fmt.Errorf("%w: invalid hex character %q at %d", ErrDecode, s[i], i)
		}
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("%w: invalid hex integer", ErrDecode)
	}
	return n, nil
}

// DecodeBytes decodes a standard base64 binary field (nonce, ciphertext).
func DecodeBytes(field, s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty %s", ErrDecode, field)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not base64: %v", ErrDecode, field, err)
	}
	return b, nil
}

// EncodeBytes is the counterpart of DecodeBytes.
func EncodeBytes(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
