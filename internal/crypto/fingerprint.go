package crypto

import (
	"crypto/sha256"
	"math/big"

	"github.com/mr-tron/base58"
)

// Fingerprint returns a short base58 fingerprint of a public key for display.
//
// It hashes the transport encoding of the key with SHA-256 and keeps 10 bytes,
// so every peer computes the same value from what the directory publishes.
func Fingerprint(pub *big.Int) string {
	sum := sha256.Sum256([]byte(EncodeInt(pub)))
	return base58.Encode(sum[:10])
}
