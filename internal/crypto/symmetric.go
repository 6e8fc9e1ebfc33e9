package crypto

import (
	"crypto/cipher"
	"fmt"

	"relaychat/internal/entropy"
)

// SymmetricKey is raw AEAD key material derived from one SharedSecret.
type SymmetricKey struct {
	b [KeySize]byte
}

// Equal reports whether both keys hold the same bytes.
func (k *SymmetricKey) Equal(o *SymmetricKey) bool {
	return k != nil && o != nil && k.b == o.b
}

// Wipe zeroes the key.
func (k *SymmetricKey) Wipe() {
	if k != nil {
		Wipe(k.b[:])
	}
}

// DeriveKey hashes the lowercase hexadecimal text of the secret. Sender and
// receiver must agree on this canonical form. The secret is wiped on return.
func (s Suite) DeriveKey(secret *SharedSecret) (*SymmetricKey, error) {
	if secret == nil || secret.v == nil {
		return nil, fmt.Errorf("crypto: no shared secret")
	}
	text := []byte(secret.v.Text(16))
	defer Wipe(text)
	defer secret.Wipe()

	return &SymmetricKey{b: s.Hash.Sum256(text)}, nil
}

// Seal encrypts plaintext under key with a fresh random nonce. The returned
// ciphertext carries the authentication tag.
func (s Suite) Seal(key *SymmetricKey, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := s.aead(key)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = entropy.GetRandom(s.Rand, NonceSize)
	if err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts ciphertext. Any verification failure,
// including a malformed nonce, yields ErrAuthentication and no plaintext.
func (s Suite) Open(key *SymmetricKey, nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize || len(ciphertext) < TagSize {
		return nil, ErrAuthentication
	}
	aead, err := s.aead(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

func (s Suite) aead(key *SymmetricKey) (cipher.AEAD, error) {
	if key == nil {
		return nil, fmt.Errorf("crypto: nil symmetric key")
	}
	aead, err := s.AEAD.NewAEAD(key.b[:])
	if err != nil {
		return nil, err
	}
	if aead.NonceSize() != NonceSize || aead.Overhead() != TagSize {
		return nil, fmt.Errorf("crypto: %s does not use %d-byte nonces and %d-byte tags",
			s.AEAD.Name(), NonceSize, TagSize)
	}
	return aead, nil
}
