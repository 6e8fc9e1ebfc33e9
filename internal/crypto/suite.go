package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the length of a derived symmetric key.
	KeySize = 32
	// NonceSize is the AEAD nonce length (96 bits).
	NonceSize = 12
	// TagSize is the AEAD authentication tag length (128 bits).
	TagSize = 16
)

// SecureRandom is a cryptographically secure source of random bytes.
type SecureRandom = io.Reader

// Hash256 is a one-way hash with a 256-bit output.
type Hash256 interface {
	Name() string
	Sum256(data []byte) [32]byte
}

// AEADCipher builds an authenticated cipher with a 96-bit nonce and a
// 128-bit tag from a 256-bit key.
type AEADCipher interface {
	Name() string
	NewAEAD(key []byte) (cipher.AEAD, error)
}

// Suite binds the three capabilities the symmetric layer depends on.
type Suite struct {
	Rand SecureRandom
	Hash Hash256
	AEAD AEADCipher
}

// DefaultSuite uses crypto/rand, SHA-256 and AES-256-GCM.
func DefaultSuite() Suite {
	return Suite{Rand: rand.Reader, Hash: SHA256, AEAD: AESGCM}
}

// NewSuite resolves hash and AEAD providers by name. Empty names select the
// defaults.
func NewSuite(rand SecureRandom, hashName, aeadName string) (Suite, error) {
	s := DefaultSuite()
	if rand != nil {
		s.Rand = rand
	}
	if hashName != "" {
		h, ok := hashes[hashName]
		if !ok {
			return Suite{}, fmt.Errorf("unknown hash %q", hashName)
		}
		s.Hash = h
	}
	if aeadName != "" {
		a, ok := aeads[aeadName]
		if !ok {
			return Suite{}, fmt.Errorf("unknown aead %q", aeadName)
		}
		s.AEAD = a
	}
	return s, nil
}

// Available hash and AEAD providers.
var (
	SHA256     Hash256 = sha256Hash{}
	BLAKE2b256 Hash256 = blake2bHash{}

	AESGCM           AEADCipher = aesGCM{}
	ChaCha20Poly1305 AEADCipher = chachaPoly{}
)

var (
	hashes = map[string]Hash256{
		SHA256.Name():     SHA256,
		BLAKE2b256.Name(): BLAKE2b256,
	}
	aeads = map[string]AEADCipher{
		AESGCM.Name():           AESGCM,
		ChaCha20Poly1305.Name(): ChaCha20Poly1305,
	}
)

type sha256Hash struct{}

func (sha256Hash) Name() string { return "sha256" }

func (sha256Hash) Sum256(data []byte) [32]byte { return sha256.Sum256(data) }

type blake2bHash struct{}

func (blake2bHash) Name() string { return "blake2b-256" }

func (blake2bHash) Sum256(data []byte) [32]byte { return blake2b.Sum256(data) }

type aesGCM struct{}

func (aesGCM) Name() string { return "aes-256-gcm" }

func (aesGCM) NewAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

type chachaPoly struct{}

func (chachaPoly) Name() string { return "chacha20-poly1305" }

func (chachaPoly) NewAEAD(key []byte) (cipher.AEAD, error) {
	return chacha20poly1305.New(key)
}
