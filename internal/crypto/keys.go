package crypto

import (
	"fmt"
	"io"
	"math/big"

	"relaychat/internal/entropy"
)

// minExponentBits is the lower bound on random bits drawn for a private
// exponent, before reduction into [1, p-2].
const minExponentBits = 256

// KeyPair is a Diffie-Hellman key pair over a DomainParams group.
type KeyPair struct {
	Private *big.Int
	Public  *big.Int
}

// GenerateKeyPair draws a private exponent from rand, reduced into [1, p-2],
// and computes Public = g^Private mod p. Any failure of rand is reported as
// ErrRandomSourceUnavailable.
func GenerateKeyPair(rand io.Reader, params *DomainParams) (*KeyPair, error) {
	bits := params.p.BitLen()
	if bits < minExponentBits {
		bits = minExponentBits
	}
	// 64 extra bits keep the modular reduction bias negligible.
	buf, err := entropy.GetRandom(rand, uint32((bits+64+7)/8))
	if err != nil {
		return nil, err
	}
	defer Wipe(buf)

	span := new(big.Int).Sub(params.p, big.NewInt(2))
	priv := new(big.Int).SetBytes(buf)
	priv.Mod(priv, span)
	priv.Add(priv, one)

	return &KeyPair{
		Private: priv,
		Public:  ModPow(params.g, priv, params.p),
	}, nil
}

// Wipe clears the private exponent.
func (k *KeyPair) Wipe() {
	if k == nil {
		return
	}
	WipeInt(k.Private)
	k.Private = nil
}

// SharedSecret is g^(ab) mod p. It is never serialised and only lives long
// enough to derive a SymmetricKey.
type SharedSecret struct {
	v *big.Int
}

// Equal reports whether two secrets hold the same value.
func (s *SharedSecret) Equal(o *SharedSecret) bool {
	return s != nil && o != nil && s.v != nil && o.v != nil && s.v.Cmp(o.v) == 0
}

// Wipe zeroes the secret.
func (s *SharedSecret) Wipe() {
	if s == nil {
		return
	}
	WipeInt(s.v)
	s.v = nil
}

// ComputeSharedSecret returns peerPublic^ownPrivate mod p. Peer values outside
// [2, p-2] are rejected with ErrInvalidPublicKey.
func ComputeSharedSecret(ownPrivate, peerPublic *big.Int, params *DomainParams) (*SharedSecret, error) {
	if peerPublic == nil || !params.validPublic(peerPublic) {
		return nil, ErrInvalidPublicKey
	}
	if ownPrivate == nil || ownPrivate.Sign() <= 0 {
		return nil, fmt.Errorf("crypto: private exponent must be positive")
	}
	return &SharedSecret{v: ModPow(peerPublic, ownPrivate, params.p)}, nil
}

// ValidatePublic checks that v is a usable public value in params' group.
func ValidatePublic(v *big.Int, params *DomainParams) error {
	if v == nil || !params.validPublic(v) {
		return ErrInvalidPublicKey
	}
	return nil
}
