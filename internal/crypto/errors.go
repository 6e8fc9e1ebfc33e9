package crypto

import (
	"errors"

	"relaychat/internal/entropy"
)

var (
	// ErrDecode reports malformed textual key material, nonces or ciphertexts.
	ErrDecode = errors.New("decode error")

	// ErrAuthentication is returned when an AEAD tag does not verify, either
	// because of tampering or because the wrong key was used.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRandomSourceUnavailable is fatal for the operation that hit it.
	ErrRandomSourceUnavailable = entropy.ErrUnavailable

	// ErrInvalidParams reports domain parameters violating 2 <= g < p.
	ErrInvalidParams = errors.New("invalid domain parameters")

	// ErrInvalidPublicKey reports a peer public value outside [2, p-2].
	ErrInvalidPublicKey = errors.New("invalid public key")
)
