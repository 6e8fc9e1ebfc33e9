package identity

import (
	"errors"
	"fmt"
	"io"
	"unicode"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/store"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service manages identity key creation and access using a backing store.
//
// The identity is a single Diffie-Hellman key pair over the directory's
// group. It is stored together with the fingerprint of that group; when the
// directory's parameters change, the stored pair is useless and a new one is
// generated.
type Service struct {
	store domain.IdentityStore
	rand  io.Reader
	log   log.Logger
}

// New returns an identity service backed by the given store, drawing key
// material from rand.
func New(s domain.IdentityStore, rand io.Reader, l log.Logger) *Service {
	return &Service{store: s, rand: rand, log: l.Named("identity")}
}

// Generate creates a new identity under params and saves it encrypted with
// the passphrase.
func (s *Service) Generate(passphrase string, params *crypto.DomainParams) (domain.Identity, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Identity{}, ErrWeakPassphrase
	}
	id, err := NewEphemeralIdentity(s.rand, params)
	if err != nil {
		return domain.Identity{}, err
	}
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, err
	}
	s.log.Infow("identity generated", "fingerprint", id.Fingerprint(), "params", id.ParamsFingerprint)
	return id, nil
}

// LoadOrGenerate returns the stored identity when it belongs to params, and
// generates (and stores) a fresh one otherwise. created reports which
// happened. A wrong passphrase is an error, never a reason to regenerate.
func (s *Service) LoadOrGenerate(
	passphrase string,
	params *crypto.DomainParams,
) (id domain.Identity, created bool, err error) {
	id, err = s.store.LoadIdentity(passphrase)
	switch {
	case errors.Is(err, store.ErrNoIdentity):
	case err != nil:
		return domain.Identity{}, false, err
	case id.Matches(params):
		return id, false, nil
	default:
		s.log.Warnw("stored identity belongs to other domain parameters, replacing it",
			"stored", id.ParamsFingerprint, "current", params.Fingerprint())
		id.Wipe()
	}
	id, err = s.Generate(passphrase, params)
	if err != nil {
		return domain.Identity{}, false, err
	}
	return id, true, nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns a short fingerprint of the local public key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	defer id.Wipe()
	return id.Fingerprint(), nil
}

// NewEphemeralIdentity generates an identity that is never persisted, for
// sessions that run without a passphrase.
func NewEphemeralIdentity(rand io.Reader, params *crypto.DomainParams) (domain.Identity, error) {
	kp, err := crypto.GenerateKeyPair(rand, params)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{ParamsFingerprint: params.Fingerprint(), KeyPair: *kp}, nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
