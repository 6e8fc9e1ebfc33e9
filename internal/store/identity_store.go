package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
)

const idFilename = "identity.json.enc"

// ErrNoIdentity is returned by LoadIdentity when nothing has been saved yet.
var ErrNoIdentity = errors.New("no identity saved")

// IdentityFileStore persists the local identity to disk, sealed with a
// passphrase.
type IdentityFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir}
}

// SaveIdentity writes the encrypted identity to disk, replacing any
// previous one atomically.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	defer crypto.Wipe(raw)

	N, r, p := scryptParams()
	ct, err := encrypt(passphrase, raw, N, r, p)
	if err != nil {
		return err
	}
	return savePrivate(s.dir, idFilename, ct)
}

// LoadIdentity reads and decrypts the identity.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok, err := loadPrivate(filepath.Join(s.dir, idFilename))
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, ErrNoIdentity
	}
	pt, err := decrypt(passphrase, b)
	if err != nil {
		return domain.Identity{}, err
	}
	defer crypto.Wipe(pt)

	var id domain.Identity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// Compile-time assertion that IdentityFileStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityFileStore)(nil)
