package store

import (
	"path/filepath"
	"sync"

	"relaychat/internal/domain"
)

const accountsFile = "accounts.json"

// AccountFileStore persists per-relay account profiles to disk.
type AccountFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewAccountFileStore returns an AccountFileStore rooted at dir.
func NewAccountFileStore(dir string) *AccountFileStore {
	return &AccountFileStore{dir: dir}
}

// SaveAccountProfile stores or updates the profile for its relay.
func (s *AccountFileStore) SaveAccountProfile(profile domain.AccountProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := make(map[string]domain.AccountProfile)
	if err := loadPrivateJSON(filepath.Join(s.dir, accountsFile), &profiles); err != nil {
		return err
	}
	profiles[profile.ServerURL] = profile
	return savePrivateJSON(s.dir, accountsFile, profiles)
}

// LoadAccountProfile retrieves the profile registered with serverURL.
func (s *AccountFileStore) LoadAccountProfile(serverURL string) (domain.AccountProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, accountsFile)
	profiles := make(map[string]domain.AccountProfile)
	if err := loadPrivateJSON(path, &profiles); err != nil {
		return domain.AccountProfile{}, false, err
	}
	profile, ok := profiles[serverURL]
	return profile, ok, nil
}

// Compile-time assertion that AccountFileStore implements domain.AccountStore.
var _ domain.AccountStore = (*AccountFileStore)(nil)
