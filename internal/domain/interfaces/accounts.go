package interfaces

import domaintypes "relaychat/internal/domain/types"

// AccountStore persists per-relay account profiles.
type AccountStore interface {
	SaveAccountProfile(profile domaintypes.AccountProfile) error
	LoadAccountProfile(serverURL string) (domaintypes.AccountProfile, bool, error)
}
