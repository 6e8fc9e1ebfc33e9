package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidParticipantID is returned for ids that cannot name a queue.
var ErrInvalidParticipantID = errors.New("invalid participant id")

// MaxParticipantIDLen bounds participant ids in bytes.
const MaxParticipantIDLen = 128

// ParticipantID identifies a participant registered with the directory.
type ParticipantID string

// String returns the string form of the participant identifier.
func (id ParticipantID) String() string { return string(id) }

// Validate checks that id is non-empty, at most MaxParticipantIDLen bytes,
// and made of printable characters other than '/' and spaces, so that it
// round-trips through UserQueue and ParseUserQueue.
func (id ParticipantID) Validate() error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidParticipantID)
	case len(id) > MaxParticipantIDLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidParticipantID, MaxParticipantIDLen)
	case strings.ContainsRune(string(id), '/'):
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidParticipantID, string(id))
	}
	for _, r := range string(id) {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidParticipantID, string(id), r)
		}
	}
	return nil
}

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
