package session

import (
	"time"

	"relaychat/internal/domain"
)

// EventKind tells what an Event reports.
type EventKind int

const (
	// EventMessage carries a decrypted Record.
	EventMessage EventKind = iota
	// EventSent reports a published bundle and its recipient count.
	EventSent
	// EventRoster reports a roster replacement and its size.
	EventRoster
	// EventReset reports that the domain parameters changed and a new
	// identity was registered.
	EventReset
	// EventError carries a failed send, a dropped delivery or a failed
	// directory call.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventSent:
		return "sent"
	case EventRoster:
		return "roster"
	case EventReset:
		return "reset"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is something observable that happened in a session.
type Event struct {
	Kind       EventKind
	At         time.Time
	Record     domain.Record
	Recipients int
	RosterSize int
	Err        error
}
