package store

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"relaychat/internal/domain"
)

// MemoryLog is an in-process MessageLog. Records are lost on exit.
type MemoryLog struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	records []domain.Record
}

// NewMemoryLog returns an empty log stamping records with clock.
func NewMemoryLog(clock clockwork.Clock) *MemoryLog {
	return &MemoryLog{clock: clock}
}

// Append adds a record with the next sequence number. plaintext is copied.
func (m *MemoryLog) Append(sender domain.ParticipantID, plaintext []byte) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := domain.Record{
		Seq:        uint64(len(m.records) + 1),
		SenderID:   sender,
		Plaintext:  append([]byte{}, plaintext...),
		ReceivedAt: m.clock.Now(),
	}
	m.records = append(m.records, rec)
	return copyRecord(rec), nil
}

// Records returns copies of every record in append order.
func (m *MemoryLog) Records() ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Record, len(m.records))
	for i, r := range m.records {
		out[i] = copyRecord(r)
	}
	return out, nil
}

// Len returns the number of records.
func (m *MemoryLog) Len() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

// Close is a no-op.
func (m *MemoryLog) Close() error { return nil }

func copyRecord(r domain.Record) domain.Record {
	r.Plaintext = append([]byte{}, r.Plaintext...)
	return r
}

var _ domain.MessageLog = (*MemoryLog)(nil)
