package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	bolt "go.etcd.io/bbolt"

	"relaychat/internal/domain"
	"relaychat/internal/log"
)

const (
	// BoltFileName is the name of the message log database inside its folder.
	BoltFileName = "messages.db"
	// BoltStoreOpenPerm is the permission used for the database file.
	BoltStoreOpenPerm = 0o600
)

var messageBucket = []byte("messages")

// BoltLog is a MessageLog backed by a bbolt database. Records are stored as
// JSON under their big-endian sequence number, so key order is append order.
type BoltLog struct {
	db    *bolt.DB
	log   log.Logger
	clock clockwork.Clock
}

// NewBoltLog opens or creates the log in folder.
func NewBoltLog(l log.Logger, folder string, clock clockwork.Clock, opts *bolt.Options) (*BoltLog, error) {
	dbPath := filepath.Join(folder, BoltFileName)
	db, err := bolt.Open(dbPath, BoltStoreOpenPerm, opts)
	if err != nil {
		return nil, err
	}
	// create the bucket already
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(messageBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltLog{db: db, log: l, clock: clock}, nil
}

// Append stores a record in a single write transaction. bbolt allows one
// writer at a time, which serialises concurrent appends.
func (b *BoltLog) Append(sender domain.ParticipantID, plaintext []byte) (domain.Record, error) {
	var rec domain.Record
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(messageBucket)

		// We know this will be an append-only workload, so let's use a compact db.
		bucket.FillPercent = 1.0

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		rec = domain.Record{
			Seq:        seq,
			SenderID:   sender,
			Plaintext:  append([]byte{}, plaintext...),
			ReceivedAt: b.clock.Now().UTC(),
		}
		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(seqToBytes(seq), value)
	})
	if err != nil {
		b.log.Errorw("storing message", "sender", sender, "err", err)
		return domain.Record{}, err
	}
	return rec, nil
}

// Records returns every record in sequence order.
func (b *BoltLog) Records() ([]domain.Record, error) {
	var out []domain.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(messageBucket).ForEach(func(k, v []byte) error {
			var rec domain.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("record %d: %w", bytesToSeq(k), err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Len performs a scan over the bucket; use sparingly.
func (b *BoltLog) Len() (int, error) {
	var length int
	err := b.db.View(func(tx *bolt.Tx) error {
		length = tx.Bucket(messageBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		b.log.Warnw("", "boltdb", "error getting length", "err", err)
	}
	return length, err
}

// Close closes the database.
func (b *BoltLog) Close() error {
	err := b.db.Close()
	if err != nil {
		b.log.Errorw("", "boltdb", "close", "err", err)
	}
	return err
}

func seqToBytes(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

func bytesToSeq(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

var _ domain.MessageLog = (*BoltLog)(nil)
