package roster

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/metrics"
)

var (
	// ErrDirectoryUnavailable wraps every failure to reach or read the
	// directory.
	ErrDirectoryUnavailable = errors.New("directory unavailable")

	// ErrNoParams is returned when an operation needs domain parameters that
	// have not been fetched yet.
	ErrNoParams = errors.New("domain parameters not loaded")

	// ErrStale is returned by SendSnapshot after a failed refresh, until the
	// next successful one.
	ErrStale = errors.New("roster is stale after a failed refresh")
)

// Snapshot is an immutable view of the roster at one point in time.
type Snapshot struct {
	roster    domain.Roster
	version   uint64
	updatedAt time.Time
}

// Roster returns a copy of the entries.
func (s *Snapshot) Roster() domain.Roster { return s.roster.Clone() }

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.roster) }

// IDs returns the participant ids in ascending order.
func (s *Snapshot) IDs() []domain.ParticipantID { return s.roster.IDs() }

// PublicKey returns a copy of id's public key.
func (s *Snapshot) PublicKey(id domain.ParticipantID) (*big.Int, bool) {
	pub, ok := s.roster[id]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(pub), true
}

// Version increases by one with every replacement.
func (s *Snapshot) Version() uint64 { return s.version }

// UpdatedAt is when the snapshot replaced its predecessor.
func (s *Snapshot) UpdatedAt() time.Time { return s.updatedAt }

var emptySnapshot = &Snapshot{roster: domain.Roster{}}

// Cache holds the pinned parameters and the latest roster snapshot.
type Cache struct {
	dir   domain.Directory
	log   log.Logger
	clock clockwork.Clock

	// paramsMu serialises parameter fetches so only one reaches the directory.
	paramsMu sync.Mutex

	mu     sync.RWMutex
	params *crypto.DomainParams
	snap   *Snapshot
	loaded bool
	stale  bool
}

// New returns an empty cache over dir.
func New(dir domain.Directory, l log.Logger, clock clockwork.Clock) *Cache {
	return &Cache{
		dir:   dir,
		log:   l.Named("roster"),
		clock: clock,
		snap:  emptySnapshot,
	}
}

// Params returns the pinned parameters, or ErrNoParams.
func (c *Cache) Params() (*crypto.DomainParams, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.params == nil {
		return nil, ErrNoParams
	}
	return c.params, nil
}

// LoadParams fetches the parameters on first use and returns the pinned
// value afterwards.
func (c *Cache) LoadParams(ctx context.Context) (*crypto.DomainParams, error) {
	c.paramsMu.Lock()
	defer c.paramsMu.Unlock()

	if p, err := c.Params(); err == nil {
		return p, nil
	}
	p, err := c.fetchParams(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.params = p
	c.mu.Unlock()
	c.log.Infow("domain parameters loaded", "fingerprint", p.Fingerprint(), "bits", p.P().BitLen())
	return p, nil
}

func (c *Cache) fetchParams(ctx context.Context) (*crypto.DomainParams, error) {
	p, err := c.dir.FetchParams(ctx)
	if err != nil {
		if errors.Is(err, ErrDirectoryUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: params: %v", ErrDirectoryUnavailable, err)
	}
	return p, nil
}

// Refresh makes sure parameters are loaded, then fetches the roster and
// replaces the cached one. On failure the previous snapshot is kept for
// display but SendSnapshot reports ErrStale.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	if _, err := c.LoadParams(ctx); err != nil {
		c.markStale()
		return nil, err
	}
	r, err := c.dir.FetchRoster(ctx)
	if err != nil {
		c.markStale()
		metrics.RosterRefreshes.WithLabelValues("error").Inc()
		c.log.Warnw("roster refresh failed", "err", err)
		if !errors.Is(err, ErrDirectoryUnavailable) {
			err = fmt.Errorf("%w: roster: %v", ErrDirectoryUnavailable, err)
		}
		return nil, err
	}
	metrics.RosterRefreshes.WithLabelValues("ok").Inc()
	return c.Apply(r), nil
}

// Apply replaces the roster with r, as received from a roster push. r is
// copied.
func (c *Cache) Apply(r domain.Roster) *Snapshot {
	entries := r.Clone()

	c.mu.Lock()
	snap := &Snapshot{
		roster:    entries,
		version:   c.snap.version + 1,
		updatedAt: c.clock.Now(),
	}
	c.snap = snap
	c.loaded = true
	c.stale = false
	c.mu.Unlock()

	metrics.RosterSize.Set(float64(len(entries)))
	c.log.Debugw("roster replaced", "version", snap.version, "entries", len(entries))
	return snap
}

func (c *Cache) markStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// Snapshot returns the latest snapshot, which may be empty or stale.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// SendSnapshot returns the parameters and the snapshot to encrypt against.
// It fails closed when either is missing or the last refresh failed.
func (c *Cache) SendSnapshot() (*crypto.DomainParams, *Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.params == nil:
		return nil, nil, ErrNoParams
	case c.stale:
		return nil, nil, ErrStale
	case !c.loaded:
		return nil, nil, fmt.Errorf("%w: no roster fetched yet", ErrDirectoryUnavailable)
	}
	return c.params, c.snap, nil
}

// Reset refetches the domain parameters. When they differ from the pinned
// ones the roster is dropped, since every public key in it belongs to the
// old group, and changed is true.
func (c *Cache) Reset(ctx context.Context) (changed bool, err error) {
	c.paramsMu.Lock()
	defer c.paramsMu.Unlock()

	p, err := c.fetchParams(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	changed = c.params != nil && !c.params.Equal(p)
	c.params = p
	if changed {
		c.snap = &Snapshot{roster: domain.Roster{}, version: c.snap.version + 1, updatedAt: c.clock.Now()}
		c.loaded = false
	}
	c.mu.Unlock()

	if changed {
		metrics.RosterSize.Set(0)
		c.log.Warnw("domain parameters changed, session must be reset", "fingerprint", p.Fingerprint())
	}
	return changed, nil
}

// OnMessage applies a roster pushed on the public-keys topic.
func (c *Cache) OnMessage(_ context.Context, body []byte) error {
	r, err := domain.ParseRoster(body)
	if err != nil {
		c.log.Warnw("dropping malformed roster push", "err", err)
		return err
	}
	c.Apply(r)
	return nil
}

var _ domain.Handler = (*Cache)(nil)
