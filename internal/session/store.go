// Package session keeps the current record of each debug session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
	"golang.org/x/sync/semaphore"
)

// DefaultKey is the session used when a client does not name one
const DefaultKey = "default"

// ErrCapacity is returned when a new session would exceed MaxSessions
var ErrCapacity = errors.New("session capacity reached")

// Config holds session store configuration
type Config struct {
	// IdleTTL evicts sessions unused for this long (0 disables eviction)
	IdleTTL time.Duration
	// MaxSessions caps the number of live sessions (0 means unlimited)
	MaxSessions int
	// SweepInterval is how often idle sessions are looked for
	SweepInterval time.Duration
	// OnEvict, if set, is told how many sessions each sweep removed and
	// how many remain
	OnEvict func(evicted, remaining int)
}

// UpdateFunc computes a session's next record from a snapshot of its
// current one. current is nil for an empty session. Returning a nil
// record with a nil error leaves the session unchanged.
type UpdateFunc func(ctx context.Context, current *types.Record) (*types.Record, error)

// cell is the exclusive slot behind one session key
type cell struct {
	sem    *semaphore.Weighted
	record *types.Record // guarded by sem
	dead   bool          // guarded by sem

	refs     int       // holders and waiters, guarded by Store.mu
	lastUsed time.Time // guarded by Store.mu
}

// Store is a keyed table of session cells. Operations on one key are
// strictly serialized; different keys never wait on each other.
type Store struct {
	config Config
	logger *logging.Logger
	now    func() time.Time

	mu    sync.Mutex
	cells map[string]*cell
}

// NewStore creates an empty session store
func NewStore(config Config, logger *logging.Logger) *Store {
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	return &Store{
		config: config,
		logger: logger.WithComponent("session-store"),
		now:    time.Now,
		cells:  make(map[string]*cell),
	}
}

// Update runs fn while holding the session exclusively and installs the
// record it returns. If ctx ends while waiting nothing changes and the
// context error is returned wrapped. Once the session is held, fn runs
// on a context that ignores the caller's cancellation.
func (s *Store) Update(ctx context.Context, key string, fn UpdateFunc) error {
	c, err := s.acquire(ctx, key, true)
	if err != nil {
		return err
	}
	defer s.release(c)

	next, err := fn(context.WithoutCancel(ctx), c.record.Clone())
	if err != nil {
		return err
	}
	if next != nil {
		c.record = next
	}
	return nil
}

// Get returns an independent copy of the session's record, or nil when
// the session is empty or unknown.
func (s *Store) Get(ctx context.Context, key string) (*types.Record, error) {
	c, err := s.acquire(ctx, key, false)
	if err != nil || c == nil {
		return nil, err
	}
	defer s.release(c)

	return c.record.Clone(), nil
}

// Replace installs rec as the session's record
func (s *Store) Replace(ctx context.Context, key string, rec *types.Record) error {
	if rec == nil {
		return fmt.Errorf("cannot install a nil record")
	}
	return s.Update(ctx, key, func(context.Context, *types.Record) (*types.Record, error) {
		return rec, nil
	})
}

// Delete drops the session after any in-flight operation on it finishes.
// It reports whether the session existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	c, err := s.acquire(ctx, key, false)
	if err != nil || c == nil {
		return false, err
	}
	defer s.release(c)

	c.dead = true
	c.record = nil

	s.mu.Lock()
	if s.cells[key] == c {
		delete(s.cells, key)
	}
	s.mu.Unlock()

	s.logger.Debug().Str("session", key).Msg("Session deleted")
	return true, nil
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cells)
}

// Sweep evicts sessions idle for longer than IdleTTL and returns how many
// were removed. Sessions being used or waited on are never evicted.
func (s *Store) Sweep() int {
	if s.config.IdleTTL <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.config.IdleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.cells {
		if c.refs == 0 && c.lastUsed.Before(cutoff) {
			delete(s.cells, key)
			removed++
		}
	}
	return removed
}

// Run sweeps idle sessions every SweepInterval until ctx is done
func (s *Store) Run(ctx context.Context) {
	if s.config.IdleTTL <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.Sweep()
			if n == 0 {
				continue
			}
			remaining := s.Len()
			s.logger.Debug().Int("evicted", n).Int("remaining", remaining).Msg("Evicted idle sessions")
			if s.config.OnEvict != nil {
				s.config.OnEvict(n, remaining)
			}
		}
	}
}

// acquire takes the key's cell exclusively. With create unset a missing
// key yields a nil cell.
func (s *Store) acquire(ctx context.Context, key string, create bool) (*cell, error) {
	for {
		s.mu.Lock()
		c, ok := s.cells[key]
		if !ok {
			if !create {
				s.mu.Unlock()
				return nil, nil
			}
			if s.config.MaxSessions > 0 && len(s.cells) >= s.config.MaxSessions {
				s.mu.Unlock()
				return nil, ErrCapacity
			}
			c = &cell{sem: semaphore.NewWeighted(1)}
			s.cells[key] = c
		}
		c.refs++
		s.mu.Unlock()

		if err := c.sem.Acquire(ctx, 1); err != nil {
			s.unref(c)
			return nil, fmt.Errorf("waiting for session %q: %w", key, err)
		}

		if !c.dead {
			return c, nil
		}

		// deleted while we waited; retry against the current table
		c.sem.Release(1)
		s.unref(c)
	}
}

func (s *Store) release(c *cell) {
	c.sem.Release(1)
	s.unref(c)
}

func (s *Store) unref(c *cell) {
	s.mu.Lock()
	c.refs--
	c.lastUsed = s.now()
	s.mu.Unlock()
}
