package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/casewatch/casewatch/internal/derive"
)

// Entry is one metric's derived table together with the time it was last
// refreshed.
type Entry struct {
	Metric    string
	SourceID  string
	Rows      []derive.Derived
	Quality   derive.Quality
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory table store, keyed by metric name.
// A background goroutine (Run) periodically evicts tables that have not
// been refreshed within the configured TTL, so a feed that stops updating
// ages out of the live view.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the configured table TTL.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put stores or replaces the derived table for metric.
// Callers must not modify res.Rows after calling Put.
func (s *Store) Put(metric, sourceID string, res derive.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[metric] = &Entry{
		Metric:    metric,
		SourceID:  sourceID,
		Rows:      res.Rows,
		Quality:   res.Quality,
		UpdatedAt: s.now(),
	}
}

// Get returns the Entry for the given metric and a boolean indicating
// whether an entry was found. The entry may be stale if TTL has elapsed.
func (s *Store) Get(metric string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[metric]
	return e, ok
}

// List returns all entries whose UpdatedAt is within the TTL, sorted by
// metric name. Stale entries that have not yet been evicted are excluded.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for metric, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, metric)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// interval (minimum 1 second) so entries are evicted promptly. Run blocks
// until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale tables", "count", n)
			}
		}
	}
}
