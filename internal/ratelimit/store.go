package ratelimit

import (
	"sync"
	"time"
)

// WindowStore holds the live fixed-window counters. Increment must be atomic
// per key: concurrent checks for the same identifier+action serialize inside
// the store, never in the caller.
type WindowStore interface {
	// Increment advances the counter for key within the window starting at
	// windowStart and returns the new count. A key whose stored window has
	// elapsed is reset to the new window before counting.
	Increment(key string, windowStart time.Time, window time.Duration) (int, error)
}

type window struct {
	start time.Time
	len   time.Duration
	count int
}

func (w *window) expiredAt(now time.Time) bool {
	return w.start.Add(w.len).Before(now)
}

// sweepInterval is how often the lazy sweep may run. It is fixed rather
// than derived from any rule's window: the store is shared across actions
// with different window lengths, and eviction must judge each window by its
// own length, never the calling action's.
const sweepInterval = time.Minute

// MemoryWindowStore is the default in-process WindowStore. Expired windows
// are evicted lazily during access — there is no background sweeper — which
// bounds memory to the set of recently active identifiers.
type MemoryWindowStore struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemoryWindowStore creates an empty MemoryWindowStore.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*window)}
}

func (s *MemoryWindowStore) Increment(key string, windowStart time.Time, windowLen time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !w.start.Equal(windowStart) {
		w = &window{start: windowStart, len: windowLen}
		s.windows[key] = w
	}
	w.count++

	s.sweepLocked(windowStart)
	return w.count, nil
}

// sweepLocked drops windows that have run out, at most once per
// sweepInterval so a hot path isn't scanning the whole table per request.
// Each window is measured against its own recorded length; a live counter
// must never be evicted by traffic on a shorter-window action.
func (s *MemoryWindowStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for key, w := range s.windows {
		if w.expiredAt(now) {
			delete(s.windows, key)
		}
	}
}

// Size reports the number of live windows.
func (s *MemoryWindowStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
