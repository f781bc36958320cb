// Package store provides the in-memory expiring record primitive shared by
// the session registry, the task tracker, and the quota counter.
package store

import (
	"sync"
	"time"
)

// Record wraps a payload with the bookkeeping timestamps used for expiry.
type Record[T any] struct {
	ID           string
	Payload      T
	CreatedAt    time.Time
	LastActivity time.Time
}

// Store is a mutex-guarded map from ID to record. Reads do not check expiry;
// consumers compare LastActivity against their own idle threshold, and Sweep
// removes records past a given age. All state is lost on restart.
type Store[T any] struct {
	mu      sync.Mutex
	records map[string]*Record[T]
	now     func() time.Time
}

// New creates an empty store.
func New[T any]() *Store[T] {
	return &Store[T]{
		records: make(map[string]*Record[T]),
		now:     time.Now,
	}
}

// SetClock replaces the store's time source. Tests use this to drive expiry
// deterministically.
func (s *Store[T]) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put stores or overwrites a record. CreatedAt is preserved for existing IDs;
// LastActivity is always set to now.
func (s *Store[T]) Put(id string, payload T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.records[id]; ok {
		rec.Payload = payload
		rec.LastActivity = now
		return
	}
	s.records[id] = &Record[T]{
		ID:           id,
		Payload:      payload,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Get returns the record for id. The second result is false if absent.
func (s *Store[T]) Get(id string) (*Record[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// GetFresh returns the record only if it has been active within maxAge.
// Stale records are treated as absent but left for Sweep to remove.
func (s *Store[T]) GetFresh(id string, maxAge time.Duration) (*Record[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	if maxAge > 0 && s.now().Sub(rec.LastActivity) > maxAge {
		return nil, false
	}
	return rec, true
}

// Touch updates LastActivity for id. It is a no-op for unknown IDs.
func (s *Store[T]) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		rec.LastActivity = s.now()
	}
}

// Update applies fn to the payload of id under the store lock.
// Returns false if the record is absent.
func (s *Store[T]) Update(id string, fn func(payload *T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	fn(&rec.Payload)
	rec.LastActivity = s.now()
	return true
}

// Delete removes the record for id. Idempotent.
func (s *Store[T]) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// Clear removes every record and returns the number removed.
func (s *Store[T]) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	s.records = make(map[string]*Record[T])
	return n
}

// Len returns the number of records currently stored, expired or not.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Snapshot returns a copy of all current payloads.
func (s *Store[T]) Snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]T, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Payload)
	}
	return out
}

// SnapshotRecords returns a copy of all current records including their
// bookkeeping timestamps.
func (s *Store[T]) SnapshotRecords() []Record[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record[T], 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}

// Sweep removes every record idle for longer than maxAge and returns the
// number removed.
func (s *Store[T]) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, rec := range s.records {
		if now.Sub(rec.LastActivity) > maxAge {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// SweepBy removes every record whose CreatedAt is older than retention,
// regardless of activity. The task tracker uses this for its retention
// window.
func (s *Store[T]) SweepBy(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, rec := range s.records {
		if now.Sub(rec.CreatedAt) > retention {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}
