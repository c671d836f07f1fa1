// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/clipherd/internal/models"
)

// MemoryStore is an in-memory Store used by tests. It honors the full
// reserve/commit/release contract but persists nothing.
type MemoryStore struct {
	mu           sync.Mutex
	records      map[string]models.SentRecord
	reservations map[string]*Reservation
	closed       bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:      make(map[string]models.SentRecord),
		reservations: make(map[string]*Reservation),
	}
}

// CheckAndReserve implements Store.
func (s *MemoryStore) CheckAndReserve(ctx context.Context, id string) (*Reservation, error) {
	if id == "" {
		return nil, ErrEmptyEventID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, held := s.reservations[id]; held {
		return nil, ErrAlreadySent
	}
	if _, sent := s.records[id]; sent {
		return nil, ErrAlreadySent
	}

	res := newReservation(id)
	s.reservations[id] = res
	return res, nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(ctx context.Context, res *Reservation, rec models.SentRecord) error {
	if res == nil || res.CanonicalEventID == "" {
		return ErrStaleReservation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	held, ok := s.reservations[res.CanonicalEventID]
	if !ok || !held.matches(res) {
		return ErrStaleReservation
	}
	s.records[rec.CanonicalEventID] = rec
	delete(s.reservations, res.CanonicalEventID)
	return nil
}

// ForceCommit implements Store.
func (s *MemoryStore) ForceCommit(ctx context.Context, rec models.SentRecord) error {
	if rec.CanonicalEventID == "" {
		return ErrEmptyEventID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.records[rec.CanonicalEventID] = rec
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(res *Reservation) error {
	if res == nil || res.CanonicalEventID == "" {
		return ErrStaleReservation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.reservations[res.CanonicalEventID]
	if !ok || !held.matches(res) {
		return ErrStaleReservation
	}
	delete(s.reservations, res.CanonicalEventID)
	return nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(ctx context.Context, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for id, rec := range s.records {
		if _, held := s.reservations[id]; held {
			continue
		}
		if rec.EventTimestamp.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.records), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Record returns the stored record for id, for test assertions.
func (s *MemoryStore) Record(id string) (models.SentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}
