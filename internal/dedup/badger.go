// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/clipherd/internal/logging"
	"github.com/tomtom215/clipherd/internal/metrics"
	"github.com/tomtom215/clipherd/internal/models"
)

// keyPrefix namespaces sent records inside the Badger keyspace.
const keyPrefix = "sent:"

// BadgerStore implements Store on BadgerDB. Durability comes from Badger's
// transactional writes (fsync when SyncWrites is on); reservation atomicity
// comes from an in-process claim map. Reservations are deliberately not
// persisted: a crash between reserve and commit means no send happened, so
// losing the claim is safe — the event is simply claimable again after
// restart.
type BadgerStore struct {
	db *badger.DB

	// reservations holds live claims keyed by canonical event id.
	resMu        sync.Mutex
	reservations map[string]*Reservation

	mu     sync.RWMutex
	closed bool
}

// Options configures OpenBadger.
type Options struct {
	Path string

	// SyncWrites forces fsync on every commit.
	SyncWrites bool
}

// OpenBadger opens (or creates) the store at opts.Path.
func OpenBadger(opts Options) (*BadgerStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("dedup: empty store path")
	}

	bopts := badger.DefaultOptions(opts.Path)
	bopts.SyncWrites = opts.SyncWrites
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := &BadgerStore{
		db:           db,
		reservations: make(map[string]*Reservation),
	}

	if n, err := s.Count(context.Background()); err == nil {
		metrics.SentRecords.Set(float64(n))
		logging.Info().
			Str("path", opts.Path).
			Int("sent_records", n).
			Bool("sync_writes", opts.SyncWrites).
			Msg("dedup store opened")
	}

	return s, nil
}

// CheckAndReserve implements Store. The claim map is checked and updated
// under one lock, and the durable lookup happens inside the same critical
// section, so two workers racing on the same id cannot both reserve it.
func (s *BadgerStore) CheckAndReserve(ctx context.Context, id string) (*Reservation, error) {
	if id == "" {
		return nil, ErrEmptyEventID
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	s.resMu.Lock()
	defer s.resMu.Unlock()

	if _, held := s.reservations[id]; held {
		metrics.DedupReservations.WithLabelValues("already_sent").Inc()
		return nil, ErrAlreadySent
	}

	exists, err := s.hasRecord(id)
	if err != nil {
		metrics.DedupReservations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dedup lookup %s: %w", id, err)
	}
	if exists {
		metrics.DedupReservations.WithLabelValues("already_sent").Inc()
		return nil, ErrAlreadySent
	}

	res := newReservation(id)
	s.reservations[id] = res
	metrics.DedupReservations.WithLabelValues("reserved").Inc()
	return res, nil
}

// hasRecord reports whether a durable record exists. Caller holds resMu.
func (s *BadgerStore) hasRecord(id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Commit implements Store.
func (s *BadgerStore) Commit(ctx context.Context, res *Reservation, rec models.SentRecord) error {
	if res == nil || res.CanonicalEventID == "" {
		return ErrStaleReservation
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	s.resMu.Lock()
	held, ok := s.reservations[res.CanonicalEventID]
	s.resMu.Unlock()
	if !ok || !held.matches(res) {
		return ErrStaleReservation
	}

	if err := s.put(rec); err != nil {
		return fmt.Errorf("commit %s: %w", res.CanonicalEventID, err)
	}

	s.resMu.Lock()
	delete(s.reservations, res.CanonicalEventID)
	s.resMu.Unlock()

	metrics.SentRecords.Inc()
	return nil
}

// ForceCommit implements Store. No reservation is required; an existing
// record for the id is overwritten.
func (s *BadgerStore) ForceCommit(ctx context.Context, rec models.SentRecord) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	if rec.CanonicalEventID == "" {
		return ErrEmptyEventID
	}
	return s.put(rec)
}

func (s *BadgerStore) put(rec models.SentRecord) error {
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal sent record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+rec.CanonicalEventID), data)
	})
}

// Release implements Store.
func (s *BadgerStore) Release(res *Reservation) error {
	if res == nil || res.CanonicalEventID == "" {
		return ErrStaleReservation
	}

	s.resMu.Lock()
	defer s.resMu.Unlock()

	held, ok := s.reservations[res.CanonicalEventID]
	if !ok || !held.matches(res) {
		return ErrStaleReservation
	}
	delete(s.reservations, res.CanonicalEventID)
	return nil
}

// Prune implements Store. Records whose EventTimestamp has aged out of the
// retention window are deleted; ids with a live reservation are skipped so
// the sweep never interleaves with an in-flight delivery.
func (s *BadgerStore) Prune(ctx context.Context, retention time.Duration) (int, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-retention)

	var expired []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var rec models.SentRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("dedup: skipping unreadable record")
				continue
			}

			if rec.EventTimestamp.Before(cutoff) {
				expired = append(expired, rec.CanonicalEventID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan sent records: %w", err)
	}

	removed := 0
	for _, id := range expired {
		s.resMu.Lock()
		_, held := s.reservations[id]
		s.resMu.Unlock()
		if held {
			continue
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(keyPrefix + id))
		})
		if err != nil {
			logging.Warn().Err(err).Str("event_id", id).Msg("dedup: prune delete failed")
			continue
		}
		removed++
	}

	if removed > 0 {
		metrics.RecordsPruned.Add(float64(removed))
		metrics.SentRecords.Sub(float64(removed))
	}
	return removed, nil
}

// Count implements Store.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	s.mu.RUnlock()

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.db.Close()
}
