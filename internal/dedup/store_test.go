// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/clipherd/internal/models"
)

// storeFactories runs each test against both implementations so the fake
// used elsewhere in the test suite provably honors the production contract.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"badger": func(t *testing.T) Store {
			s, err := OpenBadger(Options{Path: t.TempDir(), SyncWrites: false})
			if err != nil {
				t.Fatalf("open badger store: %v", err)
			}
			return s
		},
	}
}

func record(id string, eventTime time.Time) models.SentRecord {
	return models.SentRecord{
		CanonicalEventID: id,
		DeviceID:         "front-door",
		SentAt:           time.Now().UTC(),
		EventTimestamp:   eventTime,
	}
}

func TestReserveCommitBlocksSecondReserve(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			res, err := store.CheckAndReserve(ctx, "ev-1")
			if err != nil {
				t.Fatalf("first reserve failed: %v", err)
			}

			// A second caller must be refused while the reservation lives.
			if _, err := store.CheckAndReserve(ctx, "ev-1"); !errors.Is(err, ErrAlreadySent) {
				t.Errorf("concurrent reserve: got %v, want ErrAlreadySent", err)
			}

			if err := store.Commit(ctx, res, record("ev-1", time.Now().UTC())); err != nil {
				t.Fatalf("commit failed: %v", err)
			}

			// And refused forever after the commit.
			if _, err := store.CheckAndReserve(ctx, "ev-1"); !errors.Is(err, ErrAlreadySent) {
				t.Errorf("post-commit reserve: got %v, want ErrAlreadySent", err)
			}

			n, err := store.Count(ctx)
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if n != 1 {
				t.Errorf("count = %d, want exactly 1 sent record", n)
			}
		})
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			res, err := store.CheckAndReserve(ctx, "ev-retry")
			if err != nil {
				t.Fatalf("reserve failed: %v", err)
			}
			if err := store.Release(res); err != nil {
				t.Fatalf("release failed: %v", err)
			}

			// After release the id is claimable again.
			res2, err := store.CheckAndReserve(ctx, "ev-retry")
			if err != nil {
				t.Fatalf("re-reserve after release failed: %v", err)
			}
			if err := store.Commit(ctx, res2, record("ev-retry", time.Now().UTC())); err != nil {
				t.Fatalf("commit after release failed: %v", err)
			}
		})
	}
}

func TestStaleReservationRejected(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			res, err := store.CheckAndReserve(ctx, "ev-stale")
			if err != nil {
				t.Fatalf("reserve failed: %v", err)
			}
			if err := store.Release(res); err != nil {
				t.Fatalf("release failed: %v", err)
			}

			// The released reservation is dead; resolving it again must fail.
			if err := store.Release(res); !errors.Is(err, ErrStaleReservation) {
				t.Errorf("double release: got %v, want ErrStaleReservation", err)
			}
			if err := store.Commit(ctx, res, record("ev-stale", time.Now().UTC())); !errors.Is(err, ErrStaleReservation) {
				t.Errorf("commit of released reservation: got %v, want ErrStaleReservation", err)
			}

			// A fresh claim on the same id carries a new token; the stale
			// handle must not be able to release it.
			res2, err := store.CheckAndReserve(ctx, "ev-stale")
			if err != nil {
				t.Fatalf("re-reserve failed: %v", err)
			}
			if err := store.Release(res); !errors.Is(err, ErrStaleReservation) {
				t.Errorf("stale release of new claim: got %v, want ErrStaleReservation", err)
			}
			if err := store.Release(res2); err != nil {
				t.Errorf("release of live claim failed: %v", err)
			}
		})
	}
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			const workers = 16
			var wg sync.WaitGroup
			won := make(chan *Reservation, workers)

			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if res, err := store.CheckAndReserve(ctx, "ev-race"); err == nil {
						won <- res
					}
				}()
			}
			wg.Wait()
			close(won)

			count := 0
			for range won {
				count++
			}
			if count != 1 {
				t.Errorf("%d workers reserved the same id, want exactly 1", count)
			}
		})
	}
}

func TestPruneRetentionBoundary(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()
			now := time.Now().UTC()

			commit := func(id string, eventTime time.Time) {
				t.Helper()
				res, err := store.CheckAndReserve(ctx, id)
				if err != nil {
					t.Fatalf("reserve %s: %v", id, err)
				}
				if err := store.Commit(ctx, res, record(id, eventTime)); err != nil {
					t.Fatalf("commit %s: %v", id, err)
				}
			}

			commit("ev-8d", now.Add(-8*24*time.Hour))
			commit("ev-6d", now.Add(-6*24*time.Hour))

			removed, err := store.Prune(ctx, 7*24*time.Hour)
			if err != nil {
				t.Fatalf("prune failed: %v", err)
			}
			if removed != 1 {
				t.Errorf("prune removed %d records, want 1", removed)
			}

			// The 8-day record is gone: its id can be reserved again.
			if _, err := store.CheckAndReserve(ctx, "ev-8d"); err != nil {
				t.Errorf("pruned id should be claimable, got %v", err)
			}
			// The 6-day record survives.
			if _, err := store.CheckAndReserve(ctx, "ev-6d"); !errors.Is(err, ErrAlreadySent) {
				t.Errorf("retained id: got %v, want ErrAlreadySent", err)
			}
		})
	}
}

func TestPruneSkipsReservedIDs(t *testing.T) {
	// An id with a live reservation must never be touched by the sweep,
	// even if a stale record for it has aged out.
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if err := store.ForceCommit(ctx, record("ev-held", old)); err != nil {
		t.Fatalf("force commit: %v", err)
	}
	// Simulate force-resend holding the id mid-delivery.
	store.mu.Lock()
	store.reservations["ev-held"] = &Reservation{CanonicalEventID: "ev-held"}
	store.mu.Unlock()

	removed, err := store.Prune(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("prune removed %d records, want 0 while reservation is live", removed)
	}
}

func TestForceCommitOverwrites(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			first := record("ev-force", time.Now().UTC().Add(-time.Hour))
			if err := store.ForceCommit(ctx, first); err != nil {
				t.Fatalf("first force commit: %v", err)
			}
			second := record("ev-force", time.Now().UTC())
			if err := store.ForceCommit(ctx, second); err != nil {
				t.Fatalf("second force commit: %v", err)
			}

			n, err := store.Count(ctx)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if n != 1 {
				t.Errorf("count = %d, want 1 after overwrite", n)
			}
		})
	}
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(Options{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	res, err := s.CheckAndReserve(ctx, "ev-durable")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.Commit(ctx, res, record("ev-durable", time.Now().UTC())); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A sent record must survive a process restart.
	s2, err := OpenBadger(Options{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if _, err := s2.CheckAndReserve(ctx, "ev-durable"); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("after reopen: got %v, want ErrAlreadySent", err)
	}
}

func TestClosedStoreRefusesOperations(t *testing.T) {
	store := NewMemoryStore()
	store.Close()

	if _, err := store.CheckAndReserve(context.Background(), "x"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("reserve on closed store: got %v, want ErrStoreClosed", err)
	}
	if _, err := store.Prune(context.Background(), time.Hour); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("prune on closed store: got %v, want ErrStoreClosed", err)
	}
}
