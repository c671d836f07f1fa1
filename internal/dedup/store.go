// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package dedup provides the durable sent-record store that gives the
// pipeline exactly-once delivery over at-least-once upstream notification.
//
// The contract is reserve/commit/release: a delivery worker atomically
// reserves a canonical event id, performs the outbound send, and either
// commits a durable SentRecord or releases the reservation so a later retry
// can claim it. Between reserve and commit/release no other caller can act
// on the same id.
package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/clipherd/internal/models"
)

var (
	// ErrAlreadySent is returned by CheckAndReserve when a SentRecord or a
	// live reservation already exists for the id.
	ErrAlreadySent = errors.New("dedup: event already sent or reserved")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("dedup: store is closed")

	// ErrEmptyEventID is returned for blank canonical ids.
	ErrEmptyEventID = errors.New("dedup: empty canonical event id")

	// ErrStaleReservation is returned when committing or releasing a
	// reservation that is no longer held.
	ErrStaleReservation = errors.New("dedup: reservation not held")
)

// Reservation is a temporary claim on a canonical event id. It must be
// resolved by exactly one of Commit or Release.
type Reservation struct {
	// CanonicalEventID is the claimed id.
	CanonicalEventID string

	// token identifies this specific claim, so a stale Reservation from an
	// earlier delivery attempt cannot commit or release a newer claim on
	// the same id.
	token string

	// acquiredAt is when the claim was taken, for diagnostics.
	acquiredAt time.Time
}

// newReservation mints a claim with a fresh token.
func newReservation(id string) *Reservation {
	return &Reservation{
		CanonicalEventID: id,
		token:            uuid.NewString(),
		acquiredAt:       time.Now().UTC(),
	}
}

// matches reports whether res is the live claim held in the map.
func (r *Reservation) matches(res *Reservation) bool {
	return res != nil && r.token == res.token
}

// Store is the dedup store contract. The Badger-backed implementation is
// used in production; MemoryStore backs tests.
type Store interface {
	// CheckAndReserve atomically reserves id for the caller, or reports
	// ErrAlreadySent when a durable record or live reservation exists.
	CheckAndReserve(ctx context.Context, id string) (*Reservation, error)

	// Commit finalizes a reservation into a durable SentRecord.
	Commit(ctx context.Context, res *Reservation, rec models.SentRecord) error

	// Release rolls back a reservation after a delivery failure so another
	// attempt may claim the id.
	Release(res *Reservation) error

	// ForceCommit upserts a SentRecord without a reservation. Used only by
	// the operator-driven force-resend mode.
	ForceCommit(ctx context.Context, rec models.SentRecord) error

	// Prune removes records whose EventTimestamp is older than the
	// retention window, skipping ids with live reservations. Returns the
	// number of records removed.
	Prune(ctx context.Context, retention time.Duration) (int, error)

	// Count returns the number of durable sent records.
	Count(ctx context.Context) (int, error)

	// Close flushes and closes the store.
	Close() error
}
