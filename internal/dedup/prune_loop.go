// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package dedup

import (
	"context"
	"time"

	"github.com/tomtom215/clipherd/internal/logging"
)

// PruneLoop periodically sweeps expired sent records out of the store,
// bounding disk growth over an unbounded run. It implements suture.Service.
type PruneLoop struct {
	store     Store
	retention time.Duration
	interval  time.Duration
}

// NewPruneLoop creates a sweep loop with the given retention window and
// sweep cadence.
func NewPruneLoop(store Store, retention, interval time.Duration) *PruneLoop {
	return &PruneLoop{
		store:     store,
		retention: retention,
		interval:  interval,
	}
}

// Serve runs the sweep until ctx is canceled. One sweep runs immediately on
// startup so a long-stopped instance catches up right away.
func (l *PruneLoop) Serve(ctx context.Context) error {
	l.sweep(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

func (l *PruneLoop) sweep(ctx context.Context) {
	removed, err := l.store.Prune(ctx, l.retention)
	if err != nil {
		logging.Err(err).Msg("dedup: retention sweep failed")
		return
	}
	if removed > 0 {
		logging.Info().
			Int("removed", removed).
			Dur("retention", l.retention).
			Msg("dedup: retention sweep pruned records")
	}
}

// String implements fmt.Stringer for supervisor logs.
func (l *PruneLoop) String() string {
	return "dedup-prune-loop"
}
