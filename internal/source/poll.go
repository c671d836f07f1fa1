// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package source

import (
	"context"
	"time"

	"github.com/tomtom215/clipherd/internal/homeapi"
	"github.com/tomtom215/clipherd/internal/logging"
	"github.com/tomtom215/clipherd/internal/metrics"
	"github.com/tomtom215/clipherd/internal/models"
	"github.com/tomtom215/clipherd/internal/registry"
)

// TimelineFetcher is the slice of the Home API client the poll adapter
// needs.
type TimelineFetcher interface {
	ListEvents(ctx context.Context, homeDeviceID string, start, end time.Time) ([]homeapi.Event, error)
}

// PollTarget is one camera to poll: its id in the Home timeline namespace
// plus the canonical device it resolves to.
type PollTarget struct {
	HomeDeviceID string
	Device       registry.Device
}

// PollAdapter fetches labeled metadata events on a fixed interval. Each
// tick reads a trailing window, so most events have been seen on a previous
// tick; the damper keeps those off the bus.
type PollAdapter struct {
	fetcher  TimelineFetcher
	bus      *Bus
	targets  []PollTarget
	interval time.Duration
	window   time.Duration
	damper   *Damper

	// fetchTimeout bounds one device's fetch so a stuck upstream cannot eat
	// the whole tick.
	fetchTimeout time.Duration
}

// NewPollAdapter creates the metadata poller. The damper TTL tracks the
// trailing window: an event older than the window cannot reappear in a
// fetch, so remembering it longer is waste.
func NewPollAdapter(fetcher TimelineFetcher, bus *Bus, targets []PollTarget, interval, window time.Duration) *PollAdapter {
	return &PollAdapter{
		fetcher:      fetcher,
		bus:          bus,
		targets:      targets,
		interval:     interval,
		window:       window,
		damper:       NewDamper(8192, window),
		fetchTimeout: 30 * time.Second,
	}
}

func (p *PollAdapter) Name() string { return "source-poll" }

// Run polls until ctx is cancelled. A failed tick is logged and dropped;
// the next tick retries naturally because the window trails.
func (p *PollAdapter) Run(ctx context.Context) error {
	logging.Info().
		Dur("interval", p.interval).
		Dur("window", p.window).
		Int("targets", len(p.targets)).
		Msg("poll adapter started")

	// First poll immediately so a restart does not wait a full interval.
	p.pollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *PollAdapter) pollOnce(ctx context.Context) {
	end := time.Now()
	start := end.Add(-p.window)

	for _, target := range p.targets {
		if ctx.Err() != nil {
			return
		}
		p.pollDevice(ctx, target, start, end)
	}
}

func (p *PollAdapter) pollDevice(ctx context.Context, target PollTarget, start, end time.Time) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	events, err := p.fetcher.ListEvents(fetchCtx, target.HomeDeviceID, start, end)
	if err != nil {
		metrics.PollFetchErrors.Inc()
		logging.Warn().
			Err(err).
			Str("device", target.Device.ID).
			Msg("metadata fetch failed, retrying next tick")
		return
	}

	emitted := 0
	for _, ev := range events {
		raw := models.RawEvent{
			Source:     models.SourceMetadata,
			DeviceID:   target.Device.ID,
			EventID:    ev.EventID,
			Types:      ev.Types,
			OccurredAt: ev.OccurredAt,
		}
		if err := raw.Validate(); err != nil {
			logging.Debug().Err(err).Msg("skipping malformed timeline event")
			continue
		}
		if p.damper.Seen(raw.Identity()) {
			continue
		}
		if err := p.bus.Publish(raw); err != nil {
			// Un-record the event so the next tick re-emits it; otherwise a
			// failed publish would suppress it for the whole damper TTL.
			p.damper.Forget(raw.Identity())
			logging.Error().Err(err).Str("event_id", raw.EventID).Msg("publish failed")
			return
		}
		emitted++
	}

	if emitted > 0 {
		logging.Debug().
			Str("device", target.Device.ID).
			Int("fetched", len(events)).
			Int("emitted", emitted).
			Msg("metadata poll tick")
	}
}
