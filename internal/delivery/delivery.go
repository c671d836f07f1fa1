// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package delivery drains the readiness queue: fetch the clip, send the
// notification, record the send. The reserve/commit dance with the dedup
// store is what turns at-least-once inputs into exactly-once output.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/clipherd/internal/dedup"
	"github.com/tomtom215/clipherd/internal/logging"
	"github.com/tomtom215/clipherd/internal/metrics"
	"github.com/tomtom215/clipherd/internal/models"
	"github.com/tomtom215/clipherd/internal/notifier"
	"github.com/tomtom215/clipherd/internal/registry"
)

// Clip fetch padding. The composite window covers event timestamps, not
// recording bounds; the camera keeps rolling a little past the event.
const (
	clipLeadPad = 5 * time.Second
	clipTailPad = 30 * time.Second
)

// ClipFetcher retrieves the video for a composite's device and window.
type ClipFetcher interface {
	FetchClip(ctx context.Context, deviceID string, start, end time.Time) ([]byte, error)
}

// Resolver provides display names for captions.
type Resolver interface {
	Resolve(nativeID string) (registry.Device, bool)
}

// Options tunes the delivery pool.
type Options struct {
	// Workers bounds concurrent deliveries.
	Workers int

	// RetryAttempts is the total number of tries per composite.
	RetryAttempts int

	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration

	ClipFetchTimeout time.Duration
	NotifyTimeout    time.Duration

	// ForceResend skips the dedup check and overwrites sent records.
	// Operator-driven re-delivery only.
	ForceResend bool
}

// Pool is the delivery worker pool.
type Pool struct {
	ready    <-chan models.CompositeEvent
	store    dedup.Store
	fetcher  ClipFetcher
	notifier notifier.Notifier
	resolver Resolver
	opts     Options

	// breaker guards the clip endpoint; when it is rejecting, workers fail
	// fast into the retry/backoff path instead of stacking up on timeouts.
	breaker *gobreaker.CircuitBreaker[[]byte]

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates the pool. It does not start workers; call Run.
func New(ready <-chan models.CompositeEvent, store dedup.Store, fetcher ClipFetcher, n notifier.Notifier, resolver Resolver, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "clip-fetch",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	if opts.ForceResend {
		logging.Warn().Msg("FORCE RESEND enabled: dedup checks bypassed, previously sent events will be re-delivered")
	}

	return &Pool{
		ready:    ready,
		store:    store,
		fetcher:  fetcher,
		notifier: n,
		resolver: resolver,
		opts:     opts,
		breaker:  breaker,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

func (p *Pool) Name() string { return "delivery" }

// Run consumes the readiness queue with a bounded worker pool until ctx is
// cancelled or the queue closes.
func (p *Pool) Run(ctx context.Context) error {
	logging.Info().Int("workers", p.opts.Workers).Msg("delivery pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case comp, ok := <-p.ready:
					if !ok {
						return
					}
					metrics.ReadyQueueDepth.Set(float64(len(p.ready)))
					p.deliver(ctx, comp)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// deliver runs the full pipeline for one composite and returns the state it
// ended in: StateDelivered after a successful send, StateDelivering when the
// attempt died in flight. All failure paths end with either a committed
// record (success) or no record at all.
func (p *Pool) deliver(ctx context.Context, comp models.CompositeEvent) models.CompositeState {
	log := logging.With().
		Str("event_id", comp.CanonicalEventID).
		Str("device", comp.DeviceID).
		Logger()

	comp.State = models.StateDelivering

	if p.opts.ForceResend {
		return p.deliverForced(ctx, comp, log)
	}

	res, err := p.store.CheckAndReserve(ctx, comp.CanonicalEventID)
	if errors.Is(err, dedup.ErrAlreadySent) {
		metrics.DeliveriesTotal.WithLabelValues("deduped").Inc()
		log.Debug().Msg("already sent, dropping")
		return comp.State
	}
	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
		log.Error().Err(err).Msg("dedup reserve failed, dropping")
		return comp.State
	}

	start := time.Now()
	if err := p.attemptWithRetries(ctx, comp, log); err != nil {
		if relErr := p.store.Release(res); relErr != nil {
			log.Error().Err(relErr).Msg("reservation release failed")
		}
		metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
		log.Error().Err(err).Msg("delivery exhausted retries, dropping")
		return comp.State
	}
	comp.State = models.StateDelivered

	rec := models.SentRecord{
		CanonicalEventID: comp.CanonicalEventID,
		DeviceID:         comp.DeviceID,
		SentAt:           time.Now().UTC(),
		EventTimestamp:   comp.WindowStart,
	}
	if err := p.store.Commit(ctx, res, rec); err != nil {
		// The message went out but the record did not stick; a duplicate on
		// restart is possible and preferable to losing the send entirely.
		log.Error().Err(err).Msg("sent but commit failed")
		metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
		return comp.State
	}

	metrics.DeliveriesTotal.WithLabelValues("sent").Inc()
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	log.Info().Msg("delivered")
	return comp.State
}

// deliverForced sends without reserving and upserts the record afterwards.
// Each invocation of the mode delivers every event exactly once because the
// readiness queue itself holds no duplicates.
func (p *Pool) deliverForced(ctx context.Context, comp models.CompositeEvent, log zerolog.Logger) models.CompositeState {
	if err := p.attemptWithRetries(ctx, comp, log); err != nil {
		metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
		log.Error().Err(err).Msg("forced delivery failed")
		return comp.State
	}
	comp.State = models.StateDelivered

	rec := models.SentRecord{
		CanonicalEventID: comp.CanonicalEventID,
		DeviceID:         comp.DeviceID,
		SentAt:           time.Now().UTC(),
		EventTimestamp:   comp.WindowStart,
	}
	if err := p.store.ForceCommit(ctx, rec); err != nil {
		log.Error().Err(err).Msg("force commit failed")
	}
	metrics.DeliveriesTotal.WithLabelValues("sent").Inc()
	log.Warn().Msg("force re-delivered")
	return comp.State
}

func (p *Pool) attemptWithRetries(ctx context.Context, comp models.CompositeEvent, log zerolog.Logger) error {
	backoff := p.opts.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= p.opts.RetryAttempts; attempt++ {
		lastErr = p.attempt(ctx, comp)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < p.opts.RetryAttempts {
			metrics.DeliveryRetries.Inc()
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("delivery attempt failed, retrying")
			if err := p.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("delivery: %d attempts failed: %w", p.opts.RetryAttempts, lastErr)
}

// attempt is one fetch-and-send cycle.
func (p *Pool) attempt(ctx context.Context, comp models.CompositeEvent) error {
	clip, err := p.fetchClip(ctx, comp)
	if err != nil {
		return err
	}

	device, _ := p.resolver.Resolve(comp.DeviceID)
	n := notifier.Notification{
		DeviceName: device.DisplayName,
		Types:      comp.MergedTypes.Ordered(),
		Timestamp:  comp.WindowStart,
		Clip:       clip,
	}

	notifyCtx := ctx
	if p.opts.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		notifyCtx, cancel = context.WithTimeout(ctx, p.opts.NotifyTimeout)
		defer cancel()
	}
	return p.notifier.Send(notifyCtx, n)
}

func (p *Pool) fetchClip(ctx context.Context, comp models.CompositeEvent) ([]byte, error) {
	fetchCtx := ctx
	if p.opts.ClipFetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.opts.ClipFetchTimeout)
		defer cancel()
	}

	start := comp.WindowStart.Add(-clipLeadPad)
	end := comp.WindowEnd.Add(clipTailPad)

	return p.breaker.Execute(func() ([]byte, error) {
		return p.fetcher.FetchClip(fetchCtx, comp.DeviceID, start, end)
	})
}
