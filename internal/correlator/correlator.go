// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package correlator merges the two upstream feeds into composite events.
// The metadata feed says what happened, the clip feed says a video exists;
// neither alone is worth notifying about. A single goroutine owns all open
// composites, so no locking is needed on the matching state.
package correlator

import (
	"context"
	"time"

	"github.com/tomtom215/clipherd/internal/logging"
	"github.com/tomtom215/clipherd/internal/metrics"
	"github.com/tomtom215/clipherd/internal/models"
	"github.com/tomtom215/clipherd/internal/registry"
	"github.com/tomtom215/clipherd/internal/source"
)

// Resolver maps native device ids to canonical devices.
type Resolver interface {
	Resolve(nativeID string) (registry.Device, bool)
}

// Options tunes the matching engine.
type Options struct {
	// Tolerance is the maximum timestamp distance between a metadata event
	// and a clip event describing the same physical event.
	Tolerance time.Duration

	// ReadinessTimeout caps how long a clip-bearing composite waits for
	// metadata. After it, the composite is promoted even unlabeled.
	ReadinessTimeout time.Duration

	// MaxLifetime discards composites that never receive a clip.
	MaxLifetime time.Duration

	// SweepInterval is the cadence of the readiness/expiry check.
	SweepInterval time.Duration

	// ReadyBuffer bounds the readiness queue. When delivery lags, promotion
	// blocks, which in turn stops bus consumption: backpressure, not loss.
	ReadyBuffer int
}

// Correlator consumes the ingestion bus and emits ready composites.
type Correlator struct {
	bus      *source.Bus
	resolver Resolver
	opts     Options

	// open composites, keyed by canonical device id. Only the Run goroutine
	// touches this map.
	open map[string][]*models.CompositeEvent

	ready chan models.CompositeEvent

	// now is swappable for tests.
	now func() time.Time
}

// New creates a correlator. Ready composites appear on Ready().
func New(bus *source.Bus, resolver Resolver, opts Options) *Correlator {
	if opts.ReadyBuffer <= 0 {
		opts.ReadyBuffer = 64
	}
	return &Correlator{
		bus:      bus,
		resolver: resolver,
		opts:     opts,
		open:     make(map[string][]*models.CompositeEvent),
		ready:    make(chan models.CompositeEvent, opts.ReadyBuffer),
		now:      time.Now,
	}
}

// Ready is the readiness queue consumed by the delivery pool.
func (c *Correlator) Ready() <-chan models.CompositeEvent { return c.ready }

func (c *Correlator) Name() string { return "correlator" }

// Run consumes the bus until ctx is cancelled. Arrival order is preserved:
// one message is fully applied before the next is read.
func (c *Correlator) Run(ctx context.Context) error {
	msgs, err := c.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	logging.Info().
		Dur("tolerance", c.opts.Tolerance).
		Dur("readiness_timeout", c.opts.ReadinessTimeout).
		Msg("correlator started")

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				c.drain()
				return nil
			}
			ev, err := source.Decode(msg)
			if err != nil {
				logging.Error().Err(err).Msg("dropping undecodable bus message")
				msg.Ack()
				continue
			}
			if err := c.handle(ctx, ev); err != nil {
				msg.Ack()
				c.drain()
				return err
			}
			msg.Ack()
		case <-ticker.C:
			if err := c.sweep(ctx); err != nil {
				c.drain()
				return err
			}
		}
	}
}

func (c *Correlator) handle(ctx context.Context, ev models.RawEvent) error {
	deviceID := ev.DeviceID
	if d, ok := c.resolver.Resolve(ev.DeviceID); ok {
		deviceID = d.ID
	} else {
		logging.Debug().Str("device", ev.DeviceID).Msg("unresolved device id, using native id")
	}

	switch ev.Source {
	case models.SourceMetadata:
		c.applyMetadata(deviceID, ev)
	case models.SourceClip:
		c.applyClip(deviceID, ev)
	default:
		logging.Warn().Str("source", string(ev.Source)).Msg("unknown source kind")
		return nil
	}

	// Matching may have made a composite immediately eligible.
	return c.sweep(ctx)
}

// applyMetadata merges a labeled event into an overlapping composite, or
// opens a new one. When the event bridges several open composites they
// collapse into one: they were always the same physical event.
func (c *Correlator) applyMetadata(deviceID string, ev models.RawEvent) {
	matched := c.overlapping(deviceID, ev.OccurredAt)

	if len(matched) == 0 {
		comp := &models.CompositeEvent{
			DeviceID:         deviceID,
			CanonicalEventID: ev.EventID,
			MergedTypes:      ev.Types.Clone(),
			WindowStart:      ev.OccurredAt,
			WindowEnd:        ev.OccurredAt,
			State:            models.StatePending,
		}
		c.open[deviceID] = append(c.open[deviceID], comp)
		metrics.CompositesOpen.Inc()
		return
	}

	head := matched[0]
	head.MergedTypes.Union(ev.Types)
	head.Extend(ev.OccurredAt)
	metrics.CompositesMerged.Inc()

	for _, other := range matched[1:] {
		c.coalesce(head, other)
		c.remove(deviceID, other)
		metrics.CompositesOpen.Dec()
		metrics.CompositesMerged.Inc()
	}
}

// applyClip attaches a clip to an overlapping clip-less composite, or opens
// a new composite around the clip. The clip-side id always wins as the
// canonical id.
func (c *Correlator) applyClip(deviceID string, ev models.RawEvent) {
	if c.isDuplicateClip(deviceID, ev) {
		logging.Debug().Str("event_id", ev.EventID).Msg("duplicate clip notification ignored")
		return
	}

	for _, comp := range c.overlapping(deviceID, ev.OccurredAt) {
		if comp.HasClip() {
			// Already carries a different clip: distinct physical event.
			continue
		}
		comp.CanonicalEventID = ev.EventID
		comp.ClipToken = ev.ClipToken
		comp.ClipArrivedAt = c.now()
		comp.State = models.StateMatching
		comp.MergedTypes.Union(ev.Types)
		comp.Extend(ev.OccurredAt)
		metrics.CompositesMerged.Inc()
		return
	}

	comp := &models.CompositeEvent{
		DeviceID:         deviceID,
		CanonicalEventID: ev.EventID,
		MergedTypes:      ev.Types.Clone(),
		WindowStart:      ev.OccurredAt,
		WindowEnd:        ev.OccurredAt,
		ClipToken:        ev.ClipToken,
		State:            models.StateMatching,
		ClipArrivedAt:    c.now(),
	}
	c.open[deviceID] = append(c.open[deviceID], comp)
	metrics.CompositesOpen.Inc()
}

// isDuplicateClip catches Pub/Sub at-least-once redelivery while the
// composite is still open. Post-delivery duplicates are the dedup store's
// problem.
func (c *Correlator) isDuplicateClip(deviceID string, ev models.RawEvent) bool {
	for _, comp := range c.open[deviceID] {
		if comp.CanonicalEventID == ev.EventID || (comp.HasClip() && comp.ClipToken == ev.ClipToken) {
			return true
		}
	}
	return false
}

// sweep promotes eligible composites and discards expired ones. Promotion
// blocks on the readiness queue; that is the backpressure path.
func (c *Correlator) sweep(ctx context.Context) error {
	now := c.now()

	var promote, discard []*models.CompositeEvent
	for _, comps := range c.open {
		for _, comp := range comps {
			switch {
			case c.eligible(comp, now):
				promote = append(promote, comp)
			case !comp.HasClip() && now.Sub(comp.WindowStart) > c.opts.MaxLifetime:
				discard = append(discard, comp)
			}
		}
	}

	for _, comp := range discard {
		comp.State = models.StateDiscarded
		c.remove(comp.DeviceID, comp)
		metrics.CompositesOpen.Dec()
		metrics.CompositesDiscarded.Inc()
		logging.Debug().
			Str("event_id", comp.CanonicalEventID).
			Str("device", comp.DeviceID).
			Msg("clip-less composite discarded")
	}

	for _, comp := range promote {
		if err := c.promote(ctx, comp); err != nil {
			return err
		}
		c.remove(comp.DeviceID, comp)
		metrics.CompositesOpen.Dec()
	}
	return nil
}

// eligible implements the readiness rule: a clip plus either a closed
// metadata window or an elapsed readiness timeout. The timeout also caps
// the wait a wide tolerance would otherwise impose.
//
// The window-closed clause only applies to labeled composites. The window
// is in event time while metadata arrives on poll delay, so an unlabeled
// clip composite always looks "closed"; it still gets the full readiness
// wait for its labels.
func (c *Correlator) eligible(comp *models.CompositeEvent, now time.Time) bool {
	if !comp.HasClip() {
		return false
	}
	if now.Sub(comp.ClipArrivedAt) >= c.opts.ReadinessTimeout {
		return true
	}
	return comp.MergedTypes.Len() > 0 && now.After(comp.WindowEnd.Add(c.opts.Tolerance))
}

func (c *Correlator) promote(ctx context.Context, comp *models.CompositeEvent) error {
	comp.State = models.StateReady

	reason := "matched"
	if comp.MergedTypes.Len() == 0 {
		reason = "timeout"
	}
	metrics.CompositesPromoted.WithLabelValues(reason).Inc()

	select {
	case c.ready <- *comp:
		metrics.ReadyQueueDepth.Set(float64(len(c.ready)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain promotes whatever clip-bearing composites remain, without blocking.
// Anything that does not fit in the queue is lost; the trailing poll window
// and Pub/Sub redelivery recover what matters after restart.
func (c *Correlator) drain() {
	var flush []*models.CompositeEvent
	for _, comps := range c.open {
		for _, comp := range comps {
			if comp.HasClip() {
				flush = append(flush, comp)
			}
		}
	}
	for _, comp := range flush {
		comp.State = models.StateReady
		select {
		case c.ready <- *comp:
		default:
		}
		c.remove(comp.DeviceID, comp)
		metrics.CompositesOpen.Dec()
	}
	close(c.ready)
}

// overlapping returns open composites whose widened window contains ts.
func (c *Correlator) overlapping(deviceID string, ts time.Time) []*models.CompositeEvent {
	var out []*models.CompositeEvent
	for _, comp := range c.open[deviceID] {
		if comp.Overlaps(ts, c.opts.Tolerance) {
			out = append(out, comp)
		}
	}
	return out
}

// coalesce folds other into head. Clip-side identity wins regardless of
// which composite held it.
func (c *Correlator) coalesce(head, other *models.CompositeEvent) {
	head.MergedTypes.Union(other.MergedTypes)
	head.Extend(other.WindowStart)
	head.Extend(other.WindowEnd)
	if !head.HasClip() && other.HasClip() {
		head.CanonicalEventID = other.CanonicalEventID
		head.ClipToken = other.ClipToken
		head.ClipArrivedAt = other.ClipArrivedAt
		head.State = models.StateMatching
	}
}

func (c *Correlator) remove(deviceID string, target *models.CompositeEvent) {
	comps := c.open[deviceID]
	for i, comp := range comps {
		if comp == target {
			c.open[deviceID] = append(comps[:i], comps[i+1:]...)
			break
		}
	}
	if len(c.open[deviceID]) == 0 {
		delete(c.open, deviceID)
	}
}
