// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package models defines the event shapes shared across the pipeline:
// RawEvent (normalized adapter output), CompositeEvent (the correlator's
// working unit), and SentRecord (the durable dedup row).
package models

import (
	"fmt"
	"time"
)

// SourceKind identifies which upstream feed produced a RawEvent.
type SourceKind string

const (
	// SourceMetadata is the polled feed that labels events but has no clips.
	SourceMetadata SourceKind = "metadata"
	// SourceClip is the pushed feed that announces clip availability.
	SourceClip SourceKind = "clip"
)

// RawEvent is the normalized unit both source adapters emit onto the
// ingestion bus. It is immutable after construction; identity is
// (Source, EventID).
type RawEvent struct {
	Source     SourceKind `json:"source"`
	DeviceID   string     `json:"device_id"`
	EventID    string     `json:"event_id"`
	Types      TypeSet    `json:"types,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
	ClipToken  string     `json:"clip_token,omitempty"`
}

// Identity returns the dedup-stable identity of the raw event.
func (e *RawEvent) Identity() string {
	return string(e.Source) + ":" + e.EventID
}

// Validate reports whether the event carries the minimum fields the
// correlator needs.
func (e *RawEvent) Validate() error {
	switch e.Source {
	case SourceMetadata, SourceClip:
	default:
		return fmt.Errorf("raw event: unknown source kind %q", e.Source)
	}
	if e.DeviceID == "" {
		return fmt.Errorf("raw event %s: missing device id", e.EventID)
	}
	if e.EventID == "" {
		return fmt.Errorf("raw event from %s: missing event id", e.DeviceID)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("raw event %s: missing timestamp", e.EventID)
	}
	if e.Source == SourceClip && e.ClipToken == "" {
		return fmt.Errorf("clip event %s: missing clip token", e.EventID)
	}
	return nil
}

// CompositeState tracks a composite event through its lifecycle.
type CompositeState string

const (
	// StatePending: created, no clip token yet.
	StatePending CompositeState = "pending"
	// StateMatching: holds a clip token, still inside the tolerance window.
	StateMatching CompositeState = "matching"
	// StateReady: promoted to the readiness queue.
	StateReady CompositeState = "ready"
	// StateDelivering: owned by a delivery worker.
	StateDelivering CompositeState = "delivering"
	// StateDelivered: terminal success.
	StateDelivered CompositeState = "delivered"
	// StateDiscarded: terminal; timed out without ever receiving a clip.
	StateDiscarded CompositeState = "discarded"
)

// CompositeEvent is the correlator's merged representation of one or more
// correlated upstream notifications describing the same physical camera
// event. It is owned exclusively by the correlator until handed to a delivery
// worker; ownership transfers at that point and the correlator drops its
// reference.
type CompositeEvent struct {
	DeviceID string

	// CanonicalEventID is the identifier used for dedup: the clip-side event
	// id when one exists, otherwise the metadata-side id.
	CanonicalEventID string

	MergedTypes TypeSet

	WindowStart time.Time
	WindowEnd   time.Time

	ClipToken string

	State CompositeState

	// ClipArrivedAt is when the clip-side event reached the correlator;
	// the readiness timeout counts from here.
	ClipArrivedAt time.Time
}

// HasClip reports whether the composite holds a clip token. Clip-less
// composites are never delivered.
func (c *CompositeEvent) HasClip() bool {
	return c.ClipToken != ""
}

// Overlaps reports whether ts falls within the composite's window widened by
// the tolerance on both sides.
func (c *CompositeEvent) Overlaps(ts time.Time, tolerance time.Duration) bool {
	return !ts.Before(c.WindowStart.Add(-tolerance)) && !ts.After(c.WindowEnd.Add(tolerance))
}

// Extend widens the composite's window to include ts.
func (c *CompositeEvent) Extend(ts time.Time) {
	if ts.Before(c.WindowStart) {
		c.WindowStart = ts
	}
	if ts.After(c.WindowEnd) {
		c.WindowEnd = ts
	}
}

// SentRecord is the durable row proving a canonical event id was delivered.
// At most one exists per id; that invariant is what the whole pipeline
// enforces.
type SentRecord struct {
	CanonicalEventID string    `json:"canonical_event_id"`
	DeviceID         string    `json:"device_id"`
	SentAt           time.Time `json:"sent_at"`
	// EventTimestamp is the event's own time, used for retention pruning.
	EventTimestamp time.Time `json:"event_timestamp"`
}
