// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the pipeline:
// - ingestion volume per source adapter
// - correlator merge/discard activity and queue depth
// - delivery outcomes and latency
// - dedup store reservations, hits, and record count

var (
	// Ingestion

	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipherd_events_ingested_total",
			Help: "Raw events emitted onto the ingestion bus, by source kind",
		},
		[]string{"source"},
	)

	PollFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipherd_poll_fetch_errors_total",
			Help: "Metadata poll ticks that failed and were deferred to the next tick",
		},
	)

	PushReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipherd_push_reconnects_total",
			Help: "Pub/Sub subscription reconnect attempts after a drop",
		},
	)

	// Correlator

	CompositesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipherd_composites_open",
			Help: "Composite events currently held by the correlator",
		},
	)

	CompositesMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipherd_composites_merged_total",
			Help: "Metadata events merged into an existing composite",
		},
	)

	CompositesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipherd_composites_discarded_total",
			Help: "Composites discarded after the clip-less lifetime expired",
		},
	)

	CompositesPromoted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipherd_composites_promoted_total",
			Help: "Composites promoted to the readiness queue, by reason",
		},
		[]string{"reason"}, // "matched", "timeout"
	)

	ReadyQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipherd_ready_queue_depth",
			Help: "Composites waiting for a delivery worker",
		},
	)

	// Delivery

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipherd_deliveries_total",
			Help: "Delivery attempts by terminal outcome",
		},
		[]string{"outcome"}, // "sent", "deduped", "dropped"
	)

	DeliveryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipherd_delivery_retries_total",
			Help: "Delivery attempts that failed and were scheduled for retry",
		},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clipherd_delivery_duration_seconds",
			Help:    "End-to-end duration of a successful delivery (fetch + notify + commit)",
			Buckets: prometheus.DefBuckets,
		},
	)

	ClipFetchBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipherd_clip_fetch_bytes_total",
			Help: "Total clip bytes fetched from the clip-storage API",
		},
	)

	// Dedup store

	DedupReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipherd_dedup_reservations_total",
			Help: "CheckAndReserve outcomes",
		},
		[]string{"outcome"}, // "reserved", "already_sent", "error"
	)

	SentRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipherd_sent_records",
			Help: "Sent records currently held in the dedup store",
		},
	)

	RecordsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipherd_records_pruned_total",
			Help: "Sent records removed by the retention sweep",
		},
	)
)
