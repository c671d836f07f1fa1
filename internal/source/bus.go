// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package source feeds the ingestion bus from the two upstreams: the polled
// metadata timeline and the pushed clip-ready notifications. Adapters are
// independent; either, both, or neither may be running, and the rest of the
// pipeline cannot tell the difference.
package source

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/clipherd/internal/logging"
	"github.com/tomtom215/clipherd/internal/metrics"
	"github.com/tomtom215/clipherd/internal/models"
)

// TopicRawEvents is the single ingestion topic. One subscriber (the
// correlator) consumes it, so bus order is arrival order.
const TopicRawEvents = "events.raw"

// Source is a long-running event producer. Run blocks until ctx is
// cancelled or the source fails fatally.
type Source interface {
	Run(ctx context.Context) error
	Name() string
}

// Bus is the in-process ingestion bus. The output buffer is bounded;
// Publish blocks when the correlator lags, which is the backpressure
// contract the adapters rely on.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the bus with the given per-subscriber buffer.
func NewBus(buffer int) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: int64(buffer)},
			newWatermillLogger(logging.Logger()),
		),
	}
}

// Publish marshals one raw event onto the bus. Blocks under backpressure.
func (b *Bus) Publish(ev models.RawEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("source: marshal raw event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(TopicRawEvents, msg); err != nil {
		return fmt.Errorf("source: publish raw event: %w", err)
	}
	metrics.EventsIngested.WithLabelValues(string(ev.Source)).Inc()
	return nil
}

// Subscribe returns the raw-event stream. Call once; additional subscribers
// would each get a copy of every message and break ordering assumptions
// downstream.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, TopicRawEvents)
}

// Decode unmarshals a bus message back into a raw event.
func Decode(msg *message.Message) (models.RawEvent, error) {
	var ev models.RawEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return models.RawEvent{}, fmt.Errorf("source: decode raw event: %w", err)
	}
	return ev, nil
}

// Close shuts the bus down; pending messages are dropped.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// watermillLogger bridges watermill's logger interface onto zerolog.
type watermillLogger struct {
	log zerolog.Logger
}

func newWatermillLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{log: log.With().Str("component", "bus").Logger()}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.event(w.log.Error().Err(err), fields).Msg(msg)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.event(w.log.Info(), fields).Msg(msg)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.event(w.log.Debug(), fields).Msg(msg)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.event(w.log.Trace(), fields).Msg(msg)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := w.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &watermillLogger{log: ctx.Logger()}
}

func (w *watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
