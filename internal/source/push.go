// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package source

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/goccy/go-json"
	"google.golang.org/api/option"

	"github.com/tomtom215/clipherd/internal/logging"
	"github.com/tomtom215/clipherd/internal/metrics"
	"github.com/tomtom215/clipherd/internal/models"
)

// clipReadySuffix marks the SDM event key that announces a downloadable
// clip, e.g. "sdm.devices.events.CameraClipPreview.ClipPreview".
const clipReadySuffix = "cameraclippreview.clippreview"

const (
	reconnectBase = time.Second
	reconnectCap  = 60 * time.Second
	ackDeadline   = 60 * time.Second

	// A connection that stays up this long is healthy; the next drop starts
	// the backoff curve over instead of inheriting the capped delay.
	reconnectResetAfter = 5 * time.Minute
)

// PushAdapter holds a streaming Pub/Sub subscription to the SDM event
// topic and emits a clip event for every clip-ready notification. Delivery
// is at least once; duplicates pass through untouched because the dedup
// store downstream is the correctness boundary.
type PushAdapter struct {
	bus       *Bus
	projectID string
	topicName string // full name, projects/P/topics/T
	subID     string
	opts      []option.ClientOption
	newClient func(ctx context.Context, projectID string, opts ...option.ClientOption) (*pubsub.Client, error)
}

// PushOptions configures the adapter.
type PushOptions struct {
	// ProjectID is the subscriber's own GCP project (subscriptions live
	// there even though the SDM topic belongs to Google).
	ProjectID string

	// TopicName is the full SDM topic, projects/P/topics/T.
	TopicName string

	// SubscriptionID names the subscription; created if absent.
	SubscriptionID string

	// CredentialsFile is an optional service-account JSON path.
	CredentialsFile string
}

// NewPushAdapter creates the clip-ready listener.
func NewPushAdapter(bus *Bus, opts PushOptions) *PushAdapter {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	subID := opts.SubscriptionID
	if subID == "" {
		subID = "clipherd-events"
	}
	return &PushAdapter{
		bus:       bus,
		projectID: opts.ProjectID,
		topicName: opts.TopicName,
		subID:     subID,
		opts:      clientOpts,
		newClient: pubsub.NewClient,
	}
}

func (p *PushAdapter) Name() string { return "source-push" }

// Run maintains the subscription until ctx is cancelled. Receive returning
// an error counts as a dropped connection: back off exponentially with
// jitter and resubscribe without replay.
func (p *PushAdapter) Run(ctx context.Context) error {
	var backoff time.Duration
	for {
		started := time.Now()
		err := p.receive(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Receive returned cleanly without cancellation; treat as a drop.
			err = errors.New("subscription stream ended")
		}

		metrics.PushReconnects.Inc()
		backoff = nextBackoff(backoff, time.Since(started))
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))
		logging.Warn().
			Err(err).
			Dur("backoff", sleep).
			Msg("push subscription dropped, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// nextBackoff doubles the previous reconnect delay up to the cap. The first
// drop, and any drop after a healthy long-lived connection, starts at the
// base delay.
func nextBackoff(prev, uptime time.Duration) time.Duration {
	if prev == 0 || uptime >= reconnectResetAfter {
		return reconnectBase
	}
	next := prev * 2
	if next > reconnectCap {
		next = reconnectCap
	}
	return next
}

func (p *PushAdapter) receive(ctx context.Context) error {
	client, err := p.newClient(ctx, p.projectID, p.opts...)
	if err != nil {
		return fmt.Errorf("source: pubsub client: %w", err)
	}
	defer client.Close()

	sub, err := p.ensureSubscription(ctx, client)
	if err != nil {
		return err
	}

	logging.Info().
		Str("subscription", p.subID).
		Str("topic", p.topicName).
		Msg("push adapter listening")

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		ev, ok, err := parsePushMessage(msg.Data)
		if err != nil {
			logging.Debug().Err(err).Msg("unparseable push message")
			msg.Ack()
			return
		}
		if !ok {
			// Not clip-ready; nothing for this feed to say.
			msg.Ack()
			return
		}
		if err := p.bus.Publish(ev); err != nil {
			// Nack so Pub/Sub redelivers after the bus drains.
			logging.Error().Err(err).Str("event_id", ev.EventID).Msg("publish failed, nacking")
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// ensureSubscription attaches to the subscription, creating it against the
// SDM topic when it does not exist yet.
func (p *PushAdapter) ensureSubscription(ctx context.Context, client *pubsub.Client) (*pubsub.Subscription, error) {
	sub := client.Subscription(p.subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("source: check subscription: %w", err)
	}
	if exists {
		return sub, nil
	}

	topicProject, topicID, err := splitTopicName(p.topicName)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("subscription", p.subID).Msg("creating pubsub subscription")
	sub, err = client.CreateSubscription(ctx, p.subID, pubsub.SubscriptionConfig{
		Topic:       client.TopicInProject(topicID, topicProject),
		AckDeadline: ackDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("source: create subscription: %w", err)
	}
	return sub, nil
}

// splitTopicName parses projects/P/topics/T.
func splitTopicName(name string) (project, topic string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" {
		return "", "", fmt.Errorf("source: malformed topic name %q", name)
	}
	return parts[1], parts[3], nil
}

// sdmMessage is the SDM event envelope carried in Pub/Sub message data.
type sdmMessage struct {
	EventID        string    `json:"eventId"`
	Timestamp      time.Time `json:"timestamp"`
	ResourceUpdate struct {
		Name   string                     `json:"name"`
		Events map[string]json.RawMessage `json:"events"`
	} `json:"resourceUpdate"`
}

type clipPreviewEvent struct {
	EventSessionID string `json:"eventSessionId"`
	PreviewURL     string `json:"previewUrl"`
}

// parsePushMessage extracts a clip event from an SDM notification. The
// second return is false for messages without a clip-ready indicator
// (relation updates, thermostat traits, label-only camera events).
func parsePushMessage(data []byte) (models.RawEvent, bool, error) {
	var msg sdmMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.RawEvent{}, false, fmt.Errorf("source: decode push message: %w", err)
	}
	if msg.ResourceUpdate.Name == "" || len(msg.ResourceUpdate.Events) == 0 {
		return models.RawEvent{}, false, nil
	}

	var clip clipPreviewEvent
	found := false
	types := models.NewTypeSet()
	for key, raw := range msg.ResourceUpdate.Events {
		if strings.HasSuffix(strings.ToLower(key), clipReadySuffix) {
			if err := json.Unmarshal(raw, &clip); err != nil {
				return models.RawEvent{}, false, fmt.Errorf("source: decode clip preview: %w", err)
			}
			found = true
			continue
		}
		// Sibling keys like sdm.devices.events.CameraPerson.Person label
		// the same physical event; carry them along.
		if t, ok := models.ParseEventType(key); ok {
			types.Add(t)
		}
	}
	if !found || clip.PreviewURL == "" {
		return models.RawEvent{}, false, nil
	}

	eventID := clip.EventSessionID
	if eventID == "" {
		eventID = msg.EventID
	}
	occurred := msg.Timestamp
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	ev := models.RawEvent{
		Source:     models.SourceClip,
		DeviceID:   msg.ResourceUpdate.Name,
		EventID:    eventID,
		Types:      types,
		OccurredAt: occurred,
		ClipToken:  clip.PreviewURL,
	}
	if err := ev.Validate(); err != nil {
		return models.RawEvent{}, false, err
	}
	return ev, true, nil
}
