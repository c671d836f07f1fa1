// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package notifier delivers finished composite events to the chat channel.
package notifier

import (
	"context"
	"strings"
	"time"

	"github.com/tomtom215/clipherd/internal/models"
)

// Notification is one outbound message: a clip plus enough context to
// caption it.
type Notification struct {
	DeviceName string

	// Types in display priority order, possibly empty (unlabeled event).
	Types []models.EventType

	// Timestamp is the event's own time, rendered in the configured zone.
	Timestamp time.Time

	// Clip is the MP4 payload.
	Clip []byte
}

// Notifier sends notifications. Implementations must be safe for
// concurrent use; the delivery pool calls Send from multiple workers.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Caption layouts for the two named time formats. Anything else in the
// config is treated as a Go reference layout.
const (
	layout24h = "15:04:05 02/01/2006"
	layout12h = "03:04:05PM 01/02/2006"
)

// ParseTimeLayout maps a config time format to a Go layout.
func ParseTimeLayout(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "24h":
		return layout24h
	case "12h":
		return layout12h
	default:
		return format
	}
}

// RenderCaption builds the message caption:
//
//	🔔 Doorbell · Person — Front Door [14:02:11 27/08/2026]
//
// The emoji belongs to the highest-priority type. Unlabeled events fall
// back to a plain "<device> clip" caption.
func RenderCaption(n Notification, loc *time.Location, layout string) string {
	ts := n.Timestamp.In(loc).Format(layout)

	if len(n.Types) == 0 {
		name := n.DeviceName
		if name == "" {
			name = "Camera"
		}
		return name + " clip [" + ts + "]"
	}

	var b strings.Builder
	if emoji := n.Types[0].Emoji(); emoji != "" {
		b.WriteString(emoji)
		b.WriteString(" ")
	}
	for i, t := range n.Types {
		if i > 0 {
			b.WriteString(" · ")
		}
		b.WriteString(t.Label())
	}
	if n.DeviceName != "" {
		b.WriteString(" — ")
		b.WriteString(n.DeviceName)
	}
	b.WriteString(" [")
	b.WriteString(ts)
	b.WriteString("]")
	return b.String()
}
