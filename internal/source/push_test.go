// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package source

import (
	"testing"
	"time"

	"github.com/tomtom215/clipherd/internal/models"
)

const clipReadyMessage = `{
  "eventId": "msg-abc",
  "timestamp": "2026-08-27T14:02:11.231Z",
  "resourceUpdate": {
    "name": "enterprises/proj-1/devices/cam-front",
    "events": {
      "sdm.devices.events.CameraClipPreview.ClipPreview": {
        "eventSessionId": "session-42",
        "previewUrl": "https://nexusapi.example/clip/session-42"
      },
      "sdm.devices.events.CameraPerson.Person": {
        "eventSessionId": "session-42",
        "eventId": "evt-person"
      }
    }
  }
}`

const labelOnlyMessage = `{
  "eventId": "msg-def",
  "timestamp": "2026-08-27T14:02:05.000Z",
  "resourceUpdate": {
    "name": "enterprises/proj-1/devices/cam-front",
    "events": {
      "sdm.devices.events.CameraMotion.Motion": {
        "eventSessionId": "session-42",
        "eventId": "evt-motion"
      }
    }
  }
}`

func TestParsePushMessageClipReady(t *testing.T) {
	ev, ok, err := parsePushMessage([]byte(clipReadyMessage))
	if err != nil {
		t.Fatalf("parsePushMessage: %v", err)
	}
	if !ok {
		t.Fatal("clip-ready message should produce an event")
	}
	if ev.Source != models.SourceClip {
		t.Errorf("Source = %q", ev.Source)
	}
	if ev.EventID != "session-42" {
		t.Errorf("EventID = %q, want session id", ev.EventID)
	}
	if ev.ClipToken != "https://nexusapi.example/clip/session-42" {
		t.Errorf("ClipToken = %q", ev.ClipToken)
	}
	if ev.DeviceID != "enterprises/proj-1/devices/cam-front" {
		t.Errorf("DeviceID = %q", ev.DeviceID)
	}
	if !ev.Types.Contains(models.EventPerson) {
		t.Errorf("sibling person label should be carried, got %v", ev.Types.Ordered())
	}
	if ev.OccurredAt.IsZero() {
		t.Error("OccurredAt should come from the envelope timestamp")
	}
}

func TestParsePushMessageFiltering(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"label only", labelOnlyMessage, false},
		{"relation update", `{"eventId":"x","timestamp":"2026-08-27T14:00:00Z","relationUpdate":{"type":"CREATED"}}`, false},
		{"empty events", `{"eventId":"x","resourceUpdate":{"name":"d","events":{}}}`, false},
		{"garbage", `not json`, true},
		{"clip preview without url", `{"eventId":"x","timestamp":"2026-08-27T14:00:00Z","resourceUpdate":{"name":"d","events":{"sdm.devices.events.CameraClipPreview.ClipPreview":{"eventSessionId":"s"}}}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := parsePushMessage([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePushMessage: %v", err)
			}
			if ok {
				t.Error("message without a usable clip indicator should be filtered")
			}
		})
	}
}

func TestParsePushMessageFallsBackToEnvelopeID(t *testing.T) {
	data := `{
	  "eventId": "msg-xyz",
	  "timestamp": "2026-08-27T15:00:00Z",
	  "resourceUpdate": {
	    "name": "enterprises/p/devices/cam",
	    "events": {
	      "sdm.devices.events.CameraClipPreview.ClipPreview": {"previewUrl": "https://x/clip"}
	    }
	  }
	}`
	ev, ok, err := parsePushMessage([]byte(data))
	if err != nil || !ok {
		t.Fatalf("parsePushMessage: ok=%v err=%v", ok, err)
	}
	if ev.EventID != "msg-xyz" {
		t.Errorf("EventID = %q, want envelope eventId", ev.EventID)
	}
}

func TestSplitTopicName(t *testing.T) {
	tests := []struct {
		in      string
		project string
		topic   string
		wantErr bool
	}{
		{"projects/sdm-prod/topics/enterprise-abc", "sdm-prod", "enterprise-abc", false},
		{"enterprise-abc", "", "", true},
		{"projects/p/subscriptions/s", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		project, topic, err := splitTopicName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("splitTopicName(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if project != tt.project || topic != tt.topic {
			t.Errorf("splitTopicName(%q) = %q, %q", tt.in, project, topic)
		}
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		name   string
		prev   time.Duration
		uptime time.Duration
		want   time.Duration
	}{
		{"first drop starts at base", 0, time.Second, reconnectBase},
		{"quick drop doubles", reconnectBase, 2 * time.Second, 2 * reconnectBase},
		{"doubling is capped", 40 * time.Second, 2 * time.Second, reconnectCap},
		{"stays at cap", reconnectCap, 2 * time.Second, reconnectCap},
		{"healthy connection resets the curve", reconnectCap, reconnectResetAfter, reconnectBase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextBackoff(tt.prev, tt.uptime); got != tt.want {
				t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.prev, tt.uptime, got, tt.want)
			}
		})
	}
}
