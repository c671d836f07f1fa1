// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package models

import (
	"testing"
	"time"
)

func TestParseEventType(t *testing.T) {
	tests := []struct {
		key    string
		want   EventType
		wantOK bool
	}{
		{"sdm.devices.events.CameraPerson.Person", EventPerson, true},
		{"sdm.devices.events.CameraMotion.Motion", EventMotion, true},
		{"sdm.devices.events.DoorbellChime.Chime", EventDoorbell, true},
		{"sdm.devices.events.CameraClipPreview.ClipPreview", "clippreview", false},
		{"package", EventPackage, true},
		{"Vehicle", EventVehicle, true},
		{"sound", EventSound, true},
		{"animal", EventAnimal, true},
		{"", "", false},
		{"telemetry", "telemetry", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := ParseEventType(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("ParseEventType(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseEventType(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestTypeSetOrderedByPriority(t *testing.T) {
	// Insertion order must not matter; doorbell renders first, sound last.
	s := NewTypeSet(EventSound, EventPerson, EventDoorbell, EventPackage)

	got := s.Ordered()
	want := []EventType{EventDoorbell, EventPackage, EventPerson, EventSound}
	if len(got) != len(want) {
		t.Fatalf("Ordered() returned %d types, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Ordered()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTypeSetPackageBeforePerson(t *testing.T) {
	// Person arrives first; package must still render before it.
	s := NewTypeSet(EventPerson)
	s.Add(EventPackage)

	got := s.Ordered()
	if got[0] != EventPackage || got[1] != EventPerson {
		t.Errorf("expected [package person], got %v", got)
	}
}

func TestTypeSetUnion(t *testing.T) {
	a := NewTypeSet(EventPerson)
	b := NewTypeSet(EventPerson, EventMotion)
	a.Union(b)

	if a.Len() != 2 {
		t.Errorf("union length = %d, want 2", a.Len())
	}
	if !a.Contains(EventMotion) {
		t.Error("union missing motion")
	}
}

func TestRawEventValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		event   RawEvent
		wantErr bool
	}{
		{
			name:  "valid metadata event",
			event: RawEvent{Source: SourceMetadata, DeviceID: "d1", EventID: "e1", OccurredAt: now},
		},
		{
			name:  "valid clip event",
			event: RawEvent{Source: SourceClip, DeviceID: "d1", EventID: "e2", OccurredAt: now, ClipToken: "tok"},
		},
		{
			name:    "clip event without token",
			event:   RawEvent{Source: SourceClip, DeviceID: "d1", EventID: "e3", OccurredAt: now},
			wantErr: true,
		},
		{
			name:    "missing device",
			event:   RawEvent{Source: SourceMetadata, EventID: "e4", OccurredAt: now},
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			event:   RawEvent{Source: SourceMetadata, DeviceID: "d1", EventID: "e5"},
			wantErr: true,
		},
		{
			name:    "unknown source",
			event:   RawEvent{Source: "webhook", DeviceID: "d1", EventID: "e6", OccurredAt: now},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompositeOverlaps(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	c := &CompositeEvent{WindowStart: base, WindowEnd: base.Add(10 * time.Second)}
	tol := 90 * time.Second

	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"inside window", base.Add(5 * time.Second), true},
		{"within tolerance before", base.Add(-60 * time.Second), true},
		{"within tolerance after", base.Add(95 * time.Second), true},
		{"exactly at tolerance edge", base.Add(-90 * time.Second), true},
		{"beyond tolerance before", base.Add(-91 * time.Second), false},
		{"beyond tolerance after", base.Add(101 * time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Overlaps(tt.ts, tol); got != tt.want {
				t.Errorf("Overlaps(%v) = %v, want %v", tt.ts, got, tt.want)
			}
		})
	}
}

func TestCompositeExtend(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	c := &CompositeEvent{WindowStart: base, WindowEnd: base}

	c.Extend(base.Add(5 * time.Second))
	c.Extend(base.Add(-3 * time.Second))

	if !c.WindowStart.Equal(base.Add(-3 * time.Second)) {
		t.Errorf("WindowStart = %v, want %v", c.WindowStart, base.Add(-3*time.Second))
	}
	if !c.WindowEnd.Equal(base.Add(5 * time.Second)) {
		t.Errorf("WindowEnd = %v, want %v", c.WindowEnd, base.Add(5*time.Second))
	}
}
