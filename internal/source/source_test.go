// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package source

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/clipherd/internal/homeapi"
	"github.com/tomtom215/clipherd/internal/models"
	"github.com/tomtom215/clipherd/internal/registry"
)

func TestDamperSeen(t *testing.T) {
	d := NewDamper(4, time.Minute)

	if d.Seen("a") {
		t.Error("first sighting should not be seen")
	}
	if !d.Seen("a") {
		t.Error("second sighting should be seen")
	}

	// Fill to capacity, then touch "a" so "b" is the oldest entry.
	for _, k := range []string{"b", "c", "d"} {
		d.Seen(k)
	}
	if !d.Seen("a") {
		t.Error("key within capacity should still be seen")
	}

	// One more insert evicts exactly the least recently used key.
	d.Seen("e")
	if d.Len() > 4 {
		t.Errorf("Len() = %d, want <= 4", d.Len())
	}
	if d.Seen("b") {
		t.Error("least recently used key should have been evicted")
	}
	if !d.Seen("a") {
		t.Error("recently used key should survive eviction")
	}
}

func TestDamperForget(t *testing.T) {
	d := NewDamper(4, time.Minute)
	d.Seen("k")
	d.Forget("k")
	if d.Seen("k") {
		t.Error("forgotten key should read as unseen")
	}
	d.Forget("absent") // no-op
}

func TestDamperTTLExpiry(t *testing.T) {
	d := NewDamper(16, 10*time.Millisecond)
	d.Seen("k")
	time.Sleep(20 * time.Millisecond)
	if d.Seen("k") {
		t.Error("expired key should not be seen")
	}
}

func TestBusRoundTrip(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := models.RawEvent{
		Source:     models.SourceClip,
		DeviceID:   "cam-1",
		EventID:    "evt-1",
		OccurredAt: time.Now().UTC().Truncate(time.Second),
		ClipToken:  "tok-1",
	}
	if err := bus.Publish(want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgs:
		got, err := Decode(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		msg.Ack()
		if got.EventID != want.EventID || got.Source != want.Source || got.ClipToken != want.ClipToken {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
		if !got.OccurredAt.Equal(want.OccurredAt) {
			t.Errorf("OccurredAt = %v, want %v", got.OccurredAt, want.OccurredAt)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for bus message")
	}
}

type fakeFetcher struct {
	mu     sync.Mutex
	calls  int
	events []homeapi.Event
	err    error
}

func (f *fakeFetcher) ListEvents(ctx context.Context, homeDeviceID string, start, end time.Time) ([]homeapi.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.events, f.err
}

func collectRawEvents(t *testing.T, bus *Bus, n int, timeout time.Duration) []models.RawEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var out []models.RawEvent
	for len(out) < n {
		select {
		case msg := <-msgs:
			ev, err := Decode(msg)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			msg.Ack()
			out = append(out, ev)
		case <-ctx.Done():
			return out
		}
	}
	return out
}

func TestPollAdapterEmitsAndDamps(t *testing.T) {
	now := time.Now().UTC()
	fetcher := &fakeFetcher{events: []homeapi.Event{
		{EventID: "evt-1", Description: "Person", Types: models.NewTypeSet(models.EventPerson), OccurredAt: now},
		{EventID: "evt-2", Description: "Package detected", Types: models.NewTypeSet(models.EventPackage), OccurredAt: now},
	}}

	bus := NewBus(8)
	defer bus.Close()

	target := PollTarget{
		HomeDeviceID: "home-1",
		Device:       registry.Device{ID: "cam-1", DisplayName: "Front Door"},
	}
	p := NewPollAdapter(fetcher, bus, []PollTarget{target}, time.Minute, time.Hour)

	done := make(chan []models.RawEvent, 1)
	go func() { done <- collectRawEvents(t, bus, 2, 3*time.Second) }()

	// Give the subscriber a moment to attach before polling.
	time.Sleep(50 * time.Millisecond)
	ctx := context.Background()
	p.pollOnce(ctx)
	p.pollOnce(ctx) // same events again; damper should swallow them

	events := <-done
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (duplicates damped)", len(events))
	}
	for _, ev := range events {
		if ev.Source != models.SourceMetadata {
			t.Errorf("Source = %q, want metadata", ev.Source)
		}
		if ev.DeviceID != "cam-1" {
			t.Errorf("DeviceID = %q, want canonical id", ev.DeviceID)
		}
	}
}

func TestPollAdapterUnrecordsOnPublishFailure(t *testing.T) {
	now := time.Now().UTC()
	fetcher := &fakeFetcher{events: []homeapi.Event{
		{EventID: "evt-1", Types: models.NewTypeSet(models.EventPerson), OccurredAt: now},
	}}

	// A closed bus makes every publish fail.
	bus := NewBus(1)
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p := NewPollAdapter(fetcher, bus, []PollTarget{{HomeDeviceID: "h", Device: registry.Device{ID: "cam"}}}, time.Minute, time.Hour)
	p.pollOnce(context.Background())

	// The failed event must not stay recorded, or it would be suppressed
	// for the whole damper TTL instead of retried next tick.
	if n := p.damper.Len(); n != 0 {
		t.Errorf("damper holds %d entries after failed publish, want 0", n)
	}
}

func TestPollAdapterSurvivesFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("upstream 500")}
	bus := NewBus(1)
	defer bus.Close()

	p := NewPollAdapter(fetcher, bus, []PollTarget{{HomeDeviceID: "h", Device: registry.Device{ID: "cam"}}}, time.Minute, time.Hour)
	p.pollOnce(context.Background())
	p.pollOnce(context.Background())

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if fetcher.calls != 2 {
		t.Errorf("calls = %d, want 2 (error does not stop polling)", fetcher.calls)
	}
}
