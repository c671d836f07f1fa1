// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package nest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const deviceListFixture = `{
  "devices": [
    {
      "name": "enterprises/proj-1/devices/cam-front",
      "type": "sdm.devices.types.DOORBELL",
      "traits": {
        "sdm.devices.traits.Info": {"customName": "Front Door"}
      }
    },
    {
      "name": "enterprises/proj-1/devices/cam-yard",
      "type": "sdm.devices.types.CAMERA",
      "traits": {}
    },
    {
      "name": "enterprises/proj-1/devices/thermo-hall",
      "type": "sdm.devices.types.THERMOSTAT",
      "traits": {
        "sdm.devices.traits.Info": {"customName": "Hallway"}
      }
    }
  ]
}`

func TestSDMListDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/enterprises/proj-1/devices" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, deviceListFixture)
	}))
	defer srv.Close()

	c := NewSDMClient(srv.Client(), srv.URL, "proj-1")
	entries, err := c.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (thermostat filtered)", len(entries))
	}
	if entries[0].NativeID != "enterprises/proj-1/devices/cam-front" {
		t.Errorf("NativeID = %q", entries[0].NativeID)
	}
	if entries[0].Device.DisplayName != "Front Door" {
		t.Errorf("DisplayName = %q, want Front Door", entries[0].Device.DisplayName)
	}
	if entries[1].Device.DisplayName != "" {
		t.Errorf("camera without Info trait should have empty display name, got %q", entries[1].Device.DisplayName)
	}
}

func TestSDMListDevicesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewSDMClient(srv.Client(), srv.URL, "proj-1")
	if _, err := c.ListDevices(context.Background()); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestFetchClip(t *testing.T) {
	clip := []byte("fake-mp4-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mp4clip/namespace/nest-phoenix-prod/device/cam-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("start_time") != "1756300000000" || q.Get("end_time") != "1756300045000" {
			t.Errorf("time range = %s..%s", q.Get("start_time"), q.Get("end_time"))
		}
		w.Write(clip)
	}))
	defer srv.Close()

	c := NewClipClient(srv.Client(), srv.URL)
	start := time.UnixMilli(1756300000000)
	end := time.UnixMilli(1756300045000)

	got, err := c.FetchClip(context.Background(), "cam-1", start, end)
	if err != nil {
		t.Fatalf("FetchClip: %v", err)
	}
	if string(got) != string(clip) {
		t.Errorf("clip bytes = %q", got)
	}
}

func TestFetchClipStripsResourcePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mp4clip/namespace/nest-phoenix-prod/device/cam-9" {
			t.Errorf("path = %q, want bare id segment", r.URL.Path)
		}
		io.WriteString(w, "x")
	}))
	defer srv.Close()

	c := NewClipClient(srv.Client(), srv.URL)
	if _, err := c.FetchClip(context.Background(), "enterprises/p/devices/cam-9", time.Now().Add(-time.Minute), time.Now()); err != nil {
		t.Fatalf("FetchClip: %v", err)
	}
}

func TestFetchClipErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		start   time.Duration // offsets relative to now
		end     time.Duration
	}{
		{"http 404", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}, -time.Minute, 0},
		{"empty body", func(w http.ResponseWriter, r *http.Request) {}, -time.Minute, 0},
		{"inverted range", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "x")
		}, 0, -time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClipClient(srv.Client(), srv.URL)
			now := time.Now()
			if _, err := c.FetchClip(context.Background(), "cam-1", now.Add(tt.start), now.Add(tt.end)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
