// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package homeapi is a minimal client for the Google Home foyer camera
// timeline, the metadata feed that labels camera events ("Package detected ·
// Person") without knowing where the video lives.
//
// The endpoint speaks JSON-encoded protobuf: requests and responses are
// positional arrays, not objects, so parsing is by index. The layout was
// reverse-engineered and is pinned by the package tests.
package homeapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/clipherd/internal/models"
)

// DefaultEndpoint is the foyer timeline RPC.
const DefaultEndpoint = "https://googlehomefoyer-pa.clients6.google.com/$rpc/google.internal.home.foyer.v1.CameraService/ListTimelinePeriods"

// Static headers the foyer API requires alongside OAuth.
var baseHeaders = map[string]string{
	"Content-Type":               "application/json+protobuf",
	"X-Server-Token":             "CAMSEhUJ45f_C9a4yibZwhTc5gAdBw==",
	"x-foyer-client-environment": "CAc=",
}

// Event is one labeled timeline entry for a device.
type Event struct {
	EventID     string
	Description string
	Types       models.TypeSet
	OccurredAt  time.Time
}

// Client fetches timeline events. The injected http.Client is expected to
// attach OAuth credentials (an oauth2 transport); this package never sees
// tokens.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// New creates a timeline client. A nil httpClient falls back to a plain
// client with a 10s timeout, which will fail auth against the real API but
// keeps tests simple.
func New(httpClient *http.Client, endpoint string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{httpClient: httpClient, endpoint: endpoint}
}

// ListEvents fetches labeled events for one device between start and end.
func (c *Client) ListEvents(ctx context.Context, homeDeviceID string, start, end time.Time) ([]Event, error) {
	payload, err := encodeRequest(homeDeviceID, start, end)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("homeapi: build request: %w", err)
	}
	for k, v := range baseHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("homeapi: timeline request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("homeapi: timeline request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("homeapi: read timeline response: %w", err)
	}

	return parseTimeline(body)
}

// encodeRequest builds the positional-array request body:
// [[deviceID, [endSec, endNs], [startSec, startNs], null, 12], 1]
func encodeRequest(deviceID string, start, end time.Time) ([]byte, error) {
	ts := func(t time.Time) []int64 {
		return []int64{t.Unix(), int64(t.Nanosecond())}
	}
	body := []interface{}{
		[]interface{}{deviceID, ts(end), ts(start), nil, 12},
		1,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("homeapi: encode request: %w", err)
	}
	return data, nil
}

// parseTimeline walks the positional response:
// top[1] is the period list; period[2] is the event list; each event is
// [eventID, description, timestampStr, [startSec, startNs], [endSec, endNs], …].
// Malformed entries are skipped rather than failing the whole fetch.
func parseTimeline(data []byte) ([]Event, error) {
	var top []json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("homeapi: decode timeline: %w", err)
	}
	if len(top) < 2 {
		return nil, nil
	}

	var periods []json.RawMessage
	if err := json.Unmarshal(top[1], &periods); err != nil {
		return nil, fmt.Errorf("homeapi: decode periods: %w", err)
	}

	var events []Event
	for _, rawPeriod := range periods {
		var period []json.RawMessage
		if err := json.Unmarshal(rawPeriod, &period); err != nil || len(period) < 3 {
			continue
		}

		var rawEvents []json.RawMessage
		if err := json.Unmarshal(period[2], &rawEvents); err != nil {
			continue
		}

		for _, rawEvent := range rawEvents {
			if ev, ok := parseEvent(rawEvent); ok {
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func parseEvent(raw json.RawMessage) (Event, bool) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) < 4 {
		return Event{}, false
	}

	var id, description string
	if err := json.Unmarshal(fields[0], &id); err != nil {
		return Event{}, false
	}
	if err := json.Unmarshal(fields[1], &description); err != nil || description == "" {
		return Event{}, false
	}

	var start []int64
	if err := json.Unmarshal(fields[3], &start); err != nil || len(start) < 2 {
		return Event{}, false
	}

	return Event{
		EventID:     id,
		Description: description,
		Types:       ParseDescription(description),
		OccurredAt:  time.Unix(start[0], start[1]).UTC(),
	}, true
}
