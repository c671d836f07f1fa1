// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package nest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/clipherd/internal/metrics"
)

// DefaultClipBase is the Nest camera frontend that serves recorded video.
const DefaultClipBase = "https://nest-camera-frontend.googleapis.com"

// clipPathTemplate downloads an MP4 covering a millisecond time range.
const clipPathTemplate = "/mp4clip/namespace/nest-phoenix-prod/device/%s"

// maxClipBytes caps a single download. Telegram refuses bot uploads over
// 50 MB anyway, so anything larger is unusable downstream.
const maxClipBytes = 50 << 20

// ClipClient downloads video clips from the Nest camera frontend.
type ClipClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewClipClient creates a clip downloader. httpClient must attach OAuth
// credentials and should carry a generous timeout; clips run to tens of
// megabytes.
func NewClipClient(httpClient *http.Client, baseURL string) *ClipClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultClipBase
	}
	return &ClipClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// FetchClip downloads the MP4 covering [start, end] for a device. The
// device id is the bare Nest id, not the SDM resource path; callers holding
// a resource path should pass its last segment.
func (c *ClipClient) FetchClip(ctx context.Context, deviceID string, start, end time.Time) ([]byte, error) {
	if idx := strings.LastIndex(deviceID, "/"); idx >= 0 {
		deviceID = deviceID[idx+1:]
	}
	if deviceID == "" {
		return nil, fmt.Errorf("nest: empty device id for clip fetch")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("nest: invalid clip range %s..%s", start, end)
	}

	q := url.Values{}
	q.Set("start_time", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("end_time", strconv.FormatInt(end.UnixMilli(), 10))

	u := c.baseURL + fmt.Sprintf(clipPathTemplate, url.PathEscape(deviceID)) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("nest: build clip request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nest: fetch clip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nest: clip fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxClipBytes+1))
	if err != nil {
		return nil, fmt.Errorf("nest: read clip body: %w", err)
	}
	if len(data) > maxClipBytes {
		return nil, fmt.Errorf("nest: clip exceeds %d byte limit", maxClipBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("nest: empty clip body")
	}

	metrics.ClipFetchBytes.Add(float64(len(data)))
	return data, nil
}
