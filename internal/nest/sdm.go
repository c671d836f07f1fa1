// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package nest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/clipherd/internal/logging"
	"github.com/tomtom215/clipherd/internal/registry"
)

// DefaultSDMBase is the Smart Device Management API root.
const DefaultSDMBase = "https://smartdevicemanagement.googleapis.com/v1"

// cameraTypes are the SDM device types that produce clips. Thermostats and
// displays in the same project are ignored.
var cameraTypes = map[string]bool{
	"sdm.devices.types.CAMERA":   true,
	"sdm.devices.types.DOORBELL": true,
	"sdm.devices.types.DISPLAY":  false,
}

// SDMClient lists camera devices for one Device Access project.
type SDMClient struct {
	httpClient *http.Client
	baseURL    string
	projectID  string
}

// NewSDMClient creates a device-listing client. httpClient must attach
// OAuth credentials (see NewOAuthClient).
func NewSDMClient(httpClient *http.Client, baseURL, projectID string) *SDMClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultSDMBase
	}
	return &SDMClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		projectID:  projectID,
	}
}

type sdmDevice struct {
	Name   string                     `json:"name"`
	Type   string                     `json:"type"`
	Traits map[string]json.RawMessage `json:"traits"`
}

type sdmDeviceList struct {
	Devices []sdmDevice `json:"devices"`
}

type sdmInfoTrait struct {
	CustomName string `json:"customName"`
}

// ListDevices enumerates camera devices in the project. It satisfies
// registry.Lister: the native id is the full SDM resource path, the
// display name comes from the Info trait's customName.
func (c *SDMClient) ListDevices(ctx context.Context) ([]registry.Entry, error) {
	url := fmt.Sprintf("%s/enterprises/%s/devices", c.baseURL, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("nest: build device list request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nest: list devices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nest: list devices returned status %d", resp.StatusCode)
	}

	var list sdmDeviceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("nest: decode device list: %w", err)
	}

	entries := make([]registry.Entry, 0, len(list.Devices))
	for _, d := range list.Devices {
		if !cameraTypes[d.Type] {
			continue
		}
		name := displayName(d)
		entries = append(entries, registry.Entry{
			NativeID: d.Name,
			Device: registry.Device{
				ID:          d.Name,
				DisplayName: name,
			},
		})
		logging.Debug().
			Str("device", d.Name).
			Str("type", d.Type).
			Str("display_name", name).
			Msg("sdm device discovered")
	}
	return entries, nil
}

func displayName(d sdmDevice) string {
	raw, ok := d.Traits["sdm.devices.traits.Info"]
	if !ok {
		return ""
	}
	var info sdmInfoTrait
	if err := json.Unmarshal(raw, &info); err != nil {
		return ""
	}
	return info.CustomName
}
