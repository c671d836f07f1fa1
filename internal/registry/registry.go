// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package registry maps the device identifiers used by the two upstream
// feeds onto one canonical camera. The metadata feed and the clip feed name
// the same physical camera differently; the correlator can only match events
// across feeds after both ids resolve to the same canonical device.
//
// The registry is populated once at startup from the upstream device listing
// and is read-mostly afterwards.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tomtom215/clipherd/internal/logging"
)

// Device is one canonical camera.
type Device struct {
	// ID is the canonical identifier the pipeline uses everywhere.
	ID string

	// DisplayName is the human-readable name for captions.
	DisplayName string
}

// Entry is one upstream listing row: a native id in some feed's namespace
// plus the canonical device it belongs to.
type Entry struct {
	NativeID string
	Device   Device
}

// Lister enumerates cameras from an upstream namespace. Both the SDM client
// and the Home API client satisfy this at startup.
type Lister interface {
	ListDevices(ctx context.Context) ([]Entry, error)
}

// Registry resolves native device ids from either feed to a canonical
// Device.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]Device
	devices []Device
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]Device)}
}

// Populate loads entries from each lister in turn. A lister that fails is
// logged and skipped: the pipeline degrades to whatever namespaces resolved,
// it does not refuse to start.
func (r *Registry) Populate(ctx context.Context, listers ...Lister) error {
	total := 0
	for _, l := range listers {
		entries, err := l.ListDevices(ctx)
		if err != nil {
			logging.Warn().Err(err).Msg("registry: device listing failed, continuing without it")
			continue
		}
		for _, e := range entries {
			r.add(e)
			total++
		}
	}
	if total == 0 {
		return fmt.Errorf("registry: no devices resolved from any source")
	}

	logging.Info().Int("devices", len(r.Devices())).Int("native_ids", total).Msg("registry populated")
	return nil
}

func (r *Registry) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalize(e.NativeID)
	if key == "" {
		return
	}
	if _, seen := r.byID[normalize(e.Device.ID)]; !seen {
		r.devices = append(r.devices, e.Device)
	}
	r.byID[key] = e.Device
	// The canonical id always resolves to itself.
	r.byID[normalize(e.Device.ID)] = e.Device
}

// AddAlias binds another native id to an already-registered device. Used
// for operator-configured mappings (a Home-namespace id onto its SDM
// device) that no lister can discover.
func (r *Registry) AddAlias(nativeID, canonicalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[normalize(canonicalID)]
	if !ok {
		return fmt.Errorf("registry: alias target %q is not a known device", canonicalID)
	}
	key := normalize(nativeID)
	if key == "" {
		return fmt.Errorf("registry: empty alias id")
	}
	r.byID[key] = d
	return nil
}

// Resolve maps a native id from either feed to its canonical device.
func (r *Registry) Resolve(nativeID string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[normalize(nativeID)]
	return d, ok
}

// Devices returns all known canonical devices.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// normalize strips resource-path prefixes so that
// "enterprises/proj/devices/DEVICE_X" and "DEVICE_X" are the same key.
func normalize(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return strings.TrimSpace(id)
}
