// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package metrics exposes Prometheus collectors for the pipeline. Collectors
// are registered with the default registry via promauto at package init; the
// main binary serves them on the configured metrics address.
package metrics
