// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

/*
Package supervisor provides process supervision for Clipherd using suture v4.

The tree organizes the pipeline's long-running services into three layers
for failure isolation:

	Root ("clipherd")
	├── StoreSupervisor ("store-layer")
	│   └── dedup prune loop
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── correlator
	│   ├── delivery pool
	│   └── metrics HTTP endpoint
	└── SourcesSupervisor ("sources-layer")
	    ├── poll adapter (if enabled)
	    └── push adapter (if enabled)

A flapping Pub/Sub subscription restarts inside the sources layer with
exponential backoff while the correlator keeps working through whatever is
already on the bus; a crashed delivery worker pool restarts without
touching the dedup store's durable state.

Services implement the Runner shape (Run(ctx) error, Name() string) and are
wrapped via NewRunnerService; the metrics endpoint wraps *http.Server via
NewHTTPService. Suture lifecycle events flow through sutureslog into the
process log.
*/
package supervisor
