// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package supervisor builds the suture tree that keeps the pipeline's
// long-running services alive. A crashed source adapter restarts with
// backoff without taking down delivery, and vice versa.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64

	// FailureBackoff is the duration to wait when the threshold is exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's documented defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the supervision hierarchy, organized into three layers:
//   - store: dedup store maintenance (prune loop)
//   - sources: poll and push adapters
//   - pipeline: correlator and delivery pool
//
// The layering isolates failures: a flapping Pub/Sub connection restarts
// inside the sources layer while delivery keeps draining its queue.
type Tree struct {
	root     *suture.Supervisor
	store    *suture.Supervisor
	sources  *suture.Supervisor
	pipeline *suture.Supervisor
	config   TreeConfig
}

// NewTree creates the supervision tree. The slog logger receives suture's
// lifecycle events; the caller bridges it to the main log output.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("clipherd", rootSpec)
	store := suture.New("store-layer", childSpec)
	sources := suture.New("sources-layer", childSpec)
	pipeline := suture.New("pipeline-layer", childSpec)

	root.Add(store)
	root.Add(pipeline)
	root.Add(sources)

	return &Tree{
		root:     root,
		store:    store,
		sources:  sources,
		pipeline: pipeline,
		config:   config,
	}
}

// AddStoreService adds a service to the store layer (prune loop).
func (t *Tree) AddStoreService(svc suture.Service) suture.ServiceToken {
	return t.store.Add(svc)
}

// AddSourceService adds a source adapter to the sources layer.
func (t *Tree) AddSourceService(svc suture.Service) suture.ServiceToken {
	return t.sources.Add(svc)
}

// AddPipelineService adds the correlator or delivery pool.
func (t *Tree) AddPipelineService(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

// Serve runs the tree until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel yields the
// terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
