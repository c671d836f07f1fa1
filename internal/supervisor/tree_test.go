// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingRunner runs until cancelled, counting starts.
type blockingRunner struct {
	name   string
	starts atomic.Int32
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (r *blockingRunner) Name() string { return r.name }

// crashingRunner fails n times, then blocks.
type crashingRunner struct {
	name  string
	fails int32
	count atomic.Int32
}

func (r *crashingRunner) Run(ctx context.Context) error {
	if r.count.Add(1) <= r.fails {
		return errors.New("simulated crash")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *crashingRunner) Name() string { return r.name }

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 || cfg.FailureBackoff != 15*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{})

	r := &blockingRunner{name: "svc-a"}
	tree.AddPipelineService(NewRunnerService(r))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(3 * time.Second)
	for r.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("service never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeRestartsCrashedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(testLogger(), cfg)

	r := &crashingRunner{name: "svc-crashy", fails: 2}
	tree.AddSourceService(NewRunnerService(r))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(5 * time.Second)
	for r.count.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("restarts = %d, want >= 3", r.count.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-errCh
}

func TestRunnerServiceTreatsCancellationAsCleanStop(t *testing.T) {
	r := &blockingRunner{name: "svc"}
	svc := NewRunnerService(r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Serve(ctx); err != nil {
		t.Errorf("Serve on cancelled ctx = %v, want nil", err)
	}
	if svc.String() != "svc" {
		t.Errorf("String() = %q", svc.String())
	}
}
