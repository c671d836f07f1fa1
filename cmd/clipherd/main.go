// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

// Package main is the entry point for the Clipherd daemon.
//
// Clipherd watches Google Home / Nest cameras and forwards each detected
// event to a Telegram channel as a video clip with a labeled caption. Two
// independent sources feed one pipeline: a poller reads the Home timeline
// for labeled metadata events, and a Pub/Sub subscriber receives clip-ready
// notifications. The correlator merges the two streams into composite
// events, and the delivery pool sends each composite exactly once, backed
// by a durable BadgerDB dedup store.
//
// # Application Architecture
//
// Startup proceeds in the following order:
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, env vars)
//  2. OAuth: refresh-token client shared by the SDM, timeline, and clip APIs
//  3. Device registry: SDM device listing plus operator-supplied aliases
//  4. Dedup store: BadgerDB at STORE_PATH with a retention prune loop
//  5. Pipeline: ingestion bus, correlator, Telegram delivery pool
//  6. Sources: poll and/or push adapters, per POLL_ENABLED / PUSH_ENABLED
//  7. Supervisor: suture tree (store, pipeline, sources layers)
//
// # Configuration
//
// Either source can run alone. The poll adapter needs OAuth credentials
// (SDM_CLIENT_ID, SDM_CLIENT_SECRET, SDM_REFRESH_TOKEN) and the
// google.device_aliases table in the config file mapping Home-namespace
// device ids to SDM device ids (aliases have no env form; use config.yaml).
// The push adapter needs SDM_PUBSUB_TOPIC (the SDM topic,
// projects/P/topics/T) and CLOUD_PROJECT (the GCP project that owns the
// subscription). Telegram always needs TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHANNEL_ID.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: sources stop first, the
// correlator drains clip-bearing composites to the delivery pool, workers
// finish in-flight sends, and the store closes last.
//
// # Example Usage
//
// Push-only (clips without labels until a poll source is added):
//
//	export PUSH_ENABLED=true
//	export POLL_ENABLED=false
//	export SDM_PROJECT_ID=your-device-access-project
//	export CLOUD_PROJECT=your-gcp-project
//	export SDM_PUBSUB_TOPIC=projects/sdm-prod/topics/enterprise-...
//	export TELEGRAM_BOT_TOKEN=123456:ABC...
//	export TELEGRAM_CHANNEL_ID=@yourchannel
//	./clipherd
//
// Both sources, with labeled captions (device aliases in config.yaml):
//
//	export POLL_ENABLED=true
//	export PUSH_ENABLED=true
//	export SDM_CLIENT_ID=...
//	export SDM_CLIENT_SECRET=...
//	export SDM_REFRESH_TOKEN=...
//	./clipherd
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/clipherd/internal/config"
	"github.com/tomtom215/clipherd/internal/correlator"
	"github.com/tomtom215/clipherd/internal/dedup"
	"github.com/tomtom215/clipherd/internal/delivery"
	"github.com/tomtom215/clipherd/internal/homeapi"
	"github.com/tomtom215/clipherd/internal/logging"
	"github.com/tomtom215/clipherd/internal/nest"
	"github.com/tomtom215/clipherd/internal/notifier"
	"github.com/tomtom215/clipherd/internal/registry"
	"github.com/tomtom215/clipherd/internal/source"
	"github.com/tomtom215/clipherd/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config (and its logging section) never loaded.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Bool("poll", cfg.Sources.PollEnabled).
		Bool("push", cfg.Sources.PushEnabled).
		Str("store_path", cfg.Store.Path).
		Msg("Starting Clipherd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One OAuth client serves all three Google surfaces: SDM device listing,
	// the timeline RPC, and clip downloads.
	oauthClient := nest.NewOAuthClient(ctx, nest.Credentials{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RefreshToken: cfg.Google.RefreshToken,
	})

	reg := registry.New()
	if cfg.Sources.PollEnabled || len(cfg.Google.DeviceAliases) > 0 {
		sdm := nest.NewSDMClient(oauthClient, "", cfg.Google.ProjectID)
		if err := reg.Populate(ctx, sdm); err != nil {
			logging.Fatal().Err(err).Msg("Failed to list SDM devices")
		}
		logging.Info().Int("devices", len(reg.Devices())).Msg("Device registry populated")
	}

	// The timeline API speaks Home-namespace device ids, which the SDM
	// listing cannot discover. Operator-supplied aliases bridge the two
	// namespaces and define the poll targets.
	var targets []source.PollTarget
	for homeID, sdmID := range cfg.Google.DeviceAliases {
		if err := reg.AddAlias(homeID, sdmID); err != nil {
			logging.Warn().Err(err).Str("alias", homeID).Msg("Skipping device alias")
			continue
		}
		device, ok := reg.Resolve(homeID)
		if !ok {
			continue
		}
		targets = append(targets, source.PollTarget{HomeDeviceID: homeID, Device: device})
	}

	store, err := dedup.OpenBadger(dedup.Options{
		Path:       cfg.Store.Path,
		SyncWrites: cfg.Store.SyncWrites,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open dedup store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing dedup store")
		}
	}()

	bus := source.NewBus(cfg.Correlate.IngestBuffer)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ingestion bus")
		}
	}()

	corr := correlator.New(bus, reg, correlator.Options{
		Tolerance:        cfg.Correlate.Tolerance,
		ReadinessTimeout: cfg.Correlate.ReadinessTimeout,
		MaxLifetime:      cfg.Correlate.MaxLifetime,
		SweepInterval:    cfg.Correlate.SweepInterval,
		ReadyBuffer:      cfg.Correlate.ReadyBuffer,
	})

	telegram, err := notifier.NewTelegram(notifier.TelegramOptions{
		BotToken:       cfg.Telegram.BotToken,
		ChannelID:      cfg.Telegram.ChannelID,
		Timezone:       cfg.Telegram.Timezone,
		TimeFormat:     cfg.Telegram.TimeFormat,
		SendsPerMinute: cfg.Telegram.SendsPerMinute,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize Telegram notifier")
	}

	clips := nest.NewClipClient(oauthClient, "")
	pool := delivery.New(corr.Ready(), store, clips, telegram, reg, delivery.Options{
		Workers:          cfg.Delivery.Workers,
		RetryAttempts:    cfg.Delivery.RetryAttempts,
		RetryBackoff:     cfg.Delivery.RetryBackoff,
		ClipFetchTimeout: cfg.Delivery.ClipFetchTimeout,
		NotifyTimeout:    cfg.Delivery.NotifyTimeout,
		ForceResend:      cfg.Delivery.ForceResend,
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// Store layer
	tree.AddStoreService(dedup.NewPruneLoop(store, cfg.Store.Retention, cfg.Store.PruneInterval))

	// Pipeline layer
	tree.AddPipelineService(supervisor.NewRunnerService(corr))
	tree.AddPipelineService(supervisor.NewRunnerService(pool))

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		tree.AddPipelineService(supervisor.NewHTTPService(metricsServer, 10*time.Second))
		logging.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics endpoint enabled")
	}

	// Sources layer
	if cfg.Sources.PollEnabled {
		if len(targets) == 0 {
			logging.Warn().Msg("Poll adapter enabled but no device aliases resolved; nothing to poll")
		} else {
			timeline := homeapi.New(oauthClient, "")
			poll := source.NewPollAdapter(timeline, bus, targets,
				cfg.Sources.PollInterval, cfg.Sources.TrailingWindow)
			tree.AddSourceService(supervisor.NewRunnerService(poll))
			logging.Info().
				Int("targets", len(targets)).
				Dur("interval", cfg.Sources.PollInterval).
				Msg("Poll adapter added")
		}
	}
	if cfg.Sources.PushEnabled {
		push := source.NewPushAdapter(bus, source.PushOptions{
			ProjectID:       cfg.Google.CloudProject,
			TopicName:       cfg.Google.PubSubTopic,
			SubscriptionID:  cfg.Google.PubSubSubscription,
			CredentialsFile: cfg.Google.ServiceAccountFile,
		})
		tree.AddSourceService(supervisor.NewRunnerService(push))
		logging.Info().Str("topic", cfg.Google.PubSubTopic).Msg("Push adapter added")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Clipherd stopped gracefully")
}
