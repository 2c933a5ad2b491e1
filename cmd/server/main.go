// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Evertrail ingests domain events from a NATS JetStream bus, classifies
// them into an immutable tiered audit trail and serves the trail's read
// API.
//
// Configuration is layered: struct defaults, an optional YAML file
// (CONFIG_PATH or ./config.yaml), then EVERTRAIL_-prefixed environment
// variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"

	"github.com/evertrail/evertrail/internal/api"
	"github.com/evertrail/evertrail/internal/archive"
	"github.com/evertrail/evertrail/internal/audit"
	"github.com/evertrail/evertrail/internal/bus"
	"github.com/evertrail/evertrail/internal/classify"
	"github.com/evertrail/evertrail/internal/collector"
	"github.com/evertrail/evertrail/internal/config"
	"github.com/evertrail/evertrail/internal/logging"
	"github.com/evertrail/evertrail/internal/query"
	"github.com/evertrail/evertrail/internal/retention"
	"github.com/evertrail/evertrail/internal/supervisor"
	"github.com/evertrail/evertrail/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Storage.Path).
		Str("bus_url", cfg.Bus.URL).
		Bool("embedded_bus", cfg.Bus.EmbeddedServer).
		Msg("Starting Evertrail")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Trail storage: DuckDB hot/warm tiers.
	db, err := audit.OpenDuckDB(audit.DuckDBConfig{
		Path:      cfg.Storage.Path,
		MaxMemory: cfg.Storage.MaxMemory,
		Threads:   cfg.Storage.Threads,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open trail database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing trail database")
		}
	}()

	store := audit.NewDuckDBStore(db)
	if err := store.CreateTables(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to create trail tables")
	}

	// Optional cold archive for the terminal tier.
	var archiver audit.Archiver
	var coldArchive *archive.ColdArchive
	if cfg.Archive.Enabled {
		cold, err := archive.Open(archive.Config{
			Path:       cfg.Archive.Path,
			SyncWrites: cfg.Archive.SyncWrites,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open cold archive")
		}
		defer func() {
			if err := cold.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing cold archive")
			}
		}()
		archiver = cold
		coldArchive = cold
	} else {
		logging.Info().Msg("Cold archive disabled, WARM is the terminal tier")
	}

	engine := classify.NewEngine()
	repo := audit.NewRepository(store, engine, archiver)

	// Event bus: embedded JetStream server or external broker.
	natsURL := cfg.Bus.URL
	if cfg.Bus.EmbeddedServer {
		embedded, err := bus.NewEmbeddedServer(&bus.ServerConfig{
			Host:              "127.0.0.1",
			Port:              4222,
			StoreDir:          cfg.Bus.StoreDir,
			JetStreamMaxMem:   cfg.Bus.MaxMemory,
			JetStreamMaxStore: cfg.Bus.MaxStore,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
			}
		}()
		natsURL = embedded.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	streamCfg := bus.DefaultStreamConfig()
	streamCfg.Name = cfg.Bus.StreamName
	streamMgr, err := bus.NewStreamManager(nc, &streamCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stream manager")
	}
	if _, err := streamMgr.EnsureStream(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to ensure audit stream")
	}
	logging.Info().Str("stream", streamCfg.Name).Msg("Audit stream ready")

	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger())
	subCfg := bus.DefaultSubscriberConfig()
	subCfg.URL = natsURL
	subCfg.StreamName = cfg.Bus.StreamName
	subCfg.DurableName = cfg.Bus.DurableName
	subCfg.QueueGroup = cfg.Bus.QueueGroup
	subCfg.AckWaitTimeout = cfg.Bus.AckWaitTimeout
	subCfg.MaxDeliver = cfg.Bus.MaxDeliver

	subscriber, err := bus.NewSubscriber(subCfg, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create bus subscriber")
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing bus subscriber")
		}
	}()

	// Collector: batching, classification and breaker-guarded persistence.
	collectorCfg := collector.DefaultConfig()
	collectorCfg.BatchSize = cfg.Collector.BatchSize
	collectorCfg.FlushInterval = cfg.Collector.FlushInterval
	collectorCfg.FlushTimeout = cfg.Collector.FlushTimeout
	collectorCfg.BreakerMaxFailures = cfg.Collector.BreakerMaxFailures
	collectorCfg.BreakerResetTimeout = cfg.Collector.BreakerResetTimeout

	col, err := collector.New(collectorCfg, subscriber, repo)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create collector")
	}

	// Supervision tree: pipeline layer and api layer.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddPipelineService(services.NewCollectorService(col))

	if cfg.Retention.Enabled {
		sweeper := retention.NewSweeper(repo, retention.Config{
			SweepInterval:       cfg.Retention.SweepInterval,
			MigrationsPerSecond: cfg.Retention.MigrationsPerSecond,
			BatchLimit:          cfg.Retention.SweepBatchLimit,
		})
		tree.AddPipelineService(sweeper)
	}

	if coldArchive != nil {
		tree.AddPipelineService(services.NewArchiveGCService(coldArchive, cfg.Archive.GCInterval))
	}

	handler := api.NewHandler(repo, query.NewService(repo), col)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

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

	stats := col.Stats()
	logging.Info().
		Int64("events_collected", stats.EventsCollected).
		Int64("events_persisted", stats.EventsPersisted).
		Int64("events_dropped", stats.EventsDropped).
		Int64("batches_flushed", stats.BatchesFlushed).
		Msg("Final collector statistics")

	logging.Info().Msg("Evertrail stopped gracefully")
}
