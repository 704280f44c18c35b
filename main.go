// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

// Command go-commsync is a small demonstration client for the offline-first
// commentator-info sync engine. It wires the SQLite store, JWT token source,
// connectivity monitor and engine together, fetches the requested entities
// and prints the local storage stats. Prometheus metrics are exposed while
// it runs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pistenotes/go-commsync/auth"
	"github.com/pistenotes/go-commsync/commsync"
	"github.com/pistenotes/go-commsync/offstore"
)

func main() {
	var (
		apiURL      = flag.String("api", "http://localhost:8080", "base URL of the remote data API")
		dbPath      = flag.String("db", "commsync.db", "path to the local SQLite cache")
		userID      = flag.String("user", "demo-user", "signed-in user id")
		secret      = flag.String("secret", "dev-secret", "HS256 signing secret for dev tokens")
		metricsAddr = flag.String("metrics", "", "optional listen address for /metrics, e.g. :9090")
		offline     = flag.Bool("offline", false, "start in offline mode")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(context.Background(), *apiURL, *dbPath, *userID, *secret, *metricsAddr, *offline, flag.Args(), logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, apiURL, dbPath, userID, secret, metricsAddr string, offline bool, entityIDs []string, logger *slog.Logger) error {
	store, err := offstore.Open(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer store.Close()

	deviceID, err := store.EnsureDeviceID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve device id: %w", err)
	}

	tokens := auth.NewTokenSource(secret, userID, deviceID, time.Hour)
	monitor := commsync.NewMonitor(offline, logger)
	gateway := commsync.NewGateway(apiURL, tokens.Token, logger, nil)

	registry := prometheus.NewRegistry()
	metrics, err := commsync.NewPrometheusCollector(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	engine, err := commsync.NewEngine(ctx, store, gateway, monitor, nil,
		commsync.WithLogger(logger), commsync.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	engine.Start(ctx)

	for _, id := range entityIDs {
		payload, err := engine.FetchEntity(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", id, err)
		}
		if payload == nil {
			fmt.Printf("%s: not found\n", id)
			continue
		}
		pretty, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Printf("%s:\n%s\n", id, pretty)
	}

	if sum, err := engine.Reconcile(ctx); err == nil && (sum.Succeeded > 0 || sum.Failed > 0) {
		fmt.Printf("reconciled pending writes: %d succeeded, %d failed\n", sum.Succeeded, sum.Failed)
	}

	stats, err := engine.StorageStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read storage stats: %w", err)
	}
	fmt.Printf("offline cache: %d records (~%d bytes), %d pending writes\n",
		stats.Count, stats.TotalSizeEstimate, stats.PendingCount)
	return nil
}
