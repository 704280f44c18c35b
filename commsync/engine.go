// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import (
	"context"
	"log/slog"
	"time"
)

// Engine is the UI-facing facade over the offline-first sync core. It wires
// the local store, network gateway, connectivity monitor, annotation cache
// and reconciler together and owns the background reconcile-on-reconnect
// loop.
type Engine struct {
	store      LocalStore
	gateway    *Gateway
	monitor    *Monitor
	cache      *Cache
	reconciler *Reconciler
	config     *Config
	logger     *slog.Logger
	metrics    Collector
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithLogger sets the structured logger used by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the telemetry collector used by all components.
func WithMetrics(metrics Collector) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// NewEngine assembles the sync engine. Expired records are purged once at
// initialization; a store failure there is logged and the engine continues
// without offline capability rather than failing, since the local store is
// an optimization, not the source of truth.
func NewEngine(ctx context.Context, store LocalStore, gateway *Gateway, monitor *Monitor, config *Config, opts ...Option) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	e := &Engine{
		store:   store,
		gateway: gateway,
		monitor: monitor,
		config:  config,
		logger:  slog.Default(),
		metrics: Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	gateway.logger = e.logger
	gateway.metrics = e.metrics
	gateway.Timeout = config.RequestTimeout

	e.cache = NewCache(store, gateway, monitor, config, e.logger, e.metrics)
	e.reconciler = NewReconciler(store, gateway, e.cache, e.logger, e.metrics)

	if n, err := store.PurgeExpired(ctx); err != nil {
		e.logger.Error("failed to purge expired records at startup", "error", err)
	} else if n > 0 {
		e.logger.Info("purged expired records", "count", n)
	}
	e.cache.refreshQueueDepth(ctx)

	return e, nil
}

// Start launches the background loop that reconciles the pending queue
// whenever connectivity returns. It returns immediately; cancel the context
// to stop the loop.
func (e *Engine) Start(ctx context.Context) {
	go e.reconnectLoop(ctx)
}

func (e *Engine) reconnectLoop(ctx context.Context) {
	transitions, cancel := e.monitor.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-transitions:
			// Transitions may coalesce in the subscription buffer, so the
			// monitor is re-checked instead of trusting the channel value.
			if e.monitor.Offline() {
				continue
			}
			e.drainWithBackoff(ctx)
		}
	}
}

// drainWithBackoff retries reconciliation with exponential backoff until the
// queue drains, connectivity drops again, or a pass makes no progress (a
// stuck item waits for the next online transition or a manual retry).
func (e *Engine) drainWithBackoff(ctx context.Context) {
	backoff := e.config.BackoffMin
	for {
		if ctx.Err() != nil || e.monitor.Offline() {
			return
		}
		sum, err := e.reconciler.Reconcile(ctx)
		if err == nil && sum.Failed == 0 {
			return
		}
		if err == nil && sum.Succeeded == 0 {
			e.logger.Warn("reconciliation made no progress, deferring retries",
				"failed", sum.Failed)
			return
		}
		if err != nil {
			e.logger.Error("reconciliation pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > e.config.BackoffMax {
			backoff = e.config.BackoffMax
		}
	}
}

// FetchEntity returns the current view of one entity, or nil when unknown.
// It never returns an error for a missing entity.
func (e *Engine) FetchEntity(ctx context.Context, id string) (Payload, error) {
	return e.cache.FetchEntity(ctx, id)
}

// UpdateEntity applies a partial update, optimistically when the network is
// unavailable. See Cache.UpdateEntity for the full contract.
func (e *Engine) UpdateEntity(ctx context.Context, id string, delta Payload) (Payload, error) {
	return e.cache.UpdateEntity(ctx, id, delta)
}

// DeleteEntity removes one entity, queueing the delete when offline.
func (e *Engine) DeleteEntity(ctx context.Context, id string) error {
	return e.cache.DeleteEntity(ctx, id)
}

// FetchEventPackage returns a bundled event snapshot by event id.
func (e *Engine) FetchEventPackage(ctx context.Context, eventID string) (Payload, error) {
	return e.cache.FetchEventPackage(ctx, eventID)
}

// SaveEventPackage caches a bundled event snapshot for offline use.
func (e *Engine) SaveEventPackage(ctx context.Context, eventID string, pkg Payload) error {
	return e.cache.SaveEventPackage(ctx, eventID, pkg)
}

// BulkImport submits a batch of entity payloads with the extended bulk
// timeout.
func (e *Engine) BulkImport(ctx context.Context, rows []Payload) (*BulkImportResult, error) {
	return e.gateway.BulkImport(ctx, rows, e.config.BulkTimeout)
}

// Reconcile runs one manual reconciliation pass over the pending queue.
func (e *Engine) Reconcile(ctx context.Context) (Summary, error) {
	return e.reconciler.Reconcile(ctx)
}

// Offline reports the monitor's current connectivity state.
func (e *Engine) Offline() bool {
	return e.monitor.Offline()
}

// StorageStats aggregates the local store contents for UI display,
// including the pending queue length used for sync-pending indicators.
func (e *Engine) StorageStats(ctx context.Context) (Stats, error) {
	return e.store.Stats(ctx)
}

// ClearOfflineData removes all cached records and pending writes. This
// backs the explicit "forget all offline data" user action.
func (e *Engine) ClearOfflineData(ctx context.Context) error {
	err := e.store.Clear(ctx)
	e.cache.refreshQueueDepth(ctx)
	return err
}

// Subscribe returns a channel of cache-invalidation signals broadcast after
// every successful write.
func (e *Engine) Subscribe() (<-chan Invalidation, func()) {
	return e.cache.Subscribe()
}
