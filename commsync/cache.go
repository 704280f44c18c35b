// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// EventPackagePrefix namespaces composite ids under which bundled event
// snapshots (roster + rankings + annotations) are cached.
const EventPackagePrefix = "event:"

// Cache presents a single read/write interface over commentator info that
// works identically online and offline: it prefers live data but never
// blocks on network unavailability. Reads fall back to the local store,
// writes fall back to an optimistic local merge plus a queued delta.
type Cache struct {
	store   LocalStore
	gateway *Gateway
	monitor *Monitor
	config  *Config
	logger  *slog.Logger
	metrics Collector
	hub     *invalidationHub
	now     func() time.Time
}

// NewCache wires a cache over the given store, gateway and connectivity
// monitor. A nil config uses DefaultConfig.
func NewCache(store LocalStore, gateway *Gateway, monitor *Monitor, config *Config, logger *slog.Logger, metrics Collector) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = Noop()
	}
	return &Cache{
		store:   store,
		gateway: gateway,
		monitor: monitor,
		config:  config,
		logger:  logger,
		metrics: metrics,
		hub:     newInvalidationHub(),
		now:     time.Now,
	}
}

// fetchSource identifies which layer satisfied a read.
type fetchSource int

const (
	fetchMiss fetchSource = iota
	fetchNetwork
	fetchCache
)

// fetchResult makes the read fallback chain observable instead of silently
// swallowing errors: when a network read fails and the cache answers, the
// network error travels alongside the payload for logging.
type fetchResult struct {
	payload Payload
	source  fetchSource
	netErr  error
}

// FetchEntity returns the current view of one entity, or nil when it is
// unknown both remotely and locally. Missing entities are not errors;
// an error here means malformed input, which is a caller bug.
func (c *Cache) FetchEntity(ctx context.Context, id string) (Payload, error) {
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	res := c.fetch(ctx, id)
	if res.netErr != nil && res.source == fetchCache {
		c.logger.Debug("served stale entity from cache after network failure",
			"id", id, "error", res.netErr)
	}
	return res.payload, nil
}

func (c *Cache) fetch(ctx context.Context, id string) fetchResult {
	var netErr error
	if !c.monitor.Offline() {
		payload, err := c.gateway.FetchRemote(ctx, id)
		if err == nil {
			if payload != nil {
				c.writeThrough(ctx, id, payload)
			}
			return fetchResult{payload: payload, source: fetchNetwork}
		}
		// Read failures never surface while a cache fallback exists.
		netErr = err
		c.metrics.IncCacheFallback(fallbackReason(err))
		c.logger.Warn("network read failed, falling back to cache", "id", id, "error", err)
	} else {
		c.metrics.IncCacheFallback("offline")
	}

	rec, err := c.store.Get(ctx, id)
	if err != nil {
		// Local store failure degrades to network-only mode.
		c.logger.Error("local store read failed", "id", id, "error", err)
		return fetchResult{source: fetchMiss, netErr: netErr}
	}
	if rec != nil {
		return fetchResult{payload: rec.Payload, source: fetchCache, netErr: netErr}
	}
	return fetchResult{source: fetchMiss, netErr: netErr}
}

// writeThrough replaces the cached record with fresh network state.
func (c *Cache) writeThrough(ctx context.Context, id string, payload Payload) {
	now := c.now()
	createdAt := now
	if prev, err := c.store.Get(ctx, id); err == nil && prev != nil {
		createdAt = prev.CreatedAt
	}
	rec := Record{
		ID:        id,
		Payload:   payload.Clone(),
		CreatedAt: createdAt,
		UpdatedAt: now,
		ExpiresAt: now.Add(c.ttlFor(id)),
	}
	if err := c.store.Put(ctx, rec); err != nil {
		c.logger.Error("write-through to local store failed", "id", id, "error", err)
	}
}

func (c *Cache) ttlFor(id string) time.Duration {
	if len(id) > len(EventPackagePrefix) && id[:len(EventPackagePrefix)] == EventPackagePrefix {
		return c.config.PackageTTL
	}
	return c.config.RecordTTL
}

// UpdateEntity applies a partial update. Online, the network is attempted
// first and the authoritative response lands in the store. Auth failures
// (401/403) re-raise immediately: queueing them would fake pending success
// for a write that can never be retried into acceptance. Any other failure
// merges the delta locally, queues the raw delta for reconciliation and
// returns the optimistic view.
func (c *Cache) UpdateEntity(ctx context.Context, id string, delta Payload) (Payload, error) {
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if delta == nil {
		return nil, &ValidationError{Field: "delta", Reason: "must not be nil"}
	}

	if !c.monitor.Offline() {
		authoritative, err := c.gateway.UpdateRemote(ctx, id, delta)
		if err == nil {
			if authoritative == nil {
				authoritative = delta.Clone()
			}
			c.writeThrough(ctx, id, authoritative)
			c.hub.broadcast(id)
			return authoritative, nil
		}
		if IsAuth(err) {
			return nil, err
		}
		c.logger.Warn("network update failed, queueing offline", "id", id, "error", err)
	}

	return c.applyOffline(ctx, id, delta)
}

// applyOffline merges the delta over the cached record, persists the merged
// view and enqueues the raw delta. Replaying deltas rather than snapshots
// avoids clobbering concurrent server-side changes on reconciliation.
func (c *Cache) applyOffline(ctx context.Context, id string, delta Payload) (Payload, error) {
	now := c.now()

	prev, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached record for offline update: %w", err)
	}

	var base Payload
	createdAt := now
	op := OpInsert
	if prev != nil {
		base = prev.Payload
		createdAt = prev.CreatedAt
		op = OpUpdate
	}
	merged := MergeDelta(base, delta)

	rec := Record{
		ID:        id,
		Payload:   merged,
		CreatedAt: createdAt,
		UpdatedAt: now,
		ExpiresAt: now.Add(c.ttlFor(id)),
	}
	if err := c.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist offline update: %w", err)
	}

	item := PendingWrite{
		ID:         fmt.Sprintf("%s:%d", id, now.UnixNano()),
		TargetID:   id,
		Op:         op,
		Data:       delta.Clone(),
		EnqueuedAt: now,
	}
	if err := c.store.Enqueue(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue pending write: %w", err)
	}
	c.metrics.IncEnqueued(op)
	c.refreshQueueDepth(ctx)

	c.hub.broadcast(id)
	return merged, nil
}

// DeleteEntity removes one entity. The same online-first rules apply as for
// UpdateEntity; offline, the cached record is dropped and a DELETE is queued.
func (c *Cache) DeleteEntity(ctx context.Context, id string) error {
	if id == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}

	if !c.monitor.Offline() {
		err := c.gateway.DeleteRemote(ctx, id)
		var notFound *NotFoundError
		if err == nil || errors.As(err, &notFound) {
			// Already gone server-side counts as done.
			if derr := c.store.Delete(ctx, id); derr != nil {
				c.logger.Error("failed to drop cached record after delete", "id", id, "error", derr)
			}
			c.hub.broadcast(id)
			return nil
		}
		if IsAuth(err) {
			return err
		}
		c.logger.Warn("network delete failed, queueing offline", "id", id, "error", err)
	}

	now := c.now()
	if err := c.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to drop cached record: %w", err)
	}
	item := PendingWrite{
		ID:         fmt.Sprintf("%s:%d", id, now.UnixNano()),
		TargetID:   id,
		Op:         OpDelete,
		EnqueuedAt: now,
	}
	if err := c.store.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue pending delete: %w", err)
	}
	c.metrics.IncEnqueued(OpDelete)
	c.refreshQueueDepth(ctx)

	c.hub.broadcast(id)
	return nil
}

// FetchEventPackage returns a bundled event snapshot (roster, rankings and
// per-athlete annotations) by event id, using the same online-first read
// path as single entities but with the longer package TTL.
func (c *Cache) FetchEventPackage(ctx context.Context, eventID string) (Payload, error) {
	if eventID == "" {
		return nil, &ValidationError{Field: "eventID", Reason: "must not be empty"}
	}
	return c.FetchEntity(ctx, EventPackagePrefix+eventID)
}

// SaveEventPackage caches a bundled event snapshot locally for offline use.
// Packages are read-only snapshots; saving one never enqueues a write.
func (c *Cache) SaveEventPackage(ctx context.Context, eventID string, pkg Payload) error {
	if eventID == "" {
		return &ValidationError{Field: "eventID", Reason: "must not be empty"}
	}
	if pkg == nil {
		return &ValidationError{Field: "pkg", Reason: "must not be nil"}
	}
	id := EventPackagePrefix + eventID
	c.writeThrough(ctx, id, pkg)
	c.hub.broadcast(id)
	return nil
}

// Subscribe returns a channel of invalidation signals broadcast after every
// successful write, plus a cancel function.
func (c *Cache) Subscribe() (<-chan Invalidation, func()) {
	return c.hub.subscribe(0)
}

func (c *Cache) refreshQueueDepth(ctx context.Context) {
	if n, err := c.store.PendingCount(ctx); err == nil {
		c.metrics.SetQueueDepth(n)
	}
}

func fallbackReason(err error) string {
	switch {
	case IsTimeout(err):
		return "timeout"
	case IsAuth(err):
		return "auth"
	default:
		var notFound *NotFoundError
		var serverErr *ServerError
		switch {
		case errors.As(err, &notFound):
			return "not_found"
		case errors.As(err, &serverErr):
			return "server_error"
		default:
			return "network"
		}
	}
}
