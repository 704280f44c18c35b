// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import (
	"context"
	"errors"
	"log/slog"
)

// Reconciler opportunistically flushes the pending-write queue to the
// network. It runs when connectivity resumes or on a manual "retry sync"
// action; it never retries a failed item within the same pass.
type Reconciler struct {
	store   LocalStore
	gateway *Gateway
	cache   *Cache
	logger  *slog.Logger
	metrics Collector
}

// NewReconciler wires a reconciler over the same store and gateway as the
// cache. The cache reference is used to refresh records from authoritative
// server responses and to broadcast invalidations for confirmed writes.
func NewReconciler(store LocalStore, gateway *Gateway, cache *Cache, logger *slog.Logger, metrics Collector) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = Noop()
	}
	return &Reconciler{
		store:   store,
		gateway: gateway,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// Reconcile replays the queue snapshot taken at call time, in enqueue order,
// one network attempt per item. Successes are removed from the queue
// immediately so a crash mid-pass loses no confirmed progress; failures stay
// queued for the next pass and are tallied, never thrown. Items enqueued
// while the pass runs are not part of this snapshot.
//
// When an item fails, later items for the same target are skipped (and
// counted failed) in this pass: replaying a later delta before an earlier
// one would reorder the per-target history.
func (r *Reconciler) Reconcile(ctx context.Context) (Summary, error) {
	items, err := r.store.PendingWrites(ctx)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	failedTargets := make(map[string]bool)

	for _, item := range items {
		if failedTargets[item.TargetID] {
			sum.Failed++
			continue
		}

		var refreshed Payload
		var opErr error
		switch item.Op {
		case OpDelete:
			opErr = r.gateway.DeleteRemote(ctx, item.TargetID)
			var notFound *NotFoundError
			if errors.As(opErr, &notFound) {
				// Already deleted server-side: the intent is satisfied.
				opErr = nil
			}
		default:
			refreshed, opErr = r.gateway.UpdateRemote(ctx, item.TargetID, item.Data)
		}

		if opErr != nil {
			sum.Failed++
			failedTargets[item.TargetID] = true
			r.logger.Debug("pending write failed, keeping queued",
				"item", item.ID, "target", item.TargetID, "op", item.Op, "error", opErr)
			continue
		}

		if err := r.store.RemovePending(ctx, item.ID); err != nil {
			// The write reached the server; a re-send on the next pass is
			// tolerable, losing it would not be.
			r.logger.Error("failed to remove confirmed pending write",
				"item", item.ID, "error", err)
		}
		if refreshed != nil {
			// Server state is now authoritative for this entity.
			r.cache.writeThrough(ctx, item.TargetID, refreshed)
		}
		r.cache.hub.broadcast(item.TargetID)
		sum.Succeeded++
	}

	r.metrics.ObserveReconcile(sum)
	r.cache.refreshQueueDepth(ctx)
	if sum.Succeeded > 0 || sum.Failed > 0 {
		r.logger.Info("reconciliation pass finished",
			"succeeded", sum.Succeeded, "failed", sum.Failed)
	}
	return sum, nil
}
