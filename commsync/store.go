// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import "context"

// LocalStore is the durable key-value store the cache writes through to.
// Implementations must treat expired records as absent on reads, preserve
// enqueue order for pending writes, and wrap their failures in StorageError
// so callers can degrade gracefully instead of crashing.
//
// The production implementation lives in the offstore package; tests use an
// in-memory fake behind the same contract.
type LocalStore interface {
	// Put upserts a record by id. The only validation is a non-empty id;
	// any prior record with the same id is overwritten.
	Put(ctx context.Context, rec Record) error

	// Get returns the record for id, or nil if it is absent or expired.
	Get(ctx context.Context, id string) (*Record, error)

	// GetAll returns all currently valid records in unspecified order.
	GetAll(ctx context.Context) ([]Record, error)

	// Delete removes a record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// PurgeExpired physically removes expired records and reports how many.
	PurgeExpired(ctx context.Context) (int, error)

	// Clear removes every record and pending write ("forget all offline data").
	Clear(ctx context.Context) error

	// Stats aggregates store contents for UI display.
	Stats(ctx context.Context) (Stats, error)

	// Enqueue appends a pending write to the queue.
	Enqueue(ctx context.Context, item PendingWrite) error

	// PendingWrites returns the queue in enqueue order (FIFO per target).
	PendingWrites(ctx context.Context) ([]PendingWrite, error)

	// RemovePending removes one queue item by its id.
	RemovePending(ctx context.Context, id string) error

	// PendingCount reports the queue length.
	PendingCount(ctx context.Context) (int, error)
}
