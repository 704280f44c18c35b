// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"fmt"

	"github.com/pistenotes/go-commsync/commsync"
)

// Enqueue appends a pending write to the queue. Items are never mutated in
// place; a failed reconciliation leaves the item untouched for the next pass.
func (s *Store) Enqueue(ctx context.Context, item commsync.PendingWrite) error {
	if item.ID == "" {
		return &commsync.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if item.TargetID == "" {
		return &commsync.ValidationError{Field: "target_id", Reason: "must not be empty"}
	}
	switch item.Op {
	case commsync.OpInsert, commsync.OpUpdate, commsync.OpDelete:
	default:
		return &commsync.ValidationError{Field: "op", Reason: fmt.Sprintf("unknown operation %q", item.Op)}
	}

	var data any
	if item.Data != nil {
		raw, err := commsync.MarshalPayload(item.Data)
		if err != nil {
			return &commsync.StorageError{Op: "enqueue", Err: fmt.Errorf("failed to serialize delta: %w", err)}
		}
		data = string(raw)
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO _offline_pending (id, target_id, op, data, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, item.ID, item.TargetID, item.Op, data, formatTime(item.EnqueuedAt))
	if err != nil {
		return &commsync.StorageError{Op: "enqueue", Err: err}
	}
	return nil
}

// PendingWrites returns the queue in enqueue order. Per-target FIFO order
// follows from the global insertion order.
func (s *Store) PendingWrites(ctx context.Context) ([]commsync.PendingWrite, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, target_id, op, data, enqueued_at
		FROM _offline_pending ORDER BY seq
	`)
	if err != nil {
		return nil, &commsync.StorageError{Op: "pending_writes", Err: err}
	}
	defer rows.Close()

	var out []commsync.PendingWrite
	for rows.Next() {
		var item commsync.PendingWrite
		var data *string
		var enqueuedAt string
		if err := rows.Scan(&item.ID, &item.TargetID, &item.Op, &data, &enqueuedAt); err != nil {
			return nil, &commsync.StorageError{Op: "pending_writes", Err: err}
		}
		if data != nil {
			p, err := commsync.UnmarshalPayload([]byte(*data))
			if err != nil {
				return nil, &commsync.StorageError{Op: "pending_writes", Err: fmt.Errorf("failed to deserialize delta: %w", err)}
			}
			item.Data = p
		}
		if item.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
			return nil, &commsync.StorageError{Op: "pending_writes", Err: err}
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &commsync.StorageError{Op: "pending_writes", Err: err}
	}
	return out, nil
}

// RemovePending removes one confirmed queue item; removing an absent id is
// not an error.
func (s *Store) RemovePending(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM _offline_pending WHERE id = ?`, id); err != nil {
		return &commsync.StorageError{Op: "remove_pending", Err: err}
	}
	return nil
}

// PendingCount reports the queue length.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM _offline_pending`).Scan(&n); err != nil {
		return 0, &commsync.StorageError{Op: "pending_count", Err: err}
	}
	return n, nil
}
