// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pistenotes/go-commsync/commsync"
)

// EnsureDeviceID returns the persisted device id for the signed-in user,
// generating and storing a fresh UUIDv4 on first use. The device id is what
// the auth token carries so the server can distinguish this client's own
// writes from those of other devices.
func (s *Store) EnsureDeviceID(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", &commsync.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if _, err := s.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _offline_client_info (
			user_id   TEXT PRIMARY KEY,
			device_id TEXT NOT NULL
		)
	`); err != nil {
		return "", &commsync.StorageError{Op: "ensure_device_id", Err: err}
	}

	var deviceID string
	err := s.DB.QueryRowContext(ctx,
		`SELECT device_id FROM _offline_client_info WHERE user_id = ?`, userID).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		deviceID = uuid.New().String()
		if _, err := s.DB.ExecContext(ctx, `
			INSERT INTO _offline_client_info (user_id, device_id) VALUES (?, ?)
		`, userID, deviceID); err != nil {
			return "", &commsync.StorageError{Op: "ensure_device_id", Err: fmt.Errorf("failed to insert client info: %w", err)}
		}
		return deviceID, nil
	}
	if err != nil {
		return "", &commsync.StorageError{Op: "ensure_device_id", Err: fmt.Errorf("failed to query client info: %w", err)}
	}
	return deviceID, nil
}
