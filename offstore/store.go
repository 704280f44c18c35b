// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

// Package offstore provides the SQLite-backed local store for the commsync
// engine: cached entity records with per-record expiry and the pending-write
// queue that survives page reloads and process restarts.
package offstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pistenotes/go-commsync/commsync"
)

// Stored timestamps are fixed-width UTC strings so lexicographic comparison
// in SQL matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000Z"

// Store is the durable key-value store behind the annotation cache. Every
// operation is atomic at the storage-engine level (single key
// read-modify-write); the design never needs multi-key transactions.
type Store struct {
	DB *sql.DB

	logger *slog.Logger
	now    func() time.Time
}

var _ commsync.LocalStore = (*Store)(nil)

// Open opens (creating if needed) a store at the given SQLite path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &commsync.StorageError{Op: "open", Err: err}
	}
	s, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing SQLite handle, creating the schema if needed.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{DB: db, logger: logger, now: time.Now}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	if _, err := s.DB.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return &commsync.StorageError{Op: "init", Err: fmt.Errorf("failed to enable WAL mode: %w", err)}
	}
	if _, err := s.DB.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return &commsync.StorageError{Op: "init", Err: fmt.Errorf("failed to enable foreign keys: %w", err)}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS _offline_records (
			id          TEXT PRIMARY KEY,
			payload     TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			expires_at  TEXT NOT NULL
		)`,

		// Secondary index on expiry supports the purge sweep.
		`CREATE INDEX IF NOT EXISTS idx_offline_records_expires_at
			ON _offline_records (expires_at)`,

		// Pending queue; seq preserves enqueue order (FIFO per target).
		`CREATE TABLE IF NOT EXISTS _offline_pending (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			target_id   TEXT NOT NULL,
			op          TEXT NOT NULL CHECK (op IN ('INSERT','UPDATE','DELETE')),
			data        TEXT,
			enqueued_at TEXT NOT NULL
		)`,
	}
	for _, table := range tables {
		if _, err := s.DB.Exec(table); err != nil {
			return &commsync.StorageError{Op: "init", Err: fmt.Errorf("failed to create store table: %w", err)}
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeFormat, v)
}

// Put upserts a record by id, overwriting any prior record. The record is
// persisted immediately; there is no batching.
func (s *Store) Put(ctx context.Context, rec commsync.Record) error {
	if rec.ID == "" {
		return &commsync.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	raw, err := commsync.MarshalPayload(rec.Payload)
	if err != nil {
		return &commsync.StorageError{Op: "put", Err: fmt.Errorf("failed to serialize payload: %w", err)}
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO _offline_records (id, payload, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, rec.ID, string(raw), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatTime(rec.ExpiresAt))
	if err != nil {
		return &commsync.StorageError{Op: "put", Err: err}
	}
	return nil
}

// Get returns the record for id, or nil when it is absent or expired.
// Expired records are treated as absent on read, not physically deleted;
// PurgeExpired removes them.
func (s *Store) Get(ctx context.Context, id string) (*commsync.Record, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, payload, created_at, updated_at, expires_at
		FROM _offline_records WHERE id = ?
	`, id)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &commsync.StorageError{Op: "get", Err: err}
	}
	if !rec.Valid(s.now()) {
		return nil, nil
	}
	return rec, nil
}

// GetAll returns all currently valid records; ordering is unspecified.
func (s *Store) GetAll(ctx context.Context) ([]commsync.Record, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, payload, created_at, updated_at, expires_at
		FROM _offline_records WHERE expires_at > ?
	`, formatTime(s.now()))
	if err != nil {
		return nil, &commsync.StorageError{Op: "get_all", Err: err}
	}
	defer rows.Close()

	var out []commsync.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, &commsync.StorageError{Op: "get_all", Err: err}
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &commsync.StorageError{Op: "get_all", Err: err}
	}
	return out, nil
}

func scanRecord(scan func(...any) error) (*commsync.Record, error) {
	var rec commsync.Record
	var payload, createdAt, updatedAt, expiresAt string
	if err := scan(&rec.ID, &payload, &createdAt, &updatedAt, &expiresAt); err != nil {
		return nil, err
	}
	p, err := commsync.UnmarshalPayload([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize payload: %w", err)
	}
	rec.Payload = p
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if rec.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	return &rec, nil
}

// Delete removes a record. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM _offline_records WHERE id = ?`, id); err != nil {
		return &commsync.StorageError{Op: "delete", Err: err}
	}
	return nil
}

// PurgeExpired physically removes all expired records via the expiry index
// and returns the number removed.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM _offline_records WHERE expires_at <= ?
	`, formatTime(s.now()))
	if err != nil {
		return 0, &commsync.StorageError{Op: "purge_expired", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &commsync.StorageError{Op: "purge_expired", Err: err}
	}
	return int(n), nil
}

// Clear removes all records and pending writes ("forget all offline data").
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM _offline_records`); err != nil {
		return &commsync.StorageError{Op: "clear", Err: err}
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM _offline_pending`); err != nil {
		return &commsync.StorageError{Op: "clear", Err: err}
	}
	return nil
}

// Stats aggregates the currently valid records. The size estimate sums
// serialized payload byte lengths, so it approximates rather than matches
// actual storage usage.
func (s *Store) Stats(ctx context.Context) (commsync.Stats, error) {
	var stats commsync.Stats
	var oldest, newest sql.NullString
	var size sql.NullInt64

	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0), MIN(created_at), MAX(updated_at)
		FROM _offline_records WHERE expires_at > ?
	`, formatTime(s.now())).Scan(&stats.Count, &size, &oldest, &newest)
	if err != nil {
		return commsync.Stats{}, &commsync.StorageError{Op: "stats", Err: err}
	}
	stats.TotalSizeEstimate = size.Int64

	if oldest.Valid {
		t, err := parseTime(oldest.String)
		if err != nil {
			return commsync.Stats{}, &commsync.StorageError{Op: "stats", Err: err}
		}
		stats.OldestTimestamp = &t
	}
	if newest.Valid {
		t, err := parseTime(newest.String)
		if err != nil {
			return commsync.Stats{}, &commsync.StorageError{Op: "stats", Err: err}
		}
		stats.NewestTimestamp = &t
	}

	pending, err := s.PendingCount(ctx)
	if err != nil {
		return commsync.Stats{}, err
	}
	stats.PendingCount = pending

	return stats, nil
}
