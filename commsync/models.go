// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import (
	"encoding/json"
	"time"
)

// Payload is the domain object as last known, field-keyed. Commentator info
// payloads carry free-form annotation fields (homebase, equipment, social
// media handles and so on); event packages bundle roster and ranking
// snapshots under a composite id.
type Payload map[string]any

// Record is one cached domain object owned by the local store. Consumers
// receive copies, never live references.
type Record struct {
	ID        string    `json:"id"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the record is still visible at the given instant.
// Expired records are treated as absent, not errors.
func (r *Record) Valid(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Write operations carried by the pending queue.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// PendingWrite is a write that could not reach the network immediately.
// It records the raw delta, not the merged snapshot, so that replaying it
// later does not clobber concurrent server-side changes.
type PendingWrite struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id"`
	Op         string    `json:"op"`
	Data       Payload   `json:"data,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Stats is an aggregate view of the local store for UI display. The size
// estimate is computed by serializing payloads and summing byte lengths,
// so it approximates rather than matches actual storage usage.
type Stats struct {
	Count             int        `json:"count"`
	PendingCount      int        `json:"pending_count"`
	TotalSizeEstimate int64      `json:"total_size_estimate"`
	OldestTimestamp   *time.Time `json:"oldest_timestamp,omitempty"`
	NewestTimestamp   *time.Time `json:"newest_timestamp,omitempty"`
}

// Summary reports the outcome of one reconciliation pass.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Clone returns a deep copy of the payload. The store and cache hand out
// clones so callers can never mutate cached state in place.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, nested := range tv {
			out[k] = cloneValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, nested := range tv {
			out[i] = cloneValue(nested)
		}
		return out
	default:
		return v
	}
}

// MarshalPayload serializes a payload for storage or the wire.
func MarshalPayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// UnmarshalPayload deserializes a payload previously produced by
// MarshalPayload. A nil or empty raw message yields a nil payload.
func UnmarshalPayload(raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}
