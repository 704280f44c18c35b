// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// memStore is an in-memory LocalStore used by the cache and reconciler
// tests; the offstore package provides the real SQLite implementation.
type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	queue   []PendingWrite
	now     func() time.Time

	failPuts bool // simulate storage-layer failure
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (m *memStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts {
		return &StorageError{Op: "put", Err: errors.New("quota exceeded")}
	}
	if rec.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || !rec.Valid(m.now()) {
		return nil, nil
	}
	cp := rec
	cp.Payload = rec.Payload.Clone()
	return &cp, nil
}

func (m *memStore) GetAll(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if rec.Valid(m.now()) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memStore) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.records {
		if !rec.Valid(m.now()) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	m.queue = nil
	return nil
}

func (m *memStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{PendingCount: len(m.queue)}
	for _, rec := range m.records {
		if !rec.Valid(m.now()) {
			continue
		}
		stats.Count++
		raw, _ := MarshalPayload(rec.Payload)
		stats.TotalSizeEstimate += int64(len(raw))
	}
	return stats, nil
}

func (m *memStore) Enqueue(_ context.Context, item PendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, item)
	return nil
}

func (m *memStore) PendingWrites(_ context.Context) ([]PendingWrite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingWrite, len(m.queue))
	copy(out, m.queue)
	return out, nil
}

func (m *memStore) RemovePending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, item := range m.queue {
		if item.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memStore) PendingCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), nil
}

// roundTripFunc fakes the HTTP layer underneath the gateway.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestGateway(rt roundTripFunc) *Gateway {
	gw := NewGateway("http://api.test", nil, nil, nil)
	gw.HTTP = &http.Client{Transport: rt}
	return gw
}
