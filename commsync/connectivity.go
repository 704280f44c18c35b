// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Monitor is the single source of truth for "are we online". It tracks
// reported connectivity only: a device can report online while the actual
// path to the server is broken, in which case individual requests fail and
// the cache's fallback path handles them, not this monitor.
//
// The monitor is an explicitly-lifecycled instance wired up once at process
// start and passed by reference to consumers, never an ambient global.
// Transitions come exclusively from host online/offline notifications via
// SetOffline; consumers subscribe, they do not mutate.
type Monitor struct {
	offline atomic.Bool

	mu     sync.Mutex
	nextID int
	subs   map[int]chan bool
	logger *slog.Logger
}

// NewMonitor creates a monitor initialized to the device's currently
// reported connectivity.
func NewMonitor(initiallyOffline bool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		subs:   make(map[int]chan bool),
		logger: logger,
	}
	m.offline.Store(initiallyOffline)
	return m
}

// Offline reports the current connectivity state. Consumers re-check per
// operation rather than caching the result.
func (m *Monitor) Offline() bool {
	return m.offline.Load()
}

// SetOffline records a host connectivity notification. State changes apply
// synchronously; rapid flapping produces rapid state changes, which is
// acceptable because consumers re-check state per operation.
func (m *Monitor) SetOffline(offline bool) {
	prev := m.offline.Swap(offline)
	if prev == offline {
		return
	}
	m.logger.Info("connectivity changed", "offline", offline)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		// Non-blocking: a slow subscriber misses intermediate flaps but
		// always observes a pending notification to re-check state.
		select {
		case ch <- offline:
		default:
		}
	}
}

// Subscribe returns a channel that receives the new offline state on each
// transition, plus a cancel function. The channel is buffered; intermediate
// transitions may coalesce.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
	return ch, cancel
}
