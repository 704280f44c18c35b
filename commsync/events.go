// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import "sync"

// Invalidation announces that an entity's cached state changed and any
// derived merged views aggregating it (own annotations plus collaborators'
// shared notes) must be recomputed.
type Invalidation struct {
	EntityID string
}

// invalidationHub broadcasts invalidation signals after every successful
// write, online or offline. UI layers adapt the channel to their own
// reactivity model.
type invalidationHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Invalidation
}

func newInvalidationHub() *invalidationHub {
	return &invalidationHub{subs: make(map[int]chan Invalidation)}
}

func (h *invalidationHub) subscribe(buffer int) (<-chan Invalidation, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if buffer < 1 {
		buffer = 16
	}
	id := h.nextID
	h.nextID++
	ch := make(chan Invalidation, buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
	return ch, cancel
}

func (h *invalidationHub) broadcast(entityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		// Non-blocking: stale subscribers drop signals rather than stall writes.
		select {
		case ch <- Invalidation{EntityID: entityID}:
		default:
		}
	}
}
