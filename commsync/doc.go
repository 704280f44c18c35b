// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

// Package commsync implements the offline-first data layer of a sports-event
// commentator platform: a read-through/write-through cache over per-athlete
// commentator info and bundled event packages, a pending-write queue for
// edits made while disconnected, and a reconciler that replays queued deltas
// against the remote API once connectivity returns.
//
// The package is deliberately transport- and storage-agnostic at its edges:
// reads and writes go through the Gateway, durable state goes through the
// LocalStore interface (implemented on SQLite by the offstore package), and
// connectivity is observed through an injected Monitor instance.
package commsync
