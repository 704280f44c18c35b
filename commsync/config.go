// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import "time"

// Config holds configuration for the sync engine.
type Config struct {
	RequestTimeout time.Duration // per-request deadline, e.g. 15s
	BulkTimeout    time.Duration // deadline for bulk imports, e.g. 5m
	RecordTTL      time.Duration // visibility window for cached entities
	PackageTTL     time.Duration // visibility window for event packages
	BackoffMin     time.Duration // 1s
	BackoffMax     time.Duration // 60s
}

// DefaultConfig returns the configuration used when callers pass nil.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout: 15 * time.Second,
		BulkTimeout:    5 * time.Minute,
		RecordTTL:      48 * time.Hour,
		PackageTTL:     7 * 24 * time.Hour,
		BackoffMin:     1 * time.Second,
		BackoffMax:     60 * time.Second,
	}
}
