// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import "encoding/json"

// REST/JSON models for the remote data API. The server is an external
// collaborator; these models only describe the wire contract the client
// consumes.

// EntityEnvelope wraps a single entity response. Data is null when the
// entity does not exist server-side.
type EntityEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// BulkImportRequest carries a batch of entity payloads for server-side
// import. Bulk imports are long-running; the gateway uses the configured
// bulk timeout instead of the default request deadline.
type BulkImportRequest struct {
	Rows []Payload `json:"rows"`
}

// BulkImportRowError describes one failed row in a bulk import.
type BulkImportRowError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BulkImportResult summarizes a bulk import.
type BulkImportResult struct {
	Created int                  `json:"created"`
	Updated int                  `json:"updated"`
	Failed  int                  `json:"failed"`
	Errors  []BulkImportRowError `json:"errors,omitempty"`
}

// ErrorResponse is the server's error body shape. Parsed bodies that do not
// match are carried as raw text in the classified error's detail instead.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
