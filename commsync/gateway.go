// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenProvider resolves a bearer credential asynchronously. Resolution
// failure is non-fatal: the request proceeds unauthenticated and the likely
// 401 is reported through the normal classification path.
type TokenProvider func(ctx context.Context) (string, error)

// Gateway executes authenticated HTTP requests against the remote data API
// with timeout enforcement and structured error classification. All higher
// layers go through it.
type Gateway struct {
	BaseURL string
	HTTP    *http.Client
	Token   TokenProvider
	Timeout time.Duration

	logger  *slog.Logger
	metrics Collector
}

// NewGateway creates a gateway for the given API base URL. A nil logger
// falls back to slog.Default and a nil metrics collector to Noop.
func NewGateway(baseURL string, token TokenProvider, logger *slog.Logger, metrics Collector) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = Noop()
	}
	return &Gateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
		Token:   token,
		Timeout: 15 * time.Second,
		logger:  logger,
		metrics: metrics,
	}
}

type requestOptions struct {
	method   string
	path     string
	body     any
	timeout  time.Duration // overrides Gateway.Timeout when > 0
	entityID string        // attached to NotFound/Conflict errors
}

// do executes one request and returns the raw response body for 2xx
// responses. A 204 (or empty body) returns ErrNoContent.
func (g *Gateway) do(ctx context.Context, opts requestOptions) (json.RawMessage, error) {
	timeout := opts.timeout
	if timeout <= 0 {
		timeout = g.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullURL := g.BaseURL + opts.path

	var bodyReader io.Reader
	if opts.body != nil {
		raw, err := serializeBody(opts.body)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, opts.method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if g.Token != nil && httpReq.Header.Get("Authorization") == "" {
		token, err := g.Token(ctx)
		if err != nil {
			// Proceed unauthenticated; the server's 401 is reported normally.
			g.logger.Warn("token resolution failed, sending unauthenticated request",
				"url", fullURL, "error", err)
		} else {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := g.HTTP.Do(httpReq)
	if err != nil {
		if isDeadline(ctx, err) {
			g.metrics.ObserveRequest(opts.method, opts.path, 0, time.Since(start))
			return nil, &TimeoutError{URL: fullURL, Err: err}
		}
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	g.metrics.ObserveRequest(opts.method, opts.path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := parseErrorDetail(resp)
		return nil, classifyStatus(resp.StatusCode, opts.entityID, detail)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoContent
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isDeadline(ctx, err) {
			return nil, &TimeoutError{URL: fullURL, Err: err}
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoContent
	}
	return raw, nil
}

func serializeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(body)
	}
}

func isDeadline(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx.Err() == context.DeadlineExceeded
}

// parseErrorDetail extracts the response body as parsed JSON when possible,
// falling back to raw text.
func parseErrorDetail(resp *http.Response) any {
	raw, err := io.ReadAll(resp.Body)
	if err != nil || len(raw) == 0 {
		return ""
	}
	var parsed any
	if json.Unmarshal(raw, &parsed) == nil {
		return parsed
	}
	return string(raw)
}

// FetchRemote fetches one entity. A null data envelope means the entity
// does not exist server-side and yields (nil, nil).
func (g *Gateway) FetchRemote(ctx context.Context, id string) (Payload, error) {
	raw, err := g.do(ctx, requestOptions{
		method:   http.MethodGet,
		path:     "/entities/" + url.PathEscape(id),
		entityID: id,
	})
	if errors.Is(err, ErrNoContent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var envelope EntityEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode entity response: %w", err)
	}
	return UnmarshalPayload(envelope.Data)
}

// UpdateRemote sends a partial entity update and returns the authoritative
// server state from the response envelope.
func (g *Gateway) UpdateRemote(ctx context.Context, id string, delta Payload) (Payload, error) {
	raw, err := g.do(ctx, requestOptions{
		method:   http.MethodPut,
		path:     "/entities/" + url.PathEscape(id),
		body:     delta,
		entityID: id,
	})
	if errors.Is(err, ErrNoContent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var envelope EntityEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode entity response: %w", err)
	}
	return UnmarshalPayload(envelope.Data)
}

// DeleteRemote deletes one entity. A 204 response is success.
func (g *Gateway) DeleteRemote(ctx context.Context, id string) error {
	_, err := g.do(ctx, requestOptions{
		method:   http.MethodDelete,
		path:     "/entities/" + url.PathEscape(id),
		entityID: id,
	})
	if errors.Is(err, ErrNoContent) {
		return nil
	}
	return err
}

// BulkImport submits a batch of entity payloads. Bulk imports run
// server-side for minutes, so the call uses its own extended timeout.
func (g *Gateway) BulkImport(ctx context.Context, rows []Payload, timeout time.Duration) (*BulkImportResult, error) {
	raw, err := g.do(ctx, requestOptions{
		method:  http.MethodPost,
		path:    "/entities/bulk-import",
		body:    BulkImportRequest{Rows: rows},
		timeout: timeout,
	})
	if errors.Is(err, ErrNoContent) {
		return &BulkImportResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	var result BulkImportResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode bulk import response: %w", err)
	}
	return &result, nil
}
