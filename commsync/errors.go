// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoContent marks a successful response that carried no body (204).
// Callers that expect an entity treat it as "nothing to decode", not a failure.
var ErrNoContent = errors.New("no content")

// ValidationError indicates caller-supplied input was malformed. It is never
// retried or queued; it signals a programmer bug, not a network condition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// AuthError covers 401 and 403 responses. Auth failures are surfaced to the
// user immediately and never queued for offline retry, since retrying later
// cannot resolve a permission problem.
type AuthError struct {
	Status int
	Detail any
}

func (e *AuthError) Error() string {
	if e.Status == http.StatusForbidden {
		return fmt.Sprintf("permission denied (status %d): %v", e.Status, e.Detail)
	}
	return fmt.Sprintf("authentication required (status %d): %v", e.Status, e.Detail)
}

// NotFoundError covers 404 responses.
type NotFoundError struct {
	ID     string
	Detail any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found: %v", e.ID, e.Detail)
}

// ConflictError covers 409 responses.
type ConflictError struct {
	ID     string
	Detail any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting update for %s: %v", e.ID, e.Detail)
}

// ServerError covers 5xx responses. Treated as transient: read paths fall
// back to cache, write paths fall back to offline queueing.
type ServerError struct {
	Status int
	Detail any
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned status %d: %v", e.Status, e.Detail)
}

// RequestError covers non-2xx statuses with no more specific category.
type RequestError struct {
	Status int
	Detail any
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %v", e.Status, e.Detail)
}

// TimeoutError indicates the request deadline elapsed and the in-flight
// request was aborted. Classified as retryable, same as ServerError.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StorageError wraps local store failures (quota exceeded, engine
// unavailable). Callers treat it as non-fatal: the store is an optimization,
// not the source of truth, so offline capability degrades instead of
// crashing the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// classifyStatus maps a non-2xx HTTP status to the error taxonomy.
func classifyStatus(status int, id string, detail any) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Status: status, Detail: detail}
	case status == http.StatusNotFound:
		return &NotFoundError{ID: id, Detail: detail}
	case status == http.StatusConflict:
		return &ConflictError{ID: id, Detail: detail}
	case status >= 500:
		return &ServerError{Status: status, Detail: detail}
	default:
		return &RequestError{Status: status, Detail: detail}
	}
}

// Retryable reports whether an error is transient enough that retrying the
// operation later could succeed. Timeouts, 5xx responses, storage hiccups
// and plain transport errors qualify; validation, auth, not-found and
// conflict responses do not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		validationErr *ValidationError
		authErr       *AuthError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
		requestErr    *RequestError
	)
	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &authErr),
		errors.As(err, &notFoundErr),
		errors.As(err, &conflictErr),
		errors.As(err, &requestErr):
		return false
	}
	return true
}

// IsAuth reports whether err is a 401/403 classified error anywhere in
// its chain.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTimeout reports whether err was caused by a request deadline.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded)
}
