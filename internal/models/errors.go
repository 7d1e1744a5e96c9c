package models

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNoCredential is returned when no credential in the pool can serve a request.
	ErrNoCredential = errors.New("no credential available")
	// ErrServiceUnavailable is the user-visible failure when a request cannot be served.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrCredentialNotFound is returned by admin operations on unknown ids.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrCredentialExists is returned when adding a refresh token already in the store.
	ErrCredentialExists = errors.New("credential already exists")
)

// CredentialError is a failed token refresh or project lookup. Status is the
// upstream HTTP status, 0 when the request never got a response.
type CredentialError struct {
	Err          error
	CredentialID string
	Message      string
	Status       int
}

func (e *CredentialError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("credential %s: %s (status %d)", e.CredentialID, e.Message, e.Status)
	}
	return fmt.Sprintf("credential %s: %s", e.CredentialID, e.Message)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// Permanent reports whether the failure means the credential can never work again.
func (e *CredentialError) Permanent() bool {
	return e.Status == http.StatusBadRequest || e.Status == http.StatusForbidden
}

// IsPermanentCredentialError reports whether err carries a 400 or 403 credential failure.
func IsPermanentCredentialError(err error) bool {
	var credErr *CredentialError
	return errors.As(err, &credErr) && credErr.Permanent()
}

// TransientUpstreamError is a retryable upstream failure (429 or 5xx).
type TransientUpstreamError struct {
	// Body is the raw upstream error payload, kept for retry-hint extraction.
	Body       []byte
	RetryAfter time.Duration
	Status     int
}

func (e *TransientUpstreamError) Error() string {
	if len(e.Body) > 0 {
		body := e.Body
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Sprintf("upstream error (status %d): %s", e.Status, body)
	}
	return fmt.Sprintf("upstream error (status %d)", e.Status)
}

// StatusCode returns the upstream HTTP status.
func (e *TransientUpstreamError) StatusCode() int {
	return e.Status
}

// QuotaDataError marks a malformed or unmatchable quota snapshot.
type QuotaDataError struct {
	Model  string
	Reason string
}

func (e *QuotaDataError) Error() string {
	if e.Model == "" {
		return "quota data: " + e.Reason
	}
	return fmt.Sprintf("quota data for %s: %s", e.Model, e.Reason)
}

// PersistenceError is a failed store or database write.
type PersistenceError struct {
	Err error
	Op  string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
