package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFileTooLarge signals a document above the accepted payload size.
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnsupportedFormat signals a document format the pipeline cannot read.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrEmptyDocument signals a zero-length upload.
	ErrEmptyDocument = errors.New("empty document")
	// ErrNotConfigured signals a missing extraction engine (vision model not configured).
	ErrNotConfigured = errors.New("extraction engine not initialized")
	// ErrUpstreamModel signals a non-success response from the vision model.
	ErrUpstreamModel = errors.New("upstream model error")
	// ErrRateLimited signals that the vision model rejected the call with HTTP 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrMalformedResponse signals a model response without a usable JSON object.
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrCircuitOpen signals that the vision circuit breaker is rejecting calls.
	ErrCircuitOpen = errors.New("vision circuit open")
	// ErrTimeout signals an exceeded caller deadline or request timeout.
	ErrTimeout = errors.New("timeout")
	// ErrNetwork signals a transport-level failure.
	ErrNetwork = errors.New("network failure")
	// ErrResourceExhausted signals memory or capacity exhaustion.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrRecordStore signals a failure of the external record store collaborator.
	ErrRecordStore = errors.New("record store error")
	// ErrValidation signals an arithmetic or type inconsistency in extracted data.
	ErrValidation = errors.New("validation inconsistency")
	// ErrWorkerCrashed signals a crashed extraction worker (recovered panic).
	ErrWorkerCrashed = errors.New("worker crashed")
	// ErrInvalidTransition signals an illegal document state change.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrBudgetExceeded signals that the vision token budget for the period is spent.
	ErrBudgetExceeded = errors.New("vision token budget exceeded")
	// ErrCacheMiss signals that no result is cached for a digest.
	ErrCacheMiss = errors.New("cache miss")
)

// RateLimitError carries the retry hint sent with an HTTP 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Detail     string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s: %s", ErrRateLimited.Error(), e.RetryAfter, e.Detail)
	}
	return fmt.Sprintf("%s: %s", ErrRateLimited.Error(), e.Detail)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// StatusError is a non-2xx, non-429 response from the vision model.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrUpstreamModel.Error(), e.StatusCode, e.Detail)
}

func (e *StatusError) Unwrap() error { return ErrUpstreamModel }
