package docextract

import (
	"errors"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrFileTooLarge      = domain.ErrFileTooLarge
	ErrUnsupportedFormat = domain.ErrUnsupportedFormat
	ErrEmptyDocument     = domain.ErrEmptyDocument
	ErrNotConfigured     = domain.ErrNotConfigured
	ErrUpstreamModel     = domain.ErrUpstreamModel
	ErrRateLimited       = domain.ErrRateLimited
	ErrMalformedResponse = domain.ErrMalformedResponse
	ErrCircuitOpen       = domain.ErrCircuitOpen
	ErrTimeout           = domain.ErrTimeout
	ErrBudgetExceeded    = domain.ErrBudgetExceeded
	ErrResourceExhausted = domain.ErrResourceExhausted
	ErrWorkerCrashed     = domain.ErrWorkerCrashed
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrValidation        = domain.ErrValidation
	ErrNetwork           = domain.ErrNetwork
	ErrRecordStore       = domain.ErrRecordStore
)

// Failure describes a classified processing failure. Every error returned by
// Client.Extract and Client.Reprocess can be inspected with AsFailure.
type Failure struct {
	Code            string
	Message         string
	Severity        string
	RecoveryAction  string
	RecoveryMessage string
	CorrelationID   string
}

// AsFailure extracts the failure classification from err.
func AsFailure(err error) (Failure, bool) {
	var f *failure.Failure
	if !errors.As(err, &f) {
		return Failure{}, false
	}
	return Failure{
		Code:            string(f.Class.Code),
		Message:         f.Message,
		Severity:        string(f.Class.Severity),
		RecoveryAction:  string(f.Class.Action),
		RecoveryMessage: f.RecoveryMessage,
		CorrelationID:   f.CorrelationID,
	}, true
}

// FailureCode returns the taxonomy code of err, or "" for nil and unclassified errors.
func FailureCode(err error) string {
	f, _ := AsFailure(err)
	return f.Code
}
