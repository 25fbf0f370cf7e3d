// Package failure is the static error taxonomy: every pipeline failure is mapped onto
// one Class carrying a severity and a recovery action.
package failure

import (
	"encoding/json"
	"fmt"
)

// Code identifies a taxonomy category.
type Code string

// Taxonomy codes.
const (
	CodeInitialization    Code = "INITIALIZATION_ERROR"
	CodeWorker            Code = "WORKER_ERROR"
	CodeFileTooLarge      Code = "FILE_TOO_LARGE"
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeAPI               Code = "API_ERROR"
	CodeRecordStore       Code = "RECORD_STORE_ERROR"
	CodeMemory            Code = "MEMORY_ERROR"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeTimeout           Code = "TIMEOUT_ERROR"
	CodeNetwork           Code = "NETWORK_ERROR"
	CodeUnknown           Code = "UNKNOWN_ERROR"
)

// Severity tells a batch caller whether to continue.
type Severity string

// Severity levels.
const (
	// SeverityWarning surfaces a banner; the result is still usable.
	SeverityWarning Severity = "warning"
	// SeverityError blocks the document but not the batch.
	SeverityError Severity = "error"
	// SeverityCritical suggests a full pipeline restart.
	SeverityCritical Severity = "critical"
)

// Action is a recovery action.
type Action string

// Recovery actions.
const (
	ActionReload           Action = "reload"
	ActionRetryWithBackoff Action = "retry-with-backoff"
	ActionShrinkInput      Action = "shrink-input"
	ActionConvertFormat    Action = "convert-format"
	ActionCheckNetwork     Action = "check-network"
	ActionSimplifyInput    Action = "simplify-input"
	ActionFreeResources    Action = "free-resources"
	ActionRestartWorker    Action = "restart-worker"
	ActionManualFix        Action = "manual-fix"
)

// Class is one immutable taxonomy entry.
type Class struct {
	Code            Code
	MessageTemplate string
	Severity        Severity
	Action          Action
	RecoveryMessage string

	// Automatic marks actions the dispatcher executes itself.
	Automatic bool
}

// Message renders the template with the raw failure detail.
func (c Class) Message(detail string) string {
	if detail == "" {
		return c.MessageTemplate
	}
	return fmt.Sprintf("%s: %s", c.MessageTemplate, detail)
}

var taxonomy = []Class{
	{CodeInitialization, "extraction engine could not be initialized", SeverityCritical, ActionReload,
		"Reload the pipeline once the extraction engine is reachable.", false},
	{CodeWorker, "extraction worker crashed", SeverityCritical, ActionRestartWorker,
		"Restart the extraction worker and resubmit the document.", false},
	{CodeFileTooLarge, "document exceeds the maximum size", SeverityError, ActionShrinkInput,
		"Reduce the file size (compress or split the document) below 20 MB and resubmit.", false},
	{CodeUnsupportedFormat, "document format is not supported", SeverityError, ActionConvertFormat,
		"Convert the document to PDF with a text layer or to PNG/JPEG and resubmit.", false},
	{CodeAPI, "vision model request failed", SeverityError, ActionRetryWithBackoff,
		"The request will be retried automatically with exponential backoff.", true},
	{CodeRecordStore, "record store request failed", SeverityError, ActionRetryWithBackoff,
		"The record store write will be retried automatically with exponential backoff.", true},
	{CodeMemory, "resources exhausted", SeverityCritical, ActionFreeResources,
		"Caches were shrunk to free memory; resubmit the document.", true},
	{CodeValidation, "extracted data is inconsistent", SeverityWarning, ActionManualFix,
		"Review the flagged fields and correct them manually.", false},
	{CodeTimeout, "processing timed out", SeverityError, ActionSimplifyInput,
		"Resubmit a smaller or simpler document, or raise the deadline.", false},
	{CodeNetwork, "network failure", SeverityError, ActionCheckNetwork,
		"Check network connectivity to the vision model and resubmit.", false},
	{CodeUnknown, "unexpected failure", SeverityError, ActionManualFix,
		"Inspect the error log entry and process the document manually.", false},
}

var byCode = func() map[Code]Class {
	m := make(map[Code]Class, len(taxonomy))
	for _, c := range taxonomy {
		m[c.Code] = c
	}
	return m
}()

// Lookup returns the class for code; unknown codes map to CodeUnknown.
func Lookup(code Code) Class {
	if c, ok := byCode[code]; ok {
		return c
	}
	return byCode[CodeUnknown]
}

// Taxonomy returns a copy of every class in declaration order.
func Taxonomy() []Class {
	return append([]Class(nil), taxonomy...)
}

// Failure is a classified, terminal per-document error.
type Failure struct {
	Class           Class
	Message         string
	RecoveryMessage string
	CorrelationID   string
	Err             error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Class.Code, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// MarshalJSON emits the failure output shape.
func (f *Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code            Code     `json:"code"`
		Message         string   `json:"message"`
		Severity        Severity `json:"severity"`
		RecoveryMessage string   `json:"recovery_message"`
		CorrelationID   string   `json:"correlation_id"`
	}{f.Class.Code, f.Message, f.Class.Severity, f.RecoveryMessage, f.CorrelationID})
}
