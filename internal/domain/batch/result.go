// Package batch holds per-item outcomes of a multi-document extraction.
package batch

import "errors"

// ErrTooLarge signals a batch above the accepted item count.
var ErrTooLarge = errors.New("batch too large")

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK      ItemStatus = "ok"
	StatusError   ItemStatus = "error"
	StatusSkipped ItemStatus = "skipped"
)

// Result is the outcome of processing one item in a batch operation.
type Result struct {
	id     string
	status ItemStatus
	body   []byte
	err    error
}

// NewOK creates a successful batch result carrying the serialized extraction.
func NewOK(id string, body []byte) Result { return Result{id: id, status: StatusOK, body: body} }

// NewError creates a failed batch result.
func NewError(id string, err error) Result { return Result{id: id, status: StatusError, err: err} }

// NewSkipped marks an item that was never processed because the batch halted on cause.
func NewSkipped(id string, cause error) Result {
	return Result{id: id, status: StatusSkipped, err: cause}
}

// ID returns the item identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Body returns the serialized extraction of a successful item.
func (r Result) Body() []byte { return r.body }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }
