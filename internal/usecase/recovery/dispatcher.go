package recovery

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/domain/failure"
	"github.com/kailas-cloud/docextract/internal/metrics"
)

// msgNotAutomated replaces the recovery message of an automatic action that did not run.
const msgNotAutomated = "Automatic recovery is not available; resubmit the document later."

// Job identifies the document a recovery action applies to.
type Job struct {
	Digest string
	// Run reprocesses the document.
	Run func(ctx context.Context) error
}

// Handler executes one recovery action and returns a human-readable outcome.
type Handler func(ctx context.Context, f *failure.Failure, job Job) (string, error)

// Outcome reports what the dispatcher did.
type Outcome struct {
	Action   failure.Action
	Executed bool
	Message  string
}

// Dispatcher runs handlers for automatic actions.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[failure.Action]Handler
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher with no handlers.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{handlers: make(map[failure.Action]Handler), logger: logger}
}

// Register installs the handler for action, replacing any previous one.
func (d *Dispatcher) Register(action failure.Action, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = h
}

// Dispatch executes the failure's action when its class is automatic and a handler is
// registered. The failure's RecoveryMessage is set to the outcome message.
func (d *Dispatcher) Dispatch(ctx context.Context, f *failure.Failure, job Job) Outcome {
	out := Outcome{Action: f.Class.Action, Message: f.RecoveryMessage}
	if out.Message == "" {
		out.Message = f.Class.RecoveryMessage
	}

	if f.Class.Automatic {
		d.mu.RLock()
		h, ok := d.handlers[f.Class.Action]
		d.mu.RUnlock()

		switch {
		case !ok:
			out.Message = msgNotAutomated
		default:
			msg, err := h(ctx, f, job)
			if err != nil {
				d.logger.Warn("Recovery action failed",
					zap.String("action", string(f.Class.Action)),
					zap.String("code", string(f.Class.Code)),
					zap.Error(err),
				)
				out.Message = msgNotAutomated
				break
			}
			out.Executed = true
			if msg != "" {
				out.Message = msg
			}
		}
	}

	f.RecoveryMessage = out.Message
	metrics.RecoveryActionsTotal.WithLabelValues(string(out.Action), strconv.FormatBool(out.Executed)).Inc()
	return out
}
