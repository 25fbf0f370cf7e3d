package document

import (
	"fmt"

	"github.com/kailas-cloud/docextract/internal/domain"
)

// State is a pipeline stage of a single document.
type State string

// Lifecycle states.
const (
	StateReceived   State = "received"
	StateClassified State = "classified"
	StateExtracting State = "extracting"
	StateExtracted  State = "extracted"
	StateValidating State = "validating"
	StateValidated  State = "validated"
	StateMapped     State = "mapped"
	StateFailed     State = "failed"
)

// transitions is the forward-only state graph. Reprocessing starts a new Lifecycle.
var transitions = map[State][]State{
	StateReceived:   {StateClassified, StateExtracting},
	StateClassified: {StateExtracting},
	StateExtracting: {StateExtracted, StateFailed},
	StateExtracted:  {StateValidating, StateFailed},
	StateValidating: {StateValidated},
	StateValidated:  {StateMapped, StateFailed},
}

// IsTerminal reports whether no transition leaves the state.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle tracks the stage history of one document. Not safe for concurrent use.
type Lifecycle struct {
	history []State
}

// NewLifecycle starts in StateReceived.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{history: []State{StateReceived}}
}

// Current returns the latest state.
func (l *Lifecycle) Current() State { return l.history[len(l.history)-1] }

// History returns a copy of every visited state in order.
func (l *Lifecycle) History() []State {
	return append([]State(nil), l.history...)
}

// Advance moves to the next state or returns ErrInvalidTransition.
func (l *Lifecycle) Advance(to State) error {
	from := l.Current()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	l.history = append(l.history, to)
	return nil
}

// Fail moves to StateFailed when allowed and reports whether it did.
func (l *Lifecycle) Fail() bool {
	return l.Advance(StateFailed) == nil
}
