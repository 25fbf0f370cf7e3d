// Package budget is a point-in-time view of a vision token budget window.
package budget

// Unlimited is the remaining value of a window without a cap.
const Unlimited int64 = -1

// Budget is a snapshot of the vision model token budget for one period.
type Budget struct {
	limit     int64
	remaining int64
	exhausted bool
	resetsAt  int64 // unix millis
}

// New creates a Budget snapshot. A zero limit means the window is uncapped.
func New(limit, remaining int64, exhausted bool, resetsAt int64) Budget {
	if limit == 0 {
		remaining, exhausted = Unlimited, false
	}
	return Budget{limit: limit, remaining: remaining, exhausted: exhausted, resetsAt: resetsAt}
}

// TokensLimit returns the token cap (0 when uncapped).
func (b Budget) TokensLimit() int64 { return b.limit }

// TokensRemaining returns tokens left, or Unlimited.
func (b Budget) TokensRemaining() int64 { return b.remaining }

// IsUnlimited reports an uncapped window.
func (b Budget) IsUnlimited() bool { return b.limit == 0 }

// IsExhausted reports whether the budget is spent.
func (b Budget) IsExhausted() bool { return b.exhausted }

// ResetsAt returns the end of the window (unix millis).
func (b Budget) ResetsAt() int64 { return b.resetsAt }
