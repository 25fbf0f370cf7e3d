package usage

import domusage "github.com/kailas-cloud/docextract/internal/domain/usage"

// BudgetReader exposes the vision token window for a period. A zero limit is unlimited.
type BudgetReader interface {
	Window(p domusage.Period) (limit, used int64)
}
