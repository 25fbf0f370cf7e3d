package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "docextract"

// Vision model metrics.
var (
	VisionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_requests_total",
			Help:      "Total number of vision model requests",
		},
		[]string{"model", "status"},
	)

	VisionRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vision_request_duration_seconds",
			Help:      "Vision model request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"model"},
	)

	VisionTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_tokens_total",
			Help:      "Total vision model tokens consumed",
		},
		[]string{"model", "type"},
	)

	VisionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_retries_total",
			Help:      "Vision model retries scheduled",
		},
		[]string{"model"},
	)

	VisionBudgetTokensRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vision_budget_tokens_remaining",
			Help:      "Remaining vision token budget",
		},
		[]string{"model", "period"},
	)
)

// Cache and pipeline metrics.
var (
	CacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_total",
			Help:      "Result cache lookups",
		},
		[]string{"result"}, // "hit" / "miss" / "bypass"
	)

	DocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed by extraction path and outcome",
		},
		[]string{"path", "outcome"},
	)

	DocumentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_duration_seconds",
			Help:      "End-to-end document processing duration",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"path"},
	)

	ValidationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Validation annotations attached to results",
		},
		[]string{"field"},
	)

	CoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Requests that waited on an in-flight extraction of the same digest",
		},
	)
)

// Failure metrics.
var (
	ClassifiedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classified_errors_total",
			Help:      "Failures by taxonomy code and severity",
		},
		[]string{"code", "severity"},
	)

	RecoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_actions_total",
			Help:      "Recovery actions dispatched",
		},
		[]string{"action", "executed"},
	)

	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items by outcome",
		},
		[]string{"status"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers the domain metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		VisionRequestsTotal,
		VisionRequestDuration,
		VisionTokensTotal,
		VisionRetriesTotal,
		VisionBudgetTokensRemaining,
		CacheTotal,
		DocumentsTotal,
		DocumentDuration,
		ValidationErrorsTotal,
		CoalescedTotal,
		ClassifiedErrorsTotal,
		RecoveryActionsTotal,
		BatchItemsTotal,
	)
	pipelineMetricsRegistered = true
}
