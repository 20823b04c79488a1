package observability

import "github.com/prometheus/client_golang/prometheus"

// Pipeline metrics. Label values are drawn from small fixed sets so
// cardinality stays bounded.
var (
	// ScanCache counts extraction cache lookups by result (hit|miss|disabled).
	ScanCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_scan_cache_total",
			Help: "Extraction cache lookups by result.",
		},
		[]string{"result"},
	)

	// ExtractionTokens accumulates model token usage by kind
	// (prompt|completion|total).
	ExtractionTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_extraction_tokens_total",
			Help: "Tokens consumed by receipt extraction calls.",
		},
		[]string{"kind"},
	)

	// StageFailures counts absorbed or fatal failures per pipeline stage
	// (preprocess|barcode|extraction|enrichment).
	StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_stage_failures_total",
			Help: "Failures per receipt pipeline stage.",
		},
		[]string{"stage"},
	)

	// SyncEntries counts pushed entries by outcome
	// (created|updated|skipped|failed).
	SyncEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_sync_entries_total",
			Help: "Sync push entries by outcome.",
		},
		[]string{"outcome"},
	)

	// ExtractionDuration observes the latency of the external extraction call.
	ExtractionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "receipt_extraction_duration_seconds",
			Help:    "Duration of extraction calls in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(ScanCache, ExtractionTokens, StageFailures, SyncEntries, ExtractionDuration)
}
