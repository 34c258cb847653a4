package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AnalysesTotal counts finished analyses by outcome.
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imagesentiment",
		Subsystem: "pipeline",
		Name:      "analyses_total",
		Help:      "Total number of analysis requests processed, labeled by result.",
	}, []string{"result"})

	// AnalysisDurationSeconds is end-to-end time per analysis.
	AnalysisDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "imagesentiment",
		Subsystem: "pipeline",
		Name:      "analysis_duration_seconds",
		Help:      "End-to-end time to run one analysis (vision call + scoring + ledger write).",
		// Keep buckets fairly coarse to avoid high-cardinality time series.
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
	}, []string{"result"})

	// VisionRetriesTotal counts vision model invocation attempts beyond the first.
	VisionRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imagesentiment",
		Subsystem: "pipeline",
		Name:      "vision_retries_total",
		Help:      "Total number of retried vision model calls.",
	})

	// CacheLookupsTotal counts dedup cache lookups by outcome.
	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imagesentiment",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Total number of image dedup cache lookups, labeled hit or miss.",
	}, []string{"outcome"})

	// QueuePublishErrorsTotal counts failed dispatch queue handoffs.
	QueuePublishErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imagesentiment",
		Subsystem: "dispatch",
		Name:      "publish_errors_total",
		Help:      "Total number of dispatch queue publish errors.",
	})
)

// Register registers pipeline metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysesTotal,
			AnalysisDurationSeconds,
			VisionRetriesTotal,
			CacheLookupsTotal,
			QueuePublishErrorsTotal,
		)
	})
}
