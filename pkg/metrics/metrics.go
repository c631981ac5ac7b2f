// Package metrics exposes Prometheus collectors for ledger ingestion.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Metrics holds the collectors updated by the merge and import services.
type Metrics struct {
	RowsInserted  prometheus.Counter
	RowsSkipped   prometheus.Counter
	Collisions    prometheus.Counter
	MergeDuration prometheus.Histogram
	MergeFailures prometheus.Counter
	ImportRuns    *prometheus.CounterVec
	RowsRejected  prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the ledger collectors on reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RowsInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "Rows newly written to the ledger store.",
		}),
		RowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Candidate rows whose identifier was already persisted.",
		}),
		Collisions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_collisions_total",
			Help:      "Rows persisted by another writer between read and write.",
		}),
		MergeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Duration of merge transactions.",
			Buckets:   prometheus.DefBuckets,
		}),
		MergeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_failures_total",
			Help:      "Merges aborted because the store was unavailable.",
		}),
		ImportRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_runs_total",
			Help:      "Import runs by final status.",
		}, []string{"status"}),
		RowsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Parsed rows rejected before identifier assignment.",
		}),
		gatherer: reg,
	}
}

// NewNop returns collectors registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
