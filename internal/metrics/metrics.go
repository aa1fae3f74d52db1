// Package metrics exposes the data plane's Prometheus instrumentation:
// query latency, rows served, predicate-parse failures, and guard
// rejections broken down by apierr.Code (SPEC_FULL §9).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sharelane/dataplane/internal/apierr"
)

// Metrics holds the data plane's collectors. Construct one per process
// with New and register it on a dedicated registry so tests never collide
// with the default global registry. The HTTP layer observes
// QueryDuration and increments GuardRejections; RowsServed,
// PredicateFailure and FilesMaterialized are registered and exported but
// no code path increments them, so they always read zero.
type Metrics struct {
	QueryDuration     *prometheus.HistogramVec
	RowsServed        prometheus.Counter
	GuardRejections   *prometheus.CounterVec
	PredicateFailure  prometheus.Counter
	FilesMaterialized prometheus.Counter
}

// New registers and returns a Metrics bound to reg. Both the server and
// the tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sharedata_query_duration_seconds",
			Help:    "Latency of /query requests by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		RowsServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharedata_rows_served_total",
			Help: "Total rows returned across all successful queries.",
		}),
		GuardRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharedata_guard_rejections_total",
			Help: "Authentication/authorization rejections by reason code.",
		}, []string{"code"}),
		PredicateFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharedata_predicate_parse_failures_total",
			Help: "Requests rejected for an invalid predicate.",
		}),
		FilesMaterialized: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharedata_files_materialized_total",
			Help: "Watermarked Parquet files written to object storage.",
		}),
	}
}

// ObserveOutcome records a query's latency in the duration histogram,
// labelled by outcome. Rejection counting is done by RecordRejection.
func (m *Metrics) ObserveOutcome(outcome string, seconds float64) {
	m.QueryDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordRejection increments the guard-rejection counter for err if it
// carries an apierr.Code, a no-op otherwise.
func (m *Metrics) RecordRejection(err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		return
	}
	m.GuardRejections.WithLabelValues(string(apiErr.Code)).Inc()
}
