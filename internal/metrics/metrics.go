// Package metrics holds the Prometheus collectors for scans, feature
// extraction, feed ingestion and engine calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentinel"

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	ScansTotal        *prometheus.CounterVec
	ScanDuration      prometheus.Histogram
	FeaturesExtracted prometheus.Counter
	FeaturesRejected  prometheus.Counter
	IngestRecords     *prometheus.CounterVec
	IngestRuns        *prometheus.CounterVec
	EngineRequests    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans run, by poller terminal state or failure stage.",
		}, []string{"state"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one scan from reachability check to extraction.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		}),
		FeaturesExtracted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_extracted_total",
			Help:      "Findings turned into feature rows.",
		}),
		FeaturesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_rejected_total",
			Help:      "Findings skipped by validation.",
		}),
		IngestRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_total",
			Help:      "Feed records by ingestion outcome.",
		}, []string{"outcome"}),
		IngestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Feed ingestion runs by result.",
		}, []string{"result"}),
		EngineRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_requests_total",
			Help:      "Remote engine and feed calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveScan records one finished scan.
func (m *Metrics) ObserveScan(state string, d time.Duration, extracted, rejected int) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(state).Inc()
	m.ScanDuration.Observe(d.Seconds())
	m.FeaturesExtracted.Add(float64(extracted))
	m.FeaturesRejected.Add(float64(rejected))
}

// ObserveIngest records one ingestion run.
func (m *Metrics) ObserveIngest(inserted, skipped, rejected int, err error) {
	if m == nil {
		return
	}
	m.IngestRecords.WithLabelValues("inserted").Add(float64(inserted))
	m.IngestRecords.WithLabelValues("skipped").Add(float64(skipped))
	m.IngestRecords.WithLabelValues("rejected").Add(float64(rejected))
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.IngestRuns.WithLabelValues(result).Inc()
}

// ObserveEngine matches engine.Observer.
func (m *Metrics) ObserveEngine(op, outcome string) {
	if m == nil {
		return
	}
	m.EngineRequests.WithLabelValues(op, outcome).Inc()
}
