// Package metrics provides Prometheus metrics for tbgwctl. A CLI run is
// short-lived, so metrics are exported with WriteTextfile for the node
// exporter's textfile collector rather than served over HTTP.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tbgwctl"

// Registry holds every tbgwctl metric on its own prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationAttempts prometheus.Histogram
	Invalidations     prometheus.Counter

	// Batch metrics
	BatchItemsTotal *prometheus.CounterVec
	BatchesAborted  prometheus.Counter

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	LastRun prometheus.Gauge
}

// New creates a Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	r := &Registry{reg: reg}

	r.OperationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Write operations by action, kind and outcome",
	}, []string{"action", "kind", "outcome"})

	r.OperationDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Wall time of a write operation including retries",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action", "kind"})

	r.OperationAttempts = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_attempts",
		Help:      "Attempts needed per write operation",
		Buckets:   []float64{1, 2, 3, 5, 8},
	})

	r.Invalidations = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_invalidations_total",
		Help:      "Session invalidations triggered by session failures",
	})

	r.BatchItemsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_items_total",
		Help:      "Batch items by result",
	}, []string{"result"})

	r.BatchesAborted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_aborted_total",
		Help:      "Batches stopped at the first failure",
	})

	r.RequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests sent to the appliance",
	}, []string{"code", "method"})

	r.RequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Latency of HTTP requests to the appliance",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	r.LastRun = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the metrics were last written",
	})

	return r
}

// RecordOperation records a finished write operation.
func (r *Registry) RecordOperation(action, kind, outcome string, attempts int, elapsed time.Duration) {
	r.OperationsTotal.WithLabelValues(action, kind, outcome).Inc()
	r.OperationDuration.WithLabelValues(action, kind).Observe(elapsed.Seconds())
	r.OperationAttempts.Observe(float64(attempts))
}

// RecordInvalidation counts one session invalidation.
func (r *Registry) RecordInvalidation() {
	r.Invalidations.Inc()
}

// RecordBatch records the totals of a finished or aborted batch.
func (r *Registry) RecordBatch(succeeded, failed int, aborted bool) {
	r.BatchItemsTotal.WithLabelValues("success").Add(float64(succeeded))
	r.BatchItemsTotal.WithLabelValues("failure").Add(float64(failed))

	if aborted {
		r.BatchesAborted.Inc()
	}
}

// InstrumentTransport wraps next so every appliance request is counted and
// timed. A nil next wraps http.DefaultTransport.
func (r *Registry) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}

	return promhttp.InstrumentRoundTripperCounter(r.RequestsTotal,
		promhttp.InstrumentRoundTripperDuration(r.RequestDuration, next))
}

// WriteTextfile writes the registry in Prometheus text format to path,
// atomically, for the node exporter's textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	r.LastRun.SetToCurrentTime()

	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}

	return nil
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
