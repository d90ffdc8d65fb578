// Package metrics exposes Prometheus collectors for fetches, record
// classification and batch loading.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application.
// A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	Fetches        *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	Records        *prometheus.CounterVec
	BatchDocuments *prometheus.CounterVec
	BatchFailures  *prometheus.CounterVec
	BatchDuration  *prometheus.HistogramVec
}

// New creates collectors registered on their own registry under namespace.
func New(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Source fetches by outcome",
			},
			[]string{"source", "outcome"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time spent checking and downloading a source",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"source"},
		),
		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Interchange records classified, by kind",
			},
			[]string{"kind"},
		),
		BatchDocuments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_committed_total",
				Help:      "Documents committed to the graph store",
			},
			[]string{"collection"},
		),
		BatchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_failures_total",
				Help:      "Batches rejected by the graph store",
			},
			[]string{"collection"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Graph store batch write latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"collection"},
		),
	}

	registry.MustRegister(
		c.Fetches,
		c.FetchDuration,
		c.Records,
		c.BatchDocuments,
		c.BatchFailures,
		c.BatchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records a fetch outcome such as "downloaded" or "error".
func (c *Collector) ObserveFetch(source, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Fetches.WithLabelValues(source, outcome).Inc()
	c.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveRecords adds n classified records of kind.
func (c *Collector) ObserveRecords(kind string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.Records.WithLabelValues(kind).Add(float64(n))
}

// ObserveBatch records one batch submission.
func (c *Collector) ObserveBatch(collection string, size int, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.BatchDuration.WithLabelValues(collection).Observe(d.Seconds())
	if err != nil {
		c.BatchFailures.WithLabelValues(collection).Inc()
		return
	}
	c.BatchDocuments.WithLabelValues(collection).Add(float64(size))
}
