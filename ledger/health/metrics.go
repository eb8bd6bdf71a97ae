// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package health

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the prometheus registry for one process.
type Metrics struct {
	registry *prometheus.Registry

	projectionLag    *prometheus.GaugeVec
	projectionErrors *prometheus.GaugeVec
	eventsProcessed  *prometheus.CounterVec
	drainDuration    prometheus.Histogram
}

// NewMetrics creates and registers the engine's collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := &Metrics{
		registry: registry,
		projectionLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledgerhouse_projection_lag",
			Help: "Events between a projection bookmark and the head of the tenant stream.",
		}, []string{"projection", "tenant"}),
		projectionErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledgerhouse_projection_error_count",
			Help: "Consecutive handler failures recorded on a projection bookmark.",
		}, []string{"projection", "tenant"}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerhouse_projection_events_processed_total",
			Help: "Events folded into read models.",
		}, []string{"projection"}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgerhouse_projection_drain_seconds",
			Help:    "Wall time of one projection drain pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(
		metrics.projectionLag,
		metrics.projectionErrors,
		metrics.eventsProcessed,
		metrics.drainDuration,
	)
	return metrics
}

// ObserveLag records one (projection, tenant) lag sample.
func (metrics *Metrics) ObserveLag(lag ProjectionLag) {
	tenant := strconv.FormatInt(lag.TenantID, 10)
	metrics.projectionLag.WithLabelValues(lag.Projection, tenant).Set(float64(lag.Lag))
	metrics.projectionErrors.WithLabelValues(lag.Projection, tenant).Set(float64(lag.ErrorCount))
}

// AddProcessed counts events folded by one projection.
func (metrics *Metrics) AddProcessed(projection string, n int) {
	metrics.eventsProcessed.WithLabelValues(projection).Add(float64(n))
}

// ObserveDrain records one drain pass duration in seconds.
func (metrics *Metrics) ObserveDrain(seconds float64) {
	metrics.drainDuration.Observe(seconds)
}

// Handler serves the registry in the prometheus text format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}
