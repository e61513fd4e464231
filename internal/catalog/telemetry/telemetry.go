// Package telemetry exposes Prometheus metrics for the catalog: HTTP
// traffic, sync cycles, and validation outcomes.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the catalog records. One instance is
// created at startup and shared by the router, syncer, and orchestrator.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	ErrorCount      *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	RecordsFetched  *prometheus.CounterVec
	RecordsFiltered *prometheus.CounterVec
	SourceErrors    *prometheus.CounterVec
	ServersMerged   prometheus.Gauge
	SyncCycles      prometheus.Counter

	Validations        *prometheus.CounterVec
	ValidationDuration prometheus.Histogram
}

// InitMetrics registers all catalog instruments on a fresh registry.
func InitMetrics(version string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := newFactory(registry)

	m := &Metrics{
		registry: registry,

		Requests: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpdex_http_requests_total",
			Help: "Total HTTP requests handled, by method, path, and status code.",
		}, []string{"method", "path", "status_code"}),
		ErrorCount: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpdex_http_request_errors_total",
			Help: "HTTP requests that returned a 4xx or 5xx status.",
		}, []string{"method", "path", "status_code"}),
		RequestDuration: factory.histogramVec(prometheus.HistogramOpts{
			Name:    "mcpdex_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		RecordsFetched: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpdex_sync_records_fetched_total",
			Help: "Candidate records fetched from sources.",
		}, []string{"source"}),
		RecordsFiltered: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpdex_sync_records_filtered_total",
			Help: "Candidate records dropped by quality filters.",
		}, []string{"source"}),
		SourceErrors: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpdex_sync_source_errors_total",
			Help: "Per-record decode or fetch errors by source.",
		}, []string{"source"}),
		ServersMerged: factory.gauge(prometheus.GaugeOpts{
			Name: "mcpdex_servers_merged",
			Help: "Canonical servers produced by the latest sync cycle.",
		}),
		SyncCycles: factory.counter(prometheus.CounterOpts{
			Name: "mcpdex_sync_cycles_total",
			Help: "Completed sync cycles since startup.",
		}),

		Validations: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpdex_validations_total",
			Help: "Validation attempts by outcome.",
		}, []string{"outcome"}),
		ValidationDuration: factory.histogram(prometheus.HistogramOpts{
			Name:    "mcpdex_validation_duration_seconds",
			Help:    "Wall-clock duration of validation attempts.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}

	buildInfo := factory.gaugeVec(prometheus.GaugeOpts{
		Name: "mcpdex_build_info",
		Help: "Build information, value fixed at 1.",
	}, []string{"version"})
	buildInfo.WithLabelValues(version).Set(1)

	return m
}

// PrometheusHandler serves the registry in the standard exposition format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// promauto-style factory bound to the catalog registry.
type factory struct {
	registry *prometheus.Registry
}

func newFactory(registry *prometheus.Registry) factory {
	return factory{registry: registry}
}

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.registry.MustRegister(c)
	return c
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.registry.MustRegister(c)
	return c
}

func (f factory) gauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	f.registry.MustRegister(g)
	return g
}

func (f factory) gaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(opts, labels)
	f.registry.MustRegister(g)
	return g
}

func (f factory) histogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	f.registry.MustRegister(h)
	return h
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.registry.MustRegister(h)
	return h
}
