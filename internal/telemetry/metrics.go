// Package telemetry exports Prometheus metrics for the extraction pipeline
// and scheduler, following the teacher corpus's PrometheusExporter idiom
// (ai/metrics/prometheus.go) of a struct holding pre-registered collectors
// behind small Record*/Set* methods.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors the extraction pipeline and scheduler report
// to.
type Metrics struct {
	registry *prometheus.Registry

	extractionsStarted   prometheus.Counter
	extractionsSucceeded prometheus.Counter
	extractionsFailed    *prometheus.CounterVec
	queueDepth           prometheus.Gauge
	stageLatency         *prometheus.HistogramVec
}

// Config configures the metrics registry.
type Config struct {
	// Registry to register collectors against. A fresh one is created if nil.
	Registry *prometheus.Registry
}

// New creates and registers the metrics collectors.
func New(cfg Config) *Metrics {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		extractionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatmemory",
			Subsystem: "extraction",
			Name:      "runs_started_total",
			Help:      "Total number of extraction runs started.",
		}),
		extractionsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatmemory",
			Subsystem: "extraction",
			Name:      "runs_succeeded_total",
			Help:      "Total number of extraction runs that completed without error.",
		}),
		extractionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatmemory",
			Subsystem: "extraction",
			Name:      "runs_failed_total",
			Help:      "Total number of extraction runs that failed, by error kind.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatmemory",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Number of extraction jobs currently tracked, including failed jobs retained for their TTL.",
		}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatmemory",
			Subsystem: "extraction",
			Name:      "stage_latency_seconds",
			Help:      "Latency of one extraction pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	registry.MustRegister(
		m.extractionsStarted,
		m.extractionsSucceeded,
		m.extractionsFailed,
		m.queueDepth,
		m.stageLatency,
	)

	return m
}

func (m *Metrics) ExtractionStarted() { m.extractionsStarted.Inc() }

func (m *Metrics) ExtractionSucceeded() { m.extractionsSucceeded.Inc() }

func (m *Metrics) ExtractionFailed(kind string) { m.extractionsFailed.WithLabelValues(kind).Inc() }

func (m *Metrics) SetQueueDepth(depth int) { m.queueDepth.Set(float64(depth)) }

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler returns the HTTP handler serving this registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
