// Package metrics exposes Prometheus instrumentation for recording sessions.
// Every method is safe to call on a nil *Collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds the session pipeline metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	sessionsActive    prometheus.Gauge
	sessionsStarted   prometheus.Counter
	sessionsFinalized *prometheus.CounterVec
	finalizeDuration  prometheus.Histogram

	capturesStarted prometheus.Counter
	audioBytes      prometheus.Counter

	transcriptions        *prometheus.CounterVec
	transcriptionDuration prometheus.Histogram
	summaries             *prometheus.CounterVec
	deliveries            *prometheus.CounterVec
	artifactsDeleted      *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.sessionsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of recording sessions currently capturing or finalizing",
	})
	c.sessionsStarted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Total number of recording sessions started",
	})
	c.sessionsFinalized = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_finalized_total",
		Help:      "Total number of finalized sessions by trigger",
	}, []string{"trigger"})
	c.finalizeDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "finalize_duration_seconds",
		Help:      "Time from finalize trigger to session closed",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	})

	c.capturesStarted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_started_total",
		Help:      "Total number of speaker capture spans opened",
	})
	c.audioBytes = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_bytes_total",
		Help:      "PCM bytes written to artifacts",
	})

	c.transcriptions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcriptions_total",
		Help:      "Per-speaker transcription outcomes",
	}, []string{"outcome"})
	c.transcriptionDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcription_duration_seconds",
		Help:      "Transcriber call duration in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
	c.summaries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "summaries_total",
		Help:      "Summary generation outcomes",
	}, []string{"status"})
	c.deliveries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Delivery attempts by kind and status",
	}, []string{"kind", "status"})
	c.artifactsDeleted = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifacts_cleanup_total",
		Help:      "Artifact cleanup results",
	}, []string{"status"})

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsStarted.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionFinalized(trigger string, took time.Duration) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.sessionsFinalized.WithLabelValues(trigger).Inc()
	c.finalizeDuration.Observe(took.Seconds())
}

func (c *Collector) CaptureStarted() {
	if c == nil {
		return
	}
	c.capturesStarted.Inc()
}

func (c *Collector) AudioWritten(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.audioBytes.Add(float64(n))
}

// TranscriptionObserved records one per-speaker outcome. took is zero when
// the transcriber was never called.
func (c *Collector) TranscriptionObserved(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.transcriptions.WithLabelValues(outcome).Inc()
	if took > 0 {
		c.transcriptionDuration.Observe(took.Seconds())
	}
}

func (c *Collector) SummaryObserved(status string) {
	if c == nil {
		return
	}
	c.summaries.WithLabelValues(status).Inc()
}

func (c *Collector) DeliveryObserved(kind string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.deliveries.WithLabelValues(kind, status).Inc()
}

func (c *Collector) ArtifactCleaned(err error) {
	if c == nil {
		return
	}
	status := "deleted"
	if err != nil {
		status = "error"
	}
	c.artifactsDeleted.WithLabelValues(status).Inc()
}
