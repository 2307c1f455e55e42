// Package metrics provides Prometheus metrics for classification runs.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status labels for processed images.
const (
	StatusScored = "scored"
	StatusFailed = "failed"
)

// Collector owns every metric emitted by the pipeline. It registers on its
// own registry so that several collectors can live in one process (tests).
// A nil *Collector records nothing.
type Collector struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	imagesProcessed  *prometheus.CounterVec
	failuresByKind   *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	inferenceLatency prometheus.Histogram
	modelLoads       *prometheus.CounterVec
	workersActive    prometheus.Gauge
	runsTotal        prometheus.Counter
}

// NewCollector creates a collector with default configuration.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		namespace:        "classify",
		subsystem:        "pipeline",
		histogramBuckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		registry:         prometheus.NewRegistry(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.initializeMetrics()
	return c
}

func (c *Collector) initializeMetrics() {
	auto := promauto.With(c.registry)

	c.imagesProcessed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      "images_processed_total",
		Help:      "Images that went through the pipeline, by outcome",
	}, []string{"status"})

	c.failuresByKind = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      "image_failures_total",
		Help:      "Per-image failures by error kind and stage",
	}, []string{"kind", "stage"})

	c.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each preprocessing stage",
		Buckets:   c.histogramBuckets,
	}, []string{"stage"})

	c.inferenceLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      "inference_duration_seconds",
		Help:      "Forward pass latency",
		Buckets:   c.histogramBuckets,
	})

	c.modelLoads = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      "model_loads_total",
		Help:      "Model load attempts by backend and outcome",
	}, []string{"backend", "status"})

	c.workersActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      "workers_active",
		Help:      "Workers currently processing an image",
	})

	c.runsTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      "runs_total",
		Help:      "Pipeline passes started",
	})
}

// Registry returns the registry the collector registers on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordImage counts one processed image.
func (c *Collector) RecordImage(status string) {
	if c == nil {
		return
	}
	c.imagesProcessed.WithLabelValues(status).Inc()
}

// RecordFailure counts one per-image failure.
func (c *Collector) RecordFailure(kind, stage string) {
	if c == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	c.failuresByKind.WithLabelValues(kind, stage).Inc()
}

// ObserveStage records the duration of a preprocessing stage.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveInference records the duration of one forward pass.
func (c *Collector) ObserveInference(d time.Duration) {
	if c == nil {
		return
	}
	c.inferenceLatency.Observe(d.Seconds())
}

// RecordModelLoad counts a model load attempt.
func (c *Collector) RecordModelLoad(backend string, ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.modelLoads.WithLabelValues(backend, status).Inc()
}

// WorkerStarted marks a worker as busy with an image.
func (c *Collector) WorkerStarted() {
	if c != nil {
		c.workersActive.Inc()
	}
}

// WorkerDone marks a worker as idle again.
func (c *Collector) WorkerDone() {
	if c != nil {
		c.workersActive.Dec()
	}
}

// RecordRun counts a pipeline pass.
func (c *Collector) RecordRun() {
	if c != nil {
		c.runsTotal.Inc()
	}
}

// WriteTextfile writes the registry in the text exposition format to path,
// for pickup by the node-exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return errors.New("no metrics collector")
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return errors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}
