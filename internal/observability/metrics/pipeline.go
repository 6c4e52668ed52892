package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	registry *prometheus.Registry

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runsInFlight  prometheus.Gauge
	runTotal      *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	sweepHealed         prometheus.Counter
	sweepReset          prometheus.Counter
	sweepLocksReclaimed prometheus.Counter

	deliverWait prometheus.Histogram
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docstream",
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Settled pipeline stages by stage and status.",
		},
		[]string{"stage", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docstream",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds by stage and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "status"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docstream",
			Subsystem: "pipeline",
			Name:      "runs_in_flight",
			Help:      "Number of documents currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docstream",
			Subsystem: "pipeline",
			Name:      "run_total",
			Help:      "Finished pipeline runs by result.",
		},
		[]string{"result"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docstream",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Full pipeline run duration in seconds by result.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)
	sweepHealed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docstream",
			Subsystem: "sweeper",
			Name:      "healed_total",
			Help:      "Documents whose recorded state was healed to match the evidence.",
		},
	)
	sweepReset := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docstream",
			Subsystem: "sweeper",
			Name:      "reset_total",
			Help:      "Documents reset and re-enqueued by the sweeper.",
		},
	)
	sweepLocksReclaimed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docstream",
			Subsystem: "sweeper",
			Name:      "locks_reclaimed_total",
			Help:      "Stale processing locks released by the sweeper.",
		},
	)
	deliverWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docstream",
			Subsystem: "pipeline",
			Name:      "deliver_wait_seconds",
			Help:      "Time spent waiting on the shared delivery rate limiter.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 3, 5, 10, 30},
		},
	)

	registry.MustRegister(
		stageTotal, stageDuration, runsInFlight, runTotal, runDuration,
		sweepHealed, sweepReset, sweepLocksReclaimed, deliverWait,
	)

	return &PipelineMetrics{
		registry:            registry,
		stageTotal:          stageTotal,
		stageDuration:       stageDuration,
		runsInFlight:        runsInFlight,
		runTotal:            runTotal,
		runDuration:         runDuration,
		sweepHealed:         sweepHealed,
		sweepReset:          sweepReset,
		sweepLocksReclaimed: sweepLocksReclaimed,
		deliverWait:         deliverWait,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartRun() {
	m.runsInFlight.Inc()
}

func (m *PipelineMetrics) FinishRun(duration time.Duration, err error) {
	m.runsInFlight.Dec()

	result := "success"
	if err != nil {
		result = "error"
	}
	m.runTotal.WithLabelValues(result).Inc()
	m.runDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveStage(stage, status string, duration time.Duration) {
	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveSweep(healed, reset, locksReclaimed int64) {
	m.sweepHealed.Add(float64(healed))
	m.sweepReset.Add(float64(reset))
	m.sweepLocksReclaimed.Add(float64(locksReclaimed))
}

func (m *PipelineMetrics) ObserveDeliverWait(wait time.Duration) {
	if wait < 0 {
		return
	}
	m.deliverWait.Observe(wait.Seconds())
}
