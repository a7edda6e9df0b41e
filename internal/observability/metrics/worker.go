package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

// WorkerMetrics tracks phase-2 runs started from the queue.
type WorkerMetrics struct {
	registry *prometheus.Registry
	pipeline *PipelineMetrics

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runsInFlight  prometheus.Gauge
	lastCompleted prometheus.Gauge
	queueLag      *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	serviceLabel := prometheus.Labels{"service": service}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "symptom",
		Subsystem: "worker",
		Name:      "enrichment_runs_total",
		Help:      "Queued enrichment runs by outcome.",
	}, []string{"service", "outcome"})
	// Upper buckets cover the LLM timeout plus the worker budget.
	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "symptom",
		Subsystem: "worker",
		Name:      "enrichment_run_duration_seconds",
		Help:      "Queued enrichment run duration by outcome.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"service", "outcome"})
	runsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "symptom",
		Subsystem:   "worker",
		Name:        "enrichment_runs_in_flight",
		Help:        "Enrichment runs currently holding a queued analysis.",
		ConstLabels: serviceLabel,
	})
	lastCompleted := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "symptom",
		Subsystem:   "worker",
		Name:        "last_completed_timestamp_seconds",
		Help:        "Unix time of the last analysis this worker completed.",
		ConstLabels: serviceLabel,
	})
	queueLag := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "symptom",
		Subsystem: "worker",
		Name:      "queue_lag_seconds",
		Help:      "Delay between submission and delivery to a worker.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"service"})

	registry.MustRegister(runs, runDuration, runsInFlight, lastCompleted, queueLag)

	return &WorkerMetrics{
		registry:      registry,
		pipeline:      newPipelineMetrics(service, registry),
		runs:          runs,
		runDuration:   runDuration,
		runsInFlight:  runsInFlight,
		lastCompleted: lastCompleted,
		queueLag:      queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Pipeline() *PipelineMetrics {
	return m.pipeline
}

func (m *WorkerMetrics) StartAnalysis() {
	m.runsInFlight.Inc()
}

// FinishAnalysis records one run under the outcome its error maps to.
func (m *WorkerMetrics) FinishAnalysis(service string, duration time.Duration, err error) {
	m.runsInFlight.Dec()

	outcome := domain.OutcomeOf(err)
	m.runs.WithLabelValues(service, outcome).Inc()
	m.runDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
	if err == nil {
		m.lastCompleted.SetToCurrentTime()
	}
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
