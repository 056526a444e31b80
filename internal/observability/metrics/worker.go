package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	importTotal       *prometheus.CounterVec
	importDuration    *prometheus.HistogramVec
	importInFlight    prometheus.Gauge
	documentsTotal    *prometheus.CounterVec
	embeddingFailures *prometheus.CounterVec
	reconcileOrphans  prometheus.Gauge
	reconcileMissing  prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	importTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexia",
			Subsystem: "ingest",
			Name:      "import_runs_total",
			Help:      "Total import runs by source and status.",
		},
		[]string{"service", "source", "status"},
	)
	importDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lexia",
			Subsystem: "ingest",
			Name:      "import_duration_seconds",
			Help:      "Import run duration in seconds by source.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service", "source"},
	)
	importInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lexia",
			Subsystem: "ingest",
			Name:      "import_in_flight",
			Help:      "Number of in-flight import runs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexia",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total documents seen by import runs, by source and outcome.",
		},
		[]string{"service", "source", "outcome"},
	)
	embeddingFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexia",
			Subsystem: "ingest",
			Name:      "embedding_failures_total",
			Help:      "Total chunks kept relational-only after embedding failed.",
		},
		[]string{"service", "source"},
	)
	reconcileOrphans := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lexia",
			Subsystem: "store",
			Name:      "reconcile_orphan_vectors",
			Help:      "Orphan vector entries deleted by the last reconciliation pass.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	reconcileMissing := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lexia",
			Subsystem: "store",
			Name:      "reconcile_missing_vectors",
			Help:      "Relational chunks without a vector found by the last reconciliation pass.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		importTotal,
		importDuration,
		importInFlight,
		documentsTotal,
		embeddingFailures,
		reconcileOrphans,
		reconcileMissing,
	)

	return &WorkerMetrics{
		registry:          registry,
		importTotal:       importTotal,
		importDuration:    importDuration,
		importInFlight:    importInFlight,
		documentsTotal:    documentsTotal,
		embeddingFailures: embeddingFailures,
		reconcileOrphans:  reconcileOrphans,
		reconcileMissing:  reconcileMissing,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartImport() {
	m.importInFlight.Inc()
}

func (m *WorkerMetrics) FinishImport(service, source string, duration time.Duration, err error) {
	m.importInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.importTotal.WithLabelValues(service, source, status).Inc()
	m.importDuration.WithLabelValues(service, source).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveImportStats(service, source string, ingested, skipped, failed int) {
	m.documentsTotal.WithLabelValues(service, source, "ingested").Add(float64(ingested))
	m.documentsTotal.WithLabelValues(service, source, "skipped").Add(float64(skipped))
	m.documentsTotal.WithLabelValues(service, source, "failed").Add(float64(failed))
}

func (m *WorkerMetrics) ObserveEmbeddingFailures(service, source string, count int) {
	if count <= 0 {
		return
	}
	m.embeddingFailures.WithLabelValues(service, source).Add(float64(count))
}

func (m *WorkerMetrics) ObserveReconcile(orphansDeleted, missingVectors int) {
	m.reconcileOrphans.Set(float64(orphansDeleted))
	m.reconcileMissing.Set(float64(missingVectors))
}
