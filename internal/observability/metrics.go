package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline.
type Metrics struct {
	BatchesIngested prometheus.Counter
	RecordsIngested prometheus.Counter
	IngestFailures  *prometheus.CounterVec // labels: stage={parsed,environment_ready,scored,stored}

	// ZIP resolution and environmental fetch metrics.
	ZipLookups  *prometheus.CounterVec // labels: outcome={ok,invalid,error}
	EnvFetches  *prometheus.CounterVec // labels: mode={daily,hourly}, outcome={success,error}
	CacheReads  *prometheus.CounterVec // labels: result={hit,miss}
	CacheWrites prometheus.Counter

	// Scoring delegate metrics.
	DelegateDuration prometheus.Histogram
	DelegateFailures prometheus.Counter

	// Result store metrics.
	StoreReplaceDuration prometheus.Histogram
	RowsStored           *prometheus.GaugeVec   // labels: table={scored_rows,environment_rows}
	Queries              *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.BatchesIngested,
		m.RecordsIngested,
		m.IngestFailures,
		m.ZipLookups,
		m.EnvFetches,
		m.CacheReads,
		m.CacheWrites,
		m.DelegateDuration,
		m.DelegateFailures,
		m.StoreReplaceDuration,
		m.RowsStored,
		m.Queries,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		BatchesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_risk",
			Name:      "batches_ingested_total",
			Help:      "Total successfully ingested batches.",
		}),
		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_risk",
			Name:      "records_ingested_total",
			Help:      "Total records parsed from ingested batches.",
		}),
		IngestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_risk",
			Name:      "ingest_failures_total",
			Help:      "Request-fatal ingestion failures by pipeline stage.",
		}, []string{"stage"}),
		ZipLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_risk",
			Name:      "zip_lookups_total",
			Help:      "ZIP location lookups by outcome.",
		}, []string{"outcome"}),
		EnvFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_risk",
			Name:      "env_fetches_total",
			Help:      "Environmental data fetches by mode and outcome.",
		}, []string{"mode", "outcome"}),
		CacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_risk",
			Name:      "cache_reads_total",
			Help:      "Daily cache lookups by result.",
		}, []string{"result"}),
		CacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_risk",
			Name:      "cache_writes_total",
			Help:      "Daily cache save operations.",
		}),
		DelegateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_risk",
			Name:      "delegate_duration_seconds",
			Help:      "Duration of scoring delegate invocations.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		DelegateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_risk",
			Name:      "delegate_failures_total",
			Help:      "Scoring delegate invocations that failed.",
		}),
		StoreReplaceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_risk",
			Name:      "store_replace_duration_seconds",
			Help:      "Duration of result store generation replacements.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		RowsStored: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "climate_risk",
			Name:      "rows_stored",
			Help:      "Rows held by the result store per table, latest generation.",
		}, []string{"table"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_risk",
			Name:      "queries_total",
			Help:      "Ad hoc query executions by outcome.",
		}, []string{"outcome"}),
	}
}
