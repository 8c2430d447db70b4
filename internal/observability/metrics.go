package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_exposure"

// Metrics holds the Prometheus counters, histograms, and gauges for the scoring pipeline.
type Metrics struct {
	ScoringRuns     *prometheus.CounterVec // labels: outcome={success,source_error,scoring_error,sink_error}
	EventsIngested  prometheus.Counter
	PlacesScored    prometheus.Counter
	PlacesExposed   prometheus.Gauge
	MaxPGA          prometheus.Gauge
	PipelineRunning prometheus.Gauge

	ScoringDuration prometheus.Histogram

	// Sink metrics.
	RecordsPublished *prometheus.CounterVec // labels: sink={kafka,postgres}

	// Source metrics.
	SourceRequests *prometheus.CounterVec   // labels: source={usgs,naturalearth}, outcome={success,error}
	SourceDuration *prometheus.HistogramVec // labels: source
	CacheLookups   *prometheus.CounterVec   // labels: cache={events,places}, result={hit,miss}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ScoringRuns,
		m.EventsIngested,
		m.PlacesScored,
		m.PlacesExposed,
		m.MaxPGA,
		m.PipelineRunning,
		m.ScoringDuration,
		m.RecordsPublished,
		m.SourceRequests,
		m.SourceDuration,
		m.CacheLookups,
	)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ScoringRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_runs_total",
			Help:      "Scoring cycles by outcome.",
		}, []string{"outcome"}),
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Total events fed into scoring cycles.",
		}),
		PlacesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "places_scored_total",
			Help:      "Total exposure records produced.",
		}),
		PlacesExposed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "places_exposed",
			Help:      "Places with non-zero peak ground acceleration in the latest run.",
		}),
		MaxPGA: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_pga_g",
			Help:      "Largest peak ground acceleration (g) in the latest run.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		ScoringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_duration_seconds",
			Help:      "Duration of the scoring step of a cycle.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		RecordsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_published_total",
			Help:      "Exposure records written by sink.",
		}, []string{"sink"}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Upstream data requests by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Upstream data request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Source cache lookups by cache and result.",
		}, []string{"cache", "result"}),
	}
}
