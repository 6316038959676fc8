// Package metrics holds the Prometheus collectors for scrape calls,
// strategy attempts and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, so packages can take one unconditionally.
type Metrics struct {
	ScrapesTotal     *prometheus.CounterVec
	ScrapeDuration   prometheus.Histogram
	AttemptsTotal    *prometheus.CounterVec
	AttemptDuration  *prometheus.HistogramVec
	FieldsMissing    *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	BatchJobsRunning prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScrapesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prodscrape_scrapes_total",
			Help: "Scrape calls by outcome.",
		}, []string{"outcome"}),

		ScrapeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "prodscrape_scrape_duration_seconds",
			Help:    "Wall time of scrape calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30, 60, 120},
		}),

		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prodscrape_strategy_attempts_total",
			Help: "Strategy attempts by strategy, outcome and error kind.",
		}, []string{"strategy", "outcome", "error_kind"}),

		AttemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prodscrape_strategy_attempt_duration_seconds",
			Help:    "Duration of strategy attempts.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"strategy"}),

		FieldsMissing: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prodscrape_fields_missing_total",
			Help: "Fields left null or at their sentinel in returned records.",
		}, []string{"field"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prodscrape_cache_lookups_total",
			Help: "Result cache lookups by result.",
		}, []string{"result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prodscrape_http_requests_total",
			Help: "API requests.",
		}, []string{"method", "path", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prodscrape_http_request_duration_seconds",
			Help:    "API request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		BatchJobsRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "prodscrape_batch_jobs_running",
			Help: "Batch jobs currently in progress.",
		}),
	}
}

func (m *Metrics) ObserveScrape(outcome string, seconds float64, missing []string) {
	if m == nil {
		return
	}
	m.ScrapesTotal.WithLabelValues(outcome).Inc()
	m.ScrapeDuration.Observe(seconds)
	for _, f := range missing {
		m.FieldsMissing.WithLabelValues(f).Inc()
	}
}

func (m *Metrics) ObserveAttempt(strategy, outcome, errorKind string, seconds float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(strategy, outcome, errorKind).Inc()
	m.AttemptDuration.WithLabelValues(strategy).Observe(seconds)
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(seconds)
}

func (m *Metrics) BatchStarted() {
	if m != nil {
		m.BatchJobsRunning.Inc()
	}
}

func (m *Metrics) BatchFinished() {
	if m != nil {
		m.BatchJobsRunning.Dec()
	}
}
