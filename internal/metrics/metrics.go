// Package metrics exposes Prometheus collectors for the fetch engine and the
// ETL runs built on it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pet_scraper"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	fetchAttempts *prometheus.CounterVec
	fetchOutcomes *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	retryBackoff  prometheus.Histogram
	paceSeconds   prometheus.Histogram
	urlsScraped   *prometheus.CounterVec
	linksFound    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the global default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		fetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Single navigation attempts by result (success, skip, transient).",
		}, []string{"result"}),
		fetchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "outcomes_total",
			Help:      "Top-level fetch outcomes (document, skipped, failed).",
		}, []string{"outcome"}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Time spent in a top-level fetch including retries, excluding pacing.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		retryBackoff: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "retry_backoff_seconds",
			Help:      "Backoff delays slept before retrying a transient failure.",
			Buckets:   []float64{1, 2, 3, 4, 5, 10, 30},
		}),
		paceSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pace_seconds",
			Help:      "Randomized pacing delays between requests.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 30, 60},
		}),
		urlsScraped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "urls_scraped_total",
			Help:      "Product URLs processed by shop and final status.",
		}, []string{"shop", "status"}),
		linksFound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "etl",
			Name:      "links_found_total",
			Help:      "Product links discovered per shop.",
		}, []string{"shop"}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveAttempt(result string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveOutcome(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetchOutcomes.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBackoff(delay time.Duration) {
	if m == nil {
		return
	}
	m.retryBackoff.Observe(delay.Seconds())
}

func (m *Metrics) ObservePace(delay time.Duration) {
	if m == nil {
		return
	}
	m.paceSeconds.Observe(delay.Seconds())
}

func (m *Metrics) ObserveURL(shop, status string) {
	if m == nil {
		return
	}
	m.urlsScraped.WithLabelValues(shop, status).Inc()
}

func (m *Metrics) AddLinks(shop string, n int) {
	if m == nil {
		return
	}
	m.linksFound.WithLabelValues(shop).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
