package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the run engine. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	TranslationLookups   *prometheus.CounterVec
	TranslationEvictions prometheus.Counter
	TranslationFailures  *prometheus.CounterVec

	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	ResultSubmissions *prometheus.CounterVec
	SlotRefreshes     *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TranslationLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_translation_cache_lookups_total",
				Help: "Translation cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		TranslationEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "runengine_translation_cache_evictions_total",
				Help: "Translation cache entries evicted by forced refresh or case invalidation",
			},
		),
		TranslationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_translation_failures_total",
				Help: "Cases that fell back to original text",
			},
			[]string{"reason"},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_provider_calls_total",
				Help: "Translation provider batch calls",
			},
			[]string{"source", "target", "success"},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runengine_provider_latency_seconds",
				Help:    "Translation provider batch call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"source", "target"},
		),
		ResultSubmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_result_submissions_total",
				Help: "Result submissions by disposition",
			},
			[]string{"disposition"},
		),
		SlotRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_slot_refreshes_total",
				Help: "Snapshot refreshes applied when closing runs",
			},
			[]string{"outcome"},
		),
	}
}

func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheLookup(tier, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TranslationLookups.WithLabelValues(tier, result).Add(float64(n))
}

func (m *Metrics) CacheEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TranslationEvictions.Add(float64(n))
}

func (m *Metrics) TranslationFailed(reason string) {
	if m == nil {
		return
	}
	m.TranslationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ProviderCall(source, target string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(source, target, strconv.FormatBool(err == nil)).Inc()
	m.ProviderLatency.WithLabelValues(source, target).Observe(elapsed.Seconds())
}

func (m *Metrics) ResultSubmitted(disposition string) {
	if m == nil {
		return
	}
	m.ResultSubmissions.WithLabelValues(disposition).Inc()
}

func (m *Metrics) SlotRefreshed(outcome string) {
	if m == nil {
		return
	}
	m.SlotRefreshes.WithLabelValues(outcome).Inc()
}
