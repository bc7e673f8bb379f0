package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ModelMetrics tracks calls to the out-of-process model service.
type ModelMetrics struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
	cache   *prometheus.CounterVec
}

func NewModelMetrics(reg prometheus.Registerer) *ModelMetrics {
	f := promauto.With(reg)
	return &ModelMetrics{
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "finfuse",
				Subsystem: "model",
				Name:      "latency_seconds",
				Help:      "Latency of model service calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "finfuse",
				Subsystem: "model",
				Name:      "errors_total",
				Help:      "Failed model service calls by source",
			},
			[]string{"source"},
		),
		cache: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "finfuse",
				Subsystem: "model",
				Name:      "cache_total",
				Help:      "Opinion cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// Observe records one call. A nil receiver records nothing.
func (m *ModelMetrics) Observe(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(source).Observe(d.Seconds())
	if err != nil {
		m.errors.WithLabelValues(source).Inc()
	}
}

func (m *ModelMetrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}
