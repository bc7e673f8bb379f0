package metrics

import (
	"FinFuse/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsTotal     *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	fusionsTotal     *prometheus.CounterVec
	fusionConfidence *prometheus.GaugeVec
	dispatchesTotal  *prometheus.CounterVec
	jobsTotal        *prometheus.CounterVec
	laneJobs         *prometheus.GaugeVec
	errorsTotal      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder on reg. Tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		signalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_signals_ingested_total",
				Help: "Signals accepted into the store",
			},
			[]string{"source", "action"},
		),
		transitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_signal_transitions_total",
				Help: "Signal lifecycle transitions applied",
			},
			[]string{"from", "to"},
		),
		fusionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_fusions_total",
				Help: "Fusion results by action",
			},
			[]string{"action"},
		),
		fusionConfidence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finfuse_fusion_confidence",
				Help: "Confidence of the last fusion for a symbol",
			},
			[]string{"symbol"},
		),
		dispatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_dispatch_total",
				Help: "Decision gate outcomes",
			},
			[]string{"outcome"},
		),
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_jobs_finished_total",
				Help: "Jobs reaching a terminal state",
			},
			[]string{"lane", "state"},
		),
		laneJobs: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finfuse_lane_jobs",
				Help: "Jobs per lane and state at the last monitor tick",
			},
			[]string{"lane", "state"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finfuse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordSignal(source, action string) {
	r.signalsTotal.WithLabelValues(source, action).Inc()
}

func (r *Recorder) RecordTransition(from, to string) {
	r.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordFusion counts a fusion and remembers its confidence per symbol.
func (r *Recorder) RecordFusion(symbol, action string, confidence float64) {
	r.fusionsTotal.WithLabelValues(action).Inc()
	r.fusionConfidence.WithLabelValues(symbol).Set(confidence)
}

func (r *Recorder) RecordDispatch(outcome string) {
	r.dispatchesTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordJob(lane, state string) {
	r.jobsTotal.WithLabelValues(lane, state).Inc()
}

// RecordLaneCounts publishes a lane snapshot as gauges.
func (r *Recorder) RecordLaneCounts(lane string, c models.LaneCounts) {
	r.laneJobs.WithLabelValues(lane, "queued").Set(float64(c.Queued))
	r.laneJobs.WithLabelValues(lane, "running").Set(float64(c.Running))
	r.laneJobs.WithLabelValues(lane, "succeeded").Set(float64(c.Succeeded))
	r.laneJobs.WithLabelValues(lane, "failed").Set(float64(c.Failed))
	r.laneJobs.WithLabelValues(lane, "exhausted").Set(float64(c.Exhausted))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordSignal(string, string) {}
func (Nop) RecordTransition(string, string) {}
func (Nop) RecordFusion(string, string, float64) {}
func (Nop) RecordDispatch(string) {}
func (Nop) RecordJob(string, string) {}
func (Nop) RecordLaneCounts(string, models.LaneCounts) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
