package metrics

import (
	"testing"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ domrepo.Metrics = (*Recorder)(nil)
	_ domrepo.Metrics = Nop{}
)

func TestRecorderCounters(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordSignal("technical", "buy")
	r.RecordSignal("technical", "buy")
	r.RecordTransition("pending", "executed")
	r.RecordFusion("BTC", "buy", 77.5)
	r.RecordDispatch("dispatched")

	if got := testutil.ToFloat64(r.signalsTotal.WithLabelValues("technical", "buy")); got != 2 {
		t.Fatalf("expected 2 signals, got %v", got)
	}
	if got := testutil.ToFloat64(r.transitionsTotal.WithLabelValues("pending", "executed")); got != 1 {
		t.Fatalf("expected 1 transition, got %v", got)
	}
	if got := testutil.ToFloat64(r.fusionConfidence.WithLabelValues("BTC")); got != 77.5 {
		t.Fatalf("expected confidence gauge 77.5, got %v", got)
	}
	if got := testutil.ToFloat64(r.dispatchesTotal.WithLabelValues("dispatched")); got != 1 {
		t.Fatalf("expected 1 dispatch, got %v", got)
	}
}

func TestRecorderLaneCounts(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())
	r.RecordLaneCounts("trade", models.LaneCounts{Queued: 3, Succeeded: 2, Exhausted: 1})

	cases := map[string]float64{"queued": 3, "running": 0, "succeeded": 2, "failed": 0, "exhausted": 1}
	for state, want := range cases {
		if got := testutil.ToFloat64(r.laneJobs.WithLabelValues("trade", state)); got != want {
			t.Fatalf("%s: expected %v, got %v", state, want, got)
		}
	}
}
