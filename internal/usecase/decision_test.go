package usecase

import (
	"context"
	"errors"
	"testing"

	"FinFuse/internal/domain/models"
	"FinFuse/internal/repository"
	"FinFuse/pkg/cache"
	"FinFuse/pkg/metrics"
	"FinFuse/pkg/queue"
	"FinFuse/pkg/scheduler"
)

type decisionFixture struct {
	*testEnv
	mgr   *queue.Manager
	cache *cache.MemoryCache
	svc   *DecisionService
}

func newDecisionFixture(t *testing.T) *decisionFixture {
	t.Helper()
	env := newTestEnv(t)
	mgr := queue.NewManager(env.lgr, scheduler.New())
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	svc := NewDecisionService(env.store, env.agg, env.life, mgr, c, repository.NopArchive{}, metrics.Nop{}, env.lgr, DecisionConfig{})
	return &decisionFixture{testEnv: env, mgr: mgr, cache: c, svc: svc}
}

func TestRequestDecisionDispatches(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()
	f.create(t, "BTC", models.SourceTechnical, models.ActionBuy, 90)
	f.create(t, "BTC", models.SourcePattern, models.ActionBuy, 80)
	f.create(t, "BTC", models.SourceSentiment, models.ActionSell, 50)

	res, err := f.svc.RequestDecision(ctx, "btc")
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if !res.Dispatched || res.JobID == "" || res.Action != models.ActionBuy {
		t.Fatalf("expected dispatch, got %+v", res)
	}

	job, err := f.mgr.Job(res.JobID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if job.Priority != 100-77 || job.IdempotencyKey != "trade:"+res.Composite.ID {
		t.Fatalf("unexpected job %+v", job)
	}
	comp, _ := f.store.Get(ctx, res.Composite.ID)
	if comp.JobID != res.JobID {
		t.Fatalf("composite job ref = %q, want %q", comp.JobID, res.JobID)
	}
	if counts, _ := f.mgr.GetCounts(queue.LaneTrade); counts.Queued != 1 {
		t.Fatalf("trade counts = %+v", counts)
	}

	last, err := f.svc.LastDecision(ctx, "BTC")
	if err != nil {
		t.Fatalf("last decision: %v", err)
	}
	if last.JobID != res.JobID || last.Composite == nil || last.Composite.ID != res.Composite.ID {
		t.Fatalf("cached decision mismatch: %+v", last)
	}
}

func TestRequestDecisionBelowThresholdStaysPending(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()
	f.create(t, "ETH", models.SourceTechnical, models.ActionBuy, 60)
	f.create(t, "ETH", models.SourceSentiment, models.ActionSell, 50)

	res, err := f.svc.RequestDecision(ctx, "ETH")
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if res.Dispatched || res.Composite == nil || res.Reason == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	comp, _ := f.store.Get(ctx, res.Composite.ID)
	if comp.Status != models.StatusPending || comp.JobID != "" {
		t.Fatalf("composite should stay pending without job: %+v", comp)
	}
	if counts, _ := f.mgr.GetCounts(queue.LaneTrade); counts.Queued != 0 {
		t.Fatalf("nothing should be queued: %+v", counts)
	}
}

func TestRequestDecisionIgnoresComposites(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()
	f.create(t, "SOL", models.SourceTechnical, models.ActionSell, 95)

	first, err := f.svc.RequestDecision(ctx, "SOL")
	if err != nil || !first.Dispatched {
		t.Fatalf("first decision: %+v %v", first, err)
	}
	second, err := f.svc.RequestDecision(ctx, "SOL")
	if err != nil {
		t.Fatalf("second decision: %v", err)
	}
	if len(second.Contributing) != 1 || second.Contributing[0] == first.Composite.ID {
		t.Fatalf("composite fed back into fusion: %v", second.Contributing)
	}
}

func TestRequestDecisionInsufficient(t *testing.T) {
	f := newDecisionFixture(t)
	res, err := f.svc.RequestDecision(context.Background(), "DOGE")
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if !res.Insufficient || res.Dispatched || res.Action != models.ActionHold || res.Confidence != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRequestDecisionInProgress(t *testing.T) {
	f := newDecisionFixture(t)
	ctx := context.Background()
	if ok, _ := f.cache.TryLock(ctx, cache.GenerateKeyWithParams("decision", "lock", "BTC"), 0); !ok {
		t.Fatalf("could not take lock")
	}
	if _, err := f.svc.RequestDecision(ctx, "BTC"); !errors.Is(err, models.ErrDecisionInProgress) {
		t.Fatalf("expected ErrDecisionInProgress, got %v", err)
	}
}

func TestLastDecisionMissing(t *testing.T) {
	f := newDecisionFixture(t)
	if _, err := f.svc.LastDecision(context.Background(), "BTC"); !errors.Is(err, ErrNoDecision) {
		t.Fatalf("expected ErrNoDecision, got %v", err)
	}
}

func TestTradePriority(t *testing.T) {
	cases := map[float64]int{100: 0, 99.9: 1, 77.27: 23, 75: 25}
	for conf, want := range cases {
		if got := TradePriority(conf); got != want {
			t.Fatalf("TradePriority(%v) = %d, want %d", conf, got, want)
		}
	}
}
