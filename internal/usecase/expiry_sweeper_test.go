package usecase

import (
	"context"
	"testing"
	"time"

	"FinFuse/internal/domain/models"
	"FinFuse/pkg/metrics"
	"FinFuse/pkg/scheduler"
)

func TestSweepExpiresOnlyPastDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	stale := mustSignal(t, "BTC", models.SourceSentiment, models.ActionBuy, 80, now.Add(-10*time.Hour))
	fresh := mustSignal(t, "BTC", models.SourceTechnical, models.ActionBuy, 80, now)
	done := mustSignal(t, "ETH", models.SourceSentiment, models.ActionSell, 60, now.Add(-10*time.Hour))
	for _, s := range []*models.Signal{stale, fresh, done} {
		if err := env.store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := env.life.Transition(ctx, done.ID, models.StatusCancelled, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	sw := NewExpirySweeper(env.store, env.life, scheduler.New(), metrics.Nop{}, env.lgr, time.Minute)
	n, err := sw.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v; want 1", n, err)
	}

	got, _ := env.store.Get(ctx, stale.ID)
	if got.Status != models.StatusExpired {
		t.Fatalf("stale status = %s", got.Status)
	}
	if got, _ := env.store.Get(ctx, fresh.ID); got.Status != models.StatusPending {
		t.Fatalf("fresh status = %s", got.Status)
	}
	if got, _ := env.store.Get(ctx, done.ID); got.Status != models.StatusCancelled {
		t.Fatalf("terminal signal touched: %s", got.Status)
	}

	n, _ = sw.Sweep(ctx)
	if n != 0 {
		t.Fatalf("second sweep expired %d", n)
	}
}

func TestSweeperRunsOnScheduler(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stale := mustSignal(t, "BTC", models.SourceSentiment, models.ActionBuy, 80, time.Now().Add(-10*time.Hour))
	_ = env.store.Create(ctx, stale)

	sched := scheduler.New()
	sched.Start(ctx)
	defer sched.Stop(context.Background())

	sw := NewExpirySweeper(env.store, env.life, sched, metrics.Nop{}, env.lgr, 10*time.Millisecond)
	sw.Start(ctx)
	defer sw.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := env.store.Get(ctx, stale.ID); got.Status == models.StatusExpired {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sweeper never expired the signal")
}
