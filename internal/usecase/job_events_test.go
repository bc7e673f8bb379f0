package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"FinFuse/internal/domain/models"
	"FinFuse/pkg/metrics"
	"FinFuse/pkg/queue"
	"FinFuse/pkg/scheduler"
)

func TestJobEventsPublishesTerminalJobs(t *testing.T) {
	env := newTestEnv(t)
	mgr := queue.NewManager(env.lgr, scheduler.New(),
		queue.WithLaneConfig(queue.LaneTrade, queue.LaneConfig{
			Workers:      1,
			MaxAttempts:  1,
			Backoff:      queue.BackoffPolicy{Kind: queue.BackoffFixed, Base: time.Millisecond},
			LeaseTimeout: time.Second,
			HistorySize:  8,
		}))
	NewJobEvents(env.events, metrics.Nop{}, env.lgr).Attach(mgr)

	boom := errors.New("boom")
	if err := mgr.Register(queue.HandlerFunc("test", queue.LaneTrade, func(ctx context.Context, job queue.Job) error {
		return queue.Permanent(boom)
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = mgr.Stop(context.Background()) }()

	h, err := mgr.Enqueue(ctx, queue.LaneTrade, queue.EnqueueOptions{Payload: models.TradePayload{SignalID: "sig-1"}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	if _, err := h.Wait(wctx); !errors.Is(err, queue.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(env.events.jobEvents()) == 1 })
	ev := env.events.jobEvents()[0]
	if ev.JobID != h.ID || ev.Lane != "trade" || ev.State != "failed" || ev.SignalID != "sig-1" || ev.Error == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
