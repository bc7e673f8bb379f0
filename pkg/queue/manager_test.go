package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"FinFuse/pkg/logger"
	"FinFuse/pkg/scheduler"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	return NewManager(logger.NewNop(), scheduler.New(), opts...)
}

func stopManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestManagerRunsHandler(t *testing.T) {
	m := newTestManager(t)
	var calls atomic.Int32
	err := m.Register(HandlerFunc("noop", LaneAnalysis, func(ctx context.Context, job Job) error {
		calls.Add(1)
		return nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopManager(t, m)

	h, err := m.Enqueue(context.Background(), LaneAnalysis, EnqueueOptions{Payload: "run"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if job.State != StateSucceeded || calls.Load() != 1 {
		t.Fatalf("unexpected job %+v calls=%d", job, calls.Load())
	}
	if got, _ := m.Job(h.ID); got.State != StateSucceeded {
		t.Fatalf("expected job in history, got %+v", got)
	}
}

func TestManagerNeverExceedsMaxAttempts(t *testing.T) {
	m := newTestManager(t, WithLaneConfig(LaneTrade, LaneConfig{
		Workers:      3,
		MaxAttempts:  3,
		Backoff:      BackoffPolicy{Kind: BackoffExponential, Base: time.Millisecond},
		LeaseTimeout: time.Second,
	}))
	var calls atomic.Int32
	_ = m.Register(HandlerFunc("failing", LaneTrade, func(ctx context.Context, job Job) error {
		calls.Add(1)
		return errors.New("adapter down")
	}))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopManager(t, m)

	h, _ := m.Enqueue(context.Background(), LaneTrade, EnqueueOptions{Payload: "order"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected ErrJobExhausted, got %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 3 {
		t.Fatalf("expected exactly 3 deliveries, got %d", calls.Load())
	}
	c, _ := m.GetCounts(LaneTrade)
	if c.Exhausted != 1 || c.Queued != 0 || c.Running != 0 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestManagerRecoversHandlerPanic(t *testing.T) {
	m := newTestManager(t, WithLaneConfig(LaneMonitor, LaneConfig{Workers: 1, MaxAttempts: 1}))
	_ = m.Register(HandlerFunc("panics", LaneMonitor, func(ctx context.Context, job Job) error {
		panic("boom")
	}))
	_ = m.Start(context.Background())
	defer stopManager(t, m)

	h, _ := m.Enqueue(context.Background(), LaneMonitor, EnqueueOptions{Payload: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhaustion after panic, got %v", err)
	}
}

func TestManagerLanesAreIndependent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Enqueue(ctx, LaneTrade, EnqueueOptions{Payload: 1})
	_, _ = m.Enqueue(ctx, LaneTrade, EnqueueOptions{Payload: 2})
	_, _ = m.Enqueue(ctx, LaneMonitor, EnqueueOptions{Payload: 3})

	st := m.Status()
	if st.Lanes[LaneTrade].Queued != 2 || st.Lanes[LaneMonitor].Queued != 1 || st.Lanes[LaneAnalysis].Queued != 0 {
		t.Fatalf("unexpected status %+v", st.Lanes)
	}
	if st.Running {
		t.Fatalf("manager not started")
	}
	if _, err := m.GetCounts(LaneUnknown); !errors.Is(err, ErrUnknownLane) {
		t.Fatalf("expected ErrUnknownLane, got %v", err)
	}
	if _, err := m.Job("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestManagerRejectsDuplicateHandler(t *testing.T) {
	m := newTestManager(t)
	h := HandlerFunc("a", LaneTrade, func(context.Context, Job) error { return nil })
	if err := m.Register(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(h); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
