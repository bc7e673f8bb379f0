package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/internal/repository"
	"FinFuse/pkg/logger"
	"FinFuse/pkg/metrics"
)

type recordingPublisher struct {
	mu      sync.Mutex
	signals []models.SignalEvent
	jobs    []models.JobEvent
	status  []models.StatusEvent
}

func (p *recordingPublisher) PublishSignalEvent(_ context.Context, ev models.SignalEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, ev)
	return nil
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, ev models.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, ev)
	return nil
}

func (p *recordingPublisher) PublishStatus(_ context.Context, ev models.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = append(p.status, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) signalEvents(kind string) []models.SignalEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.SignalEvent
	for _, ev := range p.signals {
		if ev.Event == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) jobEvents() []models.JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.JobEvent(nil), p.jobs...)
}

type testEnv struct {
	store  *repository.MemorySignalStore
	events *recordingPublisher
	life   *Lifecycle
	agg    *Aggregator
	lgr    *logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemorySignalStore()
	events := &recordingPublisher{}
	lgr := logger.NewNop()
	return &testEnv{
		store:  store,
		events: events,
		life:   NewLifecycle(store, repository.NopArchive{}, events, metrics.Nop{}, lgr),
		agg:    NewAggregator(store, repository.NopArchive{}, events, metrics.Nop{}, lgr, nil),
		lgr:    lgr,
	}
}

func (e *testEnv) create(t *testing.T, symbol string, src models.Source, action models.Action, conf float64) *models.Signal {
	t.Helper()
	sig := mustSignal(t, symbol, src, action, conf, time.Now())
	if err := e.store.Create(context.Background(), sig); err != nil {
		t.Fatalf("create: %v", err)
	}
	return sig
}

func mustSignal(t *testing.T, symbol string, src models.Source, action models.Action, conf float64, now time.Time) *models.Signal {
	t.Helper()
	sig, err := models.NewSignal(models.SignalParams{
		Symbol: symbol, Action: action, Confidence: conf, Source: src,
	}, now)
	if err != nil {
		t.Fatalf("new signal: %v", err)
	}
	return sig
}

// scriptedAdapter reports outcomes asynchronously; fail decides per call.
type scriptedAdapter struct {
	mu       sync.Mutex
	reporter domrepo.OutcomeReporter
	calls    int
	orders   []models.TradeOrder
	fail     func(call int) bool
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) BindReporter(r domrepo.OutcomeReporter) { a.reporter = r }

func (a *scriptedAdapter) Submit(ctx context.Context, order models.TradeOrder) error {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.orders = append(a.orders, order)
	a.mu.Unlock()

	success := a.fail == nil || !a.fail(call)
	go func() {
		_ = a.reporter.ReportJobOutcome(ctx, models.JobOutcome{JobID: order.JobID, Attempt: order.Attempt, Success: success, Details: "scripted"})
	}()
	return nil
}

func (a *scriptedAdapter) Close() error { return nil }

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
