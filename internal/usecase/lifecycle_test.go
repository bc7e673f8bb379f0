package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"FinFuse/internal/domain/models"
	"FinFuse/internal/repository"
	"FinFuse/pkg/metrics"
)

func TestLifecycleTransitionTerminalIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sig := env.create(t, "BTC", models.SourceTechnical, models.ActionBuy, 80)

	if _, err := env.life.Transition(ctx, sig.ID, models.StatusExpired, nil); err != nil {
		t.Fatalf("expire: %v", err)
	}
	_, err := env.life.Transition(ctx, sig.ID, models.StatusExecuted, nil)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *models.TransitionError
	if !errors.As(err, &te) || te.From != models.StatusExpired {
		t.Fatalf("expected TransitionError from expired, got %v", err)
	}
	cur, _ := env.store.Get(ctx, sig.ID)
	if cur.Status != models.StatusExpired {
		t.Fatalf("status = %s, want expired", cur.Status)
	}
	if n := len(env.events.signalEvents(models.SignalEventTransition)); n != 1 {
		t.Fatalf("transition events = %d, want 1", n)
	}
}

func TestSettleIsNoopOnTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sig := env.create(t, "ETH", models.SourceSentiment, models.ActionSell, 70)

	got, applied, err := env.life.Settle(ctx, sig.ID, models.StatusExecuted, nil)
	if err != nil || !applied || got.Status != models.StatusExecuted {
		t.Fatalf("first settle: %+v applied=%v err=%v", got, applied, err)
	}
	got, applied, err = env.life.Settle(ctx, sig.ID, models.StatusExpired, nil)
	if err != nil || applied || got.Status != models.StatusExecuted {
		t.Fatalf("second settle should be a no-op: %+v applied=%v err=%v", got, applied, err)
	}
}

func TestConcurrentSettleSingleWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		env := newTestEnv(t)
		ctx := context.Background()
		sig := env.create(t, "BTC", models.SourceTechnical, models.ActionBuy, 90)

		var wg sync.WaitGroup
		applied := make([]bool, 2)
		targets := []models.Status{models.StatusExecuted, models.StatusExpired}
		for j, to := range targets {
			wg.Add(1)
			go func(j int, to models.Status) {
				defer wg.Done()
				_, ok, err := env.life.Settle(ctx, sig.ID, to, nil)
				if err != nil {
					t.Errorf("settle %s: %v", to, err)
				}
				applied[j] = ok
			}(j, to)
		}
		wg.Wait()

		if applied[0] == applied[1] {
			t.Fatalf("exactly one settle must apply, got %v", applied)
		}
		first, _ := env.store.Get(ctx, sig.ID)
		again, _ := env.store.Get(ctx, sig.ID)
		if first.Version != 2 || first.Status != again.Status {
			t.Fatalf("final state unstable: %+v vs %+v", first, again)
		}
	}
}

func TestCancelRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sig := env.create(t, "SOL", models.SourcePattern, models.ActionBuy, 40)

	if _, err := env.life.Cancel(ctx, sig.ID, "  "); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, err := env.life.Cancel(ctx, sig.ID, "below threshold")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.StatusCancelled || got.Metadata[models.MetaCancelReason] != "below threshold" {
		t.Fatalf("unexpected cancelled signal %+v", got)
	}
	if _, err := env.life.Cancel(ctx, sig.ID, "again"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAttachJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sig := env.create(t, "BTC", models.SourceTechnical, models.ActionBuy, 90)

	got, err := env.life.AttachJob(ctx, sig.ID, "job-1")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got.JobID != "job-1" || got.Version != 2 {
		t.Fatalf("unexpected %+v", got)
	}
	if _, err := env.life.Transition(ctx, sig.ID, models.StatusExecuted, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := env.life.AttachJob(ctx, sig.ID, "job-2"); !errors.Is(err, models.ErrSignalNotPending) {
		t.Fatalf("expected ErrSignalNotPending, got %v", err)
	}
}

// interleavingStore runs before once, between the caller's read and its
// first CAS, standing in for a concurrent writer.
type interleavingStore struct {
	*repository.MemorySignalStore
	once   sync.Once
	before func(ctx context.Context, id string)
}

func (s *interleavingStore) Transition(ctx context.Context, id string, expectedVersion uint64, to models.Status, meta map[string]any) (*models.Signal, error) {
	s.once.Do(func() { s.before(ctx, id) })
	return s.MemorySignalStore.Transition(ctx, id, expectedVersion, to, meta)
}

func TestCancelRereadsAfterConcurrentAttach(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sig := env.create(t, "BTC", models.SourceTechnical, models.ActionBuy, 90)

	store := &interleavingStore{MemorySignalStore: env.store}
	store.before = func(ctx context.Context, id string) {
		cur, _ := env.store.Get(ctx, id)
		if _, err := env.store.AttachJob(ctx, id, cur.Version, "job-1"); err != nil {
			t.Errorf("attach: %v", err)
		}
	}
	life := NewLifecycle(store, repository.NopArchive{}, env.events, metrics.Nop{}, env.lgr)

	got, err := life.Cancel(ctx, sig.ID, "operator request")
	if err != nil {
		t.Fatalf("cancel after concurrent attach: %v", err)
	}
	if got.Status != models.StatusCancelled || got.Version != 3 || got.JobID != "job-1" {
		t.Fatalf("unexpected signal %+v", got)
	}
}

func TestCancelLosingToTerminalIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sig := env.create(t, "ETH", models.SourceSentiment, models.ActionSell, 80)

	store := &interleavingStore{MemorySignalStore: env.store}
	store.before = func(ctx context.Context, id string) {
		cur, _ := env.store.Get(ctx, id)
		if _, err := env.store.Transition(ctx, id, cur.Version, models.StatusExpired, nil); err != nil {
			t.Errorf("expire: %v", err)
		}
	}
	life := NewLifecycle(store, repository.NopArchive{}, env.events, metrics.Nop{}, env.lgr)

	_, err := life.Cancel(ctx, sig.ID, "operator request")
	if !errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrStaleSignalState) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *models.TransitionError
	if !errors.As(err, &te) || te.From != models.StatusExpired {
		t.Fatalf("expected observed status expired, got %v", err)
	}
	if cur, _ := env.store.Get(ctx, sig.ID); cur.Status != models.StatusExpired {
		t.Fatalf("status = %s, want expired", cur.Status)
	}
}
