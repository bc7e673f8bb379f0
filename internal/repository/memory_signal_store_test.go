package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"FinFuse/internal/domain/models"
	"FinFuse/internal/domain/repository"
)

func newPending(t *testing.T, symbol string, src models.Source, action models.Action, conf float64, at time.Time) *models.Signal {
	t.Helper()
	sig, err := models.NewSignal(models.SignalParams{
		Symbol: symbol, Action: action, Confidence: conf, Source: src,
	}, at)
	if err != nil {
		t.Fatalf("new signal: %v", err)
	}
	return sig
}

func TestTransitionCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySignalStore()
	sig := newPending(t, "btc", models.SourceTechnical, models.ActionBuy, 80, time.Now())
	if err := store.Create(ctx, sig); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Transition(ctx, sig.ID, 1, models.StatusExecuted, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != models.StatusExecuted || got.Version != 2 {
		t.Fatalf("unexpected version %+v", got)
	}

	if _, err := store.Transition(ctx, sig.ID, 1, models.StatusExpired, nil); !errors.Is(err, models.ErrStaleSignalState) {
		t.Fatalf("expected ErrStaleSignalState, got %v", err)
	}
	if _, err := store.Transition(ctx, sig.ID, 2, models.StatusExpired, nil); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	cur, _ := store.Get(ctx, sig.ID)
	if cur.Status != models.StatusExecuted || cur.Version != 2 {
		t.Fatalf("stored state changed: %+v", cur)
	}
}

func TestExecutedAfterExpiredIsInvalid(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySignalStore()
	sig := newPending(t, "ETH", models.SourceSentiment, models.ActionSell, 60, time.Now())
	_ = store.Create(ctx, sig)

	if _, err := store.Transition(ctx, sig.ID, 1, models.StatusExpired, nil); err != nil {
		t.Fatalf("expire: %v", err)
	}
	_, err := store.Transition(ctx, sig.ID, 2, models.StatusExecuted, nil)
	var te *models.TransitionError
	if !errors.As(err, &te) || !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
	if te.From != models.StatusExpired {
		t.Fatalf("expected observed status expired, got %s", te.From)
	}
	cur, _ := store.Get(ctx, sig.ID)
	if cur.Status != models.StatusExpired {
		t.Fatalf("expected expired, got %s", cur.Status)
	}
}

func TestConcurrentTerminalTransitions(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		store := NewMemorySignalStore()
		sig := newPending(t, "SOL", models.SourcePattern, models.ActionBuy, 90, time.Now())
		_ = store.Create(ctx, sig)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, to := range []models.Status{models.StatusExecuted, models.StatusExpired} {
			wg.Add(1)
			go func(j int, to models.Status) {
				defer wg.Done()
				_, errs[j] = store.Transition(ctx, sig.ID, sig.Version, to, nil)
			}(j, to)
		}
		wg.Wait()

		won, stale := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				won++
			case errors.Is(err, models.ErrStaleSignalState):
				stale++
			default:
				t.Fatalf("unexpected error %v", err)
			}
		}
		if won != 1 || stale != 1 {
			t.Fatalf("expected one winner and one stale loser, got won=%d stale=%d", won, stale)
		}

		first, _ := store.Get(ctx, sig.ID)
		second, _ := store.Get(ctx, sig.ID)
		if !first.Status.IsTerminal() || first.Status != second.Status || first.Version != 2 {
			t.Fatalf("unstable final state %s/%s", first.Status, second.Status)
		}
	}
}

func TestStoredVersionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySignalStore()
	sig := newPending(t, "BTC", models.SourceTechnical, models.ActionBuy, 70, time.Now())
	sig.Metadata = map[string]any{"k": "v"}
	_ = store.Create(ctx, sig)

	sig.Metadata["k"] = "mutated"
	got, _ := store.Get(ctx, sig.ID)
	got.Metadata["k"] = "also mutated"

	again, _ := store.Get(ctx, sig.ID)
	if again.Metadata["k"] != "v" {
		t.Fatalf("stored signal was mutated through a caller copy")
	}
}

func TestLatestPendingPerSource(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySignalStore()
	base := time.Now()

	oldTech := newPending(t, "BTC", models.SourceTechnical, models.ActionSell, 40, base)
	newTech := newPending(t, "BTC", models.SourceTechnical, models.ActionBuy, 80, base.Add(time.Second))
	senti := newPending(t, "BTC", models.SourceSentiment, models.ActionBuy, 60, base)
	executed := newPending(t, "BTC", models.SourcePattern, models.ActionBuy, 99, base)
	other := newPending(t, "ETH", models.SourcePrediction, models.ActionBuy, 99, base)
	for _, s := range []*models.Signal{oldTech, newTech, senti, executed, other} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	_, _ = store.Transition(ctx, executed.ID, 1, models.StatusExecuted, nil)

	got, err := store.LatestPending(ctx, "btc")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 || got[0].ID != newTech.ID || got[1].ID != senti.ID {
		t.Fatalf("unexpected latest set %+v", got)
	}
}

func TestAttachJobRequiresPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySignalStore()
	sig := newPending(t, "BTC", models.SourceTechnical, models.ActionBuy, 70, time.Now())
	_ = store.Create(ctx, sig)

	got, err := store.AttachJob(ctx, sig.ID, 1, "job-1")
	if err != nil || got.JobID != "job-1" || got.Version != 2 {
		t.Fatalf("attach: %+v %v", got, err)
	}
	_, _ = store.Transition(ctx, sig.ID, 2, models.StatusCancelled, map[string]any{models.MetaCancelReason: "test"})
	if _, err := store.AttachJob(ctx, sig.ID, 3, "job-2"); !errors.Is(err, models.ErrSignalNotPending) {
		t.Fatalf("expected ErrSignalNotPending, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySignalStore()
	base := time.Now()
	for i := 0; i < 5; i++ {
		_ = store.Create(ctx, newPending(t, "BTC", models.SourceTechnical, models.ActionBuy, 50, base.Add(time.Duration(i)*time.Second)))
	}
	_ = store.Create(ctx, newPending(t, "ETH", models.SourceTechnical, models.ActionBuy, 50, base))

	got, _ := store.List(ctx, repository.SignalFilter{Symbol: "BTC", Limit: 3})
	if len(got) != 3 {
		t.Fatalf("expected 3 signals, got %d", len(got))
	}
	if !got[0].CreatedAt.After(got[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, models.ErrSignalNotFound) {
		t.Fatalf("expected ErrSignalNotFound, got %v", err)
	}
}
