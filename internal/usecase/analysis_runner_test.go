package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/internal/repository"
	"FinFuse/pkg/metrics"
	"FinFuse/pkg/queue"
	"FinFuse/pkg/scheduler"
)

type fakeModel struct {
	opinion *models.SubmitSignalRequest
	err     error
	calls   int
}

func (m *fakeModel) Analyze(_ context.Context, symbol string, source models.Source, tf models.Timeframe) (*models.SubmitSignalRequest, error) {
	m.calls++
	if m.err != nil || m.opinion == nil {
		return nil, m.err
	}
	op := *m.opinion
	return &op, nil
}

func newAnalysisFixture(t *testing.T, model *fakeModel) (*testEnv, *queue.Manager, *AnalysisRunner) {
	t.Helper()
	env := newTestEnv(t)
	mgr := queue.NewManager(env.lgr, scheduler.New())
	svc := NewSignalService(env.store, repository.NopArchive{}, env.events, metrics.Nop{}, env.life, env.lgr)
	r := NewAnalysisRunner(model, svc, mgr, env.lgr, AnalysisConfig{
		Symbols: []string{"btc", " eth "},
		Sources: []models.Source{models.SourceTechnical, models.SourcePrediction},
	})
	return env, mgr, r
}

func analysisJob(sym string, src models.Source) queue.Job {
	return queue.Job{ID: "job-1", Lane: queue.LaneAnalysis, Payload: models.AnalysisPayload{Symbol: sym, Source: src, Timeframe: models.TF15m}}
}

func TestAnalysisEnqueueRoundDeduplicatesTick(t *testing.T) {
	_, mgr, r := newAnalysisFixture(t, &fakeModel{})
	ctx := context.Background()
	tick := time.Unix(1_700_000_000, 0)

	n, err := r.EnqueueRound(ctx, tick)
	if err != nil || n != 4 {
		t.Fatalf("round: n=%d err=%v", n, err)
	}
	if _, err := r.EnqueueRound(ctx, tick); err != nil {
		t.Fatalf("repeat round: %v", err)
	}
	if c, _ := mgr.GetCounts(queue.LaneAnalysis); c.Queued != 4 {
		t.Fatalf("same tick must not add jobs: %+v", c)
	}
	if _, err := r.EnqueueRound(ctx, tick.Add(time.Minute)); err != nil {
		t.Fatalf("next round: %v", err)
	}
	if c, _ := mgr.GetCounts(queue.LaneAnalysis); c.Queued != 8 {
		t.Fatalf("next tick should add jobs: %+v", c)
	}
}

func TestAnalysisHandleSubmitsOpinion(t *testing.T) {
	model := &fakeModel{opinion: &models.SubmitSignalRequest{Action: "sell", Confidence: 64, Symbol: "ignored", Source: "sentiment"}}
	env, _, r := newAnalysisFixture(t, model)

	if err := r.Handle(context.Background(), analysisJob("BTC", models.SourcePrediction)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := env.store.List(context.Background(), domrepo.SignalFilter{Symbol: "BTC"})
	if len(got) != 1 {
		t.Fatalf("expected one stored signal, got %d", len(got))
	}
	s := got[0]
	if s.Source != models.SourcePrediction || s.Action != models.ActionSell || s.Timeframe != models.TF15m {
		t.Fatalf("unexpected signal %+v", s)
	}
}

func TestAnalysisHandleErrors(t *testing.T) {
	t.Run("model failure retries", func(t *testing.T) {
		_, _, r := newAnalysisFixture(t, &fakeModel{err: errors.New("timeout")})
		err := r.Handle(context.Background(), analysisJob("BTC", models.SourceTechnical))
		if err == nil || queue.IsPermanent(err) {
			t.Fatalf("expected retryable error, got %v", err)
		}
	})
	t.Run("invalid opinion is permanent", func(t *testing.T) {
		_, _, r := newAnalysisFixture(t, &fakeModel{opinion: &models.SubmitSignalRequest{Action: "moon", Confidence: 10}})
		err := r.Handle(context.Background(), analysisJob("BTC", models.SourceTechnical))
		if !queue.IsPermanent(err) || !errors.Is(err, models.ErrValidation) {
			t.Fatalf("expected permanent validation error, got %v", err)
		}
	})
	t.Run("composite source is permanent", func(t *testing.T) {
		model := &fakeModel{}
		_, _, r := newAnalysisFixture(t, model)
		if err := r.Handle(context.Background(), analysisJob("BTC", models.SourceComposite)); !queue.IsPermanent(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
		if model.calls != 0 {
			t.Fatalf("model called for composite source")
		}
	})
	t.Run("no opinion succeeds", func(t *testing.T) {
		env, _, r := newAnalysisFixture(t, &fakeModel{})
		if err := r.Handle(context.Background(), analysisJob("BTC", models.SourceTechnical)); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if got, _ := env.store.ListPending(context.Background()); len(got) != 0 {
			t.Fatalf("nothing should be stored")
		}
	})
}
