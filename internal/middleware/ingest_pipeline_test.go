package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"FinFuse/internal/domain/models"
	"FinFuse/internal/service/ratelimit"
	"FinFuse/pkg/logger"
	"FinFuse/pkg/metrics"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	fail error
	got  []*models.SubmitSignalRequest
}

func (f *fakeSubmitter) Submit(_ context.Context, req *models.SubmitSignalRequest) (*models.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.got = append(f.got, req)
	return &models.Signal{ID: "sig", Symbol: req.Symbol}, nil
}

func (f *fakeSubmitter) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func validReq() *models.SubmitSignalRequest {
	return &models.SubmitSignalRequest{Symbol: " btc ", Action: "BUY", Confidence: 80, Source: "Technical"}
}

func TestProcessNormalizesAndDefaults(t *testing.T) {
	sub := &fakeSubmitter{}
	p := NewIngestPipeline(sub, metrics.Nop{}, logger.NewNop())

	if _, err := p.Process(context.Background(), validReq()); err != nil {
		t.Fatalf("process: %v", err)
	}
	got := sub.got[0]
	if got.Symbol != "BTC" || got.Action != "buy" || got.Source != "technical" || got.Timeframe != "1h" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestProcessRejectsInvalid(t *testing.T) {
	sub := &fakeSubmitter{}
	p := NewIngestPipeline(sub, metrics.Nop{}, logger.NewNop())

	cases := map[string]*models.SubmitSignalRequest{
		"nil":        nil,
		"confidence": {Symbol: "BTC", Action: "buy", Confidence: 101, Source: "technical"},
		"composite":  {Symbol: "BTC", Action: "buy", Confidence: 50, Source: "composite"},
		"action":     {Symbol: "BTC", Action: "short", Confidence: 50, Source: "technical"},
		"symbol":     {Action: "buy", Confidence: 50, Source: "technical"},
	}
	for name, req := range cases {
		if _, err := p.Process(context.Background(), req); !errors.Is(err, models.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if sub.count() != 0 {
		t.Fatalf("invalid input reached the submitter")
	}
}

func TestProcessThrottlesPerSourceAndSymbol(t *testing.T) {
	now := time.Unix(0, 0)
	sub := &fakeSubmitter{}
	p := NewIngestPipeline(sub, metrics.Nop{}, logger.NewNop(),
		WithRate(2, 1),
		WithLimiter(ratelimit.NewWithClock(func() time.Time { return now })))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.Process(ctx, validReq()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if _, err := p.Process(ctx, validReq()); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	other := validReq()
	other.Source = "sentiment"
	if _, err := p.Process(ctx, other); err != nil {
		t.Fatalf("other source should have its own bucket: %v", err)
	}
}

func TestOfferBuffersAndFlushes(t *testing.T) {
	sub := &fakeSubmitter{fail: errors.New("store down")}
	p := NewIngestPipeline(sub, metrics.Nop{}, logger.NewNop(), WithRate(0, 0))
	ctx := context.Background()

	if err := p.Offer(ctx, validReq()); err == nil {
		t.Fatalf("expected downstream error")
	}
	if p.Buffered() != 1 {
		t.Fatalf("buffered = %d, want 1", p.Buffered())
	}

	sub.setFail(nil)
	p.Start(ctx)
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sub.count() != 1 || p.Buffered() != 0 {
		t.Fatalf("buffer not flushed: stored=%d buffered=%d", sub.count(), p.Buffered())
	}
}
