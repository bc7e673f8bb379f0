package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"FinFuse/internal/domain/models"
	"FinFuse/pkg/logger"
)

type captureReporter struct {
	mu  sync.Mutex
	got []models.JobOutcome
	ch  chan struct{}
}

func (c *captureReporter) ReportJobOutcome(_ context.Context, o models.JobOutcome) error {
	c.mu.Lock()
	c.got = append(c.got, o)
	c.mu.Unlock()
	c.ch <- struct{}{}
	return nil
}

func TestPaperAdapterReportsSuccess(t *testing.T) {
	p := NewPaperAdapter(logger.NewNop(), time.Millisecond)
	r := &captureReporter{ch: make(chan struct{}, 1)}
	p.BindReporter(r)

	order := models.TradeOrder{JobID: "job-1", Attempt: 1, Symbol: "BTC", Action: models.ActionBuy, Confidence: 80}
	if err := p.Submit(context.Background(), order); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-r.ch:
	case <-time.After(time.Second):
		t.Fatalf("no outcome reported")
	}
	if r.got[0].JobID != "job-1" || r.got[0].Attempt != 1 || !r.got[0].Success {
		t.Fatalf("unexpected outcome %+v", r.got[0])
	}
	if fills := p.Fills(); len(fills) != 1 || fills[0].Symbol != "BTC" {
		t.Fatalf("fills = %+v", fills)
	}
	_ = p.Close()
}

func TestPaperAdapterNeedsReporter(t *testing.T) {
	p := NewPaperAdapter(logger.NewNop(), 0)
	if err := p.Submit(context.Background(), models.TradeOrder{JobID: "x"}); err == nil {
		t.Fatalf("expected error without reporter")
	}
}
