package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/logger"
)

// PaperAdapter fills every order in process and reports success after an
// optional simulated latency. It keeps the fills for inspection.
type PaperAdapter struct {
	logger  *logger.Logger
	latency time.Duration

	mu       sync.Mutex
	reporter domrepo.OutcomeReporter
	fills    []models.TradeOrder
	wg       sync.WaitGroup
}

func NewPaperAdapter(lgr *logger.Logger, latency time.Duration) *PaperAdapter {
	return &PaperAdapter{logger: lgr, latency: latency}
}

var _ domrepo.ExecutionAdapter = (*PaperAdapter)(nil)

func (p *PaperAdapter) Name() string { return "paper" }

// BindReporter sets where outcomes are delivered.
func (p *PaperAdapter) BindReporter(r domrepo.OutcomeReporter) {
	p.mu.Lock()
	p.reporter = r
	p.mu.Unlock()
}

func (p *PaperAdapter) Submit(ctx context.Context, order models.TradeOrder) error {
	p.mu.Lock()
	r := p.reporter
	p.fills = append(p.fills, order)
	p.mu.Unlock()
	if r == nil {
		return errors.New("paper adapter has no outcome reporter")
	}

	p.logger.Info("paper fill",
		logger.String("job_id", order.JobID),
		logger.String("symbol", order.Symbol),
		logger.String("action", order.Action.String()),
		logger.Float64("confidence", order.Confidence))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.latency > 0 {
			select {
			case <-time.After(p.latency):
			case <-ctx.Done():
				return
			}
		}
		outcome := models.JobOutcome{JobID: order.JobID, Attempt: order.Attempt, Success: true, Details: "paper fill"}
		if err := r.ReportJobOutcome(context.WithoutCancel(ctx), outcome); err != nil {
			p.logger.Warn("paper outcome rejected", logger.String("job_id", order.JobID), logger.Error(err))
		}
	}()
	return nil
}

// Fills returns a copy of every order received.
func (p *PaperAdapter) Fills() []models.TradeOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.TradeOrder(nil), p.fills...)
}

// Close waits for pending reports.
func (p *PaperAdapter) Close() error {
	p.wg.Wait()
	return nil
}
