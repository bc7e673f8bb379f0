package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/logger"
	"FinFuse/pkg/queue"

	"github.com/shopspring/decimal"
)

// Metadata keys written when a trade settles.
const (
	MetaExecutionJobID   = "executionJobId"
	MetaExecutionDetails = "executionDetails"
)

// TradeExecutor is the trade lane handler. It hands orders to the execution
// adapter and waits for the adapter to report the outcome.
type TradeExecutor struct {
	store     domrepo.SignalStore
	life      *Lifecycle
	adapter   domrepo.ExecutionAdapter
	metrics   domrepo.Metrics
	logger    *logger.Logger
	threshold float64
	now       func() time.Time

	mu      sync.Mutex
	waiting map[string]chan models.JobOutcome
}

// reporterBinder is implemented by adapters that report outcomes in process.
type reporterBinder interface {
	BindReporter(r domrepo.OutcomeReporter)
}

func NewTradeExecutor(store domrepo.SignalStore, life *Lifecycle, adapter domrepo.ExecutionAdapter, metrics domrepo.Metrics, lgr *logger.Logger, threshold float64) *TradeExecutor {
	if threshold <= 0 {
		threshold = DefaultDispatchThreshold
	}
	e := &TradeExecutor{
		store:     store,
		life:      life,
		adapter:   adapter,
		metrics:   metrics,
		logger:    lgr,
		threshold: threshold,
		now:       time.Now,
		waiting:   make(map[string]chan models.JobOutcome),
	}
	if b, ok := adapter.(reporterBinder); ok {
		b.BindReporter(e)
	}
	return e
}

var (
	_ queue.Handler           = (*TradeExecutor)(nil)
	_ domrepo.OutcomeReporter = (*TradeExecutor)(nil)
)

func (e *TradeExecutor) Name() string { return "trade-execution" }

func (e *TradeExecutor) Lane() queue.Lane { return queue.LaneTrade }

// Handle runs one delivery of a trade job. Signals that are no longer
// actionable fail the job permanently; adapter failures are retried.
func (e *TradeExecutor) Handle(ctx context.Context, job queue.Job) error {
	p, err := queue.ParsePayload[models.TradePayload](job.Payload)
	if err != nil || p.SignalID == "" {
		return queue.Permanent(models.NewValidationError("payload", "trade payload needs a signalId"))
	}
	log := e.logger.With(
		logger.String("job_id", job.ID),
		logger.String("signal_id", p.SignalID),
		logger.Int("attempt", job.Attempt))

	sig, err := e.store.Get(ctx, p.SignalID)
	if err != nil {
		if errors.Is(err, models.ErrSignalNotFound) {
			return queue.Permanent(err)
		}
		return fmt.Errorf("load signal: %w", err)
	}
	if sig.Status != models.StatusPending {
		log.Info("trade aborted, signal settled", logger.String("status", sig.Status.String()))
		return queue.Permanent(fmt.Errorf("signal %s is %s: %w", sig.ID, sig.Status, models.ErrSignalNotPending))
	}

	now := e.now()
	if !sig.ExpiresAt.After(now) {
		if _, _, serr := e.life.Settle(ctx, sig.ID, models.StatusExpired, nil); serr != nil {
			log.Warn("expire on dispatch failed", logger.Error(serr))
		}
		log.Info("trade aborted, signal expired", logger.Time("expires_at", sig.ExpiresAt))
		return queue.Permanent(fmt.Errorf("signal %s expired: %w", sig.ID, models.ErrSignalNotPending))
	}
	if sig.Confidence < e.threshold {
		reason := fmt.Sprintf("confidence %.2f below dispatch threshold %.2f", sig.Confidence, e.threshold)
		if _, _, serr := e.life.Settle(ctx, sig.ID, models.StatusCancelled, map[string]any{models.MetaCancelReason: reason}); serr != nil {
			log.Warn("cancel on dispatch failed", logger.Error(serr))
		}
		return queue.Permanent(fmt.Errorf("signal %s: %w", sig.ID, models.ErrBelowThreshold))
	}

	outcome, err := e.execute(ctx, job, sig, now)
	if err != nil {
		return err
	}
	if !outcome.Success {
		e.metrics.RecordError("adapter")
		log.Warn("execution failed", logger.String("details", outcome.Details))
		return fmt.Errorf("%w: %s", models.ErrAdapterFailure, outcome.Details)
	}

	// The trade happened. Never retry past this point or it would execute twice.
	settled, applied, err := e.life.Settle(ctx, sig.ID, models.StatusExecuted, map[string]any{
		MetaExecutionJobID:   job.ID,
		MetaExecutionDetails: outcome.Details,
	})
	if err != nil {
		log.Error("settle executed failed", logger.Error(err))
		return queue.Permanent(fmt.Errorf("settle executed: %w", err))
	}
	if !applied {
		log.Warn("signal settled before execution outcome", logger.String("status", settled.Status.String()))
	}
	log.Info("trade executed", logger.String("adapter", e.adapter.Name()))
	return nil
}

// waitKey names one delivery of a job. A fill reported for an abandoned
// attempt never reaches the redelivery that replaced it.
func waitKey(jobID string, attempt int) string {
	return fmt.Sprintf("%s#%d", jobID, attempt)
}

func (e *TradeExecutor) execute(ctx context.Context, job queue.Job, sig *models.Signal, now time.Time) (models.JobOutcome, error) {
	key := waitKey(job.ID, job.Attempt)
	ch := make(chan models.JobOutcome, 1)
	e.mu.Lock()
	e.waiting[key] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		if e.waiting[key] == ch {
			delete(e.waiting, key)
		}
		e.mu.Unlock()
	}()

	order := models.TradeOrder{
		JobID:       job.ID,
		Attempt:     job.Attempt,
		SignalID:    sig.ID,
		Symbol:      sig.Symbol,
		Action:      sig.Action,
		Confidence:  sig.Confidence,
		Price:       quoteString(sig.Price),
		TargetPrice: quoteString(sig.TargetPrice),
		StopLoss:    quoteString(sig.StopLoss),
		IssuedAt:    now,
	}
	start := time.Now()
	if err := e.adapter.Submit(ctx, order); err != nil {
		e.metrics.RecordError("adapter")
		return models.JobOutcome{}, fmt.Errorf("%w: submit: %v", models.ErrAdapterFailure, err)
	}

	select {
	case out := <-ch:
		e.metrics.RecordLatency("execution", time.Since(start).Seconds())
		return out, nil
	case <-ctx.Done():
		return models.JobOutcome{}, fmt.Errorf("awaiting execution outcome: %w", ctx.Err())
	}
}

// ReportJobOutcome delivers an adapter's outcome to the worker waiting on
// the same job attempt. Unknown, finished, duplicate or superseded attempts
// get ErrNoPendingExecution.
func (e *TradeExecutor) ReportJobOutcome(_ context.Context, outcome models.JobOutcome) error {
	key := waitKey(outcome.JobID, outcome.Attempt)
	e.mu.Lock()
	ch, ok := e.waiting[key]
	if ok {
		delete(e.waiting, key)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s attempt %d: %w", outcome.JobID, outcome.Attempt, models.ErrNoPendingExecution)
	}
	ch <- outcome
	return nil
}

func quoteString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
