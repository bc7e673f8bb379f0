package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/cache"
	"FinFuse/pkg/logger"
	"FinFuse/pkg/queue"
)

// DefaultDispatchThreshold is the minimum composite confidence for a trade.
const DefaultDispatchThreshold = 75.0

// JobQueue is the part of the queue manager the use cases need.
type JobQueue interface {
	Enqueue(ctx context.Context, lane queue.Lane, opts queue.EnqueueOptions) (*queue.Handle, error)
	GetCounts(lane queue.Lane) (queue.Counts, error)
	Job(id string) (queue.Job, error)
	Status() queue.Status
}

// DecisionConfig tunes RequestDecision.
type DecisionConfig struct {
	Threshold float64
	LockTTL   time.Duration
	ResultTTL time.Duration
}

func (c DecisionConfig) withDefaults() DecisionConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultDispatchThreshold
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = time.Hour
	}
	return c
}

// DecisionService fuses the latest signals of a symbol and dispatches
// qualifying composites to the trade lane.
type DecisionService struct {
	store   domrepo.SignalStore
	agg     *Aggregator
	life    *Lifecycle
	jobs    JobQueue
	cache   cache.Service
	archive domrepo.SignalArchive
	metrics domrepo.Metrics
	logger  *logger.Logger
	cfg     DecisionConfig
}

func NewDecisionService(store domrepo.SignalStore, agg *Aggregator, life *Lifecycle, jobs JobQueue, c cache.Service, archive domrepo.SignalArchive, metrics domrepo.Metrics, lgr *logger.Logger, cfg DecisionConfig) *DecisionService {
	return &DecisionService{
		store:   store,
		agg:     agg,
		life:    life,
		jobs:    jobs,
		cache:   c,
		archive: archive,
		metrics: metrics,
		logger:  lgr,
		cfg:     cfg.withDefaults(),
	}
}

// Threshold returns the dispatch threshold in effect.
func (d *DecisionService) Threshold() float64 { return d.cfg.Threshold }

// RequestDecision gathers the latest pending signal per source, fuses them and
// enqueues a trade when the composite clears the threshold. Composites below
// it stay pending for audit.
func (d *DecisionService) RequestDecision(ctx context.Context, symbol string) (*models.FusionResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, models.NewValidationError("symbol", "symbol is required")
	}

	lockKey := cache.GenerateKeyWithParams("decision", "lock", symbol)
	ok, err := d.cache.TryLock(ctx, lockKey, d.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("decision lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, models.ErrDecisionInProgress)
	}
	defer func() {
		if err := d.cache.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
			d.logger.Warn("decision unlock failed", logger.String("symbol", symbol), logger.Error(err))
		}
	}()

	signals, err := d.store.LatestPending(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}
	res, err := d.agg.Fuse(ctx, symbol, signals)
	if err != nil {
		return nil, err
	}

	if err := d.gate(ctx, res); err != nil {
		return nil, err
	}

	if err := d.cache.Set(ctx, lastDecisionKey(symbol), res, d.cfg.ResultTTL); err != nil {
		d.logger.Warn("cache decision failed", logger.String("symbol", symbol), logger.Error(err))
	}
	if err := d.archive.AppendFusion(ctx, res); err != nil {
		d.logger.Warn("archive fusion failed", logger.String("symbol", symbol), logger.Error(err))
		d.metrics.RecordError("archive")
	}
	return res, nil
}

func (d *DecisionService) gate(ctx context.Context, res *models.FusionResult) error {
	switch {
	case res.Composite == nil:
		d.metrics.RecordDispatch("insufficient")
		return nil
	case res.Action == models.ActionHold:
		res.Reason = "hold decisions are not dispatched"
		d.metrics.RecordDispatch("hold")
		return nil
	case res.Confidence < d.cfg.Threshold:
		res.Reason = fmt.Sprintf("%s: %.2f < %.2f", models.ErrBelowThreshold, res.Confidence, d.cfg.Threshold)
		d.metrics.RecordDispatch("below_threshold")
		d.logger.Info("decision below threshold",
			logger.String("symbol", res.Symbol),
			logger.String("composite_id", res.Composite.ID),
			logger.Float64("confidence", res.Confidence))
		return nil
	}

	comp := res.Composite
	h, err := d.jobs.Enqueue(ctx, queue.LaneTrade, queue.EnqueueOptions{
		Payload:        models.TradePayload{SignalID: comp.ID},
		Priority:       TradePriority(res.Confidence),
		IdempotencyKey: "trade:" + comp.ID,
	})
	if err != nil {
		d.metrics.RecordDispatch("error")
		return fmt.Errorf("enqueue trade for %s: %w", comp.ID, err)
	}
	res.Dispatched, res.JobID = true, h.ID
	d.metrics.RecordDispatch("dispatched")

	if next, err := d.life.AttachJob(ctx, comp.ID, h.ID); err != nil {
		// The trade handler re-reads the signal, so a missing reference is
		// only an audit gap.
		if !errors.Is(err, models.ErrSignalNotPending) {
			d.logger.Warn("attach job failed",
				logger.String("signal_id", comp.ID),
				logger.String("job_id", h.ID),
				logger.Error(err))
		}
	} else {
		res.Composite = next
	}

	d.logger.Info("trade dispatched",
		logger.String("symbol", res.Symbol),
		logger.String("signal_id", comp.ID),
		logger.String("job_id", h.ID),
		logger.String("action", res.Action.String()),
		logger.Float64("confidence", res.Confidence))
	return nil
}

// LastDecision returns the cached result of the latest RequestDecision.
func (d *DecisionService) LastDecision(ctx context.Context, symbol string) (*models.FusionResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	res, err := cache.GetTyped[models.FusionResult](ctx, d.cache, lastDecisionKey(symbol))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, fmt.Errorf("no decision for %s: %w", symbol, ErrNoDecision)
	}
	return res, err
}

// ErrNoDecision means no decision was requested recently for the symbol.
var ErrNoDecision = errors.New("no recent decision")

// TradePriority maps confidence to queue priority: stronger signals first.
func TradePriority(confidence float64) int {
	return 100 - int(math.Floor(confidence))
}

func lastDecisionKey(symbol string) string {
	return cache.GenerateKeyWithParams("decision", "last", symbol)
}
