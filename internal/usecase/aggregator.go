package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/logger"

	"github.com/shopspring/decimal"
)

// SourceWeights scales each source's confidence-derived weight. Missing
// sources weigh 1.0.
type SourceWeights map[models.Source]float64

func (w SourceWeights) of(src models.Source) float64 {
	if v, ok := w[src]; ok {
		return v
	}
	return 1.0
}

// ComputeFusion fuses signals for symbol without side effects. Signals that
// are not pending, belong to another symbol, or are past their expiry at now
// are excluded. With no eligible input the result is hold/0 and Insufficient.
func ComputeFusion(symbol string, signals []*models.Signal, weights SourceWeights, now time.Time) (models.FusionResult, []*models.Signal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	res := models.FusionResult{Symbol: symbol, Action: models.ActionHold, Timestamp: now}

	eligible := make([]*models.Signal, 0, len(signals))
	for _, s := range signals {
		if s == nil {
			continue
		}
		if !s.Action.Valid() {
			return res, nil, models.NewValidationError("action", "signal "+s.ID+" has no valid action")
		}
		if err := models.ValidateConfidence(s.Confidence); err != nil {
			return res, nil, fmt.Errorf("signal %s: %w", s.ID, err)
		}
		if s.Status != models.StatusPending || s.Symbol != symbol || !s.ExpiresAt.After(now) {
			continue
		}
		eligible = append(eligible, s)
	}

	res.Contributing = make([]string, 0, len(eligible))
	for _, s := range eligible {
		res.Contributing = append(res.Contributing, s.ID)
	}
	if len(eligible) == 0 {
		res.Insufficient = true
		res.HoldWeight = 1
		return res, nil, nil
	}

	var buy, sell, total float64
	for _, s := range eligible {
		w := s.Confidence / 100 * weights.of(s.Source)
		total += w
		switch s.Action {
		case models.ActionBuy:
			buy += w
		case models.ActionSell:
			sell += w
		}
	}
	if total <= 0 {
		res.HoldWeight = 1
		return res, eligible, nil
	}

	buy /= total
	sell /= total
	hold := math.Max(0, 1-buy-sell)
	res.BuyWeight, res.SellWeight, res.HoldWeight = buy, sell, hold

	// Strict majority; every tie resolves to hold.
	winning := hold
	switch {
	case buy > sell && buy > hold:
		res.Action, winning = models.ActionBuy, buy
	case sell > buy && sell > hold:
		res.Action, winning = models.ActionSell, sell
	}
	res.Confidence = math.Min(100, winning*100)
	return res, eligible, nil
}

// Aggregator fuses the signals of a symbol and persists the composite.
type Aggregator struct {
	store   domrepo.SignalStore
	archive domrepo.SignalArchive
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	logger  *logger.Logger
	weights SourceWeights
	now     func() time.Time
}

func NewAggregator(store domrepo.SignalStore, archive domrepo.SignalArchive, events domrepo.EventPublisher, metrics domrepo.Metrics, lgr *logger.Logger, weights SourceWeights) *Aggregator {
	return &Aggregator{
		store:   store,
		archive: archive,
		events:  events,
		metrics: metrics,
		logger:  lgr,
		weights: weights,
		now:     time.Now,
	}
}

// Fuse computes the decision for symbol and stores it as a composite signal.
// Inputs are never modified.
func (a *Aggregator) Fuse(ctx context.Context, symbol string, signals []*models.Signal) (*models.FusionResult, error) {
	start := time.Now()
	now := a.now()
	res, eligible, err := ComputeFusion(symbol, signals, a.weights, now)
	if err != nil {
		return nil, err
	}
	if res.Insufficient {
		a.logger.Debug("fusion without eligible signals", logger.String("symbol", symbol))
		a.metrics.RecordFusion(symbol, "insufficient", 0)
		res.Reason = models.ErrInsufficientSignals.Error()
		return &res, nil
	}

	composite, err := a.buildComposite(res, eligible, now)
	if err != nil {
		return nil, fmt.Errorf("build composite: %w", err)
	}
	if err := a.store.Create(ctx, composite); err != nil {
		return nil, fmt.Errorf("store composite: %w", err)
	}
	res.Composite = composite

	a.metrics.RecordFusion(symbol, res.Action.String(), res.Confidence)
	a.metrics.RecordLatency("fuse", time.Since(start).Seconds())
	a.logger.Info("signals fused",
		logger.String("symbol", symbol),
		logger.String("action", res.Action.String()),
		logger.Float64("confidence", res.Confidence),
		logger.Int("inputs", len(eligible)),
		logger.String("composite_id", composite.ID))

	ev := models.SignalEvent{Event: models.SignalEventComposite, Signal: composite, At: now}
	if err := a.archive.AppendSignal(ctx, ev); err != nil {
		a.logger.Warn("archive composite failed", logger.String("id", composite.ID), logger.Error(err))
		a.metrics.RecordError("archive")
	}
	if err := a.events.PublishSignalEvent(ctx, ev); err != nil {
		a.logger.Warn("publish composite failed", logger.String("id", composite.ID), logger.Error(err))
		a.metrics.RecordError("publish")
	}
	return &res, nil
}

func (a *Aggregator) buildComposite(res models.FusionResult, eligible []*models.Signal, now time.Time) (*models.Signal, error) {
	expiresAt := eligible[0].ExpiresAt
	tf := eligible[0].Timeframe
	var price decimal.NullDecimal
	var latest time.Time
	var targets, stops []decimal.Decimal

	for _, s := range eligible {
		if s.ExpiresAt.Before(expiresAt) {
			expiresAt = s.ExpiresAt
		}
		if s.Timeframe.Duration() < tf.Duration() {
			tf = s.Timeframe
		}
		if s.Price.Valid && !s.CreatedAt.Before(latest) {
			price, latest = s.Price, s.CreatedAt
		}
		if s.Action == res.Action {
			if s.TargetPrice.Valid {
				targets = append(targets, s.TargetPrice.Decimal)
			}
			if s.StopLoss.Valid {
				stops = append(stops, s.StopLoss.Decimal)
			}
		}
	}

	return models.NewSignal(models.SignalParams{
		Symbol:      res.Symbol,
		Action:      res.Action,
		Confidence:  res.Confidence,
		Price:       price,
		TargetPrice: average(targets),
		StopLoss:    average(stops),
		Source:      models.SourceComposite,
		Timeframe:   tf,
		ExpiresAt:   expiresAt,
		Metadata: map[string]any{
			models.MetaContributingSignalIDs: res.Contributing,
			models.MetaBuyWeight:             res.BuyWeight,
			models.MetaSellWeight:            res.SellWeight,
			models.MetaHoldWeight:            res.HoldWeight,
		},
	}, now)
}

func average(xs []decimal.Decimal) decimal.NullDecimal {
	if len(xs) == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.Avg(xs[0], xs[1:]...).Round(8))
}
