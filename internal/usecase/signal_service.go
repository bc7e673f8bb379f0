package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/logger"

	"github.com/shopspring/decimal"
)

// SignalService is the ingest and read side of the signal store.
type SignalService struct {
	store   domrepo.SignalStore
	archive domrepo.SignalArchive
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	life    *Lifecycle
	logger  *logger.Logger
	now     func() time.Time
}

func NewSignalService(store domrepo.SignalStore, archive domrepo.SignalArchive, events domrepo.EventPublisher, metrics domrepo.Metrics, life *Lifecycle, lgr *logger.Logger) *SignalService {
	return &SignalService{
		store:   store,
		archive: archive,
		events:  events,
		metrics: metrics,
		life:    life,
		logger:  lgr,
		now:     time.Now,
	}
}

// ParseSubmitRequest turns wire input into validated signal parameters.
// Composite signals cannot be submitted from outside.
func ParseSubmitRequest(req *models.SubmitSignalRequest) (models.SignalParams, error) {
	var p models.SignalParams
	if req == nil {
		return p, models.NewValidationError("", "empty request")
	}
	action, err := models.ParseAction(req.Action)
	if err != nil {
		return p, err
	}
	source, err := models.ParseSource(req.Source)
	if err != nil {
		return p, err
	}
	if source == models.SourceComposite {
		return p, models.NewValidationError("source", "composite signals are produced internally")
	}
	if err := models.ValidateConfidence(req.Confidence); err != nil {
		return p, err
	}
	tf := models.Timeframe(strings.TrimSpace(req.Timeframe))
	if tf != "" && !models.IsValidTimeframe(tf) {
		return p, models.NewValidationError("timeframe", "unsupported timeframe "+req.Timeframe)
	}

	p = models.SignalParams{
		Symbol:     req.Symbol,
		Action:     action,
		Confidence: req.Confidence,
		Source:     source,
		Timeframe:  tf,
		Metadata:   req.Metadata,
	}
	if p.Price, err = parseQuote("price", req.Price); err != nil {
		return p, err
	}
	if p.TargetPrice, err = parseQuote("targetPrice", req.TargetPrice); err != nil {
		return p, err
	}
	if p.StopLoss, err = parseQuote("stopLoss", req.StopLoss); err != nil {
		return p, err
	}
	if req.ExpiresAt != nil {
		p.ExpiresAt = *req.ExpiresAt
	}
	return p, nil
}

func parseQuote(field string, s *string) (decimal.NullDecimal, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*s))
	if err != nil {
		return decimal.NullDecimal{}, models.NewValidationError(field, "not a decimal number")
	}
	return decimal.NewNullDecimal(d), nil
}

// Submit validates and stores a producer signal. Invalid input never
// reaches the store.
func (s *SignalService) Submit(ctx context.Context, req *models.SubmitSignalRequest) (*models.Signal, error) {
	params, err := ParseSubmitRequest(req)
	if err != nil {
		s.metrics.RecordError("validation")
		return nil, err
	}
	now := s.now()
	sig, err := models.NewSignal(params, now)
	if err != nil {
		s.metrics.RecordError("validation")
		return nil, err
	}
	if err := s.store.Create(ctx, sig); err != nil {
		s.metrics.RecordError("store")
		return nil, fmt.Errorf("store signal: %w", err)
	}

	s.metrics.RecordSignal(sig.Source.String(), sig.Action.String())
	s.logger.Info("signal accepted",
		logger.String("id", sig.ID),
		logger.String("symbol", sig.Symbol),
		logger.String("source", sig.Source.String()),
		logger.String("action", sig.Action.String()),
		logger.Float64("confidence", sig.Confidence),
		logger.Time("expires_at", sig.ExpiresAt))

	s.life.publish(ctx, models.SignalEvent{Event: models.SignalEventCreated, Signal: sig, At: now})
	return sig, nil
}

func (s *SignalService) Get(ctx context.Context, id string) (*models.Signal, error) {
	return s.store.Get(ctx, id)
}

// List returns signals newest first.
func (s *SignalService) List(ctx context.Context, req models.ListSignalsRequest) ([]*models.Signal, error) {
	f := domrepo.SignalFilter{Symbol: strings.TrimSpace(req.Symbol), Limit: req.Limit}
	if req.Status != "" {
		st, err := models.ParseStatus(req.Status)
		if err != nil {
			return nil, err
		}
		f.Status = st
	}
	return s.store.List(ctx, f)
}

// Cancel cancels a pending signal with a mandatory reason.
func (s *SignalService) Cancel(ctx context.Context, id, reason string) (*models.Signal, error) {
	return s.life.Cancel(ctx, id, reason)
}
