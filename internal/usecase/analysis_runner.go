package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/logger"
	"FinFuse/pkg/queue"
)

// AnalysisConfig selects what the analysis lane asks the models about.
type AnalysisConfig struct {
	Symbols   []string
	Sources   []models.Source
	Timeframe models.Timeframe
}

// AnalysisRunner admits periodic analysis jobs and handles the analysis lane
// by asking the model service for an opinion and submitting it as a signal.
type AnalysisRunner struct {
	model   domrepo.ModelClient
	signals *SignalService
	jobs    JobQueue
	logger  *logger.Logger
	cfg     AnalysisConfig
}

func NewAnalysisRunner(model domrepo.ModelClient, signals *SignalService, jobs JobQueue, lgr *logger.Logger, cfg AnalysisConfig) *AnalysisRunner {
	if len(cfg.Sources) == 0 {
		cfg.Sources = models.AnalysisSources()
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = models.TF1h
	}
	return &AnalysisRunner{
		model:   model,
		signals: signals,
		jobs:    jobs,
		logger:  lgr.With(logger.String("component", "analysis")),
		cfg:     cfg,
	}
}

func (r *AnalysisRunner) Name() string { return "model-analysis" }

func (r *AnalysisRunner) Lane() queue.Lane { return queue.LaneAnalysis }

// EnqueueRound admits one job per symbol and source. Jobs of the same round
// are deduplicated by idempotency key.
func (r *AnalysisRunner) EnqueueRound(ctx context.Context, tick time.Time) (int, error) {
	admitted := 0
	var errs []error
	for _, sym := range r.cfg.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		for _, src := range r.cfg.Sources {
			_, err := r.jobs.Enqueue(ctx, queue.LaneAnalysis, queue.EnqueueOptions{
				Payload:        models.AnalysisPayload{Symbol: sym, Source: src, Timeframe: r.cfg.Timeframe},
				IdempotencyKey: fmt.Sprintf("analysis:%s:%s:%d", sym, src, tick.Unix()),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", sym, src, err))
				continue
			}
			admitted++
		}
	}
	return admitted, errors.Join(errs...)
}

// Tick is the cron entry point.
func (r *AnalysisRunner) Tick(ctx context.Context) {
	n, err := r.EnqueueRound(ctx, time.Now().Truncate(time.Second))
	if err != nil {
		r.logger.Warn("analysis round partially admitted", logger.Int("admitted", n), logger.Error(err))
		return
	}
	r.logger.Debug("analysis round admitted", logger.Int("jobs", n))
}

// Handle runs one analysis job. Model errors are retried; opinions the
// signal service rejects are not.
func (r *AnalysisRunner) Handle(ctx context.Context, job queue.Job) error {
	p, err := queue.ParsePayload[models.AnalysisPayload](job.Payload)
	if err != nil {
		return queue.Permanent(err)
	}
	if p.Symbol == "" || !p.Source.Valid() || p.Source == models.SourceComposite {
		return queue.Permanent(models.NewValidationError("payload", "analysis needs a symbol and a model source"))
	}

	req, err := r.model.Analyze(ctx, p.Symbol, p.Source, p.Timeframe)
	if err != nil {
		return fmt.Errorf("analyze %s/%s: %w", p.Symbol, p.Source, err)
	}
	if req == nil {
		r.logger.Debug("model has no opinion",
			logger.String("symbol", p.Symbol),
			logger.String("source", p.Source.String()))
		return nil
	}
	req.Symbol = p.Symbol
	req.Source = p.Source.String()
	if req.Timeframe == "" {
		req.Timeframe = string(p.Timeframe)
	}

	sig, err := r.signals.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			return queue.Permanent(err)
		}
		return err
	}
	r.logger.Info("model opinion submitted",
		logger.String("job_id", job.ID),
		logger.String("signal_id", sig.ID),
		logger.String("symbol", sig.Symbol),
		logger.String("source", sig.Source.String()),
		logger.String("action", sig.Action.String()))
	return nil
}
