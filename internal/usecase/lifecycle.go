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
)

const defaultSettleRetries = 5

// Lifecycle drives signal status transitions through the store's CAS.
type Lifecycle struct {
	store   domrepo.SignalStore
	archive domrepo.SignalArchive
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	logger  *logger.Logger
	retries int
}

func NewLifecycle(store domrepo.SignalStore, archive domrepo.SignalArchive, events domrepo.EventPublisher, metrics domrepo.Metrics, lgr *logger.Logger) *Lifecycle {
	return &Lifecycle{
		store:   store,
		archive: archive,
		events:  events,
		metrics: metrics,
		logger:  lgr,
		retries: defaultSettleRetries,
	}
}

// Transition applies a CAS transition against the version it reads. A lost
// race is resolved by re-reading: a still-pending signal is retried, a
// terminal one yields ErrInvalidTransition carrying the observed status.
// ErrStaleSignalState surfaces only when the retries run out.
func (l *Lifecycle) Transition(ctx context.Context, id string, to models.Status, meta map[string]any) (*models.Signal, error) {
	for i := 0; i < l.retries; i++ {
		cur, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cur.Status.CanTransition(to) {
			l.logger.Warn("rejected signal transition",
				logger.String("id", id),
				logger.String("from", cur.Status.String()),
				logger.String("to", to.String()))
			return nil, &models.TransitionError{SignalID: id, From: cur.Status, To: to, Err: models.ErrInvalidTransition}
		}
		next, err := l.store.Transition(ctx, id, cur.Version, to, meta)
		if errors.Is(err, models.ErrStaleSignalState) {
			l.logger.Debug("signal changed underneath, re-reading",
				logger.String("id", id),
				logger.String("to", to.String()))
			continue
		}
		if err != nil {
			return nil, err
		}
		l.record(ctx, cur.Status, next)
		return next, nil
	}
	return nil, fmt.Errorf("transition %s after %d reads: %w", id, l.retries, models.ErrStaleSignalState)
}

// Settle moves a signal to a terminal status unless it already is terminal,
// in which case it returns the stored version and applied=false. A lost race
// is resolved by re-reading, never by blindly re-applying.
func (l *Lifecycle) Settle(ctx context.Context, id string, to models.Status, meta map[string]any) (*models.Signal, bool, error) {
	for i := 0; i < l.retries; i++ {
		cur, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if cur.Status.IsTerminal() {
			return cur, false, nil
		}
		next, err := l.store.Transition(ctx, id, cur.Version, to, meta)
		switch {
		case err == nil:
			l.record(ctx, cur.Status, next)
			return next, true, nil
		case errors.Is(err, models.ErrStaleSignalState):
			l.logger.Debug("signal changed underneath, re-reading",
				logger.String("id", id),
				logger.String("to", to.String()))
			continue
		default:
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("settle %s after %d reads: %w", id, l.retries, models.ErrStaleSignalState)
}

// Cancel cancels a pending signal. reason is mandatory.
func (l *Lifecycle) Cancel(ctx context.Context, id, reason string) (*models.Signal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewValidationError("reason", "cancel reason is required")
	}
	return l.Transition(ctx, id, models.StatusCancelled, map[string]any{models.MetaCancelReason: reason})
}

// AttachJob records jobID on a pending signal, re-reading on version races.
func (l *Lifecycle) AttachJob(ctx context.Context, id, jobID string) (*models.Signal, error) {
	for i := 0; i < l.retries; i++ {
		cur, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := l.store.AttachJob(ctx, id, cur.Version, jobID)
		if errors.Is(err, models.ErrStaleSignalState) {
			continue
		}
		if err != nil {
			return nil, err
		}
		l.publish(ctx, models.SignalEvent{Event: models.SignalEventJob, Signal: next, At: next.UpdatedAt})
		return next, nil
	}
	return nil, fmt.Errorf("attach job to %s: %w", id, models.ErrStaleSignalState)
}

func (l *Lifecycle) record(ctx context.Context, from models.Status, next *models.Signal) {
	l.metrics.RecordTransition(from.String(), next.Status.String())
	fields := []logger.Field{
		logger.String("id", next.ID),
		logger.String("symbol", next.Symbol),
		logger.String("from", from.String()),
		logger.String("to", next.Status.String()),
		logger.Uint64("version", next.Version),
	}
	if reason, ok := next.Metadata[models.MetaCancelReason].(string); ok && next.Status == models.StatusCancelled {
		fields = append(fields, logger.String("reason", reason))
	}
	l.logger.Info("signal transitioned", fields...)
	l.publish(ctx, models.SignalEvent{Event: models.SignalEventTransition, Signal: next, At: next.UpdatedAt})
}

func (l *Lifecycle) publish(ctx context.Context, ev models.SignalEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := l.archive.AppendSignal(ctx, ev); err != nil {
		l.logger.Warn("archive signal event failed", logger.String("id", ev.Signal.ID), logger.Error(err))
		l.metrics.RecordError("archive")
	}
	if err := l.events.PublishSignalEvent(ctx, ev); err != nil {
		l.logger.Warn("publish signal event failed", logger.String("id", ev.Signal.ID), logger.Error(err))
		l.metrics.RecordError("publish")
	}
}
