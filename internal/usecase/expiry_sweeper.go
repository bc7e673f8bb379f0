package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/logger"
	"FinFuse/pkg/scheduler"
)

const sweeperKey = "sweeper:expiry"

// ExpirySweeper moves pending signals past their expiry to expired. It only
// writes through Lifecycle.Settle, so it is safe next to ingest and execution.
type ExpirySweeper struct {
	store    domrepo.SignalStore
	life     *Lifecycle
	sched    *scheduler.DelayQueue
	metrics  domrepo.Metrics
	logger   *logger.Logger
	interval time.Duration
	now      func() time.Time

	sweeping atomic.Bool
	cancel   context.CancelFunc
}

func NewExpirySweeper(store domrepo.SignalStore, life *Lifecycle, sched *scheduler.DelayQueue, metrics domrepo.Metrics, lgr *logger.Logger, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		store:    store,
		life:     life,
		sched:    sched,
		metrics:  metrics,
		logger:   lgr,
		interval: interval,
		now:      time.Now,
	}
}

// Start schedules a sweep every interval on the shared scheduler.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.sched.Every(sweeperKey, s.interval, func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("expiry sweep failed", logger.Error(err))
		}
	})
	s.logger.Info("expiry sweeper started", logger.Duration("interval_ms", s.interval))
}

// Stop unschedules the sweeper and aborts a running sweep.
func (s *ExpirySweeper) Stop() {
	s.sched.Cancel(sweeperKey)
	if s.cancel != nil {
		s.cancel()
	}
}

// Sweep expires every pending signal with now > expiresAt and returns how
// many it moved. Overlapping calls return immediately.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		s.metrics.RecordError("sweep")
		return 0, err
	}

	now := s.now()
	expired := 0
	for _, sig := range pending {
		if !now.After(sig.ExpiresAt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, applied, err := s.life.Settle(ctx, sig.ID, models.StatusExpired,
			map[string]any{models.MetaTransitionReason: "expired by sweeper"})
		if err != nil {
			s.metrics.RecordError("sweep")
			s.logger.Warn("expire signal failed", logger.String("id", sig.ID), logger.Error(err))
			continue
		}
		if applied {
			expired++
		}
	}

	s.metrics.RecordLatency("sweep", time.Since(start).Seconds())
	if expired > 0 {
		s.logger.Info("expired stale signals",
			logger.Int("expired", expired),
			logger.Int("scanned", len(pending)))
	}
	return expired, nil
}
