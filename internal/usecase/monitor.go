package usecase

import (
	"context"
	"fmt"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/logger"
	"FinFuse/pkg/queue"
)

// Monitor handles the monitor lane: each tick snapshots the queue and the
// pending signal backlog, exports it as gauges and publishes a status event.
type Monitor struct {
	jobs    JobQueue
	store   domrepo.SignalStore
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	logger  *logger.Logger
}

func NewMonitor(jobs JobQueue, store domrepo.SignalStore, events domrepo.EventPublisher, metrics domrepo.Metrics, lgr *logger.Logger) *Monitor {
	return &Monitor{
		jobs:    jobs,
		store:   store,
		events:  events,
		metrics: metrics,
		logger:  lgr.With(logger.String("component", "monitor")),
	}
}

func (m *Monitor) Name() string { return "queue-monitor" }

func (m *Monitor) Lane() queue.Lane { return queue.LaneMonitor }

// Tick admits one monitor job per tick.
func (m *Monitor) Tick(ctx context.Context) {
	now := time.Now().Truncate(time.Second)
	_, err := m.jobs.Enqueue(ctx, queue.LaneMonitor, queue.EnqueueOptions{
		Payload:        models.MonitorPayload{Tick: now},
		IdempotencyKey: fmt.Sprintf("monitor:%d", now.Unix()),
	})
	if err != nil {
		m.logger.Warn("monitor tick not admitted", logger.Error(err))
	}
}

// Snapshot builds the current status event.
func (m *Monitor) Snapshot(ctx context.Context) (models.StatusEvent, error) {
	st := m.jobs.Status()
	ev := models.StatusEvent{
		Uptime: st.Uptime,
		Lanes:  make(map[string]models.LaneCounts, len(st.Lanes)),
		At:     time.Now(),
	}
	for lane, c := range st.Lanes {
		ev.Lanes[lane.String()] = models.LaneCounts(c)
	}
	pending, err := m.store.ListPending(ctx)
	if err != nil {
		return ev, fmt.Errorf("list pending: %w", err)
	}
	ev.PendingSignals = len(pending)
	return ev, nil
}

func (m *Monitor) Handle(ctx context.Context, job queue.Job) error {
	ev, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	for lane, c := range ev.Lanes {
		m.metrics.RecordLaneCounts(lane, c)
		m.logger.Info("lane status",
			logger.String("lane", lane),
			logger.Int64("queued", c.Queued),
			logger.Int64("running", c.Running),
			logger.Int64("succeeded", c.Succeeded),
			logger.Int64("failed", c.Failed),
			logger.Int64("exhausted", c.Exhausted))
	}
	m.logger.Info("service status",
		logger.Duration("uptime", ev.Uptime),
		logger.Int("pending_signals", ev.PendingSignals))

	if err := m.events.PublishStatus(ctx, ev); err != nil {
		m.logger.Warn("publish status failed", logger.Error(err))
		m.metrics.RecordError("publish")
	}
	return nil
}
