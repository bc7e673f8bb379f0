package usecase

import (
	"context"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/logger"
	"FinFuse/pkg/queue"
)

const jobEventTimeout = 3 * time.Second

// JobEvents reports terminal jobs to metrics and the event bus.
type JobEvents struct {
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	logger  *logger.Logger
}

func NewJobEvents(events domrepo.EventPublisher, metrics domrepo.Metrics, lgr *logger.Logger) *JobEvents {
	return &JobEvents{events: events, metrics: metrics, logger: lgr}
}

// Attach registers the reporter on every lane of m.
func (j *JobEvents) Attach(m *queue.Manager) {
	m.OnFinish(j.OnFinish)
}

// OnFinish is a queue.FinishFunc.
func (j *JobEvents) OnFinish(job queue.Job, err error) {
	j.metrics.RecordJob(job.Lane.String(), job.State.String())

	ev := models.JobEvent{
		JobID:       job.ID,
		Lane:        job.Lane.String(),
		State:       job.State.String(),
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		At:          job.UpdatedAt,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if job.Lane == queue.LaneTrade {
		if p, perr := queue.ParsePayload[models.TradePayload](job.Payload); perr == nil {
			ev.SignalID = p.SignalID
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobEventTimeout)
	defer cancel()
	if perr := j.events.PublishJobEvent(ctx, ev); perr != nil {
		j.logger.Warn("publish job event failed",
			logger.String("job_id", job.ID),
			logger.Error(perr))
		j.metrics.RecordError("publish")
	}
}
