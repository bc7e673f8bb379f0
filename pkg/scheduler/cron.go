package scheduler

import (
	"context"
	"fmt"

	"FinFuse/pkg/logger"

	"github.com/robfig/cron/v3"
)

// CronRunner runs wall-clock jobs described by cron expressions with a
// leading seconds field.
type CronRunner struct {
	cron    *cron.Cron
	logger  *logger.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewCronRunner(lgr *logger.Logger) *CronRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronRunner{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  lgr,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Add registers job under spec. The job's context ends when the runner stops.
func (r *CronRunner) Add(name, spec string, job func(context.Context)) error {
	_, err := r.cron.AddFunc(spec, func() { job(r.baseCtx) })
	if err != nil {
		return fmt.Errorf("cron %s %q: %w", name, spec, err)
	}
	r.logger.Info("cron job registered", logger.String("job", name), logger.String("spec", spec))
	return nil
}

// Len reports the number of registered entries.
func (r *CronRunner) Len() int { return len(r.cron.Entries()) }

func (r *CronRunner) Start() {
	r.cron.Start()
	r.logger.Info("cron started", logger.Int("entries", r.Len()))
}

// Stop cancels running jobs and waits for them or ctx.
func (r *CronRunner) Stop(ctx context.Context) error {
	r.cancel()
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("cron stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron stop: %w", ctx.Err())
	}
}
