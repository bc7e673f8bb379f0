package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinFuse/internal/middleware"
	"FinFuse/internal/usecase"
	"FinFuse/pkg/config"
	xhttp "FinFuse/pkg/http"
	pkgkafka "FinFuse/pkg/kafka"
	applogger "FinFuse/pkg/logger"
	"FinFuse/pkg/queue"
	"FinFuse/pkg/scheduler"
)

// Closer is an infrastructure client released on shutdown, in reverse
// registration order.
type Closer struct {
	Name  string
	Close func() error
}

// Components is everything the App starts and stops. Optional parts are nil
// when their feature is disabled.
type Components struct {
	Logger    *applogger.Logger
	Queue     *queue.Manager
	Handlers  []queue.Handler
	JobEvents *usecase.JobEvents
	Cron      *scheduler.CronRunner
	Analysis  *usecase.AnalysisRunner
	Monitor   *usecase.Monitor
	Sweeper   *usecase.ExpirySweeper
	Pipeline  *middleware.IngestPipeline
	Collector *usecase.SignalCollector
	Consumer  *pkgkafka.Consumer
	Kafka     []pkgkafka.MessageHandler
	HTTP      *xhttp.Server
	Closers   []Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg     *config.Config
	c       Components
	logger  *applogger.Logger
	cancel  context.CancelFunc
	started bool
}

// New creates a new App. Queue handlers are registered here so a wiring
// mistake fails before anything starts.
func New(cfg *config.Config, c Components) (*App, error) {
	if c.Logger == nil {
		c.Logger = applogger.NewNop()
	}
	if c.Queue == nil || c.HTTP == nil {
		return nil, errors.New("server: queue and http server are required")
	}
	for _, h := range c.Handlers {
		if err := c.Queue.Register(h); err != nil {
			return nil, fmt.Errorf("register %s: %w", h.Name(), err)
		}
	}
	if c.JobEvents != nil {
		c.JobEvents.Attach(c.Queue)
	}
	return &App{cfg: cfg, c: c, logger: c.Logger}, nil
}

// Run starts the application and blocks until interrupted or the HTTP
// listener fails.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-a.c.HTTP.Err():
		a.logger.Error("http server failed", applogger.Error(runErr))
	}

	timeout := 15 * time.Second
	if a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
		timeout = a.cfg.Server.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Start brings components up inner to outer: the queue before anything
// that enqueues, HTTP last.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.c.Queue.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	a.started = true
	a.logger.Info("job queue started", applogger.Int("handlers", len(a.c.Handlers)))

	if a.c.Sweeper != nil {
		a.c.Sweeper.Start(ctx)
	}
	if a.c.Pipeline != nil {
		a.c.Pipeline.Start(ctx)
	}

	if a.c.Cron != nil {
		if err := a.scheduleCron(); err != nil {
			return err
		}
		a.c.Cron.Start()
	}

	if a.c.Collector != nil {
		if err := a.c.Collector.Start(ctx); err != nil {
			// HTTP and Kafka ingest still work without the feed.
			a.logger.Error("signal feed unavailable", applogger.Error(err))
		}
	}

	if a.c.Consumer != nil && len(a.c.Kafka) > 0 {
		topics := make([]string, 0, len(a.c.Kafka))
		for _, h := range a.c.Kafka {
			a.c.Consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.logger.Info("kafka consumer started", applogger.Strings("topics", topics))
	}

	if err := a.c.HTTP.Start(); err != nil {
		return fmt.Errorf("start http: %w", err)
	}
	return nil
}

func (a *App) scheduleCron() error {
	if a.c.Analysis != nil && a.cfg != nil && a.cfg.Cron.Analysis != "" {
		if err := a.c.Cron.Add("analysis", a.cfg.Cron.Analysis, a.c.Analysis.Tick); err != nil {
			return err
		}
	}
	if a.c.Monitor != nil && a.cfg != nil && a.cfg.Cron.Monitor != "" {
		if err := a.c.Cron.Add("monitor", a.cfg.Cron.Monitor, a.c.Monitor.Tick); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops components outer to inner and closes infrastructure
// clients. Every step runs; the errors are joined.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")
	var errs []error
	note := func(what string, err error) {
		if err != nil {
			a.logger.Warn(what+" stop error", applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	note("http", a.c.HTTP.Stop(ctx))
	if a.c.Cron != nil {
		note("cron", a.c.Cron.Stop(ctx))
	}
	if a.c.Collector != nil {
		note("collector", a.c.Collector.Shutdown(ctx))
	}
	if a.c.Consumer != nil {
		note("kafka consumer", a.c.Consumer.Stop(ctx))
	}
	if a.c.Pipeline != nil {
		a.c.Pipeline.Stop()
	}
	if a.c.Sweeper != nil {
		a.c.Sweeper.Stop()
	}
	if a.started {
		note("queue", a.c.Queue.Stop(ctx))
	}
	if a.cancel != nil {
		a.cancel()
	}

	for i := len(a.c.Closers) - 1; i >= 0; i-- {
		cl := a.c.Closers[i]
		note(cl.Name, cl.Close())
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
