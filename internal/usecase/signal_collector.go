package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinFuse/internal/domain/models"
	drepo "FinFuse/internal/domain/repository"
	"FinFuse/internal/middleware"
	"FinFuse/pkg/logger"
)

// SignalCollector pumps the upstream websocket feed into the ingest pipeline
// and keeps the connection alive.
type SignalCollector struct {
	feed    drepo.SignalFeed
	ingest  Ingestor
	metrics drepo.Metrics
	logger  *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSignalCollector(feed drepo.SignalFeed, ingest Ingestor, metrics drepo.Metrics, lgr *logger.Logger) *SignalCollector {
	return &SignalCollector{feed: feed, ingest: ingest, metrics: metrics, logger: lgr}
}

// IsConnected returns true if the feed is connected.
func (c *SignalCollector) IsConnected() bool { return c.feed.IsConnected() }

// Start connects and consumes in the background until Shutdown.
func (c *SignalCollector) Start(ctx context.Context) error {
	if err := c.feed.Connect(ctx); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	return nil
}

func (c *SignalCollector) run(ctx context.Context) {
	for {
		sigs, errs := c.feed.Read(ctx)
		err := c.consume(ctx, sigs, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("feed")
		c.logger.Warn("feed interrupted, reconnecting", logger.Error(err))
		for {
			rerr := c.feed.Reconnect(ctx)
			if rerr == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("feed reconnect failed", logger.Error(rerr))
		}
	}
}

func (c *SignalCollector) consume(ctx context.Context, sigs <-chan *models.SubmitSignalRequest, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			if !ok {
				errs = nil
			}
		case req, ok := <-sigs:
			if !ok {
				return errors.New("feed stream closed")
			}
			c.handle(ctx, req)
		}
	}
}

func (c *SignalCollector) handle(ctx context.Context, req *models.SubmitSignalRequest) {
	err := c.ingest.Offer(ctx, req)
	switch {
	case err == nil, errors.Is(err, middleware.ErrThrottled):
	case errors.Is(err, models.ErrValidation):
		c.logger.Debug("invalid signal from feed", logger.String("symbol", req.Symbol), logger.Error(err))
	default:
		c.logger.Warn("feed signal buffered after store error", logger.String("symbol", req.Symbol), logger.Error(err))
	}
}

// Shutdown stops consuming and closes the feed.
func (c *SignalCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		c.logger.Warn("feed consumer did not stop in time")
	}
	return c.feed.Close()
}
