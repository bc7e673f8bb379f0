package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/internal/service/ratelimit"
	"FinFuse/pkg/logger"

	xhttp "FinFuse/pkg/http"
)

// ErrThrottled is returned when a source floods a symbol faster than its
// token bucket refills.
var ErrThrottled = errors.New("signal throttled")

// Submitter stores a validated signal.
type Submitter interface {
	Submit(ctx context.Context, req *models.SubmitSignalRequest) (*models.Signal, error)
}

// IngestPipeline sits between every ingest channel and the signal service.
// It validates, throttles per source and symbol, and buffers feed messages
// while the store is unavailable.
type IngestPipeline struct {
	sub     Submitter
	metrics domrepo.Metrics
	logger  *logger.Logger
	limiter *ratelimit.Limiter

	burst   float64
	perSec  float64
	bufSize int
	bufCh   chan *models.SubmitSignalRequest

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type PipelineOption func(*IngestPipeline)

// WithRate sets the token bucket per source and symbol. burst <= 0 disables
// throttling.
func WithRate(burst, perSec float64) PipelineOption {
	return func(p *IngestPipeline) {
		p.burst, p.perSec = burst, perSec
	}
}

// WithBufferSize sets how many feed messages are held while downstream fails.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithLimiter shares a limiter, mostly for tests with a fake clock.
func WithLimiter(l *ratelimit.Limiter) PipelineOption {
	return func(p *IngestPipeline) {
		if l != nil {
			p.limiter = l
		}
	}
}

func NewIngestPipeline(sub Submitter, metrics domrepo.Metrics, lgr *logger.Logger, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		sub:     sub,
		metrics: metrics,
		logger:  lgr.With(logger.String("component", "ingest")),
		limiter: ratelimit.New(),
		burst:   10,
		perSec:  2,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.SubmitSignalRequest, p.bufSize)
	return p
}

// Process validates, throttles and stores req synchronously.
func (p *IngestPipeline) Process(ctx context.Context, req *models.SubmitSignalRequest) (*models.Signal, error) {
	start := time.Now()
	if err := p.admit(ctx, req); err != nil {
		return nil, err
	}
	sig, err := p.sub.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordLatency("ingest", time.Since(start).Seconds())
	return sig, nil
}

// Offer is Process for channels without redelivery: a downstream failure
// parks the message in the buffer for the flush loop instead of losing it.
func (p *IngestPipeline) Offer(ctx context.Context, req *models.SubmitSignalRequest) error {
	if err := p.admit(ctx, req); err != nil {
		return err
	}
	if _, err := p.sub.Submit(ctx, req); err != nil {
		if errors.Is(err, models.ErrValidation) {
			return err
		}
		select {
		case p.bufCh <- req:
			p.metrics.RecordError("ingest_buffered")
		default:
			p.metrics.RecordError("ingest_buffer_full")
		}
		return fmt.Errorf("ingest downstream: %w", err)
	}
	return nil
}

func (p *IngestPipeline) admit(ctx context.Context, req *models.SubmitSignalRequest) error {
	if req == nil {
		p.metrics.RecordError("ingest_validate")
		return models.NewValidationError("", "empty signal")
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	if err := xhttp.ValidateStruct(ctx, req); err != nil {
		p.metrics.RecordError("ingest_validate")
		field, msg := xhttp.FirstValidationMessage(err)
		return models.NewValidationError(field, msg)
	}
	if p.burst > 0 && !p.limiter.Allow(req.Source+":"+req.Symbol, p.burst, p.perSec) {
		p.metrics.RecordError("ingest_throttle")
		p.logger.Debug("signal throttled",
			logger.String("source", req.Source),
			logger.String("symbol", req.Symbol))
		return fmt.Errorf("%s/%s: %w", req.Source, req.Symbol, ErrThrottled)
	}
	return nil
}

// Buffered reports how many messages wait for the flush loop.
func (p *IngestPipeline) Buffered() int { return len(p.bufCh) }

// Start launches the flush loop for buffered messages and periodic pruning
// of idle limiter buckets.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.flush(ctx)
	}()
}

func (p *IngestPipeline) flush(ctx context.Context) {
	backoff := 50 * time.Millisecond
	prune := time.NewTicker(time.Minute)
	defer prune.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-prune.C:
			p.limiter.Prune(10 * time.Minute)
		case req := <-p.bufCh:
			if _, err := p.sub.Submit(ctx, req); err != nil {
				if errors.Is(err, models.ErrValidation) {
					continue
				}
				if backoff < 2*time.Second {
					backoff *= 2
				}
				p.metrics.RecordError("ingest_flush")
				select {
				case <-time.After(backoff):
				case <-p.stopCh:
					return
				}
				select {
				case p.bufCh <- req:
				default:
					p.metrics.RecordError("ingest_buffer_drop")
				}
				continue
			}
			backoff = 50 * time.Millisecond
		}
	}
}

// Stop ends the flush loop. Messages still buffered are dropped and logged.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	p.wg.Wait()
	if n := len(p.bufCh); n > 0 {
		p.logger.Warn("dropping buffered signals on shutdown", logger.Int("count", n))
	}
}
