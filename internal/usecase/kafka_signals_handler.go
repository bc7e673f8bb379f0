package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/internal/middleware"
	pkgkafka "FinFuse/pkg/kafka"
	"FinFuse/pkg/logger"
)

// Ingestor is the ingest pipeline as seen by the channel adapters.
type Ingestor interface {
	Process(ctx context.Context, req *models.SubmitSignalRequest) (*models.Signal, error)
	Offer(ctx context.Context, req *models.SubmitSignalRequest) error
}

// KafkaSignalsHandler consumes producer signals from a Kafka topic.
type KafkaSignalsHandler struct {
	topic   string
	ingest  Ingestor
	metrics domrepo.Metrics
	logger  *logger.Logger
}

func NewKafkaSignalsHandler(topic string, ingest Ingestor, metrics domrepo.Metrics, lgr *logger.Logger) *KafkaSignalsHandler {
	return &KafkaSignalsHandler{topic: topic, ingest: ingest, metrics: metrics, logger: lgr}
}

func (h *KafkaSignalsHandler) Topic() string { return h.topic }

// Handle stores one signal. Malformed or invalid messages are not retried;
// throttled ones are dropped.
func (h *KafkaSignalsHandler) Handle(ctx context.Context, b []byte) error {
	var req models.SubmitSignalRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: decode signal: %v", pkgkafka.ErrSkipRetry, err)
	}
	_, err := h.ingest.Process(ctx, &req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, middleware.ErrThrottled):
		return nil
	case errors.Is(err, models.ErrValidation):
		h.logger.Warn("invalid signal on topic",
			logger.String("topic", h.topic),
			logger.String("symbol", req.Symbol),
			logger.Error(err))
		return fmt.Errorf("%w: %v", pkgkafka.ErrSkipRetry, err)
	default:
		h.metrics.RecordError("consumer_store")
		return err
	}
}

var _ pkgkafka.MessageHandler = (*KafkaSignalsHandler)(nil)

// KafkaOutcomesHandler feeds execution outcomes published by an external
// executor back to the waiting trade worker.
type KafkaOutcomesHandler struct {
	topic    string
	reporter domrepo.OutcomeReporter
	metrics  domrepo.Metrics
	logger   *logger.Logger
}

func NewKafkaOutcomesHandler(topic string, reporter domrepo.OutcomeReporter, metrics domrepo.Metrics, lgr *logger.Logger) *KafkaOutcomesHandler {
	return &KafkaOutcomesHandler{topic: topic, reporter: reporter, metrics: metrics, logger: lgr}
}

func (h *KafkaOutcomesHandler) Topic() string { return h.topic }

// Handle reports one outcome. Outcomes nobody waits for any more are late
// duplicates and are skipped.
func (h *KafkaOutcomesHandler) Handle(ctx context.Context, b []byte) error {
	var out models.JobOutcome
	if err := json.Unmarshal(b, &out); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: decode outcome: %v", pkgkafka.ErrSkipRetry, err)
	}
	if out.JobID == "" {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: outcome without jobId", pkgkafka.ErrSkipRetry)
	}
	err := h.reporter.ReportJobOutcome(ctx, out)
	if errors.Is(err, models.ErrNoPendingExecution) {
		h.logger.Warn("outcome for job not awaiting execution",
			logger.String("job_id", out.JobID),
			logger.Int("attempt", out.Attempt),
			logger.Bool("success", out.Success))
		return nil
	}
	return err
}

var _ pkgkafka.MessageHandler = (*KafkaOutcomesHandler)(nil)
