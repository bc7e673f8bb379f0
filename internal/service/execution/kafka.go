package execution

import (
	"context"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	pkgkafka "FinFuse/pkg/kafka"
	"FinFuse/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// KafkaAdapter publishes orders for an out-of-process executor. Outcomes come
// back on the outcomes topic or over HTTP.
type KafkaAdapter struct {
	producer *pkgkafka.Producer
	topic    string
	logger   *logger.Logger
}

func NewKafkaAdapter(p *pkgkafka.Producer, topic string, lgr *logger.Logger) *KafkaAdapter {
	return &KafkaAdapter{producer: p, topic: topic, logger: lgr}
}

var _ domrepo.ExecutionAdapter = (*KafkaAdapter)(nil)

func (k *KafkaAdapter) Name() string { return "kafka" }

func (k *KafkaAdapter) Submit(ctx context.Context, order models.TradeOrder) error {
	err := k.producer.PublishBatch(ctx, k.topic, []pkgkafka.Message{{
		Key:   []byte(order.Symbol),
		Value: order,
		Headers: []kafka.Header{
			{Key: "job_id", Value: []byte(order.JobID)},
		},
	}})
	if err != nil {
		return err
	}
	k.logger.Debug("order published",
		logger.String("topic", k.topic),
		logger.String("job_id", order.JobID),
		logger.String("symbol", order.Symbol))
	return nil
}

// Close is a no-op; the producer is shared.
func (k *KafkaAdapter) Close() error { return nil }
