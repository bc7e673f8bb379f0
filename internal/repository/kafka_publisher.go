package repository

import (
	"context"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	pkgkafka "FinFuse/pkg/kafka"
)

// EventTopics names the topics domain events are published to.
type EventTopics struct {
	Signals string
	Jobs    string
	Status  string
}

// KafkaEventPublisher publishes domain events as JSON. Signal events are
// keyed by symbol so one symbol's history stays ordered in its partition.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topics   EventTopics
}

func NewKafkaEventPublisher(p *pkgkafka.Producer, topics EventTopics) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: p, topics: topics}
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func (k *KafkaEventPublisher) PublishSignalEvent(ctx context.Context, ev models.SignalEvent) error {
	if k.topics.Signals == "" || ev.Signal == nil {
		return nil
	}
	return k.producer.Publish(ctx, k.topics.Signals, []byte(ev.Signal.Symbol), ev)
}

func (k *KafkaEventPublisher) PublishJobEvent(ctx context.Context, ev models.JobEvent) error {
	if k.topics.Jobs == "" {
		return nil
	}
	return k.producer.Publish(ctx, k.topics.Jobs, []byte(ev.JobID), ev)
}

func (k *KafkaEventPublisher) PublishStatus(ctx context.Context, ev models.StatusEvent) error {
	if k.topics.Status == "" {
		return nil
	}
	return k.producer.Publish(ctx, k.topics.Status, nil, ev)
}

// Close is a no-op; the producer is shared and closed by its owner.
func (k *KafkaEventPublisher) Close() error { return nil }

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

var _ domrepo.EventPublisher = NopPublisher{}

func (NopPublisher) PublishSignalEvent(context.Context, models.SignalEvent) error { return nil }
func (NopPublisher) PublishJobEvent(context.Context, models.JobEvent) error { return nil }
func (NopPublisher) PublishStatus(context.Context, models.StatusEvent) error { return nil }
func (NopPublisher) Close() error { return nil }
