package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// Envelope — формат сообщения в topic: метаданные outbox и исходный payload события.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish отправляет событие с ключом по заказу, чтобы события одного заказа попадали в одну партицию.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		OccurredAt:    event.CreatedAt,
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(ctx, p.topic, key, envelope,
		Header{Key: HeaderEventType, Value: event.EventType},
		Header{Key: HeaderOutboxID, Value: event.ID},
		Header{Key: HeaderAggregateType, Value: event.AggregateType},
	)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
