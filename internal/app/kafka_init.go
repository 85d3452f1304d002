package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// outboxPublishers выбирает, куда relay отправляет события: Kafka или журнал.
func outboxPublishers(producer *kafka.Producer, cfg Config, logger *log.Entry) (publisher, dlq domain.OutboxPublisher) {
	if producer == nil {
		return &logPublisher{logger: logger.WithField("layer", "outbox-log")}, nil
	}
	return kafka.NewOutboxPublisher(producer, cfg.KafkaTopic), kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// logPublisher пишет события в журнал, когда Kafka не настроена.
type logPublisher struct {
	logger *log.Entry
}

func (p *logPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Info("outbox event")
	return nil
}
