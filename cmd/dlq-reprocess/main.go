// Команда dlq-reprocess возвращает события order.placed из DLQ в основной topic.
// По умолчанию работает в режиме dry-run и только перечисляет кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second

	envKafkaBrokers = "STOREFRONT_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// deadLetter — payload, который outbox relay кладёт в DLQ после исчерпания попыток.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// replayEvent — событие, готовое к повторной публикации.
type replayEvent struct {
	key      string
	envelope kafka.Envelope
	reason   string
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// eventPublisher реализуется *kafka.Producer.
type eventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any, headers ...kafka.Header) error
	Close() error
}

var errPublisherRequired = errors.New("publisher is required in execute mode")

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, eventPublisher, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = version.ClientID("storefront-dlq-reprocess")
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, os.Stderr)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseConfig(args []string, lookup func(string) (string, bool), output io.Writer) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	fs.StringVar(&cfg.eventType, "event-type", "", "replay only events of this type (empty means all)")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw, _ = lookup(envKafkaBrokers)
	}
	cfg.brokers = app.ParseBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.eventType = strings.TrimSpace(cfg.eventType)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case cfg.sourceTopic == "":
		return config{}, errors.New("source-topic is required")
	case cfg.targetTopic == "":
		return config{}, errors.New("target-topic is required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, errors.New("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"event_type":   cfg.eventType,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, publisher, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if publisher != nil {
			_ = publisher.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	_, err = runReplay(ctx, cfg, client, consumer, publisher)
	return err
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func runReplay(
	ctx context.Context,
	cfg config,
	client offsetClient,
	consumer partitionConsumerSource,
	publisher eventPublisher,
) (replayStats, error) {
	var total replayStats
	if client == nil || consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && publisher == nil {
		return total, errPublisherRequired
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}

		stats, err := processPartition(ctx, consumer, client, publisher, cfg, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}

	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return total, nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	publisher eventPublisher,
	cfg config,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			entry := log.WithFields(log.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			})

			event, err := decodeDeadLetter(msg.Value)
			if err != nil {
				stats.skipped++
				entry.WithError(err).Warn("skip unsupported dlq message")
				continue
			}
			if cfg.eventType != "" && event.envelope.EventType != cfg.eventType {
				stats.skipped++
				continue
			}

			entry = entry.WithFields(log.Fields{
				"outbox_id":    event.envelope.ID,
				"event_type":   event.envelope.EventType,
				"key":          event.key,
				"target_topic": cfg.targetTopic,
				"reason":       event.reason,
			})
			if cfg.execute {
				if err := replay(ctx, publisher, cfg.targetTopic, event); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				entry.Info("dlq event replayed")
			} else {
				entry.Info("dlq replay candidate")
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

// replay публикует исходное событие с тем же outbox ID, чтобы потребители могли дедуплицировать.
func replay(ctx context.Context, publisher eventPublisher, topic string, event replayEvent) error {
	if publisher == nil {
		return errPublisherRequired
	}
	event.envelope.PublishedAt = time.Now().UTC()

	return publisher.PublishEvent(ctx, topic, event.key, event.envelope,
		kafka.Header{Key: kafka.HeaderEventType, Value: event.envelope.EventType},
		kafka.Header{Key: kafka.HeaderOutboxID, Value: event.envelope.ID},
		kafka.Header{Key: kafka.HeaderAggregateType, Value: event.envelope.AggregateType},
		kafka.Header{Key: kafka.HeaderReplayed, Value: "true"},
	)
}

// decodeDeadLetter разбирает DLQ-сообщение: внешний конверт outbox, внутри которого
// лежит deadLetter с исходным payload события.
func decodeDeadLetter(raw []byte) (replayEvent, error) {
	var outer kafka.Envelope
	if err := json.Unmarshal(raw, &outer); err != nil {
		return replayEvent{}, fmt.Errorf("decode dlq envelope: %w", err)
	}
	if len(outer.Payload) == 0 {
		return replayEvent{}, errors.New("dlq envelope has no payload")
	}

	var letter deadLetter
	if err := json.Unmarshal(outer.Payload, &letter); err != nil {
		return replayEvent{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 || !json.Valid(letter.Payload) {
		return replayEvent{}, errors.New("dead letter does not contain original event payload")
	}

	envelope := kafka.Envelope{
		ID:            firstNonEmpty(letter.OutboxID, outer.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, outer.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, outer.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, outer.EventType),
		Payload:       letter.Payload,
		OccurredAt:    outer.OccurredAt,
	}
	if envelope.ID == "" || envelope.EventType == "" {
		return replayEvent{}, errors.New("dead letter has no outbox id or event type")
	}

	return replayEvent{
		key:      firstNonEmpty(envelope.AggregateID, envelope.ID),
		envelope: envelope,
		reason:   letter.PublishError,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
