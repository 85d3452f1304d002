package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr включает хранение ключей идемпотентности в Redis. Пустое значение — ключи в основном хранилище.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	IdempotencyTTL time.Duration

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	BasketMaxLines         int
	ReservationMaxAttempts int
	RequestTimeout         time.Duration
	ShutdownTimeout        time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		IdempotencyTTL: 24 * time.Hour,

		KafkaTopic:    kafka.TopicOrderEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		BasketMaxLines:         100,
		ReservationMaxAttempts: 3,
		RequestTimeout:         15 * time.Second,
		ShutdownTimeout:        5 * time.Second,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	if c.OutboxBatchSize < 0 || c.OutboxMaxAttempts < 0 {
		errs = append(errs, errors.New("outbox batch size and max attempts must be non-negative"))
	}
	if c.BasketMaxLines < 0 {
		errs = append(errs, errors.New("basket max lines must be non-negative"))
	}

	return errors.Join(errs...)
}

// KafkaEnabled сообщает, настроена ли публикация событий в Kafka.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// ParseBrokers разбирает список брокеров через запятую.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
