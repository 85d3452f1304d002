package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envGRPCAddr                    = "STOREFRONT_GRPC_ADDR"
	envHTTPAddr                    = "STOREFRONT_HTTP_ADDR"
	envMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	envStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envRedisAddr                   = "STOREFRONT_REDIS_ADDR"
	envRedisPassword               = "STOREFRONT_REDIS_PASSWORD"
	envRedisDB                     = "STOREFRONT_REDIS_DB"
	envIdempotencyTTL              = "STOREFRONT_IDEMPOTENCY_TTL"
	envKafkaBrokers                = "STOREFRONT_KAFKA_BROKERS"
	envKafkaTopic                  = "STOREFRONT_KAFKA_TOPIC"
	envKafkaDLQTopic               = "STOREFRONT_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envBasketMaxLines              = "STOREFRONT_BASKET_MAX_LINES"
	envReservationMaxAttempts      = "STOREFRONT_RESERVATION_MAX_ATTEMPTS"
	envRequestTimeout              = "STOREFRONT_REQUEST_TIMEOUT"
	envShutdownTimeout             = "STOREFRONT_SHUTDOWN_TIMEOUT"
	envLogLevel                    = "STOREFRONT_LOG_LEVEL"
	envDotEnvFile                  = "STOREFRONT_ENV_FILE"
)

// envLookup совпадает с сигнатурой os.LookupEnv.
type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if level == "" {
		return
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("value", level).Warn("unknown log level, using info")
		return
	}
	log.SetLevel(parsed)
}

// loadDotEnv подгружает переменные из .env, не перетирая уже заданные.
func loadDotEnv() {
	path := os.Getenv(envDotEnvFile)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).WithField("path", path).Warn("failed to load env file")
	}
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения пропускаются с предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseBool(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseInt(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(envRedisAddr, &cfg.RedisAddr)
	if v, ok := lookup(envRedisPassword); ok {
		cfg.RedisPassword = v
	}
	integer(envRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = app.ParseBrokers(v)
	}
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	integer(envBasketMaxLines, &cfg.BasketMaxLines, positive, "must be > 0")
	integer(envReservationMaxAttempts, &cfg.ReservationMaxAttempts, positive, "must be > 0")
	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")
	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func main() {
	loadDotEnv()
	setupLogger(os.Getenv(envLogLevel))

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaEnabled(),
		"redis_enabled":  cfg.RedisAddr != "",
		"version":        version.String(),
	}).Info("запускаем storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront остановлен")
}
