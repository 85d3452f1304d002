package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	txManager       domain.TxManager
	catalog         domain.CatalogRepository
	orderRepo       domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	redisChecker   healthcheck.Checker

	closeFn func() error
}

// initRuntimeDependencies открывает хранилище по StorageDriver и, если задан RedisAddr,
// переносит ключи идемпотентности в Redis.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	var (
		deps *runtimeDependencies
		err  error
	)

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		deps = initMemoryDependencies()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		deps, err = initPostgresDependencies(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = deps.close()
			return nil, fmt.Errorf("init redis idempotency store: %w", err)
		}
		repo := redisstore.NewIdempotencyRepository(client, redisstore.DefaultKeyPrefix)
		deps.idempotencyRepo = repo
		deps.redisChecker = healthcheck.NewPingChecker("redis", repo, false)

		storageClose := deps.closeFn
		deps.closeFn = func() error {
			var errs []error
			if storageClose != nil {
				errs = append(errs, storageClose())
			}
			errs = append(errs, client.Close())
			return errors.Join(errs...)
		}
		logger.WithField("addr", cfg.RedisAddr).Info("idempotency keys are stored in redis")
	}

	return deps, nil
}

func initMemoryDependencies() *runtimeDependencies {
	store := memory.NewStore()
	return &runtimeDependencies{
		txManager:       store,
		catalog:         store,
		orderRepo:       store,
		outboxRepo:      store,
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker:  healthcheck.NewPingChecker("storage", store, true),
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("postgres dsn is required for postgres storage driver")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	return &runtimeDependencies{
		txManager:       store,
		catalog:         postgres.NewCatalogRepository(store),
		orderRepo:       postgres.NewOrderRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("storage", store, true),
		closeFn:         store.Close,
	}, nil
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}
