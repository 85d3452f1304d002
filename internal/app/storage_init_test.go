package app

import (
	"context"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.txManager == nil || deps.catalog == nil || deps.orderRepo == nil {
		t.Fatal("storage ports should not be nil for memory storage")
	}
	if deps.outboxRepo == nil {
		t.Fatal("outboxRepo should not be nil for memory storage")
	}
	if deps.idempotencyRepo == nil {
		t.Fatal("idempotencyRepo should not be nil for memory storage")
	}
	if deps.redisChecker != nil {
		t.Fatal("redis checker must be nil without redis address")
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy memory storage, got %+v", check)
	}
	if err := deps.close(); err != nil {
		t.Fatalf("close memory dependencies: %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		RedisAddr:     "127.0.0.1:1",
	}, log.WithField("test", "redis-unavailable"))
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("expected redis init error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer func() { _ = deps.close() }()

	if deps.txManager == nil || deps.orderRepo == nil || deps.outboxRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	check := deps.storageChecker.Check(context.Background())
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}
