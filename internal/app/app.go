// Package app собирает сервис витрины: хранилища, сервисы, gRPC и HTTP серверы, фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	storefrontv1 "github.com/vladislavdragonenkov/storefront/api/storefront/v1"
	"github.com/vladislavdragonenkov/storefront/internal/basket"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/httpx"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/reservation"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// Run поднимает сервис и блокируется до отмены ctx или падения одного из компонентов.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	// Без брокера события уходят в журнал.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger.WithField("layer", "kafka"))
	defer closeKafkaProducer(kafkaProducer, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	retry := reservation.DefaultRetryConfig()
	if cfg.ReservationMaxAttempts > 0 {
		retry.MaxAttempts = cfg.ReservationMaxAttempts
	}
	coordinator := reservation.NewCoordinator(deps.txManager,
		reservation.WithLogger(logger.WithField("layer", "reservation")),
		reservation.WithMetrics(metrics.NewReservationMetrics(registry)),
		reservation.WithRetry(retry),
	)
	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency"))
	checkoutSvc := checkout.New(basket.Validator{MaxLines: cfg.BasketMaxLines}, guard, coordinator, logger.WithField("layer", "checkout"))
	query := orders.NewQuery(deps.orderRepo, logger.WithField("layer", "orders"))

	grpcServer, grpcHealth := newGRPCServer(registry, grpcsvc.NewOrderService(checkoutSvc, query, deps.catalog, logger.WithField("layer", "grpc")))

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if deps.redisChecker != nil {
		healthHandler.RegisterChecker("redis", deps.redisChecker)
	}

	apiHandler := httpx.NewHandler(checkoutSvc, query, deps.catalog, logger.WithField("layer", "http"))
	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(apiHandler, cfg.RequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMetricsMux(registry, healthHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	publisher, dlq := outboxPublishers(kafkaProducer, cfg, logger)
	relay := outbox.NewWorker(deps.outboxRepo, publisher,
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithDLQPublisher(dlq),
		outbox.WithRegisterer(registry),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithRegisterer(registry),
	)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if cfg.HTTPAddr != "" {
		g.Go(func() error { return serveHTTP(apiServer, "http api", logger) })
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveHTTP(metricsServer, "metrics", logger) })
	}
	g.Go(func() error {
		relay.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanup.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(apiServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsServer, cfg.ShutdownTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func newGRPCServer(registry *prometheus.Registry, service storefrontv1.StorefrontServiceServer) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcMetrics.EnableHandlingTimeHistogram()
	registry.MustRegister(grpcMetrics)

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	storefrontv1.RegisterStorefrontServiceServer(server, service)
	grpcMetrics.InitializeMetrics(server)

	// Register reflection service for grpcurl and load testing tools
	reflection.Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}

// newMetricsMux отдаёт /metrics и health-пробы.
func newMetricsMux(registry *prometheus.Registry, healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

func serveHTTP(srv *http.Server, name string, logger *log.Entry) error {
	logger.Infof("%s слушает %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// stopGRPC ждёт завершения активных вызовов не дольше timeout.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
