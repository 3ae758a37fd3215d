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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/ims/internal/health"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
	"github.com/vladislavdragonenkov/ims/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ims/internal/service/outbox"
	"github.com/vladislavdragonenkov/ims/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает хранилище, сервисы, HTTP API, gRPC health и фоновые воркеры
// и блокируется до отмены ctx или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	services := newServices(deps, cfg, metrics.NewInventoryMetrics(), logger)
	pipelineMetrics := metrics.NewPipelineMetrics()
	apiHandler := newHTTPHandler(services, deps, cfg, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	// Недоступная Kafka не мешает старту: ошибка уже залогирована, события копятся в outbox.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	listeners, err := listenAll(cfg)
	if err != nil {
		return err
	}

	grpcServer, grpcHealth := newGRPCServer(logger)
	apiSrv := &http.Server{Handler: apiHandler.Router(), ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Handler: newMetricsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)

	if producer != nil {
		publishers := newOutboxPublishers(producer, logger)
		healthHandler.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", publishers.events.Check))

		worker := outbox.NewWorker(deps.outboxRepo, publishers.events, outbox.Config{
			PollInterval:   cfg.OutboxPollInterval,
			BatchSize:      cfg.OutboxBatchSize,
			MaxAttempts:    cfg.OutboxMaxAttempts,
			RetryBaseDelay: cfg.OutboxRetryDelay,
			DeadLetters:    publishers.deadLetter,
			Logger:         logger.WithField("worker", "outbox"),
			Metrics:        pipelineMetrics,
		})
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	} else {
		logger.Info("kafka is not configured, outbox messages stay pending")
	}

	// Ключи в Redis истекают по TTL, чистить их не нужно.
	if cfg.IdempotencyDriver != IdempotencyDriverRedis {
		sweeper := idempotency.NewSweeper(deps.idempotencyRepo, idempotency.Config{
			Interval:  cfg.IdempotencyCleanupInterval,
			BatchSize: cfg.IdempotencyCleanupBatchSize,
			Backend:   cfg.StorageDriver,
			Logger:    logger.WithField("worker", "idempotency-sweeper"),
			Metrics:   pipelineMetrics,
		})
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", listeners.api.Addr())
		return serveHTTP(apiSrv, listeners.api)
	})
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", listeners.metrics.Addr())
		return serveHTTP(metricsSrv, listeners.metrics)
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", listeners.grpc.Addr())
		if err := grpcServer.Serve(listeners.grpc); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

type appListeners struct {
	api     net.Listener
	grpc    net.Listener
	metrics net.Listener
}

// listenAll занимает все адреса до старта горутин, чтобы ошибка порта вернулась сразу.
func listenAll(cfg Config) (appListeners, error) {
	var (
		l   appListeners
		err error
	)
	closeOpened := func() {
		for _, lis := range []net.Listener{l.api, l.grpc, l.metrics} {
			if lis != nil {
				_ = lis.Close()
			}
		}
	}

	if l.api, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		return appListeners{}, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	if l.grpc, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		closeOpened()
		return appListeners{}, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	if l.metrics, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
		closeOpened()
		return appListeners{}, fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}
	return l, nil
}

// newGRPCServer создаёт gRPC-сервер со стандартным health-сервисом и reflection.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// newMetricsMux отдаёт /metrics для Prometheus и пробы здоровья.
func newMetricsMux(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stopGRPC ждёт завершения активных вызовов не дольше shutdownTimeout.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
