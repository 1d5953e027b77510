package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/adapters/events"
	httpadapter "github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/application"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/ports"
)

/// Runtime wires the routing service together: postgres, redis, the
// notification dispatcher, the HTTP and gRPC-health listeners, and the
// reassignment worker.
type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	dispatcher *eventadapter.Dispatcher
	reassigner *eventadapter.ReassignWorker
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping support routing service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"notifier_backend", cfg.NotifierBackend,
	)

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := pool.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	notifier, closeNotifier, err := buildNotifier(cfg, logger)
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init notifier: %w", err)
	}
	dispatcher := eventadapter.NewDispatcher(notifier, cfg.NotifyQueueCap, logger)

	repos := postgres.NewRepositories(pool)
	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			MaxWaitTime:             cfg.MaxWaitTime,
			VolunteerSilenceTimeout: cfg.VolunteerSilenceTimeout,
			LanguageWeight:          cfg.LanguageWeight,
			ExpertiseWeight:         cfg.ExpertiseWeight,
			RatingWeight:            cfg.RatingWeight,
			ResponseTimeWeight:      cfg.ResponseTimeWeight,
			LoadWeight:              cfg.LoadWeight,
			ExpertisePartialCredit:  cfg.ExpertisePartialCredit,
			MinimumScore:            cfg.MinimumScore,
			UserScoreBoost:          cfg.UserScoreBoost,
			DirectoryTTL:            cfg.DirectoryTTL,
			MaxReassignAttempts:     cfg.MaxReassignAttempts,
			ClaimTTL:                cfg.ClaimTTL,
		},
		Volunteers:    repos.Volunteers,
		Sessions:      repos.Sessions,
		Claims:        cacheadapter.NewRedisClaimStore(redisClient),
		Notifications: dispatcher,
	}, logger)
	if err := svc.Initialize(ctx); err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		closeNotifier()
		return nil, fmt.Errorf("initialize router: %w", err)
	}

	handler := httpadapter.NewHandler(svc)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		closeNotifier()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		service:    svc,
		dispatcher: dispatcher,
		reassigner: eventadapter.NewReassignWorker(svc, cfg.ReassignInterval, logger),
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		cleanupFn: func(ctx context.Context) {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			closeNotifier()
		},
	}, nil
}

// Run starts the HTTP server, gRPC health server, the notification
// dispatcher, and the reassignment worker, then blocks until shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 4)

	go func() {
		r.logger.Info("http server listening", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc health server listening", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := r.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("notification dispatcher: %w", err)
		}
	}()
	go func() {
		if err := r.reassigner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("reassign worker: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.shutdown()
		return err
	}
	r.shutdown()
	return nil
}

// RunWorker runs only the reassignment loop, for deployments that split the
// periodic scan from the serving path.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		if err := r.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("notification dispatcher: %w", err)
		}
	}()
	go func() {
		if err := r.reassigner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("reassign worker: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("worker shutdown signal received")
	case err := <-errCh:
		r.shutdown()
		return err
	}
	r.shutdown()
	return nil
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	if r.cleanupFn != nil {
		r.cleanupFn(shutdownCtx)
	}
	r.logger.Info("shutdown complete")
}

func buildNotifier(cfg Config, logger *slog.Logger) (ports.Notifier, func(), error) {
	switch cfg.NotifierBackend {
	case "kafka":
		n, err := eventadapter.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return n, func() { _ = n.Close() }, nil
	case "amqp":
		n, err := eventadapter.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return n, func() { _ = n.Close() }, nil
	default:
		return eventadapter.NewLoggingNotifier(logger), func() {}, nil
	}
}
