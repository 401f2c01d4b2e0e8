package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codejudger/internal/common/cache"
	"codejudger/internal/common/db"
	commonmw "codejudger/internal/common/http/middleware"
	"codejudger/internal/common/mq"
	"codejudger/internal/common/storage"
	"codejudger/internal/judge/callback"
	"codejudger/internal/judge/controller"
	"codejudger/internal/judge/fixture"
	"codejudger/internal/judge/harness"
	"codejudger/internal/judge/queue"
	"codejudger/internal/judge/repository"
	"codejudger/internal/judge/sandbox"
	"codejudger/internal/judge/sandbox/container"
	"codejudger/internal/judge/sandbox/engine"
	"codejudger/internal/judge/sandbox/isolate"
	"codejudger/internal/judge/sandbox/observer"
	"codejudger/internal/judge/service"
	"codejudger/internal/judge/worker"
	"codejudger/pkg/utils/logger"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

const (
	roleAll    = "all"
	roleAPI    = "api"
	roleWorker = "worker"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	role := flag.String("role", roleAll, "Process role: all, api or worker")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	appCfg, err := loadAppConfig(*configPath, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if *role != roleAll && *role != roleAPI && *role != roleWorker {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg, *role); err != nil {
		logger.Error(context.Background(), "judge service exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig, role string) error {
	ctx := context.Background()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()
	listQueue, err := mq.NewRedisListQueue(redisCache)
	if err != nil {
		return fmt.Errorf("init job queue: %w", err)
	}
	jobs := queue.NewJobQueue(listQueue, appCfg.Queue.Key)
	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Status.KeyPrefix, appCfg.Status.TTL)

	languages, err := sandbox.NewLanguageSet(appCfg.Sandbox.Languages)
	if err != nil {
		return fmt.Errorf("init languages: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics observer.MetricsRecorder = observer.NoopMetricsRecorder{}
	if !appCfg.Metrics.Disabled {
		prom, err := observer.NewPrometheusRecorder(registry)
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		metrics = prom
	}

	var archive *repository.ArchiveRepository
	if appCfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		archive = repository.NewArchiveRepository(mysqlDB)
		if err := archive.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure archive schema: %w", err)
		}
	}

	signer := callback.NewSigner(appCfg.Callback.Secret, appCfg.Callback.TokenTTL)
	if signer == nil {
		logger.Warn(ctx, "callback secret not set, callback tokens will not be minted")
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		poolDone   chan error
		dispatcher *callback.Dispatcher
	)
	if role != roleAPI {
		closers, judgeSvc, d, err := buildJudgeService(ctx, appCfg, redisCache, statusRepo, languages, archive, metrics)
		defer func() {
			for _, c := range closers {
				c()
			}
		}()
		if err != nil {
			return err
		}
		dispatcher = d
		pool, err := worker.NewPool(worker.Config{
			Workers:       appCfg.Worker.Processes,
			BoxBase:       appCfg.Worker.BoxIDStart,
			PollTimeout:   appCfg.Queue.PollTimeout,
			DepthInterval: appCfg.Worker.DepthInterval,
		}, jobs, judgeSvc, metrics)
		if err != nil {
			return fmt.Errorf("init worker pool: %w", err)
		}
		poolDone = make(chan error, 1)
		go func() {
			poolDone <- pool.Run(runCtx)
		}()
	}

	var judgeController *controller.JudgeController
	if role != roleWorker {
		ingressCfg := service.SubmissionConfig{
			StatusRepo:    statusRepo,
			Jobs:          jobs,
			Languages:     languages,
			Signer:        signer,
			Defaults:      appCfg.Limits.toDefaults(),
			MaxQueueDepth: appCfg.Queue.MaxDepth,
			StatusTimeout: appCfg.Status.Timeout,
		}
		if archive != nil {
			ingressCfg.Archive = archive
		}
		ingress, err := service.NewSubmissionService(ingressCfg)
		if err != nil {
			return fmt.Errorf("init submission service: %w", err)
		}
		judgeController = controller.NewJudgeController(ingress, appCfg.Server.WatchPoll)
	}

	httpServer := buildHTTPServer(appCfg, judgeController, redisCache, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener: %w", err)
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr), zap.String("role", role))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case err := <-poolDone:
		logger.Error(ctx, "worker pool stopped unexpectedly", zap.Error(err))
		poolDone = nil
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}

	// Workers finish the job in hand; that can outlast the HTTP grace period.
	cancelRun()
	if poolDone != nil {
		if err := <-poolDone; err != nil {
			logger.Error(ctx, "worker pool shutdown failed", zap.Error(err))
		}
	}
	if dispatcher != nil {
		drainCtx, cancelDrain := context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancelDrain()
		if err := dispatcher.Close(drainCtx); err != nil {
			logger.Warn(ctx, "pending callbacks abandoned", zap.Error(err))
		}
	}
	return nil
}

// buildJudgeService wires the worker-side collaborators. The returned closers
// must run even when an error is returned.
func buildJudgeService(
	ctx context.Context,
	appCfg *AppConfig,
	redisCache *cache.RedisCache,
	statusRepo *repository.StatusRepository,
	languages *sandbox.LanguageSet,
	archive *repository.ArchiveRepository,
	metrics observer.MetricsRecorder,
) ([]func(), *service.JudgeService, *callback.Dispatcher, error) {
	var closers []func()

	backends := make([]sandbox.Driver, 0, len(appCfg.Sandbox.Backends))
	for _, name := range appCfg.Sandbox.Backends {
		switch name {
		case backendIsolate:
			backends = append(backends, isolate.NewDriver(appCfg.Sandbox.Isolate, engine.NewRunner()))
		case backendContainer:
			cli, err := container.NewClient()
			if err != nil {
				return closers, nil, nil, err
			}
			closers = append(closers, func() { _ = cli.Close() })
			backends = append(backends, container.NewDriver(appCfg.Sandbox.Container, cli))
		}
	}

	judgeCfg := service.JudgeConfig{
		Backends:      backends,
		Languages:     languages,
		Harness:       harness.New(harness.WithMetrics(metrics), harness.WithMaxDiffLen(appCfg.Harness.MaxDiffLen)),
		StatusRepo:    statusRepo,
		Metrics:       metrics,
		DataRoot:      appCfg.DataDir,
		Defaults:      appCfg.Limits.toDefaults(),
		StatusTimeout: appCfg.Status.Timeout,
	}
	if archive != nil {
		judgeCfg.Archive = archive
	}

	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaQueue, err := mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			return closers, nil, nil, fmt.Errorf("init kafka: %w", err)
		}
		closers = append(closers, func() { _ = kafkaQueue.Close() })
		judgeCfg.Publisher = repository.NewMQStatusEventPublisher(kafkaQueue, appCfg.Status.FinalTopic)
	}

	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return closers, nil, nil, fmt.Errorf("init minio: %w", err)
		}
		judgeCfg.Fixtures = fixture.NewSyncer(appCfg.DataDir, appCfg.Fixture, objStorage, redisCache)
	}

	dispatcher := callback.NewDispatcher(appCfg.Callback.Delivery, nil)
	judgeCfg.Callbacks = dispatcher

	judgeSvc, err := service.NewJudgeService(judgeCfg)
	if err != nil {
		return closers, nil, nil, fmt.Errorf("init judge service: %w", err)
	}
	logger.Info(ctx, "judge workers configured",
		zap.Strings("backends", appCfg.Sandbox.Backends),
		zap.Strings("languages", languages.IDs()),
		zap.Int("workers", appCfg.Worker.Processes),
		zap.Int("box_start", appCfg.Worker.BoxIDStart),
	)
	return closers, judgeSvc, dispatcher, nil
}

func buildHTTPServer(appCfg *AppConfig, judgeController *controller.JudgeController, redisCache *cache.RedisCache, registry *prometheus.Registry) *http.Server {
	zapLogger := logger.GetLogger().Zap()

	router := gin.New()
	router.Use(ginzap.RecoveryWithZap(zapLogger, true))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(ginzap.Ginzap(zapLogger, time.RFC3339, true))

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := redisCache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if !appCfg.Metrics.Disabled {
		router.GET(appCfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	if judgeController != nil {
		var guards []gin.HandlerFunc
		if appCfg.Server.RateLimit.Enabled() {
			limiter := commonmw.NewRateLimiter(redisCache, appCfg.Status.KeyPrefix+"rate:", appCfg.Server.RateLimit.Window, appCfg.Status.Timeout)
			guards = append(guards, commonmw.RateLimitMiddleware(limiter, "submit", appCfg.Server.RateLimit))
		}
		judgeController.RegisterRoutes(router.Group("/api/v1/judge"), guards...)
	}

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}
