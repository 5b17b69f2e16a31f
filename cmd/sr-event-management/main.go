package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/masakikurihara-lgtm/sr-event-management/config"
	"github.com/masakikurihara-lgtm/sr-event-management/internal/handlers"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/database"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/execution"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/health"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/httpclient"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/kafka"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/middleware"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/rebuild"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/redis"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/repositories/runs"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/showroom"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/snapshot"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/startup"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/tracing"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/tracing/exporters"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := newZapLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func newZapLogger(cfg config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// services holds what the startup dependencies bring up
type services struct {
	db       *database.DatabaseInstance
	redis    *redis.Client
	producer *kafka.Producer
}

func run(ctx context.Context, cfg config.Config, logger ectologger.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
		Headers:  exporters.ParseHeaders(cfg.OTLPHeaders),
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	checker := health.NewChecker(version)
	svc := &services{}
	deps := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	registerDependencies(deps, cfg, svc, checker, logger)

	if err := deps.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := deps.Stop(stopCtx); err != nil {
			logger.WithError(err).Warn("Dependencies did not stop cleanly")
		}
	}()

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.UpstreamTimeout
	httpCfg.UserAgent = cfg.UpstreamUserAgent
	httpClient := httpclient.NewClient(httpCfg, logger)

	store, err := newStore(ctx, cfg, httpClient)
	if err != nil {
		return err
	}

	upstream := showroom.NewClient(showroom.Config{
		RosterURL:    cfg.UpstreamRosterURL,
		DetailURL:    cfg.UpstreamDetailURL,
		ProfileURL:   cfg.UpstreamProfileURL,
		MaxPages:     cfg.RebuildMaxPages,
		PageInterval: cfg.UpstreamPageInterval,
		Retry: execution.RetryPolicy{
			MaxRetries:     cfg.UpstreamMaxRetries,
			BackoffType:    execution.BackoffType(cfg.UpstreamBackoff),
			InitialDelay:   cfg.UpstreamRetryDelay,
			MaxDelay:       30 * time.Second,
			RateLimitDelay: cfg.UpstreamRateLimitDelay,
		},
	}, httpClient, logger)

	var limiter *rate.Limiter
	if cfg.RebuildRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RebuildRateLimit), 1)
	}
	pool := execution.NewPool(cfg.RebuildConcurrency, limiter, logger)

	var opts []rebuild.Option
	var locker rebuild.LeaseLocker
	if svc.redis != nil {
		locker = redis.NewLocker(svc.redis, "")
		opts = append(opts, rebuild.WithResultCache(svc.redis))
	}
	guard := rebuild.NewGuard(locker, cfg.RebuildLockTTL, logger)

	var runRepo *runs.Repository
	if svc.db != nil {
		runRepo = runs.New(svc.db, logger)
		opts = append(opts, rebuild.WithRunRecorder(runRepo))
	}
	if svc.producer != nil {
		opts = append(opts, rebuild.WithEventPublisher(svc.producer))
	}

	engine := rebuild.NewEngine(upstream, store, pool, guard, rebuild.Config{
		Window:           cfg.DiscoveryWindow,
		HistoryFloor:     cfg.DiscoveryHistoryFloor,
		MaxSpan:          cfg.DiscoveryMaxSpan,
		MaxPages:         cfg.RebuildMaxPages,
		DetailCandidates: cfg.RebuildDetailCandidates,
		FallbackDir:      cfg.RebuildFallbackDir,
		Bootstrap:        cfg.SnapshotBootstrap,
	}, logger, opts...)
	if err := engine.Restore(ctx); err != nil {
		logger.WithError(err).Warn("Starting without the last run")
	}

	e := newServer(cfg, logger, checker)
	v1 := e.Group("/v1")

	// a nil *runs.Repository must not become a non-nil interface
	var runLister handlers.RunLister
	if runRepo != nil {
		runLister = runRepo
	}
	handlers.NewRebuildHandler(engine, runLister, cfg.RebuildRequestTimeout, logger).Register(v1)
	handlers.NewParticipationHandler(store, time.Now, logger).Register(v1.Group("/participations"))

	checker.SetReady(true)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting %s on port %d with the %s snapshot backend", cfg.AppName, cfg.Port, cfg.SnapshotBackend)
		if err := e.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newServer(cfg config.Config, logger ectologger.Logger, checker *health.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

func registerDependencies(deps *startup.Startup, cfg config.Config, svc *services, checker *health.Checker, logger ectologger.Logger) {
	if cfg.DatabaseURL != "" {
		deps.AddDependency(startup.Func{
			Name: "postgres",
			StartFunc: func(ctx context.Context) error {
				db, err := database.Open(ctx, database.Config{
					URL:             cfg.DatabaseURL,
					MaxOpenConns:    cfg.DatabaseMaxOpenConns,
					MaxIdleConns:    cfg.DatabaseMaxIdleConns,
					ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
				}, logger)
				if err != nil {
					return err
				}
				svc.db = db
				checker.AddCheck("database", health.DatabaseCheck(db.DB))
				return nil
			},
			StopFunc: func(context.Context) error {
				if svc.db == nil {
					return nil
				}
				return svc.db.Close()
			},
		})
		deps.AddDependency(startup.Func{
			Name:     "migrations",
			Requires: []string{"postgres"},
			StartFunc: func(context.Context) error {
				return database.NewMigrationService(logger, &database.MigrationConfig{
					MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
					Version:             cfg.DatabaseMigrationVersion,
					Force:               cfg.DatabaseMigrationForce,
				}).Migrate(svc.db)
			},
		})
	}

	if cfg.RedisEnabled() {
		deps.AddDependency(startup.Func{
			Name: "redis",
			StartFunc: func(context.Context) error {
				client, err := redis.NewClient(redis.Config{
					URL:      cfg.RedisURL,
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				svc.redis = client
				checker.AddCheck("redis", health.RedisCheck(client.Redis()))
				return nil
			},
			StopFunc: func(context.Context) error {
				if svc.redis == nil {
					return nil
				}
				return svc.redis.Close()
			},
		})
	}

	kafkaCfg := kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaTopic)
	if kafkaCfg.Enabled() {
		deps.AddDependency(startup.Func{
			Name: "kafka",
			StartFunc: func(context.Context) error {
				svc.producer = kafka.NewProducer(kafkaCfg, logger)
				return nil
			},
			StopFunc: func(context.Context) error {
				if svc.producer == nil {
					return nil
				}
				return svc.producer.Close()
			},
		})
	}
}

func newStore(ctx context.Context, cfg config.Config, httpClient *httpclient.Client) (snapshot.Store, error) {
	switch cfg.SnapshotBackend {
	case config.BackendS3:
		client, err := snapshot.NewS3Client(ctx, snapshot.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Key:             cfg.S3Key,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return snapshot.NewS3Store(client, cfg.S3Bucket, cfg.S3Key), nil
	case config.BackendHTTP:
		return snapshot.NewHTTPSource(httpClient, cfg.SnapshotURL), nil
	case config.BackendMemory:
		return snapshot.NewMemoryStore(nil), nil
	default:
		return snapshot.NewFileStore(cfg.SnapshotPath), nil
	}
}
