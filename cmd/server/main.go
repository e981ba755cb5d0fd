package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sifan077/ClickURL/config"
	"github.com/sifan077/ClickURL/internal/app/media"
	"github.com/sifan077/ClickURL/internal/app/model"
	apprepository "github.com/sifan077/ClickURL/internal/app/repository"
	"github.com/sifan077/ClickURL/internal/app/repository/sqlite"
	appserver "github.com/sifan077/ClickURL/internal/app/server"
	"github.com/sifan077/ClickURL/internal/app/service"
	inthttp "github.com/sifan077/ClickURL/internal/http/handler"
	"github.com/sifan077/ClickURL/internal/infra/logger"
	infraNATS "github.com/sifan077/ClickURL/internal/infra/nats"
	infraPostgres "github.com/sifan077/ClickURL/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/ClickURL/internal/infra/prometheus"
	"github.com/sifan077/ClickURL/internal/infra/qrcode"
	infraRedis "github.com/sifan077/ClickURL/internal/infra/redis"
	"github.com/sifan077/ClickURL/internal/infra/tracing"
	"go.uber.org/zap"
)

// storage is the persistence selected by configuration.
type storage struct {
	links  apprepository.LinkRepository
	clicks apprepository.ClickEventRepository
	ping   inthttp.HealthCheck
	close  func()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(logger.OptionsFrom(cfg.App, cfg.Log))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log.Info("Configuration loaded successfully",
		zap.String("env", cfg.App.Env),
		zap.String("addr", cfg.App.Addr),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Bool("prometheus_enabled", cfg.Prometheus.Enabled),
		zap.Bool("tracing_enabled", cfg.Tracing.Enabled),
	)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	healthChecks := map[string]inthttp.HealthCheck{"database": store.ping}

	var mediaStore media.Store
	switch {
	case cfg.Redis.Enabled:
		redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		log.Info("Connected to Redis successfully")

		mediaStore = media.NewRedisStore(redisClient)
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	case cfg.Storage.Driver == config.StorageDriverSQLite && sqlite.IsMemoryDSN(cfg.Storage.SQLiteDSN):
		// Images live exactly as long as the links referencing them.
		mediaStore = media.NewMemoryStore()
		log.Info("In-memory database, keeping QR images in memory")
	default:
		mediaStore, err = media.NewFileStore(cfg.Media.Root)
		if err != nil {
			return err
		}
		log.Info("Storing QR images on disk", zap.String("root", cfg.Media.Root))
	}

	var notifier service.ClickNotifier
	if cfg.NATS.Enabled {
		natsConn, js, err := infraNATS.Connect(cfg.NATS, logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsConn.Drain()

		if err := infraNATS.EnsureClickStream(js); err != nil {
			return fmt.Errorf("ensure click stream: %w", err)
		}
		log.Info("Connected to NATS successfully", zap.String("stream", model.ClickStreamName))

		notifier = service.NewClickPublisher(js)
		consumer := service.NewClickConsumer(js, logger.Named("click-consumer"))
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start click consumer: %w", err)
		}
		defer func() {
			stop()
			<-consumer.Done()
		}()

		healthChecks["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		}
	}

	if cfg.Prometheus.Enabled {
		promServer := infraPrometheus.NewServer(cfg.Prometheus, logger.Named("metrics"))
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server")
	}

	allocator := service.NewCodeAllocator(store.links, cfg.App.CodeLength, logger.Named("allocator"))
	if err := allocator.Warm(ctx); err != nil {
		return err
	}

	linkService := service.NewLinkService(service.LinkServiceDeps{
		Links:     store.links,
		Clicks:    store.clicks,
		Allocator: allocator,
		Renderer:  qrcode.NewRenderer(cfg.QRCode.Size),
		Media:     mediaStore,
		Logger:    logger.Named("links"),
	})
	recorder := service.NewVisitRecorder(store.clicks, notifier, logger.Named("visits"))
	redirects := service.NewRedirectService(store.links, recorder, logger.Named("redirects"))

	sweeper := service.NewExpiredLinkSweeper(linkService, logger.Named("sweeper"), cfg.Cleanup.Interval)
	sweeper.Start()
	defer sweeper.Stop()

	server := appserver.New(appserver.Dependencies{
		Logger:       log,
		Links:        linkService,
		Redirects:    redirects,
		Media:        mediaStore,
		HealthChecks: healthChecks,
		BaseURL:      cfg.App.BaseURL,
		CORSOrigins:  cfg.App.CORSOrigins,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.App.Addr))
		errCh <- server.Listen(cfg.App.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("fiber server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storage, error) {
	if cfg.Storage.Driver == config.StorageDriverSQLite {
		store, err := sqlite.Open(ctx, cfg.Storage.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("Opened SQLite storage")
		return &storage{
			links:  store,
			clicks: store,
			ping:   store.Ping,
			close:  func() { _ = store.Close() },
		}, nil
	}

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("open gorm connection: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("access underlying sql db: %w", err)
	}
	if err := infraPostgres.Migrate(ctx, gormDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run database migrations: %w", err)
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info("Connected to Postgres successfully",
		zap.String("host", cfg.Postgres.Host),
		zap.Int("port", cfg.Postgres.Port),
		zap.String("database", cfg.Postgres.Database),
	)

	return &storage{
		links:  apprepository.NewLinkRepository(gormDB),
		clicks: apprepository.NewClickEventRepository(gormDB, pool),
		ping:   pool.Ping,
		close: func() {
			pool.Close()
			_ = sqlDB.Close()
		},
	}, nil
}
