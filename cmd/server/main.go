package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/irfndi/etffactor/internal/api"
	"github.com/irfndi/etffactor/internal/api/handlers"
	"github.com/irfndi/etffactor/internal/cache"
	"github.com/irfndi/etffactor/internal/config"
	"github.com/irfndi/etffactor/internal/database"
	"github.com/irfndi/etffactor/internal/engine"
	"github.com/irfndi/etffactor/internal/logging"
	"github.com/irfndi/etffactor/internal/middleware"
	"github.com/irfndi/etffactor/internal/observability"
)

const serviceName = "etffactor-api"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(); err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// server is the wired service. close releases everything in reverse order
// of acquisition.
type server struct {
	handler http.Handler
	engine  *engine.Engine
	closers []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildServer connects the configured backends and builds the router. On
// error everything acquired so far is released.
func buildServer(ctx context.Context, cfg *config.Config, logger *logging.StandardLogger, telemetry bool) (_ *server, err error) {
	s := &server{}
	defer func() {
		if err != nil {
			s.close()
		}
	}()
	zl := logger.Logger()
	checks := map[string]handlers.HealthChecker{}

	var rdb *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient, err := database.NewRedisConnection(ctx, cfg.Redis, zl)
		if err != nil {
			return nil, fmt.Errorf("cache backend redis: %w", err)
		}
		s.closers = append(s.closers, redisClient.Close)
		rdb = redisClient.Client
		checks["redis"] = redisClient
	}

	store, err := cache.Open(ctx, cfg.Cache, rdb, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	s.closers = append(s.closers, func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("Failed to close cache")
		}
	})

	opts := []engine.Option{engine.WithCache(store), engine.WithLogger(logger)}
	if cfg.Database.Persist {
		db, err := database.NewDatabaseConnection(ctx, &cfg.Database, zl)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.closers = append(s.closers, func() {
			if err := db.Close(); err != nil {
				logger.WithError(err).Error("Failed to close database connection")
			}
		})
		repo := database.NewFactorRepository(db, zl)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithSink(repo))
		checks["database"] = db
	}

	eng, err := engine.New(engine.ConfigFrom(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	s.engine = eng
	s.closers = append(s.closers, func() {
		if err := eng.Close(); err != nil {
			logger.WithError(err).Error("Failed to stop engine")
		}
	})

	s.handler = api.NewRouter(api.Dependencies{
		Engine:      eng,
		Checks:      checks,
		Auth:        middleware.NewAuthMiddleware(cfg.Auth.JWTSecret),
		RateLimiter: middleware.NewRateLimiter(middleware.DefaultRateLimitConfig(), rdb, zl.Named("ratelimit")),
		Logger:      logger.WithComponent("http"),
		Version:     version,
		Telemetry:   telemetry,
	})
	return s, nil
}

// run loads configuration, starts the HTTP server and blocks until SIGINT
// or SIGTERM, then drains in-flight requests.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	telemetry, err := observability.InitSentry(cfg.Sentry, version, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Sentry: %v\n", err)
	}
	defer observability.Flush(context.Background())

	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment).WithService(serviceName)
	defer func() { _ = logger.Sync() }()

	if strings.EqualFold(cfg.Environment, "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := buildServer(ctx, cfg, logger, telemetry)
	if err != nil {
		return err
	}
	defer s.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.LogStartup(serviceName, version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.LogShutdown(serviceName, sig.String())
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited gracefully", zap.String("service", serviceName))
	return nil
}
