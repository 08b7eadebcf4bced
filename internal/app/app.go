package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/edufelip/meer-api/internal/auth"
	"github.com/edufelip/meer-api/internal/config"
	"github.com/edufelip/meer-api/internal/event"
	handler "github.com/edufelip/meer-api/internal/handler/http"
	"github.com/edufelip/meer-api/internal/identity"
	"github.com/edufelip/meer-api/internal/repository/postgres"
	"github.com/edufelip/meer-api/internal/service"
	"github.com/edufelip/meer-api/migrations"
	"github.com/edufelip/meer-api/pkg/database"
	"github.com/edufelip/meer-api/pkg/health"
	"github.com/edufelip/meer-api/pkg/httpclient"
	pkgkafka "github.com/edufelip/meer-api/pkg/kafka"
	"github.com/edufelip/meer-api/pkg/middleware"
	"github.com/edufelip/meer-api/pkg/tracing"
)

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(handler.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	// Initialize PostgreSQL connection pool.
	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool, handler.ServiceName); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Redis backs the shared provider key caches when configured.
	var googleKeyCache, appleKeyCache identity.KeyCache
	if cfg.RedisAddr != "" {
		a.redis, err = database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			logger.Warn("redis unavailable, provider keys will be cached in-process only",
				slog.String("error", err.Error()),
			)
		} else {
			googleKeyCache = identity.NewRedisKeyCache(a.redis, identity.DefaultKeyCacheKey)
			appleKeyCache = identity.NewRedisKeyCache(a.redis, identity.AppleKeyCacheKey)
			logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))
		}
	}

	// Kafka carries account events when brokers are configured.
	var events service.EventPublisher = event.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(a.producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("create password hasher: %w", err)
	}
	jwtManager, err := auth.NewJWTManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL(), auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return nil, fmt.Errorf("create jwt manager: %w", err)
	}

	// Each provider gets its own breaker so one outage cannot trip the other.
	googleKeys := identity.NewKeySource(keysClient("google-certs", logger), identity.KeySourceConfig{
		URL:   cfg.GoogleCertsURL,
		Cache: googleKeyCache,
	}, logger)
	google := identity.NewGoogleVerifier(cfg.GoogleClients(), googleKeys, identity.WithIssuers(cfg.GoogleIssuers...))

	appleKeys := identity.NewKeySource(keysClient("apple-keys", logger), identity.KeySourceConfig{
		URL:   cfg.AppleKeysURL,
		Cache: appleKeyCache,
	}, logger)
	apple := identity.NewAppleVerifier(cfg.AppleBundleID, appleKeys)
	if cfg.AppleBundleID == "" {
		logger.Warn("SECURITY_APPLE_BUNDLE_ID not set, apple sign-in will reject every token")
	}

	userRepo := postgres.NewUserRepository(a.pool)
	authService := service.NewAuthService(userRepo, hasher, jwtManager, google, apple, events, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	pool := a.pool
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if a.redis != nil {
		rdb := a.redis
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		producer := a.producer
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	// HTTP router.
	corsConfig := middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins...)
	router := handler.NewRouter(authService, jwtManager, healthHandler, logger, corsConfig)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return a, nil
}

func keysClient(name string, logger *slog.Logger) *httpclient.CircuitBreakerClient {
	return httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig(name),
		logger,
	)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer, Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases everything NewApp acquired. Nil members are
// skipped so it also cleans up after a partial startup.
func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	return errors.Join(errs...)
}
