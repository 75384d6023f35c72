package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/acl"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/audit"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/auth"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/config"
	handler "github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/handler/http"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/mailer"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository/memory"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository/postgres"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/service"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/throttle"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/migrations"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/health"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/httpclient"
	pkgkafka "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/kafka"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/middleware"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/tracing"
)

const serviceVersion = "0.1.0"

// App wires together all dependencies and runs the auth core service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	limiter        *middleware.RateLimiter
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
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	store, err := a.openStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	cooldown, err := a.openCooldown(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	sink := a.auditSink(healthHandler)
	mail := a.mailer()

	if cfg.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET is not set; credential endpoints will fail until it is configured")
	}
	codec := auth.NewJWTCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)

	// Build the dependency graph.
	authService := service.NewAuthService(store, codec, mail, mailer.Links{BaseURL: cfg.AppBaseURL}, cooldown, sink, service.AuthOptions{
		AllowSignup:            cfg.AllowSignup,
		PasswordLogin:          cfg.PasswordLogin,
		PasswordReset:          cfg.PasswordReset,
		MagicLink:              cfg.MagicLink,
		RequireVerification:    cfg.EmailVerification,
		Impersonation:          cfg.Impersonation,
		RefreshTokenTTL:        cfg.RefreshTokenTTL,
		BootstrapAdminEmail:    cfg.BootstrapAdminEmail,
		BootstrapAdminPassword: cfg.BootstrapAdminPassword,
	}, logger)
	directoryService := service.NewDirectoryService(store, sink, logger)
	permissionService := service.NewPermissionService(store, sink, logger)

	if cfg.ActionCatalogFile != "" {
		catalog, err := service.LoadActionCatalog(cfg.ActionCatalogFile)
		if err != nil {
			return nil, err
		}
		n, err := permissionService.SeedActions(ctx, catalog)
		if err != nil {
			return nil, fmt.Errorf("seed action catalog: %w", err)
		}
		logger.Info("action catalog seeded",
			slog.String("file", cfg.ActionCatalogFile),
			slog.Int("actions", n),
		)
	}

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, err
	}
	a.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.AllowCredentials = true
	corsCfg.Environment = cfg.Environment

	router := handler.NewRouter(handler.Dependencies{
		Auth:           authService,
		Directory:      directoryService,
		Permissions:    permissionService,
		Engine:         acl.NewEngine(store),
		Health:         healthHandler,
		RateLimiter:    a.limiter,
		TrustedProxies: trustedProxies,
		Features:       cfg.Features(),
		Cookie: handler.CookieConfig{
			Name:   cfg.CookieName,
			Secure: !cfg.IsDevelopment(),
			MaxAge: cfg.AccessTokenTTL,
		},
		CORS:        corsCfg,
		MountPrefix: cfg.MountPrefix,
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
		Pprof:       cfg.PprofEnabled,
		Logger:      logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return a, nil
}

// openStore connects the configured storage driver.
func (a *App) openStore(ctx context.Context, h *health.Handler) (*repository.Store, error) {
	cfg := a.cfg
	if cfg.StorageDriver == config.StorageDriverMemory {
		a.logger.Warn("using in-memory storage; all state is lost on restart")
		return memory.NewStore(), nil
	}

	pool, err := database.OpenPostgres(ctx, database.PostgresConfig{
		DSN:             cfg.PostgresDSN(),
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, cfg.ServiceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if threshold := cfg.SlowQueryThreshold(); threshold > 0 {
		database.SetSlowQueryLogging(threshold, a.logger)
	}

	h.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	return postgres.NewStore(pool), nil
}

// openCooldown returns the resend throttle. Redis shares it across replicas;
// without Redis each replica throttles on its own.
func (a *App) openCooldown(ctx context.Context, h *health.Handler) (throttle.Cooldown, error) {
	cfg := a.cfg
	if !cfg.RedisEnabled {
		return throttle.NewLocalCooldown(cfg.ResendCooldown), nil
	}

	client, err := database.OpenRedis(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("host", cfg.RedisHost), slog.Int("port", cfg.RedisPort))

	h.RegisterNonCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return throttle.NewRedisCooldown(client, cfg.ResendCooldown), nil
}

// auditSink always logs; with brokers configured it also publishes to Kafka.
func (a *App) auditSink(h *health.Handler) audit.Sink {
	logSink := audit.NewLogSink(a.logger)
	if len(a.cfg.KafkaBrokers) == 0 {
		return logSink
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.producer = producer
	a.logger.Info("kafka producer initialized",
		slog.Any("brokers", a.cfg.KafkaBrokers),
		slog.String("topic", a.cfg.AuditTopic),
	)
	h.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	return audit.MultiSink{logSink, audit.NewKafkaSink(producer, a.cfg.AuditTopic, a.logger)}
}

// mailer posts to the configured webhook behind a circuit breaker, or logs.
func (a *App) mailer() mailer.Mailer {
	if a.cfg.MailWebhookURL == "" {
		return mailer.NewLogMailer(a.logger)
	}
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = 10 * time.Second
	httpCfg.MaxRetries = 2
	client := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpCfg),
		httpclient.DefaultCircuitBreakerConfig("mail-webhook"),
		a.logger,
	)
	return mailer.NewWebhookMailer(client, a.cfg.MailWebhookURL, a.cfg.MailFrom)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("prefix", a.cfg.MountPrefix),
			slog.String("storage", a.cfg.StorageDriver),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Rate limiter, Kafka producer, Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
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

// closeResources releases everything NewApp opened. Nil members are skipped,
// so it also unwinds a partially constructed App.
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
	if a.limiter != nil {
		a.limiter.Close()
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
