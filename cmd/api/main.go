package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/movement-intake/cmd/mainconfig"
	"github.com/wolfman30/movement-intake/internal/analytics"
	"github.com/wolfman30/movement-intake/internal/api/router"
	"github.com/wolfman30/movement-intake/internal/clock"
	appconfig "github.com/wolfman30/movement-intake/internal/config"
	httpmiddleware "github.com/wolfman30/movement-intake/internal/http/middleware"
	"github.com/wolfman30/movement-intake/internal/intake"
	"github.com/wolfman30/movement-intake/internal/leads"
	"github.com/wolfman30/movement-intake/internal/notify"
	"github.com/wolfman30/movement-intake/internal/observability/metrics"
	"github.com/wolfman30/movement-intake/internal/persona"
	"github.com/wolfman30/movement-intake/internal/session"
	"github.com/wolfman30/movement-intake/internal/storage"
	"github.com/wolfman30/movement-intake/internal/webchat"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting movement-intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"persona", cfg.PersonaProfile,
		"llm_provider", cfg.LLMProvider,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	if err := cfg.Intake.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, intakeMetrics := setupMetrics()
	checks := map[string]router.HealthCheck{}

	store, storeCheck, err := setupSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if storeCheck != nil {
		checks["redis"] = storeCheck
	}

	events := analytics.NewAsync(analytics.NewMulti(logger,
		analytics.NewLogSink(logger),
		analytics.NewMetricsSink(intakeMetrics),
	), 512, logger)
	defer events.Close()

	var leadsRepo leads.Repository = leads.NewInMemoryRepository()
	if pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger); pool != nil {
		defer pool.Close()
		leadsRepo = leads.NewPostgresRepository(pool)
		checks["database"] = pool.Ping
	}
	leadService := leads.NewService(leadsRepo, setupNotifier(cfg, logger), cfg.HotLeadThreshold, logger)

	profile, err := persona.LoadBuiltin(cfg.PersonaProfile)
	if err != nil {
		return err
	}
	model, err := mainconfig.NewModel(ctx, cfg, intakeMetrics, logger)
	if err != nil {
		return err
	}

	orch, err := intake.New(intake.Options{
		Model:    model,
		Profile:  profile,
		Settings: cfg.Intake,
		Logger:   logger,
		Metrics:  intakeMetrics,
		Leads:    leadService,
	})
	if err != nil {
		return err
	}

	deps := session.Deps{
		Store:     store,
		Analytics: events,
		Settings:  cfg.Intake,
		Logger:    logger,
		Metrics:   intakeMetrics,
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, clock.System())
	go limiter.Run(ctx)

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, admin routes disabled")
	}

	r := router.New(&router.Config{
		Logger:             logger,
		WebChat:            webchat.NewHandler(orch, deps, logger),
		LeadsHandler:       leads.NewHandler(leadService, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		HealthChecks:       checks,
	})

	// No WriteTimeout: websocket connections outlive any write deadline.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// setupMetrics builds a private registry with the intake collectors plus the
// Go runtime and process collectors.
func setupMetrics() (http.Handler, *metrics.IntakeMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewIntakeMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

// setupSessionStore returns a redis-backed store when REDIS_ADDR is set and
// reachable, and an in-memory store otherwise.
func setupSessionStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (storage.Store, router.HealthCheck, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, sessions kept in memory")
		return storage.NewMemoryStore(), nil, nil
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("session store connected", "backend", "redis", "addr", cfg.RedisAddr)
	store := storage.NewRedisStore(client, "movement", cfg.Intake.SessionExpiry, nil)
	check := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return store, check, nil
}

// connectPostgresPool returns nil when no URL is configured or the database
// is unreachable; leads then stay in memory.
func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		logger.Warn("DATABASE_URL not set, leads kept in memory")
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(connectCtx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		pool.Close()
		return nil
	}
	logger.Info("postgres connected")
	return pool
}

// setupNotifier returns nil when no alert recipients are configured. Without
// a SendGrid key alerts are logged instead of sent.
func setupNotifier(cfg *appconfig.Config, logger *logging.Logger) leads.Notifier {
	var mailer notify.Mailer = notify.NewLogMailer(logger)
	sg, err := notify.NewSendGridMailer(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	switch {
	case err == nil:
		mailer = sg
	case !errors.Is(err, notify.ErrMailerDisabled):
		logger.Warn("sendgrid misconfigured, logging hot lead alerts instead", "error", err)
	}

	n := notify.NewHotLeadNotifier(mailer, cfg.LeadAlertEmail, logger)
	if !n.Enabled() {
		return nil
	}
	return n
}
