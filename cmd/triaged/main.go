// Command triaged runs the triage orchestration service: it ingests
// classifier events over NATS and HTTP, scores and prioritizes cases,
// dispatches escalations and notices, and serves the staff case API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carewire/triage/internal/backend"
	"github.com/carewire/triage/internal/casestore"
	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/internal/dedupe"
	"github.com/carewire/triage/internal/directory"
	"github.com/carewire/triage/internal/escalation"
	"github.com/carewire/triage/internal/ingest"
	"github.com/carewire/triage/internal/notify"
	"github.com/carewire/triage/internal/observability"
	"github.com/carewire/triage/internal/orchestrator"
	"github.com/carewire/triage/internal/scheduler"
	"github.com/carewire/triage/internal/transport"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "triaged", version)
	if err != nil {
		logger.Error("init tracing", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	store, closeStore, err := buildCaseStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("init case store", zap.Error(err))
		return 1
	}
	defer closeStore()

	dedupeStore, closeDedupe := buildDedupeStore(cfg.Dedupe, logger)
	defer closeDedupe()

	staffDir := directory.NewStaffDirectory(cfg.Services.StaffDirectory, cfg.Policy.EscalationRoleFilter, logger)
	bookingDir := directory.NewBookingDirectory(cfg.Services.BookingDirectory, cfg.Policy.BookingSpecialization, logger)
	delivery := notify.NewDeliveryClient(cfg.Services.Delivery, logger)
	reminderSink := notify.NewReminderSink(cfg.Services.ReminderSink, logger)

	for service, breaker := range map[string]*backend.CircuitBreaker{
		"staff_directory":   staffDir.Breaker(),
		"booking_directory": bookingDir.Breaker(),
		"delivery":          delivery.Breaker(),
		"reminder_sink":     reminderSink.Breaker(),
	} {
		b := breaker
		observability.RegisterBreakerGauge(prometheus.DefaultRegisterer, service, func() float64 {
			return float64(b.State())
		})
	}

	fanout := escalation.NewFanOut(staffDir, deliverySender{delivery}, cfg.Dispatch.RecipientTimeout, logger)
	engine := orchestrator.NewEngine(store, fanout, bookingDir, delivery, cfg.Policy, cfg.Dispatch, metrics, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	reminders := scheduler.New(store, reminderSink, cfg.Policy.ReminderPollInterval, metrics, logger)
	go reminders.Run(bgCtx)

	var consumer *ingest.Consumer
	if cfg.Ingest.Enabled {
		consumer, err = ingest.NewConsumer(cfg.Ingest, cfg.Dedupe.TTL, engine, dedupeStore, logger)
		if err != nil {
			logger.Error("init ingest consumer", zap.Error(err))
			return 1
		}
		if err := consumer.Start(); err != nil {
			logger.Error("start ingest consumer", zap.Error(err))
			return 1
		}
		logger.Info("ingest consumer started",
			zap.String("subject", cfg.Ingest.Subject),
			zap.String("queue", cfg.Ingest.Queue),
		)
	}

	var authenticate func(http.Handler) http.Handler
	if cfg.Identity.JWKSURL != "" {
		jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)
		authenticate = transport.JWTAuthenticator(cfg.Identity, jwks)
	} else {
		logger.Warn("identity.jwks_url not set, staff endpoints are unauthenticated")
	}

	checks := observability.ReadinessChecks{
		CaseStore:   store,
		DedupeStore: dedupeStore,
	}
	if consumer != nil {
		checks.IngestConnected = consumer.Connected
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Engine:       engine,
		Authenticate: authenticate,
		Metrics:      metrics,
		Ready:        observability.HandleReady(checks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("version", version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if consumer != nil {
		consumer.Close()
	}
	bgCancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatches still in flight at shutdown", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildCaseStore selects the case store backend. An empty DSN falls back to
// the in-memory store so the service can run in development without postgres.
func buildCaseStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (casestore.Store, func(), error) {
	if cfg.Driver == "memory" {
		logger.Info("using in-memory case store")
		return casestore.NewMemoryStore(), func() {}, nil
	}

	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		logger.Warn("case store DSN not set, falling back to in-memory store",
			zap.String("env", cfg.DSNEnv),
		)
		return casestore.NewMemoryStore(), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse case store DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create case store pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping case store: %w", err)
	}

	logger.Info("connected to postgres case store")
	return casestore.NewPgStore(pool), pool.Close, nil
}

// buildDedupeStore selects the idempotency store backend. Redis failures at
// startup are not fatal here; the first health check will report them.
func buildDedupeStore(cfg config.DedupeConfig, logger *zap.Logger) (dedupe.Store, func()) {
	if cfg.Driver == "memory" {
		return dedupe.NewMemoryStore(), func() {}
	}

	addr := os.Getenv(cfg.AddrEnv)
	if addr == "" {
		logger.Warn("redis address not set, falling back to in-memory dedupe store",
			zap.String("env", cfg.AddrEnv),
		)
		return dedupe.NewMemoryStore(), func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	logger.Info("using redis dedupe store", zap.Int("db", cfg.DB))
	return dedupe.NewRedisStore(client), func() { client.Close() }
}

// deliverySender adapts the delivery client to the escalation fan-out, which
// addresses one recipient at a time.
type deliverySender struct {
	client *notify.DeliveryClient
}

func (s deliverySender) Send(ctx context.Context, recipientID, channel, caseID, body string) error {
	return s.client.Send(ctx, notify.Notification{
		RecipientID: recipientID,
		Channel:     channel,
		CaseID:      caseID,
		Kind:        "staff_escalation",
		Subject:     "Critical triage case requires attention",
		Body:        body,
	})
}
