// Command ratchetd runs the billing engine: the HTTP API, the health and
// metrics endpoints and the periodic due-charge job.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ratchet/pkg/access"
	"github.com/platinummonkey/ratchet/pkg/api"
	"github.com/platinummonkey/ratchet/pkg/audit"
	"github.com/platinummonkey/ratchet/pkg/clock"
	"github.com/platinummonkey/ratchet/pkg/config"
	"github.com/platinummonkey/ratchet/pkg/engine"
	"github.com/platinummonkey/ratchet/pkg/events"
	"github.com/platinummonkey/ratchet/pkg/ledger"
	"github.com/platinummonkey/ratchet/pkg/middleware"
	"github.com/platinummonkey/ratchet/pkg/observability"
	"github.com/platinummonkey/ratchet/pkg/quota"
	"github.com/platinummonkey/ratchet/pkg/scheduler"
	"github.com/platinummonkey/ratchet/pkg/store"
	"github.com/platinummonkey/ratchet/pkg/webhooks"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ratchetd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting ratchetd")

	catalog, err := config.LoadCatalog(cfg.Billing.CatalogPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if cfg.Billing.WatchCatalog {
		if err := catalog.Watch(); err != nil {
			return fmt.Errorf("failed to watch catalog: %w", err)
		}
		defer catalog.Close()
	}

	st, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var redisClient *redis.Client
	if cfg.Store.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisURL,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		defer redisClient.Close()
	}

	clk := clock.System()
	ids := store.UUIDGenerator{}
	if err := catalog.SeedPlans(context.Background(), st, clk); err != nil {
		return fmt.Errorf("failed to seed plans: %w", err)
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	eventLog := logrus.New()
	eventLog.SetFormatter(&logrus.JSONFormatter{})
	var sink events.Sink = events.NewLogSink(eventLog)
	if cfg.Billing.WebhookURL != "" {
		dispatcher := webhooks.NewDispatcher(nil, logger, ids, clk)
		if _, err := dispatcher.Register(&webhooks.Endpoint{
			URL:    cfg.Billing.WebhookURL,
			Secret: cfg.Billing.WebhookSecret,
		}); err != nil {
			return fmt.Errorf("failed to register webhook: %w", err)
		}
		defer dispatcher.Close()
		sink = events.MultiSink{sink, dispatcher}
	}
	if cfg.Billing.AuditPath != "" {
		trail, err := audit.NewFileSink(audit.DefaultFileSinkConfig(cfg.Billing.AuditPath))
		if err != nil {
			return fmt.Errorf("failed to open audit trail: %w", err)
		}
		defer trail.Close()
		sink = events.MultiSink{sink, trail}
	}

	policy := quota.NewPolicy(catalog)

	var ldgr ledger.Ledger
	if cfg.Billing.LedgerURL != "" {
		ldgr = ledger.NewHTTPLedger(cfg.Billing.LedgerURL, cfg.Billing.LedgerTimeout)
	} else {
		logger.Warn("no ledger URL configured, using the in-memory ledger")
		ldgr = ledger.NewFake()
	}

	payments, err := store.NewCachedPayments(st, cfg.Store.PaymentCacheSize)
	if err != nil {
		return fmt.Errorf("failed to build payment cache: %w", err)
	}

	eng := engine.New(engine.Config{
		Policy:          policy,
		Configs:         catalog,
		Ledger:          ldgr,
		Payments:        payments,
		IDs:             ids,
		Clock:           clk,
		Sink:            sink,
		Metrics:         metrics,
		PlatformAccount: cfg.Billing.PlatformAccount,
	})

	sched := scheduler.New(st, st, eng, ids, clk, sink, metrics, &scheduler.Options{
		MaxFailedPayments: cfg.Billing.MaxFailedPayments,
		BatchLimit:        cfg.Billing.BatchLimit,
		BatchConcurrency:  cfg.Billing.BatchConcurrency,
	})

	checker := access.NewChecker()
	for _, identity := range cfg.Access.Admins {
		checker.Grant(identity, access.CapAdmin)
	}
	for _, identity := range cfg.Access.Operators {
		checker.Grant(identity, access.CapOperator)
	}
	for _, identity := range cfg.Access.Subscribers {
		checker.Grant(identity, access.CapSubscriber)
	}

	var limiter api.RateLimiter
	rlCfg := middleware.DefaultRateLimitConfig()
	if redisClient != nil {
		limiter = middleware.NewDistributedRateLimiter(redisClient, rlCfg)
	} else {
		local := middleware.NewRateLimiter(rlCfg, clk)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		local.StartCleanup(ctx)
		limiter = local
	}

	server := api.NewServer(api.Config{
		Engine:    eng,
		Scheduler: sched,
		Store:     st,
		Policy:    policy,
		Checker:   checker,
		Logger:    logger,
		Limiter:   limiter,
		Sink:      sink,
		IDs:       ids,
		Clock:     clk,
	})

	handler := server.Router()
	if metrics != nil {
		handler = observability.HTTPMetricsMiddleware(metrics)(handler)
	}

	// The due-charge job runs in-process; larger deployments point
	// RATCHET_BATCH_SCHEDULE at one instance only.
	var runner *cron.Cron
	if cfg.Billing.BatchSchedule != "" {
		runner = cron.New()
		_, err := runner.AddFunc(cfg.Billing.BatchSchedule, func() {
			result, err := sched.RunDue(context.Background())
			if err != nil {
				logger.WithError(err).Error("batch billing run failed")
				return
			}
			logger.WithFields(map[string]interface{}{
				"due":       result.Due,
				"succeeded": result.Succeeded,
				"failed":    result.Failed,
			}).Info("batch billing run completed")
		})
		if err != nil {
			return fmt.Errorf("failed to schedule batch billing: %w", err)
		}
		runner.Start()
		logger.WithField("schedule", cfg.Billing.BatchSchedule).Info("batch billing scheduled")
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, version))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("api server failed")
		}
	}()

	var batch observability.BatchRunner
	if runner != nil {
		batch = runner
	}
	return observability.GracefulShutdown(logger, cfg.Server.ShutdownTimeout, apiServer, batch,
		func(ctx context.Context) error {
			return healthServer.Shutdown(ctx)
		},
	)
}

// openStore builds the configured persistence backend. The *sql.DB return is
// nil for the memory store; the health checker treats that as nothing to
// check.
func openStore(cfg *config.Config) (store.Store, *sql.DB, error) {
	switch cfg.Store.Type {
	case "memory":
		return store.NewMemoryStore(), nil, nil
	case "sqlite":
		st, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, st.DB(), nil
	case "postgres":
		st, err := store.OpenPostgres(cfg.Store.PostgresURL, cfg.Store.PostgresMaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, st.DB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}
