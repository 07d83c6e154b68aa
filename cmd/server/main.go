package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/growshop/ledger/internal/audit"
	"github.com/growshop/ledger/internal/config"
	"github.com/growshop/ledger/internal/database"
	"github.com/growshop/ledger/internal/handlers"
	"github.com/growshop/ledger/internal/lock"
	mW "github.com/growshop/ledger/internal/middleware"
	"github.com/growshop/ledger/internal/services"
	"github.com/growshop/ledger/internal/store/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.ReadInConfig(".env"); err != nil {
		logger.Info("config file not found, using defaults", "error", err)
	}
	cfg := config.LoadLedgerConfig()

	ctx := context.Background()

	db, err := database.OpenPostgres(ctx, database.PostgresFromConfig())
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connection established")

	if err := database.Migrate(ctx, db); err != nil {
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	redisOpts, err := database.RedisFromConfig()
	if err != nil {
		logger.Error("invalid redis configuration", "error", err)
		os.Exit(1)
	}
	var redisClient *redis.Client
	if redisOpts != nil {
		redisClient, err = database.OpenRedis(ctx, redisOpts)
		if err != nil {
			logger.Warn("redis connection failed, continuing without redis", "error", err)
		} else {
			defer redisClient.Close()
			logger.Info("redis connection established", "addr", redisOpts.Addr)
		}
	}

	// Redis-backed locks and audit queue when available; single-process
	// fallbacks otherwise.
	var locker lock.Locker = lock.NewMemoryLocker()
	sink := audit.MultiSink{audit.NewLogSink(logger)}
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient)
		sink = append(sink, audit.NewRedisSink(redisClient, cfg.AuditQueue))
	} else {
		logger.Warn("account locks are process-local; run a single ledger instance")
	}

	dispatcher := audit.NewDispatcher(sink, cfg.AuditBuffer, cfg.AuditTimeout, logger)

	store := postgres.New(db)
	deps := services.Deps{
		Store: store,
		Locks: lock.NewController(locker, lock.Options{
			TTL:           cfg.LockTTL,
			WaitTimeout:   cfg.LockWait,
			RetryInterval: cfg.LockRetryInterval,
		}, logger),
		Audit:        dispatcher,
		Logger:       logger,
		DefaultActor: cfg.DefaultActor,
		MaxPageSize:  cfg.HistoryMaxPageSize,
	}
	ledger := services.NewLedger(deps)

	rates, err := ledger.Rates.ListActiveRates(ctx)
	if err != nil {
		logger.Error("failed to load conversion rates", "error", err)
		os.Exit(1)
	}
	for _, r := range rates {
		logger.Info("active conversion rate", "currency", r.Currency, "rate", r.Rate,
			"min_amount", r.MinAmount, "max_amount", r.MaxAmount, "effective_at", r.EffectiveAt)
	}

	sweeper := services.NewPendingSweeper(deps, cfg.PendingStaleAfter, cfg.PendingSweepLimit)
	if err := sweeper.Start(cfg.PendingSweepSchedule); err != nil {
		logger.Error("invalid pending sweep schedule", "schedule", cfg.PendingSweepSchedule, "error", err)
		os.Exit(1)
	}

	checks := map[string]handlers.Check{"postgres": store.Ping}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	health := handlers.NewHealthHandler(checks, 2*time.Second)

	// Ops router only; ledger operations are reached in-process.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(mW.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.Error("pending sweeper did not stop", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("audit events lost on shutdown", "error", err)
	}

	logger.Info("server stopped")
}
