package main

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/analytics"
	"github.com/example/feed-platform/internal/platform/auth"
	"github.com/example/feed-platform/internal/platform/config"
	"github.com/example/feed-platform/internal/platform/httpserver"
	"github.com/example/feed-platform/internal/platform/logging"
	"github.com/example/feed-platform/internal/platform/run"
	feedconfig "github.com/example/feed-platform/services/feed/internal/config"
	"github.com/example/feed-platform/services/feed/internal/events"
	"github.com/example/feed-platform/services/feed/internal/feed"
	"github.com/example/feed-platform/services/feed/internal/handlers"
	"github.com/example/feed-platform/services/feed/internal/idempotency"
	"github.com/example/feed-platform/services/feed/internal/jobs"
	"github.com/example/feed-platform/services/feed/internal/karma"
	"github.com/example/feed-platform/services/feed/internal/leaderboard"
	"github.com/example/feed-platform/services/feed/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	feedCfg, err := feedconfig.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, zap.String("service", cfg.ServiceName), zap.String("env", feedCfg.Env))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	st, pool, err := store.Open(context.Background(), store.OpenOptions{
		Backend:         feedCfg.Store,
		DatabaseURL:     feedCfg.DatabaseURL,
		SQLitePath:      feedCfg.SQLitePath,
		ExtraMigrations: []string{idempotency.PostgresMigration},
		Log:             log,
	})
	if err != nil {
		log.Error("store init failed", zap.String("store", feedCfg.Store), zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}

	idem, err := idempotency.NewStore(idempotency.Options{
		RedisURL: feedCfg.RedisURL,
		Pool:     pool,
		TTL:      feedCfg.IdempotencyTTL,
		Capacity: feedCfg.IdempotencyCapacity,
		IsProd:   feedCfg.IsProduction(),
		Log:      log.Named("idempotency"),
	})
	if err != nil {
		log.Error("idempotency store init failed", zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}

	pub, err := events.New(feedCfg.NatsURL, log.Named("events"))
	if err != nil {
		log.Error("nats publisher init failed", zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}

	engine := karma.NewEngine(st, karma.Options{
		Log:             log.Named("karma"),
		Notifier:        pub,
		MaxAttempts:     feedCfg.ToggleMaxAttempts,
		ForbidSelfLikes: !feedCfg.AllowSelfLikes,
	})

	var sched *jobs.Scheduler
	if feedCfg.ReconcileSchedule != "" {
		sched, err = jobs.NewScheduler(feedCfg.ReconcileSchedule, engine, log.Named("jobs"))
		if err != nil {
			log.Error("scheduler init failed", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
	}

	if feedCfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, every authenticated request will be rejected")
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger:         log,
		AllowedOrigins: feedCfg.CORSOrigins,
		ReadyFunc: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.Ping(ctx)
		},
	})
	handlers.Register(r, handlers.Deps{
		Feed:              feed.NewService(st, log.Named("feed")).WithAnalytics(analytics.New(pub.JetStream(), log.Named("analytics"))),
		Karma:             engine,
		Leaderboard:       leaderboard.NewAggregator(st, log.Named("leaderboard"), nil),
		Idempotency:       idem,
		Verifier:          auth.JWTVerifier{Secret: []byte(feedCfg.JWTSecret)},
		Log:               log,
		LeaderboardWindow: feedCfg.LeaderboardWindow,
		LeaderboardLimit:  feedCfg.LeaderboardLimit,
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if sched != nil {
			sched.Start()
		}
		return srv.Start(log)
	})

	steps := []func(context.Context) error{srv.Shutdown}
	if sched != nil {
		steps = append(steps, sched.Stop)
	}
	steps = append(steps,
		func(context.Context) error { return pub.Close() },
		func(context.Context) error { return st.Close() },
	)
	runner.Shutdown(steps...)

	log.Info("exit", zap.Int("code", code))
	_ = log.Sync()
	run.Exit(code)
}
