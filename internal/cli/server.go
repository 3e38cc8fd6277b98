package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeclash-score-service/internal/app"
	"codeclash-score-service/internal/auth"
	"codeclash-score-service/internal/config"
	"codeclash-score-service/internal/domain"
	"codeclash-score-service/internal/infra/memory"
	"codeclash-score-service/internal/infra/postgres"
	redisstore "codeclash-score-service/internal/infra/redis"
	"codeclash-score-service/internal/observability"
	transport "codeclash-score-service/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the score service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// services is the wired application graph.
type services struct {
	attempts    *app.AttemptService
	scores      *app.ScoreService
	leaderboard *app.LeaderboardService
	lessons     *app.LessonGate
	hub         *app.Hub
	closers     []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured")
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	if cfg.Tracing.Enabled {
		tp, err := observability.InitTracer("codeclash-score-service", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := observability.NewMetrics()
	svc, err := buildServices(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer svc.Close()

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	router := transport.NewRouter(
		transport.NewHandlers(svc.attempts, svc.scores, svc.leaderboard, svc.lessons, logger),
		transport.NewWSHandler(svc.leaderboard, metrics, logger),
		transport.RouterConfig{
			Issuer:      issuer,
			Metrics:     metrics,
			Logger:      logger,
			RateLimit:   cfg.RateLimit.MaxRequests,
			RateWindow:  config.TTLDuration(cfg.RateLimit.Window, time.Minute),
			EnableTrace: cfg.Tracing.Enabled,
		},
	)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting score service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", zap.Error(err))
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server...")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// buildServices picks the backing stores: Postgres when configured, else Redis,
// else in-memory. Change events always reach the local hub; with Redis they
// travel through pub/sub so every instance sees them.
func buildServices(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics *observability.Metrics) (*services, error) {
	policy := app.AttemptPolicy{MaxAttempts: cfg.Attempts.Max, Consume: app.ConsumeMode(cfg.Attempts.Consume)}
	if policy.Consume != app.ConsumeOnStart && policy.Consume != app.ConsumeOnSubmit {
		return nil, fmt.Errorf("attempts.consume must be %q or %q, got %q", app.ConsumeOnStart, app.ConsumeOnSubmit, cfg.Attempts.Consume)
	}
	defaultStatus := domain.LockStatus(cfg.Lessons.DefaultStatus)
	if !defaultStatus.Valid() {
		return nil, fmt.Errorf("lessons.default_status must be locked or unlocked, got %q", cfg.Lessons.DefaultStatus)
	}

	retry := app.RetryPolicy{
		Timeout:         config.TTLDuration(cfg.Store.Timeout, 10*time.Second),
		MaxRetries:      cfg.StoreRetries(),
		InitialInterval: config.TTLDuration(cfg.Store.InitialBackoff, 100*time.Millisecond),
		MaxInterval:     config.TTLDuration(cfg.Store.MaxBackoff, 2*time.Second),
		Notify: func(op string, err error, wait time.Duration) {
			metrics.ObserveRetry(op)
			logger.Warn("retrying store call", zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
		},
	}

	svc := &services{hub: app.NewHub()}
	var (
		records     app.RecordRepository
		lessons     app.LessonRepository
		loader      memory.NameLoader = memory.NewStaticNameLoader(nil)
		notifier    app.Notifier      = svc.hub
		redisClient *redis.Client
		pool        *pgxpool.Pool
		bunDB       *bun.DB
	)

	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc.closers = append(svc.closers, func() { _ = redisClient.Close() })
	}

	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.closers = append(svc.closers, pool.Close)
		bunDB = openBunDB(cfg.Postgres.URL)
		svc.closers = append(svc.closers, func() { _ = bunDB.Close() })
	}

	switch {
	case pool != nil:
		records = postgres.NewRecordStore(pool)
		lessons = postgres.NewLessonStore(bunDB)
		loader = postgres.NewNameLoader(pool)
		logger.Info("using postgres stores")
	case redisClient != nil:
		records = redisstore.NewRecordStore(redisClient)
		lessons = redisstore.NewLessonStore(redisClient)
		logger.Info("using redis stores")
	default:
		records = memory.NewRecordStore()
		lessons = memory.NewLessonStore()
		logger.Info("using in-memory stores")
	}

	nameTTL := config.TTLDuration(cfg.Names.TTL, 10*time.Minute)
	var names app.NameResolver
	if redisClient != nil {
		names = redisstore.NewNameCache(redisClient, loader, nameTTL)

		relay := redisstore.NewNotifier(redisClient, cfg.Redis.Channel, svc.hub, logger)
		notifier = relay
		go func() {
			if err := relay.Run(ctx, nil); err != nil {
				logger.Error("change relay stopped", zap.Error(err))
			}
		}()
	} else {
		names = memory.NewNameCache(loader, nameTTL)
	}

	records = app.RetryRecords(records, retry)
	lessons = app.RetryLessons(lessons, retry)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithNotifier(notifier),
		app.WithMetrics(metrics),
		app.WithDefaultName(cfg.Names.DefaultName),
	}
	svc.lessons = app.NewLessonGate(lessons, defaultStatus, opts...)
	svc.attempts = app.NewAttemptService(records, svc.lessons, policy, opts...)
	svc.scores = app.NewScoreService(records, policy, opts...)
	svc.leaderboard = app.NewLeaderboardService(records, names, svc.hub, opts...)
	return svc, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
