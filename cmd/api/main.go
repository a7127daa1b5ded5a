package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/triage-service/internal/api/http"
	"github.com/spec-kit/triage-service/internal/api/http/handlers"
	"github.com/spec-kit/triage-service/internal/auth"
	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/events"
	"github.com/spec-kit/triage-service/internal/gateway/aiclient"
	"github.com/spec-kit/triage-service/internal/gateway/logmonitor"
	"github.com/spec-kit/triage-service/internal/gateway/znuny"
	"github.com/spec-kit/triage-service/internal/observability"
	"github.com/spec-kit/triage-service/internal/persistence"
	"github.com/spec-kit/triage-service/internal/repository"
	"github.com/spec-kit/triage-service/internal/service"
	"github.com/spec-kit/triage-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var sessions znuny.SessionStore
	if redis.Enabled() {
		sessions = znuny.NewRedisSessionStore(redis.Client)
	}
	tickets := znuny.NewClient(cfg.Znuny, sessions, logger)

	dispatcher := events.NewInMemoryDispatcher(logger)
	subscribers := []worker.Subscriber{service.NewNotificationService(logger, cfg.Notification)}

	var (
		knowledge aiclient.KnowledgeRetriever
		history   *handlers.HistoryHandler
	)
	if pg.Enabled() {
		triageRepo := repository.NewTriageRepository(pg.PoolHandle())
		delegationRepo := repository.NewDelegationRepository(pg.PoolHandle())
		kb := service.NewKnowledgeService(repository.NewKnowledgeRepository(pg.PoolHandle()), logger)
		knowledge = kb
		history = handlers.NewHistoryHandler(triageRepo, delegationRepo)
		subscribers = append(subscribers, service.NewAuditService(triageRepo, delegationRepo, logger), kb)
	}
	worker.StartSubscribers(dispatcher, subscribers...)

	diagnoser := aiclient.NewClient(cfg.Diagnosis, knowledge, logger)
	analyzer := logmonitor.NewClient(cfg.Analysis, logger)

	delegations := service.NewDelegationService(tickets, analyzer, dispatcher, logger)
	pool := worker.NewDelegationPool(worker.OptionsFromConfig(cfg.Delegation, cfg.Analysis), delegations, logger, metrics)
	pool.Start()

	triage := service.NewTriageService(service.TriageDependencies{
		Tickets:    tickets,
		Diagnoser:  diagnoser,
		Evaluator:  service.NewCriticalityEvaluator(cfg.Escalation.Threshold),
		Policy:     service.NewEscalationPolicy(cfg.Escalation.Threshold),
		Submitter:  pool,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		Escalation: cfg.Escalation,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, cfg.Auth)
	if authMiddleware.Open() {
		logger.Warn("webhook authentication disabled; set WEBHOOK_JWT_SECRET or WEBHOOK_BASIC_USER")
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger, metrics),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
		"postgres": pg,
		"redis":    redis,
	}, pool)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Webhook:        handlers.NewWebhookHandler(triage, logger),
		History:        history,
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout())
	defer stop()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("delegation pool did not drain in time", zap.Error(err))
	}
	stats := pool.Stats()
	logger.Info("stopped",
		zap.Int64("delegations_completed", stats.Completed),
		zap.Int64("delegations_failed", stats.Failed))
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
