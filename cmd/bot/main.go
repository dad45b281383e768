package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/verification-gate/internal/api/http"
	"github.com/spec-kit/verification-gate/internal/api/http/handlers"
	"github.com/spec-kit/verification-gate/internal/auth"
	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/events"
	"github.com/spec-kit/verification-gate/internal/gateway"
	"github.com/spec-kit/verification-gate/internal/guard"
	"github.com/spec-kit/verification-gate/internal/observability"
	"github.com/spec-kit/verification-gate/internal/persistence"
	"github.com/spec-kit/verification-gate/internal/platform"
	"github.com/spec-kit/verification-gate/internal/repository"
	"github.com/spec-kit/verification-gate/internal/service"
	"github.com/spec-kit/verification-gate/internal/state"
	"github.com/spec-kit/verification-gate/internal/sweep"
	"github.com/spec-kit/verification-gate/internal/ticket"
	"github.com/spec-kit/verification-gate/internal/worker"
	"github.com/spec-kit/verification-gate/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	recordRepo := repository.NewRecordRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	store := state.NewStore(recordRepo, logger)
	if err := store.Load(ctx); err != nil {
		logger.Fatal("failed to load verification records", zap.Error(err))
	}

	client := platform.NewRESTClient(cfg.Platform)
	caller := platform.NewCaller(cfg.Restore)
	dispatcher := events.NewInMemoryDispatcher()

	roleGuard := guard.NewRoleGuard(cfg.Guard, guard.Dependencies{
		Store:      store,
		Client:     client,
		Caller:     caller,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	tickets := ticket.NewController(cfg.Ticket, client, caller, logger)
	wf := workflow.NewWorkflow(cfg.Restore, workflow.Dependencies{
		Store:      store,
		Client:     client,
		Caller:     caller,
		Tickets:    tickets,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	auditService := service.NewAuditService(cfg.Guard, service.AuditDependencies{
		Dispatcher: dispatcher,
		AuditRepo:  auditRepo,
		Client:     client,
		Redis:      redis,
		Logger:     logger,
	})
	worker.StartAuditWorker(auditService)
	statsService := service.NewStatsService(store, redis)

	gw := gateway.New(roleGuard, wf, logger, cfg.Gateway.QueueSize, cfg.Gateway.Workers)
	go gw.Run(ctx)

	scheduler := sweep.NewScheduler(cfg.Sweep, sweep.Dependencies{
		Store:    store,
		Client:   client,
		Guard:    roleGuard,
		Workflow: wf,
		Logger:   logger,
	})
	go scheduler.Run(ctx)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	metrics := observability.NewMetrics()
	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(cfg.Auth, tokens),
		Admin:          handlers.NewAdminHandler(cfg.Guard, wf, store, client, statsService, auditService),
		Events:         handlers.NewEventsHandler(gw, cfg.Platform.IngressSecret),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
