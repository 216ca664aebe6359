package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/campus-delivery/internal/api/http"
	"github.com/spec-kit/campus-delivery/internal/api/http/handlers"
	"github.com/spec-kit/campus-delivery/internal/auth"
	"github.com/spec-kit/campus-delivery/internal/config"
	"github.com/spec-kit/campus-delivery/internal/engine"
	"github.com/spec-kit/campus-delivery/internal/events"
	"github.com/spec-kit/campus-delivery/internal/observability"
	"github.com/spec-kit/campus-delivery/internal/persistence"
	"github.com/spec-kit/campus-delivery/internal/ratelimit"
	"github.com/spec-kit/campus-delivery/internal/repository"
	"github.com/spec-kit/campus-delivery/internal/scheduler"
	"github.com/spec-kit/campus-delivery/internal/service"
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
	userRepo := repository.NewUserRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	onboardingRepo := repository.NewOnboardingRepository(pool)

	dispatcher := events.NewInMemoryDispatcher()
	outbox := persistence.NewRedisOutbox(redis, cfg.Redis.OutboxKey)
	metrics := observability.NewMetrics()

	gamification := service.NewGamificationService(service.GamificationDependencies{
		UserRepo:   userRepo,
		Dispatcher: dispatcher,
		Rewards:    cfg.Rewards,
	})
	onboarding := service.NewOnboardingService(service.OnboardingDependencies{
		OnboardingRepo: onboardingRepo,
		Dispatcher:     dispatcher,
		Bot:            cfg.Bot,
		Rewards:        cfg.Rewards,
		Logger:         logger,
	})
	orders := service.NewOrderService(service.OrderDependencies{
		OrderRepo:  orderRepo,
		UserRepo:   userRepo,
		Dispatcher: dispatcher,
		Rewards:    cfg.Rewards,
		Logger:     logger,
	})

	notifier := service.NewNotificationService(dispatcher, outbox, cfg.Bot, logger)
	notifier.RegisterHandlers()

	limiter := ratelimit.NewLimiter(cfg.RateLimit.MaxEvents, cfg.RateLimit.Window, time.Now)
	limiter.StartSweep(time.Minute)
	defer limiter.Stop()

	core := engine.New(engine.Dependencies{
		Limiter:      limiter,
		UserRepo:     userRepo,
		Onboarding:   onboarding,
		Orders:       orders,
		Gamification: gamification,
		Bot:          cfg.Bot,
		Metrics:      metrics,
		Logger:       logger,
	})

	jobs := scheduler.NewJobs(scheduler.JobDependencies{
		UserRepo:       userRepo,
		OrderRepo:      orderRepo,
		OnboardingRepo: onboardingRepo,
		Gamification:   gamification,
		Outbox:         outbox,
		Snapshots:      redis,
		Bot:            cfg.Bot,
		Cfg:            cfg.Jobs,
		Metrics:        metrics,
		Logger:         logger,
	})
	sched := scheduler.New(jobs, cfg.Jobs, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Events:  handlers.NewEventsHandler(core, cfg.Auth.WebhookToken),
		Admin:   handlers.NewAdminHandler(gamification, jobs, metrics, tokens, cfg.Auth, cfg.Bot),
		Tokens:  tokens,
		IsAdmin: cfg.Bot.IsAdmin,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
