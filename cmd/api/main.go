package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/gatekeeper/internal/admission"
	httptransport "github.com/spec-kit/gatekeeper/internal/api/http"
	"github.com/spec-kit/gatekeeper/internal/api/http/handlers"
	"github.com/spec-kit/gatekeeper/internal/auth"
	"github.com/spec-kit/gatekeeper/internal/config"
	"github.com/spec-kit/gatekeeper/internal/events"
	"github.com/spec-kit/gatekeeper/internal/observability"
	"github.com/spec-kit/gatekeeper/internal/persistence"
	"github.com/spec-kit/gatekeeper/internal/repository"
	"github.com/spec-kit/gatekeeper/internal/service"
	"github.com/spec-kit/gatekeeper/internal/worker"
)

const shutdownTimeout = 10 * time.Second

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

	if cfg.Auth.DevSecret {
		logger.Warn("AUTH_JWT_SECRET not set; signing tokens with the built-in development secret",
			zap.String("env", cfg.App.Env))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.App.Version)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var users repository.UserRepository
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		users = repository.NewUserRepository(pg.PoolHandle())
	} else {
		users = repository.NewMemoryUserRepository()
	}

	var redis *persistence.Redis
	if cfg.Admission.Backend == "redis" {
		redis = persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
	}

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))

	policy, store, err := buildAdmissionStore(cfg.Admission, redis)
	if err != nil {
		logger.Fatal("failed to build admission store", zap.Error(err))
	}

	controllerOpts := []admission.Option{
		admission.WithRecorder(metrics),
		admission.WithLogger(logger.Named("admission")),
		admission.WithDenialListener(publishDenial(dispatcher, logger)),
	}
	if cfg.Inspector.Enabled {
		inspector := admission.NewHeuristicInspector(
			admission.WithPerIPRate(cfg.Inspector.PerIPRate, cfg.Inspector.PerIPBurst),
			admission.WithIdleTTL(cfg.Inspector.IdleTTL),
			admission.WithCleanupEvery(cfg.Inspector.CleanupEvery),
			admission.WithAllowedAgents(cfg.Inspector.AllowedAgents...),
		)
		inspector.StartJanitor(ctx)
		controllerOpts = append(controllerOpts, admission.WithInspector(inspector))
	}
	controller := admission.NewController(store, controllerOpts...)

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		logger.Fatal("failed to init token manager", zap.Error(err))
	}
	vault := auth.NewPasswordVault(cfg.Auth.BcryptCost, cfg.Auth.HashConcurrency)
	guard := auth.NewGuard()
	gatekeeper := auth.NewGatekeeper(tokens, controller,
		auth.WithCookieName(cfg.Auth.CookieName),
		auth.WithSecureCookie(!cfg.App.IsDevelopment()),
		auth.WithTrustForwardedFor(cfg.Inspector.TrustForwardFor),
		auth.WithGatekeeperLogger(logger.Named("gatekeeper")),
	)

	identityService := service.NewIdentityService(service.IdentityDependencies{
		Users:        users,
		Vault:        vault,
		Tokens:       tokens,
		Dispatcher:   dispatcher,
		Logger:       logger,
		StoreTimeout: cfg.Auth.StoreTimeout,
	})
	usersService := service.NewUsersService(service.UsersDependencies{
		Users:        users,
		Vault:        vault,
		Guard:        guard,
		Dispatcher:   dispatcher,
		Logger:       logger,
		StoreTimeout: cfg.Auth.StoreTimeout,
	})

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		BodyLimit:             cfg.App.BodyLimitBytes,
		DisableStartupMessage: !cfg.App.IsDevelopment(),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:     handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:       handlers.NewAuthHandler(identityService, gatekeeper, guard, cfg.Auth.AllowAdminSignup),
		Users:      handlers.NewUsersHandler(usersService),
		Admission:  handlers.NewAdmissionHandler(policy, cfg.Admission.Backend, store),
		Gatekeeper: gatekeeper,
		Guard:      guard,
		Metrics:    metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", zap.Error(err))
	}
}

func buildAdmissionStore(cfg config.AdmissionConfig, redis *persistence.Redis) (admission.Policy, admission.Store, error) {
	policy := admission.Policy{
		Window: cfg.Window,
		Limits: map[admission.Class]int{
			admission.ClassGuest: cfg.GuestLimit,
			admission.ClassUser:  cfg.UserLimit,
			admission.ClassAdmin: cfg.AdminLimit,
		},
	}

	if cfg.Backend == "redis" {
		store, err := admission.NewRedisStore(redis.Client, policy, cfg.RedisPrefix)
		return policy, store, err
	}
	store, err := admission.NewMemoryStore(policy)
	return policy, store, err
}

func publishDenial(dispatcher events.Dispatcher, logger *zap.Logger) admission.DenialListener {
	return func(ctx context.Context, dec admission.Decision, in admission.Inbound) {
		event := events.New(events.EventAdmissionDenied, "", events.Actor{}, events.AdmissionDeniedPayload{
			Class:  string(dec.Class),
			Reason: string(dec.Reason),
			IP:     in.IP,
			Method: in.Method,
			Path:   in.Path,
		})
		if err := dispatcher.Publish(ctx, event); err != nil {
			logger.Warn("failed to publish admission denial", zap.Error(err))
		}
	}
}
