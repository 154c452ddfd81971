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

	"github.com/redis/go-redis/v9"

	"github.com/forgo/sect/internal/config"
	"github.com/forgo/sect/internal/handler"
	"github.com/forgo/sect/internal/jobs"
	"github.com/forgo/sect/internal/metrics"
	"github.com/forgo/sect/internal/middleware"
	"github.com/forgo/sect/internal/service"
	"github.com/forgo/sect/pkg/jwt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize structured logging
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	balance, err := config.LoadBalance(cfg.BalancePath)
	if err != nil {
		slog.Error("failed to load balance", slog.String("path", cfg.BalancePath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage",
			slog.String("driver", cfg.Storage.Driver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	slog.Info("storage ready", slog.String("driver", cfg.Storage.Driver))

	// Initialize JWT service (validation only, tokens are minted elsewhere)
	jwtService, err := jwt.NewService(jwt.Config{
		PublicKeyPath: cfg.JWT.PublicKeyPath,
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		slog.Error("failed to initialize JWT service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := metrics.NewRegistry()

	// Initialize services
	bonuses := service.NewBuildingBonusResolver(service.BuildingBonusResolverConfig{
		Reader:  store,
		Balance: balance,
	})
	sectService := service.NewSectService(service.SectServiceConfig{
		Repo:    store,
		Balance: balance,
		Logger:  logger,
	})
	ledger := service.NewContributionLedger(service.ContributionLedgerConfig{
		Store:      store,
		Bonuses:    bonuses,
		Balance:    balance,
		Logger:     logger,
		Observer:   registry,
		MaxRetries: cfg.Ledger.MaxRetries,
	})
	raidService := service.NewRaidService(service.RaidServiceConfig{
		Repo:     store,
		Ledger:   ledger,
		Balance:  balance,
		Logger:   logger,
		Observer: registry,
	})

	// Rate limiting and idempotency share Redis when it is configured
	limits := middleware.RateLimitConfig{
		Rate:   cfg.RateLimit.Rate,
		Window: cfg.RateLimit.Window,
		Burst:  cfg.RateLimit.Burst,
	}
	localLimiter := middleware.NewMemoryRateLimitStore(limits)
	defer localLimiter.Stop()

	var rateLimiter middleware.RateLimitStore = localLimiter
	var idempotencyStore middleware.IdempotencyStore
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis unreachable at startup, falling back while it recovers", slog.String("error", err.Error()))
		}
		cancel()

		rateLimiter = middleware.NewRedisRateLimitStore(middleware.RedisRateLimitStoreConfig{
			Client:   redisClient,
			Fallback: localLimiter,
			Limits:   limits,
			Logger:   logger,
		})
		idempotencyStore = middleware.NewRedisIdempotencyStore(redisClient, middleware.IdempotencyConfig{
			TTL: cfg.Idempotency.TTL,
		})
	} else {
		memoryIdempotency := middleware.NewMemoryIdempotencyStore(middleware.IdempotencyConfig{
			TTL: cfg.Idempotency.TTL,
		})
		defer memoryIdempotency.Stop()
		idempotencyStore = memoryIdempotency
	}

	// Background jobs
	pruner := jobs.NewDailyStatPruner(jobs.DailyStatPrunerConfig{
		Store:         store,
		Observer:      registry,
		Logger:        logger,
		RetentionDays: cfg.Jobs.DailyStatRetentionDays,
		Interval:      cfg.Jobs.PruneInterval,
	})
	pruner.Start()
	defer pruner.Stop()

	mux := handler.NewRouter(handler.RouterConfig{
		Tokens:      jwtService,
		Membership:  sectService,
		Idempotency: idempotencyStore,
		Sects: handler.NewSectHandler(handler.SectHandlerConfig{
			Sects:   sectService,
			Bonuses: bonuses,
			Logger:  logger,
		}),
		Contributions: handler.NewContributionHandler(ledger, logger),
		Raids:         handler.NewRaidHandler(raidService, logger),
		Health:        handler.Health(store, cfg.Storage.Driver),
		Metrics:       registry.Handler(),
	})

	routePattern := func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	}

	// Apply global middleware
	wrapped := middleware.Chain(
		mux,
		middleware.Recovery,
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.Metrics(registry, routePattern),
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.RateLimit(rateLimiter),
		middleware.Compress,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      wrapped,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting server",
			slog.String("port", cfg.Server.Port),
			slog.String("env", cfg.Server.Env),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	slog.Info("server exited")
}
