package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-edge/internal/app"
	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/bundle"
	"github.com/odyssey-erp/odyssey-edge/internal/crud"
	"github.com/odyssey-erp/odyssey-edge/internal/dispatch"
	"github.com/odyssey-erp/odyssey-edge/internal/executor"
	"github.com/odyssey-erp/odyssey-edge/internal/observability"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/db"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-edge/internal/respcache"
	"github.com/odyssey-erp/odyssey-edge/internal/script"
	"github.com/odyssey-erp/odyssey-edge/internal/secrets"
	"github.com/odyssey-erp/odyssey-edge/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("tenant", cfg.TenantID))

	pools, err := db.OpenAll(ctx, cfg.DatabaseDSNs(db.DefaultAlias))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		for _, p := range pools {
			p.Close()
		}
	}()
	logger.Info("databases ready", slog.Any("aliases", cfg.DatabaseAliases(db.DefaultAlias)))

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store := kv.NewRedisStore(redisClient)
	bundles := bundle.NewStore(cfg.TenantID, store, bundle.NewMemoryCache(), logger)
	if err := bundles.ListenForInvalidation(ctx, redisClient); err != nil {
		logger.Warn("bundle invalidation disabled", slog.Any("error", err))
	}

	secretResolver, err := secrets.NewResolver(store, cfg.SecretsKey)
	if err != nil {
		logger.Error("init secrets", slog.Any("error", err))
		os.Exit(1)
	}

	issuer, err := storage.NewIssuer(storage.Config{
		Endpoint:        cfg.StorageEndpoint,
		AccessKeyID:     cfg.StorageAccessKey,
		SecretAccessKey: cfg.StorageSecretKey,
		UseSSL:          cfg.StorageUseSSL,
		Region:          cfg.StorageRegion,
		URLTTL:          cfg.StorageURLTTL,
	})
	if err != nil {
		logger.Error("init storage", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	exec := executor.New(executor.Deps{
		Bundles:   bundles,
		Databases: db.RegistryFromPools(pools),
		Schema:    &crud.Schema{},
		Scripts:   script.NewRuntime(cfg.ScriptTimeout),
		Storage:   issuer,
		Secrets:   secretResolver,
		Queue:     queue,
		Metrics:   metrics,
		Logger:    logger,
		MaxDepth:  cfg.MaxInvokeDepth,
	})

	dispatcher := dispatch.NewHandler(
		logger,
		bundles,
		auth.NewAuthenticator(cfg.JWTSecret),
		exec,
		respcache.New(redisClient, cfg.TenantID, logger),
		metrics,
	)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, cfg.TenantID, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Dispatcher: dispatcher,
		JobHandler: jobHandler,
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
