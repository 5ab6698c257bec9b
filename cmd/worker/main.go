package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-edge/internal/app"
	"github.com/odyssey-erp/odyssey-edge/internal/bundle"
	"github.com/odyssey-erp/odyssey-edge/internal/crud"
	"github.com/odyssey-erp/odyssey-edge/internal/executor"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/db"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-edge/internal/script"
	"github.com/odyssey-erp/odyssey-edge/internal/secrets"
	"github.com/odyssey-erp/odyssey-edge/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("tenant", cfg.TenantID), slog.String("component", "worker"))

	pools, err := db.OpenAll(ctx, cfg.DatabaseDSNs(db.DefaultAlias))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		for _, p := range pools {
			p.Close()
		}
	}()

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

	exec := executor.New(executor.Deps{
		Bundles:   bundles,
		Databases: db.RegistryFromPools(pools),
		Schema:    &crud.Schema{},
		Scripts:   script.NewRuntime(cfg.ScriptTimeout),
		Storage:   issuer,
		Secrets:   secretResolver,
		Queue:     queue,
		Logger:    logger,
		MaxDepth:  cfg.MaxInvokeDepth,
	})

	invokeJob := jobs.NewLogicInvokeJob(cfg.TenantID, exec, logger, nil)

	schedules, err := jobs.ParseSchedules(cfg.TenantID, cfg.WorkerSchedules)
	if err != nil {
		logger.Error("parse schedules", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		Tenant:      cfg.TenantID,
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLogicInvoke, Handler: invokeJob.Handle},
		},
		Cron: schedules,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
