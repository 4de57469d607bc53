package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/api"
	"github.com/english-check/backend/internal/api/handlers"
	"github.com/english-check/backend/internal/audio"
	"github.com/english-check/backend/internal/cache/redis"
	"github.com/english-check/backend/internal/jobs"
	"github.com/english-check/backend/internal/metrics"
	"github.com/english-check/backend/internal/middleware/ratelimit"
	"github.com/english-check/backend/internal/objectstore"
	"github.com/english-check/backend/internal/scheduler"
	"github.com/english-check/backend/internal/storage/sqlite"
	"github.com/english-check/backend/internal/webhook"
	"github.com/english-check/backend/pkg/circuitbreaker"
	"github.com/english-check/backend/pkg/config"
	appLogger "github.com/english-check/backend/pkg/logger"
	"github.com/english-check/backend/pkg/retry"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Failed to load .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	log := appLogger.GetLogger()

	appLogger.Info("Starting English check API server",
		zap.String("webhook", cfg.Webhook.URL),
		zap.String("mode", cfg.Webhook.Mode),
		zap.String("job_store", cfg.Jobs.Store),
	)

	metrics.Init()

	var checks []handlers.Check

	var store jobs.Store
	switch cfg.Jobs.Store {
	case "redis":
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Jobs.TTL())
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		store = redisClient
		checks = append(checks, handlers.Check{Name: "redis", Ping: redisClient.Ping})
	default:
		store = jobs.NewMemoryStore()
	}

	webhookClient := webhook.NewClient(webhook.Config{
		URL:            cfg.Webhook.URL,
		Timeout:        cfg.Webhook.Timeout(),
		BreakerEnabled: cfg.Webhook.CircuitBreaker.Enabled,
		Breaker: circuitbreaker.Config{
			FailureThreshold: uint32(cfg.Webhook.CircuitBreaker.FailureThreshold),
			OpenTimeout:      time.Duration(cfg.Webhook.CircuitBreaker.OpenTimeoutSec) * time.Second,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			},
		},
		Logger: log,
	})

	var history handlers.HistoryRecorder
	var historyHandler *handlers.HistoryHandler
	var pruner scheduler.HistoryPruner
	if cfg.History.Enabled {
		sqliteClient, err := sqlite.NewClient(cfg.History.Path)
		if err != nil {
			appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer sqliteClient.Close()

		if err := sqliteClient.InitSchema(); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
		history = sqliteClient
		pruner = sqliteClient
		historyHandler = handlers.NewHistoryHandler(sqliteClient, log)
		checks = append(checks, handlers.Check{Name: "sqlite", Ping: func(context.Context) error {
			return sqliteClient.Ping()
		}})
	}

	var archive handlers.Archiver
	if cfg.Archive.Enabled {
		minioClient, err := objectstore.NewMinioClient(objectstore.Config{
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			Bucket:          cfg.Archive.Bucket,
			UseSSL:          cfg.Archive.UseSSL,
		})
		if err != nil {
			appLogger.Fatal("Failed to create MinIO client", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := minioClient.EnsureBucket(ctx); err != nil {
			appLogger.Warn("Audio archive unavailable, continuing without it", zap.Error(err))
		} else {
			archive = minioClient
		}
		cancel()
	}

	retryPolicy := retry.DefaultPolicy()
	retryPolicy.MaxAttempts = cfg.Jobs.MaxAttempts

	queue := jobs.NewQueue(store, webhookClient, jobs.Config{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		TTL:       cfg.Jobs.TTL(),
		Retry:     retryPolicy,
		Logger:    log,
		OnFinish:  handlers.OnJobFinish(history, log),
	})
	queue.Start()

	sched := scheduler.New(store, pruner, scheduler.Config{
		JobTTL:           cfg.Jobs.TTL(),
		JobPruneInterval: time.Duration(cfg.Jobs.PruneIntervalMinutes) * time.Minute,
		HistoryRetention: time.Duration(cfg.History.RetentionDays) * 24 * time.Hour,
		Logger:           log,
	})
	if err := sched.Start(); err != nil {
		appLogger.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Logger:               log,
		})
		defer limiter.Stop()
	}

	checkHandler := handlers.NewCheckHandler(webhookClient, queue, history, archive, handlers.CheckConfig{
		Mode: cfg.Webhook.Mode,
		Limits: audio.Limits{
			Min: cfg.Upload.MinDuration(),
			Max: cfg.Upload.MaxDuration(),
		},
		EnforceDuration: cfg.Upload.EnforceDuration,
		MaxUploadBytes:  cfg.Upload.MaxSizeBytes,
		Logger:          log,
	})

	app := api.NewApp(cfg.Server)
	api.RegisterRoutes(app, cfg.Server, api.Deps{
		Check:       checkHandler,
		Status:      handlers.NewStatusHandler(store, cfg.Jobs.MockStatus, log),
		History:     historyHandler,
		WebSocket:   handlers.NewWebSocketHandler(store, time.Second, cfg.Webhook.Timeout()+time.Minute),
		System:      handlers.NewSystemHandler(webhookClient.BreakerState, checks...),
		RateLimiter: limiter,
		WebhookURL:  cfg.Webhook.URL,
		Logger:      log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Webhook.Timeout())
	defer cancel()
	if err := queue.Stop(ctx); err != nil {
		appLogger.Warn("Job queue did not drain before shutdown", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
