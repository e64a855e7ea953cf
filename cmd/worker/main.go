package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"talentflex/internal/analysis"
	"talentflex/internal/config"
	"talentflex/internal/database"
	"talentflex/internal/events"
	"talentflex/internal/lifecycle"
	"talentflex/internal/logger"
	"talentflex/internal/metrics"
	"talentflex/internal/storage"
	"talentflex/internal/tasks"
	"talentflex/internal/worker"
)

func main() {
	cfg := config.MustLoad()
	appLogger := logger.New(cfg.Log)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			appLogger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	engine, err := analysis.FromConfig(cfg.Analysis)
	if err != nil {
		log.Fatalf("init analysis engine: %v", err)
	}

	svc := lifecycle.NewService(db, engine, lifecycle.Options{
		Publisher:       events.NewRedisPublisher(redisClient),
		Objects:         storageClient,
		AnalysisTimeout: cfg.Analysis.Timeout,
		Logger:          appLogger,
	})

	// 超过一次分析超时加上重试余量仍停留在 processing 的申请视为 worker 崩溃遗留。
	maxAge := 2*cfg.Analysis.Timeout + time.Minute

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			tasks.QueueAnalysis: 6,
			"default":           1,
		},
		Logger: newAsynqLogger(appLogger),
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeAnalyzeApplication, worker.NewAnalysisTaskHandler(svc, appLogger))
	mux.Handle(tasks.TypeExpireAnalyses, worker.NewExpireTaskHandler(svc, maxAge, appLogger))

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: newAsynqLogger(appLogger)})
	expireTask, err := tasks.NewExpireTask(maxAge)
	if err != nil {
		log.Fatalf("build expire task: %v", err)
	}
	schedule := "@every " + cfg.Worker.ExpireInterval.String()
	if _, err := scheduler.Register(schedule, expireTask); err != nil {
		log.Fatalf("register expire task: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		server.Shutdown()
		return nil
	})
	g.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		scheduler.Shutdown()
		return nil
	})

	appLogger.Info("worker service started",
		slog.String("redis_addr", redisAddr),
		slog.String("expire_schedule", schedule),
		slog.Duration("stale_after", maxAge),
	)
	if err := g.Wait(); err != nil {
		appLogger.Error("worker stopped", slog.Any("error", err))
	}
}
