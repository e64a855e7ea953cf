package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"talentflex/internal/analysis"
	"talentflex/internal/api"
	"talentflex/internal/auth"
	"talentflex/internal/config"
	"talentflex/internal/database"
	"talentflex/internal/events"
	"talentflex/internal/lifecycle"
	"talentflex/internal/logger"
	"talentflex/internal/scanner"
	"talentflex/internal/storage"
)

func main() {
	cfg := config.MustLoad()
	appLogger := logger.New(cfg.Log)
	log.Printf("api bootstrapped with db host=%s port=%d db=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	log.Printf("database migrated")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			appLogger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	fileScanner := scanner.New(cfg.Clamd.Addr)
	if clamd, ok := fileScanner.(*scanner.ClamdScanner); ok {
		if err := clamd.Ping(); err != nil {
			appLogger.Warn("clamd not reachable, uploads will fail until it is", slog.String("addr", cfg.Clamd.Addr), slog.Any("error", err))
		}
	}

	engine, err := analysis.FromConfig(cfg.Analysis)
	if err != nil {
		log.Fatalf("init analysis engine: %v", err)
	}

	authService, err := auth.NewFromConfig(cfg.Auth)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	svc := lifecycle.NewService(db, engine, lifecycle.Options{
		Publisher:       events.NewRedisPublisher(redisClient),
		Objects:         storageClient,
		AnalysisTimeout: cfg.Analysis.Timeout,
		Logger:          appLogger,
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	handler := api.NewHandler(svc, storageClient, fileScanner, asynqClient, redisClient, appLogger, api.HandlerConfig{
		PublicBaseURL:      cfg.API.PublicBaseURL,
		AnalysisTimeout:    cfg.Analysis.Timeout,
		MaxAnalysesPerHour: cfg.Analysis.MaxPerHour,
	})
	wsHandler := api.NewWsHandler(redisClient, svc, authService, appLogger, cfg.API.AllowedOrigins)

	router := api.NewRouter(appLogger, cfg.API.MetricsSecret)
	api.RegisterRoutes(router, handler, wsHandler, authService)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		appLogger.Info("api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("api server shutdown failed", slog.Any("error", err))
	}
}
