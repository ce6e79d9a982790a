package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/analysis"
	"github.com/virtual-therapist/backend/internal/api"
	"github.com/virtual-therapist/backend/internal/auth"
	"github.com/virtual-therapist/backend/internal/cache/redis"
	"github.com/virtual-therapist/backend/internal/gateway"
	"github.com/virtual-therapist/backend/internal/llm"
	"github.com/virtual-therapist/backend/internal/metrics"
	"github.com/virtual-therapist/backend/internal/middleware/ratelimit"
	"github.com/virtual-therapist/backend/internal/routing"
	"github.com/virtual-therapist/backend/internal/storage/sqlite"
	"github.com/virtual-therapist/backend/pkg/config"
	appLogger "github.com/virtual-therapist/backend/pkg/logger"
)

func main() {
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

	if err := cfg.Validate(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	appLogger.Info("Starting Virtual Therapist API Server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.Database.URL)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var opts []gateway.Option
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, analysis cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			opts = append(opts, gateway.WithCache(redisClient))
		}
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.Groq.APIKey,
		BaseURL:     cfg.Groq.BaseURL,
		Timeout:     time.Duration(cfg.Groq.TimeoutSec) * time.Second,
		MaxAttempts: cfg.Groq.MaxAttempts,
	})

	analysisClient := analysis.NewClient(cfg.Analysis.URL, time.Duration(cfg.Analysis.TimeoutSec)*time.Second)
	router := routing.NewRouter(llmClient)
	service := gateway.NewService(analysisClient, router, sqliteClient, opts...)
	authService := auth.NewService(sqliteClient, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer rateLimiter.Stop()

	app := api.NewApp(api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.IsDevelopment,
		BodyLimit:      cfg.Server.BodyLimit,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxTextLength:  cfg.Server.MaxTextLength,
		StaticDir:      cfg.Server.StaticDir,
		AccessLog:      cfg.Server.AccessLog,
	}, api.Deps{
		Analysis:    service,
		Patients:    sqliteClient,
		Auth:        authService,
		RateLimiter: rateLimiter,
		Ready:       sqliteClient.Ping,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting",
		zap.String("address", addr),
		zap.String("analysis_url", analysisClient.URL()),
		zap.Bool("cache_enabled", len(opts) > 0),
	)

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
