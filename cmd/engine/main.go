package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-engine/config"
	"github.com/vnmchuo/llm-engine/internal/auth"
	"github.com/vnmchuo/llm-engine/internal/gateway"
	"github.com/vnmchuo/llm-engine/internal/provider"
	"github.com/vnmchuo/llm-engine/internal/provider/anthropic"
	"github.com/vnmchuo/llm-engine/internal/provider/gemini"
	"github.com/vnmchuo/llm-engine/internal/provider/openai"
	"github.com/vnmchuo/llm-engine/internal/router"
	"github.com/vnmchuo/llm-engine/internal/seeder"
	"github.com/vnmchuo/llm-engine/internal/telemetry"
	"github.com/vnmchuo/llm-engine/internal/usage"
	"github.com/vnmchuo/llm-engine/pkg/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracer, err := telemetry.InitTracer("llm-engine", cfg.OTELExporterType, cfg.OTELExporterEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	logger.Info("postgres connected")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	logger.Info("redis connected")

	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb, logger)

	usageStore := usage.NewPostgresStore(pool)
	recorder := usage.NewRecorder(usageStore, logger)
	defer recorder.Close()

	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)

	providers := buildProviders(cfg, logger)
	if len(providers) == 0 {
		logger.Fatal("no provider credentials configured")
	}
	engineRouter := router.New(logger, providers...)

	tracer := otel.GetTracerProvider().Tracer("llm-engine")
	handler := gateway.NewHandler(engineRouter, usageStore, recorder, limiter, tracer, logger)

	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore, logger)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-engine"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/generate", handler.HandleGenerate)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Get("/v1/providers", handler.HandleProviders)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("llm-engine starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// buildProviders registers every vendor with a resolvable credential. A
// vendor with no key is skipped, not fatal; New itself fails on a missing
// credential so a half-configured adapter can never exist.
func buildProviders(cfg *config.Config, logger *zap.Logger) []provider.Provider {
	shared := provider.Config{
		Timeout:       cfg.ProviderTimeout,
		MaxRetries:    cfg.ProviderMaxRetries,
		MaxConcurrent: cfg.ProviderMaxConcurrent,
		Logger:        logger,
	}

	var providers []provider.Provider

	geminiCfg := shared
	geminiCfg.APIKey = cfg.GeminiAPIKey
	if p, err := gemini.New(geminiCfg); err != nil {
		logger.Warn("gemini provider not registered", zap.Error(err))
	} else {
		providers = append(providers, p)
	}

	openaiCfg := shared
	openaiCfg.APIKey = cfg.OpenAIAPIKey
	if p, err := openai.New(openaiCfg); err != nil {
		logger.Warn("openai provider not registered", zap.Error(err))
	} else {
		providers = append(providers, p)
	}

	anthropicCfg := shared
	anthropicCfg.APIKey = cfg.AnthropicAPIKey
	if p, err := anthropic.New(anthropicCfg); err != nil {
		logger.Warn("anthropic provider not registered", zap.Error(err))
	} else {
		providers = append(providers, p)
	}

	return providers
}
