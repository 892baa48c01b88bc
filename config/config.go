package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Storage
	PostgresDSN string
	RedisAddr   string

	// Provider credentials. A provider with no key is simply not
	// registered; the rest keep working.
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string

	// Provider resilience knobs, shared by all adapters.
	ProviderTimeout       time.Duration // default: 60s
	ProviderMaxRetries    int           // default: 3
	ProviderMaxConcurrent int           // default: 8

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Tenant rate limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	timeoutSecs, err := getEnvInt("PROVIDER_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.ProviderTimeout = time.Duration(timeoutSecs) * time.Second

	cfg.ProviderMaxRetries, err = getEnvInt("PROVIDER_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	cfg.ProviderMaxConcurrent, err = getEnvInt("PROVIDER_MAX_CONCURRENT", 8)
	if err != nil {
		return nil, err
	}

	tpm, err := getEnvInt("DEFAULT_RATE_LIMIT_TPM", 100000)
	if err != nil {
		return nil, err
	}
	cfg.DefaultRateLimitTPM = int64(tpm)

	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
