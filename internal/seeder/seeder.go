// Package seeder provisions a development API key so the gateway is callable
// out of the box. Gated behind RUN_SEED=true in main.
package seeder

import (
	"context"

	"go.uber.org/zap"

	"github.com/vnmchuo/llm-engine/internal/auth"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
)

func SeedTestAPIKey(ctx context.Context, store auth.Store, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := &auth.APIKey{
		TenantID:  TestTenantID,
		KeyHash:   auth.HashKey(TestAPIKey),
		RateLimit: 1000000,
		Active:    true,
	}

	if err := store.Create(ctx, apiKey); err != nil {
		logger.Info("seed key may already exist, skipping", zap.Error(err))
		return
	}
	logger.Info("test API key created",
		zap.String("key", TestAPIKey),
		zap.String("tenant_id", TestTenantID),
	)
}
