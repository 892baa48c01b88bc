// Package ratelimit enforces per-tenant token budgets at the gateway edge.
// This is distinct from the per-provider admission gate in internal/provider,
// which bounds in-flight vendor calls.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter with a
// Redis-backed sliding window.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultTPM int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(defaultTPM)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

// Allow reports whether the tenant may spend the given number of tokens in
// the current window.
func (l *Limiter) Allow(ctx context.Context, tenantID string, tokens int) (bool, error) {
	res, err := l.store.AllowN(ctx, tenantKey(tenantID), tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, tenantID string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, tenantKey(tenantID))
}

func tenantKey(tenantID string) string {
	return fmt.Sprintf("llm-engine:ratelimit:tenant:%s", tenantID)
}
