// Package usage persists the normalized cost and latency telemetry produced
// by provider calls.
package usage

import (
	"context"
	"time"

	"github.com/vnmchuo/llm-engine/internal/provider"
)

// Record is one generate call's telemetry, as normalized by the provider
// layer.
type Record struct {
	ID           string
	TenantID     string
	RequestID    string
	Provider     provider.Kind
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	LatencyMs    int64
	CreatedAt    time.Time
}

// FromResponse builds a Record from a successful provider response.
func FromResponse(tenantID, requestID string, resp *provider.Response) *Record {
	return &Record{
		TenantID:     tenantID,
		RequestID:    requestID,
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.TotalTokens,
		CostUSD:      resp.CostUSD,
		LatencyMs:    resp.LatencyMs,
	}
}

type Store interface {
	Insert(ctx context.Context, rec *Record) error
	ByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error)
	TotalCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
	CostByProvider(ctx context.Context, tenantID string, from, to time.Time) (map[string]float64, error)
}
