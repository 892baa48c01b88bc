package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs; tests can stub it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO usage_records (tenant_id, request_id, provider, model, input_tokens, output_tokens, total_tokens, cost_usd, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		rec.TenantID, rec.RequestID, string(rec.Provider), rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens, rec.CostUSD, rec.LatencyMs,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, tenant_id, request_id, provider, model, input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, created_at
		FROM usage_records
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.RequestID, &rec.Provider, &rec.Model,
			&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &rec.CostUSD, &rec.LatencyMs, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) TotalCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total float64
	if err := s.db.QueryRow(ctx, query, tenantID, from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum usage cost: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) CostByProvider(ctx context.Context, tenantID string, from, to time.Time) (map[string]float64, error) {
	query := `
		SELECT provider, COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
		GROUP BY provider
	`
	rows, err := s.db.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost by provider: %w", err)
	}
	defer rows.Close()

	costs := make(map[string]float64)
	for rows.Next() {
		var name string
		var cost float64
		if err := rows.Scan(&name, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan provider cost: %w", err)
		}
		costs[name] = cost
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider costs: %w", err)
	}
	return costs, nil
}
