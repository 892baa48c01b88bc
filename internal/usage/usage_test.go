package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vnmchuo/llm-engine/internal/provider"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []*Record
	insertErr error
}

func (s *fakeStore) Insert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) ByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error) {
	return nil, nil
}

func (s *fakeStore) TotalCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	return 0, nil
}

func (s *fakeStore) CostByProvider(ctx context.Context, tenantID string, from, to time.Time) (map[string]float64, error) {
	return nil, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestFromResponse(t *testing.T) {
	resp := &provider.Response{
		Content:      "hello",
		Model:        "gpt-4o",
		Provider:     provider.KindOpenAI,
		InputTokens:  100,
		OutputTokens: 50,
		TotalTokens:  150,
		CostUSD:      0.00125,
		LatencyMs:    420,
	}

	rec := FromResponse("tenant-1", "req-1", resp)

	if rec.TenantID != "tenant-1" || rec.RequestID != "req-1" {
		t.Errorf("Unexpected identifiers: %s/%s", rec.TenantID, rec.RequestID)
	}
	if rec.Provider != provider.KindOpenAI || rec.Model != "gpt-4o" {
		t.Errorf("Unexpected provenance: %s/%s", rec.Provider, rec.Model)
	}
	if rec.InputTokens != 100 || rec.OutputTokens != 50 || rec.TotalTokens != 150 {
		t.Errorf("Unexpected token counts: %d/%d/%d", rec.InputTokens, rec.OutputTokens, rec.TotalTokens)
	}
	if rec.CostUSD != 0.00125 {
		t.Errorf("Expected cost 0.00125, got %g", rec.CostUSD)
	}
	if rec.LatencyMs != 420 {
		t.Errorf("Expected latency 420, got %d", rec.LatencyMs)
	}
}

func TestRecorderDrainsOnClose(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, nil)

	for i := 0; i < 10; i++ {
		rec.Record(&Record{TenantID: "tenant-1", RequestID: "req"})
	}
	rec.Close()

	if got := store.count(); got != 10 {
		t.Errorf("Expected 10 persisted records, got %d", got)
	}
}

func TestRecorderSurvivesStoreFailures(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("db down")}
	rec := NewRecorder(store, nil)

	rec.Record(&Record{TenantID: "tenant-1", RequestID: "req-1"})
	rec.Close()
	// No panic and Close returns: a failing store must not wedge the writer.
}
