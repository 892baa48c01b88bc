package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/llm-engine/internal/auth"
	"github.com/vnmchuo/llm-engine/internal/provider"
	"github.com/vnmchuo/llm-engine/internal/router"
	"github.com/vnmchuo/llm-engine/internal/usage"
	"github.com/vnmchuo/llm-engine/pkg/ratelimit"
)

type fakeProvider struct {
	kind provider.Kind
	resp *provider.Response
	err  error
}

func (f *fakeProvider) Kind() provider.Kind { return f.kind }

func (f *fakeProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) bool { return true }

func (f *fakeProvider) CostPerToken(model string) provider.Pricing { return provider.Pricing{} }

func (f *fakeProvider) ComputeCost(in, out int, model string) float64 { return 0 }

func (f *fakeProvider) Models() []string { return []string{"test-model"} }

type fakeUsageStore struct {
	mu      sync.Mutex
	records []*usage.Record
}

func (s *fakeUsageStore) Insert(ctx context.Context, rec *usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeUsageStore) ByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, nil
}

func (s *fakeUsageStore) TotalCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	return 0.05, nil
}

func (s *fakeUsageStore) CostByProvider(ctx context.Context, tenantID string, from, to time.Time) (map[string]float64, error) {
	return map[string]float64{"openai": 0.05}, nil
}

type fakeLimiterStore struct {
	allowed bool
}

func (m *fakeLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, nil
}

func (m *fakeLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, nil
}

func (m *fakeLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, nil
}

func setupTest(providers []provider.Provider, limiterAllowed bool) (*Handler, *fakeUsageStore, *usage.Recorder) {
	store := &fakeUsageStore{}
	recorder := usage.NewRecorder(store, nil)
	limiter := ratelimit.NewTestLimiter(&fakeLimiterStore{allowed: limiterAllowed})
	tracer := noop.NewTracerProvider().Tracer("test")
	h := NewHandler(router.New(nil, providers...), store, recorder, limiter, tracer, nil)
	return h, store, recorder
}

func authed(req *http.Request) *http.Request {
	ctx := auth.WithTenantID(req.Context(), "test-tenant")
	ctx = auth.WithRequestID(ctx, "req-1")
	return req.WithContext(ctx)
}

func TestHandleGenerateUnauthorized(t *testing.T) {
	h, _, rec := setupTest(nil, true)
	defer rec.Close()

	req := httptest.NewRequest("POST", "/v1/generate", nil)
	w := httptest.NewRecorder()
	h.HandleGenerate(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleGenerateInvalidBody(t *testing.T) {
	h, _, rec := setupTest(nil, true)
	defer rec.Close()

	req := authed(httptest.NewRequest("POST", "/v1/generate", strings.NewReader(`{broken`)))
	w := httptest.NewRecorder()
	h.HandleGenerate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleGenerateRateLimited(t *testing.T) {
	h, _, rec := setupTest(nil, false)
	defer rec.Close()

	body, _ := json.Marshal(map[string]string{"prompt": "hi"})
	req := authed(httptest.NewRequest("POST", "/v1/generate", bytes.NewReader(body)))
	w := httptest.NewRecorder()
	h.HandleGenerate(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
	}
}

func TestHandleGenerateSuccess(t *testing.T) {
	p := &fakeProvider{
		kind: provider.KindOpenAI,
		resp: &provider.Response{
			Content:      "hello back",
			Model:        "gpt-4o",
			Provider:     provider.KindOpenAI,
			InputTokens:  10,
			OutputTokens: 20,
			TotalTokens:  30,
			CostUSD:      0.00035,
			LatencyMs:    12,
			FinishReason: "stop",
		},
	}
	h, store, rec := setupTest([]provider.Provider{p}, true)

	body, _ := json.Marshal(map[string]any{"prompt": "hi", "system": "be nice"})
	req := authed(httptest.NewRequest("POST", "/v1/generate", bytes.NewReader(body)))
	w := httptest.NewRecorder()
	h.HandleGenerate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if resp["content"] != "hello back" {
		t.Errorf("Expected content, got %v", resp["content"])
	}
	if resp["provider"] != "openai" {
		t.Errorf("Expected provider openai, got %v", resp["provider"])
	}
	if resp["id"] != "req-1" {
		t.Errorf("Expected request id req-1, got %v", resp["id"])
	}
	usageBlock, ok := resp["usage"].(map[string]any)
	if !ok || usageBlock["total_tokens"] != float64(30) {
		t.Errorf("Unexpected usage block: %v", resp["usage"])
	}

	rec.Close()
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.records) != 1 {
		t.Fatalf("Expected 1 usage record, got %d", len(store.records))
	}
	if store.records[0].TenantID != "test-tenant" || store.records[0].CostUSD != 0.00035 {
		t.Errorf("Unexpected usage record: %+v", store.records[0])
	}
}

func TestHandleGenerateProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *provider.Error
		wantStatus int
	}{
		{"rate limited", &provider.Error{Kind: provider.ErrRateLimited, RetryAfter: 5 * time.Second}, 429},
		{"quota", &provider.Error{Kind: provider.ErrQuotaExceeded}, 402},
		{"model not found", &provider.Error{Kind: provider.ErrModelNotFound}, 404},
		{"content filtered", &provider.Error{Kind: provider.ErrContentFiltered}, 422},
		{"context length", &provider.Error{Kind: provider.ErrContextLengthExceeded}, 413},
		{"timed out", &provider.Error{Kind: provider.ErrTimedOut}, 504},
		{"auth failed upstream", &provider.Error{Kind: provider.ErrAuthenticationFailed}, 502},
		{"unavailable", &provider.Error{Kind: provider.ErrProviderUnavailable}, 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{kind: provider.KindOpenAI, err: tt.err}
			h, _, rec := setupTest([]provider.Provider{p}, true)
			defer rec.Close()

			body, _ := json.Marshal(map[string]string{"prompt": "hi"})
			req := authed(httptest.NewRequest("POST", "/v1/generate", bytes.NewReader(body)))
			w := httptest.NewRecorder()
			h.HandleGenerate(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestHandleGenerateRateLimitedSetsRetryAfter(t *testing.T) {
	p := &fakeProvider{
		kind: provider.KindOpenAI,
		err:  &provider.Error{Kind: provider.ErrRateLimited, RetryAfter: 5 * time.Second},
	}
	h, _, rec := setupTest([]provider.Provider{p}, true)
	defer rec.Close()

	body, _ := json.Marshal(map[string]string{"prompt": "hi"})
	req := authed(httptest.NewRequest("POST", "/v1/generate", bytes.NewReader(body)))
	w := httptest.NewRecorder()
	h.HandleGenerate(w, req)

	if w.Header().Get("Retry-After") != "5" {
		t.Errorf("Expected Retry-After 5, got %q", w.Header().Get("Retry-After"))
	}
}

func TestHandleUsage(t *testing.T) {
	h, store, rec := setupTest(nil, true)
	defer rec.Close()
	store.records = []*usage.Record{{TenantID: "test-tenant", CostUSD: 0.05}}

	req := authed(httptest.NewRequest("GET", "/v1/usage", nil))
	w := httptest.NewRecorder()
	h.HandleUsage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["total_requests"] != float64(1) {
		t.Errorf("Expected 1 request, got %v", resp["total_requests"])
	}
	if resp["total_cost_usd"] != 0.05 {
		t.Errorf("Expected total cost 0.05, got %v", resp["total_cost_usd"])
	}
}

func TestHandleUsageRejectsBadDates(t *testing.T) {
	h, _, rec := setupTest(nil, true)
	defer rec.Close()

	req := authed(httptest.NewRequest("GET", "/v1/usage?from=yesterday", nil))
	w := httptest.NewRecorder()
	h.HandleUsage(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleProviders(t *testing.T) {
	p := &fakeProvider{kind: provider.KindGemini}
	h, _, rec := setupTest([]provider.Provider{p}, true)
	defer rec.Close()

	req := authed(httptest.NewRequest("GET", "/v1/providers", nil))
	w := httptest.NewRecorder()
	h.HandleProviders(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Providers []struct {
			Kind    string   `json:"kind"`
			Healthy bool     `json:"healthy"`
			Models  []string `json:"models"`
		} `json:"providers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(resp.Providers) != 1 || resp.Providers[0].Kind != "gemini" || !resp.Providers[0].Healthy {
		t.Errorf("Unexpected providers payload: %+v", resp.Providers)
	}
}
