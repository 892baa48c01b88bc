// Package gateway is the thin HTTP shell over the provider layer: one
// generate endpoint, usage reporting, and provider health.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-engine/internal/auth"
	"github.com/vnmchuo/llm-engine/internal/provider"
	"github.com/vnmchuo/llm-engine/internal/router"
	"github.com/vnmchuo/llm-engine/internal/usage"
	"github.com/vnmchuo/llm-engine/pkg/ratelimit"
)

type Handler struct {
	router   *router.Router
	store    usage.Store
	recorder *usage.Recorder
	limiter  *ratelimit.Limiter
	tracer   trace.Tracer
	logger   *zap.Logger
}

func NewHandler(r *router.Router, store usage.Store, recorder *usage.Recorder, limiter *ratelimit.Limiter, tracer trace.Tracer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		router:   r,
		store:    store,
		recorder: recorder,
		limiter:  limiter,
		tracer:   tracer,
		logger:   logger,
	}
}

type generateRequest struct {
	Prompt         string         `json:"prompt"`
	System         string         `json:"system,omitempty"`
	Model          string         `json:"model,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	TopP           *float64       `json:"top_p,omitempty"`
	MaxTokens      *int           `json:"max_tokens,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (g *generateRequest) toProviderRequest() *provider.Request {
	req := provider.NewRequest(g.Prompt)
	req.SystemMessage = g.System
	req.ModelOverride = g.Model
	req.Metadata = g.Metadata
	if g.Temperature != nil {
		req.Temperature = *g.Temperature
	}
	if g.TopP != nil {
		req.TopP = *g.TopP
	}
	if g.MaxTokens != nil {
		req.MaxTokens = *g.MaxTokens
	}
	if g.TimeoutSeconds > 0 {
		req.Timeout = time.Duration(g.TimeoutSeconds) * time.Second
	}
	return req
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := body.toProviderRequest()

	ctx, span := h.tracer.Start(ctx, "gateway.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("request_id", requestID),
		attribute.String("model", req.ModelOverride),
	)

	estimatedTokens := req.MaxTokens
	if estimatedTokens <= 0 {
		estimatedTokens = 1000
	}
	allowed, err := h.limiter.Allow(ctx, tenantID, estimatedTokens)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	resp, err := h.router.Generate(ctx, req)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	h.recorder.Record(usage.FromResponse(tenantID, requestID, resp))

	writeJSON(w, http.StatusOK, map[string]any{
		"id":            requestID,
		"content":       resp.Content,
		"model":         resp.Model,
		"provider":      resp.Provider,
		"finish_reason": resp.FinishReason,
		"usage": map[string]int{
			"prompt_tokens":     resp.InputTokens,
			"completion_tokens": resp.OutputTokens,
			"total_tokens":      resp.TotalTokens,
		},
		"cost_usd":   resp.CostUSD,
		"latency_ms": resp.LatencyMs,
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := time.Now()
	from, to := now.AddDate(0, 0, -30), now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
		to = t
	}

	records, err := h.store.ByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totalCost, err := h.store.TotalCost(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byProvider, err := h.store.CostByProvider(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":        tenantID,
		"total_requests":   len(records),
		"total_cost_usd":   totalCost,
		"cost_by_provider": byProvider,
		"records":          records,
		"from":             from,
		"to":               to,
	})
}

func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	status := h.router.Health(r.Context())

	providers := make([]map[string]any, 0, len(status))
	for _, p := range h.router.Providers() {
		providers = append(providers, map[string]any{
			"kind":    p.Kind(),
			"healthy": status[p.Kind()],
			"models":  p.Models(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// writeProviderError maps a taxonomy kind onto the status code and body the
// gateway's own clients see.
func (h *Handler) writeProviderError(w http.ResponseWriter, err error) {
	var perr *provider.Error
	if !errors.As(err, &perr) {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	status := http.StatusBadGateway
	switch perr.Kind {
	case provider.ErrRateLimited:
		status = http.StatusTooManyRequests
		if perr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(perr.RetryAfter/time.Second)))
		}
	case provider.ErrQuotaExceeded:
		status = http.StatusPaymentRequired
	case provider.ErrModelNotFound:
		status = http.StatusNotFound
	case provider.ErrInvalidRequest:
		status = http.StatusBadRequest
	case provider.ErrContentFiltered:
		status = http.StatusUnprocessableEntity
	case provider.ErrContextLengthExceeded:
		status = http.StatusRequestEntityTooLarge
	case provider.ErrTimedOut:
		status = http.StatusGatewayTimeout
	case provider.ErrAuthenticationFailed, provider.ErrProviderUnavailable, provider.ErrUnclassified:
		status = http.StatusBadGateway
	}

	h.logger.Warn("generate failed",
		zap.String("provider", string(perr.Provider)),
		zap.String("kind", string(perr.Kind)),
		zap.Int("status", status),
	)
	writeJSON(w, status, map[string]any{
		"error":    perr.Message,
		"kind":     perr.Kind,
		"provider": perr.Provider,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
