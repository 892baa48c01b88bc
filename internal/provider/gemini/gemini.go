// Package gemini implements the provider contract for the Google Gemini
// generateContent API. When the request metadata carries a thinking budget,
// generation goes through a second path that adds a thinkingConfig block to
// the payload.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/llm-engine/internal/provider"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash"
	apiKeyEnv      = "GEMINI_API_KEY"

	// Metadata key callers set to opt into thinking mode. The value is the
	// token budget: -1 dynamic, 0 disabled, 1..24576 fixed.
	thinkingBudgetKey = "thinking_budget"
)

// Free-tier pricing. Paid tiers exist (flash $0.075/$0.30 per 1M, pro
// $1.25/$5.00 per 1M) but the direct API bills nothing today.
var prices = provider.PriceTable{
	Models: map[string]provider.Pricing{
		"gemini-2.5-flash": {},
		"gemini-2.5-pro":   {},
	},
	Default: provider.Pricing{},
}

type Provider struct {
	apiKey  string
	baseURL string
	model   string
	exec    *provider.Executor
	client  *http.Client
	logger  *zap.Logger
}

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64         `json:"temperature"`
	MaxOutputTokens int             `json:"maxOutputTokens"`
	TopP            float64         `json:"topP"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *promptFeedback   `json:"promptFeedback,omitempty"`
	UsageMetadata  geminiUsage       `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
}

// New constructs a Gemini adapter. It fails when no credential resolves from
// the config or the GEMINI_API_KEY environment variable.
func New(cfg provider.Config) (*Provider, error) {
	cfg = cfg.WithDefaults()
	key, err := cfg.ResolveCredential(apiKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	p := &Provider{
		apiKey:  key,
		baseURL: cfg.BaseURL,
		model:   cfg.DefaultModel,
		exec:    provider.NewExecutor(provider.KindGemini, cfg),
		client:  http.DefaultClient,
		logger:  cfg.Logger,
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if p.model == "" {
		p.model = defaultModel
	}

	p.logger.Info("gemini provider initialized",
		zap.String("base_url", p.baseURL),
		zap.String("default_model", p.model),
	)
	return p, nil
}

func (p *Provider) Kind() provider.Kind { return provider.KindGemini }

func (p *Provider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if verr := req.Validate(); verr != nil {
		verr.Provider = provider.KindGemini
		return nil, verr
	}

	model := req.ModelOverride
	if model == "" {
		model = p.model
	}
	// Model listings return "models/gemini-..."; the generate endpoint
	// wants the bare name.
	model = strings.TrimPrefix(model, "models/")

	if budget, ok := thinkingBudget(req); ok {
		return p.generateThinking(ctx, req, model, budget)
	}
	return p.generate(ctx, req, model, nil)
}

// generateThinking is the capability-gated second path: same endpoint, same
// response shape, plus a thinkingConfig block and budget bookkeeping in the
// response metadata.
func (p *Provider) generateThinking(ctx context.Context, req *provider.Request, model string, budget int) (*provider.Response, error) {
	p.logger.Info("gemini thinking mode requested",
		zap.String("model", model),
		zap.Int("thinking_budget", budget),
	)
	resp, err := p.generate(ctx, req, model, &thinkingConfig{ThinkingBudget: budget})
	if err != nil {
		return nil, err
	}
	resp.Metadata["thinking_mode"] = true
	resp.Metadata["thinking_budget"] = budget
	return resp, nil
}

func (p *Provider) generate(ctx context.Context, req *provider.Request, model string, thinking *thinkingConfig) (*provider.Response, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
			ThinkingConfig:  thinking,
		},
	}
	if req.SystemMessage != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemMessage}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return p.exec.Do(ctx, req.Timeout, func(ctx context.Context) (*provider.Response, error) {
		return p.attempt(ctx, model, body)
	})
}

// attempt issues exactly one POST to :generateContent and classifies any
// failure, including vendor-side safety blocks.
func (p *Provider) attempt(ctx context.Context, model string, body []byte) (*provider.Response, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		perr := provider.ClassifyHTTP(provider.KindGemini, resp.StatusCode, string(raw), provider.RetryAfterHint(resp.Header))
		perr.Model = model
		p.logger.Error("gemini api error",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(perr.Kind)),
			zap.String("model", model),
		)
		return nil, perr
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	if perr := safetyBlock(&out, model); perr != nil {
		p.logger.Warn("gemini rejected content", zap.String("reason", perr.Reason))
		return nil, perr
	}

	var content string
	finishReason := "STOP"
	if len(out.Candidates) > 0 {
		candidate := out.Candidates[0]
		if len(candidate.Content.Parts) > 0 {
			content = candidate.Content.Parts[0].Text
		}
		if candidate.FinishReason != "" {
			finishReason = candidate.FinishReason
		}
	}

	latency := time.Since(start).Milliseconds()
	usage := out.UsageMetadata
	totalTokens := usage.TotalTokenCount
	if totalTokens == 0 {
		totalTokens = usage.PromptTokenCount + usage.CandidatesTokenCount
	}
	cost := prices.Cost(usage.PromptTokenCount, usage.CandidatesTokenCount, model)

	p.logger.Info("gemini generate succeeded",
		zap.String("model", model),
		zap.Int("tokens", totalTokens),
		zap.Float64("cost_usd", cost),
		zap.Int64("latency_ms", latency),
	)

	return &provider.Response{
		Content:      content,
		Model:        model,
		Provider:     provider.KindGemini,
		InputTokens:  usage.PromptTokenCount,
		OutputTokens: usage.CandidatesTokenCount,
		TotalTokens:  totalTokens,
		CostUSD:      cost,
		LatencyMs:    latency,
		FinishReason: finishReason,
		Metadata: map[string]any{
			"prompt_tokens":     usage.PromptTokenCount,
			"completion_tokens": usage.CandidatesTokenCount,
			"thoughts_tokens":   usage.ThoughtsTokenCount,
			"finish_reason":     finishReason,
		},
	}, nil
}

// safetyBlock turns a vendor-side safety rejection into a content_filtered
// error. A blocked call is a classified failure, never a Response.
func safetyBlock(out *geminiResponse, model string) *provider.Error {
	reason := ""
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		reason = out.PromptFeedback.BlockReason
	} else if len(out.Candidates) > 0 && out.Candidates[0].FinishReason == "SAFETY" {
		reason = "SAFETY"
	}
	if reason == "" {
		return nil
	}
	return &provider.Error{
		Provider: provider.KindGemini,
		Kind:     provider.ErrContentFiltered,
		Model:    model,
		Reason:   reason,
		Message:  fmt.Sprintf("content filtered: %s", reason),
	}
}

// thinkingBudget reads the metadata hint, tolerating the numeric types a
// decoded JSON map may carry.
func thinkingBudget(req *provider.Request) (int, bool) {
	if req.Metadata == nil {
		return 0, false
	}
	switch v := req.Metadata[thinkingBudgetKey].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// HealthCheck performs a tiny round trip; the direct API has no cheaper
// probe. It never returns an error, only false.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	probe := provider.NewRequest("ping")
	probe.MaxTokens = 1
	probe.Temperature = 0.1
	probe.Timeout = 10 * time.Second

	if _, err := p.Generate(ctx, probe); err != nil {
		p.logger.Warn("gemini health check failed", zap.Error(err))
		return false
	}
	return true
}

func (p *Provider) CostPerToken(model string) provider.Pricing {
	return prices.PerToken(model)
}

func (p *Provider) ComputeCost(inputTokens, outputTokens int, model string) float64 {
	return prices.Cost(inputTokens, outputTokens, model)
}

func (p *Provider) Models() []string {
	return prices.ModelList()
}
