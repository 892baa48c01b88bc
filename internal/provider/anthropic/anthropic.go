// Package anthropic implements the provider contract for the Anthropic
// Messages API.
package anthropic

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
	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultModel      = "claude-3-5-sonnet-20241022"
	apiKeyEnv         = "ANTHROPIC_API_KEY"
)

// Pricing per 1M tokens as of October 2024.
var prices = provider.PriceTable{
	Models: map[string]provider.Pricing{
		"claude-3-5-sonnet-20241022": {Input: 3.0 / 1_000_000, Output: 15.0 / 1_000_000},
		"claude-3-5-haiku-20241022":  {Input: 1.0 / 1_000_000, Output: 5.0 / 1_000_000},
		"claude-3-opus-20240229":     {Input: 15.0 / 1_000_000, Output: 75.0 / 1_000_000},
		"claude-3-sonnet-20240229":   {Input: 3.0 / 1_000_000, Output: 15.0 / 1_000_000},
		"claude-3-haiku-20240307":    {Input: 0.25 / 1_000_000, Output: 1.25 / 1_000_000},
	},
	// Unknown models bill at the Sonnet tier.
	Default: provider.Pricing{Input: 3.0 / 1_000_000, Output: 15.0 / 1_000_000},
}

type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	exec       *provider.Executor
	client     *http.Client
	logger     *zap.Logger
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// New constructs an Anthropic adapter. It fails when no credential resolves
// from the config or the ANTHROPIC_API_KEY environment variable.
func New(cfg provider.Config) (*Provider, error) {
	cfg = cfg.WithDefaults()
	key, err := cfg.ResolveCredential(apiKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	p := &Provider{
		apiKey:     key,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.DefaultModel,
		exec:       provider.NewExecutor(provider.KindAnthropic, cfg),
		client:     http.DefaultClient,
		logger:     cfg.Logger,
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if p.apiVersion == "" {
		p.apiVersion = defaultAPIVersion
	}
	if p.model == "" {
		p.model = defaultModel
	}

	p.logger.Info("anthropic provider initialized",
		zap.String("base_url", p.baseURL),
		zap.String("api_version", p.apiVersion),
		zap.String("default_model", p.model),
	)
	return p, nil
}

func (p *Provider) Kind() provider.Kind { return provider.KindAnthropic }

func (p *Provider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if verr := req.Validate(); verr != nil {
		verr.Provider = provider.KindAnthropic
		return nil, verr
	}

	model := req.ModelOverride
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		System:      req.SystemMessage,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, err
	}

	return p.exec.Do(ctx, req.Timeout, func(ctx context.Context) (*provider.Response, error) {
		return p.attempt(ctx, model, body)
	})
}

// attempt issues exactly one POST to /v1/messages and classifies any failure.
func (p *Provider) attempt(ctx context.Context, model string, body []byte) (*provider.Response, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		perr := provider.ClassifyHTTP(provider.KindAnthropic, resp.StatusCode, string(raw), provider.RetryAfterHint(resp.Header))
		perr.Model = model
		p.logger.Error("anthropic api error",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(perr.Kind)),
			zap.String("model", model),
		)
		return nil, perr
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	latency := time.Since(start).Milliseconds()
	totalTokens := out.Usage.InputTokens + out.Usage.OutputTokens
	cost := prices.Cost(out.Usage.InputTokens, out.Usage.OutputTokens, model)

	p.logger.Info("anthropic generate succeeded",
		zap.String("model", model),
		zap.Int("tokens", totalTokens),
		zap.Float64("cost_usd", cost),
		zap.Int64("latency_ms", latency),
	)

	return &provider.Response{
		Content:      content.String(),
		Model:        model,
		Provider:     provider.KindAnthropic,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		TotalTokens:  totalTokens,
		CostUSD:      cost,
		LatencyMs:    latency,
		FinishReason: out.StopReason,
		Metadata: map[string]any{
			"id":          out.ID,
			"stop_reason": out.StopReason,
			"usage": map[string]int{
				"input_tokens":  out.Usage.InputTokens,
				"output_tokens": out.Usage.OutputTokens,
			},
		},
	}, nil
}

// HealthCheck validates the credential shape without a round trip.
func (p *Provider) HealthCheck(_ context.Context) bool {
	if !strings.HasPrefix(p.apiKey, "sk-ant-") {
		p.logger.Warn("anthropic api key has unexpected format")
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
