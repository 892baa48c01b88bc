// Package openai implements the provider contract for the OpenAI chat
// completions API.
package openai

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
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4-turbo-preview"
	apiKeyEnv      = "OPENAI_API_KEY"
)

// Pricing per 1M tokens as of October 2024.
var prices = provider.PriceTable{
	Models: map[string]provider.Pricing{
		"gpt-4-turbo":         {Input: 10.0 / 1_000_000, Output: 30.0 / 1_000_000},
		"gpt-4-turbo-preview": {Input: 10.0 / 1_000_000, Output: 30.0 / 1_000_000},
		"gpt-4":               {Input: 30.0 / 1_000_000, Output: 60.0 / 1_000_000},
		"gpt-4-0125-preview":  {Input: 10.0 / 1_000_000, Output: 30.0 / 1_000_000},
		"gpt-4o":              {Input: 5.0 / 1_000_000, Output: 15.0 / 1_000_000},
		"gpt-3.5-turbo":       {Input: 0.50 / 1_000_000, Output: 1.50 / 1_000_000},
		"gpt-3.5-turbo-0125":  {Input: 0.50 / 1_000_000, Output: 1.50 / 1_000_000},
	},
	// Unknown models bill at the GPT-4 Turbo tier.
	Default: provider.Pricing{Input: 10.0 / 1_000_000, Output: 30.0 / 1_000_000},
}

type Provider struct {
	apiKey       string
	baseURL      string
	organization string
	model        string
	exec         *provider.Executor
	client       *http.Client
	logger       *zap.Logger
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	TopP        float64         `json:"top_p"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// New constructs an OpenAI adapter. It fails when no credential resolves from
// the config or the OPENAI_API_KEY environment variable.
func New(cfg provider.Config) (*Provider, error) {
	cfg = cfg.WithDefaults()
	key, err := cfg.ResolveCredential(apiKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	p := &Provider{
		apiKey:       key,
		baseURL:      cfg.BaseURL,
		organization: cfg.Organization,
		model:        cfg.DefaultModel,
		exec:         provider.NewExecutor(provider.KindOpenAI, cfg),
		client:       http.DefaultClient,
		logger:       cfg.Logger,
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if p.model == "" {
		p.model = defaultModel
	}

	p.logger.Info("openai provider initialized",
		zap.String("base_url", p.baseURL),
		zap.Bool("has_org", p.organization != ""),
		zap.String("default_model", p.model),
	)
	return p, nil
}

func (p *Provider) Kind() provider.Kind { return provider.KindOpenAI }

func (p *Provider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if verr := req.Validate(); verr != nil {
		verr.Provider = provider.KindOpenAI
		return nil, verr
	}

	model := req.ModelOverride
	if model == "" {
		model = p.model
	}

	messages := make([]openAIMessage, 0, 2)
	if req.SystemMessage != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemMessage})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, err
	}

	return p.exec.Do(ctx, req.Timeout, func(ctx context.Context) (*provider.Response, error) {
		return p.attempt(ctx, model, body)
	})
}

// attempt issues exactly one POST to /chat/completions and classifies any
// failure.
func (p *Provider) attempt(ctx context.Context, model string, body []byte) (*provider.Response, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", p.organization)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		perr := provider.ClassifyHTTP(provider.KindOpenAI, resp.StatusCode, string(raw), provider.RetryAfterHint(resp.Header))
		perr.Model = model
		p.logger.Error("openai api error",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(perr.Kind)),
			zap.String("model", model),
		)
		return nil, perr
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, &provider.Error{
			Provider: provider.KindOpenAI,
			Kind:     provider.ErrUnclassified,
			Message:  "api returned no choices",
			Model:    model,
		}
	}

	latency := time.Since(start).Milliseconds()
	totalTokens := out.Usage.TotalTokens
	if totalTokens == 0 {
		totalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}
	cost := prices.Cost(out.Usage.PromptTokens, out.Usage.CompletionTokens, model)

	p.logger.Info("openai generate succeeded",
		zap.String("model", model),
		zap.Int("tokens", totalTokens),
		zap.Float64("cost_usd", cost),
		zap.Int64("latency_ms", latency),
	)

	return &provider.Response{
		Content:      out.Choices[0].Message.Content,
		Model:        model,
		Provider:     provider.KindOpenAI,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		TotalTokens:  totalTokens,
		CostUSD:      cost,
		LatencyMs:    latency,
		FinishReason: out.Choices[0].FinishReason,
		Metadata: map[string]any{
			"id": out.ID,
			"usage": map[string]int{
				"prompt_tokens":     out.Usage.PromptTokens,
				"completion_tokens": out.Usage.CompletionTokens,
				"total_tokens":      out.Usage.TotalTokens,
			},
		},
	}, nil
}

// HealthCheck validates the credential shape without a round trip.
func (p *Provider) HealthCheck(_ context.Context) bool {
	if !strings.HasPrefix(p.apiKey, "sk-") {
		p.logger.Warn("openai api key has unexpected format")
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
