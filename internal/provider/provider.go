// Package provider defines the vendor-agnostic contract for LLM backends:
// the unified request/response shapes, the classified error taxonomy, the
// per-vendor pricing tables, and the retry/concurrency executor that wraps
// every outbound call.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Kind identifies a vendor backend.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindGemini    Kind = "gemini"
)

// Request defaults, applied by NewRequest.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 2048
)

// Request is the unified input accepted by every adapter. Treat it as
// immutable once handed to Generate.
type Request struct {
	Prompt        string
	SystemMessage string
	Temperature   float64
	TopP          float64
	MaxTokens     int
	Stream        bool

	// Per-call overrides.
	ModelOverride string
	Timeout       time.Duration

	// Provider-specific hints, e.g. "thinking_budget" for Gemini.
	Metadata map[string]any
}

// NewRequest returns a Request with the shared sampling defaults filled in.
func NewRequest(prompt string) *Request {
	return &Request{
		Prompt:      prompt,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Validate checks the shared preconditions every adapter enforces before
// touching the network. It returns an invalid_request *Error so callers can
// rely on uniform validation semantics across vendors.
func (r *Request) Validate() *Error {
	switch {
	case r.Prompt == "":
		return &Error{
			Kind:      ErrInvalidRequest,
			Parameter: "prompt",
			Message:   "prompt cannot be empty",
		}
	case r.Temperature < 0 || r.Temperature > 2:
		return &Error{
			Kind:      ErrInvalidRequest,
			Parameter: "temperature",
			Message:   fmt.Sprintf("temperature must be between 0 and 2, got %g", r.Temperature),
		}
	case r.MaxTokens < 1:
		return &Error{
			Kind:      ErrInvalidRequest,
			Parameter: "max_tokens",
			Message:   fmt.Sprintf("max tokens must be at least 1, got %d", r.MaxTokens),
		}
	}
	return nil
}

// Response is the unified output produced by a successful vendor call.
// Failures never yield a partially-filled Response; they yield an *Error.
type Response struct {
	Content      string
	Model        string
	Provider     Kind
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	LatencyMs    int64
	FinishReason string
	Error        string
	Metadata     map[string]any
}

// Provider is implemented by every vendor adapter. Callers hold a Provider
// value and never a concrete adapter type, so backends are interchangeable.
type Provider interface {
	// Kind returns the stable vendor identifier. Pure, no I/O.
	Kind() Kind

	// Generate performs the vendor call. The request is validated first;
	// on any failure a classified *Error is returned, never an untyped one.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// HealthCheck is a cheap, non-authoritative liveness probe. It never
	// panics and reports false on any detectable problem.
	HealthCheck(ctx context.Context) bool

	// CostPerToken looks up the per-token price pair for a model, falling
	// back to the vendor's default tier for unknown models.
	CostPerToken(model string) Pricing

	// ComputeCost prices a token count against the model's tier, rounded
	// to six fractional digits.
	ComputeCost(inputTokens, outputTokens int, model string) float64

	// Models lists the model identifiers the adapter has pricing for.
	Models() []string
}

// ErrMissingCredential is returned by adapter constructors when no API key
// can be resolved; a provider without a credential must not be instantiable.
var ErrMissingCredential = errors.New("provider: missing API credential")

// Config carries the per-instance settings shared by all adapters. It is
// immutable after the adapter is constructed.
type Config struct {
	// APIKey is the explicit credential. When empty, APIKeyEnv (or the
	// vendor's default env var) is consulted instead.
	APIKey    string
	APIKeyEnv string

	BaseURL      string
	APIVersion   string
	Organization string
	DefaultModel string

	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxConcurrent  int

	Logger *zap.Logger
}

// WithDefaults fills the zero-valued knobs with the shared defaults.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// ResolveCredential applies the resolution order: explicit value, configured
// env var name, then the vendor's default env var name.
func (c Config) ResolveCredential(defaultEnv string) (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	env := c.APIKeyEnv
	if env == "" {
		env = defaultEnv
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w (set it explicitly or export %s)", ErrMissingCredential, env)
}
