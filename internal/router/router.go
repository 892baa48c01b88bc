// Package router fans a generate call out over a preference-ordered list of
// providers, using the error taxonomy to decide when falling through to the
// next backend is worthwhile.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-engine/internal/provider"
)

// Router holds providers in fallback preference order. A circuit breaker per
// provider takes repeatedly failing backends out of rotation.
type Router struct {
	providers []provider.Provider
	breakers  map[provider.Kind]*gobreaker.CircuitBreaker
	logger    *zap.Logger
}

func New(logger *zap.Logger, providers ...provider.Provider) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	breakers := make(map[provider.Kind]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Kind()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(p.Kind()),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &Router{
		providers: providers,
		breakers:  breakers,
		logger:    logger,
	}
}

// Providers returns the configured backends in preference order.
func (r *Router) Providers() []provider.Provider {
	return r.providers
}

// Generate tries each eligible provider in order until one succeeds. A
// provider is eligible when its breaker is not open and, if the request pins
// a model, the model is in its pricing table. Errors whose kind means the
// same input fails everywhere (invalid request) stop the fallback chain.
func (r *Router) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	candidates := r.eligible(req.ModelOverride)
	if len(candidates) == 0 {
		return nil, &provider.Error{
			Kind:    provider.ErrProviderUnavailable,
			Message: "no provider available for this request",
			Model:   req.ModelOverride,
		}
	}

	var lastErr error
	for _, p := range candidates {
		cb := r.breakers[p.Kind()]
		result, err := cb.Execute(func() (interface{}, error) {
			return p.Generate(ctx, req)
		})
		if err == nil {
			return result.(*provider.Response), nil
		}
		lastErr = err

		if !fallThrough(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("provider failed, falling back",
			zap.String("provider", string(p.Kind())),
			zap.String("kind", string(provider.KindOf(err))),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// Health probes every configured provider.
func (r *Router) Health(ctx context.Context) map[provider.Kind]bool {
	status := make(map[provider.Kind]bool, len(r.providers))
	for _, p := range r.providers {
		status[p.Kind()] = p.HealthCheck(ctx)
	}
	return status
}

func (r *Router) eligible(model string) []provider.Provider {
	var candidates []provider.Provider
	for _, p := range r.providers {
		if r.breakers[p.Kind()].State() == gobreaker.StateOpen {
			continue
		}
		if model == "" || supports(p, model) {
			candidates = append(candidates, p)
		}
	}
	return candidates
}

func supports(p provider.Provider, model string) bool {
	for _, m := range p.Models() {
		if m == model {
			return true
		}
	}
	return false
}

// fallThrough reports whether another provider might succeed where this one
// failed. Malformed requests fail identically everywhere; everything else,
// including an open breaker, is worth one more try elsewhere.
func fallThrough(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return provider.KindOf(err) != provider.ErrInvalidRequest
}
