package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Executor wraps an adapter's transport call with bounded concurrency,
// per-attempt timeout enforcement, and exponential retry. One Executor is
// owned by one adapter instance; the admission gate is the only state shared
// between concurrent calls.
type Executor struct {
	provider   Kind
	maxTries   uint
	baseDelay  time.Duration
	maxDelay   time.Duration
	timeout    time.Duration
	gate       *semaphore.Weighted
	logger     *zap.Logger
}

// NewExecutor builds an executor for one adapter instance from its config.
func NewExecutor(kind Kind, cfg Config) *Executor {
	cfg = cfg.WithDefaults()
	return &Executor{
		provider:  kind,
		maxTries:  uint(cfg.MaxRetries),
		baseDelay: cfg.RetryBaseDelay,
		maxDelay:  cfg.RetryMaxDelay,
		timeout:   cfg.Timeout,
		gate:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:    cfg.Logger,
	}
}

// Do runs one logical generate call: it waits for an admission slot, then
// drives op through the retry loop. op receives a context carrying the
// per-attempt deadline and must return either a full Response or a classified
// error. Non-retryable kinds propagate on the first occurrence; exhausting
// the attempt budget propagates the last classified error unchanged. The
// admission slot is released on every exit path.
func (e *Executor) Do(ctx context.Context, timeout time.Duration, op func(ctx context.Context) (*Response, error)) (*Response, error) {
	if err := e.gate.Acquire(ctx, 1); err != nil {
		return nil, e.abort(ctx, err, timeout)
	}
	defer e.gate.Release(1)

	if timeout <= 0 {
		timeout = e.timeout
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     e.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         e.maxDelay,
	}

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := op(attemptCtx)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			// The caller gave up; stop burning attempts.
			return nil, backoff.Permanent(e.abort(ctx, err, timeout))
		}
		perr := e.classify(err, timeout)
		if !perr.Retryable() {
			return nil, backoff.Permanent(perr)
		}
		e.logger.Warn("provider call failed, will retry",
			zap.String("provider", string(e.provider)),
			zap.Int("attempt", attempt),
			zap.String("kind", string(perr.Kind)),
			zap.Error(perr),
		)
		return nil, perr
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(e.maxTries),
	)
	if err == nil {
		return resp, nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return nil, perr
	}
	// Cancellation during a backoff wait surfaces the raw context error.
	return nil, e.abort(ctx, err, timeout)
}

// classify normalizes an attempt failure into a taxonomy error, stamping the
// provider on errors the adapter left unattributed.
func (e *Executor) classify(err error, timeout time.Duration) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Provider == "" {
			perr.Provider = e.provider
		}
		return perr
	}
	return ClassifyTransport(e.provider, err, timeout)
}

// abort converts a caller-driven shutdown (deadline or cancellation) into the
// error surfaced to the caller.
func (e *Executor) abort(ctx context.Context, cause error, timeout time.Duration) *Error {
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{
			Provider: e.provider,
			Kind:     ErrTimedOut,
			Timeout:  timeout,
			Message:  "call deadline exceeded",
			Err:      cause,
		}
	}
	return &Error{
		Provider: e.provider,
		Kind:     ErrUnclassified,
		Message:  "call canceled",
		Err:      cause,
	}
}
