package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrorKind tags a classified provider failure. The set is closed; a
// higher-level manager keys its fallback decisions off these tags.
type ErrorKind string

const (
	ErrRateLimited           ErrorKind = "rate_limited"
	ErrQuotaExceeded         ErrorKind = "quota_exceeded"
	ErrModelNotFound         ErrorKind = "model_not_found"
	ErrAuthenticationFailed  ErrorKind = "authentication_failed"
	ErrProviderUnavailable   ErrorKind = "provider_unavailable"
	ErrContentFiltered       ErrorKind = "content_filtered"
	ErrContextLengthExceeded ErrorKind = "context_length_exceeded"
	ErrInvalidRequest        ErrorKind = "invalid_request"
	ErrTimedOut              ErrorKind = "timed_out"
	ErrUnclassified          ErrorKind = "unclassified"
)

// Error is a classified provider failure. It is a plain value constructed at
// the point of classification and propagated to the caller unchanged.
type Error struct {
	Provider Kind
	Kind     ErrorKind
	Message  string

	// Status is the originating HTTP status code, 0 for transport-level
	// failures.
	Status int

	// Kind-specific attributes.
	RetryAfter  time.Duration // rate_limited
	Parameter   string        // invalid_request
	Timeout     time.Duration // timed_out
	Model       string
	InputLength int    // context_length_exceeded
	MaxLength   int    // context_length_exceeded
	Reason      string // content_filtered

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		fmt.Fprintf(&b, "%s: ", e.Provider)
	}
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (http %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: ...}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the same call may succeed on a later attempt.
// Authentication, quota, content-filter, context-length, model-not-found and
// invalid-request failures are deterministic for the same input and are
// never retried.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrRateLimited, ErrProviderUnavailable, ErrTimedOut, ErrUnclassified:
		return true
	}
	return false
}

// KindOf extracts the taxonomy kind from any error, or empty when err does
// not carry one.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

const maxBodySnippet = 512

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > maxBodySnippet {
		return body[:maxBodySnippet]
	}
	return body
}

// Markers some vendors put in error bodies when the status code alone is
// ambiguous. The quota check is a deliberate best-effort heuristic.
func quotaMarker(body string) bool {
	return strings.Contains(strings.ToLower(body), "quota")
}

func contextMarker(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context window") ||
		strings.Contains(lower, "maximum context")
}

// ClassifyHTTP maps a non-200 vendor response to a taxonomy kind. It is a
// pure function of (status, body) plus the retry-after hint and is shared by
// every adapter.
func ClassifyHTTP(provider Kind, status int, body string, retryAfter time.Duration) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{
			Provider: provider,
			Kind:     ErrAuthenticationFailed,
			Status:   status,
			Message:  "authentication failed, check API key or credentials",
		}
	case status == http.StatusTooManyRequests:
		msg := "rate limit exceeded"
		if retryAfter > 0 {
			msg = fmt.Sprintf("rate limit exceeded, retry after %s", retryAfter)
		}
		return &Error{
			Provider:   provider,
			Kind:       ErrRateLimited,
			Status:     status,
			RetryAfter: retryAfter,
			Message:    msg,
		}
	case status == http.StatusPaymentRequired || quotaMarker(body):
		return &Error{
			Provider: provider,
			Kind:     ErrQuotaExceeded,
			Status:   status,
			Message:  "quota exceeded, add credits or increase limits",
		}
	case status == http.StatusNotFound:
		return &Error{
			Provider: provider,
			Kind:     ErrModelNotFound,
			Status:   status,
			Message:  "model not found on this provider",
		}
	case status == http.StatusBadRequest:
		if contextMarker(body) {
			return &Error{
				Provider: provider,
				Kind:     ErrContextLengthExceeded,
				Status:   status,
				Message:  snippet(body),
			}
		}
		return &Error{
			Provider:  provider,
			Kind:      ErrInvalidRequest,
			Status:    status,
			Parameter: "unknown",
			Message:   snippet(body),
		}
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		return &Error{
			Provider: provider,
			Kind:     ErrProviderUnavailable,
			Status:   status,
			Message:  "provider is unavailable or unreachable",
		}
	default:
		return &Error{
			Provider: provider,
			Kind:     ErrUnclassified,
			Status:   status,
			Message:  fmt.Sprintf("unexpected http %d: %s", status, snippet(body)),
		}
	}
}

// ClassifyTransport maps a failed round trip (no HTTP status available) to a
// taxonomy kind. Deadline hits become timed_out; everything else, including
// caller cancellation, stays unclassified with the cause wrapped so callers
// can still errors.Is against context.Canceled.
func ClassifyTransport(provider Kind, err error, timeout time.Duration) *Error {
	var uerr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &uerr) && uerr.Timeout()) {
		return &Error{
			Provider: provider,
			Kind:     ErrTimedOut,
			Timeout:  timeout,
			Message:  fmt.Sprintf("request timed out after %s", timeout),
			Err:      err,
		}
	}
	return &Error{
		Provider: provider,
		Kind:     ErrUnclassified,
		Message:  "transport failure",
		Err:      err,
	}
}

// RetryAfterHint parses a Retry-After header expressed in seconds.
func RetryAfterHint(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
