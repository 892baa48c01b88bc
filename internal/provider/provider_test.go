package provider

import (
	"errors"
	"testing"
	"time"
)

func TestNewRequestDefaults(t *testing.T) {
	req := NewRequest("hello")

	if req.Prompt != "hello" {
		t.Errorf("Expected prompt 'hello', got %q", req.Prompt)
	}
	if req.Temperature != DefaultTemperature {
		t.Errorf("Expected temperature %g, got %g", DefaultTemperature, req.Temperature)
	}
	if req.TopP != DefaultTopP {
		t.Errorf("Expected top_p %g, got %g", DefaultTopP, req.TopP)
	}
	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("Expected max tokens %d, got %d", DefaultMaxTokens, req.MaxTokens)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Request)
		wantParam string
	}{
		{"valid defaults", func(r *Request) {}, ""},
		{"temperature zero", func(r *Request) { r.Temperature = 0 }, ""},
		{"temperature two", func(r *Request) { r.Temperature = 2 }, ""},
		{"empty prompt", func(r *Request) { r.Prompt = "" }, "prompt"},
		{"temperature negative", func(r *Request) { r.Temperature = -0.1 }, "temperature"},
		{"temperature too high", func(r *Request) { r.Temperature = 2.5 }, "temperature"},
		{"zero max tokens", func(r *Request) { r.MaxTokens = 0 }, "max_tokens"},
		{"negative max tokens", func(r *Request) { r.MaxTokens = -5 }, "max_tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest("hello")
			tt.mutate(req)

			err := req.Validate()
			if tt.wantParam == "" {
				if err != nil {
					t.Fatalf("Expected valid request, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if err.Kind != ErrInvalidRequest {
				t.Errorf("Expected kind %s, got %s", ErrInvalidRequest, err.Kind)
			}
			if err.Parameter != tt.wantParam {
				t.Errorf("Expected parameter %q, got %q", tt.wantParam, err.Parameter)
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	if cfg.Timeout != 60*time.Second {
		t.Errorf("Expected 60s timeout, got %s", cfg.Timeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", cfg.MaxRetries)
	}
	if cfg.RetryBaseDelay != time.Second {
		t.Errorf("Expected 1s base delay, got %s", cfg.RetryBaseDelay)
	}
	if cfg.RetryMaxDelay != 30*time.Second {
		t.Errorf("Expected 30s max delay, got %s", cfg.RetryMaxDelay)
	}
	if cfg.MaxConcurrent != 8 {
		t.Errorf("Expected 8 concurrent, got %d", cfg.MaxConcurrent)
	}
	if cfg.Logger == nil {
		t.Error("Expected non-nil logger")
	}
}

func TestConfigWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Timeout:       5 * time.Second,
		MaxRetries:    1,
		MaxConcurrent: 2,
	}.WithDefaults()

	if cfg.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %s", cfg.Timeout)
	}
	if cfg.MaxRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", cfg.MaxRetries)
	}
	if cfg.MaxConcurrent != 2 {
		t.Errorf("Expected 2 concurrent, got %d", cfg.MaxConcurrent)
	}
}

func TestResolveCredential(t *testing.T) {
	t.Run("explicit key wins", func(t *testing.T) {
		t.Setenv("TEST_DEFAULT_KEY", "from-env")
		key, err := Config{APIKey: "explicit"}.ResolveCredential("TEST_DEFAULT_KEY")
		if err != nil {
			t.Fatalf("ResolveCredential failed: %v", err)
		}
		if key != "explicit" {
			t.Errorf("Expected explicit key, got %q", key)
		}
	})

	t.Run("configured env var", func(t *testing.T) {
		t.Setenv("TEST_CUSTOM_KEY", "from-custom-env")
		key, err := Config{APIKeyEnv: "TEST_CUSTOM_KEY"}.ResolveCredential("TEST_DEFAULT_KEY")
		if err != nil {
			t.Fatalf("ResolveCredential failed: %v", err)
		}
		if key != "from-custom-env" {
			t.Errorf("Expected custom env key, got %q", key)
		}
	})

	t.Run("default env var", func(t *testing.T) {
		t.Setenv("TEST_DEFAULT_KEY", "from-default-env")
		key, err := Config{}.ResolveCredential("TEST_DEFAULT_KEY")
		if err != nil {
			t.Fatalf("ResolveCredential failed: %v", err)
		}
		if key != "from-default-env" {
			t.Errorf("Expected default env key, got %q", key)
		}
	})

	t.Run("nothing resolves", func(t *testing.T) {
		t.Setenv("TEST_DEFAULT_KEY", "")
		_, err := Config{}.ResolveCredential("TEST_DEFAULT_KEY")
		if !errors.Is(err, ErrMissingCredential) {
			t.Errorf("Expected ErrMissingCredential, got %v", err)
		}
	})
}
