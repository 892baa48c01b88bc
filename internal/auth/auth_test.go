package auth

import (
	"context"
	"testing"
)

func TestHashKeyDeterministic(t *testing.T) {
	a := HashKey("test-api-key-12345")
	b := HashKey("test-api-key-12345")
	if a != b {
		t.Error("Expected identical digests for identical keys")
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(a))
	}
	if a == HashKey("another-key") {
		t.Error("Expected different digests for different keys")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if GetTenantID(ctx) != "" || GetRequestID(ctx) != "" {
		t.Error("Expected empty IDs on a bare context")
	}

	ctx = WithTenantID(ctx, "tenant-1")
	ctx = WithRequestID(ctx, "req-1")
	if GetTenantID(ctx) != "tenant-1" {
		t.Errorf("Expected tenant-1, got %q", GetTenantID(ctx))
	}
	if GetRequestID(ctx) != "req-1" {
		t.Errorf("Expected req-1, got %q", GetRequestID(ctx))
	}
}
