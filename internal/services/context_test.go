package services_test

import (
	"context"
	"testing"

	"fourcat/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, 42)
	ctx = services.WithJobType(ctx, "count-tokens")
	ctx = services.WithDatasetKey(ctx, "abc123")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if jobType, ok := services.JobTypeFromContext(ctx); !ok || jobType != "count-tokens" {
		t.Fatalf("unexpected job type: %v %v", jobType, ok)
	}
	if key, ok := services.DatasetKeyFromContext(ctx); !ok || key != "abc123" {
		t.Fatalf("unexpected dataset key: %v %v", key, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobType(ctx, "")
	ctx = services.WithDatasetKey(ctx, "")
	if _, ok := services.JobTypeFromContext(ctx); ok {
		t.Fatal("expected no job type value")
	}
	if _, ok := services.DatasetKeyFromContext(ctx); ok {
		t.Fatal("expected no dataset key value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
}
