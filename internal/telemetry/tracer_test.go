package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestNew_NoEndpointReturnsNoopTracer(t *testing.T) {
	tracer, shutdown, err := New(context.Background(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	defer shutdown(context.Background())

	if tracer.tracer == nil {
		t.Fatal("expected a usable no-op tracer")
	}
	if tracer.provider != nil {
		t.Error("expected no provider when Endpoint is empty")
	}
}

func TestStartRound_ReturnsNonNilSpan(t *testing.T) {
	tracer, shutdown, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer shutdown(context.Background())

	_, span := tracer.StartRound(context.Background(), "sess1", 0)
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
}

func TestStartProviderRequest_ReturnsNonNilSpan(t *testing.T) {
	tracer, shutdown, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer shutdown(context.Background())

	_, span := tracer.StartProviderRequest(context.Background(), "anthropic", "claude")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
}

func TestRecordError_NilErrorIsNoop(t *testing.T) {
	tracer, shutdown, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer shutdown(context.Background())

	_, span := tracer.StartToolExecution(context.Background(), "search")
	defer span.End()
	tracer.RecordError(span, nil)
	tracer.RecordError(span, errors.New("boom"))
}
