package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordingTracer builds a tracer over an in-memory span recorder so tests
// can inspect what the helpers emit.
func recordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, rec
}

func attrValue(span sdktrace.ReadOnlySpan, key string) string {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestStartTurn(t *testing.T) {
	tr, rec := recordingTracer(t)

	_, span := tr.StartTurn(context.Background(), "sess-1", "openai", "gpt-4o")
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := ended[0]
	if got.Name() != "turn" {
		t.Errorf("span name = %q, want %q", got.Name(), "turn")
	}
	if v := attrValue(got, "session.id"); v != "sess-1" {
		t.Errorf("session.id = %q, want %q", v, "sess-1")
	}
	if v := attrValue(got, "llm.provider"); v != "openai" {
		t.Errorf("llm.provider = %q, want %q", v, "openai")
	}
	if v := attrValue(got, "llm.model"); v != "gpt-4o" {
		t.Errorf("llm.model = %q, want %q", v, "gpt-4o")
	}
}

func TestStartProviderRequest(t *testing.T) {
	tr, rec := recordingTracer(t)

	_, span := tr.StartProviderRequest(context.Background(), "anthropic", "claude-sonnet-4-20250514")
	span.End()

	got := rec.Ended()[0]
	if got.Name() != "llm.anthropic" {
		t.Errorf("span name = %q, want %q", got.Name(), "llm.anthropic")
	}
	if got.SpanKind() != trace.SpanKindClient {
		t.Errorf("span kind = %v, want client", got.SpanKind())
	}
}

func TestStartToolExecution(t *testing.T) {
	tr, rec := recordingTracer(t)

	_, span := tr.StartToolExecution(context.Background(), "run_shell")
	span.End()

	got := rec.Ended()[0]
	if got.Name() != "tool.run_shell" {
		t.Errorf("span name = %q, want %q", got.Name(), "tool.run_shell")
	}
	if v := attrValue(got, "tool.name"); v != "run_shell" {
		t.Errorf("tool.name = %q, want %q", v, "run_shell")
	}
}

func TestSpanNesting(t *testing.T) {
	tr, rec := recordingTracer(t)

	ctx, turnSpan := tr.StartTurn(context.Background(), "sess-1", "openai", "gpt-4o")
	_, toolSpan := tr.StartToolExecution(ctx, "resolve_target")
	toolSpan.End()
	turnSpan.End()

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	child, parent := ended[0], ended[1]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Errorf("tool span parent = %s, want turn span %s",
			child.Parent().SpanID(), parent.SpanContext().SpanID())
	}
}

func TestEndRecordsError(t *testing.T) {
	tr, rec := recordingTracer(t)

	_, span := tr.Start(context.Background(), "op")
	End(span, errors.New("stream reset"))

	got := rec.Ended()[0]
	if got.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", got.Status().Code)
	}
	if got.Status().Description != "stream reset" {
		t.Errorf("status description = %q, want %q", got.Status().Description, "stream reset")
	}
	if len(got.Events()) == 0 {
		t.Error("expected an exception event on the span")
	}
}

func TestEndWithoutError(t *testing.T) {
	tr, rec := recordingTracer(t)

	_, span := tr.Start(context.Background(), "op")
	End(span, nil)

	got := rec.Ended()[0]
	if got.Status().Code == codes.Error {
		t.Errorf("status = %v, want unset", got.Status().Code)
	}
}

func TestNopTracer(t *testing.T) {
	tr := Nop()

	_, span := tr.StartTurn(context.Background(), "sess-1", "openai", "gpt-4o")
	if span.IsRecording() {
		t.Error("no-op span is recording")
	}
	End(span, errors.New("ignored"))

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewWithoutEndpoint(t *testing.T) {
	tr, err := New(context.Background(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, span := tr.Start(context.Background(), "op")
	if span.IsRecording() {
		t.Error("span is recording without an endpoint")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNilTracerShutdown(t *testing.T) {
	var tr *Tracer
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
