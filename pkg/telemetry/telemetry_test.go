package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func TestInstrumentedOperation(t *testing.T) {
	sr := recordSpans(t)
	m := NewMetrics()

	err := InstrumentedOperation(context.Background(), m, "reconstruct", func(ctx context.Context) error {
		AddSpanEvent(ctx, "parsed", attribute.Int("events", 3))
		m.AddEvents(3)
		return nil
	}, attribute.String("run", "r1"))
	if err != nil {
		t.Fatalf("InstrumentedOperation: %v", err)
	}

	boom := errors.New("boom")
	if err := InstrumentedOperation(context.Background(), m, "fetch", func(context.Context) error { return boom }); err != boom {
		t.Errorf("err = %v, want boom", err)
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "reconstruct" || len(spans[0].Events()) != 1 {
		t.Errorf("first span = %s with %d events", spans[0].Name(), len(spans[0].Events()))
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("status = %v, want error", spans[1].Status().Code)
	}

	s := m.Summary()
	if s.EventsParsed != 3 || s.Errors != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSampler(t *testing.T) {
	if sampler(1).Description() != sdktrace.AlwaysSample().Description() {
		t.Error("ratio 1 should always sample")
	}
	if sampler(0).Description() != sdktrace.NeverSample().Description() {
		t.Error("ratio 0 should never sample")
	}
}
