package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
	})
	return tp, exporter
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestRecordLogsAndAddsSpanEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter := newTracer(t)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	Record(span, logger, Event{
		Name:       "tasks.mutation",
		Domain:     "taskboard",
		Attributes: map[string]any{"taskboard.mutation.kind": "status", "taskboard.mutation.items": 2},
	})
	span.End()

	entry := hook.LastEntry()
	if entry == nil || entry.Message != EventMessage {
		t.Fatalf("expected observability event, got %#v", entry)
	}
	if entry.Level != log.InfoLevel || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v %v", entry.Level, entry.Data["severity_number"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace id, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Ok {
		t.Fatalf("expected Ok status, got %v", spans[0].Status.Code)
	}
	if len(spans[0].Events) != 1 || spans[0].Events[0].Name != EventMessage {
		t.Fatalf("expected one observability event, got %#v", spans[0].Events)
	}
	attrs := attributesToMap(spans[0].Events[0].Attributes)
	if attrs["event.name"] != "tasks.mutation" || attrs["taskboard.mutation.kind"] != "status" {
		t.Fatalf("unexpected event attributes: %#v", attrs)
	}
}

func TestRecordErrorMarksSpan(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter := newTracer(t)
	boom := errors.New("store down")

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	Record(span, logger, Event{Name: "tasks.mutation", Domain: "taskboard", Err: boom})
	span.End()

	if hook.LastEntry().Level != log.ErrorLevel {
		t.Fatalf("expected error level, got %v", hook.LastEntry().Level)
	}
	got := exporter.GetSpans()[0]
	if got.Status.Code != codes.Error || got.Status.Description != boom.Error() {
		t.Fatalf("unexpected span status: %#v", got.Status)
	}
	attrs := attributesToMap(got.Events[len(got.Events)-1].Attributes)
	if attrs["error.message"] != boom.Error() {
		t.Fatalf("expected error.message attribute, got %#v", attrs)
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "warn", status: http.StatusBadRequest, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusBadGateway, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", err: errors.New("x"), wantText: "ERROR", wantNumber: 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, number := Severity(tt.status, tt.err)
			if text != tt.wantText || number != tt.wantNumber {
				t.Fatalf("Severity(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, text, number, tt.wantText, tt.wantNumber)
			}
		})
	}
}
