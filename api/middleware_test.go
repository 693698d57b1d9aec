package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"taskboard/observability"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
	})
	return exporter
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestGzipRequestMiddleware(t *testing.T) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write([]byte(`{"status":"todo"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/", &compressed)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var body string
	handler := GzipRequestMiddleware()(func(c echo.Context) error {
		raw, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		body = string(raw)
		if c.Request().Header.Get(echo.HeaderContentEncoding) != "" {
			t.Fatalf("expected content encoding to be removed")
		}
		return c.NoContent(http.StatusNoContent)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if body != `{"status":"todo"}` {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestGzipRequestMiddlewareRejectsInvalidBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain text"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	c := e.NewContext(req, httptest.NewRecorder())

	err := GzipRequestMiddleware()(func(c echo.Context) error {
		t.Fatalf("handler should not run")
		return nil
	})(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
}

func TestObserveRecordsRequest(t *testing.T) {
	exporter := setupTestTracer(t)
	logger, hook := test.NewNullLogger()

	e := echo.New()
	g := e.Group("/api", Observe(logger))
	g.GET("/tasks", func(c echo.Context) error {
		c.Set(userIDKey, "user-1")
		return c.NoContent(http.StatusOK)
	})
	g.GET("/broken", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "store down")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "GET /api/tasks" {
		t.Fatalf("unexpected spans: %#v", spans)
	}
	if len(spans[0].Events) != 1 || spans[0].Events[0].Name != observability.EventMessage {
		t.Fatalf("expected observability event, got %#v", spans[0].Events)
	}
	attrs := attributesToMap(spans[0].Events[0].Attributes)
	if attrs["event.name"] != requestEventName || attrs["http.status_code"] != int64(http.StatusOK) || attrs["taskboard.user_id"] != "user-1" {
		t.Fatalf("unexpected event attributes: %#v", attrs)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != observability.EventMessage || entry.Level != log.InfoLevel {
		t.Fatalf("unexpected log entry: %#v", entry)
	}

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/broken", nil))
	entry = hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel || entry.Data["severity_number"] != 17 {
		t.Fatalf("expected error entry for 502, got %#v", entry)
	}
}

func TestInstrumentExposesMetrics(t *testing.T) {
	e := echo.New()
	Instrument(e, prometheus.NewRegistry())
	e.GET("/healthz", healthz)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "taskboard_http_requests_total") {
		t.Fatalf("expected request counter in metrics output:\n%s", body)
	}
}
