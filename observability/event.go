// Package observability emits structured events that are logged through logrus
// and mirrored onto the active OpenTelemetry span.
package observability

import (
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventMessage is the log message and span event name of every event.
const EventMessage = "observability.event"

// Event describes one finished unit of work.
type Event struct {
	Name       string
	Domain     string
	Status     int
	Err        error
	Attributes map[string]any
}

// Severity maps an HTTP-like status and error onto OpenTelemetry log severity.
func Severity(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	}
	return "INFO", 9
}

// Record logs ev and adds it to span, setting the span status from the outcome.
func Record(span trace.Span, logger *log.Logger, ev Event) {
	text, number := Severity(ev.Status, ev.Err)

	attrs := make(map[string]any, len(ev.Attributes)+1)
	for k, v := range ev.Attributes {
		attrs[k] = v
	}
	if ev.Err != nil {
		attrs["error.message"] = ev.Err.Error()
	}

	kvs := []attribute.KeyValue{
		attribute.String("event.name", ev.Name),
		attribute.String("event.domain", ev.Domain),
		attribute.String("severity_text", text),
		attribute.Int("severity_number", number),
	}
	kvs = append(kvs, toAttributes(attrs)...)

	traceID := ""
	if span != nil {
		span.SetAttributes(toAttributes(ev.Attributes)...)
		span.AddEvent(EventMessage, trace.WithAttributes(kvs...))
		if ev.Err != nil || number >= 17 {
			desc := http.StatusText(ev.Status)
			if ev.Err != nil {
				span.RecordError(ev.Err)
				desc = ev.Err.Error()
			}
			span.SetStatus(codes.Error, desc)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
	}

	if logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      ev.Name,
		"event.domain":    ev.Domain,
		"severity_text":   text,
		"severity_number": number,
		"trace_id":        traceID,
		"attributes":      attrs,
	}
	logger.WithFields(fields).Log(levelFor(number), EventMessage)
}

func levelFor(number int) log.Level {
	switch {
	case number >= 17:
		return log.ErrorLevel
	case number >= 13:
		return log.WarnLevel
	}
	return log.InfoLevel
}

func toAttributes(m map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case []string:
			out = append(out, attribute.StringSlice(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return out
}
