package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taskboard/observability"
)

const (
	tracerName       = "taskboard/api"
	requestEventName = "http.request"
	eventDomain      = "taskboard"
	userIDKey        = "userID"
)

// GzipRequestMiddleware decompresses gzip-encoded request bodies. Invalid gzip
// payloads are rejected with 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !acceptsGzip(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			gr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = gzipBody{Reader: gr, raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func acceptsGzip(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (g gzipBody) Close() error {
	err := g.Reader.Close()
	if cerr := g.raw.Close(); err == nil {
		err = cerr
	}
	return err
}

// RequireUser lets a request through only when its bearer token belongs to
// the signed-in user.
func RequireUser(auth Authenticator, sess Session) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := auth.UserIDFromAuthHeader(authHeader(c))
			if err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
			u, ok := sess.Current()
			if !ok || u.ID != userID {
				return c.String(http.StatusUnauthorized, "user not signed in")
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// Observe wraps each request in a span and records it as an observability
// event once the handler returns.
func Observe(logger *log.Logger) echo.MiddlewareFunc {
	tracer := otel.Tracer(tracerName)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			route := c.Path()
			ctx, span := tracer.Start(req.Context(), req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			attrs := map[string]any{
				"http.method":                req.Method,
				"http.route":                 route,
				"http.status_code":           status,
				"taskboard.request.total_ms": float64(time.Since(start)) / float64(time.Millisecond),
			}
			if uid, ok := c.Get(userIDKey).(string); ok {
				attrs["taskboard.user_id"] = uid
			}
			observability.Record(span, logger, observability.Event{
				Name:       requestEventName,
				Domain:     eventDomain,
				Status:     status,
				Err:        err,
				Attributes: attrs,
			})
			return err
		}
	}
}
