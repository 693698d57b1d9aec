package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Instrument records request metrics into reg and serves reg on /metrics.
func Instrument(e *echo.Echo, reg *prometheus.Registry) {
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "taskboard_http",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/api/stream"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))
}
