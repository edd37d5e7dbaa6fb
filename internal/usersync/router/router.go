package router

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"usersync/internal/usersync/handler"
)

// NewEcho returns an echo instance with recovery and request logging.
func NewEcho(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))
	return e
}

// RegisterRoutes wires the status surface. registry may be nil, in which case
// /metrics is not served.
func RegisterRoutes(e *echo.Echo, h *handler.StatusHandler, registry *prometheus.Registry) {
	e.Use(handler.RequestIDMiddleware)

	// Health Check
	e.GET("/health", handler.HealthCheck)
	e.GET("/status", h.GetStatus)

	if registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
}
