// Package http provides the HTTP server implementation for the assistant.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xiaot623/csassistant/internal/config"
	"github.com/xiaot623/csassistant/internal/hub"
	"github.com/xiaot623/csassistant/internal/metrics"
	"github.com/xiaot623/csassistant/internal/service"
	v1 "github.com/xiaot623/csassistant/internal/transport/http/v1"
	"github.com/xiaot623/csassistant/internal/transport/ws"
)

// NewServer creates and configures the HTTP server: the JSON API, the
// WebSocket endpoint and Prometheus metrics.
func NewServer(cfg *config.Config, svc *service.Service, h *hub.Hub, wsServer *ws.Server, m *metrics.Metrics, logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if cfg.HTTPRatePerSec > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				switch c.Path() {
				case "/health", "/metrics", "/ws":
					return true
				}
				return false
			},
			Store: middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.HTTPRatePerSec)),
		}))
	}

	// Handlers
	var conns v1.ConnectionCounter
	if h != nil {
		conns = h
	}
	v1Handler := v1.NewHandler(svc, conns, logger)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	if wsServer != nil {
		e.GET("/ws", wsServer.HandleWebSocket)
	}
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	return e
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				logger.Warn("http_request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("http_request", fields...)
			return nil
		},
	})
}
