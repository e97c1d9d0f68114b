// Package http provides the HTTP server of the agent.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/metrics"
	"github.com/xiaot623/opsagent/internal/service"
	"github.com/xiaot623/opsagent/internal/transport/http/chatapi"
	"github.com/xiaot623/opsagent/internal/transport/http/llmproxy"
	v1 "github.com/xiaot623/opsagent/internal/transport/http/v1"
)

// NewServer creates the HTTP server: the chat endpoints, the
// OpenAI-compatible endpoints, the run audit API and /metrics.
// extra registers additional routes, such as the WebSocket endpoint.
func NewServer(svc *service.Service, cfg *config.Config, extra ...func(e *echo.Echo)) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)
	llmHandler := llmproxy.NewHandler(svc, streamConfig(cfg))
	chatHandler := chatapi.NewHandler(svc, streamConfig(cfg))

	// Register Routes
	v1Handler.RegisterRoutes(e)
	llmHandler.RegisterRoutes(e)
	chatHandler.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	for _, register := range extra {
		register(e)
	}
	return e
}

func streamConfig(cfg *config.Config) config.StreamConfig {
	if cfg == nil {
		return config.Default().Stream
	}
	return cfg.Stream
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}
