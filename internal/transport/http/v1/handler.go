// Package v1 serves the read side of the agent: runs, their events and the
// tool catalog.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/opsagent/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Run audit API
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/v1/runs/:run_id/tool_calls", h.ListToolCalls)

	// Tool API
	e.GET("/v1/tools", h.ListTools)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
