package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/opsagent/internal/domain"
)

// ListTools returns the registered tools with their categories.
// GET /v1/tools
func (h *Handler) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, domain.ListToolsResponse{Tools: h.service.ListTools()})
}
