package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/service"
)

const defaultListLimit = 50

// ListRuns returns the most recent runs.
// GET /v1/runs?limit=
func (h *Handler) ListRuns(c echo.Context) error {
	limit, err := intParam(c, "limit", defaultListLimit)
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
	}
	runs, err := h.service.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: err.Error()})
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

// GetRun returns one run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return runError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunEvents returns the recorded events of a run.
// GET /v1/runs/:run_id/events?after_ts=&types=a,b&limit=
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")

	afterTs, err := int64Param(c, "after_ts")
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
	}
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
	}
	var types []string
	if raw := c.QueryParam("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	events, err := h.service.GetRunEvents(c.Request().Context(), runID, afterTs, types, limit)
	if err != nil {
		return runError(c, err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, domain.RunEventsResponse{RunID: runID, Events: events})
}

// ListToolCalls returns the audited tool calls of a run.
// GET /v1/runs/:run_id/tool_calls
func (h *Handler) ListToolCalls(c echo.Context) error {
	runID := c.Param("run_id")
	calls, err := h.service.ListRunToolCalls(c.Request().Context(), runID)
	if err != nil {
		return runError(c, err)
	}
	if calls == nil {
		calls = []domain.ToolCall{}
	}
	return c.JSON(http.StatusOK, map[string]any{"run_id": runID, "tool_calls": calls})
}

func runError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrRunNotFound) {
		return c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: "run not found"})
	}
	return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: err.Error()})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

func int64Param(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}
