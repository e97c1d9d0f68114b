// Package chatapi serves the plain chat endpoints used by the web UI.
package chatapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/service"
	"github.com/xiaot623/opsagent/internal/stream"
)

// Handler handles chat requests.
type Handler struct {
	service *service.Service
	stream  config.StreamConfig
}

// NewHandler creates a new chat handler.
func NewHandler(service *service.Service, streamCfg config.StreamConfig) *Handler {
	return &Handler{
		service: service,
		stream:  streamCfg,
	}
}

// RegisterRoutes registers chat routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/chat", h.Chat)
	e.POST("/api/stream_chat", h.StreamChat)
}

// Chat runs the pipeline to completion and returns the answer.
// POST /api/chat
func (h *Handler) Chat(c echo.Context) error {
	req, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
	}

	res, err := h.service.Ask(c.Request().Context(), service.RunRequest{
		Messages: []domain.Message{domain.UserMessage(req.Message)},
		Protocol: "json",
	})
	if err != nil {
		return chatError(c, err)
	}
	return c.JSON(http.StatusOK, domain.ChatResponse{Reply: res.Answer, RunID: res.RunID})
}

// StreamChat streams the run as a UI message data stream.
// POST /api/stream_chat
func (h *Handler) StreamChat(c echo.Context) error {
	req, err := bind(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
	}

	ctx := c.Request().Context()
	run, sr, err := h.service.StartStream(ctx, service.RunRequest{
		Messages: []domain.Message{domain.UserMessage(req.Message)},
		Protocol: stream.ProtocolDataStream,
	})
	if err != nil {
		return chatError(c, err)
	}

	header := c.Response().Header()
	stream.SetSSEHeaders(header)
	header.Set(stream.DataStreamHeader, "v1")
	header.Set("X-Run-Id", run.RunID)
	c.Response().WriteHeader(http.StatusOK)

	enc := stream.NewDataStreamEncoder(stream.NewSSEWriter(c.Response()))
	if err := stream.Deliver(ctx, sr, enc, stream.OptionsFrom(h.stream)); err != nil && !errors.Is(err, stream.ErrDetached) {
		log.Error().Err(err).Str("run_id", run.RunID).Msg("data stream failed")
	}
	return nil
}

func bind(c echo.Context) (*domain.ChatRequest, error) {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.New("invalid request body")
	}
	return &req, nil
}

func chatError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrEmptyQuery) {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
	}
	log.Error().Err(err).Msg("chat request failed")
	return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: err.Error()})
}
