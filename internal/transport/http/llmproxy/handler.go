// Package llmproxy exposes the agent as an OpenAI-compatible chat model.
package llmproxy

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/adapter/llm"
	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/service"
	"github.com/xiaot623/opsagent/internal/stream"
)

// RunIDHeader carries the run ID of a response for trace correlation.
const RunIDHeader = "X-Run-Id"

// Handler handles OpenAI-compatible HTTP requests.
type Handler struct {
	service *service.Service
	stream  config.StreamConfig
}

// NewHandler creates a new OpenAI-compatible handler.
func NewHandler(service *service.Service, streamCfg config.StreamConfig) *Handler {
	return &Handler{
		service: service,
		stream:  streamCfg,
	}
}

// RegisterRoutes registers OpenAI-compatible routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/chat/completions", h.ChatCompletions)
	e.GET("/v1/models", h.ListModels)
}

// ChatCompletions runs the pipeline for the conversation of the request.
// POST /v1/chat/completions
func (h *Handler) ChatCompletions(c echo.Context) error {
	var req llm.ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body", "")
	}
	if len(req.Messages) == 0 {
		return invalidRequest(c, "messages is required", "messages")
	}

	runReq := service.RunRequest{Messages: History(req.Messages)}
	if req.Stream {
		runReq.Protocol = stream.ProtocolOpenAI
		return h.handleStreamingRequest(c, &req, runReq)
	}
	runReq.Protocol = "openai-json"
	return h.handleNonStreamingRequest(c, &req, runReq)
}

// handleNonStreamingRequest answers with one chat.completion object.
func (h *Handler) handleNonStreamingRequest(c echo.Context, req *llm.ChatCompletionRequest, runReq service.RunRequest) error {
	res, err := h.service.Ask(c.Request().Context(), runReq)
	if err != nil {
		return h.runError(c, err)
	}

	c.Response().Header().Set(RunIDHeader, res.RunID)
	return c.JSON(http.StatusOK, llm.ChatCompletionResponse{
		ID:      "chatcmpl-" + res.RunID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   h.modelName(c, req),
		Choices: []llm.Choice{{
			Index:        0,
			Message:      &llm.ChatMessage{Role: string(domain.RoleAssistant), Content: res.Answer},
			FinishReason: "stop",
		}},
	})
}

// handleStreamingRequest streams chat.completion.chunk events.
func (h *Handler) handleStreamingRequest(c echo.Context, req *llm.ChatCompletionRequest, runReq service.RunRequest) error {
	ctx := c.Request().Context()
	run, sr, err := h.service.StartStream(ctx, runReq)
	if err != nil {
		return h.runError(c, err)
	}

	stream.SetSSEHeaders(c.Response().Header())
	c.Response().Header().Set(RunIDHeader, run.RunID)
	c.Response().WriteHeader(http.StatusOK)

	enc := stream.NewOpenAIEncoder(stream.NewSSEWriter(c.Response()), h.modelName(c, req))
	if err := stream.Deliver(ctx, sr, enc, stream.OptionsFrom(h.stream)); err != nil && !errors.Is(err, stream.ErrDetached) {
		// Can't change status code after writing response
		log.Error().Err(err).Str("run_id", run.RunID).Msg("chat completion stream failed")
	}
	return nil
}

// ListModels handles the models list request.
// GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, llm.ModelsResponse{
		Object: "list",
		Data:   h.service.ListModels(c.Request().Context()),
	})
}

func (h *Handler) modelName(c echo.Context, req *llm.ChatCompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return h.service.ListModels(c.Request().Context())[0].ID
}

func (h *Handler) runError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrEmptyQuery) {
		return invalidRequest(c, "a user message is required", "messages")
	}
	log.Error().Err(err).Msg("chat completion failed")
	return c.JSON(http.StatusInternalServerError, llm.ErrorResponse{
		Error: &llm.APIError{
			Message: err.Error(),
			Type:    "internal_error",
		},
	})
}

func invalidRequest(c echo.Context, msg, param string) error {
	return c.JSON(http.StatusBadRequest, llm.ErrorResponse{
		Error: &llm.APIError{
			Message: msg,
			Type:    "invalid_request_error",
			Param:   param,
		},
	})
}

// History converts client messages into the pipeline's conversation. Only
// user and assistant turns are kept; assistant turns lose the progress
// block an earlier streamed answer carried.
func History(messages []llm.ChatMessage) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	for _, cm := range messages {
		switch domain.Role(cm.Role) {
		case domain.RoleUser:
			out = append(out, domain.UserMessage(cm.Content))
		case domain.RoleAssistant:
			if content := llm.StripThink(cm.Content); content != "" {
				out = append(out, domain.AssistantMessage(content))
			}
		}
	}
	return out
}
