package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/adapter/llm"
	"github.com/xiaot623/opsagent/internal/domain"
)

// RecordLLMCall is an llm.CallRecorder writing llm_call_started and
// llm_call_done events for calls made on behalf of a run.
func (s *Service) RecordLLMCall(ctx context.Context, started bool, rec llm.CallRecord) {
	runID := RunIDFromContext(ctx)
	if runID == "" {
		return
	}

	if started {
		if err := s.recordEvent(ctx, runID, domain.EventTypeLLMCallStarted, domain.LLMCallStartedPayload{
			RequestID: rec.RequestID,
			Endpoint:  rec.Endpoint,
			Model:     rec.Model,
			Stream:    rec.Stream,
		}); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("failed to record llm_call_started event")
		}
		return
	}

	payload := domain.LLMCallDonePayload{
		RequestID: rec.RequestID,
		Endpoint:  rec.Endpoint,
		Model:     rec.Model,
		LatencyMs: rec.Latency.Milliseconds(),
	}
	if rec.Usage != nil {
		payload.PromptTokens = rec.Usage.PromptTokens
		payload.CompletionTokens = rec.Usage.CompletionTokens
		payload.TotalTokens = rec.Usage.TotalTokens
	}
	if rec.Err != nil {
		payload.Error = rec.Err.Error()
	}
	if err := s.recordEvent(ctx, runID, domain.EventTypeLLMCallDone, payload); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("failed to record llm_call_done event")
	}
}

// ListModels advertises the agent as a single model for OpenAI-compatible clients.
func (s *Service) ListModels(ctx context.Context) []llm.Model {
	return []llm.Model{{
		ID:      s.config.LLM.AgentModel,
		Object:  "model",
		Created: time.Now().Unix(),
		OwnedBy: "opsagent",
	}}
}
