package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/metrics"
	"github.com/xiaot623/opsagent/internal/policy"
	"github.com/xiaot623/opsagent/internal/tools"
)

// auditedToolbox is the pipeline's toolbox: every call is checked against
// the policy, then dispatched through the registry and recorded.
type auditedToolbox struct {
	s *Service
}

func (t *auditedToolbox) List() []domain.ToolDescriptor {
	return t.s.tools.List()
}

func (t *auditedToolbox) ByCategory(c domain.ToolCategory) []domain.ToolDescriptor {
	return t.s.tools.ByCategory(c)
}

func (t *auditedToolbox) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	return t.s.InvokeTool(ctx, name, args)
}

// InvokeTool runs one tool call for the run tagged on ctx. Blocked calls
// return an error wrapping ErrPolicyBlocked. Calls outside a run are
// evaluated but not recorded.
func (s *Service) InvokeTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	runID := RunIDFromContext(ctx)
	logger := log.With().Str("run_id", runID).Str("tool", toolName).Logger()

	desc, ok := s.tools.Get(toolName)
	if !ok {
		metrics.ToolCall(toolName, "not_found")
		return "", fmt.Errorf("%w: %s", tools.ErrToolNotFound, toolName)
	}

	decision, reason, err := s.policyEngine.Evaluate(ctx, policy.Input{
		ToolName: toolName,
		Category: string(desc.Category),
		Args:     args,
	})
	if err != nil {
		// A broken policy must not let mutating calls through.
		logger.Error().Err(err).Msg("policy evaluation failed")
		decision, reason = policy.DecisionBlock, "policy evaluation failed"
	}

	toolCallID := "tc_" + uuid.New().String()
	now := time.Now()
	argsJSON, err := json.Marshal(args)
	if err != nil || args == nil {
		argsJSON = json.RawMessage(`{}`)
	}
	toolCall := &domain.ToolCall{
		ToolCallID: toolCallID,
		RunID:      runID,
		ToolName:   toolName,
		Category:   desc.Category,
		Status:     domain.ToolCallStatusRunning,
		Args:       argsJSON,
		CreatedAt:  now,
	}

	audited := runID != ""
	if audited {
		if err := s.recordEvent(ctx, runID, domain.EventTypePolicyDecision, domain.PolicyDecisionPayload{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Decision:   decision,
			Reason:     reason,
		}); err != nil {
			logger.Warn().Err(err).Msg("failed to record policy_decision event")
		}
	}

	if !policy.Allowed(decision) {
		logger.Warn().Str("decision", decision).Str("reason", reason).Msg("tool call blocked by policy")
		metrics.ToolCall(toolName, "blocked")
		if audited {
			toolCall.Status = domain.ToolCallStatusBlocked
			toolCall.Error = reason
			toolCall.CompletedAt = &now
			if err := s.store.CreateToolCall(context.WithoutCancel(ctx), toolCall); err != nil {
				logger.Warn().Err(err).Msg("failed to record blocked tool call")
			}
		}
		return "", fmt.Errorf("%w: %s", ErrPolicyBlocked, reason)
	}

	if audited {
		if err := s.store.CreateToolCall(context.WithoutCancel(ctx), toolCall); err != nil {
			logger.Warn().Err(err).Msg("failed to record tool call")
		}
	}

	start := time.Now()
	out, invokeErr := s.tools.Invoke(ctx, toolName, args)
	latency := time.Since(start)

	status, outcome, errText := domain.ToolCallStatusSucceeded, "ok", ""
	if invokeErr != nil {
		status, outcome, errText = domain.ToolCallStatusFailed, "error", invokeErr.Error()
		var argErr *tools.ArgumentError
		if errors.As(invokeErr, &argErr) {
			outcome = "invalid_args"
		}
		logger.Warn().Err(invokeErr).Dur("latency", latency).Msg("tool call failed")
	} else {
		logger.Info().Int("bytes", len(out)).Dur("latency", latency).Msg("tool call done")
	}
	metrics.ToolCall(toolName, outcome)

	if audited {
		if _, err := s.store.UpdateToolCallResult(context.WithoutCancel(ctx), toolCallID, status, out, errText); err != nil {
			logger.Warn().Err(err).Msg("failed to update tool call result")
		}
		if err := s.recordEvent(ctx, runID, domain.EventTypeToolResult, domain.ToolResultPayload{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Status:     status,
			Bytes:      len(out),
			LatencyMs:  latency.Milliseconds(),
			Error:      errText,
		}); err != nil {
			logger.Warn().Err(err).Msg("failed to record tool_result event")
		}
	}
	return out, invokeErr
}

// ListTools returns the registered tool descriptors.
func (s *Service) ListTools() []domain.ToolDescriptor {
	return s.tools.List()
}
