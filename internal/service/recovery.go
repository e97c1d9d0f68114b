package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/domain"
)

const interruptedReason = "interrupted by restart"

// RecoverInterruptedRuns fails the runs and tool calls a previous process
// left in flight. It is called once at startup, before serving.
func (s *Service) RecoverInterruptedRuns(ctx context.Context) (int, error) {
	sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	runs, err := s.store.ListRuns(sweepCtx, 0)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, run := range runs {
		if run.Status != domain.RunStatusCreated && run.Status != domain.RunStatusRunning {
			continue
		}

		calls, err := s.store.ListToolCalls(sweepCtx, run.RunID)
		if err != nil {
			log.Warn().Err(err).Str("run_id", run.RunID).Msg("failed to list tool calls of interrupted run")
		}
		for _, tc := range calls {
			if tc.Status != domain.ToolCallStatusRunning {
				continue
			}
			updated, err := s.store.UpdateToolCallResult(sweepCtx, tc.ToolCallID, domain.ToolCallStatusFailed, "", interruptedReason)
			if err != nil {
				log.Warn().Err(err).Str("tool_call_id", tc.ToolCallID).Msg("failed to fail interrupted tool call")
				continue
			}
			if !updated {
				continue
			}
			if err := s.recordEvent(sweepCtx, run.RunID, domain.EventTypeToolResult, domain.ToolResultPayload{
				ToolCallID: tc.ToolCallID,
				ToolName:   tc.ToolName,
				Status:     domain.ToolCallStatusFailed,
				Error:      interruptedReason,
			}); err != nil {
				log.Warn().Err(err).Str("tool_call_id", tc.ToolCallID).Msg("failed to record tool_result event")
			}
		}

		if err := s.store.UpdateRunCompleted(sweepCtx, run.RunID, domain.RunStatusFailed, "", interruptedReason); err != nil {
			log.Warn().Err(err).Str("run_id", run.RunID).Msg("failed to fail interrupted run")
			continue
		}
		if err := s.recordEvent(sweepCtx, run.RunID, domain.EventTypeRunFailed, domain.RunFailedPayload{
			Code:    "interrupted",
			Message: interruptedReason,
		}); err != nil {
			log.Warn().Err(err).Str("run_id", run.RunID).Msg("failed to record run_failed event")
		}
		recovered++
	}

	if recovered > 0 {
		log.Info().Int("runs", recovered).Msg("recovered interrupted runs")
	}
	return recovered, nil
}
