package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/opsagent/internal/domain"
)

// GetRunEvents returns the recorded events of an existing run.
func (s *Service) GetRunEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	events, err := s.store.GetEvents(ctx, runID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}
	return events, nil
}

// ListRuns returns the most recent runs first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListRunToolCalls returns the audited tool calls of a run.
func (s *Service) ListRunToolCalls(ctx context.Context, runID string) ([]domain.ToolCall, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	calls, err := s.store.ListToolCalls(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	return calls, nil
}
