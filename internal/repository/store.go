// Package repository persists the audit trail of runs.
package repository

import (
	"context"

	"github.com/xiaot623/opsagent/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	UpdateRunRoute(ctx context.Context, runID string, route domain.RoutingDecision) error
	UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, answer, errMsg string) error

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// ToolCall operations
	CreateToolCall(ctx context.Context, toolCall *domain.ToolCall) error
	GetToolCall(ctx context.Context, toolCallID string) (*domain.ToolCall, error)
	UpdateToolCallResult(ctx context.Context, toolCallID string, status domain.ToolCallStatus, result, errMsg string) (bool, error)
	ListToolCalls(ctx context.Context, runID string) ([]domain.ToolCall, error)

	// Lifecycle
	Close() error
}
