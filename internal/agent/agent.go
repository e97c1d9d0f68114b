package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaot623/opsagent/internal/adapter/llm"
	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
)

// Emitter receives the events of one run. Emit blocks while the consumer is
// behind and fails once the run is cancelled.
type Emitter interface {
	Emit(ctx context.Context, ev domain.StreamEvent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev domain.StreamEvent) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, ev domain.StreamEvent) error {
	return f(ctx, ev)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, domain.StreamEvent) error { return nil })

// Toolbox is the pipeline's view of the tool registry.
type Toolbox interface {
	List() []domain.ToolDescriptor
	ByCategory(c domain.ToolCategory) []domain.ToolDescriptor
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Deps are the collaborators shared by every stage.
type Deps struct {
	Instruct  llm.ChatModel
	Reasoning llm.ChatModel
	Tools     Toolbox
	Prompts   *Prompts
	Budget    config.PipelineConfig
	Now       func() time.Time
}

func (d *Deps) normalize() {
	if d.Prompts == nil {
		d.Prompts = mustLoadPrompts()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	def := config.Default().Pipeline
	b := &d.Budget
	if b.RouterKeepLast <= 0 {
		b.RouterKeepLast = def.RouterKeepLast
	}
	if b.SimpleKeepLast <= 0 {
		b.SimpleKeepLast = def.SimpleKeepLast
	}
	if b.MaxAssistantTurns <= 0 {
		b.MaxAssistantTurns = def.MaxAssistantTurns
	}
	if b.MaxIterations <= 0 {
		b.MaxIterations = def.MaxIterations
	}
	if b.WorkerConcurrency <= 0 {
		b.WorkerConcurrency = def.WorkerConcurrency
	}
	if b.StageTimeout <= 0 {
		b.StageTimeout = def.StageTimeout
	}
	if b.RawCeiling <= 0 {
		b.RawCeiling = def.RawCeiling
	}
	if b.SummaryLimit <= 0 {
		b.SummaryLimit = def.SummaryLimit
	}
	if b.ReportQuota <= 0 {
		b.ReportQuota = def.ReportQuota
	}
	if b.SynthesisCeiling <= 0 {
		b.SynthesisCeiling = def.SynthesisCeiling
	}
	if b.HeartbeatInterval <= 0 {
		b.HeartbeatInterval = def.HeartbeatInterval
	}
}

// specialistName is the display name of a worker role.
func specialistName(key domain.SpecialistKey) string {
	switch key {
	case domain.CategoryLog:
		return "LogSpecialist"
	case domain.CategoryMetric:
		return "MetricSpecialist"
	case domain.CategoryK8s:
		return "K8sSpecialist"
	}
	return string(key)
}

// apology is the user-visible text of a stage that could not produce an answer.
func apology(err error) string {
	return fmt.Sprintf("Sorry, the request could not be completed: %v", err)
}

// formatElapsed renders a duration as "12s" or "1m5s".
func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	if m := secs / 60; m > 0 {
		return fmt.Sprintf("%dm%ds", m, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}
