// Package domain defines the core domain models for the agent pipeline.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "CREATED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusDone      RunStatus = "DONE"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// EventType represents the type of an audit event.
type EventType string

const (
	EventTypeRunStarted    EventType = "run_started"
	EventTypeUserInput     EventType = "user_input"
	EventTypeRouteDecided  EventType = "route_decided"
	EventTypeStageStarted  EventType = "stage_started"
	EventTypeStageFinished EventType = "stage_finished"
	EventTypeProgress      EventType = "progress"
	EventTypeFinal         EventType = "final"
	EventTypeRunDone       EventType = "run_done"
	EventTypeRunFailed     EventType = "run_failed"
	EventTypeRunCancelled  EventType = "run_cancelled"

	// LLM call events
	EventTypeLLMCallStarted EventType = "llm_call_started"
	EventTypeLLMCallDone    EventType = "llm_call_done"

	// Tool events
	EventTypePolicyDecision EventType = "policy_decision"
	EventTypeToolResult     EventType = "tool_result"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// RoutingDecision selects the execution path of a run.
type RoutingDecision string

const (
	RouteSimple  RoutingDecision = "SIMPLE"
	RouteComplex RoutingDecision = "COMPLEX"
)

// ToolCategory is the capability tag assigned to a tool at registration.
type ToolCategory string

const (
	CategoryLog    ToolCategory = "log"
	CategoryMetric ToolCategory = "metric"
	CategoryK8s    ToolCategory = "k8s"
)

// Valid reports whether c is one of the known categories.
func (c ToolCategory) Valid() bool {
	switch c {
	case CategoryLog, CategoryMetric, CategoryK8s:
		return true
	}
	return false
}

// SpecialistKey identifies a worker role. Each specialist owns one tool category.
type SpecialistKey = ToolCategory

// Specialists lists the worker roles in synthesis priority order.
var Specialists = []SpecialistKey{CategoryK8s, CategoryMetric, CategoryLog}

// ReportStatus is the outcome of a worker run.
type ReportStatus string

const (
	ReportOK    ReportStatus = "ok"
	ReportNoOp  ReportStatus = "no-op"
	ReportError ReportStatus = "error"
)

// ToolCallStatus represents the status of an audited tool call.
type ToolCallStatus string

const (
	ToolCallStatusRunning   ToolCallStatus = "RUNNING"
	ToolCallStatusBlocked   ToolCallStatus = "BLOCKED"
	ToolCallStatusSucceeded ToolCallStatus = "SUCCEEDED"
	ToolCallStatusFailed    ToolCallStatus = "FAILED"
)
