package domain

// RunStartedPayload is the payload for run_started event.
type RunStartedPayload struct {
	Protocol string `json:"protocol"`
}

// UserInputPayload is the payload for user_input event.
type UserInputPayload struct {
	Content string `json:"content"`
}

// RouteDecidedPayload is the payload for route_decided event.
type RouteDecidedPayload struct {
	Route RoutingDecision `json:"route"`
}

// StagePayload is the payload for stage and progress events.
type StagePayload struct {
	Stage     Stage      `json:"stage,omitempty"`
	Status    NodeStatus `json:"status,omitempty"`
	Text      string     `json:"text,omitempty"`
	Plan      WorkPlan   `json:"plan,omitempty"`
	ElapsedMs int64      `json:"elapsed_ms,omitempty"`
}

// RunDonePayload is the payload for run_done event.
type RunDonePayload struct {
	FinalMessage string `json:"final_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// RunFailedPayload is the payload for run_failed event.
type RunFailedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LLMCallStartedPayload is the payload for llm_call_started event.
type LLMCallStartedPayload struct {
	RequestID string `json:"request_id"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	Stream    bool   `json:"stream"`
}

// LLMCallDonePayload is the payload for llm_call_done event.
type LLMCallDonePayload struct {
	RequestID        string `json:"request_id"`
	Endpoint         string `json:"endpoint"`
	Model            string `json:"model"`
	LatencyMs        int64  `json:"latency_ms"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
	Error            string `json:"error,omitempty"`
}

// PolicyDecisionPayload is the payload for policy_decision event.
type PolicyDecisionPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
}

// ToolResultPayload is the payload for tool_result event.
type ToolResultPayload struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Status     ToolCallStatus `json:"status"`
	Bytes      int            `json:"bytes"`
	LatencyMs  int64          `json:"latency_ms"`
	Error      string         `json:"error,omitempty"`
}
