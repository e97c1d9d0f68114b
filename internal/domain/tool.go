package domain

import (
	"encoding/json"
	"time"
)

// ArgKind is the typed kind of a tool argument.
type ArgKind string

const (
	ArgString  ArgKind = "string"
	ArgInteger ArgKind = "integer"
	ArgBoolean ArgKind = "boolean"
	ArgEnum    ArgKind = "enum"
	// ArgOpaque covers every schema type without a dedicated kind.
	ArgOpaque ArgKind = "opaque"
)

// ArgSpec describes one argument of a tool.
type ArgSpec struct {
	Name        string   `json:"name"`
	Kind        ArgKind  `json:"kind"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ToolDescriptor is the registry's read-only description of a tool.
type ToolDescriptor struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	Args        []ArgSpec    `json:"args"`
	Source      string       `json:"source,omitempty"`
}

// ToolCall is the audit record of one tool invocation.
type ToolCall struct {
	ToolCallID  string          `json:"tool_call_id"`
	RunID       string          `json:"run_id"`
	ToolName    string          `json:"tool_name"`
	Category    ToolCategory    `json:"category"`
	Status      ToolCallStatus  `json:"status"`
	Args        json.RawMessage `json:"args"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
