package domain

import "reflect"

// Message is one entry of a conversation.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

// ToolCallRequest is a model's request to invoke a tool.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Same reports whether two requests name the same tool with deeply equal arguments.
// Request IDs are ignored.
func (r ToolCallRequest) Same(other ToolCallRequest) bool {
	if r.Name != other.Name {
		return false
	}
	if len(r.Arguments) == 0 && len(other.Arguments) == 0 {
		return true
	}
	return reflect.DeepEqual(r.Arguments, other.Arguments)
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message without tool calls.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage builds the tool-result message answering call.
func ToolResultMessage(call ToolCallRequest, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// ConversationState is the message history owned by one pipeline run.
type ConversationState []Message

// LastUserContent returns the content of the most recent user message.
func (s ConversationState) LastUserContent() string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Role == RoleUser {
			return s[i].Content
		}
	}
	return ""
}

// CountRole counts messages authored by role.
func (s ConversationState) CountRole(role Role) int {
	n := 0
	for _, m := range s {
		if m.Role == role {
			n++
		}
	}
	return n
}
