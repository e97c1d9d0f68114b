package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/xiaot623/opsagent/internal/domain"
)

// ScriptedModel is a chat model answering every call through Respond.
// Stream emits StreamTokens and returns their concatenation.
type ScriptedModel struct {
	Respond      func(messages []domain.Message, tools []domain.ToolDescriptor) (domain.Message, error)
	StreamTokens []string
	// Block makes every call wait until the context is done.
	Block bool

	mu    sync.Mutex
	calls int
}

func (m *ScriptedModel) Complete(ctx context.Context, messages []domain.Message, tools []domain.ToolDescriptor) (domain.Message, error) {
	m.count()
	if m.Block {
		<-ctx.Done()
		return domain.Message{}, ctx.Err()
	}
	if m.Respond == nil {
		return domain.AssistantMessage(""), nil
	}
	return m.Respond(messages, tools)
}

func (m *ScriptedModel) Stream(ctx context.Context, messages []domain.Message, onToken func(string)) (domain.Message, error) {
	m.count()
	if m.Block {
		<-ctx.Done()
		return domain.Message{}, ctx.Err()
	}
	var b strings.Builder
	for _, tok := range m.StreamTokens {
		onToken(tok)
		b.WriteString(tok)
	}
	return domain.AssistantMessage(b.String()), nil
}

// Calls returns the number of calls made so far.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *ScriptedModel) count() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

// IsRouterPrompt reports whether messages are the router's classification call.
func IsRouterPrompt(messages []domain.Message) bool {
	return len(messages) > 0 && strings.HasPrefix(messages[0].Content, "You classify user intent")
}

// SimpleModel routes every request to the simple executor, calls tool once
// with args when tool is not empty, then answers with answer followed by the
// tool output.
func SimpleModel(tool string, args map[string]any, answer string) *ScriptedModel {
	return &ScriptedModel{Respond: func(messages []domain.Message, _ []domain.ToolDescriptor) (domain.Message, error) {
		if IsRouterPrompt(messages) {
			return domain.AssistantMessage(string(domain.RouteSimple)), nil
		}
		last := messages[len(messages)-1]
		if tool != "" && last.Role == domain.RoleUser {
			return domain.Message{
				Role:      domain.RoleAssistant,
				ToolCalls: []domain.ToolCallRequest{{ID: "call_1", Name: tool, Arguments: args}},
			}, nil
		}
		if last.Role == domain.RoleTool {
			return domain.AssistantMessage(answer + last.Content), nil
		}
		return domain.AssistantMessage(answer), nil
	}}
}
