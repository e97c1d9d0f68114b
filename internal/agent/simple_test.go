package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/opsagent/internal/domain"
)

func TestSimpleExecutorCallsToolThenAnswers(t *testing.T) {
	counter := &invocations{}
	model := &scriptedModel{respond: func(messages []domain.Message, descs []domain.ToolDescriptor) (domain.Message, error) {
		if !hasToolResult(messages) {
			return toolCall("c1", "k8s_pods_list", map[string]any{"namespace": "aaa"}), nil
		}
		last := messages[len(messages)-1]
		return domain.AssistantMessage("<think>ok</think>Pods in aaa: " + last.Content), nil
	}}
	s := NewSimpleExecutor(Deps{Instruct: model, Tools: newTestRegistry(counter, map[string]string{"k8s_pods_list": "web-1, web-2"}), Budget: testBudget()})

	rec := &recorder{}
	answer, err := s.Run(context.Background(), []domain.Message{domain.UserMessage("list pods in namespace aaa")}, rec)
	require.NoError(t, err)
	assert.Equal(t, "Pods in aaa: web-1, web-2", answer)
	assert.Equal(t, 1, counter.count("k8s_pods_list"))
	assert.Equal(t, []string{"[System] calling tool k8s_pods_list"}, rec.texts(domain.StreamProgress))

	first := model.calls[0]
	assert.Equal(t, domain.RoleSystem, first[0].Role)
	assert.Contains(t, first[0].Content, "k8s_pods_list (k8s)")
}

func TestSimpleExecutorBlocksRepeatedCall(t *testing.T) {
	counter := &invocations{}
	model := &scriptedModel{respond: func(messages []domain.Message, _ []domain.ToolDescriptor) (domain.Message, error) {
		last := messages[len(messages)-1]
		if last.Role == domain.RoleAssistant && last.Content == DuplicateNotice {
			return domain.AssistantMessage("unreachable"), nil
		}
		return toolCall(fmt.Sprintf("c%d", len(messages)), "vm_query", map[string]any{"query": "up"}), nil
	}}
	s := NewSimpleExecutor(Deps{Instruct: model, Tools: newTestRegistry(counter, nil), Budget: testBudget()})

	answer, err := s.Run(context.Background(), []domain.Message{domain.UserMessage("is vm up")}, Discard)
	require.NoError(t, err)
	assert.Equal(t, DuplicateNotice, answer)
	assert.Equal(t, 1, counter.count("vm_query"))
	assert.Equal(t, 2, model.callCount())
}

func TestSimpleExecutorIterationBudget(t *testing.T) {
	counter := &invocations{}
	var toolless int
	model := &scriptedModel{respond: func(messages []domain.Message, descs []domain.ToolDescriptor) (domain.Message, error) {
		if len(descs) == 0 {
			toolless++
			return domain.AssistantMessage("best effort answer"), nil
		}
		n := len(messages)
		return toolCall(fmt.Sprintf("c%d", n), "vm_query", map[string]any{"query": fmt.Sprintf("q%d", n)}), nil
	}}
	budget := testBudget()
	budget.MaxIterations = 3
	s := NewSimpleExecutor(Deps{Instruct: model, Tools: newTestRegistry(counter, nil), Budget: budget})

	answer, err := s.Run(context.Background(), []domain.Message{domain.UserMessage("dig")}, Discard)
	require.NoError(t, err)
	assert.Equal(t, "best effort answer", answer)
	assert.Equal(t, 3, counter.count("vm_query"))
	assert.Equal(t, 1, toolless)
	assert.Equal(t, 4, model.callCount())

	last := model.calls[3]
	assert.Equal(t, domain.RoleSystem, last[len(last)-1].Role)
	assert.Contains(t, last[len(last)-1].Content, "Do not call any more tools")
}

func TestSimpleExecutorCircuitBreaker(t *testing.T) {
	counter := &invocations{}
	model := &scriptedModel{respond: func(messages []domain.Message, _ []domain.ToolDescriptor) (domain.Message, error) {
		n := len(messages)
		return toolCall(fmt.Sprintf("c%d", n), "vm_query", map[string]any{"query": fmt.Sprintf("q%d", n)}), nil
	}}
	budget := testBudget()
	budget.MaxAssistantTurns = 2
	s := NewSimpleExecutor(Deps{Instruct: model, Tools: newTestRegistry(counter, nil), Budget: budget})

	answer, err := s.Run(context.Background(), []domain.Message{domain.UserMessage("dig")}, Discard)
	require.NoError(t, err)
	assert.Equal(t, ConversationTooLongNotice, answer)
	assert.Equal(t, 3, model.callCount())
	assert.Equal(t, 3, counter.count("vm_query"))
}

func TestSimpleExecutorIgnoresEarlierTurns(t *testing.T) {
	var history []domain.Message
	for i := 0; i < 11; i++ {
		history = append(history, domain.UserMessage(fmt.Sprintf("question %d", i)), domain.AssistantMessage("answer"))
	}
	history = append(history, domain.UserMessage("list pods in namespace aaa"))

	counter := &invocations{}
	model := &scriptedModel{respond: func(messages []domain.Message, _ []domain.ToolDescriptor) (domain.Message, error) {
		last := messages[len(messages)-1]
		if last.Role != domain.RoleTool {
			return toolCall("c1", "k8s_pods_list", map[string]any{"namespace": "aaa"}), nil
		}
		return domain.AssistantMessage("pods: " + last.Content), nil
	}}
	s := NewSimpleExecutor(Deps{Instruct: model, Tools: newTestRegistry(counter, map[string]string{"k8s_pods_list": "web-1"}), Budget: testBudget()})

	answer, err := s.Run(context.Background(), history, Discard)
	require.NoError(t, err)
	assert.Equal(t, "pods: web-1", answer)
	assert.Equal(t, 1, counter.count("k8s_pods_list"))
	assert.Equal(t, 2, model.callCount())
}

func TestSimpleExecutorToolErrorFeedsBack(t *testing.T) {
	model := &scriptedModel{respond: func(messages []domain.Message, _ []domain.ToolDescriptor) (domain.Message, error) {
		if !hasToolResult(messages) {
			return toolCall("c1", "nope_missing", nil), nil
		}
		return domain.AssistantMessage(messages[len(messages)-1].Content), nil
	}}
	s := NewSimpleExecutor(Deps{Instruct: model, Tools: newTestRegistry(nil, nil), Budget: testBudget()})

	answer, err := s.Run(context.Background(), []domain.Message{domain.UserMessage("q")}, Discard)
	require.NoError(t, err)
	assert.Contains(t, answer, "Error: ")
	assert.Contains(t, answer, "nope_missing")
}

func TestSimpleExecutorModelFailure(t *testing.T) {
	model := &scriptedModel{respond: func([]domain.Message, []domain.ToolDescriptor) (domain.Message, error) {
		return domain.Message{}, errors.New("boom")
	}}
	s := NewSimpleExecutor(Deps{Instruct: model, Tools: newTestRegistry(nil, nil), Budget: testBudget()})

	_, err := s.Run(context.Background(), []domain.Message{domain.UserMessage("q")}, Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
