package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/adapter/llm"
	"github.com/xiaot623/opsagent/internal/domain"
)

// ConversationTooLongNotice is returned when the circuit breaker trips before a model call.
const ConversationTooLongNotice = "[System] The conversation grew too long and was stopped for safety. " +
	"Please answer with the information gathered so far."

type simpleState int

const (
	awaitingModel simpleState = iota
	awaitingToolResults
	simpleDone
)

// SimpleExecutor runs the bounded ReAct loop of the SIMPLE path.
type SimpleExecutor struct {
	deps Deps
}

// NewSimpleExecutor creates a simple executor.
func NewSimpleExecutor(deps Deps) *SimpleExecutor {
	deps.normalize()
	return &SimpleExecutor{deps: deps}
}

// Run answers the conversation, calling tools as the model requests them.
// The loop makes at most MaxIterations tool-enabled model calls; after that
// one tool-less call asks the model to answer from what it has. The circuit
// breaker counts only the assistant turns produced by this run.
func (s *SimpleExecutor) Run(ctx context.Context, history []domain.Message, emit Emitter) (string, error) {
	conv := append([]domain.Message(nil), history...)
	start := len(conv)
	budget := s.deps.Budget
	descs := s.deps.Tools.List()

	state := awaitingModel
	iterations := 0
	var pending domain.Message

	for state != simpleDone {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		switch state {
		case awaitingModel:
			if notice, tripped := CircuitBreaker(conv[start:], budget.MaxAssistantTurns, ConversationTooLongNotice); tripped {
				log.Warn().Int("max_assistant_turns", budget.MaxAssistantTurns).Msg("circuit breaker tripped")
				return notice.Content, nil
			}

			messages, err := s.buildMessages(conv, descs)
			if err != nil {
				return "", err
			}

			if iterations >= budget.MaxIterations {
				return s.finalAnswer(ctx, messages)
			}
			iterations++

			resp, err := s.deps.Instruct.Complete(ctx, messages, descs)
			if err != nil {
				return "", fmt.Errorf("simple agent call failed: %w", err)
			}
			resp = SuppressDuplicateToolCalls(conv, resp)
			conv = append(conv, resp)
			if !resp.HasToolCalls() {
				return llm.StripThink(resp.Content), nil
			}
			pending = resp
			state = awaitingToolResults

		case awaitingToolResults:
			for _, call := range pending.ToolCalls {
				_ = emit.Emit(ctx, domain.Progress(domain.StageSimple, fmt.Sprintf("[System] calling tool %s", call.Name)))
				conv = append(conv, domain.ToolResultMessage(call, s.invoke(ctx, call)))
			}
			state = awaitingModel
		}
	}
	return "", nil
}

func (s *SimpleExecutor) buildMessages(conv []domain.Message, descs []domain.ToolDescriptor) ([]domain.Message, error) {
	sys, err := s.deps.Prompts.Render(promptSimpleSystem, map[string]any{
		"Now":   s.deps.Now().UTC(),
		"Tools": descs,
	})
	if err != nil {
		return nil, err
	}
	window := append([]domain.Message{domain.SystemMessage(sys)}, conv...)
	return dropOrphanToolResults(Trim(window, s.deps.Budget.SimpleKeepLast)), nil
}

// finalAnswer makes the closing tool-less call once the iteration budget is spent.
func (s *SimpleExecutor) finalAnswer(ctx context.Context, messages []domain.Message) (string, error) {
	instruction, err := s.deps.Prompts.Render(promptBreaker, nil)
	if err != nil {
		return "", err
	}
	log.Warn().Int("max_iterations", s.deps.Budget.MaxIterations).Msg("iteration budget spent, forcing an answer")
	messages = append(messages, domain.SystemMessage(instruction))
	resp, err := s.deps.Instruct.Complete(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("simple agent call failed: %w", err)
	}
	return llm.StripThink(resp.Content), nil
}

func (s *SimpleExecutor) invoke(ctx context.Context, call domain.ToolCallRequest) string {
	out, err := s.deps.Tools.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if out == "" {
		return EmptyResultMarker
	}
	return out
}
