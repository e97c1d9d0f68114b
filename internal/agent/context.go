// Package agent implements the route -> execute pipeline: router, simple
// executor, orchestrator, worker pool and synthesizer.
package agent

import (
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/domain"
)

// DuplicateNotice replaces a model turn whose tool calls were all duplicates.
const DuplicateNotice = "[System] Already have the latest data (duplicate execution prevented).\n" +
	"Check the tool results (logs/metrics) printed right above."

// Trim keeps the first message and the last keepLast messages.
func Trim(history []domain.Message, keepLast int) []domain.Message {
	if keepLast < 0 {
		keepLast = 0
	}
	if len(history) <= keepLast+1 {
		return history
	}
	out := make([]domain.Message, 0, keepLast+1)
	out = append(out, history[0])
	return append(out, history[len(history)-keepLast:]...)
}

// SuppressDuplicateToolCalls drops candidate tool calls that repeat a call of
// the most recent tool-issuing assistant turn, or an earlier call of the same
// batch. When nothing survives, DuplicateNotice is returned instead.
func SuppressDuplicateToolCalls(history []domain.Message, candidate domain.Message) domain.Message {
	if !candidate.HasToolCalls() {
		return candidate
	}

	var previous []domain.ToolCallRequest
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleAssistant && history[i].HasToolCalls() {
			previous = history[i].ToolCalls
			break
		}
	}

	unique := make([]domain.ToolCallRequest, 0, len(candidate.ToolCalls))
	for _, call := range candidate.ToolCalls {
		if containsCall(previous, call) || containsCall(unique, call) {
			log.Info().Str("tool", call.Name).Msg("blocked repeated tool call")
			continue
		}
		unique = append(unique, call)
	}

	if len(unique) == len(candidate.ToolCalls) {
		return candidate
	}
	if len(unique) == 0 {
		return domain.AssistantMessage(DuplicateNotice)
	}
	out := candidate
	out.ToolCalls = unique
	return out
}

func containsCall(calls []domain.ToolCallRequest, call domain.ToolCallRequest) bool {
	for _, c := range calls {
		if c.Same(call) {
			return true
		}
	}
	return false
}

// CircuitBreaker trips when turns holds more than maxAssistantTurns
// assistant messages. The returned system message tells the model to answer
// from what it already has.
func CircuitBreaker(turns []domain.Message, maxAssistantTurns int, instruction string) (domain.Message, bool) {
	if domain.ConversationState(turns).CountRole(domain.RoleAssistant) <= maxAssistantTurns {
		return domain.Message{}, false
	}
	return domain.SystemMessage(instruction), true
}

// dropOrphanToolResults removes tool results at the start of a trimmed window
// whose requesting assistant turn was cut off. The first message is kept.
func dropOrphanToolResults(window []domain.Message) []domain.Message {
	if len(window) < 2 {
		return window
	}
	i := 1
	for i < len(window) && window[i].Role == domain.RoleTool {
		i++
	}
	if i == 1 {
		return window
	}
	out := make([]domain.Message, 0, len(window)-(i-1))
	out = append(out, window[0])
	return append(out, window[i:]...)
}
