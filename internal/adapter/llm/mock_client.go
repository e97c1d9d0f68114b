package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/opsagent/internal/domain"
)

// MockClient is a mock implementation of LLMClient for testing.
type MockClient struct {
	models []string
}

// NewMockClient creates a new mock LLM client. ListModels reports models in
// addition to the built-in mock model names.
func NewMockClient(models ...string) *MockClient {
	return &MockClient{models: models}
}

// Ensure MockClient implements LLMClient interface.
var _ LLMClient = (*MockClient)(nil)

// CreateChatCompletion returns a mock response. With tools bound and no tool
// results yet, it requests the first tool; otherwise it answers in text.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	msg := &ChatMessage{Role: "assistant"}
	if len(req.Tools) > 0 && !hasToolResults(req.Messages) {
		msg.ToolCalls = []ToolCall{{
			ID:   fmt.Sprintf("mock-call-%d", time.Now().UnixNano()),
			Type: "function",
			Function: ToolCallFunction{
				Name:      req.Tools[0].Function.Name,
				Arguments: "{}",
			},
		}}
	} else {
		msg.Content = m.generateMockResponse(req)
	}

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      msg,
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     m.estimateTokens(req),
			CompletionTokens: len(msg.Content) / 4,
			TotalTokens:      m.estimateTokens(req) + len(msg.Content)/4,
		},
		SystemFingerprint: "mock-fp",
	}, nil
}

// CreateChatCompletionStream simulates a streaming response.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	responseContent := m.generateMockResponse(req)
	id := fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	// Simulate streaming by sending content in chunks
	chunks := m.splitIntoChunks(responseContent, 10)

	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		finishReason := ""
		if i == len(chunks)-1 {
			finishReason = "stop"
		}

		streamChunk := &StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []Choice{
				{
					Index: 0,
					Delta: &ChatMessage{
						Role:    "assistant",
						Content: chunk,
					},
					FinishReason: finishReason,
				},
			},
			SystemFingerprint: "mock-fp",
		}

		if err := callback(streamChunk); err != nil {
			return nil, err
		}
	}

	usage := &Usage{
		PromptTokens:     m.estimateTokens(req),
		CompletionTokens: len(responseContent) / 4,
		TotalTokens:      m.estimateTokens(req) + len(responseContent)/4,
	}

	return usage, nil
}

// ListModels returns the mock models.
func (m *MockClient) ListModels(ctx context.Context) ([]Model, error) {
	ids := append([]string{"mock-instruct", "mock-reasoning"}, m.models...)
	out := make([]Model, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		out = append(out, Model{ID: id, Object: "model", Created: time.Now().Unix(), OwnedBy: "mock"})
	}
	return out, nil
}

// generateMockResponse picks a reply from the prompt the request opens with
// and the latest input. The router prompt gets a category for the question
// it embeds, the orchestrator prompt a JSON plan, tool results are echoed
// back as a summary.
func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var prompt, lastUser, lastTool string
	for i, msg := range req.Messages {
		if i == 0 {
			prompt = msg.Content
		}
		switch msg.Role {
		case "user":
			lastUser = msg.Content
		case "tool":
			lastTool = msg.Content
		}
	}

	switch {
	case strings.HasPrefix(prompt, mockOrchestratorPrompt):
		return "```json\n{\"k8s\": \"check pod and node state\", \"metric\": \"top 10 CPU and memory\", \"log\": \"recent warn and error logs\"}\n```"
	case strings.HasPrefix(prompt, mockRouterPrompt):
		question := promptSection(prompt, mockQuestionHeader)
		if question == "" {
			question = lastUser
		}
		lower := strings.ToLower(question)
		if strings.Contains(lower, "diagnos") || strings.Contains(lower, "overall") || strings.Contains(lower, "why") {
			return "COMPLEX"
		}
		return "SIMPLE"
	case lastTool != "":
		return "[MOCK] Findings:\n- " + truncate(lastTool, 300)
	case lastUser != "":
		return fmt.Sprintf("<think>mock reasoning</think>[MOCK] Received your message: %q. This is a mock response.", truncate(lastUser, 100))
	}
	return "[MOCK] This is a mock response from the LLM client."
}

// Openings of the prompts the mock recognizes.
const (
	mockRouterPrompt       = "You classify user intent"
	mockOrchestratorPrompt = "You are the orchestrator"
	mockQuestionHeader     = "[User question]"
)

// promptSection returns the paragraph following header in prompt.
func promptSection(prompt, header string) string {
	i := strings.Index(prompt, header)
	if i < 0 {
		return ""
	}
	rest := strings.TrimLeft(prompt[i+len(header):], "\n")
	if j := strings.Index(rest, "\n\n"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func hasToolResults(messages []ChatMessage) bool {
	for _, msg := range messages {
		if msg.Role == "tool" {
			return true
		}
	}
	return false
}

// estimateTokens provides a rough token count estimate.
func (m *MockClient) estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func (m *MockClient) splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if domain.RuneLen(s) <= maxLen {
		return s
	}
	return domain.HeadRunes(s, maxLen) + "..."
}
