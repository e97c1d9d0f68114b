package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/metrics"
)

// ChatModel is the pipeline's view of a model endpoint.
type ChatModel interface {
	// Complete runs one non-streaming call, optionally with tools bound.
	Complete(ctx context.Context, messages []domain.Message, tools []domain.ToolDescriptor) (domain.Message, error)

	// Stream runs one streaming call without tools. onToken receives raw
	// content fragments in order; the assembled reply is returned.
	Stream(ctx context.Context, messages []domain.Message, onToken func(string)) (domain.Message, error)
}

// CallRecord describes one finished model call.
type CallRecord struct {
	RequestID string
	Endpoint  string
	Model     string
	Stream    bool
	StartedAt time.Time
	Latency   time.Duration
	Usage     *Usage
	Err       error
}

// CallRecorder observes model calls, for example to write an audit trail.
type CallRecorder func(ctx context.Context, started bool, rec CallRecord)

// Endpoint binds an LLMClient to one configured model.
type Endpoint struct {
	name     string
	client   LLMClient
	cfg      config.EndpointConfig
	recorder CallRecorder
	backoff  time.Duration
}

// NewEndpoint creates a named endpoint ("instruct" or "reasoning").
func NewEndpoint(name string, client LLMClient, cfg config.EndpointConfig) *Endpoint {
	return &Endpoint{
		name:    name,
		client:  client,
		cfg:     cfg,
		backoff: 500 * time.Millisecond,
	}
}

// Ensure Endpoint implements ChatModel interface.
var _ ChatModel = (*Endpoint)(nil)

// SetRecorder installs a call observer.
func (e *Endpoint) SetRecorder(r CallRecorder) {
	e.recorder = r
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// ErrModelNotServed is returned by CheckModel when the endpoint does not list
// the configured model.
var ErrModelNotServed = errors.New("model not served by endpoint")

// CheckModel asks the endpoint for its models and verifies that the
// configured one is among them. An empty model name is not checked.
func (e *Endpoint) CheckModel(ctx context.Context) error {
	if e.cfg.Model == "" {
		return nil
	}
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("%s endpoint: failed to list models: %w", e.name, err)
	}
	for _, m := range models {
		if m.ID == e.cfg.Model {
			return nil
		}
	}
	return fmt.Errorf("%s endpoint: %w: %s", e.name, ErrModelNotServed, e.cfg.Model)
}

// Complete implements ChatModel.
func (e *Endpoint) Complete(ctx context.Context, messages []domain.Message, tools []domain.ToolDescriptor) (domain.Message, error) {
	req := e.newRequest(messages)
	if len(tools) > 0 {
		req.Tools = ToolSchemas(tools)
	}

	rec := e.begin(ctx, req.Model, false)
	var resp *ChatCompletionResponse
	err := e.retry(ctx, func() error {
		var err error
		resp, err = e.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err == nil && (resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Message == nil) {
		err = fmt.Errorf("%s endpoint returned no choices", e.name)
	}
	if resp != nil {
		rec.Usage = resp.Usage
	}
	e.end(ctx, rec, err)
	if err != nil {
		return domain.Message{}, err
	}
	return FromChatMessage(*resp.Choices[0].Message), nil
}

// Stream implements ChatModel. A failed attempt is retried only while no
// fragment has been delivered.
func (e *Endpoint) Stream(ctx context.Context, messages []domain.Message, onToken func(string)) (domain.Message, error) {
	req := e.newRequest(messages)

	rec := e.begin(ctx, req.Model, true)
	var sb strings.Builder
	delivered := false
	err := e.retry(ctx, func() error {
		usage, err := e.client.CreateChatCompletionStream(ctx, req, func(chunk *StreamChunk) error {
			for _, c := range chunk.Choices {
				if c.Delta == nil || c.Delta.Content == "" {
					continue
				}
				delivered = true
				sb.WriteString(c.Delta.Content)
				if onToken != nil {
					onToken(c.Delta.Content)
				}
			}
			return nil
		})
		rec.Usage = usage
		if err != nil && delivered {
			return &permanentError{err}
		}
		return err
	})
	var perm *permanentError
	if errors.As(err, &perm) {
		err = perm.err
	}
	e.end(ctx, rec, err)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.AssistantMessage(sb.String()), nil
}

func (e *Endpoint) newRequest(messages []domain.Message) *ChatCompletionRequest {
	req := &ChatCompletionRequest{
		Model:    e.cfg.Model,
		Messages: ToChatMessages(messages),
	}
	temp := e.cfg.Temperature
	req.Temperature = &temp
	if e.cfg.MaxTokens > 0 {
		maxTokens := e.cfg.MaxTokens
		req.MaxTokens = &maxTokens
	}
	return req
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// retry runs fn up to 1+MaxRetries times while the error looks transient.
func (e *Endpoint) retry(ctx context.Context, fn func() error) error {
	attempts := e.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
		if i == attempts-1 {
			break
		}
		log.Warn().Err(err).Str("endpoint", e.name).Int("attempt", i+1).Msg("model call failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.backoff * time.Duration(i+1)):
		}
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

func (e *Endpoint) begin(ctx context.Context, model string, stream bool) CallRecord {
	rec := CallRecord{
		RequestID: "llm_" + uuid.New().String()[:8],
		Endpoint:  e.name,
		Model:     model,
		Stream:    stream,
	}
	if e.recorder != nil {
		e.recorder(ctx, true, rec)
	}
	rec.StartedAt = time.Now()
	return rec
}

func (e *Endpoint) end(ctx context.Context, rec CallRecord, err error) {
	rec.Latency = time.Since(rec.StartedAt)
	rec.Err = err
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveLLMCall(e.name, outcome, rec.Latency)
	if e.recorder != nil {
		e.recorder(ctx, false, rec)
	}
}

// ToChatMessages converts domain messages to the wire format.
func ToChatMessages(messages []domain.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		cm := ChatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil || tc.Arguments == nil {
				args = []byte("{}")
			}
			cm.ToolCalls = append(cm.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

// FromChatMessage converts a wire reply to a domain message. Tool call
// arguments that are not a JSON object become an empty argument set.
func FromChatMessage(cm ChatMessage) domain.Message {
	m := domain.Message{
		Role:    domain.Role(cm.Role),
		Content: cm.Content,
	}
	if m.Role == "" {
		m.Role = domain.RoleAssistant
	}
	for _, tc := range cm.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				log.Warn().Err(err).Str("tool", tc.Function.Name).Msg("discarding malformed tool arguments")
				args = map[string]any{}
			}
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		m.ToolCalls = append(m.ToolCalls, domain.ToolCallRequest{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return m
}

// ToolSchemas renders descriptors as OpenAI function tools.
func ToolSchemas(tools []domain.ToolDescriptor) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]any, len(t.Args))
		required := []string{}
		for _, a := range t.Args {
			prop := map[string]any{}
			switch a.Kind {
			case domain.ArgInteger:
				prop["type"] = "integer"
			case domain.ArgBoolean:
				prop["type"] = "boolean"
			case domain.ArgEnum:
				prop["type"] = "string"
				prop["enum"] = a.Enum
			default:
				prop["type"] = "string"
			}
			if a.Description != "" {
				prop["description"] = a.Description
			}
			props[a.Name] = prop
			if a.Required {
				required = append(required, a.Name)
			}
		}
		out = append(out, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}
	return out
}
