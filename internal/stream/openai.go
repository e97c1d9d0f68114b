package stream

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/opsagent/internal/adapter/llm"
	"github.com/xiaot623/opsagent/internal/domain"
)

// ProtocolOpenAI names the chat-completion chunk protocol.
const ProtocolOpenAI = "openai"

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type thinkPhase int

const (
	thinkNotOpened thinkPhase = iota
	thinkOpened
	thinkClosed
)

// OpenAIEncoder renders a run as OpenAI chat.completion.chunk events. Stage
// and progress text goes inside one <think> block that is closed before the
// first answer text.
type OpenAIEncoder struct {
	out     *SSEWriter
	id      string
	model   string
	created int64

	phase    thinkPhase
	tokens   strings.Builder
	streamed strings.Builder
	answered bool
	ended    bool
}

// NewOpenAIEncoder creates an encoder that reports model in every chunk.
func NewOpenAIEncoder(out *SSEWriter, model string) *OpenAIEncoder {
	return &OpenAIEncoder{
		out:     out,
		id:      "chatcmpl-" + uuid.New().String(),
		model:   model,
		created: time.Now().Unix(),
	}
}

// Protocol implements Encoder.
func (e *OpenAIEncoder) Protocol() string { return ProtocolOpenAI }

// Begin sends the role chunk.
func (e *OpenAIEncoder) Begin() error {
	return e.chunk(chunkDelta{Role: "assistant"}, nil)
}

// Encode implements Encoder.
func (e *OpenAIEncoder) Encode(ev domain.StreamEvent) error {
	if ev.Kind == domain.StreamToken {
		e.tokens.WriteString(ev.Text)
		return nil
	}
	if err := e.Flush(); err != nil {
		return err
	}

	switch ev.Kind {
	case domain.StreamStageStarted, domain.StreamStageFinished, domain.StreamProgress:
		if ev.Text == "" || e.phase == thinkClosed {
			return nil
		}
		if e.phase == thinkNotOpened {
			e.phase = thinkOpened
			return e.content(llm.ThinkOpen + "\n" + ev.Text + "\n")
		}
		return e.content(ev.Text + "\n")
	case domain.StreamFinal:
		if ev.Text == "" {
			return nil
		}
		if e.answered {
			if rest, ok := finalRemainder(e.streamed.String(), ev.Text); ok {
				return e.answer(rest)
			}
			return nil
		}
		return e.answer(ev.Text)
	case domain.StreamError:
		return e.answer("[Error] " + ev.Text)
	}
	return nil
}

// Flush writes buffered answer tokens.
func (e *OpenAIEncoder) Flush() error {
	if e.tokens.Len() == 0 {
		return nil
	}
	text := e.tokens.String()
	e.tokens.Reset()
	e.streamed.WriteString(text)
	return e.answer(text)
}

// KeepAlive writes an SSE comment.
func (e *OpenAIEncoder) KeepAlive() error {
	return e.out.Comment("keep-alive")
}

// End closes an open think block, sends the stop chunk and [DONE].
func (e *OpenAIEncoder) End() error {
	if e.ended {
		return nil
	}
	e.ended = true
	if err := e.Flush(); err != nil {
		return err
	}
	if err := e.closeThink(); err != nil {
		return err
	}
	stop := "stop"
	if err := e.chunk(chunkDelta{}, &stop); err != nil {
		return err
	}
	return e.out.Done()
}

func (e *OpenAIEncoder) answer(text string) error {
	if err := e.closeThink(); err != nil {
		return err
	}
	e.answered = true
	return e.content(text)
}

func (e *OpenAIEncoder) closeThink() error {
	if e.phase != thinkOpened {
		e.phase = thinkClosed
		return nil
	}
	e.phase = thinkClosed
	return e.content("\n" + llm.ThinkClose + "\n\n")
}

func (e *OpenAIEncoder) content(text string) error {
	return e.chunk(chunkDelta{Content: text}, nil)
}

func (e *OpenAIEncoder) chunk(delta chunkDelta, finish *string) error {
	return e.out.JSON(chatChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []chunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	})
}
