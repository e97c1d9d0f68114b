package stream

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaot623/opsagent/internal/domain"
)

// ProtocolDataStream names the UI message data-stream protocol.
const ProtocolDataStream = "data-stream"

// DataStreamHeader marks a response as a UI message stream.
const DataStreamHeader = "x-vercel-ai-ui-message-stream"

type node struct {
	Type string
	Name string
}

var nodes = map[domain.Stage]node{
	domain.StageRouter:       {Type: "router", Name: "Router"},
	domain.StageSimple:       {Type: "agent", Name: "Simple Agent"},
	domain.StageOrchestrator: {Type: "orchestrator", Name: "Orchestrator"},
	domain.StageWorkers:      {Type: "workers", Name: "Worker Pool"},
	domain.StageSynthesizer:  {Type: "synthesizer", Name: "Synthesizer"},
}

// NodeStatusData is the payload of a data-node-execution-status part.
type NodeStatusData struct {
	NodeID   string `json:"nodeId"`
	NodeType string `json:"nodeType"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

type part struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Delta     string          `json:"delta,omitempty"`
	ErrorText string          `json:"errorText,omitempty"`
	Data      *NodeStatusData `json:"data,omitempty"`
}

// DataStreamEncoder renders a run as typed UI stream parts: node status
// parts for the pipeline diagram, reasoning parts for progress and text
// parts for the answer.
type DataStreamEncoder struct {
	out       *SSEWriter
	messageID string
	seq       int

	reasoningID string
	textID      string
	tokens      strings.Builder
	streamed    strings.Builder
	answered    bool
	ended       bool
}

// NewDataStreamEncoder creates a data-stream encoder.
func NewDataStreamEncoder(out *SSEWriter) *DataStreamEncoder {
	return &DataStreamEncoder{out: out, messageID: "msg_" + uuid.New().String()}
}

// Protocol implements Encoder.
func (e *DataStreamEncoder) Protocol() string { return ProtocolDataStream }

// Begin sends the start part.
func (e *DataStreamEncoder) Begin() error {
	return e.out.JSON(part{Type: "start", MessageID: e.messageID})
}

// Encode implements Encoder.
func (e *DataStreamEncoder) Encode(ev domain.StreamEvent) error {
	if ev.Kind == domain.StreamToken {
		e.tokens.WriteString(ev.Text)
		return nil
	}
	if err := e.Flush(); err != nil {
		return err
	}

	switch ev.Kind {
	case domain.StreamStageStarted, domain.StreamStageFinished:
		if err := e.nodeStatus(ev.Stage, ev.Status); err != nil {
			return err
		}
		return e.reasoning(ev.Text)
	case domain.StreamProgress:
		return e.reasoning(ev.Text)
	case domain.StreamFinal:
		if ev.Text == "" {
			return nil
		}
		if e.answered {
			if rest, ok := finalRemainder(e.streamed.String(), ev.Text); ok {
				return e.text(rest)
			}
			return nil
		}
		return e.text(ev.Text)
	case domain.StreamError:
		if err := e.closeParts(); err != nil {
			return err
		}
		return e.out.JSON(part{Type: "error", ErrorText: ev.Text})
	}
	return nil
}

// Flush writes buffered answer tokens as one text delta.
func (e *DataStreamEncoder) Flush() error {
	if e.tokens.Len() == 0 {
		return nil
	}
	text := e.tokens.String()
	e.tokens.Reset()
	e.streamed.WriteString(text)
	return e.text(text)
}

// KeepAlive writes an SSE comment.
func (e *DataStreamEncoder) KeepAlive() error {
	return e.out.Comment("ping")
}

// End closes open parts, then sends finish and [DONE].
func (e *DataStreamEncoder) End() error {
	if e.ended {
		return nil
	}
	e.ended = true
	if err := e.Flush(); err != nil {
		return err
	}
	if err := e.closeParts(); err != nil {
		return err
	}
	if err := e.out.JSON(part{Type: "finish"}); err != nil {
		return err
	}
	return e.out.Done()
}

func (e *DataStreamEncoder) nodeStatus(stage domain.Stage, status domain.NodeStatus) error {
	n, ok := nodes[stage]
	if !ok {
		n = node{Type: string(stage), Name: string(stage)}
	}
	return e.out.JSON(part{
		Type: "data-node-execution-status",
		ID:   string(stage),
		Data: &NodeStatusData{NodeID: string(stage), NodeType: n.Type, Name: n.Name, Status: string(status)},
	})
}

func (e *DataStreamEncoder) reasoning(text string) error {
	if text == "" {
		return nil
	}
	if e.reasoningID == "" {
		e.reasoningID = e.nextID("reasoning")
		if err := e.out.JSON(part{Type: "reasoning-start", ID: e.reasoningID}); err != nil {
			return err
		}
	}
	return e.out.JSON(part{Type: "reasoning-delta", ID: e.reasoningID, Delta: text + "\n"})
}

func (e *DataStreamEncoder) text(text string) error {
	if err := e.endReasoning(); err != nil {
		return err
	}
	if e.textID == "" {
		e.textID = e.nextID("text")
		if err := e.out.JSON(part{Type: "text-start", ID: e.textID}); err != nil {
			return err
		}
	}
	e.answered = true
	return e.out.JSON(part{Type: "text-delta", ID: e.textID, Delta: text})
}

func (e *DataStreamEncoder) endReasoning() error {
	if e.reasoningID == "" {
		return nil
	}
	id := e.reasoningID
	e.reasoningID = ""
	return e.out.JSON(part{Type: "reasoning-end", ID: id})
}

func (e *DataStreamEncoder) closeParts() error {
	if err := e.endReasoning(); err != nil {
		return err
	}
	if e.textID == "" {
		return nil
	}
	id := e.textID
	e.textID = ""
	return e.out.JSON(part{Type: "text-end", ID: id})
}

func (e *DataStreamEncoder) nextID(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s_%d", prefix, e.seq)
}
