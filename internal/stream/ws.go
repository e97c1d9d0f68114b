package stream

import (
	"strings"
	"time"

	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/protocol"
)

// ProtocolWebSocket names the WebSocket JSON protocol.
const ProtocolWebSocket = "websocket"

// Sender writes to one WebSocket client.
type Sender interface {
	SendJSON(v any) error
	Ping() error
}

// WSEncoder renders a run as protocol messages.
type WSEncoder struct {
	out       Sender
	runID     string
	requestID string

	tokens strings.Builder
	reply  strings.Builder
	final  string
	ended  bool
}

// NewWSEncoder creates an encoder for one run.
func NewWSEncoder(out Sender, runID, requestID string) *WSEncoder {
	return &WSEncoder{out: out, runID: runID, requestID: requestID}
}

// Protocol implements Encoder.
func (e *WSEncoder) Protocol() string { return ProtocolWebSocket }

func (e *WSEncoder) base(typ string) protocol.BaseMessage {
	return protocol.BaseMessage{Type: typ, Ts: time.Now().UnixMilli(), RequestID: e.requestID, RunID: e.runID}
}

// Begin sends run_started.
func (e *WSEncoder) Begin() error {
	return e.out.SendJSON(protocol.RunStartedMessage{BaseMessage: e.base(protocol.TypeRunStarted)})
}

// Encode implements Encoder.
func (e *WSEncoder) Encode(ev domain.StreamEvent) error {
	if ev.Kind == domain.StreamToken {
		e.tokens.WriteString(ev.Text)
		return nil
	}
	if err := e.Flush(); err != nil {
		return err
	}

	switch ev.Kind {
	case domain.StreamStageStarted, domain.StreamStageFinished:
		return e.out.SendJSON(protocol.StageMessage{
			BaseMessage: e.base(protocol.TypeStage),
			Stage:       string(ev.Stage),
			Status:      string(ev.Status),
			Text:        ev.Text,
			ElapsedMs:   ev.Elapsed.Milliseconds(),
		})
	case domain.StreamProgress:
		return e.out.SendJSON(protocol.ProgressMessage{
			BaseMessage: e.base(protocol.TypeProgress),
			Stage:       string(ev.Stage),
			Text:        ev.Text,
		})
	case domain.StreamFinal:
		e.final = ev.Text
	case domain.StreamError:
		return e.out.SendJSON(protocol.ErrorMessage{
			BaseMessage: e.base(protocol.TypeError),
			Code:        protocol.ErrorCodeRunFailed,
			Message:     ev.Text,
		})
	}
	return nil
}

// Flush sends buffered tokens as one delta.
func (e *WSEncoder) Flush() error {
	if e.tokens.Len() == 0 {
		return nil
	}
	text := e.tokens.String()
	e.tokens.Reset()
	e.reply.WriteString(text)
	return e.out.SendJSON(protocol.DeltaMessage{BaseMessage: e.base(protocol.TypeDelta), Text: text})
}

// KeepAlive sends a WebSocket ping.
func (e *WSEncoder) KeepAlive() error {
	return e.out.Ping()
}

// End sends done with the complete answer.
func (e *WSEncoder) End() error {
	if e.ended {
		return nil
	}
	e.ended = true
	if err := e.Flush(); err != nil {
		return err
	}
	reply := e.final
	if reply == "" {
		reply = e.reply.String()
	}
	return e.out.SendJSON(protocol.DoneMessage{BaseMessage: e.base(protocol.TypeDone), Reply: reply})
}
