package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/opsagent/internal/protocol"
)

// Client is a WebSocket chat session with the server.
type Client struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	connectionID string
	history      []protocol.InputMessage

	mu        sync.Mutex
	activeRun string
}

// wsURL maps an http(s) server URL to its WebSocket endpoint.
func wsURL(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		server = "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		server = "ws://" + strings.TrimPrefix(server, "http://")
	}
	return server + "/ws"
}

// Dial connects to the server and completes the hello handshake.
func Dial(server string, timeout time.Duration) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(wsURL(server), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{conn: conn}
	if err := c.hello(timeout); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// ConnectionID returns the ID assigned by the server.
func (c *Client) ConnectionID() string {
	return c.connectionID
}

func (c *Client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) hello(timeout time.Duration) error {
	msg := protocol.HelloMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeHello,
			Ts:        time.Now().UnixMilli(),
			RequestID: newRequestID(),
		},
		ClientMeta: map[string]string{"client": "opsagent-cli"},
	}
	if err := c.send(msg); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read hello_ack: %w", err)
	}
	var ack protocol.HelloAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("invalid hello_ack: %w", err)
	}
	if ack.Type == protocol.TypeError {
		var errMsg protocol.ErrorMessage
		_ = json.Unmarshal(data, &errMsg)
		return fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
	}
	if ack.Type != protocol.TypeHelloAck {
		return fmt.Errorf("expected hello_ack, got: %s", ack.Type)
	}
	c.connectionID = ack.ConnectionID
	return nil
}

// Ask sends question with the session history and prints progress to out
// until the run is done. The answer is appended to the history.
func (c *Client) Ask(question string, out io.Writer) (string, error) {
	msg := protocol.AskMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeAsk,
			Ts:        time.Now().UnixMilli(),
			RequestID: newRequestID(),
		},
		Message: question,
		History: c.history,
	}
	if err := c.send(msg); err != nil {
		return "", fmt.Errorf("failed to send ask: %w", err)
	}
	defer c.setActiveRun("")

	var streamed bool
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("read failed: %w", err)
		}
		var base protocol.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			continue
		}
		if base.RequestID != "" && base.RequestID != msg.RequestID {
			continue
		}

		switch base.Type {
		case protocol.TypeRunStarted:
			c.setActiveRun(base.RunID)
			fmt.Fprintf(out, "[run %s]\n", base.RunID)

		case protocol.TypeStage:
			var m protocol.StageMessage
			_ = json.Unmarshal(data, &m)
			fmt.Fprintf(out, "[%s %s]\n", m.Stage, m.Status)

		case protocol.TypeProgress:
			var m protocol.ProgressMessage
			_ = json.Unmarshal(data, &m)
			fmt.Fprintf(out, "  %s\n", strings.TrimSpace(m.Text))

		case protocol.TypeDelta:
			var m protocol.DeltaMessage
			_ = json.Unmarshal(data, &m)
			fmt.Fprint(out, m.Text)
			streamed = true

		case protocol.TypeDone:
			var m protocol.DoneMessage
			_ = json.Unmarshal(data, &m)
			if streamed {
				fmt.Fprintln(out)
			} else {
				fmt.Fprintln(out, m.Reply)
			}
			c.history = append(c.history,
				protocol.InputMessage{Role: "user", Content: question},
				protocol.InputMessage{Role: "assistant", Content: m.Reply})
			return m.Reply, nil

		case protocol.TypeError:
			var m protocol.ErrorMessage
			_ = json.Unmarshal(data, &m)
			return "", fmt.Errorf("%s: %s", m.Code, m.Message)
		}
	}
}

// CancelActive asks the server to cancel the run in progress, if any.
func (c *Client) CancelActive() error {
	runID := c.ActiveRun()
	if runID == "" {
		return nil
	}
	return c.send(protocol.CancelRunMessage{BaseMessage: protocol.BaseMessage{
		Type:  protocol.TypeCancelRun,
		Ts:    time.Now().UnixMilli(),
		RunID: runID,
	}})
}

// ActiveRun returns the ID of the run in progress.
func (c *Client) ActiveRun() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRun
}

func (c *Client) setActiveRun(runID string) {
	c.mu.Lock()
	c.activeRun = runID
	c.mu.Unlock()
}

func newRequestID() string {
	return "req_" + uuid.New().String()[:8]
}
