// Package protocol defines the WebSocket message protocol between clients and opsagent.
package protocol

// Message types from client to server
const (
	TypeHello     = "hello"
	TypeAsk       = "ask"
	TypeCancelRun = "cancel_run"
)

// Message types from server to client
const (
	TypeHelloAck   = "hello_ack"
	TypeRunStarted = "run_started"
	TypeStage      = "stage"
	TypeProgress   = "progress"
	TypeDelta      = "delta"
	TypeDone       = "done"
	TypeError      = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// HelloMessage is sent by the client to establish the connection.
type HelloMessage struct {
	BaseMessage
	ClientMeta map[string]string `json:"client_meta,omitempty"`
}

// HelloAckMessage answers hello with the connection ID.
type HelloAckMessage struct {
	BaseMessage
	ConnectionID string `json:"connection_id"`
}

// AskMessage starts a run. History carries earlier turns of the chat, oldest first.
type AskMessage struct {
	BaseMessage
	Message string         `json:"message"`
	History []InputMessage `json:"history,omitempty"`
}

// InputMessage is one prior chat turn.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CancelRunMessage is sent by the client to cancel a run.
type CancelRunMessage struct {
	BaseMessage
}

// RunStartedMessage announces a run.
type RunStartedMessage struct {
	BaseMessage
}

// StageMessage reports a pipeline node starting or finishing.
type StageMessage struct {
	BaseMessage
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Text      string `json:"text,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// ProgressMessage carries intermediate progress text.
type ProgressMessage struct {
	BaseMessage
	Stage string `json:"stage,omitempty"`
	Text  string `json:"text"`
}

// DeltaMessage carries a fragment of the answer.
type DeltaMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// DoneMessage ends a run with its complete answer.
type DoneMessage struct {
	BaseMessage
	Reply string `json:"reply"`
}

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeRunFailed       = "run_failed"
	ErrorCodeInternalError   = "internal_error"
)
