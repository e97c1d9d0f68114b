package domain

import "time"

// StreamEventKind tags a StreamEvent.
type StreamEventKind string

const (
	StreamStageStarted  StreamEventKind = "stage-started"
	StreamStageFinished StreamEventKind = "stage-finished"
	StreamProgress      StreamEventKind = "progress"
	StreamToken         StreamEventKind = "token"
	StreamFinal         StreamEventKind = "final"
	StreamError         StreamEventKind = "error"
	StreamEOF           StreamEventKind = "eof"
)

// Stage names a pipeline node.
type Stage string

const (
	StageRouter       Stage = "router"
	StageSimple       Stage = "simple_agent"
	StageOrchestrator Stage = "orchestrator"
	StageWorkers      Stage = "workers"
	StageSynthesizer  Stage = "synthesizer"
)

// NodeStatus is the display status of a pipeline node.
type NodeStatus string

const (
	NodeRunning NodeStatus = "running"
	NodeSuccess NodeStatus = "success"
	NodeError   NodeStatus = "error"
)

// StreamEvent is one item of a run's event stream.
type StreamEvent struct {
	Kind    StreamEventKind `json:"kind"`
	Stage   Stage           `json:"stage,omitempty"`
	Status  NodeStatus      `json:"status,omitempty"`
	Text    string          `json:"text,omitempty"`
	Plan    WorkPlan        `json:"plan,omitempty"`
	Route   RoutingDecision `json:"route,omitempty"`
	Elapsed time.Duration   `json:"elapsed,omitempty"`
}

// StageStarted builds a stage-started event.
func StageStarted(stage Stage, text string) StreamEvent {
	return StreamEvent{Kind: StreamStageStarted, Stage: stage, Status: NodeRunning, Text: text}
}

// StageFinished builds a stage-finished event.
func StageFinished(stage Stage, status NodeStatus, text string) StreamEvent {
	return StreamEvent{Kind: StreamStageFinished, Stage: stage, Status: status, Text: text}
}

// Progress builds a progress event.
func Progress(stage Stage, text string) StreamEvent {
	return StreamEvent{Kind: StreamProgress, Stage: stage, Text: text}
}

// Token builds a token-fragment event.
func Token(text string) StreamEvent {
	return StreamEvent{Kind: StreamToken, Text: text}
}

// Final builds a final-text event.
func Final(text string) StreamEvent {
	return StreamEvent{Kind: StreamFinal, Text: text}
}

// ErrorEvent builds an error event.
func ErrorEvent(text string) StreamEvent {
	return StreamEvent{Kind: StreamError, Text: text}
}

// EOF builds the terminal event.
func EOF() StreamEvent {
	return StreamEvent{Kind: StreamEOF}
}

// IsStageBoundary reports whether the event opens or closes a stage.
func (e StreamEvent) IsStageBoundary() bool {
	return e.Kind == StreamStageStarted || e.Kind == StreamStageFinished
}
