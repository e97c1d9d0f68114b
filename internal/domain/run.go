package domain

import (
	"encoding/json"
	"time"
)

// Run represents a single execution of the pipeline for one user request.
type Run struct {
	RunID     string          `json:"run_id"`
	Query     string          `json:"query"`
	Route     RoutingDecision `json:"route,omitempty"`
	Protocol  string          `json:"protocol"`
	Status    RunStatus       `json:"status"`
	Answer    string          `json:"answer,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Event represents a recorded pipeline event.
type Event struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
