package domain

// ChatRequest is the body of POST /api/chat and POST /api/stream_chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Reply string `json:"reply"`
	RunID string `json:"run_id"`
}

// RunEventsResponse lists the recorded events of a run.
type RunEventsResponse struct {
	RunID  string  `json:"run_id"`
	Events []Event `json:"events"`
}

// ListToolsResponse lists the registered tool descriptors.
type ListToolsResponse struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ErrorResponse is the generic JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
