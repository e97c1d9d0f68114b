package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SetSSEHeaders prepares a response for server-sent events.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// SSEWriter frames server-sent events and flushes after each one.
type SSEWriter struct {
	w     io.Writer
	flush func()
}

// NewSSEWriter wraps w. When w is an http.Flusher every event is flushed.
func NewSSEWriter(w io.Writer) *SSEWriter {
	s := &SSEWriter{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

// JSON writes v as one data event. Markup such as <think> is not escaped.
func (s *SSEWriter) JSON(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return s.Data(string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))))
}

// Data writes one data event.
func (s *SSEWriter) Data(payload string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Comment writes an SSE comment line, which clients ignore.
func (s *SSEWriter) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Done writes the [DONE] end marker.
func (s *SSEWriter) Done() error {
	return s.Data("[DONE]")
}
