package stream

import (
	"fmt"
	"io"
	"net/http"
	"sync"
)

// SSEWriter writes events as Server-Sent Events, one `data:` frame per event.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers on w and returns a Sink
// that flushes after every event.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

func (s *SSEWriter) Emit(ev Event) error {
	b, err := Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return fmt.Errorf("sse write: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
