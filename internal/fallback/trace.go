package fallback

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// traceRecord is one JSON line in the attempt trace.
type traceRecord struct {
	TS           time.Time `json:"ts"`
	Requested    string    `json:"requested"`
	Tier         int       `json:"tier"`
	Model        string    `json:"model"`
	Vendor       string    `json:"vendor"`
	Outcome      string    `json:"outcome"`
	Retryable    bool      `json:"retryable,omitempty"`
	Status       int       `json:"status,omitempty"`
	Error        string    `json:"error,omitempty"`
	TokensOutEst int       `json:"tokens_out_est"`
}

// tracer appends attempt records to w. Writes are serialized because one
// orchestrator serves concurrent requests.
type tracer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newTracer(w io.Writer) *tracer {
	if w == nil {
		return nil
	}
	return &tracer{enc: json.NewEncoder(w)}
}

func (t *tracer) write(rec traceRecord) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(rec)
}
