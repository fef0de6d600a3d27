package middleware

import (
	"encoding/json"
	"log/slog"
	"time"

	"conclave/internal/tokens"
)

type debugEntry struct {
	Timestamp    string `json:"ts"`
	Event        string `json:"event"`
	Round        int    `json:"round"`
	MiddlewareID string `json:"middleware"`
	Priority     int    `json:"priority"`
	Skipped      bool   `json:"skipped,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Cancel       bool   `json:"cancel,omitempty"`
	Override     bool   `json:"override,omitempty"`

	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Tools     int    `json:"tools"`

	InputTokens  int `json:"in_tokens_est"`
	OutputTokens int `json:"out_tokens_est"`
}

func (c *Chain) debugLog(e *Event, id string, priority int, skipped bool, dec Decision) {
	c.debugMu.Lock()
	w := c.debugW
	c.debugMu.Unlock()
	if w == nil || e == nil {
		return
	}

	entry := debugEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Event:        string(e.Name),
		Round:        e.Round,
		MiddlewareID: id,
		Priority:     priority,
		Skipped:      skipped,
		Reason:       dec.Reason,
		Cancel:       dec.Cancel,
		Override:     dec.OverrideParams != nil,
		InputTokens:  tokens.Estimate(e.UserText),
		OutputTokens: tokens.Estimate(e.LLMText),
	}
	if e.Params != nil {
		entry.Model = e.Params.Model
		entry.MaxTokens = e.Params.MaxTokens
		entry.Tools = len(e.Params.Tools)
	}

	b, err := json.Marshal(entry)
	if err == nil {
		c.debugMu.Lock()
		_, err = w.Write(append(b, '\n'))
		c.debugMu.Unlock()
	}
	if err != nil {
		c.debugFailure(err)
	}
}

// debugFailure logs the first failed debug write and drops the rest.
func (c *Chain) debugFailure(err error) {
	c.debugMu.Lock()
	first := !c.debugFailed
	c.debugFailed = true
	logger := c.logger
	c.debugMu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	if first {
		logger.Debug("middleware debug log write failed", "error", err)
	}
}
