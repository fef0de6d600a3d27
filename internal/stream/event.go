// Package stream defines the vendor-neutral events produced while a model
// answers, and the sinks that carry them to a client.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event is one canonical streaming event. Type returns the wire discriminator.
type Event interface {
	Type() string
}

// Delta is a chunk of assistant text. TokensOut is the caller's running
// output-token estimate after this chunk.
type Delta struct {
	Content   string `json:"content"`
	TokensOut int    `json:"tokensOut"`
}

// ToolCallDelta carries partial tool invocation data addressed by Index.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Usage reports token counts; later values replace earlier ones.
type Usage struct {
	TokensIn  int `json:"tokensIn"`
	TokensOut int `json:"tokensOut"`
}

// Rerouting tells the client a different model than requested is answering.
type Rerouting struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Provider string `json:"provider"`
}

type Done struct {
	ActualModel string `json:"actualModel,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Model   string `json:"model,omitempty"`
	Message string `json:"message,omitempty"`
}

// ToolCallStarted is sent right before a requested tool runs.
type ToolCallStarted struct {
	Name string `json:"name"`
}

type ToolResult struct {
	Name    string `json:"name"`
	Result  string `json:"result"`
	IsError bool   `json:"isError,omitempty"`
}

type DebateStart struct {
	Models      []string `json:"models"`
	Synthesizer string   `json:"synthesizer"`
	Topic       string   `json:"topic,omitempty"`
}

type DebateTurnStart struct {
	Model string `json:"model"`
	Phase string `json:"phase"`
}

type DebateTurnDelta struct {
	Model   string `json:"model"`
	Content string `json:"content"`
}

type DebateTurnEnd struct {
	Model string `json:"model"`
	Phase string `json:"phase"`
}

type DebateSynthesisStart struct {
	Model string `json:"model"`
}

func (Delta) Type() string                { return "delta" }
func (ToolCallDelta) Type() string        { return "tool_call_delta" }
func (Usage) Type() string                { return "usage" }
func (Rerouting) Type() string            { return "rerouting" }
func (Done) Type() string                 { return "done" }
func (Error) Type() string                { return "error" }
func (ToolCallStarted) Type() string      { return "tool_call" }
func (ToolResult) Type() string           { return "tool_result" }
func (DebateStart) Type() string          { return "debate_start" }
func (DebateTurnStart) Type() string      { return "debate_turn_start" }
func (DebateTurnDelta) Type() string      { return "debate_turn_delta" }
func (DebateTurnEnd) Type() string        { return "debate_turn_end" }
func (DebateSynthesisStart) Type() string { return "debate_synthesis_start" }

// Marshal encodes ev as a single JSON object whose first key is "type".
func Marshal(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("stream: nil event")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("stream: encode %s: %w", ev.Type(), err)
	}
	kind, _ := json.Marshal(ev.Type())
	out := make([]byte, 0, len(body)+len(kind)+10)
	out = append(out, `{"type":`...)
	out = append(out, kind...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
		return out, nil
	}
	return append(out, '}'), nil
}
