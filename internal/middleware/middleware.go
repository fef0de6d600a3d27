package middleware

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

type EventName string

const (
	EventBeforeLLMRequest EventName = "before_llm_request"
	EventAfterLLMResponse EventName = "after_llm_response"
)

// LLMParams are the request settings a middleware may rewrite for one round.
type LLMParams struct {
	Model       string
	Temperature float64
	MaxTokens   int

	// Tool / function calling schema (LangChainGo).
	Tools []llms.Tool
}

// Clone returns a copy whose Tools slice can be modified independently.
func (p *LLMParams) Clone() *LLMParams {
	if p == nil {
		return &LLMParams{}
	}
	out := *p
	out.Tools = append([]llms.Tool(nil), p.Tools...)
	return &out
}

type Decision struct {
	Cancel bool   // stop the pipeline for this event
	Reason string // for logs

	// Optional: change request + continue
	OverrideParams *LLMParams
}

type Event struct {
	Name     EventName
	Round    int
	UserText string     // last user message
	LLMText  string     // for after_llm_response
	Params   *LLMParams // mutable
	Context  map[string]any
}

type Middleware interface {
	ID() string
	Priority() int
	OnEvent(ctx context.Context, e *Event) (Decision, error)
}

// ConditionalMiddleware is an optional extension that allows a middleware to be
// dynamically enabled/disabled per request/event.
//
// If a middleware implements this interface and returns false, it will be
// skipped during dispatch (but still recorded in results with a "skipped"
// reason).
type ConditionalMiddleware interface {
	ShouldLoad(ctx context.Context, e *Event) bool
}

// Canceled returns the first canceling decision, if any.
func Canceled(results []DecisionResult) (Decision, bool) {
	for _, r := range results {
		if r.Decision.Cancel {
			return r.Decision, true
		}
	}
	return Decision{}, false
}
