// Package tokenbudget caps max_tokens for a request from a caller-supplied
// budget.
package tokenbudget

import (
	"context"
	"fmt"

	mw "conclave/internal/middleware"
)

// ContextKey is the Event.Context entry holding the budget.
const ContextKey = "token_budget"

func init() {
	// Auto-register middleware so it is picked up via middlewares/autoload.
	mw.Register(BudgetLimiter{})
}

// BudgetLimiter caps LLMParams.MaxTokens at Event.Context["token_budget"].
// It keeps the smaller of the existing MaxTokens and the budget.
type BudgetLimiter struct{}

func (BudgetLimiter) ID() string    { return "token_budget" }
func (BudgetLimiter) Priority() int { return 90 }

// ShouldLoad skips events that carry no usable budget.
func (BudgetLimiter) ShouldLoad(_ context.Context, e *mw.Event) bool {
	_, ok := budget(e)
	return ok
}

func (BudgetLimiter) OnEvent(_ context.Context, e *mw.Event) (mw.Decision, error) {
	if e == nil || e.Name != mw.EventBeforeLLMRequest {
		return mw.Decision{}, nil
	}
	limit, ok := budget(e)
	if !ok {
		return mw.Decision{}, nil
	}

	params := e.Params.Clone()
	if params.MaxTokens == 0 || params.MaxTokens > limit {
		params.MaxTokens = limit
		return mw.Decision{
			OverrideParams: params,
			Reason:         fmt.Sprintf("token_budget: capped max_tokens at %d", limit),
		}, nil
	}
	return mw.Decision{}, nil
}

// budget reads a positive budget; JSON bodies decode numbers as float64.
func budget(e *mw.Event) (int, bool) {
	if e == nil {
		return 0, false
	}
	var n int
	switch v := e.Context[ContextKey].(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	default:
		return 0, false
	}
	return n, n > 0
}
