// Package llm adapts each vendor's streaming API to canonical events.
package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"conclave/internal/chat"
	"conclave/internal/config"
	"conclave/internal/tokens"

	"github.com/google/uuid"
)

type options struct {
	httpClient *http.Client
	headers    map[string]string
	logger     *slog.Logger
	gemini     GeminiModelFactory
}

type Option func(*options)

// WithHTTPClient sets the client used for vendor calls. Stream lifetimes are
// bounded by the request context, so the client should not set Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithHeaders adds headers to every request (aggregator attribution).
func WithHeaders(h map[string]string) Option {
	return func(o *options) {
		o.headers = h
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithGeminiModelFactory replaces how the Gemini adapter builds its model.
func WithGeminiModelFactory(f GeminiModelFactory) Option {
	return func(o *options) {
		o.gemini = f
	}
}

func newOptions(opts []Option) options {
	o := options{httpClient: &http.Client{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewAdapter returns the streaming adapter for one vendor kind reached at ep.
func NewAdapter(kind config.VendorKind, ep config.Endpoint, opts ...Option) (chat.Adapter, error) {
	switch kind {
	case config.VendorAggregator:
		return NewAggregatorAdapter(ep.BaseURL, opts...), nil
	case config.VendorOpenAI:
		return NewOpenAIAdapter(ep.BaseURL, opts...), nil
	case config.VendorAnthropic:
		return NewAnthropicAdapter(ep.BaseURL, opts...), nil
	case config.VendorGemini:
		return NewGeminiAdapter(opts...), nil
	default:
		return nil, fmt.Errorf("unsupported vendor: %s", kind)
	}
}

// usageOrEstimate keeps provider usage when reported; otherwise it estimates
// input from the prompt text and output from what this call added to counter.
func usageOrEstimate(reported chat.Usage, ok bool, messages []chat.Message, counter *tokens.Counter, startOut int) chat.Usage {
	if ok {
		return reported
	}
	in := 0
	for _, m := range messages {
		in += tokens.Estimate(m.Content)
		for _, tc := range m.ToolCalls {
			in += tokens.Estimate(tc.Arguments)
		}
	}
	return chat.Usage{TokensIn: in, TokensOut: counter.Total() - startOut}
}

// ensureIDs gives every call an id; some providers leave them empty.
func ensureIDs(calls []chat.ToolCall) []chat.ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}
	return calls
}
