package chat

import (
	"context"

	"conclave/internal/stream"
	"conclave/internal/tokens"

	"github.com/tmc/langchaingo/llms"
)

// Call is one streamed request to a single provider.
type Call struct {
	// Model is the provider-native model id.
	Model       string
	Credential  string
	Messages    []Message
	Tools       []llms.Tool
	MaxTokens   int
	Temperature float64
}

// Adapter abstracts one vendor's streaming completion API.
type Adapter interface {
	// ReplyStream forwards canonical events to sink as they arrive and
	// returns the full text plus any tool calls the model emitted. Each text
	// chunk is added to counter. Adapters never retry.
	ReplyStream(ctx context.Context, call Call, sink stream.Sink, counter *tokens.Counter) (Result, error)
}

// Request is one logical model request before routing.
type Request struct {
	// Model is the canonical model id, e.g. "anthropic/claude-sonnet-4.6".
	Model       string
	Messages    []Message
	Tools       []llms.Tool
	MaxTokens   int
	Temperature float64

	// Metadata is passed to middleware as Event.Context.
	Metadata map[string]any
}

// Streamer delivers a request through whatever provider path works.
type Streamer interface {
	StreamWithFallback(ctx context.Context, req Request, sink stream.Sink, counter *tokens.Counter) (Result, error)
}

// ToolDispatcher is the registry the round loop executes tool calls against.
type ToolDispatcher interface {
	Definitions() []llms.Tool
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}
