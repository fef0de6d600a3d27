package llm

import (
	"context"
	"fmt"
	"strings"

	"conclave/internal/chat"
	"conclave/internal/stream"
	"conclave/internal/tokens"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// GeminiModelFactory builds a model bound to one credential and native id.
// The returned closer releases the underlying client.
type GeminiModelFactory func(ctx context.Context, credential, model string) (llms.Model, func() error, error)

func defaultGeminiFactory(ctx context.Context, credential, model string) (llms.Model, func() error, error) {
	client, err := googleai.New(ctx,
		googleai.WithAPIKey(credential),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// GeminiAdapter streams text from Gemini. It never offers tools to the model,
// so its results never carry tool calls.
type GeminiAdapter struct {
	opts    options
	factory GeminiModelFactory
}

func NewGeminiAdapter(opts ...Option) *GeminiAdapter {
	o := newOptions(opts)
	factory := o.gemini
	if factory == nil {
		factory = defaultGeminiFactory
	}
	return &GeminiAdapter{opts: o, factory: factory}
}

func (a *GeminiAdapter) ReplyStream(ctx context.Context, call chat.Call, sink stream.Sink, counter *tokens.Counter) (chat.Result, error) {
	messages, err := toGeminiMessages(call.Messages)
	if err != nil {
		return chat.Result{}, err
	}
	model, closeModel, err := a.factory(ctx, call.Credential, call.Model)
	if err != nil {
		return chat.Result{}, fmt.Errorf("gemini: %w", googleai.MapError(err))
	}
	if closeModel != nil {
		defer closeModel()
	}

	var (
		text     strings.Builder
		sinkErr  error
		startOut = counter.Total()
	)
	callOpts := []llms.CallOption{
		llms.WithModel(call.Model),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			s := string(chunk)
			text.WriteString(s)
			sinkErr = stream.Forward(sink, stream.Delta{Content: s, TokensOut: counter.Add(s)})
			return sinkErr
		}),
	}
	if call.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(call.MaxTokens))
	}
	if call.Temperature != 0 {
		callOpts = append(callOpts, llms.WithTemperature(call.Temperature))
	}

	resp, err := model.GenerateContent(ctx, messages, callOpts...)
	// googleai stops quietly when the streaming func fails.
	if sinkErr != nil {
		return chat.Result{}, sinkErr
	}
	if err != nil {
		return chat.Result{}, fmt.Errorf("gemini: %w", googleai.MapError(err))
	}

	usage, reported := geminiUsage(resp)
	if reported {
		if err := stream.Forward(sink, stream.Usage{TokensIn: usage.TokensIn, TokensOut: usage.TokensOut}); err != nil {
			return chat.Result{}, err
		}
	}
	return chat.Result{
		Text:  text.String(),
		Usage: usageOrEstimate(usage, reported, call.Messages, counter, startOut),
	}, nil
}

// toGeminiMessages flattens tool traffic into plain text because tools are
// not offered on this path.
func toGeminiMessages(history []chat.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case chat.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case chat.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case chat.RoleAssistant:
			content := m.Content
			for _, tc := range m.ToolCalls {
				content += fmt.Sprintf("\n[called %s with %s]", tc.Name, tc.Arguments)
			}
			if strings.TrimSpace(content) == "" {
				content = " "
			}
			out = append(out, llms.TextParts(llms.ChatMessageTypeAI, content))
		case chat.RoleTool:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("[result of %s]\n%s", m.ToolName, m.Content)))
		default:
			return nil, fmt.Errorf("gemini: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func geminiUsage(resp *llms.ContentResponse) (chat.Usage, bool) {
	if resp == nil || len(resp.Choices) == 0 {
		return chat.Usage{}, false
	}
	info := resp.Choices[0].GenerationInfo
	in, okIn := intValue(info["input_tokens"])
	out, okOut := intValue(info["output_tokens"])
	if !okIn && !okOut {
		return chat.Usage{}, false
	}
	return chat.Usage{TokensIn: in, TokensOut: out}, true
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
