package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"conclave/internal/chat"
	"conclave/internal/stream"
	"conclave/internal/tokens"
	"conclave/internal/toolcall"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// OpenAIAdapter speaks the OpenAI chat-completions streaming protocol. The
// aggregator is the same wire format at a different base URL.
type OpenAIAdapter struct {
	name    string
	baseURL string
	opts    options

	// completionTokens sends max_completion_tokens instead of max_tokens.
	completionTokens bool
}

func NewOpenAIAdapter(baseURL string, opts ...Option) *OpenAIAdapter {
	return &OpenAIAdapter{name: "openai", baseURL: baseURL, opts: newOptions(opts), completionTokens: true}
}

// NewAggregatorAdapter targets an OpenAI-compatible multi-vendor router.
// Canonical model ids are passed through unchanged.
func NewAggregatorAdapter(baseURL string, opts ...Option) *OpenAIAdapter {
	return &OpenAIAdapter{name: "aggregator", baseURL: baseURL, opts: newOptions(opts)}
}

func (a *OpenAIAdapter) client(credential string) *openai.Client {
	cfg := openai.DefaultConfig(credential)
	if a.baseURL != "" {
		cfg.BaseURL = strings.TrimRight(a.baseURL, "/")
	}
	cfg.HTTPClient = headerDoer{client: a.opts.httpClient, headers: a.opts.headers}
	return openai.NewClientWithConfig(cfg)
}

func (a *OpenAIAdapter) ReplyStream(ctx context.Context, call chat.Call, sink stream.Sink, counter *tokens.Counter) (chat.Result, error) {
	messages, err := toOpenAIMessages(call.Messages)
	if err != nil {
		return chat.Result{}, err
	}
	req := openai.ChatCompletionRequest{
		Model:         call.Model,
		Messages:      messages,
		Tools:         toOpenAITools(call.Tools),
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if call.MaxTokens > 0 {
		if a.completionTokens {
			req.MaxCompletionTokens = call.MaxTokens
		} else {
			req.MaxTokens = call.MaxTokens
		}
	}
	if call.Temperature != 0 && !(a.completionTokens && reasoningModel(call.Model)) {
		req.Temperature = float32(call.Temperature)
	}

	resp, err := a.client(call.Credential).CreateChatCompletionStream(ctx, req)
	if err != nil {
		return chat.Result{}, fmt.Errorf("%s: %w", a.name, err)
	}
	defer resp.Close()

	var (
		text     strings.Builder
		usage    chat.Usage
		reported bool
		acc      = toolcall.New()
		startOut = counter.Total()
	)
	for {
		chunk, err := resp.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return chat.Result{}, fmt.Errorf("%s: stream: %w", a.name, err)
		}

		if chunk.Usage != nil {
			usage = chat.Usage{TokensIn: chunk.Usage.PromptTokens, TokensOut: chunk.Usage.CompletionTokens}
			reported = true
			if err := stream.Forward(sink, stream.Usage{TokensIn: usage.TokensIn, TokensOut: usage.TokensOut}); err != nil {
				return chat.Result{}, err
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if err := stream.Forward(sink, stream.Delta{Content: delta.Content, TokensOut: counter.Add(delta.Content)}); err != nil {
				return chat.Result{}, err
			}
		}
		for pos, tc := range delta.ToolCalls {
			d := stream.ToolCallDelta{
				Index:     pos,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
			if tc.Index != nil {
				d.Index = *tc.Index
			}
			acc.Apply(d)
			if err := stream.Forward(sink, d); err != nil {
				return chat.Result{}, err
			}
		}
	}

	return chat.Result{
		Text:      text.String(),
		ToolCalls: ensureIDs(acc.Records()),
		Usage:     usageOrEstimate(usage, reported, call.Messages, counter, startOut),
	}, nil
}

// reasoningModel reports models that only accept the default temperature.
func reasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func toOpenAIMessages(history []chat.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case chat.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case chat.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case chat.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, msg)
		case chat.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		default:
			return nil, fmt.Errorf("openai: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func toOpenAITools(tools []llms.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
				Strict:      t.Function.Strict,
			},
		})
	}
	return out
}

// headerDoer adds fixed headers to every request.
type headerDoer struct {
	client  *http.Client
	headers map[string]string
}

func (d headerDoer) Do(req *http.Request) (*http.Response, error) {
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	return d.client.Do(req)
}
