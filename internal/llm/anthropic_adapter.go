package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"conclave/internal/chat"
	"conclave/internal/stream"
	"conclave/internal/tokens"
	"conclave/internal/toolcall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tmc/langchaingo/llms"
)

const defaultAnthropicMaxTokens = 4096

type AnthropicAdapter struct {
	baseURL string
	opts    options
}

func NewAnthropicAdapter(baseURL string, opts ...Option) *AnthropicAdapter {
	return &AnthropicAdapter{baseURL: baseURL, opts: newOptions(opts)}
}

func (a *AnthropicAdapter) client(credential string) anthropic.Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithHTTPClient(a.opts.httpClient),
		option.WithMaxRetries(0),
	}
	if a.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(a.baseURL))
	}
	for k, v := range a.opts.headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	return anthropic.NewClient(reqOpts...)
}

func (a *AnthropicAdapter) ReplyStream(ctx context.Context, call chat.Call, sink stream.Sink, counter *tokens.Counter) (chat.Result, error) {
	system, messages, err := toAnthropicMessages(call.Messages)
	if err != nil {
		return chat.Result{}, err
	}
	tools, err := toAnthropicTools(call.Tools)
	if err != nil {
		return chat.Result{}, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(call.Model),
		MaxTokens: defaultAnthropicMaxTokens,
		Messages:  messages,
		System:    system,
		Tools:     tools,
	}
	if call.MaxTokens > 0 {
		params.MaxTokens = int64(call.MaxTokens)
	}
	if call.Temperature != 0 {
		params.Temperature = anthropic.Float(call.Temperature)
	}

	client := a.client(call.Credential)
	resp := client.Messages.NewStreaming(ctx, params)
	defer resp.Close()

	var (
		text     strings.Builder
		usage    chat.Usage
		reported bool
		acc      = toolcall.New()
		startOut = counter.Total()
	)
	for resp.Next() {
		ev := resp.Current()
		switch ev.Type {
		case "message_start":
			usage.TokensIn = int(ev.Message.Usage.InputTokens)
			usage.TokensOut = int(ev.Message.Usage.OutputTokens)
			reported = true
			if err := stream.Forward(sink, stream.Usage{TokensIn: usage.TokensIn, TokensOut: usage.TokensOut}); err != nil {
				return chat.Result{}, err
			}

		case "content_block_start":
			if ev.ContentBlock.Type != "tool_use" {
				continue
			}
			idx := int(ev.Index)
			acc.Start(idx, ev.ContentBlock.ID, ev.ContentBlock.Name)
			d := stream.ToolCallDelta{Index: idx, ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
			if err := stream.Forward(sink, d); err != nil {
				return chat.Result{}, err
			}

		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text == "" {
					continue
				}
				text.WriteString(ev.Delta.Text)
				if err := stream.Forward(sink, stream.Delta{Content: ev.Delta.Text, TokensOut: counter.Add(ev.Delta.Text)}); err != nil {
					return chat.Result{}, err
				}
			case "input_json_delta":
				idx, ok := acc.AppendOpen(ev.Delta.PartialJSON)
				if !ok {
					continue
				}
				if err := stream.Forward(sink, stream.ToolCallDelta{Index: idx, Arguments: ev.Delta.PartialJSON}); err != nil {
					return chat.Result{}, err
				}
			}

		case "content_block_stop":
			acc.Close()

		case "message_delta":
			// Output tokens here are cumulative for the message.
			usage.TokensOut = int(ev.Usage.OutputTokens)
			if ev.Usage.InputTokens > 0 {
				usage.TokensIn = int(ev.Usage.InputTokens)
			}
			reported = true
			if err := stream.Forward(sink, stream.Usage{TokensIn: usage.TokensIn, TokensOut: usage.TokensOut}); err != nil {
				return chat.Result{}, err
			}
		}
	}
	if err := resp.Err(); err != nil {
		return chat.Result{}, fmt.Errorf("anthropic: %w", err)
	}

	calls := acc.Records()
	for i := range calls {
		// A tool with no parameters streams no input at all.
		if strings.TrimSpace(calls[i].Arguments) == "" {
			calls[i].Arguments = "{}"
		}
	}
	return chat.Result{
		Text:      text.String(),
		ToolCalls: ensureIDs(calls),
		Usage:     usageOrEstimate(usage, reported, call.Messages, counter, startOut),
	}, nil
}

// toAnthropicMessages lifts system messages into the system prompt and folds
// consecutive tool results into a single user turn.
func toAnthropicMessages(history []chat.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var (
		system []anthropic.TextBlockParam
		out    []anthropic.MessageParam
	)
	for _, m := range history {
		switch m.Role {
		case chat.RoleSystem:
			if m.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case chat.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case chat.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(" "))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case chat.RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, strings.HasPrefix(m.Content, "error: "))
			if n := len(out); n > 0 && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropic.NewUserMessage(block))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	return system, out, nil
}

func isToolResultTurn(m anthropic.MessageParam) bool {
	if m.Role != anthropic.MessageParamRoleUser || len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.OfToolResult == nil {
			return false
		}
	}
	return true
}

// toolInput turns streamed argument text back into a JSON value for replay.
func toolInput(args string) any {
	if json.Valid([]byte(args)) && strings.TrimSpace(args) != "" {
		return json.RawMessage(args)
	}
	return map[string]any{}
}

func toAnthropicTools(tools []llms.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		schema, err := schemaMap(t.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %s: %w", t.Function.Name, err)
		}
		input := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					input.Required = append(input.Required, s)
				}
			}
		}
		tool := anthropic.ToolUnionParamOfTool(input, t.Function.Name)
		if t.Function.Description != "" {
			tool.OfTool.Description = anthropic.String(t.Function.Description)
		}
		out = append(out, tool)
	}
	return out, nil
}

// schemaMap normalizes any JSON-encodable schema value to a generic map.
func schemaMap(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
