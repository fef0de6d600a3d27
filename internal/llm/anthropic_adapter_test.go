package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conclave/internal/chat"
	"conclave/internal/stream"
	"conclave/internal/tokens"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tmc/langchaingo/llms"
)

func frame(event, payload string) string {
	return "event: " + event + "\ndata: " + payload + "\n\n"
}

func TestAnthropicAdapterStreamsTextAndToolUse(t *testing.T) {
	frames := []string{
		frame("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-6","stop_reason":null,"usage":{"input_tokens":21,"output_tokens":1}}}`),
		frame("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		frame("ping", `{"type":"ping"}`),
		frame("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me check"}}`),
		frame("content_block_stop", `{"type":"content_block_stop","index":0}`),
		frame("content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"current_time","input":{}}}`),
		frame("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"zone\":"}}`),
		frame("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"UTC\"}"}}`),
		frame("content_block_stop", `{"type":"content_block_stop","index":1}`),
		frame("message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":15}}`),
		frame("message_stop", `{"type":"message_stop"}`),
	}
	var body map[string]any
	var key string
	srv := sseServer(t, "/v1/messages", frames, func(r *http.Request, b map[string]any) {
		body = b
		key = r.Header.Get("X-Api-Key")
	})

	var rec stream.Recorder
	tools := []llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{
		Name:        "current_time",
		Description: "Current time",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"zone": map[string]any{"type": "string"}}, "required": []string{"zone"}},
	}}}
	res, err := NewAnthropicAdapter(srv.URL).ReplyStream(context.Background(), chat.Call{
		Model:      "claude-sonnet-4-6",
		Credential: "ant-key",
		Messages:   []chat.Message{chat.System("sys"), chat.User("what time is it")},
		Tools:      tools,
	}, &rec, tokens.NewCounter())
	if err != nil {
		t.Fatalf("ReplyStream: %v", err)
	}

	if res.Text != "Let me check" {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ID != "toolu_1" || res.ToolCalls[0].Arguments != `{"zone":"UTC"}` {
		t.Fatalf("tool calls = %+v", res.ToolCalls)
	}
	if res.Usage != (chat.Usage{TokensIn: 21, TokensOut: 15}) {
		t.Fatalf("usage = %+v", res.Usage)
	}
	want := "usage,delta,tool_call_delta,tool_call_delta,tool_call_delta,usage"
	if got := strings.Join(rec.Types(), ","); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}

	if key != "ant-key" {
		t.Fatalf("api key = %q", key)
	}
	if body["max_tokens"] != float64(defaultAnthropicMaxTokens) {
		t.Fatalf("max_tokens = %v", body["max_tokens"])
	}
	if sys, ok := body["system"].([]any); !ok || len(sys) != 1 {
		t.Fatalf("system not lifted: %v", body["system"])
	}
	if msgs := body["messages"].([]any); len(msgs) != 1 {
		t.Fatalf("messages = %v", msgs)
	}
}

func TestAnthropicAdapterParameterlessTool(t *testing.T) {
	frames := []string{
		frame("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"current_time","input":{}}}`),
		frame("content_block_stop", `{"type":"content_block_stop","index":0}`),
		frame("message_stop", `{"type":"message_stop"}`),
	}
	srv := sseServer(t, "/v1/messages", frames, nil)

	res, err := NewAnthropicAdapter(srv.URL).ReplyStream(context.Background(), chat.Call{Model: "m", Credential: "k", Messages: []chat.Message{chat.User("now")}}, stream.Discard, tokens.NewCounter())
	if err != nil {
		t.Fatalf("ReplyStream: %v", err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Arguments != "{}" {
		t.Fatalf("tool calls = %+v", res.ToolCalls)
	}
	// nothing reported: estimated
	if res.Usage.TokensIn != 1 || res.Usage.TokensOut != 0 {
		t.Fatalf("usage = %+v", res.Usage)
	}
}

func TestAnthropicAdapterUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	_, err := NewAnthropicAdapter(srv.URL).ReplyStream(context.Background(), chat.Call{Model: "m", Credential: "k", Messages: []chat.Message{chat.User("x")}}, stream.Discard, tokens.NewCounter())
	if err == nil {
		t.Fatalf("expected error")
	}
	if StatusCode(err) != http.StatusTooManyRequests || !IsRetryable(err) {
		t.Fatalf("status=%d retryable=%v err=%v", StatusCode(err), IsRetryable(err), err)
	}
}

func TestToAnthropicMessagesFoldsToolResults(t *testing.T) {
	system, msgs, err := toAnthropicMessages([]chat.Message{
		chat.System("rules"),
		chat.User("q"),
		chat.Assistant("", chat.ToolCall{ID: "a", Name: "f", Arguments: `{"x":1}`}, chat.ToolCall{ID: "b", Name: "g", Arguments: "not json"}),
		chat.ToolResult("a", "f", "1"),
		chat.ToolResult("b", "g", "error: boom"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(system) != 1 || system[0].Text != "rules" {
		t.Fatalf("system = %+v", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3 turns, got %d", len(msgs))
	}
	last := msgs[2]
	if last.Role != anthropic.MessageParamRoleUser || len(last.Content) != 2 {
		t.Fatalf("tool results not folded: %+v", last)
	}
	if last.Content[1].OfToolResult == nil || !last.Content[1].OfToolResult.IsError.Value {
		t.Fatalf("error result not flagged")
	}

	uses := msgs[1].Content
	if len(uses) != 2 || uses[0].OfToolUse == nil || uses[1].OfToolUse == nil {
		t.Fatalf("tool_use blocks missing: %+v", uses)
	}
	if raw, ok := uses[0].OfToolUse.Input.(json.RawMessage); !ok || string(raw) != `{"x":1}` {
		t.Fatalf("valid args not kept: %#v", uses[0].OfToolUse.Input)
	}
	if m, ok := uses[1].OfToolUse.Input.(map[string]any); !ok || len(m) != 0 {
		t.Fatalf("invalid args not replaced: %#v", uses[1].OfToolUse.Input)
	}
}
