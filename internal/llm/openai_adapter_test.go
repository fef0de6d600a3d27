package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conclave/internal/chat"
	"conclave/internal/stream"
	"conclave/internal/tokens"

	"github.com/tmc/langchaingo/llms"
)

func sseServer(t *testing.T, path string, frames []string, inspect func(r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		body := map[string]any{}
		_ = json.Unmarshal(raw, &body)
		if inspect != nil {
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func data(v string) string { return "data: " + v + "\n\n" }

func TestOpenAIAdapterStreamsTextToolCallsAndUsage(t *testing.T) {
	frames := []string{
		data(`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`),
		data(`{"id":"1","choices":[{"index":0,"delta":{"content":"lo"}}]}`),
		data(`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]}}]}`),
		data(`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`),
		data(`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`),
		data(`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`),
		data(`{"id":"1","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7,"total_tokens":19}}`),
		data(`[DONE]`),
	}
	var gotBody map[string]any
	var gotAuth string
	srv := sseServer(t, "/chat/completions", frames, func(r *http.Request, body map[string]any) {
		gotBody = body
		gotAuth = r.Header.Get("Authorization")
	})

	a := NewOpenAIAdapter(srv.URL)
	var rec stream.Recorder
	counter := tokens.NewCounter()
	tools := []llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "lookup", Parameters: map[string]any{"type": "object"}}}}

	res, err := a.ReplyStream(context.Background(), chat.Call{
		Model:      "gpt-5",
		Credential: "sk-test",
		Messages:   []chat.Message{chat.System("be brief"), chat.User("hi")},
		Tools:      tools,
		MaxTokens:  100,
	}, &rec, counter)
	if err != nil {
		t.Fatalf("ReplyStream: %v", err)
	}

	if res.Text != "Hello" {
		t.Fatalf("text = %q", res.Text)
	}
	if !res.HasToolCalls() || res.ToolCalls[0].Name != "lookup" || res.ToolCalls[0].Arguments != `{"q":"go"}` || res.ToolCalls[0].ID != "call_1" {
		t.Fatalf("tool calls = %+v", res.ToolCalls)
	}
	if res.Usage != (chat.Usage{TokensIn: 12, TokensOut: 7}) {
		t.Fatalf("usage = %+v", res.Usage)
	}
	if counter.Total() != 2 {
		t.Fatalf("counter = %d, want 2", counter.Total())
	}

	want := "delta,delta,tool_call_delta,tool_call_delta,tool_call_delta,usage"
	if got := strings.Join(rec.Types(), ","); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if d := rec.Events()[1].(stream.Delta); d.TokensOut != 2 {
		t.Fatalf("running tokensOut = %d", d.TokensOut)
	}

	if gotAuth != "Bearer sk-test" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-5" || gotBody["max_completion_tokens"] != float64(100) {
		t.Fatalf("unexpected body: %v", gotBody)
	}
	if _, ok := gotBody["tools"]; !ok {
		t.Fatalf("tools missing from request")
	}
}

func TestAggregatorAdapterSendsHeadersAndMaxTokens(t *testing.T) {
	frames := []string{
		data(`{"id":"1","choices":[{"index":0,"delta":{"content":"ok"}}]}`),
		data(`[DONE]`),
	}
	var title string
	var body map[string]any
	srv := sseServer(t, "/api/v1/chat/completions", frames, func(r *http.Request, b map[string]any) {
		title = r.Header.Get("X-Title")
		body = b
	})

	a := NewAggregatorAdapter(srv.URL+"/api/v1/", WithHeaders(map[string]string{"X-Title": "conclave"}))
	res, err := a.ReplyStream(context.Background(), chat.Call{
		Model:      "anthropic/claude-sonnet-4.6",
		Credential: "or-key",
		Messages:   []chat.Message{chat.User("abcdefgh")},
		MaxTokens:  50,
	}, stream.Discard, tokens.NewCounter())
	if err != nil {
		t.Fatalf("ReplyStream: %v", err)
	}
	if title != "conclave" {
		t.Fatalf("X-Title = %q", title)
	}
	if body["model"] != "anthropic/claude-sonnet-4.6" || body["max_tokens"] != float64(50) {
		t.Fatalf("unexpected body: %v", body)
	}
	// no usage chunk: estimated from text
	if res.Usage != (chat.Usage{TokensIn: 2, TokensOut: 1}) {
		t.Fatalf("estimated usage = %+v", res.Usage)
	}
}

func TestOpenAIAdapterUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"upstream overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	var rec stream.Recorder
	_, err := NewOpenAIAdapter(srv.URL).ReplyStream(context.Background(), chat.Call{Model: "gpt-5", Credential: "k", Messages: []chat.Message{chat.User("x")}}, &rec, tokens.NewCounter())
	if err == nil {
		t.Fatalf("expected error")
	}
	if StatusCode(err) != http.StatusServiceUnavailable || !IsRetryable(err) {
		t.Fatalf("status=%d retryable=%v err=%v", StatusCode(err), IsRetryable(err), err)
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("no events expected on failed open")
	}
}

func TestOpenAIAdapterStopsOnSinkFailure(t *testing.T) {
	frames := []string{
		data(`{"id":"1","choices":[{"index":0,"delta":{"content":"a"}}]}`),
		data(`{"id":"1","choices":[{"index":0,"delta":{"content":"b"}}]}`),
		data(`[DONE]`),
	}
	srv := sseServer(t, "/chat/completions", frames, nil)
	sink := stream.SinkFunc(func(stream.Event) error { return errors.New("gone") })

	_, err := NewOpenAIAdapter(srv.URL).ReplyStream(context.Background(), chat.Call{Model: "m", Credential: "k"}, sink, tokens.NewCounter())
	if !errors.Is(err, stream.ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}

func TestToOpenAIMessages(t *testing.T) {
	msgs, err := toOpenAIMessages([]chat.Message{
		chat.User("q"),
		chat.Assistant("", chat.ToolCall{ID: "c1", Name: "f", Arguments: "{}"}),
		chat.ToolResult("c1", "f", "42"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 || msgs[1].ToolCalls[0].Function.Name != "f" || msgs[2].ToolCallID != "c1" || msgs[2].Role != "tool" {
		t.Fatalf("unexpected conversion: %+v", msgs)
	}
	if _, err := toOpenAIMessages([]chat.Message{{Role: "narrator"}}); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestReasoningModel(t *testing.T) {
	for model, want := range map[string]bool{
		"gpt-5":        true,
		"gpt-5-mini":   true,
		"o3-mini":      true,
		"gpt-4o":       false,
		"openai/gpt-5": false,
	} {
		if got := reasoningModel(model); got != want {
			t.Fatalf("reasoningModel(%q) = %v, want %v", model, got, want)
		}
	}
}
