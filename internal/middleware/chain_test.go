package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type testMW struct {
	id       string
	priority int
	cancel   bool
	seen     *[]string
}

func (m testMW) ID() string    { return m.id }
func (m testMW) Priority() int { return m.priority }
func (m testMW) OnEvent(_ context.Context, _ *Event) (Decision, error) {
	*m.seen = append(*m.seen, m.id)
	return Decision{Cancel: m.cancel}, nil
}

type conditionalTestMW struct {
	testMW
	enabled bool
}

func (m conditionalTestMW) ShouldLoad(_ context.Context, _ *Event) bool { return m.enabled }

func TestChainPriorityAndCancel(t *testing.T) {
	seen := []string{}
	c := NewChain(
		testMW{id: "low", priority: 1, seen: &seen},
		testMW{id: "high", priority: 10, cancel: true, seen: &seen},
		testMW{id: "mid", priority: 5, seen: &seen},
	)

	_, err := c.Dispatch(context.Background(), &Event{Name: EventBeforeLLMRequest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "high" {
		t.Fatalf("expected only high to run (cancel), got %v", seen)
	}
}

func TestChainConditionalMiddlewareSkip(t *testing.T) {
	seen := []string{}
	c := NewChain(
		conditionalTestMW{testMW: testMW{id: "off", priority: 10, seen: &seen}, enabled: false},
		conditionalTestMW{testMW: testMW{id: "on", priority: 5, seen: &seen}, enabled: true},
	)

	results, err := c.Dispatch(context.Background(), &Event{Name: EventBeforeLLMRequest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := join(seen); got != "on" {
		t.Fatalf("expected only enabled middleware to run, got %s", got)
	}
	if len(results) != 2 {
		t.Fatalf("expected results for both middlewares, got %d", len(results))
	}
	if results[0].MiddlewareID != "off" || results[0].Decision.Reason == "" {
		t.Fatalf("expected first result to be skipped middleware with a reason, got %+v", results[0])
	}
}

func TestChainStableOrderOnEqualPriority(t *testing.T) {
	seen := []string{}
	c := NewChain(
		testMW{id: "a", priority: 5, seen: &seen},
		testMW{id: "b", priority: 5, seen: &seen},
		testMW{id: "c", priority: 5, seen: &seen},
	)

	_, err := c.Dispatch(context.Background(), &Event{Name: EventBeforeLLMRequest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := join(seen); got != "a,b,c" {
		t.Fatalf("expected stable registration order, got %s", got)
	}
}

func TestChainOverrideParamsAndDebugLog(t *testing.T) {
	var buf bytes.Buffer
	c := NewChain(overrideMW{maxTokens: 64})
	c.SetDebugWriter(&buf)

	e := &Event{Name: EventBeforeLLMRequest, Round: 2, Params: &LLMParams{Model: "openai/gpt-5", MaxTokens: 1000}}
	if _, err := c.Dispatch(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Params.MaxTokens != 64 || e.Params.Model != "openai/gpt-5" {
		t.Fatalf("expected override applied, got %+v", e.Params)
	}

	var entry debugEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("debug line is not JSON: %v (%q)", err, buf.String())
	}
	if entry.MiddlewareID != "override" || entry.Round != 2 || !entry.Override || entry.MaxTokens != 64 {
		t.Fatalf("unexpected debug entry: %+v", entry)
	}
}

type failingWriter struct{ calls int }

func (w *failingWriter) Write([]byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestChainDebugWriteFailureLoggedOnce(t *testing.T) {
	var logs bytes.Buffer
	w := &failingWriter{}
	c := NewChain(overrideMW{maxTokens: 64})
	c.SetDebugWriter(w)
	c.SetLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	for round := 1; round <= 3; round++ {
		e := &Event{Name: EventBeforeLLMRequest, Round: round, Params: &LLMParams{MaxTokens: 1000}}
		if _, err := c.Dispatch(context.Background(), e); err != nil {
			t.Fatalf("dispatch must not fail on debug log errors: %v", err)
		}
	}
	if w.calls != 3 {
		t.Fatalf("writes = %d, want 3", w.calls)
	}
	if n := strings.Count(logs.String(), "middleware debug log write failed"); n != 1 {
		t.Fatalf("failure logged %d times, want 1:\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), "disk full") {
		t.Fatalf("cause missing from log:\n%s", logs.String())
	}
}

func TestCanceledFindsFirstCancel(t *testing.T) {
	results := []DecisionResult{
		{MiddlewareID: "a"},
		{MiddlewareID: "b", Decision: Decision{Cancel: true, Reason: "no"}},
	}
	dec, ok := Canceled(results)
	if !ok || dec.Reason != "no" {
		t.Fatalf("expected cancel from b, got %+v %v", dec, ok)
	}
	if _, ok := Canceled(results[:1]); ok {
		t.Fatalf("expected no cancel")
	}
}

func TestNewChainFromRegistrySkipsDisabled(t *testing.T) {
	seen := []string{}
	Register(testMW{id: "registry-a", priority: 1, seen: &seen})
	Register(testMW{id: "registry-b", priority: 2, seen: &seen})

	c := NewChainFromRegistry(nil, []string{"registry-b"})
	if c == nil {
		t.Fatalf("expected chain")
	}
	for _, mw := range c.List() {
		if mw.ID() == "registry-b" {
			t.Fatalf("disabled middleware still present")
		}
	}
}

type overrideMW struct{ maxTokens int }

func (overrideMW) ID() string    { return "override" }
func (overrideMW) Priority() int { return 1 }
func (m overrideMW) OnEvent(_ context.Context, e *Event) (Decision, error) {
	p := e.Params.Clone()
	p.MaxTokens = m.maxTokens
	return Decision{OverrideParams: p, Reason: "capped"}, nil
}

func join(in []string) string {
	if len(in) == 0 {
		return ""
	}
	out := in[0]
	for i := 1; i < len(in); i++ {
		out += "," + in[i]
	}
	return out
}
