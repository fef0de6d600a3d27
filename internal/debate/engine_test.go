package debate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"conclave/internal/chat"
	"conclave/internal/stream"
	"conclave/internal/tokens"

	"github.com/google/go-cmp/cmp"
)

var roster = [3]string{"anthropic/claude-sonnet-4.6", "openai/gpt-5", "google/gemini-2.5-pro"}

const synth = "anthropic/claude-opus-4.1"

// scriptedStreamer answers each model with a fixed reply. fail may reject a
// call by request and 1-based call number.
type scriptedStreamer struct {
	calls    []chat.Request
	counters []*tokens.Counter
	fail     func(req chat.Request, n int) error
	reroute  map[string]string
}

func (s *scriptedStreamer) StreamWithFallback(ctx context.Context, req chat.Request, sink stream.Sink, counter *tokens.Counter) (chat.Result, error) {
	s.calls = append(s.calls, req)
	s.counters = append(s.counters, counter)
	if s.fail != nil {
		if err := s.fail(req, len(s.calls)); err != nil {
			return chat.Result{}, err
		}
	}
	actual := req.Model
	if to, ok := s.reroute[req.Model]; ok {
		if err := stream.Forward(sink, stream.Rerouting{From: req.Model, To: to, Provider: "X"}); err != nil {
			return chat.Result{}, err
		}
		actual = to
	}
	text := "view of " + req.Model
	if err := stream.Forward(sink, stream.Delta{Content: text, TokensOut: counter.Add(text)}); err != nil {
		return chat.Result{}, err
	}
	// usage events from the provider must not leak into the debate stream
	if err := stream.Forward(sink, stream.Usage{TokensIn: 10, TokensOut: 5}); err != nil {
		return chat.Result{}, err
	}
	return chat.Result{Text: text, ActualModel: actual, Tier: 1, Usage: chat.Usage{TokensIn: 10, TokensOut: 5}}, nil
}

func quietEngine(t *testing.T, s chat.Streamer) *Engine {
	t.Helper()
	e, err := New(s, roster, synth, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithMaxTokens(512))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func topic(text string) []chat.Message {
	return []chat.Message{chat.User("earlier"), chat.Assistant("reply"), chat.User(text)}
}

func TestDebateEventSequence(t *testing.T) {
	s := &scriptedStreamer{}
	var rec stream.Recorder

	sum, err := quietEngine(t, s).Run(context.Background(), topic("Is Go good?"), &rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var want []string
	want = append(want, "debate_start")
	for range 6 {
		want = append(want, "debate_turn_start", "debate_turn_delta", "debate_turn_end")
	}
	want = append(want, "debate_synthesis_start", "delta", "usage", "done")
	if diff := cmp.Diff(want, rec.Types()); diff != "" {
		t.Fatalf("event types (-want +got):\n%s", diff)
	}

	events := rec.Events()
	if diff := cmp.Diff(stream.DebateStart{Models: roster[:], Synthesizer: synth, Topic: "Is Go good?"}, events[0]); diff != "" {
		t.Fatalf("debate_start (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(stream.DebateTurnStart{Model: roster[0], Phase: PhaseOpening}, events[1]); diff != "" {
		t.Fatalf("first turn (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(stream.DebateTurnDelta{Model: roster[0], Content: "view of " + roster[0]}, events[2]); diff != "" {
		t.Fatalf("first delta (-want +got):\n%s", diff)
	}
	if got := events[10].(stream.DebateTurnStart); got.Phase != PhaseChallenge || got.Model != roster[0] {
		t.Fatalf("challenge phase start = %+v", got)
	}
	if diff := cmp.Diff(stream.Usage{TokensIn: 70, TokensOut: 35}, events[len(events)-2]); diff != "" {
		t.Fatalf("usage (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(stream.Done{ActualModel: CompositeModel}, events[len(events)-1]); diff != "" {
		t.Fatalf("done (-want +got):\n%s", diff)
	}

	if len(sum.Openings) != 3 || len(sum.Challenges) != 3 || sum.Synthesis.Model != synth {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Usage != (chat.Usage{TokensIn: 70, TokensOut: 35}) {
		t.Fatalf("summary usage = %+v", sum.Usage)
	}
}

func TestDebateSubCallsAreIsolated(t *testing.T) {
	s := &scriptedStreamer{}
	if _, err := quietEngine(t, s).Run(context.Background(), topic("q"), stream.Discard); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(s.calls) != 7 {
		t.Fatalf("sub-calls = %d, want 7", len(s.calls))
	}
	wantOrder := append(append(roster[:], roster[:]...), synth)
	for i, req := range s.calls {
		if req.Model != wantOrder[i] {
			t.Fatalf("call %d model = %s, want %s", i, req.Model, wantOrder[i])
		}
		if len(req.Tools) != 0 {
			t.Fatalf("call %d offered tools", i)
		}
		if req.MaxTokens != 512 {
			t.Fatalf("call %d max tokens = %d", i, req.MaxTokens)
		}
	}
	for i := range s.counters {
		for j := i + 1; j < len(s.counters); j++ {
			if s.counters[i] == s.counters[j] {
				t.Fatalf("calls %d and %d share a token counter", i, j)
			}
		}
	}

	// challenge prompts carry every opening
	challenge := s.calls[3].Messages[1].Content
	for _, m := range roster {
		if !strings.Contains(challenge, "view of "+m) {
			t.Fatalf("challenge prompt missing opening of %s:\n%s", m, challenge)
		}
	}
	synthesis := s.calls[6].Messages[1].Content
	if strings.Count(synthesis, "view of ") != 6 {
		t.Fatalf("synthesis prompt should hold six turns:\n%s", synthesis)
	}
}

func TestUnavailableTurnUsesPlaceholder(t *testing.T) {
	s := &scriptedStreamer{fail: func(req chat.Request, n int) error {
		if req.Model == roster[1] && n == 2 {
			return errors.New("all provider tiers exhausted")
		}
		return nil
	}}
	var rec stream.Recorder

	sum, err := quietEngine(t, s).Run(context.Background(), topic("q"), &rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sum.Openings[1].Failed || sum.Openings[1].Text != Unavailable {
		t.Fatalf("failed opening = %+v", sum.Openings[1])
	}
	if sum.FailedTurns() != 1 {
		t.Fatalf("failed turns = %d", sum.FailedTurns())
	}
	// six successful sub-calls contribute, the failed one adds nothing
	if sum.Usage != (chat.Usage{TokensIn: 60, TokensOut: 30}) {
		t.Fatalf("usage = %+v", sum.Usage)
	}

	events := rec.Events()
	want := []stream.Event{
		stream.DebateTurnStart{Model: roster[1], Phase: PhaseOpening},
		stream.DebateTurnDelta{Model: roster[1], Content: Unavailable},
		stream.DebateTurnEnd{Model: roster[1], Phase: PhaseOpening},
	}
	if diff := cmp.Diff(want, events[4:7]); diff != "" {
		t.Fatalf("failed turn events (-want +got):\n%s", diff)
	}
	if !strings.Contains(s.calls[3].Messages[1].Content, Unavailable) {
		t.Fatalf("placeholder should be visible to later phases")
	}
	if rec.Count("done") != 1 {
		t.Fatalf("debate must still finish")
	}
}

func TestUnavailableSynthesisIsPlainDelta(t *testing.T) {
	s := &scriptedStreamer{fail: func(req chat.Request, _ int) error {
		if req.Model == synth {
			return errors.New("down")
		}
		return nil
	}}
	var rec stream.Recorder

	sum, err := quietEngine(t, s).Run(context.Background(), topic("q"), &rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sum.Synthesis.Failed {
		t.Fatalf("synthesis should be marked failed")
	}
	events := rec.Events()
	if diff := cmp.Diff(stream.Delta{Content: Unavailable}, events[len(events)-3]); diff != "" {
		t.Fatalf("placeholder (-want +got):\n%s", diff)
	}
}

func TestDebateForwardsRerouting(t *testing.T) {
	s := &scriptedStreamer{reroute: map[string]string{roster[2]: "openai/gpt-5-mini"}}
	var rec stream.Recorder

	sum, err := quietEngine(t, s).Run(context.Background(), topic("q"), &rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := rec.Count("rerouting"); n != 2 {
		t.Fatalf("rerouting events = %d, want 2", n)
	}
	if sum.Openings[2].ActualModel != "openai/gpt-5-mini" || sum.Openings[2].Model != roster[2] {
		t.Fatalf("opening 3 = %+v", sum.Openings[2])
	}
}

func TestDebateCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &scriptedStreamer{fail: func(req chat.Request, n int) error {
		if n == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}}
	var rec stream.Recorder

	_, err := quietEngine(t, s).Run(ctx, topic("q"), &rec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(s.calls) != 2 {
		t.Fatalf("sub-calls after cancel: %d", len(s.calls))
	}
	for _, ev := range rec.Events() {
		if d, ok := ev.(stream.DebateTurnDelta); ok && d.Content == Unavailable {
			t.Fatalf("cancellation must not produce placeholders")
		}
	}
	if rec.Count("done") != 0 {
		t.Fatalf("no done after cancellation")
	}
}

func TestDebateSinkFailureAborts(t *testing.T) {
	s := &scriptedStreamer{}
	n := 0
	sink := stream.SinkFunc(func(stream.Event) error {
		n++
		if n > 3 {
			return errors.New("gone")
		}
		return nil
	})

	_, err := quietEngine(t, s).Run(context.Background(), topic("q"), sink)
	if !errors.Is(err, stream.ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
	if len(s.calls) > 2 {
		t.Fatalf("debate kept calling models after the sink failed: %d", len(s.calls))
	}
}

func TestDebateNeedsTopic(t *testing.T) {
	var rec stream.Recorder
	_, err := quietEngine(t, &scriptedStreamer{}).Run(context.Background(), []chat.Message{chat.System("x")}, &rec)
	if !errors.Is(err, ErrEmptyTopic) {
		t.Fatalf("expected ErrEmptyTopic, got %v", err)
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("no events expected")
	}
}

func TestNewValidatesRoster(t *testing.T) {
	cases := map[string]struct {
		roster [3]string
		synth  string
	}{
		"empty seat":          {[3]string{"a", "", "c"}, "s"},
		"duplicate":           {[3]string{"a", "b", "a"}, "s"},
		"missing synth":       {[3]string{"a", "b", "c"}, " "},
		"synth in the roster": {[3]string{"a", "b", "c"}, "b"},
	}
	for name, c := range cases {
		if _, err := New(&scriptedStreamer{}, c.roster, c.synth); !errors.Is(err, ErrInvalidRoster) {
			t.Fatalf("%s: expected ErrInvalidRoster, got %v", name, err)
		}
	}
}

func TestTranscript(t *testing.T) {
	sum, err := quietEngine(t, &scriptedStreamer{}).Run(context.Background(), topic("Tabs or spaces?"), stream.Discard)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := sum.Transcript()
	for _, want := range []string{"# Tabs or spaces?", "## Opening positions", "## Challenges", "## Synthesis (" + synth + ")"} {
		if !strings.Contains(out, want) {
			t.Fatalf("transcript missing %q:\n%s", want, out)
		}
	}
}

type visibilityStreamer struct {
	usageVisible, textVisible []bool
}

func (v *visibilityStreamer) StreamWithFallback(_ context.Context, req chat.Request, sink stream.Sink, _ *tokens.Counter) (chat.Result, error) {
	v.usageVisible = append(v.usageVisible, stream.Visible(sink, stream.Usage{TokensIn: 1}))
	v.textVisible = append(v.textVisible, stream.Visible(sink, stream.Delta{Content: "x"}))
	return chat.Result{Text: "ok", ActualModel: req.Model}, nil
}

func TestSubCallSinksOnlyExposeText(t *testing.T) {
	v := &visibilityStreamer{}
	if _, err := quietEngine(t, v).Run(context.Background(), topic("q"), &stream.Recorder{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(v.textVisible) != 7 {
		t.Fatalf("sub-calls = %d, want 7", len(v.textVisible))
	}
	for i := range v.textVisible {
		if v.usageVisible[i] || !v.textVisible[i] {
			t.Fatalf("call %d: usage visible=%v text visible=%v", i+1, v.usageVisible[i], v.textVisible[i])
		}
	}
}
