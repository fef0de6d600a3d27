package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"conclave/internal/debate"
	"conclave/internal/stream"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
)

func feed(t *testing.T, m DebateModel, msgs ...tea.Msg) DebateModel {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		if m, ok = next.(DebateModel); !ok {
			t.Fatalf("Update returned %T", next)
		}
	}
	return m
}

func statuses(m DebateModel) map[string]SeatStatus {
	out := map[string]SeatStatus{}
	for _, s := range m.seats {
		out[s.model] = s.status
	}
	return out
}

func TestDebateModelTracksSeats(t *testing.T) {
	m := NewDebateModel(make(chan stream.Event), nil)
	m = feed(t, m,
		tea.WindowSizeMsg{Width: 100, Height: 40},
		eventMsg{stream.DebateStart{Models: []string{"a", "b", "c"}, Synthesizer: "d", Topic: "tabs or spaces"}},
		eventMsg{stream.DebateTurnStart{Model: "a", Phase: debate.PhaseOpening}},
		eventMsg{stream.DebateTurnDelta{Model: "a", Content: "tabs"}},
	)
	if m.current != "a" || m.phase != debate.PhaseOpening {
		t.Fatalf("current = %q phase = %q", m.current, m.phase)
	}

	m = feed(t, m,
		eventMsg{stream.DebateTurnEnd{Model: "a", Phase: debate.PhaseOpening}},
		eventMsg{stream.DebateTurnStart{Model: "b", Phase: debate.PhaseOpening}},
		eventMsg{stream.DebateTurnDelta{Model: "b", Content: debate.Unavailable}},
		eventMsg{stream.DebateTurnEnd{Model: "b", Phase: debate.PhaseOpening}},
		eventMsg{stream.Rerouting{From: "c", To: "a", Provider: "C"}},
	)

	want := map[string]SeatStatus{"a": StatusDone, "b": StatusUnavailable, "c": StatusIdle}
	if diff := cmp.Diff(want, statuses(m)); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}

	view := m.View()
	for _, s := range []string{"tabs or spaces", "unavailable", "waiting", "synthesizer", "c unavailable, answering with a"} {
		if !strings.Contains(view, s) {
			t.Fatalf("view missing %q:\n%s", s, view)
		}
	}
	if !strings.Contains(m.transcript.String(), "tabs") {
		t.Fatalf("transcript missing turn text: %q", m.transcript.String())
	}
}

func TestDebateModelSynthesisAndFinish(t *testing.T) {
	m := NewDebateModel(make(chan stream.Event), nil)
	m = feed(t, m,
		tea.WindowSizeMsg{Width: 80, Height: 30},
		eventMsg{stream.DebateStart{Models: []string{"a", "b", "c"}, Synthesizer: "d"}},
		eventMsg{stream.DebateSynthesisStart{Model: "d"}},
		eventMsg{stream.Delta{Content: "verdict"}},
	)
	if m.current != "d" || m.phase != debate.PhaseSynthesis {
		t.Fatalf("current = %q phase = %q", m.current, m.phase)
	}
	m = feed(t, m, eventMsg{stream.Done{ActualModel: debate.CompositeModel}}, finishedMsg{})
	if !m.done || m.err != nil {
		t.Fatalf("done = %v err = %v", m.done, m.err)
	}
	if !strings.Contains(m.View(), "debate complete") {
		t.Fatalf("view: %s", m.View())
	}

	m = feed(t, m, finishedMsg{err: errors.New("boom")})
	if !strings.Contains(m.View(), "debate failed: boom") {
		t.Fatalf("view: %s", m.View())
	}
}

func TestDebateModelQuits(t *testing.T) {
	m := NewDebateModel(make(chan stream.Event), nil)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if next.(DebateModel).View() != "" {
		t.Fatal("view should be empty after quitting")
	}
}

func TestListenReportsOutcomeAfterClose(t *testing.T) {
	events := make(chan stream.Event, 1)
	boom := errors.New("boom")
	m := NewDebateModel(events, func() error { return boom })

	events <- stream.Delta{Content: "x"}
	if msg, ok := m.listen()().(eventMsg); !ok || msg.ev != (stream.Delta{Content: "x"}) {
		t.Fatalf("expected the queued event, got %#v", msg)
	}
	close(events)
	msg, ok := m.listen()().(finishedMsg)
	if !ok || !errors.Is(msg.err, boom) {
		t.Fatalf("expected finishedMsg with boom, got %#v", msg)
	}
}

func TestChannelSinkStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := channelSink{ctx: ctx, ch: make(chan stream.Event)}

	errc := make(chan error, 1)
	go func() { errc <- sink.Emit(stream.Delta{Content: "x"}) }()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Emit did not return after cancel")
	}
}

func TestSeatStatusString(t *testing.T) {
	for s, want := range map[SeatStatus]string{
		StatusIdle:        "waiting",
		StatusResponding:  "responding",
		StatusDone:        "done",
		StatusUnavailable: "unavailable",
		SeatStatus(99):    "unknown",
	} {
		if got := s.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
