package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrSinkClosed marks a failure to deliver an event downstream. Producers
// stop streaming when they see it; nothing further can reach the client.
var ErrSinkClosed = errors.New("event sink closed")

// Sink receives events in the order they are produced.
type Sink interface {
	Emit(ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) Emit(ev Event) error { return f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) error { return nil })

// Forward emits ev and tags any delivery failure with ErrSinkClosed.
func Forward(sink Sink, ev Event) error {
	if err := sink.Emit(ev); err != nil {
		if errors.Is(err, ErrSinkClosed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrSinkClosed, err)
	}
	return nil
}

// Filter is implemented by sinks that accept some events without passing
// them on.
type Filter interface {
	Passes(ev Event) bool
}

// Visible reports whether ev is response content that reached the client
// through sink. Bookkeeping events such as Usage never count, nor does
// anything a Filter drops.
func Visible(sink Sink, ev Event) bool {
	switch ev.(type) {
	case Delta, ToolCallDelta:
	default:
		return false
	}
	if f, ok := sink.(Filter); ok {
		return f.Passes(ev)
	}
	return true
}

// Recorder keeps every event in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the wire type of every recorded event.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type()
	}
	return out
}

// Text concatenates the content of all recorded Delta events.
func (r *Recorder) Text() string {
	var b strings.Builder
	for _, ev := range r.Events() {
		if d, ok := ev.(Delta); ok {
			b.WriteString(d.Content)
		}
	}
	return b.String()
}

// Count returns how many recorded events have the given wire type.
func (r *Recorder) Count(kind string) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Type() == kind {
			n++
		}
	}
	return n
}
