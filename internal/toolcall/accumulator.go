// Package toolcall reassembles streamed function-call fragments into
// complete tool calls.
package toolcall

import (
	"conclave/internal/chat"
	"conclave/internal/stream"
)

type record struct {
	index int
	id    string
	name  string
	args  []byte
}

// Accumulator collects tool-call fragments in arrival order. Records live in
// a slice; the provider index is only a lookup key, so output order is the
// order in which each index was first seen.
//
// Two framings are supported and produce identical records:
//   - Apply: every fragment names its index (OpenAI style); name and
//     arguments are both concatenated.
//   - Start + AppendOpen: a block opens with id and name, later fragments
//     carry only argument JSON for the most recently opened block
//     (Anthropic style).
type Accumulator struct {
	records []record
	open    int // position in records of the open block, -1 if none
}

func New() *Accumulator {
	return &Accumulator{open: -1}
}

// slot returns the position of index in records, appending it when new.
func (a *Accumulator) slot(index int) int {
	for i := range a.records {
		if a.records[i].index == index {
			return i
		}
	}
	a.records = append(a.records, record{index: index})
	return len(a.records) - 1
}

// Apply merges one index-addressed fragment.
func (a *Accumulator) Apply(d stream.ToolCallDelta) {
	r := &a.records[a.slot(d.Index)]
	if d.ID != "" && r.id == "" {
		r.id = d.ID
	}
	r.name += d.Name
	r.args = append(r.args, d.Arguments...)
}

// Start opens a new block. Later AppendOpen calls are addressed to it.
func (a *Accumulator) Start(index int, id, name string) {
	pos := a.slot(index)
	r := &a.records[pos]
	if id != "" {
		r.id = id
	}
	if name != "" {
		r.name = name
	}
	a.open = pos
}

// AppendOpen adds an argument fragment to the most recently opened block and
// returns that block's index. ok is false when no block is open.
func (a *Accumulator) AppendOpen(fragment string) (index int, ok bool) {
	if a.open < 0 || a.open >= len(a.records) {
		return 0, false
	}
	r := &a.records[a.open]
	r.args = append(r.args, fragment...)
	return r.index, true
}

// Close ends the open block, if any.
func (a *Accumulator) Close() {
	a.open = -1
}

func (a *Accumulator) Len() int { return len(a.records) }

// Records returns the finished calls. Records without a name are dropped;
// they cannot be dispatched.
func (a *Accumulator) Records() []chat.ToolCall {
	if len(a.records) == 0 {
		return nil
	}
	out := make([]chat.ToolCall, 0, len(a.records))
	for _, r := range a.records {
		if r.name == "" {
			continue
		}
		out = append(out, chat.ToolCall{ID: r.id, Name: r.name, Arguments: string(r.args)})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
