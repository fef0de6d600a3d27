// Package debate runs a three-phase deliberation between a fixed roster of
// three models and a separate synthesis model. Every sub-call goes through
// the fallback orchestrator, one at a time.
package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"conclave/internal/chat"
	"conclave/internal/stream"
	"conclave/internal/tokens"
)

const (
	PhaseOpening   = "opening"
	PhaseChallenge = "challenge"
	PhaseSynthesis = "synthesis"

	// CompositeModel is reported as the actual model of a finished debate.
	CompositeModel = "debate-composite"

	// Unavailable replaces the content of a turn whose model could not answer.
	Unavailable = "this model was unavailable for this round"
)

var (
	ErrInvalidRoster = errors.New("invalid debate roster")
	ErrEmptyTopic    = errors.New("debate topic is empty")
)

// Turn is one completed sub-call.
type Turn struct {
	Model       string
	Phase       string
	Text        string
	ActualModel string
	Failed      bool
	Usage       chat.Usage
}

// Summary is the full record of one debate.
type Summary struct {
	Topic      string
	Openings   []Turn
	Challenges []Turn
	Synthesis  Turn
	Usage      chat.Usage
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxTokens caps the output of every sub-call.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		e.maxTokens = n
	}
}

type Engine struct {
	streamer    chat.Streamer
	roster      [3]string
	synthesizer string
	maxTokens   int
	logger      *slog.Logger
}

func New(streamer chat.Streamer, roster [3]string, synthesizer string, opts ...Option) (*Engine, error) {
	for i, m := range roster {
		if strings.TrimSpace(m) == "" {
			return nil, fmt.Errorf("%w: seat %d is empty", ErrInvalidRoster, i+1)
		}
		if slices.Index(roster[:], m) != i {
			return nil, fmt.Errorf("%w: %s appears twice", ErrInvalidRoster, m)
		}
	}
	if strings.TrimSpace(synthesizer) == "" {
		return nil, fmt.Errorf("%w: no synthesizer", ErrInvalidRoster)
	}
	if slices.Contains(roster[:], synthesizer) {
		return nil, fmt.Errorf("%w: synthesizer %s is also in the roster", ErrInvalidRoster, synthesizer)
	}

	e := &Engine{
		streamer:    streamer,
		roster:      roster,
		synthesizer: synthesizer,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Roster() [3]string { return e.roster }

func (e *Engine) Synthesizer() string { return e.synthesizer }

// Run debates the last user message of conversation. Unavailable models get
// placeholder turns; only cancellation or a failing sink stops the debate.
func (e *Engine) Run(ctx context.Context, conversation []chat.Message, sink stream.Sink) (Summary, error) {
	topic := strings.TrimSpace(chat.LastUserText(conversation))
	if topic == "" {
		return Summary{}, ErrEmptyTopic
	}
	sum := Summary{Topic: topic}

	if err := stream.Forward(sink, stream.DebateStart{Models: e.roster[:], Synthesizer: e.synthesizer, Topic: topic}); err != nil {
		return sum, err
	}

	for _, model := range e.roster {
		turn, err := e.turn(ctx, model, PhaseOpening, openingMessages(topic), sink)
		if err != nil {
			return sum, err
		}
		sum.Openings = append(sum.Openings, turn)
		sum.Usage = sum.Usage.Add(turn.Usage)
	}

	for i, model := range e.roster {
		others := make([]Turn, 0, len(sum.Openings)-1)
		for j, t := range sum.Openings {
			if j != i {
				others = append(others, t)
			}
		}
		turn, err := e.turn(ctx, model, PhaseChallenge, challengeMessages(topic, sum.Openings[i], others), sink)
		if err != nil {
			return sum, err
		}
		sum.Challenges = append(sum.Challenges, turn)
		sum.Usage = sum.Usage.Add(turn.Usage)
	}

	synth, err := e.synthesize(ctx, synthesisMessages(topic, sum.Openings, sum.Challenges), sink)
	if err != nil {
		return sum, err
	}
	sum.Synthesis = synth
	sum.Usage = sum.Usage.Add(synth.Usage)

	if err := stream.Forward(sink, stream.Usage{TokensIn: sum.Usage.TokensIn, TokensOut: sum.Usage.TokensOut}); err != nil {
		return sum, err
	}
	if err := stream.Forward(sink, stream.Done{ActualModel: CompositeModel}); err != nil {
		return sum, err
	}
	e.logger.Info("debate complete",
		"topic_chars", len(topic),
		"failed_turns", sum.FailedTurns(),
		"tokens_in", sum.Usage.TokensIn,
		"tokens_out", sum.Usage.TokensOut)
	return sum, nil
}

// turn runs one opening or challenge sub-call with its text tagged by model.
func (e *Engine) turn(ctx context.Context, model, phase string, messages []chat.Message, sink stream.Sink) (Turn, error) {
	if err := stream.Forward(sink, stream.DebateTurnStart{Model: model, Phase: phase}); err != nil {
		return Turn{}, err
	}

	turn, err := e.call(ctx, model, phase, messages, turnSink{next: sink, model: model})
	if err != nil {
		return Turn{}, err
	}
	if turn.Failed {
		if err := stream.Forward(sink, stream.DebateTurnDelta{Model: model, Content: Unavailable}); err != nil {
			return Turn{}, err
		}
	}

	if err := stream.Forward(sink, stream.DebateTurnEnd{Model: model, Phase: phase}); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// synthesize runs the final sub-call; its text goes out as plain deltas.
func (e *Engine) synthesize(ctx context.Context, messages []chat.Message, sink stream.Sink) (Turn, error) {
	if err := stream.Forward(sink, stream.DebateSynthesisStart{Model: e.synthesizer}); err != nil {
		return Turn{}, err
	}

	turn, err := e.call(ctx, e.synthesizer, PhaseSynthesis, messages, turnSink{next: sink})
	if err != nil {
		return Turn{}, err
	}
	if turn.Failed {
		if err := stream.Forward(sink, stream.Delta{Content: Unavailable}); err != nil {
			return Turn{}, err
		}
	}
	return turn, nil
}

// turnSink passes a sub-call's text and reroute notices to the client. With
// a model set, text goes out as debate_turn_delta for that model.
type turnSink struct {
	next  stream.Sink
	model string
}

func (t turnSink) Emit(ev stream.Event) error {
	if !t.Passes(ev) {
		return nil
	}
	if d, ok := ev.(stream.Delta); ok && t.model != "" {
		return t.next.Emit(stream.DebateTurnDelta{Model: t.model, Content: d.Content})
	}
	return t.next.Emit(ev)
}

func (t turnSink) Passes(ev stream.Event) bool {
	switch ev.(type) {
	case stream.Delta, stream.Rerouting:
		return true
	}
	return false
}

// call streams one sub-call with its own token counter and no tools. A
// provider failure yields a failed turn; only abandonment is an error.
func (e *Engine) call(ctx context.Context, model, phase string, messages []chat.Message, sink stream.Sink) (Turn, error) {
	req := chat.Request{
		Model:     model,
		Messages:  messages,
		MaxTokens: e.maxTokens,
		Metadata:  map[string]any{"debate_phase": phase},
	}
	res, err := e.streamer.StreamWithFallback(ctx, req, sink, tokens.NewCounter())
	if err == nil {
		return Turn{Model: model, Phase: phase, Text: res.Text, ActualModel: res.ActualModel, Usage: res.Usage}, nil
	}
	if ctx.Err() != nil {
		return Turn{}, fmt.Errorf("debate %s %s: %w", phase, model, context.Cause(ctx))
	}
	if errors.Is(err, stream.ErrSinkClosed) {
		return Turn{}, err
	}
	e.logger.Warn("debate turn unavailable", "model", model, "phase", phase, "error", err)
	return Turn{Model: model, Phase: phase, Text: Unavailable, Failed: true}, nil
}

// FailedTurns counts sub-calls that fell back to the placeholder.
func (s Summary) FailedTurns() int {
	n := 0
	for _, t := range slices.Concat(s.Openings, s.Challenges, []Turn{s.Synthesis}) {
		if t.Failed {
			n++
		}
	}
	return n
}

// Transcript renders the debate as markdown.
func (s Summary) Transcript() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", s.Topic)
	section := func(title string, turns []Turn) {
		fmt.Fprintf(&b, "\n## %s\n", title)
		for _, t := range turns {
			fmt.Fprintf(&b, "\n### %s\n\n%s\n", t.Model, strings.TrimSpace(t.Text))
		}
	}
	section("Opening positions", s.Openings)
	section("Challenges", s.Challenges)
	fmt.Fprintf(&b, "\n## Synthesis (%s)\n\n%s\n", s.Synthesis.Model, strings.TrimSpace(s.Synthesis.Text))
	return b.String()
}
