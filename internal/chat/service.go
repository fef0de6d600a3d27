package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"conclave/internal/middleware"
	"conclave/internal/stream"
	"conclave/internal/tokens"
)

const DefaultMaxRounds = 5

// ErrRejected is returned when a middleware cancels a round.
var ErrRejected = errors.New("request rejected by middleware")

// Service drives repeated model calls while the model keeps asking for tools.
// It holds no per-conversation state; every Run is independent.
type Service struct {
	streamer  Streamer
	tools     ToolDispatcher
	mws       *middleware.Chain
	maxRounds int
	logger    *slog.Logger
}

type ServiceOption func(*Service)

func WithMiddlewareChain(chain *middleware.Chain) ServiceOption {
	return func(s *Service) {
		s.mws = chain
	}
}

func WithTools(tools ToolDispatcher) ServiceOption {
	return func(s *Service) {
		s.tools = tools
	}
}

// WithMaxRounds bounds the number of model calls per Run. Values below 1
// keep the default.
func WithMaxRounds(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxRounds = n
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(streamer Streamer, opts ...ServiceOption) *Service {
	s := &Service{
		streamer:  streamer,
		maxRounds: DefaultMaxRounds,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome summarizes one Run.
type Outcome struct {
	// Messages is the input conversation plus everything appended during
	// the run, ending with the final assistant message when one was produced.
	Messages    []Message
	Text        string
	ActualModel string
	Tier        int
	Rounds      int
	Usage       Usage
}

// Run answers req, executing requested tools between rounds. Events go to
// sink; the stream always ends with done unless ctx is canceled or the sink
// fails. When every provider path fails it emits
// error{code:"all_providers_failed"} before done and returns the error.
func (s *Service) Run(ctx context.Context, req Request, sink stream.Sink) (Outcome, error) {
	out := Outcome{
		Messages:    append([]Message(nil), req.Messages...),
		ActualModel: req.Model,
	}
	client := clientSink{next: sink}
	counter := tokens.NewCounter()
	model := req.Model

	for round := 1; round <= s.maxRounds; round++ {
		params := &middleware.LLMParams{
			Model:       model,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Tools:       req.Tools,
		}
		if params.Tools == nil && s.tools != nil {
			params.Tools = s.tools.Definitions()
		}

		params, err := s.beforeRound(ctx, round, req, out.Messages, params)
		if err != nil {
			return out, s.fail(client, "request_rejected", model, err)
		}

		res, err := s.streamer.StreamWithFallback(ctx, Request{
			Model:       params.Model,
			Messages:    out.Messages,
			Tools:       params.Tools,
			MaxTokens:   params.MaxTokens,
			Temperature: params.Temperature,
		}, client, counter)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, stream.ErrSinkClosed) {
				return out, err
			}
			s.logger.Error("all providers failed", "model", params.Model, "round", round, "error", err)
			return out, s.fail(client, "all_providers_failed", params.Model, err)
		}

		out.Rounds = round
		out.Usage = out.Usage.Add(res.Usage)
		out.ActualModel = res.ActualModel
		out.Tier = res.Tier
		out.Text = res.Text
		s.afterRound(ctx, round, req, res, params)

		if !res.HasToolCalls() {
			out.Messages = append(out.Messages, Assistant(res.Text))
			break
		}
		if round == s.maxRounds {
			s.logger.Warn("round limit reached with pending tool calls", "rounds", round, "pending", len(res.ToolCalls))
			break
		}

		out.Messages = append(out.Messages, Assistant(res.Text, res.ToolCalls...))
		for _, call := range res.ToolCalls {
			msg, err := s.runTool(ctx, client, call)
			if err != nil {
				return out, err
			}
			out.Messages = append(out.Messages, msg)
		}
		// Stay on the model that actually answered so a reroute is not
		// announced again on every round.
		model = res.ActualModel
	}

	if err := client.emit(stream.Usage{TokensIn: out.Usage.TokensIn, TokensOut: out.Usage.TokensOut}); err != nil {
		return out, err
	}
	if err := client.emit(stream.Done{ActualModel: out.ActualModel}); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Service) beforeRound(ctx context.Context, round int, req Request, history []Message, params *middleware.LLMParams) (*middleware.LLMParams, error) {
	if s.mws == nil {
		return params, nil
	}
	e := &middleware.Event{
		Name:     middleware.EventBeforeLLMRequest,
		Round:    round,
		UserText: LastUserText(history),
		Params:   params,
		Context:  req.Metadata,
	}
	results, err := s.mws.Dispatch(ctx, e)
	if err != nil {
		return nil, err
	}
	if dec, canceled := middleware.Canceled(results); canceled {
		if strings.TrimSpace(dec.Reason) == "" {
			return nil, ErrRejected
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, dec.Reason)
	}
	if e.Params == nil {
		return params, nil
	}
	if e.Params.Model == "" {
		e.Params.Model = params.Model
	}
	return e.Params, nil
}

func (s *Service) afterRound(ctx context.Context, round int, req Request, res Result, params *middleware.LLMParams) {
	if s.mws == nil {
		return
	}
	e := &middleware.Event{
		Name:    middleware.EventAfterLLMResponse,
		Round:   round,
		LLMText: res.Text,
		Params:  params,
		Context: req.Metadata,
	}
	if _, err := s.mws.Dispatch(ctx, e); err != nil {
		s.logger.Warn("after_llm_response middleware failed", "round", round, "error", err)
	}
}

func (s *Service) runTool(ctx context.Context, client clientSink, call ToolCall) (Message, error) {
	if err := client.emit(stream.ToolCallStarted{Name: call.Name}); err != nil {
		return Message{}, err
	}

	var (
		result string
		err    error
	)
	if s.tools == nil {
		err = errors.New("no tools are available")
	} else {
		result, err = s.tools.Execute(ctx, call.Name, parseToolArgs(call.Arguments))
	}
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		s.logger.Warn("tool failed", "tool", call.Name, "error", err)
		result = "error: " + err.Error()
	}

	if err := client.emit(stream.ToolResult{Name: call.Name, Result: result, IsError: err != nil}); err != nil {
		return Message{}, err
	}
	return ToolResult(call.ID, call.Name, result), nil
}

func (s *Service) fail(client clientSink, code, model string, cause error) error {
	if err := client.emit(stream.Error{Code: code, Model: model, Message: cause.Error()}); err != nil {
		return err
	}
	if err := client.emit(stream.Done{}); err != nil {
		return err
	}
	return cause
}

// parseToolArgs decodes streamed tool arguments. Anything that is not a JSON
// object becomes an empty argument set instead of failing the round.
func parseToolArgs(raw string) map[string]any {
	args := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// clientSink hides the per-call usage and raw tool-call fragments from the
// client; the loop reports its own aggregates instead.
type clientSink struct {
	next stream.Sink
}

func (c clientSink) Emit(ev stream.Event) error {
	if !c.Passes(ev) {
		return nil
	}
	return c.next.Emit(ev)
}

func (c clientSink) Passes(ev stream.Event) bool {
	switch ev.(type) {
	case stream.ToolCallDelta, stream.Usage:
		return false
	}
	return true
}

func (c clientSink) emit(ev stream.Event) error {
	return stream.Forward(c.next, ev)
}
