// Package gateway connects configuration to the orchestrator and drives it
// from the terminal: one-shot prompts, debates and an interactive REPL.
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"conclave/internal/chat"
	"conclave/internal/config"
	"conclave/internal/debate"
	"conclave/internal/stream"

	"github.com/joho/godotenv"
)

const turnTimeout = 5 * time.Minute

type Gateway struct {
	ConfigPath string
	Logger     *slog.Logger
	In         io.Reader
	Out        io.Writer
	ShowUsage  bool
}

func New(configPath string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{ConfigPath: configPath, Logger: logger, In: os.Stdin, Out: os.Stdout}
}

// LoadConfig reads .env (if present) into the environment, then the config.
func (g *Gateway) LoadConfig() (*config.Config, error) {
	// Load environment variables from .env if present
	_ = godotenv.Load()
	return config.Load(g.ConfigPath, os.LookupEnv)
}

// Init builds the runtime. Callers must Close it.
func (g *Gateway) Init() (*Runtime, error) {
	cfg, err := g.LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewRuntime(cfg, os.LookupEnv, g.Logger)
}

// Execute answers one prompt and exits.
func (g *Gateway) Execute(ctx context.Context, model, input string) error {
	rt, err := g.Init()
	if err != nil {
		return err
	}
	defer rt.Close()

	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	sink := NewTerminalSink(g.Out, g.ShowUsage)
	_, err = rt.Service.Run(turnCtx, rt.Request(model, []chat.Message{chat.User(input)}), sink)
	return err
}

// Debate runs one debate on topic, printing the turns as they stream.
func (g *Gateway) Debate(ctx context.Context, topic string) error {
	rt, err := g.Init()
	if err != nil {
		return err
	}
	defer rt.Close()

	turnCtx, cancel := context.WithTimeout(ctx, 3*turnTimeout)
	defer cancel()

	_, err = rt.Debate.Run(turnCtx, []chat.Message{chat.User(topic)}, NewTerminalSink(g.Out, g.ShowUsage))
	return err
}

// Run starts the interactive loop.
func (g *Gateway) Run(ctx context.Context) error {
	rt, err := g.Init()
	if err != nil {
		return err
	}
	defer rt.Close()

	sess := newSession(rt.Service, rt.Debate, rt.Config.DefaultModel, rt.Config.MaxTokens, g.Out, g.ShowUsage)
	sess.known = func(model string) bool {
		_, ok := rt.Routing.Lookup(model)
		return ok
	}

	fmt.Fprintln(g.Out, "conclave chat")
	fmt.Fprintf(g.Out, "model=%s, tiers=%s\n", sess.model, tierSummary(rt.ConfiguredTiers()))
	fmt.Fprintln(g.Out, "Type /exit to quit, /clear to reset context, /model <id> to switch, /debate <topic> to convene the roster.")

	return sess.loop(ctx, g.In)
}

// Runner is the round loop as seen by the REPL.
type Runner interface {
	Run(ctx context.Context, req chat.Request, sink stream.Sink) (chat.Outcome, error)
}

// Debater is the debate engine as seen by the REPL.
type Debater interface {
	Run(ctx context.Context, conversation []chat.Message, sink stream.Sink) (debate.Summary, error)
}

// session is the state of one REPL: the conversation so far and the model
// currently in use.
type session struct {
	runner    Runner
	debater   Debater
	model     string
	maxTokens int
	history   []chat.Message
	out       io.Writer
	sink      stream.Sink
	known     func(model string) bool
}

func newSession(r Runner, d Debater, model string, maxTokens int, out io.Writer, showUsage bool) *session {
	return &session{
		runner:    r,
		debater:   d,
		model:     model,
		maxTokens: maxTokens,
		out:       out,
		sink:      NewTerminalSink(out, showUsage),
	}
}

func (s *session) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(s.out, "> ")
		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				return nil
			}
			input = line
		}

		quit, err := s.handle(ctx, input)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handle processes one input line. quit reports that the REPL should end.
func (s *session) handle(ctx context.Context, input string) (quit bool, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return false, nil
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/exit", "exit", "quit":
		return true, nil
	case "/clear":
		s.history = nil
		fmt.Fprintln(s.out, "context cleared")
		return false, nil
	case "/model":
		if arg == "" {
			fmt.Fprintf(s.out, "model=%s\n", s.model)
			return false, nil
		}
		if s.known != nil && !s.known(arg) {
			return false, fmt.Errorf("%w: %s", config.ErrUnknownModel, arg)
		}
		s.model = arg
		fmt.Fprintf(s.out, "model=%s\n", s.model)
		return false, nil
	case "/debate":
		if arg == "" {
			return false, errors.New("usage: /debate <topic>")
		}
		return false, s.debate(ctx, arg)
	}
	return false, s.chat(ctx, input)
}

func (s *session) chat(ctx context.Context, input string) error {
	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	history := append(append([]chat.Message(nil), s.history...), chat.User(input))
	out, err := s.runner.Run(turnCtx, chat.Request{
		Model:     s.model,
		Messages:  history,
		MaxTokens: s.maxTokens,
	}, s.sink)
	if err != nil {
		return err
	}
	s.history = out.Messages
	// Later turns stay on the model that answered.
	if out.ActualModel != "" {
		s.model = out.ActualModel
	}
	return nil
}

func (s *session) debate(ctx context.Context, topic string) error {
	turnCtx, cancel := context.WithTimeout(ctx, 3*turnTimeout)
	defer cancel()

	history := append(append([]chat.Message(nil), s.history...), chat.User(topic))
	sum, err := s.debater.Run(turnCtx, history, s.sink)
	if err != nil {
		return err
	}
	s.history = append(history, chat.Assistant(sum.Synthesis.Text))
	return nil
}

func tierSummary(tiers map[string]bool) string {
	var on []string
	for _, name := range []string{"aggregator", "direct", "auto_route"} {
		if tiers[name] {
			on = append(on, name)
		}
	}
	if len(on) == 0 {
		return "none (set an API key)"
	}
	return strings.Join(on, "+")
}
