package gateway

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"conclave/internal/chat"
	"conclave/internal/config"
	"conclave/internal/debate"
	"conclave/internal/fallback"
	"conclave/internal/llm"
	"conclave/internal/middleware"
	"conclave/internal/tools"
	_ "conclave/middlewares/autoload" // Auto-load all middlewares
)

// Runtime is everything one process needs to serve requests. It is built once
// and shared by the CLI, the REPL and the HTTP server.
type Runtime struct {
	Config       *config.Config
	Routing      *config.Routing
	Credentials  config.Credentials
	Orchestrator *fallback.Orchestrator
	Service      *chat.Service
	Debate       *debate.Engine
	Tools        *tools.Registry
	Logger       *slog.Logger

	closers []io.Closer
}

// NewRuntime wires cfg into a ready orchestrator, round loop and debate
// engine. Credentials are read once through lookup.
func NewRuntime(cfg *config.Config, lookup config.LookupFunc, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: logger}

	routing, err := config.NewRouting(cfg)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	rt.Routing = routing
	rt.Credentials = config.ResolveCredentials(cfg, lookup)

	adapters, err := fallback.BuildAdapters(routing, llm.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	orchOpts := []fallback.Option{fallback.WithLogger(logger)}
	if cfg.TraceFile != "" {
		f, err := openAppend(cfg.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("trace file: %w", err)
		}
		rt.closers = append(rt.closers, f)
		orchOpts = append(orchOpts, fallback.WithTraceWriter(f))
	}
	rt.Orchestrator = fallback.New(routing, rt.Credentials, adapters, orchOpts...)

	rt.Tools, err = tools.NewDefault(cfg.Tools, nil)
	if err != nil {
		rt.Close()
		return nil, err
	}

	// Middleware logging
	var debugLog io.Writer
	if cfg.DebugLog != "" {
		f, err := openAppend(cfg.DebugLog)
		if err != nil {
			logger.Warn("failed to open middleware log file", "path", cfg.DebugLog, "error", err)
		} else {
			rt.closers = append(rt.closers, f)
			debugLog = f
		}
	}
	chain := middleware.NewChainFromRegistry(debugLog, cfg.Disabled)
	if chain != nil {
		chain.SetLogger(logger)
	}

	rt.Service = chat.NewService(rt.Orchestrator,
		chat.WithMiddlewareChain(chain),
		chat.WithTools(rt.Tools),
		chat.WithMaxRounds(cfg.MaxRounds),
		chat.WithLogger(logger),
	)

	rt.Debate, err = debate.New(rt.Orchestrator, [3]string(cfg.Debate.Roster), cfg.Debate.Synthesizer,
		debate.WithLogger(logger),
		debate.WithMaxTokens(cfg.MaxTokens),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}

	logger.Debug("runtime ready",
		"models", len(routing.Routes()),
		"credentials", rt.Credentials.Keys(),
		"tools", rt.Tools.Names())
	return rt, nil
}

// Request builds a round-loop request with the configured defaults.
func (rt *Runtime) Request(model string, history []chat.Message) chat.Request {
	if model == "" {
		model = rt.Config.DefaultModel
	}
	return chat.Request{
		Model:     model,
		Messages:  history,
		MaxTokens: rt.Config.MaxTokens,
	}
}

// ConfiguredTiers reports which fallback tiers have at least one usable path.
func (rt *Runtime) ConfiguredTiers() map[string]bool {
	direct := false
	for _, r := range rt.Routing.Routes() {
		if r.Vendor.Direct() && rt.Credentials.Has(r.CredentialKey) {
			direct = true
			break
		}
	}
	aggregator := rt.Credentials.Has(rt.Routing.Aggregator().Credential)
	return map[string]bool{
		"aggregator": aggregator,
		"direct":     direct,
		"auto_route": direct || aggregator,
	}
}

func (rt *Runtime) Close() error {
	var errs []error
	for _, c := range rt.closers {
		errs = append(errs, c.Close())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
