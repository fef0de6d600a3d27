// Package webui serves the orchestrator over HTTP. Chat and debate answers
// stream back as Server-Sent Events.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"conclave/internal/chat"
	"conclave/internal/config"
	"conclave/internal/gateway"
	"conclave/internal/stream"
	"conclave/middlewares/tokenbudget"
)

const (
	maxBodyBytes = 1 << 20
	turnTimeout  = 5 * time.Minute

	errorCodeInvalidRequest = "invalid_request"
	errorCodeUnknownModel   = "unknown_model"
)

var errInvalidRequest = errors.New("invalid request")

// Server is the HTTP backend. Every request is independent; the server holds
// no conversation state.
type Server struct {
	runner       gateway.Runner
	debater      gateway.Debater
	routing      *config.Routing
	creds        config.Credentials
	tiers        func() map[string]bool
	roster       []string
	synthesizer  string
	defaultModel string
	maxTokens    int
	logger       *slog.Logger
	started      time.Time
	now          func() time.Time
}

// NewServer exposes rt over HTTP.
func NewServer(rt *gateway.Runtime) *Server {
	roster := rt.Debate.Roster()
	return &Server{
		runner:       rt.Service,
		debater:      rt.Debate,
		routing:      rt.Routing,
		creds:        rt.Credentials,
		tiers:        rt.ConfiguredTiers,
		roster:       roster[:],
		synthesizer:  rt.Debate.Synthesizer(),
		defaultModel: rt.Config.DefaultModel,
		maxTokens:    rt.Config.MaxTokens,
		logger:       rt.Logger,
		started:      time.Now(),
		now:          time.Now,
	}
}

// Handler returns the routed API with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/debate", s.handleDebate)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return requestLoggingMiddleware(s.logger)(mux)
}

// Start listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	<-done
	return nil
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// wireToolCall uses the OpenAI chat completions shape.
type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatRequest is the body of /api/chat and /api/debate.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TokenBudget int           `json:"token_budget,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, errorCodeInvalidRequest, err.Error())
		return
	}
	req, err := s.request(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorCodeInvalidRequest, err.Error())
		return
	}
	if _, ok := s.routing.Lookup(req.Model); !ok {
		writeError(w, http.StatusBadRequest, errorCodeUnknownModel, fmt.Sprintf("%s: %s", config.ErrUnknownModel, req.Model))
		return
	}

	turnCtx, cancel := context.WithTimeout(r.Context(), turnTimeout)
	defer cancel()

	sink := stream.NewSSEWriter(w)
	if _, err := s.runner.Run(turnCtx, req, sink); err != nil {
		// The stream already carried error and done.
		s.logger.Warn("chat request failed", "model", req.Model, "error", err)
	}
}

func (s *Server) handleDebate(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, errorCodeInvalidRequest, err.Error())
		return
	}
	req, err := s.request(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorCodeInvalidRequest, err.Error())
		return
	}
	if strings.TrimSpace(chat.LastUserText(req.Messages)) == "" {
		writeError(w, http.StatusBadRequest, errorCodeInvalidRequest, "a user message is required")
		return
	}

	turnCtx, cancel := context.WithTimeout(r.Context(), 3*turnTimeout)
	defer cancel()

	sink := stream.NewSSEWriter(w)
	if _, err := s.debater.Run(turnCtx, req.Messages, sink); err != nil {
		s.logger.Warn("debate request failed", "error", err)
	}
}

type modelInfo struct {
	ID         string `json:"id"`
	Vendor     string `json:"vendor"`
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
	AutoRoute  bool   `json:"auto_route"`
}

type modelsResponse struct {
	Default     string      `json:"default"`
	Models      []modelInfo `json:"models"`
	Roster      []string    `json:"debate_roster"`
	Synthesizer string      `json:"debate_synthesizer"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	auto := map[string]bool{}
	for _, m := range s.routing.AutoRoute() {
		auto[m] = true
	}
	aggregator := s.creds.Has(s.routing.Aggregator().Credential)

	resp := modelsResponse{
		Default:     s.defaultModel,
		Roster:      s.roster,
		Synthesizer: s.synthesizer,
	}
	for _, route := range s.routing.Routes() {
		resp.Models = append(resp.Models, modelInfo{
			ID:         route.Model,
			Vendor:     string(route.Vendor),
			Provider:   config.ProviderLabel(route.Model),
			Configured: aggregator || s.creds.Has(route.CredentialKey),
			AutoRoute:  auto[route.Model],
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "online",
		"time":           now.Format(time.RFC3339),
		"uptime_seconds": int64(now.Sub(s.started).Seconds()),
		"tiers":          s.tiers(),
	})
}

// request converts a wire body into a round-loop request.
func (s *Server) request(body ChatRequest) (chat.Request, error) {
	if len(body.Messages) == 0 {
		return chat.Request{}, fmt.Errorf("%w: messages must not be empty", errInvalidRequest)
	}
	msgs := make([]chat.Message, 0, len(body.Messages))
	callIDs := map[string]bool{}
	for i, m := range body.Messages {
		if len(m.ToolCalls) > 0 && chat.Role(m.Role) != chat.RoleAssistant {
			return chat.Request{}, fmt.Errorf("%w: messages[%d]: only assistant messages carry tool_calls", errInvalidRequest, i)
		}
		switch chat.Role(m.Role) {
		case chat.RoleSystem:
			msgs = append(msgs, chat.System(m.Content))
		case chat.RoleUser:
			msgs = append(msgs, chat.User(m.Content))
		case chat.RoleAssistant:
			var calls []chat.ToolCall
			for j, tc := range m.ToolCalls {
				if tc.ID == "" || tc.Function.Name == "" {
					return chat.Request{}, fmt.Errorf("%w: messages[%d].tool_calls[%d]: id and function.name are required", errInvalidRequest, i, j)
				}
				callIDs[tc.ID] = true
				calls = append(calls, chat.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
			}
			msgs = append(msgs, chat.Assistant(m.Content, calls...))
		case chat.RoleTool:
			if m.ToolCallID == "" {
				return chat.Request{}, fmt.Errorf("%w: messages[%d]: tool message needs tool_call_id", errInvalidRequest, i)
			}
			// Providers reject a tool result without its call.
			if !callIDs[m.ToolCallID] {
				return chat.Request{}, fmt.Errorf("%w: messages[%d]: tool_call_id %q does not match an earlier assistant tool call", errInvalidRequest, i, m.ToolCallID)
			}
			msgs = append(msgs, chat.ToolResult(m.ToolCallID, m.Name, m.Content))
		default:
			return chat.Request{}, fmt.Errorf("%w: messages[%d]: unknown role %q", errInvalidRequest, i, m.Role)
		}
	}

	req := chat.Request{
		Model:     body.Model,
		Messages:  msgs,
		MaxTokens: body.MaxTokens,
	}
	if req.Model == "" {
		req.Model = s.defaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = s.maxTokens
	}
	if body.TokenBudget > 0 {
		req.Metadata = map[string]any{tokenbudget.ContextKey: body.TokenBudget}
	}
	return req, nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{Error: apiError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("%w: request body exceeds %d bytes", errInvalidRequest, maxBytesErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", errInvalidRequest)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", errInvalidRequest, err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must contain exactly one JSON object", errInvalidRequest)
	}
	return nil
}
