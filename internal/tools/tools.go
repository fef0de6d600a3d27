// Package tools is the registry of functions offered to models during the
// round loop.
package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/tmc/langchaingo/llms"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrInvalidArgs   = errors.New("arguments do not match the tool schema")
	ErrDuplicateTool = errors.New("tool already registered")
)

// Tool is a function a model may call.
type Tool interface {
	// Name returns the unique name of the tool (e.g. "fetch_url").
	Name() string
	// Description returns a human-readable description for the model.
	Description() string
	// Parameters describes the argument object.
	Parameters() jsonschema.Definition
	// Execute runs the tool with decoded arguments.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry keeps tools in registration order, which is the order their
// definitions are offered to the model.
type Registry struct {
	tools []Tool
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(t Tool) error {
	if _, ok := r.Get(t.Name()); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools = append(r.tools, t)
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	i := slices.IndexFunc(r.tools, func(t Tool) bool { return t.Name() == name })
	if i < 0 {
		return nil, false
	}
	return r.tools[i], true
}

// Names lists registered tools in order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Name()
	}
	return out
}

// Definitions returns the function definitions offered to the model.
func (r *Registry) Definitions() []llms.Tool {
	if len(r.tools) == 0 {
		return nil
	}
	out := make([]llms.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		params := t.Parameters()
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  &params,
			},
		})
	}
	return out
}

// Execute validates args against the tool schema and runs it.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if !jsonschema.Validate(t.Parameters(), args) {
		return "", fmt.Errorf("%s: %w", name, ErrInvalidArgs)
	}
	return t.Execute(ctx, args)
}
