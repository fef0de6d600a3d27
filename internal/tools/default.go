package tools

import (
	"fmt"
	"net/http"

	"conclave/internal/config"
)

// NewDefault registers the built-in tools named in cfg.Enabled, in that order.
func NewDefault(cfg config.ToolsConfig, client *http.Client) (*Registry, error) {
	r := NewRegistry()
	for _, name := range cfg.Enabled {
		var t Tool
		switch name {
		case "current_time":
			t = &CurrentTimeTool{}
		case "fetch_url":
			t = &FetchURLTool{Client: client}
		case "read_file":
			t = &ReadFileTool{Root: cfg.FileRoot}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
