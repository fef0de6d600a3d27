package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
)

const (
	fetchLimit    = 64 * 1024
	fetchMaxChars = 4000
	readMaxChars  = 8000
)

// CurrentTimeTool reports the current time, optionally in an IANA zone.
type CurrentTimeTool struct {
	Now func() time.Time
}

func (t *CurrentTimeTool) Name() string { return "current_time" }
func (t *CurrentTimeTool) Description() string {
	return "Returns the current date and time. Use this whenever the answer depends on today's date."
}
func (t *CurrentTimeTool) Parameters() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"zone": {
				Type:        jsonschema.String,
				Description: "IANA time zone such as Europe/Berlin. Defaults to UTC.",
			},
		},
	}
}
func (t *CurrentTimeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	loc := time.UTC
	if zone, _ := args["zone"].(string); zone != "" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return "", fmt.Errorf("unknown zone %q", zone)
		}
		loc = l
	}
	return now().In(loc).Format("Monday, 2006-01-02 15:04:05 MST"), nil
}

// FetchURLTool fetches a web page and returns its text.
type FetchURLTool struct {
	Client *http.Client
}

func (f *FetchURLTool) Name() string { return "fetch_url" }
func (f *FetchURLTool) Description() string {
	return "Fetches an http or https URL and returns the response status and its text content."
}
func (f *FetchURLTool) Parameters() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"url": {
				Type:        jsonschema.String,
				Description: "The URL to fetch.",
			},
		},
		Required: []string{"url"},
	}
}
func (f *FetchURLTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	raw, _ := args["url"].(string)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", raw)
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchLimit))
	if err != nil {
		return "", err
	}
	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = stripHTML(text)
	}
	return fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, truncate(text, fetchMaxChars)), nil
}

// ReadFileTool reads text files below Root.
type ReadFileTool struct {
	Root string
}

func (r *ReadFileTool) Name() string { return "read_file" }
func (r *ReadFileTool) Description() string {
	return "Reads a text file from the workspace. Paths are relative to the workspace root."
}
func (r *ReadFileTool) Parameters() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"path": {
				Type:        jsonschema.String,
				Description: "File path relative to the workspace root.",
			},
		},
		Required: []string{"path"},
	}
}
func (r *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	full, err := r.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	return truncate(string(data), readMaxChars), nil
}

// resolve keeps path inside the root.
func (r *ReadFileTool) resolve(path string) (string, error) {
	root := r.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.Clean("/"+path))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", path)
	}
	return full, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n...(truncated)"
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
