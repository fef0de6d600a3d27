package gateway

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"conclave/internal/stream"

	"github.com/charmbracelet/lipgloss"
)

var (
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	synthStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("205")).
			Padding(0, 1)
)

// TerminalSink renders events as they arrive for a line-oriented terminal.
type TerminalSink struct {
	mu      sync.Mutex
	w       io.Writer
	midLine bool
	usage   bool
}

func NewTerminalSink(w io.Writer, showUsage bool) *TerminalSink {
	return &TerminalSink{w: w, usage: showUsage}
}

func (t *TerminalSink) Emit(ev stream.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev := ev.(type) {
	case stream.Delta:
		return t.text(ev.Content)
	case stream.DebateTurnDelta:
		return t.text(ev.Content)
	case stream.Rerouting:
		return t.line(noticeStyle.Render(fmt.Sprintf("↪ %s unavailable, answering with %s", providerOr(ev.Provider, ev.From), ev.To)))
	case stream.ToolCallStarted:
		return t.line(toolStyle.Render("⚙ " + ev.Name))
	case stream.ToolResult:
		summary := firstLine(ev.Result, 100)
		if ev.IsError {
			return t.line(errorStyle.Render("  ✗ " + summary))
		}
		return t.line(dimStyle.Render("  → " + summary))
	case stream.Error:
		msg := ev.Code
		if ev.Message != "" {
			msg += ": " + ev.Message
		}
		return t.line(errorStyle.Render("error: " + msg))
	case stream.DebateStart:
		return t.line(dimStyle.Render(fmt.Sprintf("debate: %s, synthesis by %s", strings.Join(ev.Models, ", "), ev.Synthesizer)))
	case stream.DebateTurnStart:
		if err := t.line(""); err != nil {
			return err
		}
		return t.line(headerStyle.Render(ev.Model + " · " + ev.Phase))
	case stream.DebateTurnEnd:
		return t.endLine()
	case stream.DebateSynthesisStart:
		if err := t.line(""); err != nil {
			return err
		}
		return t.line(synthStyle.Render("synthesis · " + ev.Model))
	case stream.Usage:
		if !t.usage {
			return nil
		}
		return t.line(dimStyle.Render(fmt.Sprintf("tokens in %d · out %d", ev.TokensIn, ev.TokensOut)))
	case stream.Done:
		return t.endLine()
	}
	return nil
}

func (t *TerminalSink) text(s string) error {
	if s == "" {
		return nil
	}
	if _, err := io.WriteString(t.w, s); err != nil {
		return err
	}
	t.midLine = !strings.HasSuffix(s, "\n")
	return nil
}

func (t *TerminalSink) line(s string) error {
	if err := t.endLine(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(t.w, s)
	return err
}

func (t *TerminalSink) endLine() error {
	if !t.midLine {
		return nil
	}
	t.midLine = false
	_, err := fmt.Fprintln(t.w)
	return err
}

func providerOr(provider, model string) string {
	if provider != "" {
		return provider
	}
	return model
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if r := []rune(s); len(r) > max {
		s = string(r[:max]) + "…"
	}
	return s
}
