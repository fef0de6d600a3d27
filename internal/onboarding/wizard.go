package onboarding

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"conclave/internal/config"
)

// Wizard is the line-oriented setup, for terminals where the full-screen
// form is unavailable.
type Wizard struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		scanner: bufio.NewScanner(in),
		out:     out,
	}
}

// Run asks its questions starting from cfg's current values.
func (w *Wizard) Run(cfg *config.Config) (Setup, error) {
	fmt.Fprintln(w.out, "\nWelcome to conclave!")
	fmt.Fprintln(w.out, "Let's pick a default model and store your API keys.")
	fmt.Fprintln(w.out, strings.Repeat("-", 40))

	s := Setup{Keys: map[string]string{}}

	fmt.Fprintln(w.out, "\n[1/3] Default model")
	s.DefaultModel = w.askModel(cfg)

	fmt.Fprintln(w.out, "\n[2/3] API keys (leave empty to skip or keep the current value)")
	for _, key := range CredentialKeys(cfg) {
		fmt.Fprintf(w.out, "%s: ", key)
		s.Keys[key] = w.line()
	}

	fmt.Fprintln(w.out, "\n[3/3] Middlewares")
	s.Middlewares = w.askMiddlewares(middlewareSettings(cfg))

	if err := w.scanner.Err(); err != nil {
		return s, err
	}
	w.summarize(s)
	return s, nil
}

func (w *Wizard) line() string {
	if !w.scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(w.scanner.Text())
}

func (w *Wizard) askModel(cfg *config.Config) string {
	for i, m := range cfg.Models {
		marker := " "
		if m.ID == cfg.DefaultModel {
			marker = "*"
		}
		fmt.Fprintf(w.out, "%s %2d) %s\n", marker, i+1, m.ID)
	}
	for {
		fmt.Fprintf(w.out, "Choice (default: %s): ", cfg.DefaultModel)
		input := w.line()
		if input == "" {
			return cfg.DefaultModel
		}
		idx, err := strconv.Atoi(input)
		if err == nil && idx >= 1 && idx <= len(cfg.Models) {
			return cfg.Models[idx-1].ID
		}
		for _, m := range cfg.Models {
			if m.ID == input {
				return m.ID
			}
		}
		fmt.Fprintf(w.out, "Invalid choice. Pick 1-%d or a model id.\n", len(cfg.Models))
	}
}

func (w *Wizard) askMiddlewares(settings []MiddlewareSetting) []MiddlewareSetting {
	if len(settings) == 0 {
		fmt.Fprintln(w.out, "No middlewares registered.")
		return settings
	}
	for {
		for i, s := range settings {
			status := "[ON] "
			if !s.Enabled {
				status = "[OFF]"
			}
			fmt.Fprintf(w.out, "%2d) %s %s\n", i+1, status, s.ID)
		}
		fmt.Fprint(w.out, "Number to toggle (0 or empty to finish): ")
		input := w.line()
		if input == "" || input == "0" {
			return settings
		}
		idx, err := strconv.Atoi(input)
		if err != nil || idx < 1 || idx > len(settings) {
			fmt.Fprintln(w.out, "Invalid selection. Please try again.")
			continue
		}
		settings[idx-1].Enabled = !settings[idx-1].Enabled
	}
}

func (w *Wizard) summarize(s Setup) {
	fmt.Fprintln(w.out, "\n"+strings.Repeat("=", 40))
	fmt.Fprintln(w.out, "Setup Summary:")
	fmt.Fprintf(w.out, "Model: %s\n", s.DefaultModel)
	for _, key := range sortedKeys(s.Keys) {
		if s.Keys[key] != "" {
			fmt.Fprintf(w.out, "%s=***\n", key)
		}
	}
	fmt.Fprintln(w.out, strings.Repeat("=", 40))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
