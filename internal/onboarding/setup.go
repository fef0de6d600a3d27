// Package onboarding implements `conclave init`: it asks for a default model,
// provider API keys and middleware toggles, then writes conclave.yaml and .env.
package onboarding

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sort"

	"conclave/internal/config"
	"conclave/internal/middleware"

	"github.com/joho/godotenv"
)

// MiddlewareSetting is the user's choice for one registered middleware.
type MiddlewareSetting struct {
	ID      string
	Enabled bool
}

// Setup is everything gathered during onboarding.
type Setup struct {
	DefaultModel string
	// Keys maps credential names (e.g. ANTHROPIC_API_KEY) to secrets. Empty
	// values are left out of .env.
	Keys        map[string]string
	Middlewares []MiddlewareSetting
}

// CredentialKeys lists the credential names cfg refers to, sorted.
func CredentialKeys(cfg *config.Config) []string {
	seen := map[string]bool{}
	add := func(k string) {
		if k != "" {
			seen[k] = true
		}
	}
	add(cfg.Aggregator.Credential)
	for _, ep := range cfg.Vendors {
		add(ep.Credential)
	}
	for _, m := range cfg.Models {
		add(m.Credential)
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// middlewareSettings lists registered middlewares, enabled unless cfg
// disables them.
func middlewareSettings(cfg *config.Config) []MiddlewareSetting {
	registered := middleware.Registered()
	sort.Slice(registered, func(i, j int) bool {
		return registered[i].ID() < registered[j].ID()
	})
	settings := make([]MiddlewareSetting, len(registered))
	for i, mw := range registered {
		settings[i] = MiddlewareSetting{ID: mw.ID(), Enabled: !slices.Contains(cfg.Disabled, mw.ID())}
	}
	return settings
}

// Apply copies the non-secret choices into cfg.
func (s Setup) Apply(cfg *config.Config) {
	if s.DefaultModel != "" {
		cfg.DefaultModel = s.DefaultModel
	}
	if s.Middlewares == nil {
		return
	}
	cfg.Disabled = nil
	for _, mw := range s.Middlewares {
		if !mw.Enabled {
			cfg.Disabled = append(cfg.Disabled, mw.ID)
		}
	}
}

// Save validates cfg with the setup applied, writes it to configPath and
// merges the keys into the dotenv file at envPath. Keys already in the file
// survive unless the setup replaces them.
func Save(s Setup, cfg *config.Config, configPath, envPath string) error {
	s.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	env, err := godotenv.Read(envPath)
	if errors.Is(err, fs.ErrNotExist) {
		env = map[string]string{}
	} else if err != nil {
		return fmt.Errorf("read %s: %w", envPath, err)
	}
	changed := false
	for k, v := range s.Keys {
		if v == "" {
			continue
		}
		env[k] = v
		changed = true
	}
	if !changed {
		return nil
	}
	if err := godotenv.Write(env, envPath); err != nil {
		return fmt.Errorf("write %s: %w", envPath, err)
	}
	return os.Chmod(envPath, 0o600)
}
