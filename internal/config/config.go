// Package config loads the routing table, auto-route list, debate roster and
// provider credentials. Everything is read once at startup and treated as
// read-only afterwards.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "conclave.yaml"

type VendorKind string

const (
	VendorAggregator VendorKind = "aggregator"
	VendorAnthropic  VendorKind = "anthropic"
	VendorOpenAI     VendorKind = "openai"
	VendorGemini     VendorKind = "gemini"
)

func (k VendorKind) Valid() bool {
	switch k {
	case VendorAggregator, VendorAnthropic, VendorOpenAI, VendorGemini:
		return true
	}
	return false
}

// Direct reports whether k is a vendor's own API rather than the aggregator.
func (k VendorKind) Direct() bool {
	return k.Valid() && k != VendorAggregator
}

// Endpoint is where a vendor lives and which credential unlocks it.
// Credential names an environment variable, never the secret itself.
type Endpoint struct {
	BaseURL    string `yaml:"base_url,omitempty"`
	Credential string `yaml:"credential"`
}

// ModelRoute maps a canonical model id to one vendor's native id.
type ModelRoute struct {
	ID         string     `yaml:"id"`
	Vendor     VendorKind `yaml:"vendor"`
	Native     string     `yaml:"native,omitempty"`
	Credential string     `yaml:"credential,omitempty"`
}

type DebateConfig struct {
	Roster      []string `yaml:"roster"`
	Synthesizer string   `yaml:"synthesizer"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type ToolsConfig struct {
	Enabled  []string `yaml:"enabled"`
	FileRoot string   `yaml:"file_root,omitempty"`
}

type Config struct {
	DefaultModel string                  `yaml:"default_model"`
	Aggregator   Endpoint                `yaml:"aggregator"`
	Vendors      map[VendorKind]Endpoint `yaml:"vendors"`
	Models       []ModelRoute            `yaml:"models"`
	AutoRoute    []string                `yaml:"auto_route"`
	Debate       DebateConfig            `yaml:"debate"`
	Server       ServerConfig            `yaml:"server"`
	Tools        ToolsConfig             `yaml:"tools"`
	MaxRounds    int                     `yaml:"max_rounds"`
	MaxTokens    int                     `yaml:"max_tokens"`
	TraceFile    string                  `yaml:"trace_file,omitempty"`
	DebugLog     string                  `yaml:"debug_log,omitempty"`
	Disabled     []string                `yaml:"disabled_middlewares,omitempty"`

	// AggregatorHeaders are sent with every aggregator request
	// (e.g. HTTP-Referer and X-Title for attribution).
	AggregatorHeaders map[string]string `yaml:"aggregator_headers,omitempty"`
}

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML file at path (if present) over the built-in defaults,
// then applies CONCLAVE_* environment overrides and validates the result.
// A missing file is not an error.
func Load(path string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Environment variables override config file
func (c *Config) applyEnv(lookup LookupFunc) error {
	if v, ok := lookup("CONCLAVE_MODEL"); ok && v != "" {
		c.DefaultModel = v
	}
	if v, ok := lookup("CONCLAVE_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("CONCLAVE_TRACE_FILE"); ok && v != "" {
		c.TraceFile = v
	}
	if v, ok := lookup("CONCLAVE_DEBUG_LOG"); ok && v != "" {
		c.DebugLog = v
	}
	if v, ok := lookup("CONCLAVE_MAX_ROUNDS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONCLAVE_MAX_ROUNDS: %w", err)
		}
		c.MaxRounds = n
	}
	return nil
}

// Save writes c as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	path = expandHome(path)
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
