package config

// Default returns a complete configuration that works with nothing but API
// keys in the environment.
func Default() *Config {
	return &Config{
		DefaultModel: "anthropic/claude-sonnet-4.6",
		Aggregator: Endpoint{
			BaseURL:    "https://openrouter.ai/api/v1",
			Credential: "OPENROUTER_API_KEY",
		},
		Vendors: map[VendorKind]Endpoint{
			VendorAnthropic: {BaseURL: "https://api.anthropic.com", Credential: "ANTHROPIC_API_KEY"},
			VendorOpenAI:    {BaseURL: "https://api.openai.com/v1", Credential: "OPENAI_API_KEY"},
			VendorGemini:    {Credential: "GEMINI_API_KEY"},
		},
		Models: []ModelRoute{
			{ID: "anthropic/claude-opus-4.1", Vendor: VendorAnthropic, Native: "claude-opus-4-1"},
			{ID: "anthropic/claude-sonnet-4.6", Vendor: VendorAnthropic, Native: "claude-sonnet-4-6"},
			{ID: "anthropic/claude-haiku-4.5", Vendor: VendorAnthropic, Native: "claude-haiku-4-5"},
			{ID: "openai/gpt-5", Vendor: VendorOpenAI, Native: "gpt-5"},
			{ID: "openai/gpt-5-mini", Vendor: VendorOpenAI, Native: "gpt-5-mini"},
			{ID: "google/gemini-2.5-pro", Vendor: VendorGemini, Native: "gemini-2.5-pro"},
			{ID: "google/gemini-2.5-flash", Vendor: VendorGemini, Native: "gemini-2.5-flash"},
			{ID: "meta-llama/llama-4-maverick", Vendor: VendorAggregator},
		},
		AutoRoute: []string{
			"anthropic/claude-sonnet-4.6",
			"openai/gpt-5",
			"google/gemini-2.5-pro",
			"anthropic/claude-haiku-4.5",
		},
		Debate: DebateConfig{
			Roster:      []string{"anthropic/claude-sonnet-4.6", "openai/gpt-5", "google/gemini-2.5-pro"},
			Synthesizer: "anthropic/claude-opus-4.1",
		},
		Server: ServerConfig{Addr: ":8080"},
		Tools: ToolsConfig{
			Enabled: []string{"current_time", "fetch_url", "read_file"},
		},
		MaxRounds: 5,
		MaxTokens: 4096,
		AggregatorHeaders: map[string]string{
			"X-Title": "conclave",
		},
	}
}
