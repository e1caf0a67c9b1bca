// Package config loads fleet coordination settings from TOML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the full configuration for a fleet coordination process.
type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Store       StoreConfig       `toml:"store"`
	Logging     LoggingConfig     `toml:"logging"`
	LLM         LLMConfig         `toml:"llm"`
	Notify      NotifyConfig      `toml:"notify"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Search      SearchConfig      `toml:"search"`
}

// CoordinatorConfig tunes the coordinator's cycle behavior.
type CoordinatorConfig struct {
	// CycleInterval is the pause between assignment passes.
	CycleInterval duration `toml:"cycle_interval"`

	// ErrorBackoff is the pause after a failed cycle.
	ErrorBackoff duration `toml:"error_backoff"`

	// MaxAgentsPerTask caps how many agents one task gets.
	MaxAgentsPerTask int `toml:"max_agents_per_task"`

	// AssignmentGrace is how long an assigned task may sit without
	// progress before the monitor fails it.
	AssignmentGrace duration `toml:"assignment_grace"`

	// QueryTimeout bounds inter-agent queries.
	QueryTimeout duration `toml:"query_timeout"`
}

// StoreConfig selects and tunes the document store backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `toml:"backend"`

	// Path is the database file for the sqlite backend.
	Path string `toml:"path"`
}

// LoggingConfig tunes console logging.
type LoggingConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string `toml:"level"`

	// PersistAgentLogs enables the agent_logs store sink.
	PersistAgentLogs bool `toml:"persist_agent_logs"`
}

// LLMConfig selects the reasoning provider for assignment suggestions.
type LLMConfig struct {
	// Provider is "anthropic", "openai", "google", or "" to disable
	// reasoned selection and use the greedy selector only.
	Provider string `toml:"provider"`

	// Model names the provider model.
	Model string `toml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `toml:"api_key_env"`

	// RequestsPerMinute rate-limits provider calls. Zero disables.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// NotifyConfig selects the external notification backend.
type NotifyConfig struct {
	// Backend is "log" or "nats".
	Backend string `toml:"backend"`

	// URL is the NATS server URL for the nats backend.
	URL string `toml:"url"`

	// SubjectPrefix prefixes all published subjects.
	SubjectPrefix string `toml:"subject_prefix"`
}

// SearchConfig tunes the full-text work-item index.
type SearchConfig struct {
	// Enabled turns the index on.
	Enabled bool `toml:"enabled"`

	// Path is the on-disk index directory. Empty keeps it in memory.
	Path string `toml:"path"`
}

// TelemetryConfig tunes tracing.
type TelemetryConfig struct {
	// Enabled turns span creation on.
	Enabled bool `toml:"enabled"`

	// ServiceName labels emitted spans.
	ServiceName string `toml:"service_name"`
}

// duration wraps time.Duration for TOML string decoding ("5s", "30m").
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with working defaults: memory store, log
// notifier, greedy-only selection.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			CycleInterval:    duration(5 * time.Second),
			ErrorBackoff:     duration(5 * time.Second),
			MaxAgentsPerTask: 5,
			AssignmentGrace:  duration(30 * time.Minute),
			QueryTimeout:     duration(30 * time.Second),
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:            "info",
			PersistAgentLogs: true,
		},
		Notify: NotifyConfig{
			Backend:       "log",
			SubjectPrefix: "fleet",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "fleetkit",
		},
	}
}

// LoadFile loads configuration from a TOML file, applying defaults for
// anything the file leaves out.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses configuration from TOML content over the defaults.
func Parse(content string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Coordinator.CycleInterval.Duration() <= 0 {
		return fmt.Errorf("coordinator.cycle_interval must be positive")
	}
	if c.Coordinator.MaxAgentsPerTask < 1 {
		return fmt.Errorf("coordinator.max_agents_per_task must be at least 1")
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}

	switch c.LLM.Provider {
	case "", "anthropic", "openai", "google":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Notify.Backend {
	case "log":
	case "nats":
		if c.Notify.URL == "" {
			return fmt.Errorf("notify.url required for nats backend")
		}
	default:
		return fmt.Errorf("unknown notify backend %q", c.Notify.Backend)
	}

	return nil
}

// APIKey resolves the LLM API key from the configured environment
// variable, falling back to the provider's conventional variable name.
func (c *LLMConfig) APIKey() string {
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	switch c.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "google":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}
