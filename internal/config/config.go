// Package config handles loading and validating the config.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	LLM      LLMConfig       `toml:"llm"`
	Analysis AnalysisConfig  `toml:"analysis"`
	Parsers  map[string]bool `toml:"parsers"`
	IOC      IOCConfig       `toml:"ioc"`
	Sigma    SigmaConfig     `toml:"sigma"`
	Output   OutputConfig    `toml:"output"`
	Store    StoreConfig     `toml:"store"`
	NATS     NATSConfig      `toml:"nats"`
	Server   ServerConfig    `toml:"server"`
	Log      LogConfig       `toml:"log"`

	// Warnings collects non-fatal adjustments made during validation.
	Warnings []string `toml:"-"`
}

// LLMConfig configures the external model provider.
type LLMConfig struct {
	Provider string `toml:"provider"`
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
	Endpoint string `toml:"endpoint"`
	Timeout  int    `toml:"timeout"` // seconds per model call (0 = 60)
}

// AnalysisConfig holds the pipeline stage switches.
type AnalysisConfig struct {
	EnableAI          bool     `toml:"enable_ai"`
	ExecutiveReport   bool     `toml:"executive_report"`
	Timeline          bool     `toml:"timeline"`
	Correlations      bool     `toml:"correlations"`
	Workers           int      `toml:"workers"`
	CacheSize         int      `toml:"cache_size"` // parsed findings kept by content hash; 0 disables
	CorrelationWindow Duration `toml:"correlation_window"`
}

// IOCConfig configures indicator extraction.
type IOCConfig struct {
	// ExcludePrivate drops RFC1918 and link-local addresses from IP indicators.
	ExcludePrivate bool `toml:"exclude_private"`
}

// SigmaConfig configures detection rules.
type SigmaConfig struct {
	Enabled  bool   `toml:"enabled"`
	RulesDir string `toml:"rules_dir"` // extra rules loaded next to the built-in set
}

// OutputConfig configures report output.
type OutputConfig struct {
	Dir    string `toml:"dir"`
	Format string `toml:"format"` // json | yaml | text
}

// StoreConfig configures the analysis history database.
type StoreConfig struct {
	Path string `toml:"path"` // empty disables history
}

// NATSConfig configures result publishing.
type NATSConfig struct {
	URL           string `toml:"url"` // empty disables publishing
	SubjectPrefix string `toml:"subject_prefix"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | json
}

// Duration is a time.Duration written as a Go duration string ("90s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{Timeout: 60},
		Analysis: AnalysisConfig{
			EnableAI:          true,
			ExecutiveReport:   true,
			Timeline:          true,
			Correlations:      true,
			CacheSize:         128,
			CorrelationWindow: Duration{time.Minute},
		},
		Parsers: make(map[string]bool),
		Sigma:   SigmaConfig{Enabled: true},
		Output:  OutputConfig{Dir: "output", Format: "json"},
		NATS:    NATSConfig{SubjectPrefix: "coroner"},
		Server:  ServerConfig{Addr: ":8080"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a config.toml file and returns a validated Config. A missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s\n  Create one with: cp config.example.toml config.toml", path)
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOptional is Load, except that a missing file yields the defaults.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return finish(Default())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	// Environment variable overrides for sensitive values
	if key := os.Getenv("CORONER_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if provider := os.Getenv("CORONER_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if level := os.Getenv("CORONER_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))

	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama":
		// valid
	case "":
		if c.Analysis.EnableAI {
			c.Analysis.EnableAI = false
			c.warn("llm.provider is empty; AI analysis disabled, using rule-based insights")
		}
	default:
		return fmt.Errorf("unsupported llm.provider: %q", c.LLM.Provider)
	}

	if c.Analysis.EnableAI {
		// API key required for cloud providers
		if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider)
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required")
		}
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must not be negative")
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60
	}

	if c.Analysis.Workers <= 0 {
		c.Analysis.Workers = runtime.NumCPU()
	}
	if c.Analysis.CacheSize < 0 {
		return fmt.Errorf("analysis.cache_size must not be negative")
	}
	if c.Analysis.CorrelationWindow.Duration <= 0 {
		c.Analysis.CorrelationWindow = Duration{time.Minute}
	}

	c.Output.Format = strings.ToLower(c.Output.Format)
	switch c.Output.Format {
	case "json", "yaml", "text":
	case "":
		c.Output.Format = "json"
	default:
		return fmt.Errorf("unsupported output.format: %q (json, yaml, text)", c.Output.Format)
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "coroner"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Parsers == nil {
		c.Parsers = make(map[string]bool)
	}
	return nil
}

func (c *Config) warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

// LLMTimeout is the per-call model timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.Timeout) * time.Second
}
