// Package config defines the application configuration, its defaults and
// validation. Configuration is loaded through viper from file, environment
// and flags; sensitive values (API keys, secret values) come from the
// environment only.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
}

// LoggerConfig controls the zap logger and log file rotation.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig controls the run loop.
type AgentConfig struct {
	MaxSteps           int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxFailures        int           `mapstructure:"max_failures" yaml:"max_failures"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MaxActionsPerStep  int           `mapstructure:"max_actions_per_step" yaml:"max_actions_per_step"`
	PlannerInterval    int           `mapstructure:"planner_interval" yaml:"planner_interval"`
	MemoryInterval     int           `mapstructure:"memory_interval" yaml:"memory_interval"`
	WaitBetweenActions time.Duration `mapstructure:"wait_between_actions" yaml:"wait_between_actions"`
	ExcludedActions    []string      `mapstructure:"excluded_actions" yaml:"excluded_actions"`
	UserContext        string        `mapstructure:"user_context" yaml:"user_context"`
	AvailableResources []string      `mapstructure:"available_resources" yaml:"available_resources"`
}

// BrowserConfig controls the chromedp session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// LLMProvider identifies a model backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for a single model.
type LLMModelConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// LLMConfig holds the model tiers. Main drives step decisions; Fast serves
// planning, extraction and memory compaction. Fast falls back to Main when
// left unconfigured.
type LLMConfig struct {
	Main LLMModelConfig `mapstructure:"main" yaml:"main"`
	Fast LLMModelConfig `mapstructure:"fast" yaml:"fast"`
}

// SecurityConfig holds the origin allow-list and the secret bindings, keyed
// origin pattern -> placeholder name -> value. Secret values are expected to
// arrive via environment or a local config file kept out of version control.
type SecurityConfig struct {
	AllowedOrigins []string                     `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	Secrets        map[string]map[string]string `mapstructure:"secrets" yaml:"-"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "pagewarden")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.max_steps", 100)
	v.SetDefault("agent.max_failures", 3)
	v.SetDefault("agent.retry_delay", 10*time.Second)
	v.SetDefault("agent.max_actions_per_step", 10)
	v.SetDefault("agent.planner_interval", 1)
	v.SetDefault("agent.memory_interval", 0)
	v.SetDefault("agent.wait_between_actions", 500*time.Millisecond)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 1100)
	v.SetDefault("browser.navigation_timeout", 90*time.Second)
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- LLM --
	v.SetDefault("llm.main.provider", "gemini")
	v.SetDefault("llm.main.model", "gemini-2.5-pro")
	v.SetDefault("llm.main.api_timeout", 120*time.Second)
	v.SetDefault("llm.main.temperature", 0.2)
	v.SetDefault("llm.main.max_tokens", 8192)
	v.SetDefault("llm.main.requests_per_minute", 30)
	v.SetDefault("llm.fast.provider", "gemini")
	v.SetDefault("llm.fast.model", "gemini-2.5-flash")
	v.SetDefault("llm.fast.api_timeout", 60*time.Second)
	v.SetDefault("llm.fast.temperature", 0.2)
	v.SetDefault("llm.fast.max_tokens", 4096)
	v.SetDefault("llm.fast.requests_per_minute", 60)
}

// NewConfigFromViper builds and validates a configuration from a viper
// instance that has already read its sources.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("llm.main.api_key", "PAGEWARDEN_LLM_API_KEY")
	v.BindEnv("llm.fast.api_key", "PAGEWARDEN_LLM_FAST_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The fast tier inherits the main key when it has none of its own.
	if cfg.LLM.Fast.APIKey == "" {
		cfg.LLM.Fast.APIKey = cfg.LLM.Main.APIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.MaxFailures <= 0 {
		return fmt.Errorf("agent.max_failures must be a positive integer")
	}
	if c.Agent.MaxActionsPerStep <= 0 {
		return fmt.Errorf("agent.max_actions_per_step must be a positive integer")
	}
	if c.Agent.PlannerInterval < 0 {
		return fmt.Errorf("agent.planner_interval must not be negative")
	}
	if c.LLM.Main.Model == "" {
		return fmt.Errorf("llm.main.model is a required configuration field")
	}
	if len(c.Security.Secrets) > 0 && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("security.secrets require security.allowed_origins to be set")
	}
	return nil
}
