// Package config holds the single configuration structure for an agent run
// and loads it from defaults, an optional YAML file and TOPAGENT_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. TOPAGENT_LLM_MODEL.
const EnvPrefix = "TOPAGENT"

// Compaction thresholds observed in practice. The lower one is the default;
// the higher one trades more context for a greater risk of provider overflow.
const (
	CompactThresholdDefault = 0.6
	CompactThresholdLenient = 0.85
)

// Config is the root configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Context ContextConfig `mapstructure:"context" yaml:"context"`
	Loop    LoopConfig    `mapstructure:"loop" yaml:"loop"`
	Tools   ToolsConfig   `mapstructure:"tools" yaml:"tools"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LLMConfig selects the provider and sampling parameters.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider" yaml:"provider"`
	Model           string        `mapstructure:"model" yaml:"model"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	MaxTokens       int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature     *float64      `mapstructure:"temperature" yaml:"temperature,omitempty"`
	ReasoningEffort string        `mapstructure:"reasoning_effort" yaml:"reasoning_effort"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`

	// Explicit prices override the model catalog. Zero means use the catalog.
	InputCostPerMillion  float64 `mapstructure:"input_cost_per_million" yaml:"input_cost_per_million"`
	OutputCostPerMillion float64 `mapstructure:"output_cost_per_million" yaml:"output_cost_per_million"`
}

// ContextConfig drives compaction.
type ContextConfig struct {
	Window               int     `mapstructure:"window" yaml:"window"`
	AutoCompactThreshold float64 `mapstructure:"auto_compact_threshold" yaml:"auto_compact_threshold"`
	ProtectTokens        int     `mapstructure:"protect_tokens" yaml:"protect_tokens"`
	PruneMinBytes        int     `mapstructure:"prune_min_bytes" yaml:"prune_min_bytes"`
	ImageCap             int     `mapstructure:"image_cap" yaml:"image_cap"`
	SummaryMaxTokens     int     `mapstructure:"summary_max_tokens" yaml:"summary_max_tokens"`
}

// Ceiling is the token budget compaction aims for.
func (c ContextConfig) Ceiling() int {
	return int(float64(c.Window) * c.AutoCompactThreshold)
}

// LoopConfig bounds the run.
type LoopConfig struct {
	MaxIterations       int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	CostLimit           float64 `mapstructure:"cost_limit" yaml:"cost_limit"`
	Verify              bool    `mapstructure:"verify" yaml:"verify"`
	ParallelToolCalls   bool    `mapstructure:"parallel_tool_calls" yaml:"parallel_tool_calls"`
	LoopDetectionWindow int     `mapstructure:"loop_detection_window" yaml:"loop_detection_window"`
	MaxImagesPerTurn    int     `mapstructure:"max_images_per_turn" yaml:"max_images_per_turn"`
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	CacheEnabled              bool                     `mapstructure:"cache_enabled" yaml:"cache_enabled"`
	InvalidateCacheOnMutation bool                     `mapstructure:"invalidate_cache_on_mutation" yaml:"invalidate_cache_on_mutation"`
	DefaultTimeout            time.Duration            `mapstructure:"default_timeout" yaml:"default_timeout"`
	Timeouts                  map[string]time.Duration `mapstructure:"timeouts" yaml:"timeouts,omitempty"`
	MaxOutputBytes            int                      `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	MaxConcurrent             int                      `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	ProcessLogDir             string                   `mapstructure:"process_log_dir" yaml:"process_log_dir,omitempty"`
	Workdir                   string                   `mapstructure:"workdir" yaml:"workdir,omitempty"`
}

// TimeoutFor returns the configured timeout for a tool, or zero when the tool
// has no explicit override.
func (c ToolsConfig) TimeoutFor(name string) time.Duration {
	return c.Timeouts[name]
}

// CacheConfig toggles provider-side prompt caching markers.
type CacheConfig struct {
	PromptCaching bool `mapstructure:"prompt_caching" yaml:"prompt_caching"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // console or json
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr,omitempty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:        "openrouter",
			Model:           "openai/gpt-5.2",
			MaxTokens:       16384,
			ReasoningEffort: "high",
			Timeout:         180 * time.Second,
			MaxRetries:      4,
			RetryBaseDelay:  2 * time.Second,
			RetryMaxDelay:   60 * time.Second,
		},
		Context: ContextConfig{
			Window:               200000,
			AutoCompactThreshold: CompactThresholdDefault,
			ProtectTokens:        40000,
			PruneMinBytes:        512,
			ImageCap:             10,
			SummaryMaxTokens:     4096,
		},
		Loop: LoopConfig{
			MaxIterations:       400,
			CostLimit:           100.0,
			Verify:              true,
			LoopDetectionWindow: 10,
			MaxImagesPerTurn:    5,
		},
		Tools: ToolsConfig{
			CacheEnabled:              true,
			InvalidateCacheOnMutation: true,
			DefaultTimeout:            60 * time.Second,
			Timeouts:                  map[string]time.Duration{},
			MaxOutputBytes:            10000,
			MaxConcurrent:             4,
		},
		Cache: CacheConfig{PromptCaching: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// envKeys lists the settings that may be overridden from the environment.
var envKeys = []string{
	"llm.provider", "llm.model", "llm.base_url", "llm.api_key", "llm.max_tokens",
	"llm.temperature", "llm.reasoning_effort", "llm.timeout", "llm.max_retries",
	"llm.input_cost_per_million", "llm.output_cost_per_million",
	"context.window", "context.auto_compact_threshold", "context.protect_tokens",
	"loop.max_iterations", "loop.cost_limit", "loop.verify", "loop.parallel_tool_calls",
	"tools.cache_enabled", "tools.default_timeout", "tools.max_output_bytes", "tools.workdir",
	"cache.prompt_caching",
	"logging.level", "logging.format", "logging.file",
	"metrics.listen_addr",
}

// Load reads configuration. An empty path, or a path that does not exist,
// yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model must be set"))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("llm.max_tokens must be positive"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}
	if c.Context.Window <= 0 {
		errs = append(errs, errors.New("context.window must be positive"))
	}
	if c.Context.AutoCompactThreshold <= 0 || c.Context.AutoCompactThreshold >= 1 {
		errs = append(errs, fmt.Errorf("context.auto_compact_threshold must be in (0,1), got %v", c.Context.AutoCompactThreshold))
	}
	if c.Context.ProtectTokens < 0 {
		errs = append(errs, errors.New("context.protect_tokens must not be negative"))
	}
	if c.Context.ProtectTokens >= c.Context.Ceiling() && c.Context.Window > 0 {
		errs = append(errs, errors.New("context.protect_tokens must be below window * auto_compact_threshold"))
	}
	if c.Loop.MaxIterations <= 0 {
		errs = append(errs, errors.New("loop.max_iterations must be positive"))
	}
	if c.Loop.CostLimit < 0 {
		errs = append(errs, errors.New("loop.cost_limit must not be negative"))
	}
	if c.Tools.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("tools.default_timeout must be positive"))
	}
	if c.Tools.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("tools.max_output_bytes must be positive"))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.LLM.APIKey != "" {
		c.LLM.APIKey = "***"
	}
	return c
}
