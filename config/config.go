package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the agentgate service.
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Batch    BatchConfig    `mapstructure:"batch"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	AdminKey      string `mapstructure:"admin_key"`
	LegacyAPIKey  string `mapstructure:"legacy_api_key"`
	KeyHashSecret string `mapstructure:"key_hash_secret"`
}

// StorageConfig declares the SQLite database location.
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LLMConfig configures the optional LLM planning backend.
// Mode "rules" disables the LLM entirely; mode "llm" plans with the
// configured model and falls back to rules on any failure.
type LLMConfig struct {
	Mode    string        `mapstructure:"mode"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PlannerConfig bounds plan generation.
type PlannerConfig struct {
	MaxSteps     int      `mapstructure:"max_steps"`
	AllowedTools []string `mapstructure:"allowed_tools"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
	MaxInputBytes    int64         `mapstructure:"max_input_bytes"`
}

// QuotaConfig supplies default per-tenant daily limits.
type QuotaConfig struct {
	MaxRequestsPerDay     int64 `mapstructure:"max_requests_per_day"`
	MaxToolCallsPerDay    int64 `mapstructure:"max_tool_calls_per_day"`
	MaxBytesFetchedPerDay int64 `mapstructure:"max_bytes_fetched_per_day"`
}

// ExecutorConfig controls background job execution.
type ExecutorConfig struct {
	Workers       int           `mapstructure:"workers"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// BatchConfig controls approval batch execution.
type BatchConfig struct {
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.SQLitePath) == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}
	if strings.TrimSpace(c.Server.KeyHashSecret) == "" {
		return fmt.Errorf("server.key_hash_secret is required")
	}
	switch c.LLM.Mode {
	case "", "rules", "llm":
	default:
		return fmt.Errorf("llm.mode must be \"rules\" or \"llm\", got %q", c.LLM.Mode)
	}
	if c.LLM.Mode == "llm" && strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required when llm.mode=llm")
	}
	if c.Planner.MaxSteps <= 0 {
		return fmt.Errorf("planner.max_steps must be positive")
	}
	if c.Executor.Workers <= 0 {
		return fmt.Errorf("executor.workers must be positive")
	}
	return nil
}

// LoadConfig reads configuration from the given path (or well-known
// locations) with environment overrides (AGENTGATE_*).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "30s")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.key_hash_secret", "dev-secret-change-in-prod")
	v.SetDefault("storage.sqlite_path", "agentgate.db")
	v.SetDefault("llm.mode", "rules")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", "20s")
	v.SetDefault("planner.max_steps", 3)
	v.SetDefault("planner.allowed_tools", []string{"echo", "http_fetch", "web_search", "web_page_text", "web_summarize"})
	v.SetDefault("tools.http_timeout", "10s")
	v.SetDefault("tools.max_response_bytes", 64*1024)
	v.SetDefault("tools.max_input_bytes", 32*1024)
	v.SetDefault("quota.max_requests_per_day", 500)
	v.SetDefault("quota.max_tool_calls_per_day", 200)
	v.SetDefault("quota.max_bytes_fetched_per_day", 5_000_000)
	v.SetDefault("executor.workers", 4)
	v.SetDefault("executor.job_timeout", "5m")
	v.SetDefault("executor.retention", "24h")
	v.SetDefault("executor.sweep_interval", "1h")
	v.SetDefault("batch.action_timeout", "60s")

	if path == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("AGENTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults + env still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
