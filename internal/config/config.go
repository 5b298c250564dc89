// Package config loads hospital-query configuration.
// Source priority (highest to lowest):
// 1. Environment variables (GROQ_API_KEY, HQ_BASE_URL, HQ_MODEL, ...)
// 2. Config file path given via --config
// 3. ~/.config/hospital-query/config.yaml
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hospital-query/internal/integrations/openai"
	"hospital-query/internal/usecase"
)

// UsageConfig holds settings for the DynamoDB usage ledger.
type UsageConfig struct {
	// Table enables the ledger when non-empty.
	Table string `yaml:"table"`
}

// SessionsConfig bounds the in-memory session store.
type SessionsConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	Max         int           `yaml:"max"`
}

// Config is the complete configuration for hospital-query.
type Config struct {
	// APIKey pre-seeds the backend credential. Empty means ask the user.
	APIKey string `yaml:"api_key"`

	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// RequestTimeout bounds each backend HTTP call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	ModerationMaxTokens int     `yaml:"moderation_max_tokens"`
	ReplyMaxTokens      int     `yaml:"reply_max_tokens"`
	Temperature         float64 `yaml:"temperature"`

	// SystemPrompt replaces the hospital assistant persona when set.
	SystemPrompt string `yaml:"system_prompt"`

	ListenAddr string `yaml:"listen_addr"`

	// ParamPrefix is the SSM path holding the API key for the Lambda entry.
	ParamPrefix string `yaml:"param_prefix"`

	Usage UsageConfig `yaml:"usage"`

	Sessions SessionsConfig `yaml:"sessions"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	uc := usecase.DefaultConfig()
	return &Config{
		BaseURL:             openai.DefaultBaseURL,
		Model:               openai.DefaultModel,
		RequestTimeout:      60 * time.Second,
		ModerationMaxTokens: uc.ModerationMaxTokens,
		ReplyMaxTokens:      uc.ReplyMaxTokens,
		Temperature:         uc.Temperature,
		ListenAddr:          ":7860",
		Sessions: SessionsConfig{
			IdleTimeout: 30 * time.Minute,
			Max:         10000,
		},
		LogLevel: "info",
	}
}

// DefaultPath returns ~/.config/hospital-query/config.yaml, or "" when the
// home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hospital-query", "config.yaml")
}

// Load reads the config file and merges environment variable overrides.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = DefaultPath()
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("HQ_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("HQ_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("HQ_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("HQ_USAGE_TABLE"); v != "" {
		cfg.Usage.Table = v
	}
	if v := os.Getenv("HQ_PARAM_PREFIX"); v != "" {
		cfg.ParamPrefix = v
	}
	if v := os.Getenv("HQ_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	// Unparseable durations are ignored, keeping the file or default value.
	if v := os.Getenv("HQ_REQUEST_TIMEOUT"); v != "" {
		if d, err := parseTimeout(v); err == nil {
			cfg.RequestTimeout = d
		}
	}
}

// parseTimeout accepts a Go duration ("45s") or a bare number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("config: model must not be empty")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("config: base_url must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ModerationMaxTokens <= 0 {
		return fmt.Errorf("config: moderation_max_tokens must be positive, got %d", c.ModerationMaxTokens)
	}
	if c.ReplyMaxTokens <= 0 {
		return fmt.Errorf("config: reply_max_tokens must be positive, got %d", c.ReplyMaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("config: temperature %.2f out of range [0, 2]", c.Temperature)
	}
	if c.Sessions.IdleTimeout <= 0 {
		return fmt.Errorf("config: sessions.idle_timeout must be positive, got %s", c.Sessions.IdleTimeout)
	}
	if c.Sessions.Max <= 0 {
		return fmt.Errorf("config: sessions.max must be positive, got %d", c.Sessions.Max)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(c.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// QueryConfig maps the pipeline tuning onto usecase.Config.
func (c *Config) QueryConfig() usecase.Config {
	uc := usecase.DefaultConfig()
	uc.ModerationMaxTokens = c.ModerationMaxTokens
	uc.ReplyMaxTokens = c.ReplyMaxTokens
	uc.Temperature = c.Temperature
	if p := strings.TrimSpace(c.SystemPrompt); p != "" {
		uc.SystemPrompt = p
	}
	return uc
}
