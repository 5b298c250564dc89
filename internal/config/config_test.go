package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hospital-query/internal/usecase"
)

var envKeys = []string{
	"GROQ_API_KEY", "HQ_BASE_URL", "HQ_MODEL", "HQ_LISTEN_ADDR",
	"HQ_USAGE_TABLE", "HQ_PARAM_PREFIX", "HQ_REQUEST_TIMEOUT", "HQ_LOG_LEVEL",
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "https://api.groq.com/openai/v1", cfg.BaseURL)
	require.Equal(t, "mixtral-8x7b-32768", cfg.Model)
	require.Equal(t, 60*time.Second, cfg.RequestTimeout)
	require.Equal(t, 100, cfg.ModerationMaxTokens)
	require.Equal(t, 500, cfg.ReplyMaxTokens)
	require.Equal(t, 0.5, cfg.Temperature)
	require.Equal(t, ":7860", cfg.ListenAddr)
	require.Empty(t, cfg.APIKey)
	require.Empty(t, cfg.Usage.Table)
	require.Equal(t, 30*time.Minute, cfg.Sessions.IdleTimeout)
	require.Equal(t, 10000, cfg.Sessions.Max)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileNotFound(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ValidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
model: llama3-70b-8192
request_timeout: 15s
reply_max_tokens: 256
temperature: 0.2
listen_addr: 127.0.0.1:8080
usage:
  table: hq-usage
sessions:
  max: 500
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "llama3-70b-8192", cfg.Model)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout)
	require.Equal(t, 256, cfg.ReplyMaxTokens)
	require.Equal(t, 0.2, cfg.Temperature)
	require.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	require.Equal(t, "hq-usage", cfg.Usage.Table)
	require.Equal(t, 500, cfg.Sessions.Max)
	require.Equal(t, 30*time.Minute, cfg.Sessions.IdleTimeout)
	require.Equal(t, 100, cfg.ModerationMaxTokens, "unset keys keep defaults")
	require.Equal(t, "https://api.groq.com/openai/v1", cfg.BaseURL)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "model: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "model: from-file\napi_key: file-key\n")
	t.Setenv("GROQ_API_KEY", "gsk-env")
	t.Setenv("HQ_MODEL", "from-env")
	t.Setenv("HQ_BASE_URL", "http://localhost:9999/v1")
	t.Setenv("HQ_LISTEN_ADDR", ":9000")
	t.Setenv("HQ_USAGE_TABLE", "usage")
	t.Setenv("HQ_PARAM_PREFIX", "/hospital-query/prod")
	t.Setenv("HQ_REQUEST_TIMEOUT", "30")
	t.Setenv("HQ_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gsk-env", cfg.APIKey)
	require.Equal(t, "from-env", cfg.Model)
	require.Equal(t, "http://localhost:9999/v1", cfg.BaseURL)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, "usage", cfg.Usage.Table)
	require.Equal(t, "/hospital-query/prod", cfg.ParamPrefix)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)
}

func TestLoad_BadTimeoutEnvIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("HQ_REQUEST_TIMEOUT", "soon")
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, cfg.RequestTimeout)
}

func TestParseTimeout(t *testing.T) {
	d, err := parseTimeout("45")
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, d)

	d, err = parseTimeout(" 2m ")
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, d)

	_, err = parseTimeout("later")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty model", func(c *Config) { c.Model = " " }, "model"},
		{"empty base url", func(c *Config) { c.BaseURL = "" }, "base_url"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "request_timeout"},
		{"zero moderation cap", func(c *Config) { c.ModerationMaxTokens = 0 }, "moderation_max_tokens"},
		{"negative reply cap", func(c *Config) { c.ReplyMaxTokens = -1 }, "reply_max_tokens"},
		{"temperature too high", func(c *Config) { c.Temperature = 2.5 }, "temperature"},
		{"temperature negative", func(c *Config) { c.Temperature = -0.1 }, "temperature"},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
		{"zero idle timeout", func(c *Config) { c.Sessions.IdleTimeout = 0 }, "sessions.idle_timeout"},
		{"zero max sessions", func(c *Config) { c.Sessions.Max = 0 }, "sessions.max"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSlogLevel_EmptyIsInfo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = ""
	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
}

func TestQueryConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReplyMaxTokens = 200
	cfg.Temperature = 0

	qc := cfg.QueryConfig()
	require.Equal(t, 200, qc.ReplyMaxTokens)
	require.Equal(t, 0.0, qc.Temperature)
	require.Equal(t, usecase.DefaultSystemPrompt(), qc.SystemPrompt)

	cfg.SystemPrompt = "You are a triage desk assistant."
	require.Equal(t, "You are a triage desk assistant.", cfg.QueryConfig().SystemPrompt)
}
