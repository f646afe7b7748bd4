// Package config loads pingpal configuration from an optional YAML file with
// environment-variable overrides layered on top. Secrets are expected to come
// from the environment in production; the file covers everything else.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled" env:"PINGPAL_DISCORD_ENABLED"`
	Token   string `yaml:"token" env:"DISCORD_BOT_TOKEN"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" env:"PINGPAL_TELEGRAM_ENABLED"`
	Token   string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
}

// CLIConfig configures the local terminal channel.
type CLIConfig struct {
	Enabled bool `yaml:"enabled" env:"PINGPAL_CLI_ENABLED"`
}

// ProviderConfig holds credentials and knobs for one completion provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base"`
	Model   string `yaml:"model"`
}

// ModelConfig holds sampling knobs passed through to providers untouched.
type ModelConfig struct {
	Temperature     float64 `yaml:"temperature" env:"PINGPAL_TEMPERATURE"`
	MaxTokens       int     `yaml:"max_tokens" env:"PINGPAL_MAX_TOKENS"`
	ReasoningEffort string  `yaml:"reasoning_effort" env:"PINGPAL_REASONING_EFFORT"`
	Verbosity       string  `yaml:"verbosity" env:"PINGPAL_VERBOSITY"`
	SystemPrompt    string  `yaml:"system_prompt" env:"PINGPAL_SYSTEM_PROMPT"`
}

// LimitsConfig holds the pipeline's resource and pacing bounds.
type LimitsConfig struct {
	UserCooldownMs        int   `yaml:"user_cooldown_ms" env:"PINGPAL_USER_COOLDOWN_MS"`
	ChannelCooldownMs     int   `yaml:"channel_cooldown_ms" env:"PINGPAL_CHANNEL_COOLDOWN_MS"`
	MaxPendingPerChannel  int   `yaml:"max_pending_per_channel" env:"PINGPAL_MAX_PENDING"`
	MaxHistoryLength      int   `yaml:"max_history_length" env:"PINGPAL_MAX_HISTORY"`
	MaxHistoryTokens      int   `yaml:"max_history_tokens" env:"PINGPAL_MAX_HISTORY_TOKENS"`
	MaxImageBytes         int64 `yaml:"max_image_bytes" env:"PINGPAL_MAX_IMAGE_BYTES"`
	AttachmentTimeoutSecs int   `yaml:"attachment_timeout_secs" env:"PINGPAL_ATTACHMENT_TIMEOUT_SECS"`
	MaxConcurrentChats    int   `yaml:"max_concurrent_chats" env:"PINGPAL_MAX_CONCURRENT_CHATS"`
}

// SweepConfig controls idle-session eviction.
type SweepConfig struct {
	Cron    string `yaml:"cron" env:"PINGPAL_SWEEP_CRON"`
	IdleTTL string `yaml:"idle_ttl" env:"PINGPAL_SWEEP_IDLE_TTL"`
}

// GatewayConfig configures the optional ops HTTP API.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled" env:"PINGPAL_API_ENABLED"`
	Addr    string `yaml:"addr" env:"PINGPAL_API_ADDR"`
}

// Config is the root configuration object.
type Config struct {
	LogLevel  string         `yaml:"log_level" env:"LOG_LEVEL"`
	Persona   string         `yaml:"persona" env:"PINGPAL_PERSONA"`
	Discord   DiscordConfig  `yaml:"discord"`
	Telegram  TelegramConfig `yaml:"telegram"`
	CLI       CLIConfig      `yaml:"cli"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Model     ModelConfig    `yaml:"model"`
	Limits    LimitsConfig   `yaml:"limits"`
	Sweep     SweepConfig    `yaml:"sweep"`
	Gateway   GatewayConfig  `yaml:"gateway"`
}

const defaultSystemPrompt = "You are a helpful assistant that can analyze text, images, etc. " +
	"Maintain conversation continuity and context."

// Default returns a Config with all tunables at their defaults.
func Default() *Config {
	return &Config{
		LogLevel: "INFO",
		Discord:  DiscordConfig{Enabled: true},
		OpenAI: ProviderConfig{
			Model: "gpt-4o-mini",
		},
		Anthropic: ProviderConfig{
			Model: "claude-3-5-haiku-latest",
		},
		Model: ModelConfig{
			Temperature:  0.7,
			MaxTokens:    500,
			SystemPrompt: defaultSystemPrompt,
		},
		Limits: LimitsConfig{
			UserCooldownMs:        4000,
			ChannelCooldownMs:     2000,
			MaxPendingPerChannel:  3,
			MaxHistoryLength:      10,
			MaxHistoryTokens:      0,
			MaxImageBytes:         8 << 20,
			AttachmentTimeoutSecs: 15,
			MaxConcurrentChats:    3,
		},
		Sweep: SweepConfig{
			Cron:    "*/10 * * * *",
			IdleTTL: "2h",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8790",
		},
	}
}

// Load reads the YAML file at path (if path is non-empty and the file exists)
// and overlays environment variables on the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: env overlay: %w", err)
	}

	// Provider API keys come from the conventional env vars when not set in
	// the file. Kept out of struct tags so the file value wins only if the
	// env var is absent.
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements and clamps nonsense values.
func (c *Config) Validate() error {
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("config: discord enabled but DISCORD_BOT_TOKEN is not set")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("config: telegram enabled but TELEGRAM_BOT_TOKEN is not set")
	}
	if c.OpenAI.APIKey == "" && c.Anthropic.APIKey == "" {
		return fmt.Errorf("config: no completion provider configured (set OPENAI_API_KEY or ANTHROPIC_API_KEY)")
	}
	if c.Limits.MaxPendingPerChannel < 1 {
		c.Limits.MaxPendingPerChannel = 1
	}
	if c.Limits.MaxHistoryLength < 1 {
		c.Limits.MaxHistoryLength = 1
	}
	if c.Limits.MaxConcurrentChats < 1 {
		c.Limits.MaxConcurrentChats = 1
	}
	if c.Sweep.IdleTTL != "" {
		if _, err := time.ParseDuration(c.Sweep.IdleTTL); err != nil {
			return fmt.Errorf("config: sweep.idle_ttl: %w", err)
		}
	}
	return nil
}

// UserCooldown returns the per-user cooldown window as a duration.
func (c *Config) UserCooldown() time.Duration {
	return time.Duration(c.Limits.UserCooldownMs) * time.Millisecond
}

// ChannelCooldown returns the per-channel cooldown window as a duration.
func (c *Config) ChannelCooldown() time.Duration {
	return time.Duration(c.Limits.ChannelCooldownMs) * time.Millisecond
}

// AttachmentTimeout returns the per-attachment download deadline.
func (c *Config) AttachmentTimeout() time.Duration {
	return time.Duration(c.Limits.AttachmentTimeoutSecs) * time.Second
}

// IdleTTL returns the parsed idle-session TTL, or zero when sweeping is off.
func (c *Config) IdleTTL() time.Duration {
	if c.Sweep.IdleTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Sweep.IdleTTL)
	if err != nil {
		return 0
	}
	return d
}
