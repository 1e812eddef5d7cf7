// Package config loads pulse configuration: defaults, then a YAML file,
// then PULSE_* environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Log       LogConfig       `yaml:"log"`
	Bus       BusConfig       `yaml:"bus"`
	Router    RouterConfig    `yaml:"router"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers ProvidersConfig `yaml:"providers"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Delegate  DelegateConfig  `yaml:"delegate"`
}

type GatewayConfig struct {
	Host   string `yaml:"host" env:"PULSE_GATEWAY_HOST"`
	Port   int    `yaml:"port" env:"PULSE_GATEWAY_PORT"`
	APIKey string `yaml:"api_key" env:"PULSE_API_KEY"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"PULSE_LOG_LEVEL"`
}

type BusConfig struct {
	QueueSize int `yaml:"queue_size" env:"PULSE_BUS_QUEUE_SIZE"`
}

type RouterConfig struct {
	QueueSize     int `yaml:"queue_size" env:"PULSE_ROUTER_QUEUE_SIZE"`
	ShutdownGrace int `yaml:"shutdown_grace_seconds" env:"PULSE_ROUTER_SHUTDOWN_GRACE"`
	ContextLimit  int `yaml:"context_limit" env:"PULSE_ROUTER_CONTEXT_LIMIT"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" env:"PULSE_BREAKER_THRESHOLD"`
	RecoveryTimeout  int `yaml:"recovery_timeout_seconds" env:"PULSE_BREAKER_RECOVERY"`
}

type RealtimeConfig struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds" env:"PULSE_REALTIME_HEARTBEAT"`
	QueueSize        int `yaml:"queue_size" env:"PULSE_REALTIME_QUEUE_SIZE"`
}

type StorageConfig struct {
	Path string `yaml:"path" env:"PULSE_STORAGE_PATH"`
}

type ProvidersConfig struct {
	Primary   string         `yaml:"primary" env:"PULSE_PROVIDER"` // "anthropic" | "openai" | "heuristic"
	Anthropic ProviderConfig `yaml:"anthropic" envPrefix:"PULSE_ANTHROPIC_"`
	OpenAI    ProviderConfig `yaml:"openai" envPrefix:"PULSE_OPENAI_"`
}

type ProviderConfig struct {
	APIKey string `yaml:"api_key" env:"API_KEY"`
	Model  string `yaml:"model" env:"MODEL"`
}

type ChannelsConfig struct {
	DefaultWorkspace string        `yaml:"default_workspace" env:"PULSE_DEFAULT_WORKSPACE"`
	Discord          DiscordConfig `yaml:"discord"`
	Slack            SlackConfig   `yaml:"slack"`
	Console          ConsoleConfig `yaml:"console"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled" env:"PULSE_DISCORD_ENABLED"`
	Token   string `yaml:"token" env:"PULSE_DISCORD_TOKEN"`
}

type SlackConfig struct {
	Enabled  bool   `yaml:"enabled" env:"PULSE_SLACK_ENABLED"`
	BotToken string `yaml:"bot_token" env:"PULSE_SLACK_BOT_TOKEN"`
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled" env:"PULSE_CONSOLE_ENABLED"`
}

type SchedulerConfig struct {
	Enabled   bool   `yaml:"enabled" env:"PULSE_SCHEDULER_ENABLED"`
	StatsCron string `yaml:"stats_cron" env:"PULSE_SCHEDULER_STATS_CRON"`
}

type DelegateConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"PULSE_DELEGATE_WEBHOOK"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{Host: "127.0.0.1", Port: 8732},
		Log:     LogConfig{Level: "info"},
		Bus:     BusConfig{QueueSize: 64},
		Router: RouterConfig{
			QueueSize:     256,
			ShutdownGrace: 10,
			ContextLimit:  20,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30,
		},
		Realtime: RealtimeConfig{
			HeartbeatSeconds: 30,
			QueueSize:        64,
		},
		Storage: StorageConfig{Path: "pulse.db"},
		Providers: ProvidersConfig{
			Primary:   "heuristic",
			Anthropic: ProviderConfig{Model: "claude-sonnet-4-20250514"},
			OpenAI:    ProviderConfig{Model: "gpt-4o-mini"},
		},
		Channels: ChannelsConfig{
			DefaultWorkspace: "default",
			Console:          ConsoleConfig{Enabled: false},
		},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			StatsCron: "* * * * *",
		},
	}
}

// Load reads path (if it exists) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}
	return cfg, nil
}

// ShutdownGraceDuration converts the configured grace period.
func (c *Config) ShutdownGraceDuration() time.Duration {
	return time.Duration(c.Router.ShutdownGrace) * time.Second
}

// RecoveryTimeoutDuration converts the breaker recovery window.
func (c *Config) RecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.Breaker.RecoveryTimeout) * time.Second
}

// HeartbeatDuration converts the realtime heartbeat interval.
func (c *Config) HeartbeatDuration() time.Duration {
	return time.Duration(c.Realtime.HeartbeatSeconds) * time.Second
}
