// Package config provides YAML-based configuration loading for grabyard.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported chat platforms.
const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"
)

// Config is the top-level grabyard configuration, loaded from grabyard.yaml.
type Config struct {
	Platform  string          `yaml:"platform"`
	Discord   DiscordConfig   `yaml:"discord"`
	Slack     SlackConfig     `yaml:"slack"`
	Origin    OriginConfig    `yaml:"origin"`
	Probe     ProbeConfig     `yaml:"probe"`
	Pending   PendingConfig   `yaml:"pending"`
	Limits    LimitsConfig    `yaml:"limits"`
	History   HistoryConfig   `yaml:"history"`
	Status    StatusConfig    `yaml:"status"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DiscordConfig holds Discord bot settings. The token itself is read from
// the environment variable named by TokenEnv.
type DiscordConfig struct {
	TokenEnv string `yaml:"token_env"`
	GuildID  string `yaml:"guild_id"`
	Command  string `yaml:"command"`
}

// Token returns the bot token from the environment.
func (d DiscordConfig) Token() string { return os.Getenv(d.TokenEnv) }

// SlackConfig holds Slack app settings. Tokens come from the environment.
type SlackConfig struct {
	AppTokenEnv string `yaml:"app_token_env"`
	BotTokenEnv string `yaml:"bot_token_env"`
	Command     string `yaml:"command"`
}

// AppToken returns the Socket Mode app token from the environment.
func (s SlackConfig) AppToken() string { return os.Getenv(s.AppTokenEnv) }

// BotToken returns the bot token from the environment.
func (s SlackConfig) BotToken() string { return os.Getenv(s.BotTokenEnv) }

// OriginConfig lists the mirrors queried in order and the retry policy.
type OriginConfig struct {
	Mirrors []string      `yaml:"mirrors"`
	Timeout time.Duration `yaml:"timeout"`
	Rounds  int           `yaml:"rounds"`
}

// ProbeConfig configures content probing.
type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// PendingConfig bounds the request registry and the auto-dispatch timer.
type PendingConfig struct {
	Capacity  int           `yaml:"capacity"`
	MaxAge    time.Duration `yaml:"max_age"`
	AutoDelay time.Duration `yaml:"auto_delay"`
	Sweep     string        `yaml:"sweep"`
}

// LimitsConfig configures the per-user submission throttle. A zero rate
// disables it.
type LimitsConfig struct {
	SubmitRPS   float64 `yaml:"submit_rps"`
	SubmitBurst int     `yaml:"submit_burst"`
}

// HistoryConfig configures the outcome store. Driver "none" disables it.
type HistoryConfig struct {
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Database    string        `yaml:"database"`
	User        string        `yaml:"user"`
	PasswordEnv string        `yaml:"password_env"`
	Retention   time.Duration `yaml:"retention"`
	Prune       string        `yaml:"prune"`
}

// Enabled reports whether outcomes are stored.
func (h HistoryConfig) Enabled() bool { return h.Driver != "none" }

// Password returns the database password from the environment.
func (h HistoryConfig) Password() string {
	if h.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(h.PasswordEnv)
}

// StatusConfig configures the HTTP status API.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TelemetryConfig configures OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// LoggingConfig selects log level, format and destination.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))

	if c.Discord.TokenEnv == "" {
		c.Discord.TokenEnv = "DISCORD_BOT_TOKEN"
	}
	if c.Discord.Command == "" {
		c.Discord.Command = "grab"
	}
	if c.Slack.AppTokenEnv == "" {
		c.Slack.AppTokenEnv = "SLACK_APP_TOKEN"
	}
	if c.Slack.BotTokenEnv == "" {
		c.Slack.BotTokenEnv = "SLACK_BOT_TOKEN"
	}
	if c.Slack.Command == "" {
		c.Slack.Command = "/grab"
	}

	if c.Origin.Timeout == 0 {
		c.Origin.Timeout = 5 * time.Second
	}
	if c.Origin.Rounds == 0 {
		c.Origin.Rounds = 1
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = 3 * time.Second
	}

	if c.Pending.Capacity == 0 {
		c.Pending.Capacity = 100
	}
	if c.Pending.MaxAge == 0 {
		c.Pending.MaxAge = 2 * time.Minute
	}
	if c.Pending.AutoDelay == 0 {
		c.Pending.AutoDelay = 10 * time.Second
	}
	if c.Pending.Sweep == "" {
		c.Pending.Sweep = "@every 5s"
	}
	if c.Limits.SubmitRPS > 0 && c.Limits.SubmitBurst == 0 {
		c.Limits.SubmitBurst = 3
	}

	if c.History.Driver == "" {
		c.History.Driver = "sqlite"
	}
	if c.History.Driver == "sqlite" && c.History.Path == "" {
		c.History.Path = "grabyard.db"
	}
	if c.History.Driver == "mysql" {
		if c.History.Host == "" {
			c.History.Host = "127.0.0.1"
		}
		if c.History.Port == 0 {
			c.History.Port = 3306
		}
		if c.History.Database == "" {
			c.History.Database = "grabyard"
		}
		if c.History.User == "" {
			c.History.User = "root"
		}
	}
	if c.History.Retention == 0 {
		c.History.Retention = 30 * 24 * time.Hour
	}
	if c.History.Prune == "" {
		c.History.Prune = "@daily"
	}

	if c.Status.Addr == "" {
		c.Status.Addr = ":8080"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "grabyard"
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case PlatformDiscord, PlatformSlack:
	case "":
		errs = append(errs, "platform is required")
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (discord, slack)", c.Platform))
	}

	if len(c.Origin.Mirrors) == 0 {
		errs = append(errs, "at least one origin mirror is required")
	}
	errs = append(errs, validateMirrors(c.Origin.Mirrors)...)
	if c.Origin.Timeout < 0 {
		errs = append(errs, "origin.timeout must not be negative")
	}
	if c.Origin.Rounds < 1 {
		errs = append(errs, "origin.rounds must be at least 1")
	}
	if c.Probe.Timeout < 0 {
		errs = append(errs, "probe.timeout must not be negative")
	}

	if c.Pending.Capacity < 1 {
		errs = append(errs, "pending.capacity must be at least 1")
	}
	if c.Pending.MaxAge < 0 {
		errs = append(errs, "pending.max_age must not be negative")
	}
	if c.Pending.AutoDelay < 0 {
		errs = append(errs, "pending.auto_delay must not be negative")
	}
	if c.Limits.SubmitRPS < 0 {
		errs = append(errs, "limits.submit_rps must not be negative")
	}

	switch c.History.Driver {
	case "sqlite", "mysql", "none":
	default:
		errs = append(errs, fmt.Sprintf("history.driver %q is not supported (sqlite, mysql, none)", c.History.Driver))
	}
	if c.History.Retention < 0 {
		errs = append(errs, "history.retention must not be negative")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, "telemetry.sample_ratio must be between 0 and 1")
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.File == "" {
			errs = append(errs, "logging.file is required when output is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("logging.output %q is not supported (stdout, stderr, file)", c.Logging.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateMirrors(mirrors []string) []string {
	var errs []string
	seen := make(map[string]bool, len(mirrors))
	for i, m := range mirrors {
		u, err := url.Parse(m)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("origin.mirrors[%d] %q is not an http(s) URL", i, m))
			continue
		}
		if seen[m] {
			errs = append(errs, fmt.Sprintf("origin.mirrors[%d] %q is listed twice", i, m))
		}
		seen[m] = true
	}
	return errs
}
