// Package config provides dynamic configuration management for NetGaze.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for NetGaze.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	// ControlPort: dashboard API, chart queries, live stream (JWT protected)
	ControlPort int `mapstructure:"control_port"`
	// DataPort: inbound agent reports (optional Bearer token)
	DataPort int    `mapstructure:"data_port"`
	DBPath   string `mapstructure:"db_path"`

	// ── Security ──────────────────────────────────────────────────────────────
	// JWTSecret: HS256 signing key for control-plane tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	// AgentToken: pre-shared key for the data plane. Empty disables the check.
	AgentToken string `mapstructure:"agent_token"`
	// AdminUser / AdminPass seed the users table on first start.
	AdminUser string `mapstructure:"admin_user"`
	AdminPass string `mapstructure:"admin_pass"`

	// ── Notifications ─────────────────────────────────────────────────────────
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`

	// ── Monitor ───────────────────────────────────────────────────────────────
	DeviceInterval    int  `mapstructure:"device_interval_seconds"`
	LocalInterval     int  `mapstructure:"local_interval_seconds"`
	ProbeTimeoutMS    int  `mapstructure:"probe_timeout_ms"`
	ProbeConcurrency  int  `mapstructure:"probe_concurrency"`
	ICMPPrivileged    bool `mapstructure:"icmp_privileged"`
	HistoryLimit      int  `mapstructure:"history_limit"`
	CollapseErrorDown bool `mapstructure:"collapse_error_into_down"`

	CPUThreshold        float64 `mapstructure:"cpu_threshold"`
	RAMThreshold        float64 `mapstructure:"ram_threshold"`
	DiskThreshold       float64 `mapstructure:"disk_threshold"`
	LocalAlertCooldown  int     `mapstructure:"local_alert_cooldown_seconds"`
	DeviceAlertCooldown int     `mapstructure:"device_alert_cooldown_seconds"`

	// ── Agent ────────────────────────────────────────────────────────────────
	AgentJoinAddr string `mapstructure:"agent_join_addr"`
	AgentName     string `mapstructure:"agent_name"`
	AgentInterval int    `mapstructure:"agent_interval_seconds"`
	// AgentOutboundToken is sent by the agent (overridden by --token CLI flag)
	AgentOutboundToken string `mapstructure:"agent_outbound_token"`
}

// Load reads config from file (./config.yaml or ~/.netgaze/config.yaml)
// and falls back to smart defaults. Environment variables with prefix NETGAZE_
// override file values.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// --- Config file ---
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.netgaze")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("NETGAZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// The bot credentials keep their historical unprefixed names too.
	_ = v.BindEnv("telegram_token", "NETGAZE_TELEGRAM_TOKEN", "TELEGRAM_TOKEN")
	_ = v.BindEnv("telegram_chat_id", "NETGAZE_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("control_port", 5000)
	v.SetDefault("data_port", 5050)
	v.SetDefault("db_path", "netgaze.db")

	// Security defaults — MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "Ng7$wQ2!pL9#zR4^kX6&bM1*tY8@hC3")
	v.SetDefault("agent_token", "")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin123")

	v.SetDefault("telegram_token", "")
	v.SetDefault("telegram_chat_id", "")

	v.SetDefault("device_interval_seconds", 3)
	v.SetDefault("local_interval_seconds", 1)
	v.SetDefault("probe_timeout_ms", 1000)
	v.SetDefault("probe_concurrency", 16)
	v.SetDefault("icmp_privileged", false)
	v.SetDefault("history_limit", 20)
	v.SetDefault("collapse_error_into_down", false)

	v.SetDefault("cpu_threshold", 85.0)
	v.SetDefault("ram_threshold", 90.0)
	v.SetDefault("disk_threshold", 90.0)
	v.SetDefault("local_alert_cooldown_seconds", 60)
	v.SetDefault("device_alert_cooldown_seconds", 0)

	v.SetDefault("agent_join_addr", "127.0.0.1:5050")
	v.SetDefault("agent_name", "")
	v.SetDefault("agent_interval_seconds", 3)
	v.SetDefault("agent_outbound_token", "")
}

// Validate rejects settings the monitor cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for name, port := range map[string]int{"control_port": c.ControlPort, "data_port": c.DataPort} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range 1-65535", name, port))
		}
	}
	for name, n := range map[string]int{
		"device_interval_seconds": c.DeviceInterval,
		"local_interval_seconds":  c.LocalInterval,
		"probe_timeout_ms":        c.ProbeTimeoutMS,
		"probe_concurrency":       c.ProbeConcurrency,
		"history_limit":           c.HistoryLimit,
		"agent_interval_seconds":  c.AgentInterval,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	for name, pct := range map[string]float64{
		"cpu_threshold":  c.CPUThreshold,
		"ram_threshold":  c.RAMThreshold,
		"disk_threshold": c.DiskThreshold,
	} {
		if pct <= 0 || pct > 100 {
			errs = append(errs, fmt.Errorf("%s must be in (0,100], got %v", name, pct))
		}
	}
	if c.LocalAlertCooldown <= 0 {
		errs = append(errs, fmt.Errorf("local_alert_cooldown_seconds must be positive, got %d", c.LocalAlertCooldown))
	}
	if c.DeviceAlertCooldown < 0 {
		errs = append(errs, errors.New("device_alert_cooldown_seconds must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DevicePeriod is the device probing tick period.
func (c *Config) DevicePeriod() time.Duration {
	return time.Duration(c.DeviceInterval) * time.Second
}

// LocalPeriod is the local resource sampling tick period.
func (c *Config) LocalPeriod() time.Duration {
	return time.Duration(c.LocalInterval) * time.Second
}

// ProbeTimeout bounds every remote probe.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}
