// Package config provides runtime configuration for AirGuard.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role selects which half of the system a process runs.
type Role string

const (
	// RoleRelay owns the durable store and the ingestion API.
	RoleRelay Role = "relay"
	// RoleNode pushes measurements to a relay instead of storing them.
	RoleNode Role = "node"
)

// Config holds all runtime configuration for AirGuard.
type Config struct {
	Role string `mapstructure:"role"` // "relay" or "node"

	// ── Relay server ─────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	ServerPort int    `mapstructure:"server_port"`
	DBPath     string `mapstructure:"db_path"`

	// ── Security ─────────────────────────────────────────────────────────────
	// JWTSecret: HS256 signing key for operator API tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	// AdminUser / AdminPass: credentials for POST /api/login.
	// AdminPassHash, when set, is a bcrypt hash checked instead of AdminPass.
	AdminUser     string `mapstructure:"admin_user"`
	AdminPass     string `mapstructure:"admin_pass"`
	AdminPassHash string `mapstructure:"admin_pass_hash"`

	// ── Relay link (node role: outbound; relay role: accepted ingest key) ────
	// RelayURL: base URL of the relay, e.g. "http://192.168.1.10:8051".
	RelayURL string `mapstructure:"relay_url"`
	// RelayAPIKey: on a node, the credential sent with every push.
	// On a relay, when non-empty only this exact key is accepted; when empty
	// any non-empty key is accepted and doubles as the node identity ("open" mode).
	RelayAPIKey string `mapstructure:"relay_api_key"`

	// ── Node identity hints (sent with pushes, shown on the relay map) ───────
	NodeName      string   `mapstructure:"node_name"`
	NodeLatitude  *float64 `mapstructure:"node_latitude"`
	NodeLongitude *float64 `mapstructure:"node_longitude"`

	// ── Local Wi-Fi acquisition ──────────────────────────────────────────────
	WifiEnabled    bool   `mapstructure:"wifi_enabled"`
	WifiInterface  string `mapstructure:"wifi_interface"`
	WifiSSID       string `mapstructure:"wifi_ssid"`
	WifiChannel    int    `mapstructure:"wifi_channel"`
	CaptureSeconds int    `mapstructure:"capture_seconds"`
	// RF jamming heuristics: noise floor above JamNoiseDbm, or SNR below
	// JamSNRDb, flags rf_jam_detected.
	JamNoiseDbm float64 `mapstructure:"jam_noise_threshold_dbm"`
	JamSNRDb    float64 `mapstructure:"jam_snr_threshold_db"`

	// ── Channel sweep (slower secondary loop, off by default) ────────────────
	ChannelScanEnabled  bool  `mapstructure:"channel_scan_enabled"`
	ChannelScanInterval int   `mapstructure:"channel_scan_interval_seconds"`
	ChannelScanSeconds  int   `mapstructure:"channel_scan_seconds_per_channel"`
	ChannelScanChannels []int `mapstructure:"channel_scan_channels"`

	// ── Event detection ──────────────────────────────────────────────────────
	DeauthThreshold int `mapstructure:"deauth_count_threshold"`
	// DisassocThreshold falls back to DeauthThreshold when 0.
	DisassocThreshold int `mapstructure:"disassoc_count_threshold"`
}

// Load reads config from file (./config.yaml or ~/.airguard/config.yaml)
// and falls back to defaults. Environment variables with prefix AIRGUARD_
// override file values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("role", "relay")

	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8051)
	v.SetDefault("db_path", "data/monitoring.db")

	// Security defaults — override in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "aG$9rKq2!wXz7#mP4^dN6&eB1*fU3cJ8")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")
	v.SetDefault("admin_pass_hash", "")

	v.SetDefault("relay_url", "")
	v.SetDefault("relay_api_key", "")
	v.SetDefault("node_name", "")

	v.SetDefault("wifi_enabled", false)
	v.SetDefault("wifi_interface", "wlan0")
	v.SetDefault("wifi_ssid", "")
	v.SetDefault("wifi_channel", 0)
	v.SetDefault("capture_seconds", 30)
	v.SetDefault("jam_noise_threshold_dbm", -70.0)
	v.SetDefault("jam_snr_threshold_db", 10.0)

	v.SetDefault("channel_scan_enabled", false)
	v.SetDefault("channel_scan_interval_seconds", 300)
	v.SetDefault("channel_scan_seconds_per_channel", 5)
	v.SetDefault("channel_scan_channels", []int{1, 6, 11})

	v.SetDefault("deauth_count_threshold", 5)
	v.SetDefault("disassoc_count_threshold", 0)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.airguard")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("AIRGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// IsRelay reports whether this process owns the store and ingestion API.
func (c *Config) IsRelay() bool {
	return strings.ToLower(c.Role) != string(RoleNode)
}

// IsNode reports whether this process pushes to a remote relay.
func (c *Config) IsNode() bool {
	return strings.ToLower(c.Role) == string(RoleNode)
}

// CaptureDuration is the nominal duration of one acquisition capture; the
// scheduler's rate cap keeps cycles from iterating faster than this.
func (c *Config) CaptureDuration() time.Duration {
	if c.CaptureSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CaptureSeconds) * time.Second
}

// SweepInterval is the period of the channel-sweep loop.
func (c *Config) SweepInterval() time.Duration {
	if c.ChannelScanInterval <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ChannelScanInterval) * time.Second
}

// SweepPerChannel is the capture duration for each channel in a sweep,
// clamped to 1-30s so a long channel list cannot starve the interval.
func (c *Config) SweepPerChannel() time.Duration {
	s := c.ChannelScanSeconds
	if s < 1 {
		s = 1
	}
	if s > 30 {
		s = 30
	}
	return time.Duration(s) * time.Second
}

// DisassocCountThreshold returns the disassoc threshold, defaulting to the
// deauth threshold when unset.
func (c *Config) DisassocCountThreshold() int {
	if c.DisassocThreshold > 0 {
		return c.DisassocThreshold
	}
	return c.DeauthThreshold
}
