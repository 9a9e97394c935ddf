// Package config handles configuration loading and validation for the
// spacerelay server. The relay itself only needs a bind address and port;
// everything else configures the optional monitoring surfaces.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Version is the spacerelay release version.
const Version = "1.0.0"

const (
	DefaultBindIP     = "0.0.0.0"
	DefaultRelayPort  = 9845
	DefaultAPIPort    = 9846
	DefaultCapacity   = 2
	DefaultTickUsec   = 1000
	DefaultTimeoutUs  = 2 * 1000 * 1000
	DefaultBufferSize = 4 * 1024
)

// Config is the root configuration structure.
type Config struct {
	path string

	Relay   RelayConfig   `json:"relay"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	History HistoryConfig `json:"history"`
	Health  HealthConfig  `json:"health"`
	Console ConsoleConfig `json:"console"`
	Logging LoggingConfig `json:"logging"`
}

// RelayConfig holds the matchmaking/relay socket settings.
type RelayConfig struct {
	BindIP      string `json:"bind_ip"`
	Port        int    `json:"port"`
	Capacity    int    `json:"capacity"`
	TickUsec    int64  `json:"tick_usec"`
	TimeoutUsec int64  `json:"timeout_usec"`
	BufferSize  int    `json:"buffer_size"`

	// EchoSender relays a member's packets back to the member itself.
	EchoSender bool `json:"echo_sender"`
}

// APIConfig holds the read-only monitoring API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// HistoryConfig holds the session history ledger settings.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// HealthConfig holds worker health check settings.
type HealthConfig struct {
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec"`
	StallThresholdMs     int `json:"stall_threshold_ms"`
}

// ConsoleConfig toggles the interactive console on stdin.
type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with the relay's stock settings and
// every optional surface switched off.
func DefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			BindIP:      DefaultBindIP,
			Port:        DefaultRelayPort,
			Capacity:    DefaultCapacity,
			TickUsec:    DefaultTickUsec,
			TimeoutUsec: DefaultTimeoutUs,
			BufferSize:  DefaultBufferSize,
			EchoSender:  true,
		},
		API: APIConfig{
			Enabled:      false,
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: "spacerelay",
		},
		History: HistoryConfig{
			Enabled:       false,
			Path:          "spacerelay_history.db",
			RetentionDays: 7,
			CleanupTime:   "04:00",
		},
		Health: HealthConfig{
			HeartbeatIntervalSec: 60,
			StallThresholdMs:     1000,
		},
		Console: ConsoleConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file, overlaying it on DefaultConfig.
// An empty path returns the defaults. The file is never written back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.path = path
	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// RelayAddr returns the host:port the relay socket binds to.
func (c *Config) RelayAddr() string {
	return net.JoinHostPort(c.Relay.BindIP, strconv.Itoa(c.Relay.Port))
}

// Tick returns the poller tick interval.
func (r RelayConfig) Tick() time.Duration {
	return time.Duration(r.TickUsec) * time.Microsecond
}

// Timeout returns the slot inactivity timeout.
func (r RelayConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutUsec) * time.Microsecond
}
