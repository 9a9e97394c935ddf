package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateRelay(&cfg.Relay, result)
	validateSurfaces(cfg, result)

	return result
}

func validateRelay(r *RelayConfig, result *ValidationResult) {
	if net.ParseIP(r.BindIP) == nil {
		result.AddError("relay.bind_ip", fmt.Sprintf("not an IP address: %q", r.BindIP))
	}
	validatePort(r.Port, "relay.port", result)

	if r.Capacity < 1 {
		result.AddError("relay.capacity", "must have at least 1 slot")
	}
	if r.Capacity > 1024 {
		result.AddWarning("relay.capacity",
			fmt.Sprintf("large slot table (%d) is scanned linearly on every packet", r.Capacity))
	}

	if r.TickUsec < 1 {
		result.AddError("relay.tick_usec", "tick interval must be positive")
	}
	if r.TimeoutUsec < 1 {
		result.AddError("relay.timeout_usec", "timeout must be positive")
	} else if r.TickUsec > 0 && r.TimeoutUsec < r.TickUsec {
		result.AddWarning("relay.timeout_usec", "timeout shorter than one tick evicts slots on every idle tick")
	}

	if r.BufferSize < 64 {
		result.AddError("relay.buffer_size", "receive buffer must be at least 64 bytes")
	}
	if r.BufferSize > 65535 {
		result.AddWarning("relay.buffer_size", "buffer larger than the maximum UDP payload")
	}
}

func validateSurfaces(cfg *Config, result *ValidationResult) {
	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Port == cfg.Relay.Port {
			result.AddError("api.port", "API port conflicts with relay port")
		}
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps", "rate limit is disabled (0 RPS)")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.History.Enabled {
		if strings.TrimSpace(cfg.History.Path) == "" {
			result.AddError("history.path", "history database path is required when enabled")
		}
		if cfg.History.RetentionDays < 1 {
			result.AddError("history.retention_days", "retention days must be at least 1")
		}
		if _, err := time.Parse("15:04", cfg.History.CleanupTime); err != nil {
			result.AddError("history.cleanup_time", fmt.Sprintf("expected HH:MM, got %q", cfg.History.CleanupTime))
		}
	}

	if cfg.Health.StallThresholdMs > 0 && int64(cfg.Health.StallThresholdMs)*1000 < cfg.Relay.TickUsec*2 {
		result.AddWarning("health.stall_threshold_ms", "stall threshold shorter than two ticks will report false stalls")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
