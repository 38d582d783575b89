// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path from.
const EnvironmentVariable = "PEERPROXY_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Transport kinds accepted in core.transport.
const (
	TransportUnix      = "unix"
	TransportWebSocket = "websocket"
)

// Config is the master configuration.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Core configures how the front end reaches the core and how the
	// core listens.
	Core CoreConfig `yaml:"core"`

	// Connector configures request deadlines and reconnection.
	Connector ConnectorConfig `yaml:"connector"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Core      *CoreConfig      `yaml:"core,omitempty"`
	Connector *ConnectorConfig `yaml:"connector,omitempty"`
	Logging   *LoggingConfig   `yaml:"logging,omitempty"`
}

// CoreConfig configures the channel between front end and core.
type CoreConfig struct {
	// Transport is "unix" or "websocket".
	// Default: unix
	Transport string `yaml:"transport"`

	// SocketPath is the core's unix socket.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/peerproxy/core.sock
	SocketPath string `yaml:"socket_path"`

	// WebSocketListen is the address the core serves WebSocket
	// connections on. Empty disables the WebSocket listener.
	WebSocketListen string `yaml:"websocket_listen"`

	// WebSocketAllowedOrigins lists Origin header values the WebSocket
	// listener accepts besides same-origin requests. A front end running
	// as a browser extension connects with its extension origin
	// ("chrome-extension://<id>") and is refused unless listed here.
	WebSocketAllowedOrigins []string `yaml:"websocket_allowed_origins"`

	// WebSocketURL is the URL the front end dials when Transport is
	// "websocket".
	WebSocketURL string `yaml:"websocket_url"`

	// AllowedUIDs restricts which local users may connect to the unix
	// socket. Empty allows only the core's own UID.
	AllowedUIDs []uint32 `yaml:"allowed_uids"`

	// Roster is the JSONC roster file loaded by the reference core.
	Roster string `yaml:"roster"`
}

// ConnectorConfig configures the front end's core connector. Durations
// are Go duration strings ("30s", "500ms").
type ConnectorConfig struct {
	// RequestTimeout bounds how long a command waits for its response.
	// "0" disables the deadline.
	// Default: 30s
	RequestTimeout string `yaml:"request_timeout"`

	// ReconnectMinBackoff is the first retry delay after a failed dial
	// or a lost connection.
	// Default: 500ms
	ReconnectMinBackoff string `yaml:"reconnect_min_backoff"`

	// ReconnectMaxBackoff caps the exponential retry delay.
	// Default: 30s
	ReconnectMaxBackoff string `yaml:"reconnect_max_backoff"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format"`
}

// Default returns the default configuration. Load and LoadFile start
// from these values before applying the file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Core: CoreConfig{
			Transport:    TransportUnix,
			SocketPath:   "${XDG_RUNTIME_DIR:-/tmp}/peerproxy/core.sock",
			WebSocketURL: "ws://127.0.0.1:8643/core",
		},
		Connector: ConnectorConfig{
			RequestTimeout:      "30s",
			ReconnectMinBackoff: "500ms",
			ReconnectMaxBackoff: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the file named by PEERPROXY_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your peerproxy.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// matching environment section, and expands ${VAR} references.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// Resolve returns LoadFile(path) when path is set, Load() when
// PEERPROXY_CONFIG is set, and an expanded Default otherwise. Commands
// use it so that running without a config file works out of the box.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production logs JSON unless the file says otherwise.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Format: "json"},
			}
		}
	}
	if overrides == nil {
		return
	}

	if core := overrides.Core; core != nil {
		if core.Transport != "" {
			c.Core.Transport = core.Transport
		}
		if core.SocketPath != "" {
			c.Core.SocketPath = core.SocketPath
		}
		if core.WebSocketListen != "" {
			c.Core.WebSocketListen = core.WebSocketListen
		}
		if core.WebSocketURL != "" {
			c.Core.WebSocketURL = core.WebSocketURL
		}
		if len(core.WebSocketAllowedOrigins) > 0 {
			c.Core.WebSocketAllowedOrigins = core.WebSocketAllowedOrigins
		}
		if len(core.AllowedUIDs) > 0 {
			c.Core.AllowedUIDs = core.AllowedUIDs
		}
		if core.Roster != "" {
			c.Core.Roster = core.Roster
		}
	}

	if connector := overrides.Connector; connector != nil {
		if connector.RequestTimeout != "" {
			c.Connector.RequestTimeout = connector.RequestTimeout
		}
		if connector.ReconnectMinBackoff != "" {
			c.Connector.ReconnectMinBackoff = connector.ReconnectMinBackoff
		}
		if connector.ReconnectMaxBackoff != "" {
			c.Connector.ReconnectMaxBackoff = connector.ReconnectMaxBackoff
		}
	}

	if logging := overrides.Logging; logging != nil {
		if logging.Level != "" {
			c.Logging.Level = logging.Level
		}
		if logging.Format != "" {
			c.Logging.Format = logging.Format
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Core.SocketPath = expandVars(c.Core.SocketPath, vars)
	c.Core.Roster = expandVars(c.Core.Roster, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch c.Core.Transport {
	case TransportUnix:
		if c.Core.SocketPath == "" {
			errs = append(errs, fmt.Errorf("core.socket_path is required for the unix transport"))
		}
	case TransportWebSocket:
		if c.Core.WebSocketURL == "" {
			errs = append(errs, fmt.Errorf("core.websocket_url is required for the websocket transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid core.transport: %q (want %q or %q)",
			c.Core.Transport, TransportUnix, TransportWebSocket))
	}

	durations := []struct {
		field string
		value string
	}{
		{"connector.request_timeout", c.Connector.RequestTimeout},
		{"connector.reconnect_min_backoff", c.Connector.ReconnectMinBackoff},
		{"connector.reconnect_max_backoff", c.Connector.ReconnectMaxBackoff},
	}
	for _, duration := range durations {
		if _, err := parseDuration(duration.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", duration.field, err))
		}
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid logging.format: %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// RequestTimeoutDuration returns the parsed request_timeout. Zero means
// commands wait for their response indefinitely.
func (c ConnectorConfig) RequestTimeoutDuration() (time.Duration, error) {
	return parseDuration(c.RequestTimeout)
}

// BackoffRange returns the parsed reconnect backoff bounds.
func (c ConnectorConfig) BackoffRange() (minimum, maximum time.Duration, err error) {
	minimum, err = parseDuration(c.ReconnectMinBackoff)
	if err != nil {
		return 0, 0, fmt.Errorf("reconnect_min_backoff: %w", err)
	}
	maximum, err = parseDuration(c.ReconnectMaxBackoff)
	if err != nil {
		return 0, 0, fmt.Errorf("reconnect_max_backoff: %w", err)
	}
	if maximum < minimum {
		return 0, 0, fmt.Errorf("reconnect_max_backoff %s is below reconnect_min_backoff %s", maximum, minimum)
	}
	return minimum, maximum, nil
}

// SlogLevel converts Level to a slog.Level.
func (c LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("invalid logging.level %q: %w", c.Level, err)
	}
	return level, nil
}

// NewLogger builds the process logger writing to stderr. verbose forces
// debug level regardless of the configured level.
func (c LoggingConfig) NewLogger(verbose bool) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration < 0 {
		return 0, fmt.Errorf("duration %s is negative", value)
	}
	return duration, nil
}
