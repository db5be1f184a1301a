// Package config provides configuration parsing and validation for socks5gate.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete on-disk configuration for socks5gate.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

// ListenConfig configures the plain TCP SOCKS5 listener and the protocol
// engine's per-connection behavior.
type ListenConfig struct {
	Address           string          `yaml:"address"`
	MaxConnections    int             `yaml:"max_connections"`
	HandshakeTimeout  time.Duration   `yaml:"handshake_timeout"`
	ConnectionTimeout time.Duration   `yaml:"connection_timeout"`
	BufferSizeKB      int             `yaml:"buffer_size_kb"`
	TCPNoDelay        bool            `yaml:"tcp_nodelay"`
	AuthMethods       []string        `yaml:"auth_methods"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures per-source-IP connection admission control.
type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// WebSocketConfig configures the optional WebSocket SOCKS5 ingress.
type WebSocketConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Address     string            `yaml:"address"`
	Path        string            `yaml:"path"`
	PlainText   bool              `yaml:"plain_text"`
	TLSCertFile string            `yaml:"tls_cert_file"`
	TLSKeyFile  string            `yaml:"tls_key_file"`
	Users       map[string]string `yaml:"users"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration the scaffolding surface falls back to
// when a key is left unset.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Address:           "127.0.0.1:1080",
			MaxConnections:    1000,
			HandshakeTimeout:  10 * time.Second,
			ConnectionTimeout: 10 * time.Minute,
			BufferSizeKB:      32,
			TCPNoDelay:        true,
			AuthMethods:       []string{"none"},
		},
		WebSocket: WebSocketConfig{
			Enabled: false,
			Address: "0.0.0.0:8443",
			Path:    "/socks5",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads, expands, parses, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, starting from Default() so
// any key the file omits keeps its default value.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces $VAR and ${VAR} (with optional ${VAR:-default})
// references with environment values before the YAML is parsed.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName, defaultVal := name[:idx], name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

var validAuthMethods = map[string]bool{"none": true}

// Validate checks the configuration for errors, collecting every violation
// rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Listen.Address == "" {
		errs = append(errs, "listen.address is required")
	}
	if c.Listen.BufferSizeKB <= 0 || c.Listen.BufferSizeKB > 1024 {
		errs = append(errs, "listen.buffer_size_kb must be between 1 and 1024")
	}
	if len(c.Listen.AuthMethods) == 0 {
		errs = append(errs, "listen.auth_methods must name at least one method")
	}
	for _, m := range c.Listen.AuthMethods {
		if !validAuthMethods[strings.ToLower(m)] {
			errs = append(errs, fmt.Sprintf("listen.auth_methods: %q is not implemented (only \"none\" is)", m))
		}
	}
	if c.Listen.RateLimit.Enabled && c.Listen.RateLimit.PerSecond <= 0 {
		errs = append(errs, "listen.rate_limit.per_second must be positive when enabled")
	}

	if c.WebSocket.Enabled {
		if c.WebSocket.Address == "" {
			errs = append(errs, "websocket.address is required when enabled")
		}
		if c.WebSocket.Path == "" {
			errs = append(errs, "websocket.path is required when enabled")
		}
		if !c.WebSocket.PlainText && (c.WebSocket.TLSCertFile == "" || c.WebSocket.TLSKeyFile == "") {
			errs = append(errs, "websocket.tls_cert_file and tls_key_file are required unless plain_text is set")
		}
	}

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}

const redactedValue = "[REDACTED]"

// Redacted returns a deep copy of c with WebSocket user password hashes
// replaced, safe to log or display.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}
	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}
	for user := range redacted.WebSocket.Users {
		redacted.WebSocket.Users[user] = redactedValue
	}
	return redacted
}
