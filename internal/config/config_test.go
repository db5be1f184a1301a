package config

import (
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
	if cfg.Listen.Address != "127.0.0.1:1080" {
		t.Errorf("unexpected default listen address: %s", cfg.Listen.Address)
	}
}

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte(`listen:
  address: "0.0.0.0:1080"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Listen.Address != "0.0.0.0:1080" {
		t.Errorf("address not overridden: %s", cfg.Listen.Address)
	}
	// unspecified fields keep their defaults
	if cfg.Listen.MaxConnections != 1000 {
		t.Errorf("expected default max_connections to survive, got %d", cfg.Listen.MaxConnections)
	}
}

func TestParse_EnvVarExpansion(t *testing.T) {
	t.Setenv("SOCKS5GATE_ADDR", "10.0.0.1:1080")

	cfg, err := Parse([]byte(`listen:
  address: "${SOCKS5GATE_ADDR}"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Listen.Address != "10.0.0.1:1080" {
		t.Errorf("env var not expanded: %s", cfg.Listen.Address)
	}
}

func TestParse_EnvVarDefault(t *testing.T) {
	cfg, err := Parse([]byte(`listen:
  address: "${SOCKS5GATE_UNSET_VAR:-127.0.0.1:9050}"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Listen.Address != "127.0.0.1:9050" {
		t.Errorf("env var default not applied: %s", cfg.Listen.Address)
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Listen.Address = ""
	cfg.Listen.BufferSizeKB = 0
	cfg.Listen.AuthMethods = nil
	cfg.Log.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	for _, want := range []string{
		"listen.address is required",
		"listen.buffer_size_kb",
		"listen.auth_methods must name",
		"invalid log.level",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_RejectsUnimplementedAuthMethod(t *testing.T) {
	cfg := Default()
	cfg.Listen.AuthMethods = []string{"username_password"}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "not implemented") {
		t.Fatalf("expected unimplemented auth method error, got: %v", err)
	}
}

func TestValidate_WebSocketRequiresTLSUnlessPlainText(t *testing.T) {
	cfg := Default()
	cfg.WebSocket.Enabled = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing TLS cert/key")
	}

	cfg.WebSocket.PlainText = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("plain_text should satisfy the TLS requirement, got: %v", err)
	}
}

func TestValidate_RateLimitRequiresPositiveRate(t *testing.T) {
	cfg := Default()
	cfg.Listen.RateLimit.Enabled = true
	cfg.Listen.RateLimit.PerSecond = 0

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "rate_limit.per_second") {
		t.Fatalf("expected rate limit validation error, got: %v", err)
	}
}

func TestRedacted_HidesWebSocketPasswords(t *testing.T) {
	cfg := Default()
	cfg.WebSocket.Users = map[string]string{"alice": "$2a$10$somehashvalue"}

	redacted := cfg.Redacted()
	if redacted.WebSocket.Users["alice"] != redactedValue {
		t.Errorf("expected password hash to be redacted, got: %s", redacted.WebSocket.Users["alice"])
	}
	// original must be untouched
	if cfg.WebSocket.Users["alice"] != "$2a$10$somehashvalue" {
		t.Errorf("Redacted mutated the original config")
	}
}
