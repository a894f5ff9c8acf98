package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/toolgate/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "toolgate", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	require.NoError(t, cfg.Validate())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "gate",
		Endpoint:        "https://otel.example:4318",
		Protocol:        "http",
		SampleRate:      0.25,
	}, "1.4.0")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "gate", cfg.ServiceName)
	assert.Equal(t, "1.4.0", cfg.ServiceVersion)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	valid := func(mut func(*Config)) *Config {
		c := NewDefaultConfig()
		c.Enabled = true
		mut(c)
		return c
	}

	tests := []struct {
		name   string
		config *Config
		errMsg string
	}{
		{"disabled skips validation", &Config{}, ""},
		{"enabled defaults", valid(func(*Config) {}), ""},
		{"missing endpoint", valid(func(c *Config) { c.Endpoint = "" }), "endpoint is required"},
		{"missing service name", valid(func(c *Config) { c.ServiceName = "" }), "service_name is required"},
		{"bad protocol", valid(func(c *Config) { c.Protocol = "udp" }), "unsupported protocol"},
		{"insecure remote", valid(func(c *Config) { c.Endpoint = "otel.example:4317" }), "insecure connections"},
		{"secure remote", valid(func(c *Config) { c.Endpoint = "otel.example:4317"; c.Insecure = false }), ""},
		{"sample rate too low", valid(func(c *Config) { c.SampleRate = -0.1 }), "sample rate"},
		{"sample rate too high", valid(func(c *Config) { c.SampleRate = 1.1 }), "sample rate"},
		{"zero export interval", valid(func(c *Config) { c.ExportInterval = 0 }), "export interval"},
		{"metrics off ignores interval", valid(func(c *Config) { c.ExportInterval = 0; c.MetricsEnabled = false }), ""},
		{"zero shutdown timeout", valid(func(c *Config) { c.ShutdownTimeout = 0 }), "shutdown timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.5", true},
		{"http://localhost:4318", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"otel.example:4317", false},
		{"10.0.0.1:4317", false},
		{"localhost.evil.example:4317", false},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			c := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.want, c.isLocalEndpoint())
		})
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "host:4318", stripScheme("https://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("http://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("host:4318"))
}
