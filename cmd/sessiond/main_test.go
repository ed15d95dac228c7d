package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-session/pkg/provider/inmem"
)

func validConfig() Config {
	return Config{
		PreferenceBackend: "memory",
		SigningKey:        "test-key",
		APIPrefix:         "/api/v1/session",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		fields []string
	}{
		{"valid", func(c *Config) {}, nil},
		{"postgres backend", func(c *Config) { c.PreferenceBackend = "postgres" }, nil},
		{"unknown backend", func(c *Config) { c.PreferenceBackend = "redis" }, []string{"PREFERENCE_BACKEND"}},
		{"missing signing key and prefix", func(c *Config) {
			c.SigningKey = ""
			c.APIPrefix = ""
		}, []string{"PROVIDER_SIGNING_KEY", "SESSION_API_PREFIX"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			var fields []string
			for _, e := range cfg.Validate() {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestSeedProvider(t *testing.T) {
	p := inmem.New()
	require.NoError(t, seedProvider(p, []string{"demo@example.com:password123", " other@example.com:secret "}))

	res, err := p.VerifyPassword(context.Background(), "other@example.com", "secret")
	require.NoError(t, err)
	assert.True(t, res.EmailConfirmed)

	assert.Error(t, seedProvider(inmem.New(), []string{"missing-password"}))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warn").String())
	assert.Equal(t, "INFO", parseLevel("nonsense").String())
}
