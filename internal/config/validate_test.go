package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"relative base url", func(c *Config) { c.BaseURL = "admin.example.com" }, "base_url"},
		{"ftp base url", func(c *Config) { c.BaseURL = "ftp://admin.example.com" }, "base_url"},
		{"hostless base url", func(c *Config) { c.BaseURL = "https://" }, "base_url"},
		{"login path", func(c *Config) { c.LoginPath = "login" }, "login_path"},
		{"refresh path", func(c *Config) { c.RefreshPath = "" }, "refresh_path"},
		{"refresh timeout", func(c *Config) { c.RefreshTimeout = "soon" }, "refresh_timeout"},
		{"negative refresh timeout", func(c *Config) { c.RefreshTimeout = "-1s" }, "refresh_timeout"},
		{"backend", func(c *Config) { c.SessionBackend = "redis" }, "session_backend"},
		{"stale time", func(c *Config) { c.StaleTime = "1 minute" }, "stale_time"},
		{"rows too large", func(c *Config) { c.RowsPerPage = 501 }, "rows_per_page"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"connect timeout", func(c *Config) { c.ConnectTimeout = "100ms" }, "connect_timeout"},
		{"data timeout", func(c *Config) { c.DataTimeout = "1s" }, "data_timeout"},
		{"max retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	cfg.RowsPerPage = 0
	cfg.SessionBackend = ""

	err := Validate(cfg)
	require.Error(t, err)

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.Len(t, joined.Unwrap(), 3)
}

func TestValidateResolved(t *testing.T) {
	assert.NoError(t, ValidateResolved(&Resolved{BaseURL: "http://x", SessionBackend: BackendMemory}))
	assert.NoError(t, ValidateResolved(&Resolved{BaseURL: "http://x", SessionBackend: BackendFile, SessionPath: "/p"}))

	err := ValidateResolved(&Resolved{SessionBackend: BackendFile})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
	assert.Contains(t, err.Error(), "session_path")
}

func TestRenderEffective(t *testing.T) {
	r := resolve(DefaultConfig(), "")
	r.BaseURL = "https://admin.example.com"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	out := buf.String()
	assert.Contains(t, out, "(file: none)")
	assert.Contains(t, out, `base_url        = "https://admin.example.com"`)
	assert.Contains(t, out, `refresh_timeout = "30s"`)
	assert.Contains(t, out, `session_backend = "file"`)
	assert.Contains(t, out, "rows_per_page   = 25")
	assert.Contains(t, out, `stale_time      = "0s"`)
}
