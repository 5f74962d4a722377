// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for adminctl. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// All keys are flat; the embedded sections only group them in Go.
type Config struct {
	ServerConfig
	SessionConfig
	QueryConfig
	LoggingConfig
	NetworkConfig
}

// ServerConfig locates the backend and its authentication endpoints.
type ServerConfig struct {
	BaseURL        string `toml:"base_url"`
	LoginPath      string `toml:"login_path"`
	RefreshPath    string `toml:"refresh_path"`
	RefreshTimeout string `toml:"refresh_timeout"`
}

// SessionConfig selects where the credential is kept between runs.
type SessionConfig struct {
	SessionBackend string `toml:"session_backend"`
	SessionPath    string `toml:"session_path"`
}

// QueryConfig controls list paging and cache freshness.
type QueryConfig struct {
	StaleTime   string `toml:"stale_time"`
	RowsPerPage int    `toml:"rows_per_page"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	MaxRetries     int    `toml:"max_retries"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath     string  // --config flag (empty = use default)
	BaseURL        *string // --base-url flag
	SessionBackend *string // --session flag
}

// Resolved is the effective configuration after every override layer, with
// durations parsed and the session path filled in.
type Resolved struct {
	ConfigPath     string
	BaseURL        string
	LoginPath      string
	RefreshPath    string
	RefreshTimeout time.Duration
	SessionBackend string
	SessionPath    string
	StaleTime      time.Duration
	RowsPerPage    int
	ConnectTimeout time.Duration
	DataTimeout    time.Duration
	UserAgent      string
	MaxRetries     int
	LogLevel       string
	LogFormat      string
}
