package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minRowsPerPage    = 1
	maxRowsPerPage    = 500
	maxRetriesLimit   = 10
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.ServerConfig)...)
	errs = append(errs, validateSession(&cfg.SessionConfig)...)
	errs = append(errs, validateQuery(&cfg.QueryConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only apply once every override
// layer has been merged. A config file may omit base_url when the
// environment or a flag supplies it.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.BaseURL == "" {
		errs = append(errs, fmt.Errorf("base_url: required (set it in the config file, %s, or --base-url)", EnvBaseURL))
	}

	if r.SessionBackend != BackendMemory && r.SessionPath == "" {
		errs = append(errs, errors.New("session_path: cannot determine a default location; set it explicitly"))
	}

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.BaseURL != "" {
		errs = append(errs, validateBaseURL(s.BaseURL)...)
	}

	errs = append(errs, validatePath("login_path", s.LoginPath)...)
	errs = append(errs, validatePath("refresh_path", s.RefreshPath)...)
	errs = append(errs, validateDurationNonNeg("refresh_timeout", s.RefreshTimeout)...)

	return errs
}

func validateBaseURL(raw string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("base_url: %w", err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("base_url: scheme must be http or https, got %q", raw)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("base_url: missing host in %q", raw)}
	}

	return nil
}

func validatePath(field, value string) []error {
	if !strings.HasPrefix(value, "/") {
		return []error{fmt.Errorf("%s: must start with /, got %q", field, value)}
	}

	return nil
}

var validBackends = map[string]bool{
	BackendFile:   true,
	BackendSQLite: true,
	BackendMemory: true,
}

func validateSession(s *SessionConfig) []error {
	if !validBackends[s.SessionBackend] {
		return []error{fmt.Errorf("session_backend: must be one of file, sqlite, memory; got %q", s.SessionBackend)}
	}

	return nil
}

func validateQuery(q *QueryConfig) []error {
	var errs []error

	errs = append(errs, validateDurationNonNeg("stale_time", q.StaleTime)...)

	if q.RowsPerPage < minRowsPerPage || q.RowsPerPage > maxRowsPerPage {
		errs = append(errs, fmt.Errorf("rows_per_page: must be between %d and %d, got %d",
			minRowsPerPage, maxRowsPerPage, q.RowsPerPage))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	if n.MaxRetries < 0 || n.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxRetriesLimit, n.MaxRetries))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}
