package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated TOML
// summary to w. This powers "config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", orNone(r.ConfigPath))

	ew.printf("# server\n")
	ew.printf("base_url        = %q\n", r.BaseURL)
	ew.printf("login_path      = %q\n", r.LoginPath)
	ew.printf("refresh_path    = %q\n", r.RefreshPath)
	ew.printf("refresh_timeout = %q\n\n", r.RefreshTimeout.String())

	ew.printf("# session\n")
	ew.printf("session_backend = %q\n", r.SessionBackend)
	ew.printf("session_path    = %q\n\n", r.SessionPath)

	ew.printf("# query\n")
	ew.printf("stale_time      = %q\n", r.StaleTime.String())
	ew.printf("rows_per_page   = %d\n\n", r.RowsPerPage)

	ew.printf("# logging\n")
	ew.printf("log_level       = %q\n", r.LogLevel)
	ew.printf("log_format      = %q\n\n", r.LogFormat)

	ew.printf("# network\n")
	ew.printf("connect_timeout = %q\n", r.ConnectTimeout.String())
	ew.printf("data_timeout    = %q\n", r.DataTimeout.String())
	ew.printf("user_agent      = %q\n", r.UserAgent)
	ew.printf("max_retries     = %d\n", r.MaxRetries)

	return ew.err
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}

	return s
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
