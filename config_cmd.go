package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/adminctl/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

// configOutput is the JSON schema for `config show --json`. Durations are
// rendered the way they are written in the config file.
type configOutput struct {
	ConfigPath     string `json:"config_path,omitempty"`
	BaseURL        string `json:"base_url"`
	LoginPath      string `json:"login_path"`
	RefreshPath    string `json:"refresh_path"`
	RefreshTimeout string `json:"refresh_timeout"`
	SessionBackend string `json:"session_backend"`
	SessionPath    string `json:"session_path"`
	StaleTime      string `json:"stale_time"`
	RowsPerPage    int    `json:"rows_per_page"`
	ConnectTimeout string `json:"connect_timeout"`
	DataTimeout    string `json:"data_timeout"`
	UserAgent      string `json:"user_agent,omitempty"`
	MaxRetries     int    `json:"max_retries"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
}

func newConfigOutput(r *config.Resolved) configOutput {
	return configOutput{
		ConfigPath:     r.ConfigPath,
		BaseURL:        r.BaseURL,
		LoginPath:      r.LoginPath,
		RefreshPath:    r.RefreshPath,
		RefreshTimeout: r.RefreshTimeout.String(),
		SessionBackend: r.SessionBackend,
		SessionPath:    r.SessionPath,
		StaleTime:      r.StaleTime.String(),
		RowsPerPage:    r.RowsPerPage,
		ConnectTimeout: r.ConnectTimeout.String(),
		DataTimeout:    r.DataTimeout.String(),
		UserAgent:      r.UserAgent,
		MaxRetries:     r.MaxRetries,
		LogLevel:       r.LogLevel,
		LogFormat:      r.LogFormat,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cc.Out, newConfigOutput(cc.Cfg))
	}

	return config.RenderEffective(cc.Cfg, cc.Out)
}
