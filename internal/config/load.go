package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.BaseURL != "" {
		cfg.BaseURL = env.BaseURL
	}

	if env.SessionBackend != "" {
		cfg.SessionBackend = env.SessionBackend
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.BaseURL != nil {
		cfg.BaseURL = *cli.BaseURL
	}

	if cli.SessionBackend != nil {
		cfg.SessionBackend = *cli.SessionBackend
	}

	// 5. Overrides bypass Load's validation, so check the merged result.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved := resolve(cfg, cfgPath)

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// resolve converts a validated Config. Durations have already been checked,
// so parse errors cannot occur here.
func resolve(cfg *Config, path string) *Resolved {
	sessionPath := cfg.SessionPath
	if sessionPath == "" {
		sessionPath = DefaultSessionPath(cfg.SessionBackend)
	}

	return &Resolved{
		ConfigPath:     path,
		BaseURL:        cfg.BaseURL,
		LoginPath:      cfg.LoginPath,
		RefreshPath:    cfg.RefreshPath,
		RefreshTimeout: durationOf(cfg.RefreshTimeout),
		SessionBackend: cfg.SessionBackend,
		SessionPath:    sessionPath,
		StaleTime:      durationOf(cfg.StaleTime),
		RowsPerPage:    cfg.RowsPerPage,
		ConnectTimeout: durationOf(cfg.ConnectTimeout),
		DataTimeout:    durationOf(cfg.DataTimeout),
		UserAgent:      cfg.UserAgent,
		MaxRetries:     cfg.MaxRetries,
		LogLevel:       cfg.LogLevel,
		LogFormat:      cfg.LogFormat,
	}
}

func durationOf(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
