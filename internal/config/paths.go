package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "adminctl"

// File names inside the platform directories.
const (
	configFileName  = "config.toml"
	credentialFile  = "credential.json"
	sessionDatabase = "session.db"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/adminctl).
// On macOS, uses ~/Library/Application Support/adminctl.
// Other platforms fall back to ~/.config/adminctl.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application
// data (the stored credential).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/adminctl).
// On macOS, config and data share ~/Library/Application Support/adminctl.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither ADMINCTL_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultSessionPath returns where backend keeps the credential. The memory
// backend has no path.
func DefaultSessionPath(backend string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	switch backend {
	case BackendSQLite:
		return filepath.Join(dir, sessionDatabase)
	case BackendMemory:
		return ""
	default:
		return filepath.Join(dir, credentialFile)
	}
}
