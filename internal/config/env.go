package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig         = "ADMINCTL_CONFIG"
	EnvBaseURL        = "ADMINCTL_BASE_URL"
	EnvSessionBackend = "ADMINCTL_SESSION_BACKEND"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath     string // ADMINCTL_CONFIG: override config file path
	BaseURL        string // ADMINCTL_BASE_URL: backend address
	SessionBackend string // ADMINCTL_SESSION_BACKEND: file, sqlite or memory
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:     os.Getenv(EnvConfig),
		BaseURL:        os.Getenv(EnvBaseURL),
		SessionBackend: os.Getenv(EnvSessionBackend),
	}
}
