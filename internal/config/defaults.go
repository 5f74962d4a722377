package config

// Default values for configuration options: layer 0 of the override chain.
const (
	defaultLoginPath      = "/login"
	defaultRefreshPath    = "/auth/token"
	defaultRefreshTimeout = "30s"
	defaultSessionBackend = BackendFile
	defaultStaleTime      = "0"
	defaultRowsPerPage    = 25
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
)

// Session backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset keys keep their
// defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerConfig: ServerConfig{
			LoginPath:      defaultLoginPath,
			RefreshPath:    defaultRefreshPath,
			RefreshTimeout: defaultRefreshTimeout,
		},
		SessionConfig: SessionConfig{
			SessionBackend: defaultSessionBackend,
		},
		QueryConfig: QueryConfig{
			StaleTime:   defaultStaleTime,
			RowsPerPage: defaultRowsPerPage,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}
