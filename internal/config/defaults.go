package config

// Default values for configuration options. These are "layer 0" of the
// override chain and match what every known appliance expects.
const (
	defaultFileDBID       = 1
	defaultMaxRetries     = 3
	defaultRetryDelay     = "1s"
	defaultHistorySize    = 50
	defaultRequestTimeout = "30s"
	defaultMaxUploadSize  = "10MiB"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Appliance: ApplianceConfig{FileDBID: defaultFileDBID},
		Retry: RetryConfig{
			MaxRetries: defaultMaxRetries,
			RetryDelay: defaultRetryDelay,
		},
		History: HistoryConfig{Size: defaultHistorySize},
		Transport: TransportConfig{
			TreatOpaqueRedirectAsSuccess: true,
			RequestTimeout:               defaultRequestTimeout,
			MaxUploadSize:                defaultMaxUploadSize,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
