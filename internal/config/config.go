// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for tbgwctl. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags. Credentials may also come from the file written by `tbgwctl login`.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Appliance ApplianceConfig `toml:"appliance"`
	Retry     RetryConfig     `toml:"retry"`
	Batch     BatchConfig     `toml:"batch"`
	History   HistoryConfig   `toml:"history"`
	Transport TransportConfig `toml:"transport"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// ApplianceConfig identifies the appliance and the credentials sent as
// HTTP Basic auth.
type ApplianceConfig struct {
	BaseURL            string `toml:"base_url"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	FileDBID           int    `toml:"file_db_id"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// RetryConfig bounds the retry-on-session-expiry loop. max_retries counts
// total attempts, including the first.
type RetryConfig struct {
	MaxRetries int    `toml:"max_retries"`
	RetryDelay string `toml:"retry_delay"`
}

// BatchConfig sets the default failure policy for batches.
type BatchConfig struct {
	ContinueOnError bool `toml:"continue_on_error"`
}

// HistoryConfig bounds the in-memory operation history.
type HistoryConfig struct {
	Size int `toml:"size"`
}

// TransportConfig controls HTTP behavior and response classification.
// treat_opaque_redirect_as_success keeps the heuristic that a cross-origin
// shaped network failure on a submission hides a successful redirect.
type TransportConfig struct {
	TreatOpaqueRedirectAsSuccess bool   `toml:"treat_opaque_redirect_as_success"`
	RequestTimeout               string `toml:"request_timeout"`
	UserAgent                    string `toml:"user_agent"`
	MaxUploadSize                string `toml:"max_upload_size"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// MetricsConfig controls Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath      string  // --config flag (empty = use default)
	CredentialsPath string  // --credentials flag (empty = use default)
	BaseURL         string  // --url flag
	FileDBID        int     // --db flag (0 = not set)
	ContinueOnError *bool   // --continue-on-error flag
	MetricsFile     *string // --metrics-file flag

	// SkipCredfile leaves the credentials file unread (login replaces it).
	SkipCredfile bool
}

// Resolved is the fully merged configuration with durations and sizes
// parsed, ready for use.
type Resolved struct {
	ConfigPath string `json:"config_path"`

	BaseURL            string `json:"base_url"`
	Username           string `json:"username"`
	Password           string `json:"password,omitempty"`
	FileDBID           int    `json:"file_db_id"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`

	CredentialsPath string `json:"credentials_path"`

	// CredentialsSource names where the credentials came from ("config",
	// "environment", "credentials file" or "" when absent).
	CredentialsSource string `json:"credentials_source,omitempty"`

	MaxRetries      int           `json:"max_retries"`
	RetryDelay      time.Duration `json:"retry_delay"`
	ContinueOnError bool          `json:"continue_on_error"`
	HistorySize     int           `json:"history_size"`

	TreatOpaqueRedirectAsSuccess bool          `json:"treat_opaque_redirect_as_success"`
	RequestTimeout               time.Duration `json:"request_timeout"`
	UserAgent                    string        `json:"user_agent"`
	MaxUploadSize                int64         `json:"max_upload_size"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	MetricsTextfile string `json:"metrics_textfile,omitempty"`
}
