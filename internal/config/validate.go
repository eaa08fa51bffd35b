package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minMaxRetries     = 1
	maxMaxRetries     = 10
	minHistorySize    = 1
	maxHistorySize    = 10_000
	maxRetryDelay     = 5 * time.Minute
	minRequestTimeout = 1 * time.Second
	minFileDBID       = 1
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAppliance(&cfg.Appliance)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateHistory(&cfg.History)...)
	errs = append(errs, validateTransport(&cfg.Transport)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints on the merged result. Unlike
// Validate, which checks raw config file values, this runs after env and
// CLI overrides have been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.BaseURL != "" {
		if err := validateBaseURL(r.BaseURL); err != nil {
			errs = append(errs, err)
		}
	}

	if r.FileDBID < minFileDBID {
		errs = append(errs, fmt.Errorf("file_db_id: must be >= %d, got %d", minFileDBID, r.FileDBID))
	}

	return errors.Join(errs...)
}

func validateAppliance(a *ApplianceConfig) []error {
	var errs []error

	if a.BaseURL != "" {
		if err := validateBaseURL(a.BaseURL); err != nil {
			errs = append(errs, err)
		}
	}

	if a.FileDBID < minFileDBID {
		errs = append(errs, fmt.Errorf("file_db_id: must be >= %d, got %d", minFileDBID, a.FileDBID))
	}

	if a.Password != "" && a.Username == "" {
		errs = append(errs, errors.New("password: set without username"))
	}

	return errs
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url: scheme must be http or https, got %q", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("base_url: missing host in %q", raw)
	}

	return nil
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.MaxRetries < minMaxRetries || r.MaxRetries > maxMaxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be between %d and %d, got %d",
			minMaxRetries, maxMaxRetries, r.MaxRetries))
	}

	d, err := time.ParseDuration(r.RetryDelay)
	if err != nil {
		errs = append(errs, fmt.Errorf("retry_delay: invalid duration %q: %w", r.RetryDelay, err))
	} else if d < 0 || d > maxRetryDelay {
		errs = append(errs, fmt.Errorf("retry_delay: must be between 0s and %s, got %s", maxRetryDelay, d))
	}

	return errs
}

func validateHistory(h *HistoryConfig) []error {
	if h.Size < minHistorySize || h.Size > maxHistorySize {
		return []error{fmt.Errorf("history size: must be between %d and %d, got %d",
			minHistorySize, maxHistorySize, h.Size)}
	}

	return nil
}

func validateTransport(t *TransportConfig) []error {
	var errs []error

	if err := validateDuration("request_timeout", t.RequestTimeout, minRequestTimeout); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseSize(t.MaxUploadSize); err != nil {
		errs = append(errs, fmt.Errorf("max_upload_size: %w", err))
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}
