package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/tbgwctl/internal/credfile"
)

// Credential sources reported in Resolved.CredentialsSource.
const (
	SourceConfig      = "config"
	SourceEnvironment = "environment"
	SourceCredfile    = "credentials file"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
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
// defaults -> config file -> credentials file -> environment -> CLI flags.
// The credentials file only supplies base_url when the config file left it
// empty; its username and password replace the config file's.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

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

	resolved, err := resolveFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	resolved.ConfigPath = cfgPath

	// 3. Credentials file written by `tbgwctl login`
	credPath := DefaultCredentialsPath()
	if cli.CredentialsPath != "" {
		credPath = cli.CredentialsPath
	}

	resolved.CredentialsPath = credPath

	if !cli.SkipCredfile {
		if err := applyCredfile(resolved, credPath); err != nil {
			return nil, err
		}
	}

	// 4. Environment
	applyEnv(resolved, env)

	// 5. CLI flags (pointer fields: nil = not specified)
	if cli.BaseURL != "" {
		resolved.BaseURL = cli.BaseURL
	}

	if cli.FileDBID != 0 {
		resolved.FileDBID = cli.FileDBID
	}

	if cli.ContinueOnError != nil {
		resolved.ContinueOnError = *cli.ContinueOnError
	}

	if cli.MetricsFile != nil {
		resolved.MetricsTextfile = *cli.MetricsFile
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	logger.Debug("config resolved",
		slog.String("config_path", resolved.ConfigPath),
		slog.String("base_url", resolved.BaseURL),
		slog.Int("file_db_id", resolved.FileDBID),
		slog.String("credentials_source", resolved.CredentialsSource),
	)

	return resolved, nil
}

// resolveFromConfig converts a validated Config into a Resolved with
// durations and sizes parsed.
func resolveFromConfig(cfg *Config) (*Resolved, error) {
	retryDelay, err := time.ParseDuration(cfg.Retry.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("retry_delay: %w", err)
	}

	timeout, err := time.ParseDuration(cfg.Transport.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("request_timeout: %w", err)
	}

	maxUpload, err := ParseSize(cfg.Transport.MaxUploadSize)
	if err != nil {
		return nil, fmt.Errorf("max_upload_size: %w", err)
	}

	r := &Resolved{
		BaseURL:                      cfg.Appliance.BaseURL,
		Username:                     cfg.Appliance.Username,
		Password:                     cfg.Appliance.Password,
		FileDBID:                     cfg.Appliance.FileDBID,
		InsecureSkipVerify:           cfg.Appliance.InsecureSkipVerify,
		MaxRetries:                   cfg.Retry.MaxRetries,
		RetryDelay:                   retryDelay,
		ContinueOnError:              cfg.Batch.ContinueOnError,
		HistorySize:                  cfg.History.Size,
		TreatOpaqueRedirectAsSuccess: cfg.Transport.TreatOpaqueRedirectAsSuccess,
		RequestTimeout:               timeout,
		UserAgent:                    cfg.Transport.UserAgent,
		MaxUploadSize:                maxUpload,
		LogLevel:                     cfg.Logging.LogLevel,
		LogFormat:                    cfg.Logging.LogFormat,
		MetricsTextfile:              cfg.Metrics.Textfile,
	}

	if r.Username != "" {
		r.CredentialsSource = SourceConfig
	}

	return r, nil
}

func applyCredfile(r *Resolved, path string) error {
	if path == "" {
		return nil
	}

	f, err := credfile.Load(path)
	if err != nil {
		return err
	}

	if f == nil {
		return nil
	}

	r.Username = f.Username
	r.Password = f.Password
	r.CredentialsSource = SourceCredfile

	if r.BaseURL == "" {
		r.BaseURL = f.BaseURL
	}

	return nil
}

func applyEnv(r *Resolved, env EnvOverrides) {
	if env.BaseURL != "" {
		r.BaseURL = env.BaseURL
	}

	if env.Username != "" {
		r.Username = env.Username
		r.CredentialsSource = SourceEnvironment
	}

	if env.Password != "" {
		r.Password = env.Password
		r.CredentialsSource = SourceEnvironment
	}
}
