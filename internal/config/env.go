package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig   = "TBGWCTL_CONFIG"
	EnvURL      = "TBGWCTL_URL"
	EnvUsername = "TBGWCTL_USERNAME"
	EnvPassword = "TBGWCTL_PASSWORD"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // TBGWCTL_CONFIG: override config file path
	BaseURL    string // TBGWCTL_URL: appliance base URL
	Username   string // TBGWCTL_USERNAME
	Password   string // TBGWCTL_PASSWORD
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. The password value is never logged.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	env := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BaseURL:    os.Getenv(EnvURL),
		Username:   os.Getenv(EnvUsername),
		Password:   os.Getenv(EnvPassword),
	}

	if logger != nil {
		logger.Debug("environment overrides",
			slog.String("config_path", env.ConfigPath),
			slog.String("base_url", env.BaseURL),
			slog.String("username", env.Username),
			slog.Bool("password_set", env.Password != ""),
		)
	}

	return env
}
