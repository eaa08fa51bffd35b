package main

import (
	"errors"
	"log/slog"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
	"github.com/tonimelisma/tbgwctl/internal/config"
	"github.com/tonimelisma/tbgwctl/internal/routeops"
)

// ApplianceSession holds the client and the write pipeline for one
// appliance, all sharing a single session.
type ApplianceSession struct {
	Client       *appliance.Client
	Orchestrator *routeops.Orchestrator
	Coordinator  *routeops.Coordinator
	Resolved     *config.Resolved
}

// NewApplianceSession builds the client, orchestrator and batch
// coordinator from the resolved config.
func NewApplianceSession(cc *CLIContext) (*ApplianceSession, error) {
	cfg := cc.Cfg

	if cfg.BaseURL == "" {
		return nil, errors.New("no appliance configured: set base_url, pass --url, or run 'tbgwctl login'")
	}

	if cfg.Username == "" {
		return nil, errors.New("no credentials: run 'tbgwctl login' or set TBGWCTL_USERNAME and TBGWCTL_PASSWORD")
	}

	logger := cc.Logger
	session := appliance.NewSession(logger)

	client := appliance.NewClient(appliance.Options{
		BaseURL:                      cfg.BaseURL,
		FileDBID:                     cfg.FileDBID,
		Credentials:                  appliance.Credentials{Username: cfg.Username, Password: cfg.Password},
		UserAgent:                    cfg.UserAgent,
		TreatOpaqueRedirectAsSuccess: cfg.TreatOpaqueRedirectAsSuccess,
	}, newHTTPClient(cfg, cc.Metrics), session, logger)

	// The orchestrator reads a zero delay as "use the default"; a
	// configured 0s means no delay at all.
	delay := cfg.RetryDelay
	if delay == 0 {
		delay = -1
	}

	orch := routeops.NewOrchestrator(client, session, routeops.Options{
		FileDBID:    cfg.FileDBID,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  delay,
		HistorySize: cfg.HistorySize,
		Recorder:    cc.Metrics,
	}, logger)

	logger.Debug("appliance session ready",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("file_db_id", cfg.FileDBID),
		slog.String("credentials_source", cfg.CredentialsSource),
	)

	return &ApplianceSession{
		Client:       client,
		Orchestrator: orch,
		Coordinator:  routeops.NewCoordinator(orch, logger),
		Resolved:     cfg,
	}, nil
}
