package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
	"github.com/tonimelisma/tbgwctl/internal/config"
	"github.com/tonimelisma/tbgwctl/internal/credfile"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the appliance connection and count routeset files",
		Long: `Connect to the configured appliance, list every kind of routeset file and
report how many of each exist, along with where the credentials came from.`,
		Args: cobra.NoArgs,
		RunE: withMetrics(runStatus),
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	BaseURL           string         `json:"base_url"`
	FileDBID          int            `json:"file_db_id"`
	Username          string         `json:"username"`
	CredentialsSource string         `json:"credentials_source"`
	Reachable         bool           `json:"reachable"`
	Error             string         `json:"error,omitempty"`
	Files             map[string]int `json:"files,omitempty"`
	Elapsed           string         `json:"elapsed"`
}

func runStatus(cmd *cobra.Command, _ []string, cc *CLIContext) error {
	sess, err := NewApplianceSession(cc)
	if err != nil {
		return err
	}

	out := statusOutput{
		BaseURL:           cc.Cfg.BaseURL,
		FileDBID:          cc.Cfg.FileDBID,
		Username:          cc.Cfg.Username,
		CredentialsSource: cc.Cfg.CredentialsSource,
	}

	started := time.Now()
	byKind, listErr := sess.Client.ListAll(cmd.Context())
	out.Elapsed = formatElapsed(time.Since(started))

	if listErr != nil {
		out.Error = appliance.UserMessage(listErr)
	} else {
		out.Reachable = true
		out.Files = make(map[string]int, len(byKind))

		for _, kind := range appliance.Kinds() {
			out.Files[kind.String()] = len(byKind[kind])
		}

		recordVerified(cc)
	}

	if cc.Flags.JSON {
		if err := printJSON(cc.Out, out); err != nil {
			return err
		}
	} else {
		printStatusText(cc, out)
	}

	if listErr != nil {
		cc.Logger.Debug("status check failed", slog.String("error", listErr.Error()))
		return errReported
	}

	return nil
}

// recordVerified stamps the credentials file after a successful check. A
// failure here does not fail the command.
func recordVerified(cc *CLIContext) {
	if cc.Cfg.CredentialsSource != config.SourceCredfile {
		return
	}

	err := credfile.MergeMeta(cc.Cfg.CredentialsPath, map[string]string{
		metaLastVerified: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		cc.Logger.Warn("could not update credentials metadata", slog.String("error", err.Error()))
	}
}

func printStatusText(cc *CLIContext, out statusOutput) {
	source := out.CredentialsSource
	if source == "" {
		source = "none"
	}

	fmt.Fprintf(cc.Out, "Appliance:   %s (file db %d)\n", out.BaseURL, out.FileDBID)
	fmt.Fprintf(cc.Out, "User:        %s %s\n", out.Username, dim("("+source+")"))

	if !out.Reachable {
		fmt.Fprintf(cc.Out, "Connection:  %s %s\n", failMark("failed"), out.Error)
		return
	}

	fmt.Fprintf(cc.Out, "Connection:  %s %s\n", okMark("ok"), dim(out.Elapsed))

	fmt.Fprintln(cc.Out, "Files:")

	for _, kind := range appliance.Kinds() {
		fmt.Fprintf(cc.Out, "  %-12s %d\n", kind.String(), out.Files[kind.String()])
	}
}
