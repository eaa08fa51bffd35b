package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
	"github.com/tonimelisma/tbgwctl/internal/routeops"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [<kind> <local-path>...]",
		Short: "Run several uploads or deletes one after another",
		Long: `Run a batch of operations sequentially against the appliance.

Either name a YAML manifest with --manifest, or give a kind and a list of files.
With --action update, each file replaces the record whose name matches the
file's base name.

Manifest format:

  continue_on_error: true
  items:
    - file: maps/core.csv
      kind: digitmap
      name: core.csv        # update the record with this name
    - file: defs/new.def
      kind: definition      # no id or name: create
    - kind: digitmap
      action: delete
      id: "17"

By default the batch stops at the first failure; --continue-on-error runs every
item and reports the failures at the end.`,
		RunE: withMetrics(runBatch),
	}

	cmd.Flags().String("manifest", "", "YAML manifest describing the batch")
	cmd.Flags().String("action", "create", "action for positional files: create or update")
	cmd.Flags().Bool("continue-on-error", false, "keep going after a failed item")

	return cmd
}

func runBatch(cmd *cobra.Command, args []string, cc *CLIContext) error {
	manifest, err := batchManifest(cmd, args)
	if err != nil {
		return err
	}

	continueOnError := cc.Cfg.ContinueOnError
	if manifest.ContinueOnError != nil && !cmd.Flags().Changed("continue-on-error") {
		continueOnError = *manifest.ContinueOnError
	}

	sess, err := NewApplianceSession(cc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctx = shutdownContext(ctx, cc.Logger)

	items, err := manifest.BatchItems(ctx, sess.Client)
	if err != nil {
		return err
	}

	prog := newProgressPrinter(cc)

	br, err := sess.Coordinator.RunBatch(ctx, items, routeops.BatchOptions{
		ContinueOnError: continueOnError,
		MaxFileSize:     cc.Cfg.MaxUploadSize,
		OnProgress:      prog.update,
		OnFileComplete: func(_ int, _ routeops.BatchItem, res *routeops.OperationResult) {
			prog.done()

			if !cc.Flags.JSON {
				fmt.Fprintln(cc.Out, resultLine(res))
			}
		},
	})
	prog.done()

	cc.Metrics.RecordBatch(br.SuccessCount, br.FailureCount, br.Aborted)

	if cc.Flags.JSON {
		if jerr := printJSON(cc.Out, br); jerr != nil {
			return jerr
		}
	} else {
		printBatchSummary(cc, br)
	}

	if err != nil {
		cc.Logger.Warn("batch stopped", slog.String("error", err.Error()))

		if errors.Is(err, routeops.ErrBatchAborted) {
			fmt.Fprintf(cc.ErrOut, "Batch stopped: %s\n", appliance.UserMessage(err))
		}

		return errReported
	}

	if br.FailureCount > 0 {
		return errReported
	}

	return nil
}

// batchManifest builds the manifest from --manifest or positional args.
func batchManifest(cmd *cobra.Command, args []string) (*routeops.Manifest, error) {
	path, err := cmd.Flags().GetString("manifest")
	if err != nil {
		return nil, err
	}

	if path != "" {
		if len(args) > 0 {
			return nil, errors.New("--manifest and positional files are mutually exclusive")
		}

		return routeops.LoadManifest(path)
	}

	if len(args) < 2 {
		return nil, errors.New("give --manifest or a kind followed by one or more files")
	}

	kind, err := appliance.ParseKind(args[0])
	if err != nil {
		return nil, err
	}

	actionFlag, err := cmd.Flags().GetString("action")
	if err != nil {
		return nil, err
	}

	action, err := appliance.ParseAction(actionFlag)
	if err != nil {
		return nil, err
	}

	if action == appliance.ActionDelete {
		return nil, errors.New("positional batches create or update; use a manifest for deletes")
	}

	m := &routeops.Manifest{Items: make([]routeops.ManifestItem, 0, len(args)-1)}

	for _, file := range args[1:] {
		it := routeops.ManifestItem{File: file, Kind: kind, Action: action}
		if action == appliance.ActionUpdate {
			it.Name = filepath.Base(file)
		}

		m.Items = append(m.Items, it)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

func printBatchSummary(cc *CLIContext, br *routeops.BatchResult) {
	skipped := br.TotalFiles - len(br.Results)

	line := fmt.Sprintf("%d of %d succeeded", br.SuccessCount, br.TotalFiles)
	if br.FailureCount > 0 {
		line += fmt.Sprintf(", %s", failMark(fmt.Sprintf("%d failed", br.FailureCount)))
	}

	if skipped > 0 {
		line += fmt.Sprintf(", %d skipped", skipped)
	}

	fmt.Fprintln(cc.Out, line)
}
