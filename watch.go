package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
	"github.com/tonimelisma/tbgwctl/internal/config"
	"github.com/tonimelisma/tbgwctl/internal/dirwatch"
	"github.com/tonimelisma/tbgwctl/internal/routeops"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Upload routeset files from a directory whenever they change",
		Long: `Watch a local directory and push changed files to the appliance.

A changed file whose name matches an existing record of the given kind updates
that record; any other file is uploaded as a new record. Deleting or renaming a
local file never deletes anything on the appliance.

Only one watch runs at a time per user.`,
		Args: cobra.ExactArgs(1),
		RunE: withMetrics(runWatch),
	}

	cmd.Flags().String("kind", "", "kind of file in the directory (definition or digitmap)")
	cmd.Flags().String("pattern", "*", "only upload files whose name matches this glob")
	cmd.Flags().Duration("debounce", dirwatch.DefaultDebounce, "quiet period before changed files are uploaded")
	cmd.Flags().String("pid-file", "", "lock file path (default: data directory)")

	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string, cc *CLIContext) error {
	kindFlag, _ := cmd.Flags().GetString("kind")

	kind, err := appliance.ParseKind(kindFlag)
	if err != nil {
		return err
	}

	pattern, _ := cmd.Flags().GetString("pattern")
	if _, err := filepath.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid --pattern %q: %w", pattern, err)
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")

	pidPath, _ := cmd.Flags().GetString("pid-file")
	if pidPath == "" {
		pidPath = filepath.Join(config.DefaultDataDir(), watchPIDFile)
	}

	sess, err := NewApplianceSession(cc)
	if err != nil {
		return err
	}

	release, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctx = shutdownContext(ctx, cc.Logger)

	w := dirwatch.New(args[0], dirwatch.Options{
		Debounce: debounce,
		Match: func(name string) bool {
			ok, _ := filepath.Match(pattern, name)
			return ok
		},
	}, cc.Logger)

	cc.Statusf("Watching %s for %s files (Ctrl-C to stop)\n", args[0], kind)

	return w.Run(ctx, func(ctx context.Context, changes []dirwatch.Change) error {
		return pushChanges(ctx, cc, sess, kind, changes)
	})
}

// pushChanges uploads one debounced set of changes as a batch that always
// continues past failures.
func pushChanges(ctx context.Context, cc *CLIContext, sess *ApplianceSession, kind appliance.Kind, changes []dirwatch.Change) error {
	items, err := watchItems(ctx, sess.Client, kind, changes)
	if err != nil {
		return err
	}

	started := time.Now()

	br, err := sess.Coordinator.RunBatch(ctx, items, routeops.BatchOptions{
		ContinueOnError: true,
		MaxFileSize:     cc.Cfg.MaxUploadSize,
		OnFileComplete: func(_ int, _ routeops.BatchItem, res *routeops.OperationResult) {
			if cc.Flags.JSON {
				_ = printJSON(cc.Out, res)
				return
			}

			fmt.Fprintln(cc.Out, resultLine(res))
		},
	})

	cc.Metrics.RecordBatch(br.SuccessCount, br.FailureCount, br.Aborted)

	cc.Logger.Info("watch batch done",
		slog.Int("succeeded", br.SuccessCount),
		slog.Int("failed", br.FailureCount),
		slog.Duration("elapsed", time.Since(started)),
	)

	if cc.Cfg.MetricsTextfile != "" {
		if werr := cc.Metrics.WriteTextfile(cc.Cfg.MetricsTextfile); werr != nil {
			cc.Logger.Warn("metrics not written", slog.String("error", werr.Error()))
		}
	}

	return err
}

// watchItems lists the kind once and maps each change to an update of the
// record with the same display name, or a create when there is none.
func watchItems(ctx context.Context, lister routeops.Lister, kind appliance.Kind, changes []dirwatch.Change) ([]routeops.BatchItem, error) {
	existing, err := lister.List(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("listing %s files: %w", kind, err)
	}

	items := make([]routeops.BatchItem, 0, len(changes))

	for _, c := range changes {
		op := routeops.Operation{Action: appliance.ActionCreate, Kind: kind, FileName: c.Name}

		if r, ok := appliance.FindByName(existing, c.Name); ok {
			op.Action = appliance.ActionUpdate
			op.RecordID = r.RemoteID
		}

		items = append(items, routeops.BatchItem{Operation: op, Path: c.Path})
	}

	return items, nil
}
