package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
	"github.com/tonimelisma/tbgwctl/internal/routeops"
)

// errReported marks failures whose details were already printed; main
// exits non-zero without printing them again.
var errReported = errors.New("operation failed")

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List routeset files on the appliance",
		Args:  cobra.NoArgs,
		RunE:  withMetrics(runLs),
	}

	cmd.Flags().String("kind", "", "only list this kind (definition or digitmap)")

	return cmd
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <kind> <id-or-name> [local-path]",
		Short: "Download a routeset file (stdout when no path is given)",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  withMetrics(runExport),
	}
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <kind> <local-path>",
		Short: "Upload a new routeset file",
		Args:  cobra.ExactArgs(2),
		RunE:  withMetrics(runCreate),
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <kind> [id-or-name] <local-path>",
		Short: "Replace the content of an existing routeset file",
		Long: `Replace the content of an existing routeset file.

The record is named by numeric id or by display name. When only the local path
is given, the record whose name matches the file's base name is updated.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: withMetrics(runUpdate),
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <kind> <id-or-name>",
		Short: "Delete a routeset file from the appliance",
		Args:  cobra.ExactArgs(2),
		RunE:  withMetrics(runRm),
	}
}

// resourceRow is the JSON schema for `ls --json`.
type resourceRow struct {
	Kind appliance.Kind `json:"kind"`
	ID   string         `json:"id"`
	Name string         `json:"name"`
}

func runLs(cmd *cobra.Command, _ []string, cc *CLIContext) error {
	sess, err := NewApplianceSession(cc)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	var byKind map[appliance.Kind][]appliance.Resource

	kindFlag, err := cmd.Flags().GetString("kind")
	if err != nil {
		return err
	}

	if kindFlag != "" {
		kind, perr := appliance.ParseKind(kindFlag)
		if perr != nil {
			return perr
		}

		list, lerr := sess.Client.List(ctx, kind)
		if lerr != nil {
			return lerr
		}

		byKind = map[appliance.Kind][]appliance.Resource{kind: list}
	} else {
		byKind, err = sess.Client.ListAll(ctx)
		if err != nil {
			return err
		}
	}

	rows := make([]resourceRow, 0)

	for _, kind := range appliance.Kinds() {
		for _, r := range byKind[kind] {
			rows = append(rows, resourceRow{Kind: kind, ID: r.RemoteID, Name: r.DisplayName})
		}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, rows)
	}

	if len(rows) == 0 {
		cc.Statusf("No routeset files.\n")
		return nil
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}

		return rows[i].Name < rows[j].Name
	})

	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{r.Kind.String(), r.ID, r.Name}
	}

	printTable(cc.Out, []string{"KIND", "ID", "NAME"}, table)

	return nil
}

func runExport(cmd *cobra.Command, args []string, cc *CLIContext) error {
	kind, err := appliance.ParseKind(args[0])
	if err != nil {
		return err
	}

	sess, err := NewApplianceSession(cc)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	id, err := resolveRecord(ctx, sess.Client, kind, args[1])
	if err != nil {
		return err
	}

	data, err := sess.Client.Export(ctx, kind, id)
	if err != nil {
		return err
	}

	if len(args) < 3 || args[2] == "-" {
		_, err = cc.Out.Write(data)
		return err
	}

	if err := os.WriteFile(args[2], data, 0o644); err != nil { //nolint:gosec // routeset files are not secret
		return fmt.Errorf("writing %s: %w", args[2], err)
	}

	cc.Logger.Info("exported", slog.String("kind", kind.String()), slog.String("id", id), slog.String("path", args[2]))
	cc.Statusf("Exported %s %s to %s (%s)\n", kind, id, args[2], formatSize(len(data)))

	return nil
}

func runCreate(cmd *cobra.Command, args []string, cc *CLIContext) error {
	kind, err := appliance.ParseKind(args[0])
	if err != nil {
		return err
	}

	data, err := routeops.ReadUpload(args[1], cc.Cfg.MaxUploadSize)
	if err != nil {
		return err
	}

	sess, err := NewApplianceSession(cc)
	if err != nil {
		return err
	}

	return runOperation(cmd.Context(), cc, sess, routeops.Operation{
		Action:   appliance.ActionCreate,
		Kind:     kind,
		FileName: filepath.Base(args[1]),
		Content:  data,
	})
}

func runUpdate(cmd *cobra.Command, args []string, cc *CLIContext) error {
	kind, err := appliance.ParseKind(args[0])
	if err != nil {
		return err
	}

	path := args[len(args)-1]
	target := filepath.Base(path)

	if len(args) == 3 {
		target = args[1]
	}

	data, err := routeops.ReadUpload(path, cc.Cfg.MaxUploadSize)
	if err != nil {
		return err
	}

	sess, err := NewApplianceSession(cc)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	id, err := resolveRecord(ctx, sess.Client, kind, target)
	if err != nil {
		return err
	}

	return runOperation(ctx, cc, sess, routeops.Operation{
		Action:   appliance.ActionUpdate,
		Kind:     kind,
		RecordID: id,
		FileName: filepath.Base(path),
		Content:  data,
	})
}

func runRm(cmd *cobra.Command, args []string, cc *CLIContext) error {
	kind, err := appliance.ParseKind(args[0])
	if err != nil {
		return err
	}

	sess, err := NewApplianceSession(cc)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	id, err := resolveRecord(ctx, sess.Client, kind, args[1])
	if err != nil {
		return err
	}

	return runOperation(ctx, cc, sess, routeops.Operation{
		Action:   appliance.ActionDelete,
		Kind:     kind,
		RecordID: id,
	})
}

// resolveRecord turns a numeric id or a display name into a record id.
// Names are looked up on a fresh listing.
func resolveRecord(ctx context.Context, lister routeops.Lister, kind appliance.Kind, idOrName string) (string, error) {
	if _, err := strconv.Atoi(idOrName); err == nil {
		return idOrName, nil
	}

	list, err := lister.List(ctx, kind)
	if err != nil {
		return "", err
	}

	r, ok := appliance.FindByName(list, idOrName)
	if !ok {
		return "", fmt.Errorf("no %s named %q: %w", kind, idOrName, appliance.ErrNotFound)
	}

	return r.RemoteID, nil
}

// runOperation runs one write with a progress line and prints its result.
func runOperation(ctx context.Context, cc *CLIContext, sess *ApplianceSession, op routeops.Operation) error {
	prog := newProgressPrinter(cc)

	res, err := sess.Orchestrator.Run(ctx, op, routeops.RunOptions{OnProgress: prog.update})
	prog.done()

	if res == nil {
		return err
	}

	if cc.Flags.JSON {
		if jerr := printJSON(cc.Out, res); jerr != nil {
			return jerr
		}
	} else {
		fmt.Fprintln(cc.Out, resultLine(res))
	}

	if err != nil {
		cc.Logger.Debug("operation failed", slog.String("error", err.Error()))
		return errReported
	}

	return nil
}
