package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
	"github.com/tonimelisma/tbgwctl/internal/routeops"
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

// statusf prints a status message to w unless quiet mode is set.
func statusf(w io.Writer, quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.ErrOut, cc.Flags.Quiet, format, args...)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// formatSize returns a human-readable size string (e.g. "1.2 kB").
func formatSize(bytes int) string {
	return humanize.Bytes(uint64(max(bytes, 0)))
}

// formatElapsed renders short durations with millisecond precision.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	return d.Round(10 * time.Millisecond).String()
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// resultLine renders one operation result, e.g.
//
//	ok   update digitmap core.csv (id 4): Saved [redirect/confirmed] 1 attempt, 312ms
func resultLine(res *routeops.OperationResult) string {
	mark := okMark("ok  ")

	switch {
	case !res.Success:
		mark = failMark("FAIL")
	case res.Confidence == appliance.ConfidenceHeuristic:
		mark = warnMark("ok? ")
	}

	target := res.FileName
	if res.RemoteID != "" {
		if target != "" {
			target += " "
		}

		target += "(id " + res.RemoteID + ")"
	}

	attempts := "attempts"
	if res.Attempts == 1 {
		attempts = "attempt"
	}

	line := fmt.Sprintf("%s %s %s %s: %s %s", mark, res.Action, res.Kind, target, res.Message,
		dim(fmt.Sprintf("[%s/%s] %d %s, %s", res.Outcome, res.Confidence, res.Attempts, attempts,
			formatElapsed(res.Duration()))))

	if res.Note != "" {
		line += "\n     " + warnMark(res.Note)
	}

	return line
}

// progressPrinter renders progress callbacks. On a terminal it redraws a
// single line; otherwise it prints each distinct status once.
type progressPrinter struct {
	w          io.Writer
	terminal   bool
	quiet      bool
	lastStatus string
	drawn      bool
}

func newProgressPrinter(cc *CLIContext) *progressPrinter {
	return &progressPrinter{w: cc.ErrOut, terminal: isTerminal(cc.ErrOut), quiet: cc.Flags.Quiet || cc.Flags.JSON}
}

func (p *progressPrinter) update(pct float64, status string) {
	if p.quiet || status == p.lastStatus {
		return
	}

	p.lastStatus = status

	if p.terminal {
		fmt.Fprintf(p.w, "\r\033[K%3.0f%% %s", pct, status)
		p.drawn = true

		return
	}

	fmt.Fprintf(p.w, "%3.0f%% %s\n", pct, status)
}

// done clears the redrawn line so the result prints on a clean line.
func (p *progressPrinter) done() {
	if p.drawn {
		fmt.Fprint(p.w, "\r\033[K")
		p.drawn = false
	}
}
