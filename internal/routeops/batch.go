package routeops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
)

// ErrBatchAborted is returned by RunBatch when an item fails and the batch
// does not continue on error.
var ErrBatchAborted = errors.New("routeops: batch aborted")

// Runner executes one operation. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, op Operation, opts RunOptions) (*OperationResult, error)
}

// BatchItem is one file operation in a batch. When Path is set and the
// operation carries no content, the file is read just before the item runs.
type BatchItem struct {
	Operation Operation
	Path      string
}

// Label names the item in progress lines and errors.
func (it BatchItem) Label() string {
	switch {
	case it.Path != "":
		return filepath.Base(it.Path)
	case it.Operation.FileName != "":
		return it.Operation.FileName
	default:
		return it.Operation.Kind.String() + " " + it.Operation.RecordID
	}
}

// BatchOptions control RunBatch.
type BatchOptions struct {
	ContinueOnError bool

	// MaxRetries is passed to every item's run.
	MaxRetries int

	// MaxFileSize rejects larger uploads without contacting the appliance.
	// Zero disables the check.
	MaxFileSize int64

	// OnProgress receives whole-batch progress.
	OnProgress ProgressFunc

	// OnFileComplete fires after every attempted item, success or failure.
	OnFileComplete func(index int, item BatchItem, res *OperationResult)
}

// BatchResult is built up while the batch runs. Items never attempted
// because of an abort are absent from Results.
type BatchResult struct {
	TotalFiles   int               `json:"total_files"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	Results      []OperationResult `json:"results"`
	Aborted      bool              `json:"aborted"`
}

// Coordinator runs batches strictly one item after another. Items share
// the appliance session and its single token, so they never overlap.
type Coordinator struct {
	runner   Runner
	logger   *slog.Logger
	readFile func(string) ([]byte, error)
}

// NewCoordinator creates a Coordinator around runner.
func NewCoordinator(runner Runner, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{runner: runner, logger: logger, readFile: os.ReadFile}
}

// RunBatch runs items in order. Progress for item i of n is reported as
// (i/n)*100 plus the item's own progress divided by n.
func (c *Coordinator) RunBatch(ctx context.Context, items []BatchItem, opts BatchOptions) (*BatchResult, error) {
	total := len(items)
	br := &BatchResult{TotalFiles: total, Results: make([]OperationResult, 0, total)}

	if total == 0 {
		report(opts.OnProgress, 100, "Nothing to do")
		return br, nil
	}

	c.logger.Info("batch started",
		slog.Int("items", total),
		slog.Bool("continue_on_error", opts.ContinueOnError),
	)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			br.Aborted = true
			return br, fmt.Errorf("%w: %w", ErrBatchAborted, err)
		}

		base := float64(i) / float64(total) * 100
		label := item.Label()

		res, err := c.runItem(ctx, item, opts.MaxFileSize, RunOptions{
			MaxRetries: opts.MaxRetries,
			OnProgress: func(pct float64, status string) {
				report(opts.OnProgress, base+pct/float64(total),
					fmt.Sprintf("[%d/%d] %s: %s", i+1, total, label, status))
			},
		})

		br.Results = append(br.Results, *res)

		if res.Success {
			br.SuccessCount++
		} else {
			br.FailureCount++
		}

		if opts.OnFileComplete != nil {
			opts.OnFileComplete(i, item, res)
		}

		if err == nil {
			continue
		}

		c.logger.Warn("batch item failed",
			slog.Int("index", i),
			slog.String("item", label),
			slog.String("error", err.Error()),
		)

		if !opts.ContinueOnError {
			br.Aborted = true

			c.logger.Error("batch aborted",
				slog.Int("attempted", len(br.Results)),
				slog.Int("skipped", total-len(br.Results)),
			)

			return br, fmt.Errorf("%w at item %d (%s): %w", ErrBatchAborted, i+1, label, err)
		}
	}

	report(opts.OnProgress, 100, fmt.Sprintf("%d succeeded, %d failed", br.SuccessCount, br.FailureCount))

	c.logger.Info("batch finished",
		slog.Int("succeeded", br.SuccessCount),
		slog.Int("failed", br.FailureCount),
	)

	return br, nil
}

// runItem always returns a result, synthesizing a failed one when the item
// never reached the appliance.
func (c *Coordinator) runItem(ctx context.Context, item BatchItem, maxSize int64, opts RunOptions) (*OperationResult, error) {
	op := item.Operation

	if item.Path != "" && op.Content == nil && op.Action != appliance.ActionDelete {
		data, err := c.readFile(item.Path)
		if err != nil {
			err = fmt.Errorf("reading %s: %w", item.Path, err)
			return localFailure(op, err), err
		}

		op.Content = data

		if op.FileName == "" {
			op.FileName = filepath.Base(item.Path)
		}
	}

	if err := checkSize(item.Label(), int64(len(op.Content)), maxSize); err != nil {
		return localFailure(op, err), err
	}

	res, err := c.runner.Run(ctx, op, opts)
	if res == nil {
		if err == nil {
			err = errors.New("routeops: runner returned no result")
		}

		return localFailure(op, err), err
	}

	return res, err
}

func localFailure(op Operation, err error) *OperationResult {
	now := time.Now()

	return &OperationResult{
		OperationID: uuid.NewString(),
		Action:      op.Action,
		Kind:        op.Kind,
		RemoteID:    op.RecordID,
		FileName:    op.FileName,
		Outcome:     appliance.OutcomeFailed,
		Message:     appliance.UserMessage(err),
		StartedAt:   now,
		FinishedAt:  now,
	}
}

func report(fn ProgressFunc, pct float64, status string) {
	if fn != nil {
		fn(pct, status)
	}
}
