package routeops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
)

// Transport is the slice of appliance.Client the orchestrator drives.
// Defined at the consumer so tests can script responses.
type Transport interface {
	FetchPage(ctx context.Context, path string) (string, error)
	Send(ctx context.Context, req *appliance.FormRequest) (*appliance.Delivery, error)
}

// SessionManager is the session feedback the retry loop needs.
type SessionManager interface {
	IsPresumedValid() bool
	Invalidate()
	RecordSuccess(token string)
}

// Recorder receives operation telemetry. A nil Recorder disables it.
type Recorder interface {
	RecordOperation(action, kind, outcome string, attempts int, elapsed time.Duration)
	RecordInvalidation()
}

// Options configure an Orchestrator.
type Options struct {
	FileDBID    int
	MaxRetries  int
	RetryDelay  time.Duration
	HistorySize int
	Recorder    Recorder
}

// Orchestrator runs one write at a time against an appliance, retrying
// session failures after invalidating the session.
type Orchestrator struct {
	transport  Transport
	session    SessionManager
	fileDBID   int
	maxRetries int
	retryDelay time.Duration
	history    *History
	recorder   Recorder
	logger     *slog.Logger

	busy atomic.Bool

	// sleepFunc waits between attempts. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time
}

// NewOrchestrator creates an Orchestrator. Zero options take the package
// defaults.
func NewOrchestrator(transport Transport, session SessionManager, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.FileDBID <= 0 {
		opts.FileDBID = appliance.DefaultFileDBID
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	} else if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	return &Orchestrator{
		transport:  transport,
		session:    session,
		fileDBID:   opts.FileDBID,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		history:    NewHistory(opts.HistorySize),
		recorder:   opts.Recorder,
		logger:     logger,
		sleepFunc:  timeSleep,
		nowFunc:    time.Now,
	}
}

// History returns the bounded record of finished operations.
func (o *Orchestrator) History() *History {
	return o.history
}

// Busy reports whether an operation is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Run executes op to a terminal result. A second call while one is running
// fails immediately with appliance.ErrBusy and a nil result; nothing is
// queued. On failure Run returns both the failed result and the classified
// error. Every terminal result is pushed to History.
func (o *Orchestrator) Run(ctx context.Context, op Operation, opts RunOptions) (*OperationResult, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, appliance.ErrBusy
	}
	defer o.busy.Store(false)

	maxAttempts := opts.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = o.maxRetries
	}

	res := &OperationResult{
		OperationID: uuid.NewString(),
		Action:      op.Action,
		Kind:        op.Kind,
		RemoteID:    op.RecordID,
		FileName:    op.FileName,
		StartedAt:   o.nowFunc(),
	}

	prog := &progress{fn: opts.OnProgress}
	prog.report(progressValidating, "Validating request")

	if err := op.validate(); err != nil {
		return o.fail(res, prog, err)
	}

	if !o.session.IsPresumedValid() {
		o.logger.Debug("session presumed expired, extracting a fresh token",
			slog.String("operation_id", res.OperationID),
		)
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		d, token, err := o.attempt(ctx, op, prog)
		if err == nil {
			o.session.RecordSuccess(token)
			return o.succeed(res, prog, d), nil
		}

		lastErr = err

		if ctx.Err() != nil || !appliance.IsSessionError(err) {
			break
		}

		if attempt == maxAttempts {
			o.logger.Error("session failure persisted after retries",
				slog.String("operation_id", res.OperationID),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)

			break
		}

		o.session.Invalidate()

		if o.recorder != nil {
			o.recorder.RecordInvalidation()
		}

		o.logger.Warn("session failure, retrying with a fresh token",
			slog.String("operation_id", res.OperationID),
			slog.String("action", op.Action.String()),
			slog.String("kind", op.Kind.String()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", o.retryDelay),
			slog.String("error", err.Error()),
		)

		prog.report(prog.last, fmt.Sprintf("Session expired, retrying (%d/%d)", attempt+1, maxAttempts))

		if sleepErr := o.sleepFunc(ctx, o.retryDelay); sleepErr != nil {
			lastErr = fmt.Errorf("routeops: canceled while waiting to retry: %w", sleepErr)
			break
		}
	}

	return o.fail(res, prog, lastErr)
}

// attempt performs one pass of Extracting → Building → Sending and returns
// the token it used so a success can be recorded against it.
func (o *Orchestrator) attempt(ctx context.Context, op Operation, prog *progress) (*appliance.Delivery, string, error) {
	prog.report(progressExtracting, "Extracting security token")

	pagePath, hint := o.formPage(op)

	raw, err := o.transport.FetchPage(ctx, pagePath)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", pagePath, err)
	}

	ext, err := appliance.ExtractToken(raw, op.Kind, hint)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", pagePath, err)
	}

	o.logger.Debug("extracted security token",
		slog.String("strategy", ext.Strategy.String()),
		slog.String("record_id", ext.RecordID),
	)

	prog.report(progressBuilding, "Building request")

	payload := appliance.FormPayload{
		FileDBID: o.fileDBID,
		RecordID: op.RecordID,
		Token:    ext.Token,
		FileName: op.FileName,
		Content:  op.Content,
	}

	if ext.RecordIDFromForm {
		payload.FormRecordID = ext.RecordID
	}

	req, err := appliance.BuildForm(op.Action, op.Kind, payload)
	if err != nil {
		return nil, "", err
	}

	prog.report(progressSending, fmt.Sprintf("Sending %s %s", op.Kind.Title(), op.Action))

	d, err := o.transport.Send(ctx, req)
	if err != nil {
		return nil, "", err
	}

	return d, ext.Token, nil
}

// formPage picks the page that carries the token for op. Deletes have no
// form of their own; the token comes from the listing's delete links.
func (o *Orchestrator) formPage(op Operation) (path, hint string) {
	switch op.Action {
	case appliance.ActionUpdate:
		return appliance.EditPath(o.fileDBID, op.Kind, op.RecordID), op.RecordID
	case appliance.ActionDelete:
		return appliance.ListingPath(o.fileDBID), op.RecordID
	default:
		return appliance.NewPath(o.fileDBID, op.Kind), ""
	}
}

func (o *Orchestrator) succeed(res *OperationResult, prog *progress, d *appliance.Delivery) *OperationResult {
	res.Success = true
	res.Outcome = d.Outcome
	res.Confidence = d.Confidence
	res.HTTPStatus = d.StatusCode
	res.Message = d.Message
	res.Note = d.Note
	res.RawResponseExcerpt = d.Excerpt
	res.FinishedAt = o.nowFunc()

	prog.report(progressDone, "Done")
	o.finish(res)

	o.logger.Info("operation succeeded",
		slog.String("operation_id", res.OperationID),
		slog.String("action", res.Action.String()),
		slog.String("kind", res.Kind.String()),
		slog.String("outcome", res.Outcome.String()),
		slog.String("confidence", res.Confidence.String()),
		slog.Int("attempts", res.Attempts),
	)

	return res
}

func (o *Orchestrator) fail(res *OperationResult, prog *progress, err error) (*OperationResult, error) {
	res.Success = false
	res.Outcome = appliance.OutcomeFailed
	res.Confidence = appliance.ConfidenceNone
	res.HTTPStatus = appliance.StatusOf(err)
	res.Message = appliance.UserMessage(err)
	res.RawResponseExcerpt = appliance.ExcerptOf(err)
	res.FinishedAt = o.nowFunc()

	prog.report(progressDone, "Failed")
	o.finish(res)

	level := slog.LevelWarn
	if !errors.Is(err, ErrInvalidOperation) {
		level = slog.LevelError
	}

	o.logger.Log(context.Background(), level, "operation failed",
		slog.String("operation_id", res.OperationID),
		slog.String("action", res.Action.String()),
		slog.String("kind", res.Kind.String()),
		slog.Int("attempts", res.Attempts),
		slog.Int("status", res.HTTPStatus),
		slog.String("error", err.Error()),
	)

	return res, err
}

func (o *Orchestrator) finish(res *OperationResult) {
	o.history.Push(*res)

	if o.recorder != nil {
		o.recorder.RecordOperation(res.Action.String(), res.Kind.String(), res.Outcome.String(),
			res.Attempts, res.Duration())
	}
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
