// Package routeops drives write operations against the appliance: it runs
// one logical operation through token extraction, form building and
// submission with retry on session loss, and sequences batches of such
// operations one after another.
package routeops

import (
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
)

// Defaults used when Options leave a field zero.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultHistorySize = 50
)

// Progress checkpoints reported by Orchestrator.Run.
const (
	progressValidating = 10
	progressExtracting = 25
	progressBuilding   = 40
	progressSending    = 50
	progressDone       = 100
)

// ErrInvalidOperation is returned when an Operation fails local validation
// before any request is made.
var ErrInvalidOperation = errors.New("routeops: invalid operation")

// Operation is one logical write: create, update or delete a routeset file.
type Operation struct {
	Action appliance.Action
	Kind   appliance.Kind

	// RecordID identifies the record for update and delete.
	RecordID string

	// FileName and Content carry the upload for create and update.
	FileName string
	Content  []byte
}

func (op Operation) validate() error {
	if !op.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidOperation, int(op.Kind))
	}

	switch op.Action {
	case appliance.ActionCreate:
		if op.FileName == "" {
			return fmt.Errorf("%w: create needs a file", ErrInvalidOperation)
		}
	case appliance.ActionUpdate:
		if op.RecordID == "" || op.FileName == "" {
			return fmt.Errorf("%w: update needs a record id and a file", ErrInvalidOperation)
		}
	case appliance.ActionDelete:
		if op.RecordID == "" {
			return fmt.Errorf("%w: delete needs a record id", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown action %d", ErrInvalidOperation, int(op.Action))
	}

	return nil
}

// OperationResult is produced once per logical operation and never modified
// afterwards.
type OperationResult struct {
	OperationID        string               `json:"operation_id"`
	Action             appliance.Action     `json:"action"`
	Kind               appliance.Kind       `json:"kind"`
	RemoteID           string               `json:"id,omitempty"`
	FileName           string               `json:"file,omitempty"`
	Success            bool                 `json:"success"`
	Outcome            appliance.Outcome    `json:"outcome"`
	Confidence         appliance.Confidence `json:"confidence"`
	HTTPStatus         int                  `json:"http_status"`
	Message            string               `json:"message"`
	Note               string               `json:"note,omitempty"`
	Attempts           int                  `json:"attempts"`
	RawResponseExcerpt string               `json:"raw_response_excerpt,omitempty"`
	StartedAt          time.Time            `json:"started_at"`
	FinishedAt         time.Time            `json:"finished_at"`
}

// Duration is the wall time the operation took.
func (r *OperationResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ProgressFunc receives a percentage in [0,100] and a status line.
type ProgressFunc func(percent float64, status string)

// RunOptions tune a single Orchestrator.Run call.
type RunOptions struct {
	// MaxRetries is the total number of attempts. Zero uses the
	// orchestrator's default.
	MaxRetries int
	OnProgress ProgressFunc
}

// progress forwards checkpoints to a ProgressFunc, never letting the
// percentage go backwards when a retry re-enters an earlier state.
type progress struct {
	fn   ProgressFunc
	last float64
}

func (p *progress) report(pct float64, status string) {
	if pct < p.last {
		pct = p.last
	}

	p.last = pct

	if p.fn != nil {
		p.fn(pct, status)
	}
}
