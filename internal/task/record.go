package task

import (
	"errors"
	"fmt"
	"time"
)

// ErrTerminal is returned when a report targets a record in a terminal state.
var ErrTerminal = errors.New("task already terminal")

// Record is the supervisor's bookkeeping entry for one work unit. Copies of a
// Record are snapshots; only the supervisor mutates the original.
type Record struct {
	ID            ID        `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	State         State     `json:"status"`
	Progress      int       `json:"progress"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end,omitzero"`
	PendingCancel bool      `json:"pending_cancel"`
}

func NewRecord(id ID, name, description string, start time.Time) *Record {
	return &Record{
		ID:          id,
		Name:        name,
		Description: description,
		State:       StateUnknown,
		Start:       start,
	}
}

// Apply runs the state transition for a status report. Reports for a
// terminal record are rejected with ErrTerminal and leave it untouched.
func (r *Record) Apply(rep Report) error {
	if r.State.Terminal() {
		return fmt.Errorf("applying %T to task %d in state %s: %w", rep, r.ID, r.State, ErrTerminal)
	}
	switch rep := rep.(type) {
	case RunReport:
		r.State = StateRunning
		// progress never moves backwards and reaches 100 only in Finalize
		p := min(rep.Progress, 99)
		if p > r.Progress {
			r.Progress = p
		}
	case SleepReport:
		r.State = StateSleeping
	case LaborDispute:
		r.State = StateOnStrike
	case Reconciliation:
		if r.State == StateOnStrike {
			r.State = StateRunning
		}
	case CancelReport:
		r.State = StateCanceled
	default:
		return fmt.Errorf("unsupported report %T for task %d", rep, r.ID)
	}
	return nil
}

// RequestCancel marks the record as pending cancellation. It returns false
// and does nothing when the record is already terminal.
func (r *Record) RequestCancel() bool {
	if r.State.Terminal() {
		return false
	}
	r.PendingCancel = true
	return true
}

// Finalize records the end of the underlying unit. canceled is the unit's own
// outcome, it covers a CancelReport still queued behind the result. A
// Canceled record keeps its state; anything else becomes Finished. Finalize
// sets End only once and returns false on repeated calls.
func (r *Record) Finalize(now time.Time, canceled bool) bool {
	if r.Finalized() {
		return false
	}
	r.End = now
	r.Progress = 100
	if canceled {
		r.State = StateCanceled
	}
	if r.State != StateCanceled {
		r.State = StateFinished
	}
	return true
}

// Finalized reports whether End has been set.
func (r *Record) Finalized() bool {
	return !r.End.IsZero()
}
