package task

import "fmt"

// ID identifies a task. IDs are assigned in increasing order and never reused.
type ID uint32

// Report is a status report sent by a work unit. The set of reports is
// closed: RunReport, SleepReport, LaborDispute, Reconciliation and CancelReport.
type Report interface {
	report()
}

type (
	// RunReport carries the progress percentage at the start of a work chunk.
	RunReport struct {
		Progress int
	}
	// SleepReport is sent right before a unit blocks for a sub-interval.
	SleepReport struct{}
	// LaborDispute is sent when a unit goes on strike.
	LaborDispute struct{}
	// Reconciliation ends a strike.
	Reconciliation struct{}
	// CancelReport is the last message of a unit that observed a stop directive.
	CancelReport struct{}
)

func (RunReport) report()      {}
func (SleepReport) report()    {}
func (LaborDispute) report()   {}
func (Reconciliation) report() {}
func (CancelReport) report()   {}

// StatusMessage is a Report tagged with the id of the reporting unit.
type StatusMessage struct {
	ID     ID
	Report Report
}

func (m StatusMessage) String() string {
	switch r := m.Report.(type) {
	case RunReport:
		return fmt.Sprintf("task %d: run %d%%", m.ID, r.Progress)
	case SleepReport:
		return fmt.Sprintf("task %d: sleep", m.ID)
	case LaborDispute:
		return fmt.Sprintf("task %d: labor dispute", m.ID)
	case Reconciliation:
		return fmt.Sprintf("task %d: reconciliation", m.ID)
	case CancelReport:
		return fmt.Sprintf("task %d: canceled", m.ID)
	default:
		return fmt.Sprintf("task %d: %T", m.ID, m.Report)
	}
}

// ControlKind selects the audience of a Control directive.
type ControlKind int

const (
	ControlRequestStop ControlKind = iota
	ControlStopAll
)

// Control is a directive broadcast from the supervisor to all work units.
type Control struct {
	Kind ControlKind
	ID   ID // target of ControlRequestStop
}

func RequestStop(id ID) Control {
	return Control{Kind: ControlRequestStop, ID: id}
}

func StopAll() Control {
	return Control{Kind: ControlStopAll}
}

// Stops reports whether the directive asks the unit with the given id to stop.
func (c Control) Stops(id ID) bool {
	switch c.Kind {
	case ControlStopAll:
		return true
	case ControlRequestStop:
		return c.ID == id
	default:
		return false
	}
}
