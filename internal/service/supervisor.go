package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/clustrctrl/clustrctrl/internal/channel"
	"github.com/clustrctrl/clustrctrl/internal/task"
	"github.com/clustrctrl/clustrctrl/internal/worker"
)

var (
	ErrUnknownTask      = errors.New("unknown task id")
	ErrRequestQueueFull = errors.New("request queue full")
)

// UnitFactory builds the work unit for a freshly created task.
type UnitFactory func(id task.ID, status channel.Sender[task.StatusMessage], control *channel.Subscription[task.Control]) Runnable

type entry struct {
	rec    *task.Record
	handle *Runner // nil once the result was taken
}

// Supervisor owns the task records and both ends of the supervisor side of
// the channels. All methods except Submit must be called from a single
// goroutine, the one driving Tick or Do.
type Supervisor struct {
	cfg      Config
	nextID   task.ID
	entries  []*entry // ordered by id
	index    map[task.ID]*entry
	running  []*entry // entries still holding a handle
	statusTx channel.Sender[task.StatusMessage]
	status   *channel.Receiver[task.StatusMessage]
	control  *channel.Broadcast[task.Control]
	requests chan Request
	newUnit  UnitFactory
	gate     *semaphore.Weighted
	exitIdle bool
}

type Option func(*Supervisor)

// WithUnitFactory replaces the default worker.Unit.
func WithUnitFactory(f UnitFactory) Option {
	return func(s *Supervisor) {
		s.newUnit = f
	}
}

// NewSupervisor creates the channels. Failing to do so is the only fatal
// error of a supervisor.
func NewSupervisor(cfg Config, opts ...Option) (*Supervisor, error) {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	statusTx, status, err := channel.NewQueue[task.StatusMessage](cfg.StatusCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating status channel: %w", err)
	}
	control, err := channel.NewBroadcast[task.Control](cfg.ControlCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating control channel: %w", err)
	}

	s := &Supervisor{
		cfg:      cfg,
		index:    make(map[task.ID]*entry),
		statusTx: statusTx,
		status:   status,
		control:  control,
		requests: make(chan Request, 64),
	}
	if cfg.MaxRunning > 0 {
		s.gate = semaphore.NewWeighted(int64(cfg.MaxRunning))
	}
	s.newUnit = s.defaultUnit
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetExitWhenIdle makes Do return once every created task is finalized.
func (s *Supervisor) SetExitWhenIdle(exit bool) *Supervisor {
	s.exitIdle = exit
	return s
}

func (s *Supervisor) defaultUnit(id task.ID, status channel.Sender[task.StatusMessage], control *channel.Subscription[task.Control]) Runnable {
	var opts []worker.Option
	if s.gate != nil {
		opts = append(opts, worker.WithGate(s.gate))
	}
	return worker.New(id, s.cfg.Worker, status, control, opts...)
}

// CreateTask assigns the next id, spawns a work unit and records it.
func (s *Supervisor) CreateTask(ctx context.Context, name, description string) task.ID {
	s.nextID++
	id := s.nextID

	// subscribe before the unit starts, so it sees every directive about it
	unit := s.newUnit(id, s.statusTx.Clone(), s.control.Subscribe())
	e := &entry{
		rec:    task.NewRecord(id, name, description, time.Now()),
		handle: Start(context.WithoutCancel(ctx), unit),
	}
	s.entries = append(s.entries, e)
	s.running = append(s.running, e)
	s.index[id] = e
	slog.InfoContext(ctx, "task created", "task_id", id, "name", name)
	return id
}

// CancelTask asks the unit with the given id to stop. Unknown and terminal
// tasks are ignored. It returns whether a directive was published.
func (s *Supervisor) CancelTask(ctx context.Context, id task.ID) bool {
	e, ok := s.index[id]
	if !ok {
		slog.DebugContext(ctx, "cancel: ignoring", "task_id", id, "error", ErrUnknownTask)
		return false
	}
	if !e.rec.RequestCancel() {
		slog.DebugContext(ctx, "cancel: task already terminal", "task_id", id, "state", e.rec.State)
		return false
	}
	s.publish(ctx, task.RequestStop(id))
	return true
}

// CancelAll publishes a single stop directive for every unit and returns
// without waiting for them.
func (s *Supervisor) CancelAll(ctx context.Context) {
	for _, e := range s.running {
		e.rec.RequestCancel()
	}
	slog.InfoContext(ctx, "stopping all tasks", "outstanding", len(s.running))
	s.publish(ctx, task.StopAll())
}

func (s *Supervisor) publish(ctx context.Context, c task.Control) {
	n, err := s.control.Send(c)
	if err != nil {
		// every unit already returned, nobody is left to stop
		slog.DebugContext(ctx, "control directive not delivered", "error", err)
		return
	}
	slog.DebugContext(ctx, "control directive published", "kind", c.Kind, "task_id", c.ID, "receivers", n)
}

type TickStats struct {
	Requests  int
	Reports   int
	Discarded int
	Finalized int
}

// Tick runs one reconciliation pass: queued requests, then the status
// reports queued right now, then completion of outstanding units. It never
// blocks on a work unit.
func (s *Supervisor) Tick(ctx context.Context) TickStats {
	var stats TickStats

	// only this goroutine receives, so the queued requests are all there
	for range len(s.requests) {
		s.Handle(ctx, <-s.requests)
		stats.Requests++
	}

	s.status.Drain(func(msg task.StatusMessage) {
		stats.Reports++
		if err := s.apply(msg); err != nil {
			stats.Discarded++
			if errors.Is(err, task.ErrTerminal) {
				slog.DebugContext(ctx, "status report ignored", "task_id", msg.ID, "error", err)
			} else {
				slog.WarnContext(ctx, "status report discarded", "task_id", msg.ID, "error", err)
			}
		}
	})

	s.running = slices.DeleteFunc(s.running, func(e *entry) bool {
		res, ok := e.handle.Take()
		if !ok {
			return false
		}
		e.handle = nil
		s.finalize(ctx, e, res)
		stats.Finalized++
		return true
	})
	return stats
}

func (s *Supervisor) apply(msg task.StatusMessage) error {
	e, ok := s.index[msg.ID]
	if !ok {
		return fmt.Errorf("%s: %w", msg, ErrUnknownTask)
	}
	return e.rec.Apply(msg.Report)
}

func (s *Supervisor) finalize(ctx context.Context, e *entry, res Result) {
	if res.Err != nil {
		slog.ErrorContext(ctx, "collecting work unit result failed", "task_id", e.rec.ID, "error", res.Err)
	}
	e.rec.Finalize(time.Now(), res.Value.Canceled)
	slog.InfoContext(ctx, "task finalized",
		"task_id", e.rec.ID,
		"state", e.rec.State,
		"sum", res.Value.Sum,
		"duration", res.Stopped.Sub(res.Started),
	)
}

// Tasks returns a snapshot of all records ordered by id.
func (s *Supervisor) Tasks() []task.Record {
	ret := make([]task.Record, len(s.entries))
	for i, e := range s.entries {
		ret[i] = *e.rec
	}
	return ret
}

// Task returns a snapshot of one record.
func (s *Supervisor) Task(id task.ID) (task.Record, bool) {
	e, ok := s.index[id]
	if !ok {
		return task.Record{}, false
	}
	return *e.rec, true
}

// Outstanding is the number of units whose result was not taken yet.
func (s *Supervisor) Outstanding() int {
	return len(s.running)
}

// Idle reports whether at least one task exists and all are finalized.
func (s *Supervisor) Idle() bool {
	return len(s.entries) > 0 && len(s.running) == 0
}

// Close drops the status receiver. Units still running keep going, but
// their reports fail instead of blocking.
func (s *Supervisor) Close() {
	s.status.Close()
}

// Do runs the supervisor loop.
// It multiplexes three concerns:
//  1. Ticker – every cfg.Tick a reconciliation pass runs.
//  2. Requests submitted from other goroutines – handled right away.
//  3. Context cancellation – stops all units and ends the loop.
//
// With SetExitWhenIdle, Do returns nil once every created task is finalized.
// Do never waits for the units to acknowledge a stop.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor", "tick", s.cfg.Tick)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.CancelAll(ctx)
			s.Tick(ctx)
			return nil
		case req := <-s.requests:
			s.Handle(ctx, req)
		case <-ticker.C:
			s.Tick(ctx)
			if s.exitIdle && s.Idle() {
				slog.InfoContext(ctx, "all tasks finalized")
				return nil
			}
		}
	}
}
