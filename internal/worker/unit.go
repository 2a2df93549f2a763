// Package worker implements the simulated background job. A Unit talks to
// the supervisor only through a status queue and a control subscription; it
// shares no memory with it.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/clustrctrl/clustrctrl/internal/channel"
	"github.com/clustrctrl/clustrctrl/internal/log"
	"github.com/clustrctrl/clustrctrl/internal/task"
)

type Config struct {
	TimeUnit     time.Duration
	MinUnits     int
	MaxUnits     int
	Workload     int
	StrikeChance float64
}

func DefaultConfig() Config {
	return Config{
		TimeUnit:     time.Second,
		MinUnits:     2,
		MaxUnits:     60,
		Workload:     2_000_000,
		StrikeChance: 0.05,
	}
}

// normalized fills zero or invalid values with defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.TimeUnit <= 0 {
		c.TimeUnit = d.TimeUnit
	}
	if c.MinUnits <= 0 {
		c.MinUnits = d.MinUnits
	}
	if c.MaxUnits < c.MinUnits {
		c.MaxUnits = c.MinUnits
	}
	if c.Workload < 0 {
		c.Workload = 0
	}
	c.StrikeChance = min(max(c.StrikeChance, 0), 1)
	return c
}

// Result is what a unit returns once it stops. A canceled unit has no sum.
type Result struct {
	Sum      int64
	Units    int
	Canceled bool
}

type Unit struct {
	id      task.ID
	cfg     Config
	status  channel.Sender[task.StatusMessage]
	control *channel.Subscription[task.Control]
	gate    *semaphore.Weighted
	rng     *rand.Rand
}

type Option func(*Unit)

// WithRand makes the unit draw durations, workload and strikes from r.
func WithRand(r *rand.Rand) Option {
	return func(u *Unit) {
		u.rng = r
	}
}

// WithGate makes the unit hold one slot of gate while it works.
func WithGate(gate *semaphore.Weighted) Option {
	return func(u *Unit) {
		u.gate = gate
	}
}

func New(id task.ID, cfg Config, status channel.Sender[task.StatusMessage], control *channel.Subscription[task.Control], opts ...Option) *Unit {
	u := &Unit{
		id:      id,
		cfg:     cfg.normalized(),
		status:  status,
		control: control,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.rng == nil {
		u.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return u
}

func (u *Unit) ID() task.ID {
	return u.id
}

// Run performs the simulated work. Cancellation is cooperative: the control
// subscription is polled before each work chunk and before and after every
// sleep. ctx only carries logging attributes, its cancellation is not observed.
func (u *Unit) Run(ctx context.Context) Result {
	defer u.control.Close()
	ctx = log.ContextAttrs(ctx, slog.Uint64("task_id", uint64(u.id)))

	total := u.cfg.MinUnits + u.rng.IntN(u.cfg.MaxUnits-u.cfg.MinUnits+1)
	slog.DebugContext(ctx, "work unit started", "units", total)

	if u.gate != nil {
		if !u.acquire(ctx) {
			return u.cancel(ctx, total)
		}
		defer u.gate.Release(1)
	}

	remaining := total
	var sum int64
	for remaining > 0 {
		if u.stopRequested(ctx) {
			return u.cancel(ctx, total)
		}
		u.report(ctx, task.RunReport{Progress: (total - remaining) * 100 / total})
		sum = u.compute(sum)

		if u.stopRequested(ctx) {
			return u.cancel(ctx, total)
		}
		if u.rng.Float64() < u.cfg.StrikeChance {
			if !u.strike(ctx) {
				return u.cancel(ctx, total)
			}
		}

		chunk := 1 + u.rng.IntN(remaining)
		remaining -= chunk
		slog.DebugContext(ctx, "sleeping", "units", chunk, "remaining", remaining)
		u.report(ctx, task.SleepReport{})
		time.Sleep(time.Duration(chunk) * u.cfg.TimeUnit)

		if u.stopRequested(ctx) {
			return u.cancel(ctx, total)
		}
	}
	slog.DebugContext(ctx, "work unit done", "sum", sum)
	return Result{Sum: sum, Units: total}
}

// strike pauses the unit for one time unit. It returns false when a stop
// directive arrived during the strike.
func (u *Unit) strike(ctx context.Context) bool {
	slog.DebugContext(ctx, "going on strike")
	u.report(ctx, task.LaborDispute{})
	time.Sleep(u.cfg.TimeUnit)
	if u.stopRequested(ctx) {
		return false
	}
	u.report(ctx, task.Reconciliation{})
	return true
}

func (u *Unit) acquire(ctx context.Context) bool {
	for !u.gate.TryAcquire(1) {
		if u.stopRequested(ctx) {
			return false
		}
		time.Sleep(u.cfg.TimeUnit)
	}
	return true
}

func (u *Unit) compute(sum int64) int64 {
	for range u.cfg.Workload {
		n := int64(u.rng.Int32()) % 500
		if n < 0 {
			n = -n
		}
		sum += n
	}
	return sum
}

func (u *Unit) cancel(ctx context.Context, total int) Result {
	slog.InfoContext(ctx, "work unit canceled")
	u.report(ctx, task.CancelReport{})
	return Result{Units: total, Canceled: true}
}

// stopRequested drains pending directives and reports whether any of them
// addresses this unit.
func (u *Unit) stopRequested(ctx context.Context) bool {
	stop := false
	for {
		directive, err := u.control.TryRecv()
		var lagged *channel.LaggedError
		switch {
		case err == nil:
			if directive.Stops(u.id) {
				stop = true
			}
		case errors.As(err, &lagged):
			slog.WarnContext(ctx, "control channel lagged", "skipped", lagged.Skipped)
		case errors.Is(err, channel.ErrEmpty), errors.Is(err, channel.ErrClosed):
			return stop
		default:
			slog.ErrorContext(ctx, "reading control channel", "error", err)
			return stop
		}
	}
}

func (u *Unit) report(ctx context.Context, rep task.Report) {
	msg := task.StatusMessage{ID: u.id, Report: rep}
	if err := u.status.Send(msg); err != nil {
		slog.WarnContext(ctx, "status report not delivered", "report", msg.String(), "error", err)
	}
}
