package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/clustrctrl/clustrctrl/internal/task"
	"github.com/clustrctrl/clustrctrl/internal/worker"
)

// Runnable is a unit of work executed by a Runner.
type Runnable interface {
	ID() task.ID
	Run(ctx context.Context) worker.Result
}

// PanicError is the Result.Err of a unit which terminated abnormally.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("work unit panicked: %v", e.Value)
}

type Result struct {
	ID      task.ID
	Started time.Time
	Stopped time.Time
	Value   worker.Result
	Err     error
}

// Runner executes one Runnable in its own goroutine and keeps its Result
// until it is taken.
type Runner struct {
	mx     sync.Mutex
	done   chan struct{}
	result Result
	taken  bool
}

// Start runs unit in a new goroutine. It does NOT wait on unit to finish,
// use Done or Take instead.
func Start(ctx context.Context, unit Runnable) *Runner {
	r := &Runner{
		done:   make(chan struct{}),
		result: Result{ID: unit.ID(), Started: time.Now().UTC()},
	}
	go r.run(ctx, unit)
	return r
}

func (r *Runner) run(ctx context.Context, unit Runnable) {
	var value worker.Result
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
			slog.ErrorContext(ctx, "work unit panicked", "task_id", unit.ID(), "panic", p)
		}
		r.mx.Lock()
		r.result.Stopped = time.Now().UTC()
		r.result.Value = value
		r.result.Err = err
		r.mx.Unlock()
		close(r.done)
	}()
	value = unit.Run(ctx)
}

// Done returns a channel closed once the unit stopped.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Take returns the result of a stopped unit. It never blocks and hands the
// result out only once; later calls and calls on a running unit return false.
func (r *Runner) Take() (Result, bool) {
	select {
	case <-r.done:
	default:
		return Result{}, false
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.taken {
		return Result{}, false
	}
	r.taken = true
	return r.result, true
}
