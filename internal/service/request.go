package service

import (
	"context"
	"log/slog"

	"github.com/clustrctrl/clustrctrl/internal/task"
)

type requestOp int

const (
	opCreate requestOp = iota
	opCancel
	opCancelAll
)

// Request is a create or cancel operation submitted to a running supervisor
// from another goroutine.
type Request struct {
	op          requestOp
	name        string
	description string
	id          task.ID
}

func CreateRequest(name, description string) Request {
	return Request{op: opCreate, name: name, description: description}
}

func CancelRequest(id task.ID) Request {
	return Request{op: opCancel, id: id}
}

func CancelAllRequest() Request {
	return Request{op: opCancelAll}
}

// Submit queues req for the goroutine owning the supervisor. It is safe for
// concurrent use and never blocks: a full queue returns ErrRequestQueueFull.
func (s *Supervisor) Submit(req Request) error {
	select {
	case s.requests <- req:
		return nil
	default:
		return ErrRequestQueueFull
	}
}

// Requests exposes submitted requests to a loop that drives the supervisor
// itself instead of calling Do.
func (s *Supervisor) Requests() <-chan Request {
	return s.requests
}

// Handle executes a submitted request.
func (s *Supervisor) Handle(ctx context.Context, req Request) {
	switch req.op {
	case opCreate:
		s.CreateTask(ctx, req.name, req.description)
	case opCancel:
		s.CancelTask(ctx, req.id)
	case opCancelAll:
		s.CancelAll(ctx)
	default:
		slog.WarnContext(ctx, "request operation not supported: ignoring", "op", req.op)
	}
}
