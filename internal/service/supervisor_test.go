package service_test

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/clustrctrl/clustrctrl/internal/channel"
	"github.com/clustrctrl/clustrctrl/internal/service"
	"github.com/clustrctrl/clustrctrl/internal/task"
	"github.com/clustrctrl/clustrctrl/internal/worker"
	"github.com/stretchr/testify/require"
)

const tick = 500 * time.Millisecond

func testConfig(minUnits, maxUnits int) service.Config {
	return service.Config{
		Tick:            tick,
		StatusCapacity:  64,
		ControlCapacity: 16,
		Worker: worker.Config{
			TimeUnit: time.Second,
			MinUnits: minUnits,
			MaxUnits: maxUnits,
			Workload: 10,
		},
	}
}

func newSupervisor(t *testing.T, cfg service.Config, opts ...service.Option) *service.Supervisor {
	t.Helper()
	s, err := service.NewSupervisor(cfg, opts...)
	require.NoError(t, err)
	return s
}

// observer ticks a supervisor and checks the record invariants on every pass.
type observer struct {
	t        *testing.T
	s        *service.Supervisor
	progress map[task.ID]int
	seen     map[task.ID][]task.State
}

func newObserver(t *testing.T, s *service.Supervisor) *observer {
	return &observer{
		t:        t,
		s:        s,
		progress: map[task.ID]int{},
		seen:     map[task.ID][]task.State{},
	}
}

func (o *observer) tick(ctx context.Context) {
	o.t.Helper()
	before := time.Now()
	o.s.Tick(ctx)
	require.Equal(o.t, before, time.Now(), "tick must not block")

	for _, rec := range o.s.Tasks() {
		require.GreaterOrEqual(o.t, rec.Progress, o.progress[rec.ID], "progress of task %d decreased", rec.ID)
		o.progress[rec.ID] = rec.Progress
		require.Equal(o.t, rec.Finalized(), !rec.End.IsZero())
		if rec.Finalized() {
			require.Equal(o.t, 100, rec.Progress)
			require.True(o.t, rec.State.Terminal())
		}
		states := o.seen[rec.ID]
		if len(states) == 0 || states[len(states)-1] != rec.State {
			o.seen[rec.ID] = append(states, rec.State)
		}
	}
}

// until ticks until cond holds and returns the number of ticks used.
func (o *observer) until(ctx context.Context, maxTicks int, cond func() bool) int {
	o.t.Helper()
	for i := range maxTicks {
		o.tick(ctx)
		if cond() {
			return i + 1
		}
		time.Sleep(tick)
	}
	o.t.Fatalf("condition not reached within %d ticks", maxTicks)
	return maxTicks
}

func TestNewSupervisor_Channels(t *testing.T) {
	t.Parallel()
	cfg := testConfig(2, 2)
	cfg.StatusCapacity = 0
	_, err := service.NewSupervisor(cfg)
	require.ErrorIs(t, err, channel.ErrCapacity)

	cfg = testConfig(2, 2)
	cfg.ControlCapacity = 0
	_, err = service.NewSupervisor(cfg)
	require.ErrorIs(t, err, channel.ErrCapacity)
}

func TestSupervisor_Finishes(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		s := newSupervisor(t, testConfig(2, 2))
		defer s.Close()
		o := newObserver(t, s)

		id := s.CreateTask(ctx, "Onson Sweemey", "Repaint fence")
		rec, ok := s.Task(id)
		require.True(t, ok)
		require.Equal(t, task.StateUnknown, rec.State)
		require.False(t, rec.Finalized())

		o.until(ctx, 20, s.Idle)
		rec, _ = s.Task(id)
		require.Equal(t, task.StateFinished, rec.State)
		require.Equal(t, 100, rec.Progress)
		require.False(t, rec.End.Before(rec.Start))

		states := o.seen[id]
		require.Equal(t, task.StateFinished, states[len(states)-1])
		for _, st := range states[:len(states)-1] {
			require.Contains(t, []task.State{task.StateUnknown, task.StateRunning, task.StateSleeping}, st)
		}
		require.Zero(t, s.Outstanding())
	})
}

func TestSupervisor_CancelImmediately(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		s := newSupervisor(t, testConfig(2, 60))
		defer s.Close()
		o := newObserver(t, s)

		id := s.CreateTask(ctx, "Todd Bonzalez", "Uninstall gravity temporarily")
		require.True(t, s.CancelTask(ctx, id))
		rec, _ := s.Task(id)
		require.True(t, rec.PendingCancel)

		o.until(ctx, 20, s.Idle)
		rec, _ = s.Task(id)
		require.Equal(t, task.StateCanceled, rec.State)
		require.True(t, rec.PendingCancel)
		require.True(t, rec.Finalized())
		require.NotContains(t, o.seen[id], task.StateFinished)

		t.Log("cancel is idempotent once terminal")
		require.False(t, s.CancelTask(ctx, id))
		again, _ := s.Task(id)
		require.Equal(t, rec, again)
	})
}

func TestSupervisor_CancelUnknown(t *testing.T) {
	t.Parallel()
	s := newSupervisor(t, testConfig(2, 2))
	defer s.Close()
	require.False(t, s.CancelTask(t.Context(), 42))
	require.Empty(t, s.Tasks())
	require.False(t, s.Idle())
}

func TestSupervisor_CancelAll(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		s := newSupervisor(t, testConfig(5, 10))
		defer s.Close()
		o := newObserver(t, s)

		for range 3 {
			s.CreateTask(ctx, "Dean Wesrey", "Re-enact fax machine error codes via mime")
		}
		o.tick(ctx)
		time.Sleep(tick)

		before := time.Now()
		s.CancelAll(ctx)
		require.Equal(t, before, time.Now(), "CancelAll must not wait for units")
		for _, rec := range s.Tasks() {
			require.True(t, rec.PendingCancel)
		}

		// a unit observes the stop at the latest after its current sleep
		o.until(ctx, 2*10*int(time.Second/tick), s.Idle)
		for _, rec := range s.Tasks() {
			require.True(t, rec.State.Terminal())
			require.Equal(t, task.StateCanceled, rec.State)
		}
	})
}

func TestSupervisor_IDs(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		s := newSupervisor(t, testConfig(2, 3))
		defer s.Close()
		o := newObserver(t, s)

		var ids []task.ID
		for range 3 {
			ids = append(ids, s.CreateTask(ctx, "Mike Truk", "Overclock the toaster (bagels only)"))
		}
		o.until(ctx, 20, s.Idle)
		ids = append(ids, s.CreateTask(ctx, "Mike Truk", "Overclock the toaster (bagels only)"))
		o.until(ctx, 20, s.Idle)

		require.Equal(t, []task.ID{1, 2, 3, 4}, ids)
		recs := s.Tasks()
		require.Len(t, recs, 4, "records are kept after termination")
		for i, rec := range recs {
			require.Equal(t, ids[i], rec.ID)
		}
	})
}

func TestSupervisor_UnknownReport(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		factory := func(id task.ID, status channel.Sender[task.StatusMessage], control *channel.Subscription[task.Control]) service.Runnable {
			return funcUnit{id: id, fn: func(context.Context) worker.Result {
				defer control.Close()
				_ = status.Send(task.StatusMessage{ID: id + 100, Report: task.RunReport{Progress: 50}})
				_ = status.Send(task.StatusMessage{ID: id, Report: task.RunReport{Progress: 20}})
				return worker.Result{Sum: 1}
			}}
		}
		s := newSupervisor(t, testConfig(2, 2), service.WithUnitFactory(factory))
		defer s.Close()

		id := s.CreateTask(ctx, "Rey McSriff", "help im trapped in a binary an")
		synctest.Wait()
		stats := s.Tick(ctx)
		require.Equal(t, 2, stats.Reports)
		require.Equal(t, 1, stats.Discarded)
		require.Equal(t, 1, stats.Finalized)

		rec, _ := s.Task(id)
		require.Equal(t, task.StateFinished, rec.State)
		_, ok := s.Task(id + 100)
		require.False(t, ok)
	})
}

func TestSupervisor_CancelReportBeforeCompletion(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		factory := func(id task.ID, status channel.Sender[task.StatusMessage], control *channel.Subscription[task.Control]) service.Runnable {
			return funcUnit{id: id, fn: func(context.Context) worker.Result {
				defer control.Close()
				_ = status.Send(task.StatusMessage{ID: id, Report: task.CancelReport{}})
				return worker.Result{Canceled: true}
			}}
		}
		s := newSupervisor(t, testConfig(2, 2), service.WithUnitFactory(factory))
		defer s.Close()

		id := s.CreateTask(ctx, "Karl Dandleton", "Reverse-engineer cafeteria meatloaf")
		synctest.Wait()
		s.Tick(ctx)
		rec, _ := s.Task(id)
		require.Equal(t, task.StateCanceled, rec.State, "report is drained before the result is taken")
		require.True(t, rec.Finalized())
	})
}

func TestSupervisor_CanceledResultWithoutReport(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		factory := func(id task.ID, status channel.Sender[task.StatusMessage], control *channel.Subscription[task.Control]) service.Runnable {
			return funcUnit{id: id, fn: func(context.Context) worker.Result {
				defer control.Close()
				_ = status.Send(task.StatusMessage{ID: id, Report: task.RunReport{Progress: 10}})
				return worker.Result{Canceled: true}
			}}
		}
		s := newSupervisor(t, testConfig(2, 2), service.WithUnitFactory(factory))
		defer s.Close()

		id := s.CreateTask(ctx, "Willie Dustice", "Alphabetize the cloud")
		require.True(t, s.CancelTask(ctx, id))
		synctest.Wait()
		s.Tick(ctx)
		rec, _ := s.Task(id)
		require.Equal(t, task.StateCanceled, rec.State)
		require.True(t, rec.Finalized())
	})
}

// The CancelReport is stuck behind a stale report on a full queue, so a
// tick may reap the result before the report is drained.
func TestSupervisor_CancelReportBehindFullQueue(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		factory := func(id task.ID, status channel.Sender[task.StatusMessage], control *channel.Subscription[task.Control]) service.Runnable {
			return funcUnit{id: id, fn: func(context.Context) worker.Result {
				defer control.Close()
				_ = status.Send(task.StatusMessage{ID: 999, Report: task.RunReport{Progress: 50}})
				_ = status.Send(task.StatusMessage{ID: id, Report: task.CancelReport{}})
				return worker.Result{Canceled: true}
			}}
		}
		cfg := testConfig(2, 2)
		cfg.StatusCapacity = 1
		s := newSupervisor(t, cfg, service.WithUnitFactory(factory))
		defer s.Close()

		id := s.CreateTask(ctx, "Dwigt Rortugal", "Defragment the coffee machine")
		require.True(t, s.CancelTask(ctx, id))
		synctest.Wait()

		for range 3 {
			s.Tick(ctx)
			rec, _ := s.Task(id)
			require.NotEqual(t, task.StateFinished, rec.State)
			synctest.Wait()
		}
		rec, _ := s.Task(id)
		require.Equal(t, task.StateCanceled, rec.State)
		require.True(t, rec.Finalized())
	})
}

func TestSupervisor_PanickingUnit(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		factory := func(id task.ID, _ channel.Sender[task.StatusMessage], control *channel.Subscription[task.Control]) service.Runnable {
			return funcUnit{id: id, fn: func(context.Context) worker.Result {
				defer control.Close()
				panic("unit exploded")
			}}
		}
		s := newSupervisor(t, testConfig(2, 2), service.WithUnitFactory(factory))
		defer s.Close()

		id := s.CreateTask(ctx, "Glenallen Mixon", "Rehydrate the PDF files")
		synctest.Wait()
		stats := s.Tick(ctx)
		require.Equal(t, 1, stats.Finalized)
		rec, _ := s.Task(id)
		require.Equal(t, task.StateFinished, rec.State)
		require.Equal(t, 100, rec.Progress)
		require.True(t, rec.Finalized())
	})
}

func TestSupervisor_Backpressure(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		cfg := testConfig(2, 2)
		cfg.StatusCapacity = 1
		s := newSupervisor(t, cfg)
		defer s.Close()
		o := newObserver(t, s)

		for range 4 {
			s.CreateTask(ctx, "Sleve McDichael", "Re-attach turbo encabulator")
		}
		synctest.Wait()
		// units are blocked on the full queue until the supervisor drains it
		require.Equal(t, 4, s.Outstanding())
		o.until(ctx, 80, s.Idle)
		for _, rec := range s.Tasks() {
			require.Equal(t, task.StateFinished, rec.State)
		}
	})
}

func TestSupervisor_MaxRunning(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx := t.Context()
		cfg := testConfig(4, 4)
		cfg.MaxRunning = 1
		s := newSupervisor(t, cfg)
		defer s.Close()
		o := newObserver(t, s)

		first := s.CreateTask(ctx, "Jeromy Gride", "Recycle the same oxygen molecule 17 times")
		second := s.CreateTask(ctx, "Tony Smellme", "Teach office plants about blockchain")
		time.Sleep(tick)
		o.tick(ctx)

		waiting := 0
		for _, id := range []task.ID{first, second} {
			if rec, _ := s.Task(id); rec.State == task.StateUnknown {
				waiting++
			}
		}
		require.Equal(t, 1, waiting, "one unit waits for a slot")

		o.until(ctx, 40, s.Idle)
		for _, rec := range s.Tasks() {
			require.Equal(t, task.StateFinished, rec.State)
		}
	})
}

func TestSupervisor_Do(t *testing.T) {
	t.Parallel()

	t.Run("exit when idle", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			s := newSupervisor(t, testConfig(2, 4)).SetExitWhenIdle(true)
			defer s.Close()
			require.NoError(t, s.Submit(service.CreateRequest("Bobson Dugnutt", "Wait for Pokemon cards")))
			require.NoError(t, s.Submit(service.CreateRequest("Onson Sweemey", "Repaint fence")))

			require.NoError(t, s.Do(t.Context()))
			recs := s.Tasks()
			require.Len(t, recs, 2)
			for _, rec := range recs {
				require.Equal(t, task.StateFinished, rec.State)
			}
		})
	})

	t.Run("submitted cancel", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			s := newSupervisor(t, testConfig(30, 60)).SetExitWhenIdle(true)
			defer s.Close()
			require.NoError(t, s.Submit(service.CreateRequest("Anatoli Smorin", "Revandalize fence")))
			require.NoError(t, s.Submit(service.CancelRequest(1)))
			require.NoError(t, s.Do(t.Context()))
			rec, _ := s.Task(1)
			require.Equal(t, task.StateCanceled, rec.State)
		})
	})

	t.Run("context canceled", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			s := newSupervisor(t, testConfig(30, 60))
			defer s.Close()
			for range 3 {
				require.NoError(t, s.Submit(service.CreateRequest("Raul Chamgerlain", "Translate whale songs into Excel formulas")))
			}
			done := make(chan error, 1)
			go func() {
				done <- s.Do(ctx)
			}()
			time.Sleep(3 * tick)
			cancel()
			require.NoError(t, <-done)
			for _, rec := range s.Tasks() {
				require.True(t, rec.PendingCancel)
			}
		})
	})
}

func TestSupervisor_SubmitQueueFull(t *testing.T) {
	t.Parallel()
	s := newSupervisor(t, testConfig(2, 2))
	defer s.Close()
	var err error
	for range 1000 {
		if err = s.Submit(service.CancelAllRequest()); err != nil {
			break
		}
	}
	require.ErrorIs(t, err, service.ErrRequestQueueFull)
	stats := s.Tick(t.Context())
	require.Positive(t, stats.Requests)
	require.NoError(t, s.Submit(service.CancelAllRequest()))
}
