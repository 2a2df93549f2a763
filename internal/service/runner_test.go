package service_test

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/clustrctrl/clustrctrl/internal/service"
	"github.com/clustrctrl/clustrctrl/internal/task"
	"github.com/clustrctrl/clustrctrl/internal/worker"
	"github.com/stretchr/testify/require"
)

type funcUnit struct {
	id task.ID
	fn func(ctx context.Context) worker.Result
}

func (u funcUnit) ID() task.ID {
	return u.id
}

func (u funcUnit) Run(ctx context.Context) worker.Result {
	return u.fn(ctx)
}

func TestRunner(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		unit := funcUnit{id: 3, fn: func(context.Context) worker.Result {
			time.Sleep(2 * time.Second)
			return worker.Result{Sum: 42, Units: 2}
		}}
		r := service.Start(t.Context(), unit)

		_, ok := r.Take()
		require.False(t, ok, "unit is still running")

		<-r.Done()
		res, ok := r.Take()
		require.True(t, ok)
		require.NoError(t, res.Err)
		require.Equal(t, task.ID(3), res.ID)
		require.Equal(t, int64(42), res.Value.Sum)
		require.Equal(t, 2*time.Second, res.Stopped.Sub(res.Started))

		_, ok = r.Take()
		require.False(t, ok, "result is taken only once")
	})
}

func TestRunner_Panic(t *testing.T) {
	t.Parallel()
	unit := funcUnit{id: 1, fn: func(context.Context) worker.Result {
		panic("boom")
	}}
	r := service.Start(t.Context(), unit)
	<-r.Done()
	res, ok := r.Take()
	require.True(t, ok)
	var perr *service.PanicError
	require.ErrorAs(t, res.Err, &perr)
	require.Equal(t, "boom", perr.Value)
	require.NotEmpty(t, perr.Stack)
	require.EqualError(t, res.Err, "work unit panicked: boom")
}
