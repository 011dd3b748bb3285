package systems

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkexec/engine/core"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, core.ErrNoWorkers)

	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestRunAllRunsEveryTask(t *testing.T) {
	js, err := NewJobSystem(4, 2)
	require.NoError(t, err)
	defer js.Shutdown()

	var ran, completed, callbacks atomic.Int32
	tasks := make([]JobTask, 16)
	for i := range tasks {
		tasks[i] = JobTask{
			Name: "count",
			Run: func(worker int) error {
				assert.Less(t, worker, js.Workers())
				ran.Add(1)
				return nil
			},
			OnComplete:           func() { completed.Add(1) },
			OnCompletionCallback: func() { callbacks.Add(1) },
		}
	}

	require.NoError(t, js.RunAll(tasks))
	assert.Equal(t, int32(16), ran.Load())
	assert.Equal(t, int32(16), completed.Load())
	assert.Equal(t, int32(16), callbacks.Load())
}

func TestRunAllReportsFailure(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)
	defer js.Shutdown()

	boom := errors.New("boom")
	var failures atomic.Int32
	tasks := []JobTask{
		{Name: "ok", Run: func(int) error { return nil }},
		{
			Name:      "fails",
			Run:       func(int) error { return boom },
			OnFailure: func(error) { failures.Add(1) },
		},
	}

	assert.ErrorIs(t, js.RunAll(tasks), boom)
	assert.Equal(t, int32(1), failures.Load())
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 1)
	require.NoError(t, err)

	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())

	assert.ErrorIs(t, js.Submit(JobTask{Run: func(int) error { return nil }}), core.ErrShutdown)
	assert.ErrorIs(t, js.RunAll([]JobTask{{Run: func(int) error { return nil }}}), core.ErrShutdown)
}
