package vulkan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkfake"
)

func TestBorrowIsRoundRobin(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7} {
		ctx := newTestContext(t, vkfake.New())
		pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: n})

		seen := make(map[int]int)
		for i := 0; i < 2*n; i++ {
			e := pool.Borrow()
			assert.Equal(t, i%n, e.Index)
			seen[e.Index]++
		}
		for i := 0; i < n; i++ {
			assert.Equal(t, 2, seen[i], "pool of %d, context %d", n, i)
		}
	}
}

func TestNewExecPoolRejectsEmptyPool(t *testing.T) {
	ctx := newTestContext(t, vkfake.New())

	_, err := NewExecPool(ctx, ctx.NewQueueFamilyCtx(vkapi.QueueCompute), ExecPoolConfig{Contexts: 0})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestNewExecPoolCreatesObjects(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{
		Contexts:          3,
		QueriesPerContext: 2,
		QueryType:         vkapi.QueryTypeTimestamp,
		Query64Bit:        true,
	})

	info, ok := drv.QueryPoolInfo(pool.QueryPool())
	require.True(t, ok)
	assert.Equal(t, vkapi.QueryTypeTimestamp, info.QueryType)
	assert.Equal(t, uint32(6), info.QueryCount)

	for i := 0; i < 3; i++ {
		e := pool.Context(i)
		assert.Equal(t, uint32(2*i), e.QueryIndex())
		assert.True(t, drv.FenceSignaled(e.Fence()), "fences start signaled")
		assert.Equal(t, COMMAND_BUFFER_STATE_READY, e.Buf.State)
	}
}

func TestNewExecPoolUnwindsOnFailure(t *testing.T) {
	drv := vkfake.New()
	drv.FailCreateQueryPool = vkapi.ErrorOutOfDeviceMemory
	ctx := newTestContext(t, drv)

	pool, err := NewExecPool(ctx, ctx.NewQueueFamilyCtx(vkapi.QueueCompute), ExecPoolConfig{
		Contexts:          2,
		QueriesPerContext: 1,
		QueryType:         vkapi.QueryTypeTimestamp,
	})
	assert.Nil(t, pool)
	assert.ErrorIs(t, err, core.ErrExternal)
}

func TestStartResetsFenceAndQueries(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{
		Contexts:          2,
		QueriesPerContext: 2,
		QueryType:         vkapi.QueryTypeTimestamp,
	})

	pool.Borrow()
	e := pool.Borrow()
	require.NoError(t, e.Start())

	assert.False(t, drv.FenceSignaled(e.Fence()))
	assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING, e.Buf.State)

	cmds := drv.Commands(e.Buf.Handle)
	require.Len(t, cmds, 2)
	assert.Equal(t, "Begin", cmds[0].Name)
	assert.Equal(t, vkapi.CommandBufferUsageOneTimeSubmit, cmds[0].Args[0])
	assert.Equal(t, "ResetQueryPool", cmds[1].Name)
	assert.Equal(t, []any{pool.QueryPool(), uint32(2), uint32(2)}, cmds[1].Args)
}

func TestEmptySubmissionRoundTrip(t *testing.T) {
	drv := vkfake.New()
	drv.HoldFences = true
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 2})

	e := pool.Borrow()
	require.Equal(t, 0, e.Index)
	assert.True(t, drv.FenceSignaled(e.Fence()))

	require.NoError(t, e.Start())
	assert.False(t, drv.FenceSignaled(e.Fence()))

	require.NoError(t, e.Submit())
	assert.True(t, e.HadSubmission())
	assert.Equal(t, COMMAND_BUFFER_STATE_SUBMITTED, e.Buf.State)

	subs := drv.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, e.Fence(), subs[0].Fence)
	assert.Equal(t, e.Queue, subs[0].Queue)
	assert.Equal(t, []vkapi.CommandBufferSubmitInfo{{CommandBuffer: e.Buf.Handle}}, subs[0].Info.CommandBufferInfos)
	assert.Empty(t, subs[0].Info.WaitSemaphoreInfos)
	assert.Empty(t, subs[0].Info.SignalSemaphoreInfos)

	drv.CompleteAll()
	assert.True(t, within(testTimeout, e.Wait))
	assert.True(t, drv.FenceSignaled(e.Fence()))
	assert.Equal(t, COMMAND_BUFFER_STATE_READY, e.Buf.State)
}

func TestStartWaitsForPreviousSubmission(t *testing.T) {
	drv := vkfake.New()
	drv.HoldFences = true
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.Submit())
	fence := e.Fence()

	started := make(chan error, 1)
	go func() {
		started <- pool.Borrow().Start()
	}()

	select {
	case <-started:
		t.Fatal("Start returned before the fence was signaled")
	case <-time.After(shortTimeout):
	}

	drv.Complete(fence)
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Start did not return after the fence was signaled")
	}

	drv.HoldFences = false
	require.NoError(t, e.Submit())
}

func TestQueryResultNotReadyBeforeSubmit(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{
		Contexts:          2,
		QueriesPerContext: 2,
		QueryType:         vkapi.QueryTypeTimestamp,
		Query64Bit:        true,
	})

	e := pool.Borrow()
	_, _, err := e.QueryResult()
	assert.ErrorIs(t, err, core.ErrNotReady)
	assert.True(t, IsNotReady(err))

	require.NoError(t, e.Start())
	_, _, err = e.QueryResult()
	assert.ErrorIs(t, err, core.ErrNotReady)

	require.NoError(t, e.Submit())
	drv.SetQueryWords(pool.QueryPool(), []uint64{100, 250})

	data, status, err := e.QueryResult()
	require.NoError(t, err)
	assert.Equal(t, int64(0), status)
	assert.Equal(t, []uint64{100, 250}, QueryValues(data, true))

	calls := drv.QueryCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, vkfake.QueryCall{
		Pool:   pool.QueryPool(),
		First:  0,
		Count:  2,
		Stride: 8,
		Flags:  vkapi.QueryResult64,
	}, calls[0])
}

func TestQueryResultDriverNotReady(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{
		Contexts:          1,
		QueriesPerContext: 1,
		QueryType:         vkapi.QueryTypeTimestamp,
	})

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.Submit())

	drv.QueryResult = vkapi.NotReady
	_, _, err := e.QueryResult()
	assert.ErrorIs(t, err, core.ErrNotReady)

	drv.QueryResult = vkapi.ErrorDeviceLost
	_, _, err = e.QueryResult()
	assert.ErrorIs(t, err, core.ErrExternal)
}

func TestQueryResultStatusReduction(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{
		Contexts:          1,
		QueriesPerContext: 3,
		QueryType:         vkapi.QueryTypeVideoEncodeFeedback,
	})

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.Submit())

	minus3 := uint64(uint32(0xFFFFFFFD))
	// result, status pairs
	drv.SetQueryWords(pool.QueryPool(), []uint64{10, 1, 20, minus3, 30, 2})

	data, status, err := e.QueryResult()
	require.NoError(t, err)
	assert.Len(t, data, 6*4)
	assert.Equal(t, int64(-3), status)

	calls := drv.QueryCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint64(8), calls[0].Stride)
	assert.Equal(t, vkapi.QueryResultWithStatus, calls[0].Flags)
}

func TestQueryResultIsOwnedByCaller(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1, QueriesPerContext: 2, Query64Bit: true})

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.Submit())
	drv.SetQueryWords(pool.QueryPool(), []uint64{100, 200})

	first, _, err := e.QueryResult()
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200}, QueryValues(first, true))

	drv.SetQueryWords(pool.QueryPool(), []uint64{300, 400})
	second, _, err := e.QueryResult()
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200}, QueryValues(first, true), "a later call must not overwrite earlier results")
	assert.Equal(t, []uint64{300, 400}, QueryValues(second, true))

	first[0] = 0xFF
	third, _, err := e.QueryResult()
	require.NoError(t, err)
	assert.Equal(t, []uint64{300, 400}, QueryValues(third, true))
}

func TestQueryResultStatusOnly(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{
		Contexts:          1,
		QueriesPerContext: 2,
		QueryType:         vkapi.QueryTypeResultStatusOnly,
		Query64Bit:        true,
	})

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.Submit())
	drv.SetQueryWords(pool.QueryPool(), []uint64{1, 5})

	data, status, err := e.QueryResult()
	require.NoError(t, err)
	assert.Len(t, data, 2*8)
	assert.Equal(t, int64(5), status)

	calls := drv.QueryCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint64(8), calls[0].Stride)
	assert.Equal(t, vkapi.QueryResult64|vkapi.QueryResultWithStatus, calls[0].Flags)
}

func TestReduceQueryStatus(t *testing.T) {
	tests := []struct {
		name    string
		running int64
		v       int64
		want    int64
	}{
		{"larger positive wins", 1, 5, 5},
		{"smaller positive loses", 5, 3, 5},
		{"negative beats positive", 5, -1, -1},
		{"more negative wins", -1, -4, -4},
		{"less negative loses", -4, -1, -4},
		{"positive never beats negative", -1, 7, -1},
		{"zero stays", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reduceQueryStatus(tt.running, tt.v))
		})
	}
}

func TestSubmitFailureDiscardsDependencies(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	buf, err := ctx.CreateBuffer(64, vkapi.BufferUsageTransferDst, vkapi.MemoryPropertyDeviceLocal, nil, nil)
	require.NoError(t, err)
	ref := ctx.NewOwnedBufferRef(buf)
	defer ref.Unref()

	frame := NewVulkanFrame(1, nil)

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.AddBufferDeps([]*BufferRef{ref}, true))
	require.NoError(t, e.AddFrameDep(frame, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2AllCommands))
	assert.Equal(t, int64(2), ref.RefCount())

	drv.FailSubmit = vkapi.ErrorDeviceLost
	err = e.Submit()
	assert.ErrorIs(t, err, core.ErrExternal)
	assert.False(t, e.HadSubmission())
	assert.Equal(t, 0, e.NumBufferDeps())
	assert.Equal(t, 0, e.NumFrameDeps())
	assert.Equal(t, int64(1), ref.RefCount())
	assert.True(t, frame.mu.TryLock(), "frame must be unlocked")
	frame.mu.Unlock()
	assert.Equal(t, uint64(0), frame.SemValue[0])

	// The context must stay usable.
	drv.FailSubmit = vkapi.Success
	assert.True(t, within(testTimeout, func() {
		assert.NoError(t, e.Start())
		assert.NoError(t, e.Submit())
	}))
}

func TestEndFailureDiscardsDependencies(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	frame := NewVulkanFrame(2, nil)
	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.AddFrameDep(frame, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2AllCommands))

	drv.FailEnd = vkapi.ErrorOutOfHostMemory
	assert.ErrorIs(t, e.Submit(), core.ErrExternal)
	assert.Empty(t, drv.Submissions())
	assert.Equal(t, 0, e.NumFrameDeps())
	assert.Empty(t, e.WaitSemaphores())
	assert.Empty(t, e.SignalSemaphores())
	assert.True(t, drv.FenceSignaled(e.Fence()))
}

func TestAbortReleasesRecording(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	buf, err := ctx.CreateBuffer(64, vkapi.BufferUsageTransferDst, vkapi.MemoryPropertyDeviceLocal, nil, nil)
	require.NoError(t, err)
	ref := ctx.NewOwnedBufferRef(buf)
	defer ref.Unref()

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.AddBufferDeps([]*BufferRef{ref}, true))
	old := e.Fence()

	e.Abort()
	assert.Equal(t, 0, e.NumBufferDeps())
	assert.Equal(t, int64(1), ref.RefCount())
	assert.NotEqual(t, old, e.Fence())
	assert.True(t, drv.FenceSignaled(e.Fence()))
	assert.Equal(t, COMMAND_BUFFER_STATE_READY, e.Buf.State)
	assert.Empty(t, drv.Submissions())

	assert.True(t, within(testTimeout, func() {
		assert.NoError(t, e.Start())
		assert.NoError(t, e.Submit())
	}))
	assert.Len(t, drv.Submissions(), 1)
}

func TestFenceLossIsReportedAndRecovered(t *testing.T) {
	t.Run("submit", func(t *testing.T) {
		drv := vkfake.New()
		ctx := newTestContext(t, drv)
		pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

		e := pool.Borrow()
		require.NoError(t, e.Start())
		drv.FailSubmit = vkapi.ErrorDeviceLost
		drv.FailCreateFence = vkapi.ErrorOutOfHostMemory
		assert.ErrorIs(t, e.Submit(), core.ErrExternal)
		assert.True(t, e.Idle(), "nothing is in flight")

		// Still no fence, Start reports it instead of blocking.
		drv.FailSubmit = vkapi.Success
		assert.True(t, within(testTimeout, func() {
			assert.ErrorIs(t, e.Start(), core.ErrExternal)
		}))

		drv.FailCreateFence = vkapi.Success
		assert.True(t, within(200*time.Millisecond, func() {
			assert.NoError(t, e.Start())
			assert.NoError(t, e.Submit())
		}))
		assert.Len(t, drv.Submissions(), 1)
		assert.True(t, drv.FenceSignaled(e.Fence()))
	})

	t.Run("abort", func(t *testing.T) {
		drv := vkfake.New()
		ctx := newTestContext(t, drv)
		pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

		e := pool.Borrow()
		require.NoError(t, e.Start())
		drv.FailCreateFence = vkapi.ErrorOutOfDeviceMemory
		assert.ErrorIs(t, e.Abort(), core.ErrExternal)

		drv.FailCreateFence = vkapi.Success
		assert.True(t, within(200*time.Millisecond, func() {
			assert.NoError(t, e.Start())
		}))
		assert.NoError(t, e.Abort())
	})
}

func TestIdleDoesNotBlockBehindWait(t *testing.T) {
	drv := vkfake.New()
	drv.HoldFences = true
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.Submit())

	waited := make(chan struct{})
	go func() {
		e.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned before the fence was signaled")
	case <-time.After(shortTimeout):
	}

	var idle bool
	assert.True(t, within(shortTimeout, func() { idle = e.Idle() }), "Idle blocked behind Wait")
	assert.False(t, idle)
	assert.NotZero(t, e.Fence())

	drv.CompleteAll()
	select {
	case <-waited:
	case <-time.After(testTimeout):
		t.Fatal("Wait did not return after the fence was signaled")
	}
	assert.True(t, e.Idle())
}

func TestFreeWaitsForEveryContext(t *testing.T) {
	drv := vkfake.New()
	drv.HoldFences = true
	ctx := newTestContext(t, drv)

	pool, err := NewExecPool(ctx, ctx.NewQueueFamilyCtx(vkapi.QueueCompute), ExecPoolConfig{Contexts: 2})
	require.NoError(t, err)

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.Submit())

	// Started but never submitted, Free must not wait on it.
	require.NoError(t, pool.Borrow().Start())

	freed := make(chan struct{})
	go func() {
		pool.Free()
		close(freed)
	}()

	select {
	case <-freed:
		t.Fatal("Free returned while a submission was pending")
	case <-time.After(shortTimeout):
	}

	drv.CompleteAll()
	select {
	case <-freed:
	case <-time.After(testTimeout):
		t.Fatal("Free did not return after the submission completed")
	}
	assert.Equal(t, 0, pool.Size())
	assert.Equal(t, 0, drv.LiveBuffers())
}
