package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkfake"
)

func newTestFrame(planes int, onRelease func(*VulkanFrame)) *VulkanFrame {
	f := NewVulkanFrame(planes, onRelease)
	for i := 0; i < planes; i++ {
		f.Images[i] = vkapi.Image(100 + i)
		f.Sem[i] = vkapi.Semaphore(200 + i)
		f.SemValue[i] = uint64(10 * (i + 1))
	}
	return f
}

func frameUnlocked(f *VulkanFrame) bool {
	if !f.mu.TryLock() {
		return false
	}
	f.mu.Unlock()
	return true
}

func TestAddFrameDepSemaphores(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	f := newTestFrame(2, nil)
	e := pool.Borrow()
	require.NoError(t, e.Start())

	require.NoError(t, e.AddFrameDep(f, vkapi.PipelineStage2ComputeShader, vkapi.PipelineStage2AllCommands))
	assert.ErrorIs(t, e.AddFrameDep(f, vkapi.PipelineStage2ComputeShader, vkapi.PipelineStage2AllCommands), core.ErrAlreadyPresent)
	assert.Equal(t, 1, e.NumFrameDeps())
	assert.True(t, e.FrameLocked(f))
	assert.False(t, frameUnlocked(f))

	assert.Equal(t, []vkapi.SemaphoreSubmitInfo{
		{Semaphore: 200, Value: 10, StageMask: vkapi.PipelineStage2ComputeShader},
		{Semaphore: 201, Value: 20, StageMask: vkapi.PipelineStage2ComputeShader},
	}, e.WaitSemaphores())
	assert.Equal(t, []vkapi.SemaphoreSubmitInfo{
		{Semaphore: 200, Value: 11, StageMask: vkapi.PipelineStage2AllCommands},
		{Semaphore: 201, Value: 21, StageMask: vkapi.PipelineStage2AllCommands},
	}, e.SignalSemaphores())

	require.NoError(t, e.Submit())
	assert.Equal(t, []uint64{11, 21}, f.SemValue)
	assert.True(t, frameUnlocked(f), "frames are unlocked on submission")
	assert.False(t, e.FrameLocked(f))

	subs := drv.Submissions()
	require.Len(t, subs, 1)
	assert.Len(t, subs[0].Info.WaitSemaphoreInfos, 2)
	assert.Equal(t, uint64(21), subs[0].Info.SignalSemaphoreInfos[1].Value)

	// The next recording waits on the values signaled by the first one.
	require.NoError(t, e.Start())
	assert.Equal(t, 0, e.NumFrameDeps())
	require.NoError(t, e.AddFrameDep(f, vkapi.PipelineStage2ComputeShader, vkapi.PipelineStage2AllCommands))
	assert.Equal(t, uint64(11), e.WaitSemaphores()[0].Value)
	assert.Equal(t, uint64(12), e.SignalSemaphores()[0].Value)
	require.NoError(t, e.Submit())
}

func TestFrameBarrierAppliesStateOnSubmit(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	f := newTestFrame(2, nil)
	f.Access[1] = vkapi.Access2TransferWrite
	f.Layout[0] = vkapi.ImageLayoutTransferDstOptimal

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.AddFrameDep(f, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2ComputeShader))

	var bars []vkapi.ImageMemoryBarrier2
	bars = e.FrameBarrier(bars, f, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2ComputeShader,
		vkapi.Access2ShaderRead, vkapi.ImageLayoutGeneral, vkapi.QueueFamilyIgnored)
	require.Len(t, bars, 2)

	for i, bar := range bars {
		assert.Equal(t, f.Images[i], bar.Image)
		assert.Equal(t, vkapi.ImageLayoutTransferDstOptimal, bar.OldLayout)
		assert.Equal(t, vkapi.ImageLayoutGeneral, bar.NewLayout)
		assert.Equal(t, f.Access[i], bar.SrcAccessMask)
		assert.Equal(t, vkapi.Access2ShaderRead, bar.DstAccessMask)
		assert.Equal(t, vkapi.QueueFamilyIgnored, bar.SrcQueueFamilyIndex)
		assert.Equal(t, vkapi.ImageSubresourceRange{AspectMask: vkapi.ImageAspectColor, LevelCount: 1, LayerCount: 1}, bar.SubresourceRange)
	}

	// A second barrier in the same recording starts from the pending state.
	bars = e.FrameBarrier(bars, f, vkapi.PipelineStage2ComputeShader, vkapi.PipelineStage2AllTransfer,
		vkapi.Access2TransferRead, vkapi.ImageLayoutTransferSrcOptimal, vkapi.QueueFamilyIgnored)
	require.Len(t, bars, 4)
	assert.Equal(t, vkapi.ImageLayoutGeneral, bars[2].OldLayout)
	assert.Equal(t, vkapi.Access2ShaderRead, bars[3].SrcAccessMask)

	// Nothing changes on the host before submission.
	assert.Equal(t, vkapi.ImageLayoutTransferDstOptimal, f.Layout[0])

	require.NoError(t, e.Submit())
	assert.Equal(t, []vkapi.ImageLayout{vkapi.ImageLayoutTransferSrcOptimal, vkapi.ImageLayoutTransferSrcOptimal}, f.Layout)
	assert.Equal(t, []vkapi.AccessFlags2{vkapi.Access2TransferRead, vkapi.Access2TransferRead}, f.Access)
}

func TestUpdateFrameCountsOnce(t *testing.T) {
	ctx := newTestContext(t, vkfake.New())
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	f := newTestFrame(1, nil)
	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.AddFrameDep(f, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2AllCommands))

	bar := vkapi.ImageMemoryBarrier2{NewLayout: vkapi.ImageLayoutGeneral, DstQueueFamilyIndex: 3}
	n := 0
	e.UpdateFrame(f, &bar, &n)
	e.UpdateFrame(f, &bar, &n)
	assert.Equal(t, 1, n)

	assert.Panics(t, func() {
		e.UpdateFrame(newTestFrame(1, nil), &bar, &n)
	})

	require.NoError(t, e.Submit())
	assert.Equal(t, uint32(3), f.QueueFamily[0])
}

func TestMirrorSemaphoreValue(t *testing.T) {
	ctx := newTestContext(t, vkfake.New())
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	f := newTestFrame(2, nil)
	e := pool.Borrow()
	require.NoError(t, e.Start())

	var mirror uint64
	_, err := e.MirrorSemaphoreValue(f, &mirror)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	require.NoError(t, e.AddFrameDep(f, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2AllCommands))
	sem, err := e.MirrorSemaphoreValue(f, &mirror)
	require.NoError(t, err)
	assert.Equal(t, vkapi.Semaphore(200), sem)
	assert.Equal(t, uint64(10), mirror)

	require.NoError(t, e.Submit())
	assert.Equal(t, uint64(11), mirror)
	assert.Equal(t, uint64(11), f.SemValue[0])
}

func TestFrameWithoutPlanesIsRejected(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	f := NewVulkanFrame(0, nil)
	e := pool.Borrow()
	require.NoError(t, e.Start())

	assert.ErrorIs(t, e.AddFrameDep(f, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2AllCommands),
		core.ErrInvalidArgument)
	assert.Equal(t, 0, e.NumFrameDeps())
	assert.True(t, frameUnlocked(f))

	var mirror uint64
	assert.NotPanics(t, func() {
		_, err := e.MirrorSemaphoreValue(f, &mirror)
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	assert.Zero(t, mirror)

	require.NoError(t, e.Submit())
	require.Len(t, drv.Submissions(), 1)
	assert.Empty(t, drv.Submissions()[0].Info.SignalSemaphoreInfos)
}

func TestDiscardDepsIsIdempotent(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	released := 0
	f := newTestFrame(1, func(*VulkanFrame) { released++ })

	buf, err := ctx.CreateBuffer(64, vkapi.BufferUsageStorageBuffer, vkapi.MemoryPropertyDeviceLocal, nil, nil)
	require.NoError(t, err)
	ref := ctx.NewOwnedBufferRef(buf)

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.AddFrameDep(f, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2AllCommands))
	// Ownership of the caller's reference moves to the context.
	require.NoError(t, e.AddBufferDeps([]*BufferRef{ref}, false))
	e.AddWaitSemaphore(7, 1, vkapi.PipelineStage2AllCommands)

	e.DiscardDeps()
	e.DiscardDeps()

	assert.Equal(t, 0, e.NumBufferDeps())
	assert.Equal(t, 0, e.NumFrameDeps())
	assert.Empty(t, e.WaitSemaphores())
	assert.Empty(t, e.SignalSemaphores())
	assert.True(t, frameUnlocked(f))
	assert.Equal(t, 0, drv.LiveBuffers(), "the last buffer reference was held by the context")

	// The caller's own frame reference is still alive.
	assert.Equal(t, 0, released)
	f.Unref()
	assert.Equal(t, 1, released)
	assert.False(t, f.Ref())

	require.NoError(t, e.Submit())
}

func TestAddDepsRejectReleasedReferences(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	live, err := ctx.CreateBuffer(64, vkapi.BufferUsageStorageBuffer, vkapi.MemoryPropertyDeviceLocal, nil, nil)
	require.NoError(t, err)
	liveRef := ctx.NewOwnedBufferRef(live)
	defer liveRef.Unref()

	dead := NewBufferRef(&VulkanBuffer{}, nil)
	dead.Unref()

	e := pool.Borrow()
	require.NoError(t, e.Start())

	err = e.AddBufferDeps([]*BufferRef{liveRef, dead}, true)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Equal(t, 0, e.NumBufferDeps())
	assert.Equal(t, int64(1), liveRef.RefCount(), "references taken before the failure are dropped")

	released := newTestFrame(1, func(*VulkanFrame) {})
	released.Unref()
	err = e.AddFrameDep(released, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2AllCommands)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Equal(t, 0, e.NumFrameDeps())

	require.NoError(t, e.Submit())
}

func TestExtraSemaphoresReachTheSubmission(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	e := pool.Borrow()
	require.NoError(t, e.Start())
	e.AddWaitSemaphore(31, 4, vkapi.PipelineStage2AllTransfer)
	e.AddSignalSemaphore(32, 9, vkapi.PipelineStage2BottomOfPipe)
	require.NoError(t, e.Submit())

	subs := drv.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, []vkapi.SemaphoreSubmitInfo{{Semaphore: 31, Value: 4, StageMask: vkapi.PipelineStage2AllTransfer}},
		subs[0].Info.WaitSemaphoreInfos)
	assert.Equal(t, []vkapi.SemaphoreSubmitInfo{{Semaphore: 32, Value: 9, StageMask: vkapi.PipelineStage2BottomOfPipe}},
		subs[0].Info.SignalSemaphoreInfos)
}

type recordingFrameLocker struct {
	locks, unlocks int
}

func (l *recordingFrameLocker) LockFrame(*VulkanFrame)   { l.locks++ }
func (l *recordingFrameLocker) UnlockFrame(*VulkanFrame) { l.unlocks++ }

func TestFrameLockerOverride(t *testing.T) {
	ctx := newTestContext(t, vkfake.New())
	pool := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	locker := &recordingFrameLocker{}
	f := newTestFrame(1, nil)
	f.Locker = locker

	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.AddFrameDep(f, vkapi.PipelineStage2AllCommands, vkapi.PipelineStage2AllCommands))
	require.NoError(t, e.Submit())

	assert.Equal(t, 1, locker.locks)
	assert.Equal(t, 1, locker.unlocks)
	assert.True(t, frameUnlocked(f))
}
