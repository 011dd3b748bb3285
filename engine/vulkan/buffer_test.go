package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkfake"
)

const hostMemory = vkapi.MemoryPropertyHostVisible | vkapi.MemoryPropertyHostCoherent

func TestCreateBufferExtensionChain(t *testing.T) {
	drv := vkfake.New()
	drv.PrefersDedicated = true
	ctx := newTestContext(t, drv)

	type marker struct{ tag int }

	buf, err := ctx.CreateBuffer(100,
		vkapi.BufferUsageStorageBuffer|vkapi.BufferUsageShaderDeviceAddress,
		vkapi.MemoryPropertyDeviceLocal, nil, []any{marker{tag: 7}})
	require.NoError(t, err)
	defer ctx.FreeBuffer(buf)

	allocs := drv.Allocations()
	require.Len(t, allocs, 1)
	chain := allocs[0].Next
	require.Len(t, chain, 3)
	assert.Equal(t, vkapi.MemoryAllocateFlagsInfo{Flags: vkapi.MemoryAllocateDeviceAddress}, chain[0])
	assert.Equal(t, vkapi.MemoryDedicatedAllocateInfo{Buffer: buf.Handle}, chain[1])
	assert.Equal(t, marker{tag: 7}, chain[2])

	ded, ok := vkapi.FindNext[vkapi.MemoryDedicatedAllocateInfo](chain)
	require.True(t, ok)
	assert.Equal(t, buf.Handle, ded.Buffer)

	assert.Equal(t, uint64(100), buf.Size)
	assert.Equal(t, vkapi.MemoryPropertyDeviceLocal, buf.Flags)
	assert.Equal(t, drv.GetBufferDeviceAddress(buf.Handle), buf.Address)
	assert.Nil(t, buf.Mapped)
}

func TestCreateBufferWithoutHints(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	buf, err := ctx.CreateBuffer(100, vkapi.BufferUsageTransferDst, hostMemory, nil, nil)
	require.NoError(t, err)
	defer ctx.FreeBuffer(buf)

	info, ok := drv.BufferInfo(buf.Handle)
	require.True(t, ok)
	assert.Equal(t, uint64(128), info.Size, "host visible buffers are padded to the map alignment")
	assert.Equal(t, uint64(100), buf.Size)

	allocs := drv.Allocations()
	require.Len(t, allocs, 1)
	assert.Empty(t, allocs[0].Next)
	assert.Zero(t, buf.Address)
	assert.True(t, buf.HostVisible())
	assert.True(t, buf.HostCoherent())
}

func TestCreateBufferUnwindsOnBindFailure(t *testing.T) {
	drv := vkfake.New()
	drv.FailBindMemory = vkapi.ErrorOutOfDeviceMemory
	ctx := newTestContext(t, drv)

	buf, err := ctx.CreateBuffer(64, vkapi.BufferUsageStorageBuffer, vkapi.MemoryPropertyDeviceLocal, nil, nil)
	assert.Nil(t, buf)
	assert.ErrorIs(t, err, core.ErrExternal)
	assert.Equal(t, 0, drv.LiveBuffers())
	assert.Equal(t, 0, drv.LiveMemory())
}

func TestCreateBufferUnwindsOnAllocFailure(t *testing.T) {
	drv := vkfake.New()
	drv.MemoryTypeBits = 0x1
	ctx := newTestContext(t, drv)

	_, err := ctx.CreateBuffer(64, vkapi.BufferUsageStorageBuffer, hostMemory, nil, nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Equal(t, 0, drv.LiveBuffers())
}

func TestMapAndUnmapNonCoherentOnly(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	coherent, err := ctx.CreateBuffer(64, vkapi.BufferUsageTransferSrc, hostMemory, nil, nil)
	require.NoError(t, err)
	defer ctx.FreeBuffer(coherent)
	cached, err := ctx.CreateBuffer(64, vkapi.BufferUsageTransferSrc,
		vkapi.MemoryPropertyHostVisible|vkapi.MemoryPropertyHostCached, nil, nil)
	require.NoError(t, err)
	defer ctx.FreeBuffer(cached)
	require.False(t, cached.HostCoherent())

	bufs := []*VulkanBuffer{coherent, cached}
	require.NoError(t, ctx.MapBuffers(bufs, true))
	assert.True(t, drv.Mapped(coherent.Memory))
	assert.True(t, drv.Mapped(cached.Memory))
	assert.NotNil(t, coherent.Mapped)

	inv := drv.Invalidates()
	require.Len(t, inv, 1)
	assert.Equal(t, cached.Memory, inv[0].Memory)
	assert.Equal(t, vkapi.WholeSize, inv[0].Size)

	cached.Mapped[0] = 0xAB
	require.NoError(t, ctx.UnmapBuffers(bufs, true))
	flushes := drv.Flushes()
	require.Len(t, flushes, 1)
	assert.Equal(t, cached.Memory, flushes[0].Memory)
	assert.Equal(t, byte(0xAB), drv.MemoryData(cached.Memory)[0])
	assert.Nil(t, cached.Mapped)
	assert.False(t, drv.Mapped(cached.Memory))

	_, err = ctx.MapBuffer(coherent, true)
	require.NoError(t, err)
	assert.Len(t, drv.Invalidates(), 1, "coherent memory is never invalidated")
	require.NoError(t, ctx.UnmapBuffer(coherent, true))
	assert.Len(t, drv.Flushes(), 1, "coherent memory is never flushed")
}

func TestUnmapStillUnmapsWhenFlushFails(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	buf, err := ctx.CreateBuffer(64, vkapi.BufferUsageTransferSrc,
		vkapi.MemoryPropertyHostVisible|vkapi.MemoryPropertyHostCached, nil, nil)
	require.NoError(t, err)
	defer ctx.FreeBuffer(buf)

	_, err = ctx.MapBuffer(buf, false)
	require.NoError(t, err)

	drv.FailFlush = vkapi.ErrorDeviceLost
	err = ctx.UnmapBuffer(buf, true)
	assert.ErrorIs(t, err, core.ErrExternal)
	assert.Nil(t, buf.Mapped)
	assert.False(t, drv.Mapped(buf.Memory))
}

func TestInvalidatePooledBuffer(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	pool := NewBufferPool(ctx, vkapi.BufferUsageTransferDst,
		vkapi.MemoryPropertyHostVisible|vkapi.MemoryPropertyHostCached, 1)
	defer pool.Close()

	ref, err := pool.Get(64)
	require.NoError(t, err)
	defer ref.Unref()
	require.NotNil(t, ref.Buffer.Mapped)

	require.NoError(t, ctx.InvalidateBuffers([]*VulkanBuffer{ref.Buffer}))
	inv := drv.Invalidates()
	require.Len(t, inv, 1)
	assert.Equal(t, ref.Buffer.Memory, inv[0].Memory)

	require.NoError(t, ctx.FlushBuffers([]*VulkanBuffer{ref.Buffer}))
	assert.Len(t, drv.Flushes(), 1)
	assert.True(t, drv.Mapped(ref.Buffer.Memory), "invalidate and flush keep the mapping")

	drv.FailInvalidate = vkapi.ErrorDeviceLost
	assert.ErrorIs(t, ctx.InvalidateBuffers([]*VulkanBuffer{ref.Buffer}), core.ErrExternal)
}

func TestMapBufferFailure(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	buf, err := ctx.CreateBuffer(64, vkapi.BufferUsageTransferSrc, hostMemory, nil, nil)
	require.NoError(t, err)
	defer ctx.FreeBuffer(buf)

	drv.FailMapMemory = vkapi.ErrorMemoryMapFailed
	_, err = ctx.MapBuffer(buf, false)
	assert.ErrorIs(t, err, core.ErrExternal)
	assert.Nil(t, buf.Mapped)
}

func TestBufferRefLifecycle(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	buf, err := ctx.CreateBuffer(64, vkapi.BufferUsageStorageBuffer, vkapi.MemoryPropertyDeviceLocal, nil, nil)
	require.NoError(t, err)

	ref := ctx.NewOwnedBufferRef(buf)
	assert.Equal(t, int64(1), ref.RefCount())

	second := ref.Ref()
	require.Same(t, ref, second)
	assert.Equal(t, int64(2), ref.RefCount())

	second.Unref()
	assert.Equal(t, 1, drv.LiveBuffers())

	ref.Unref()
	assert.Equal(t, int64(0), ref.RefCount())
	assert.Equal(t, 0, drv.LiveBuffers())
	assert.Equal(t, 0, drv.LiveMemory())

	assert.Nil(t, ref.Ref(), "a released buffer cannot be revived")
	assert.Panics(t, ref.Unref)

	var nilRef *BufferRef
	assert.Nil(t, nilRef.Ref())
}

func TestBufferPoolReuse(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	pool := NewBufferPool(ctx, vkapi.BufferUsageStorageBuffer, hostMemory, 2)
	defer pool.Close()

	ref, err := pool.Get(100)
	require.NoError(t, err)
	first := ref.Buffer.Handle
	assert.NotNil(t, ref.Buffer.Mapped, "host visible pool buffers come back mapped")
	assert.GreaterOrEqual(t, uint64(len(ref.Buffer.Mapped)), uint64(100))

	ref.Unref()
	assert.Equal(t, 1, pool.Idle())

	// Smaller request reuses the idle buffer.
	ref, err = pool.Get(50)
	require.NoError(t, err)
	assert.Equal(t, first, ref.Buffer.Handle)
	assert.Len(t, drv.Allocations(), 1)
	assert.Equal(t, 0, pool.Idle())
	ref.Unref()

	// Larger request re-creates it.
	ref, err = pool.Get(1000)
	require.NoError(t, err)
	assert.NotEqual(t, first, ref.Buffer.Handle)
	assert.Equal(t, uint64(1000), ref.Buffer.Size)
	assert.Len(t, drv.Allocations(), 2)
	assert.Equal(t, 1, drv.LiveBuffers())
	assert.NotNil(t, ref.Buffer.Mapped)
	ref.Unref()
}

func TestBufferPoolCapacityAndClose(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	pool := NewBufferPool(ctx, vkapi.BufferUsageStorageBuffer, vkapi.MemoryPropertyDeviceLocal, 1)

	a, err := pool.Get(64)
	require.NoError(t, err)
	b, err := pool.Get(64)
	require.NoError(t, err)
	c, err := pool.Get(64)
	require.NoError(t, err)
	assert.Nil(t, a.Buffer.Mapped)
	assert.Equal(t, 3, drv.LiveBuffers())

	a.Unref()
	b.Unref()
	assert.Equal(t, 1, pool.Idle())
	assert.Equal(t, 2, drv.LiveBuffers())

	pool.Close()
	assert.Equal(t, 0, pool.Idle())
	assert.Equal(t, 1, drv.LiveBuffers())

	c.Unref()
	assert.Equal(t, 0, drv.LiveBuffers())
	assert.Equal(t, 0, drv.LiveMemory())
}

func TestBufferPoolCreateFailure(t *testing.T) {
	drv := vkfake.New()
	drv.FailCreateBuffer = vkapi.ErrorOutOfDeviceMemory
	ctx := newTestContext(t, drv)

	pool := NewBufferPool(ctx, vkapi.BufferUsageStorageBuffer, vkapi.MemoryPropertyDeviceLocal, 1)
	defer pool.Close()

	ref, err := pool.Get(64)
	assert.Nil(t, ref)
	assert.ErrorIs(t, err, core.ErrExternal)
	assert.Equal(t, 0, pool.Idle())
}

func TestBufferBarrierTracksState(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)
	exec := newTestPool(t, ctx, ExecPoolConfig{Contexts: 1})

	pool := NewBufferPool(ctx, vkapi.BufferUsageTransferDst, vkapi.MemoryPropertyDeviceLocal, 1)
	defer pool.Close()
	ref, err := pool.Get(64)
	require.NoError(t, err)
	defer ref.Unref()
	buf := ref.Buffer

	e := exec.Borrow()
	require.NoError(t, e.Start())
	ctx.BufferBarrier(e, buf, vkapi.PipelineStage2AllTransfer, vkapi.Access2TransferWrite)
	ctx.BufferBarrier(e, buf, vkapi.PipelineStage2Host, vkapi.Access2HostRead)

	cmds := drv.Commands(e.Buf.Handle)
	require.Len(t, cmds, 3)
	assert.Equal(t, fakeCmd("PipelineBarrier2", vkapi.DependencyInfo{
		BufferMemoryBarriers: []vkapi.BufferMemoryBarrier2{{
			SrcStageMask:        vkapi.PipelineStage2AllCommands,
			SrcAccessMask:       vkapi.Access2None,
			DstStageMask:        vkapi.PipelineStage2AllTransfer,
			DstAccessMask:       vkapi.Access2TransferWrite,
			SrcQueueFamilyIndex: vkapi.QueueFamilyIgnored,
			DstQueueFamilyIndex: vkapi.QueueFamilyIgnored,
			Buffer:              buf.Handle,
			Size:                vkapi.WholeSize,
		}},
	}), cmds[1])

	second := cmds[2].Args[0].(vkapi.DependencyInfo).BufferMemoryBarriers[0]
	assert.Equal(t, vkapi.PipelineStage2AllTransfer, second.SrcStageMask)
	assert.Equal(t, vkapi.Access2TransferWrite, second.SrcAccessMask)
	assert.Equal(t, vkapi.PipelineStage2Host, buf.Stage)
	assert.Equal(t, vkapi.Access2HostRead, buf.Access)

	require.NoError(t, e.Submit())
}
