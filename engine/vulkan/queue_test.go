package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkfake"
)

func TestQueueFamiliesAreDistinctAndOrdered(t *testing.T) {
	ctx := newTestContext(t, vkfake.New())

	// graphics, transfer, compute (same as graphics), decode
	assert.Equal(t, []uint32{0, 1, 2}, ctx.QueueFamilies())

	family, count := ctx.QueueFamily(vkapi.QueueTransfer)
	assert.Equal(t, uint32(1), family)
	assert.Equal(t, uint32(2), count)
}

func TestQueueFamilyMissingPurposePanics(t *testing.T) {
	ctx := newTestContext(t, vkfake.New())

	assert.False(t, ctx.HasQueueFamily(vkapi.QueueVideoEncode))
	assert.Panics(t, func() { ctx.QueueFamily(vkapi.QueueVideoEncode) })
}

func TestExecContextsSpreadOverQueues(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	pool, err := NewExecPool(ctx, ctx.NewQueueFamilyCtx(vkapi.QueueTransfer), ExecPoolConfig{Contexts: 3})
	require.NoError(t, err)
	defer pool.Free()

	for i, want := range []uint32{0, 1, 0} {
		e := pool.Context(i)
		assert.Equal(t, uint32(1), e.QueueFamily)
		assert.Equal(t, want, e.QueueIndex)
		assert.Equal(t, drv.GetDeviceQueue(1, want), e.Queue)
	}
}

func TestNewVulkanContextNeedsDriver(t *testing.T) {
	_, err := NewVulkanContext(VulkanContextCreateInfo{})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

type countingLocker struct {
	locks, unlocks int
	last           [2]uint32
}

func (l *countingLocker) LockQueue(family, index uint32) {
	l.locks++
	l.last = [2]uint32{family, index}
}

func (l *countingLocker) UnlockQueue(family, index uint32) {
	l.unlocks++
}

func TestSubmitUsesInjectedQueueLocker(t *testing.T) {
	ctx := newTestContext(t, vkfake.New())
	locker := &countingLocker{}

	pool, err := NewExecPool(ctx, ctx.NewQueueFamilyCtx(vkapi.QueueTransfer), ExecPoolConfig{
		Contexts: 2,
		Locker:   locker,
	})
	require.NoError(t, err)
	defer pool.Free()

	pool.Borrow()
	e := pool.Borrow()
	require.NoError(t, e.Start())
	require.NoError(t, e.Submit())

	assert.Equal(t, 1, locker.locks)
	assert.Equal(t, 1, locker.unlocks)
	assert.Equal(t, [2]uint32{1, 1}, locker.last)
}

func TestLockPoolSerializesPerQueue(t *testing.T) {
	lp := NewVulkanLockPool()

	lp.LockQueue(0, 0)
	// A different queue of the same family is independent.
	assert.True(t, within(testTimeout, func() {
		lp.LockQueue(0, 1)
		lp.UnlockQueue(0, 1)
	}))
	assert.False(t, within(shortTimeout, func() {
		lp.LockQueue(0, 0)
		lp.UnlockQueue(0, 0)
	}))
	lp.UnlockQueue(0, 0)

	called := false
	require.NoError(t, lp.SafeCall(PipelineManagement, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
