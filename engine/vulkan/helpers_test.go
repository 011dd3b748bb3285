package vulkan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkfake"
)

const allExtensions = vkapi.ExtTimelineSemaphore | vkapi.ExtSynchronization2 |
	vkapi.ExtBufferDeviceAddress | vkapi.ExtDescriptorBuffer

func newTestContext(t *testing.T, drv *vkfake.Driver) *VulkanContext {
	t.Helper()

	ctx, err := NewVulkanContext(VulkanContextCreateInfo{
		Driver:           drv,
		Properties:       drv.Properties(),
		MemoryProperties: vkfake.DefaultMemoryProperties(),
		Extensions:       allExtensions,
		QueueFamilies: map[vkapi.QueueFlags]vkapi.QueueFamilyInfo{
			vkapi.QueueGraphics:    {Index: 0, Count: 1},
			vkapi.QueueTransfer:    {Index: 1, Count: 2},
			vkapi.QueueCompute:     {Index: 0, Count: 1},
			vkapi.QueueVideoDecode: {Index: 2, Count: 1},
		},
	})
	require.NoError(t, err)
	return ctx
}

func newTestPool(t *testing.T, ctx *VulkanContext, cfg ExecPoolConfig) *VulkanExecPool {
	t.Helper()

	pool, err := NewExecPool(ctx, ctx.NewQueueFamilyCtx(vkapi.QueueCompute), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Free)
	return pool
}

const (
	shortTimeout = 50 * time.Millisecond
	testTimeout  = 2 * time.Second
)

// within runs fn in a goroutine and reports whether it returned before d.
func within(d time.Duration, fn func()) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
