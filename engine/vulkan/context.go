package vulkan

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// VulkanContextCreateInfo is what the platform loader hands over once the
// logical device exists.
type VulkanContextCreateInfo struct {
	Driver           vkapi.Driver
	Properties       vkapi.PhysicalDeviceProperties
	MemoryProperties vkapi.MemoryProperties
	Extensions       vkapi.Extensions
	// QueueFamilies maps a queue purpose (a single vkapi.QueueFlags bit) to
	// the family advertised for it. Missing purposes are not available.
	QueueFamilies map[vkapi.QueueFlags]vkapi.QueueFamilyInfo
	// Locker serializes queue submissions. A private lock pool is used when
	// nil.
	Locker vkapi.QueueLocker
}

// VulkanContext is the device-level state shared by pools, buffers and
// pipelines. It is immutable after creation apart from the lazily built
// queue family table.
type VulkanContext struct {
	Driver           vkapi.Driver
	Properties       vkapi.PhysicalDeviceProperties
	MemoryProperties vkapi.MemoryProperties
	Extensions       vkapi.Extensions
	Locker           vkapi.QueueLocker

	queueFamilies map[vkapi.QueueFlags]vkapi.QueueFamilyInfo

	qfOnce  sync.Once
	qfTable []uint32

	lockPool *VulkanLockPool
}

func NewVulkanContext(info VulkanContextCreateInfo) (*VulkanContext, error) {
	if info.Driver == nil {
		return nil, fmt.Errorf("vulkan context without a driver: %w", core.ErrInvalidArgument)
	}

	context := &VulkanContext{
		Driver:           info.Driver,
		Properties:       info.Properties,
		MemoryProperties: info.MemoryProperties,
		Extensions:       info.Extensions,
		Locker:           info.Locker,
		queueFamilies:    make(map[vkapi.QueueFlags]vkapi.QueueFamilyInfo, len(info.QueueFamilies)),
		lockPool:         NewVulkanLockPool(),
	}
	for purpose, qf := range info.QueueFamilies {
		context.queueFamilies[purpose] = qf
	}
	if context.Locker == nil {
		context.Locker = context.lockPool
	}

	core.LogDebug("vulkan context created for '%s' (extensions=0x%x, memory types=%d)",
		info.Properties.DeviceName, uint64(info.Extensions), len(info.MemoryProperties.Types))

	return context, nil
}

// LockPool returns the context's own lock pool, used for object creation
// groups and as the default queue locker.
func (c *VulkanContext) LockPool() *VulkanLockPool {
	return c.lockPool
}
