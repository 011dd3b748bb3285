package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// queuePurposes is the insertion order of the queue family table.
var queuePurposes = []vkapi.QueueFlags{
	vkapi.QueueGraphics,
	vkapi.QueueTransfer,
	vkapi.QueueCompute,
	vkapi.QueueVideoDecode,
	vkapi.QueueVideoEncode,
}

// QueueFamilyCtx selects the queue family a pool submits to.
type QueueFamilyCtx struct {
	Family    uint32
	NumQueues uint32
}

// QueueFamily returns the family index and queue count advertised for the
// purpose. Asking for a purpose the device does not support is a
// programming error and panics.
func (c *VulkanContext) QueueFamily(purpose vkapi.QueueFlags) (uint32, uint32) {
	c.buildQueueFamilyTable()

	qf, ok := c.queueFamilies[purpose]
	if !ok || qf.Index < 0 {
		panic(fmt.Sprintf("vulkan: no queue family for purpose 0x%x", uint32(purpose)))
	}
	return uint32(qf.Index), qf.Count
}

// HasQueueFamily reports whether the device advertised a family for purpose.
func (c *VulkanContext) HasQueueFamily(purpose vkapi.QueueFlags) bool {
	qf, ok := c.queueFamilies[purpose]
	return ok && qf.Index >= 0
}

// QueueFamilies returns the distinct family indices in purpose order.
func (c *VulkanContext) QueueFamilies() []uint32 {
	c.buildQueueFamilyTable()

	out := make([]uint32, len(c.qfTable))
	copy(out, c.qfTable)
	return out
}

func (c *VulkanContext) NewQueueFamilyCtx(purpose vkapi.QueueFlags) QueueFamilyCtx {
	family, count := c.QueueFamily(purpose)
	return QueueFamilyCtx{
		Family:    family,
		NumQueues: count,
	}
}

func (c *VulkanContext) buildQueueFamilyTable() {
	c.qfOnce.Do(func() {
		for _, purpose := range queuePurposes {
			qf, ok := c.queueFamilies[purpose]
			if !ok || qf.Index < 0 {
				continue
			}
			idx := uint32(qf.Index)
			dup := false
			for _, have := range c.qfTable {
				if have == idx {
					dup = true
					break
				}
			}
			if !dup {
				c.qfTable = append(c.qfTable, idx)
			}
		}
	})
}
