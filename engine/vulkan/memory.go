package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// SelectMemoryType returns the lowest memory type index allowed by typeBits
// whose property flags contain flags. Memory types are listed optimal first
// by the driver, so the first match is the best one.
func SelectMemoryType(props vkapi.MemoryProperties, typeBits uint32, flags vkapi.MemoryPropertyFlags) (uint32, error) {
	for i, mt := range props.Types {
		// The memory type must be supported by the requirements (bitfield)
		if i >= 32 || typeBits&(1<<uint(i)) == 0 {
			continue
		}
		// The memory type flags must include our properties
		if flags != vkapi.MemoryPropertyDontCare && mt.PropertyFlags&flags != flags {
			continue
		}
		return uint32(i), nil
	}
	return 0, fmt.Errorf("no memory type found for flags 0x%x (type bits 0x%x): %w",
		uint32(flags), typeBits, core.ErrInvalidArgument)
}

// AllocMemory allocates device memory for req. It returns the memory and the
// property flags of the selected type. Host visible allocations are padded
// to the minimum map alignment.
func (c *VulkanContext) AllocMemory(req vkapi.MemoryRequirements, flags vkapi.MemoryPropertyFlags, allocNext []any) (vkapi.DeviceMemory, vkapi.MemoryPropertyFlags, error) {
	if flags != vkapi.MemoryPropertyDontCare && flags&vkapi.MemoryPropertyHostVisible != 0 {
		req.Size = AlignUp(req.Size, c.Properties.Limits.MinMemoryMapAlignment)
	}

	index, err := SelectMemoryType(c.MemoryProperties, req.MemoryTypeBits, flags)
	if err != nil {
		core.LogError(err.Error())
		return 0, 0, err
	}

	var mem vkapi.DeviceMemory
	err = c.lockPool.SafeCall(MemoryManagement, func() error {
		var res vkapi.Result
		mem, res = c.Driver.AllocateMemory(vkapi.MemoryAllocateInfo{
			AllocationSize:  req.Size,
			MemoryTypeIndex: index,
			Next:            allocNext,
		})
		if res != vkapi.Success {
			return fmt.Errorf("failed to allocate memory: %s: %w", res, core.ErrOutOfMemory)
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return 0, 0, err
	}

	return mem, c.MemoryProperties.Types[index].PropertyFlags, nil
}
