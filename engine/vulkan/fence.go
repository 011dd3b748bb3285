package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

type VulkanFence struct {
	Handle vkapi.Fence
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	handle, res := context.Driver.CreateFence(createSignaled)
	if res != vkapi.Success {
		err := fmt.Errorf("failed to create fence: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanFence{Handle: handle}, nil
}

func (vf *VulkanFence) Destroy(context *VulkanContext) {
	if vf.Handle != 0 {
		context.Driver.DestroyFence(vf.Handle)
		vf.Handle = 0
	}
}

// Wait blocks until the fence is signaled or timeoutNs elapses.
func (vf *VulkanFence) Wait(context *VulkanContext, timeoutNs uint64) bool {
	result := context.Driver.WaitForFences([]vkapi.Fence{vf.Handle}, true, timeoutNs)
	switch result {
	case vkapi.Success:
		return true
	case vkapi.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vkapi.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	case vkapi.ErrorOutOfHostMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_HOST_MEMORY.")
	case vkapi.ErrorOutOfDeviceMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_DEVICE_MEMORY.")
	default:
		core.LogError("vk_fence_wait - %s", result.Describe())
	}
	return false
}

func (vf *VulkanFence) Signaled(context *VulkanContext) bool {
	return context.Driver.GetFenceStatus(vf.Handle) == vkapi.Success
}

func (vf *VulkanFence) Reset(context *VulkanContext) error {
	if res := context.Driver.ResetFences([]vkapi.Fence{vf.Handle}); res != vkapi.Success {
		err := fmt.Errorf("failed to reset fence: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return err
	}
	return nil
}
