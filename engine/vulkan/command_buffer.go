package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording_ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	}
	return "not_allocated"
}

type VulkanCommandBuffer struct {
	Handle vkapi.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

// allocateCommandBuffers allocates count primary command buffers from pool.
func allocateCommandBuffers(context *VulkanContext, pool vkapi.CommandPool, count int) ([]*VulkanCommandBuffer, error) {
	handles, res := context.Driver.AllocateCommandBuffers(pool, uint32(count))
	if res != vkapi.Success {
		err := fmt.Errorf("failed to allocate command buffers: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return nil, err
	}

	out := make([]*VulkanCommandBuffer, len(handles))
	for i, h := range handles {
		out[i] = &VulkanCommandBuffer{
			Handle: h,
			State:  COMMAND_BUFFER_STATE_READY,
		}
	}
	return out, nil
}

func (v *VulkanCommandBuffer) Begin(context *VulkanContext, isSingleUse bool) error {
	var flags vkapi.CommandBufferUsageFlags
	if isSingleUse {
		flags |= vkapi.CommandBufferUsageOneTimeSubmit
	}

	if res := context.Driver.BeginCommandBuffer(v.Handle, flags); res != vkapi.Success {
		err := fmt.Errorf("failed to start command recording: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End(context *VulkanContext) error {
	if res := context.Driver.EndCommandBuffer(v.Handle); res != vkapi.Success {
		err := fmt.Errorf("unable to finish command buffer: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}
