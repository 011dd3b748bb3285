package vkapi

// Driver is the function table of a logical device. The platform loader
// provides the real implementation, tests use an in-memory one.
//
// Calls follow the Vulkan external synchronization rules: the caller
// serializes access to a queue and to the command buffers of one pool.
type Driver interface {
	GetDeviceQueue(family, index uint32) Queue

	CreateCommandPool(info CommandPoolCreateInfo) (CommandPool, Result)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffers(pool CommandPool, count uint32) ([]CommandBuffer, Result)
	FreeCommandBuffers(pool CommandPool, buffers []CommandBuffer)
	BeginCommandBuffer(cb CommandBuffer, flags CommandBufferUsageFlags) Result
	EndCommandBuffer(cb CommandBuffer) Result

	CreateFence(signaled bool) (Fence, Result)
	DestroyFence(fence Fence)
	WaitForFences(fences []Fence, waitAll bool, timeout uint64) Result
	ResetFences(fences []Fence) Result
	GetFenceStatus(fence Fence) Result

	QueueSubmit2(queue Queue, submits []SubmitInfo2, fence Fence) Result

	CreateQueryPool(info QueryPoolCreateInfo) (QueryPool, Result)
	DestroyQueryPool(pool QueryPool)
	CmdResetQueryPool(cb CommandBuffer, pool QueryPool, first, count uint32)
	CmdWriteTimestamp2(cb CommandBuffer, stage PipelineStageFlags2, pool QueryPool, query uint32)
	GetQueryPoolResults(pool QueryPool, first, count uint32, data []byte, stride uint64, flags QueryResultFlags) Result

	CreateBuffer(info BufferCreateInfo) (Buffer, Result)
	DestroyBuffer(buf Buffer)
	GetBufferMemoryRequirements2(buf Buffer) (MemoryRequirements, MemoryDedicatedRequirements)
	GetBufferDeviceAddress(buf Buffer) DeviceAddress
	AllocateMemory(info MemoryAllocateInfo) (DeviceMemory, Result)
	FreeMemory(mem DeviceMemory)
	BindBufferMemory(buf Buffer, mem DeviceMemory, offset uint64) Result
	MapMemory(mem DeviceMemory, offset, size uint64) ([]byte, Result)
	UnmapMemory(mem DeviceMemory)
	FlushMappedMemoryRanges(ranges []MappedMemoryRange) Result
	InvalidateMappedMemoryRanges(ranges []MappedMemoryRange) Result

	CreateDescriptorSetLayout(info DescriptorSetLayoutCreateInfo) (DescriptorSetLayout, Result)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	GetDescriptorSetLayoutSize(layout DescriptorSetLayout) uint64
	GetDescriptorSetLayoutBindingOffset(layout DescriptorSetLayout, binding uint32) uint64
	GetDescriptor(info DescriptorGetInfo, dst []byte)

	CreatePipelineLayout(info PipelineLayoutCreateInfo) (PipelineLayout, Result)
	DestroyPipelineLayout(layout PipelineLayout)
	CreateShaderModule(code []uint32) (ShaderModule, Result)
	DestroyShaderModule(module ShaderModule)
	CreateComputePipeline(info ComputePipelineCreateInfo) (Pipeline, Result)
	DestroyPipeline(pipeline Pipeline)

	CmdBindPipeline(cb CommandBuffer, bindPoint PipelineBindPoint, pipeline Pipeline)
	CmdBindDescriptorBuffers(cb CommandBuffer, infos []DescriptorBufferBindingInfo)
	CmdSetDescriptorBufferOffsets(cb CommandBuffer, bindPoint PipelineBindPoint, layout PipelineLayout, firstSet uint32, indices []uint32, offsets []uint64)
	CmdPushConstants(cb CommandBuffer, layout PipelineLayout, stages ShaderStageFlags, offset uint32, data []byte)
	CmdPipelineBarrier2(cb CommandBuffer, dep DependencyInfo)
	CmdDispatch(cb CommandBuffer, x, y, z uint32)
	CmdFillBuffer(cb CommandBuffer, buf Buffer, offset, size uint64, data uint32)
	CmdCopyBuffer(cb CommandBuffer, src, dst Buffer, regions []BufferCopy)
}

// QueueLocker serializes submissions to one (family, index) queue. It is
// supplied by the owner of the device so that other users of the same
// device can share the queues.
type QueueLocker interface {
	LockQueue(family, index uint32)
	UnlockQueue(family, index uint32)
}
