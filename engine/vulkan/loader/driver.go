package loader

import (
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// Driver implements vkapi.Driver on a goki/vulkan logical device. Vulkan
// handles are kept in registries and handed out as small integers.
//
// The bindings expose the Vulkan 1.0 entry points only. Submissions go
// through vkQueueSubmit with binary semaphores, barriers and timestamps
// through their legacy forms, and the descriptor buffer calls are inert.
type Driver struct {
	device vk.Device

	queues         *core.Registry[vk.Queue]
	commandPools   *core.Registry[vk.CommandPool]
	commandBuffers *core.Registry[vk.CommandBuffer]
	fences         *core.Registry[vk.Fence]
	semaphores     *core.Registry[vk.Semaphore]
	images         *core.Registry[vk.Image]
	queryPools     *core.Registry[vk.QueryPool]
	buffers        *core.Registry[vk.Buffer]
	memories       *core.Registry[vk.DeviceMemory]
	setLayouts     *core.Registry[vk.DescriptorSetLayout]
	layouts        *core.Registry[vk.PipelineLayout]
	modules        *core.Registry[vk.ShaderModule]
	pipelines      *core.Registry[vk.Pipeline]

	queueIDs map[[2]uint32]vkapi.Queue

	mu        sync.Mutex
	allocSize map[vkapi.DeviceMemory]uint64
}

func newDriver(device vk.Device) *Driver {
	return &Driver{
		device:         device,
		queues:         core.NewRegistry[vk.Queue](8),
		commandPools:   core.NewRegistry[vk.CommandPool](4),
		commandBuffers: core.NewRegistry[vk.CommandBuffer](32),
		fences:         core.NewRegistry[vk.Fence](32),
		semaphores:     core.NewRegistry[vk.Semaphore](8),
		images:         core.NewRegistry[vk.Image](8),
		queryPools:     core.NewRegistry[vk.QueryPool](4),
		buffers:        core.NewRegistry[vk.Buffer](64),
		memories:       core.NewRegistry[vk.DeviceMemory](64),
		setLayouts:     core.NewRegistry[vk.DescriptorSetLayout](8),
		layouts:        core.NewRegistry[vk.PipelineLayout](8),
		modules:        core.NewRegistry[vk.ShaderModule](8),
		pipelines:      core.NewRegistry[vk.Pipeline](8),
		queueIDs:       make(map[[2]uint32]vkapi.Queue),
		allocSize:      make(map[vkapi.DeviceMemory]uint64),
	}
}

// fetchQueues registers every queue of the families the device was
// created with.
func (d *Driver) fetchQueues(families []vkapi.QueueFamilyInfo) {
	for _, qf := range families {
		for i := uint32(0); i < qf.Count; i++ {
			var q vk.Queue
			vk.GetDeviceQueue(d.device, uint32(qf.Index), i, &q)
			d.queueIDs[[2]uint32{uint32(qf.Index), i}] = vkapi.Queue(d.queues.Acquire(q))
		}
	}
}

// ImportSemaphore registers a semaphore created outside of the driver so
// that frames can refer to it.
func (d *Driver) ImportSemaphore(sem vk.Semaphore) vkapi.Semaphore {
	return vkapi.Semaphore(d.semaphores.Acquire(sem))
}

func (d *Driver) ForgetSemaphore(sem vkapi.Semaphore) {
	d.semaphores.Release(uint64(sem))
}

// ImportImage registers an image created outside of the driver.
func (d *Driver) ImportImage(img vk.Image) vkapi.Image {
	return vkapi.Image(d.images.Acquire(img))
}

func (d *Driver) ForgetImage(img vkapi.Image) {
	d.images.Release(uint64(img))
}

func (d *Driver) GetDeviceQueue(family, index uint32) vkapi.Queue {
	return d.queueIDs[[2]uint32{family, index}]
}

func (d *Driver) CreateCommandPool(info vkapi.CommandPoolCreateInfo) (vkapi.CommandPool, vkapi.Result) {
	createInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: info.QueueFamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(info.Flags),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.device, &createInfo, nil, &pool); res != vk.Success {
		return 0, vkapi.Result(res)
	}
	return vkapi.CommandPool(d.commandPools.Acquire(pool)), vkapi.Success
}

func (d *Driver) DestroyCommandPool(pool vkapi.CommandPool) {
	if p, ok := d.commandPools.Get(uint64(pool)); ok {
		vk.DestroyCommandPool(d.device, p, nil)
		d.commandPools.Release(uint64(pool))
	}
}

func (d *Driver) AllocateCommandBuffers(pool vkapi.CommandPool, count uint32) ([]vkapi.CommandBuffer, vkapi.Result) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPools.MustGet(uint64(pool)),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	}
	handles := make([]vk.CommandBuffer, count)
	if res := vk.AllocateCommandBuffers(d.device, &allocateInfo, handles); res != vk.Success {
		return nil, vkapi.Result(res)
	}

	out := make([]vkapi.CommandBuffer, count)
	for i, h := range handles {
		out[i] = vkapi.CommandBuffer(d.commandBuffers.Acquire(h))
	}
	return out, vkapi.Success
}

func (d *Driver) FreeCommandBuffers(pool vkapi.CommandPool, buffers []vkapi.CommandBuffer) {
	p, ok := d.commandPools.Get(uint64(pool))
	if !ok {
		return
	}
	handles := make([]vk.CommandBuffer, 0, len(buffers))
	for _, cb := range buffers {
		if h, ok := d.commandBuffers.Get(uint64(cb)); ok {
			handles = append(handles, h)
			d.commandBuffers.Release(uint64(cb))
		}
	}
	if len(handles) > 0 {
		vk.FreeCommandBuffers(d.device, p, uint32(len(handles)), handles)
	}
}

func (d *Driver) BeginCommandBuffer(cb vkapi.CommandBuffer, flags vkapi.CommandBufferUsageFlags) vkapi.Result {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(flags),
	}
	return vkapi.Result(vk.BeginCommandBuffer(d.cmd(cb), &beginInfo))
}

func (d *Driver) EndCommandBuffer(cb vkapi.CommandBuffer) vkapi.Result {
	return vkapi.Result(vk.EndCommandBuffer(d.cmd(cb)))
}

func (d *Driver) cmd(cb vkapi.CommandBuffer) vk.CommandBuffer {
	return d.commandBuffers.MustGet(uint64(cb))
}

func (d *Driver) CreateFence(signaled bool) (vkapi.Fence, vkapi.Result) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if res := vk.CreateFence(d.device, &fenceCreateInfo, nil, &fence); res != vk.Success {
		return 0, vkapi.Result(res)
	}
	return vkapi.Fence(d.fences.Acquire(fence)), vkapi.Success
}

func (d *Driver) DestroyFence(fence vkapi.Fence) {
	if f, ok := d.fences.Get(uint64(fence)); ok {
		vk.DestroyFence(d.device, f, nil)
		d.fences.Release(uint64(fence))
	}
}

func (d *Driver) fenceHandles(fences []vkapi.Fence) []vk.Fence {
	out := make([]vk.Fence, len(fences))
	for i, f := range fences {
		out[i] = d.fences.MustGet(uint64(f))
	}
	return out
}

func (d *Driver) WaitForFences(fences []vkapi.Fence, waitAll bool, timeout uint64) vkapi.Result {
	all := vk.Bool32(vk.False)
	if waitAll {
		all = vk.True
	}
	return vkapi.Result(vk.WaitForFences(d.device, uint32(len(fences)), d.fenceHandles(fences), all, timeout))
}

func (d *Driver) ResetFences(fences []vkapi.Fence) vkapi.Result {
	return vkapi.Result(vk.ResetFences(d.device, uint32(len(fences)), d.fenceHandles(fences)))
}

func (d *Driver) GetFenceStatus(fence vkapi.Fence) vkapi.Result {
	return vkapi.Result(vk.GetFenceStatus(d.device, d.fences.MustGet(uint64(fence))))
}

// QueueSubmit2 submits through vkQueueSubmit. Timeline values travel in a
// VkTimelineSemaphoreSubmitInfo chained to each submit that carries any.
func (d *Driver) QueueSubmit2(queue vkapi.Queue, submits []vkapi.SubmitInfo2, fence vkapi.Fence) vkapi.Result {
	infos := make([]vk.SubmitInfo, len(submits))
	var chained []*vk.TimelineSemaphoreSubmitInfo
	defer func() {
		for _, ts := range chained {
			ts.Free()
		}
	}()
	for i, s := range submits {
		waits := make([]vk.Semaphore, len(s.WaitSemaphoreInfos))
		stages := make([]vk.PipelineStageFlags, len(s.WaitSemaphoreInfos))
		for j, w := range s.WaitSemaphoreInfos {
			waits[j] = d.semaphores.MustGet(uint64(w.Semaphore))
			stages[j] = vk.PipelineStageFlags(legacyStage(w.StageMask, false))
		}
		signals := make([]vk.Semaphore, len(s.SignalSemaphoreInfos))
		for j, sig := range s.SignalSemaphoreInfos {
			signals[j] = d.semaphores.MustGet(uint64(sig.Semaphore))
		}
		cmds := make([]vk.CommandBuffer, len(s.CommandBufferInfos))
		for j, c := range s.CommandBufferInfos {
			cmds[j] = d.cmd(c.CommandBuffer)
		}

		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(waits)),
			PWaitSemaphores:      waits,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(cmds)),
			PCommandBuffers:      cmds,
			SignalSemaphoreCount: uint32(len(signals)),
			PSignalSemaphores:    signals,
		}

		if waitValues, signalValues, ok := timelineValues(s); ok {
			ts := &vk.TimelineSemaphoreSubmitInfo{
				SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
				WaitSemaphoreValueCount:   uint32(len(waitValues)),
				PWaitSemaphoreValues:      waitValues,
				SignalSemaphoreValueCount: uint32(len(signalValues)),
				PSignalSemaphoreValues:    signalValues,
			}
			ref, _ := ts.PassRef()
			infos[i].PNext = unsafe.Pointer(ref)
			chained = append(chained, ts)
		}
	}

	var f vk.Fence
	if fence != 0 {
		f = d.fences.MustGet(uint64(fence))
	}
	return vkapi.Result(vk.QueueSubmit(d.queues.MustGet(uint64(queue)), uint32(len(infos)), infos, f))
}

func (d *Driver) CreateQueryPool(info vkapi.QueryPoolCreateInfo) (vkapi.QueryPool, vkapi.Result) {
	createInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryType(info.QueryType),
		QueryCount: info.QueryCount,
	}
	var pool vk.QueryPool
	if res := vk.CreateQueryPool(d.device, &createInfo, nil, &pool); res != vk.Success {
		return 0, vkapi.Result(res)
	}
	return vkapi.QueryPool(d.queryPools.Acquire(pool)), vkapi.Success
}

func (d *Driver) DestroyQueryPool(pool vkapi.QueryPool) {
	if p, ok := d.queryPools.Get(uint64(pool)); ok {
		vk.DestroyQueryPool(d.device, p, nil)
		d.queryPools.Release(uint64(pool))
	}
}

func (d *Driver) CmdResetQueryPool(cb vkapi.CommandBuffer, pool vkapi.QueryPool, first, count uint32) {
	vk.CmdResetQueryPool(d.cmd(cb), d.queryPools.MustGet(uint64(pool)), first, count)
}

func (d *Driver) CmdWriteTimestamp2(cb vkapi.CommandBuffer, stage vkapi.PipelineStageFlags2, pool vkapi.QueryPool, query uint32) {
	vk.CmdWriteTimestamp(d.cmd(cb), vk.PipelineStageFlagBits(timestampStage(stage)), d.queryPools.MustGet(uint64(pool)), query)
}

func (d *Driver) GetQueryPoolResults(pool vkapi.QueryPool, first, count uint32, data []byte, stride uint64, flags vkapi.QueryResultFlags) vkapi.Result {
	if len(data) == 0 {
		return vkapi.Success
	}
	return vkapi.Result(vk.GetQueryPoolResults(d.device, d.queryPools.MustGet(uint64(pool)), first, count,
		uint64(len(data)), unsafe.Pointer(&data[0]), vk.DeviceSize(stride), vk.QueryResultFlags(flags)))
}

func (d *Driver) CreateBuffer(info vkapi.BufferCreateInfo) (vkapi.Buffer, vkapi.Result) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       vk.BufferUsageFlags(info.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buf vk.Buffer
	if res := vk.CreateBuffer(d.device, &createInfo, nil, &buf); res != vk.Success {
		return 0, vkapi.Result(res)
	}
	return vkapi.Buffer(d.buffers.Acquire(buf)), vkapi.Success
}

func (d *Driver) DestroyBuffer(buf vkapi.Buffer) {
	if b, ok := d.buffers.Get(uint64(buf)); ok {
		vk.DestroyBuffer(d.device, b, nil)
		d.buffers.Release(uint64(buf))
	}
}

// GetBufferMemoryRequirements2 never reports a dedicated allocation
// preference, vkGetBufferMemoryRequirements has no way to ask for one.
func (d *Driver) GetBufferMemoryRequirements2(buf vkapi.Buffer) (vkapi.MemoryRequirements, vkapi.MemoryDedicatedRequirements) {
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, d.buffers.MustGet(uint64(buf)), &req)
	req.Deref()
	return vkapi.MemoryRequirements{
		Size:           uint64(req.Size),
		Alignment:      uint64(req.Alignment),
		MemoryTypeBits: req.MemoryTypeBits,
	}, vkapi.MemoryDedicatedRequirements{}
}

func (d *Driver) GetBufferDeviceAddress(buf vkapi.Buffer) vkapi.DeviceAddress {
	return 0
}

func (d *Driver) AllocateMemory(info vkapi.MemoryAllocateInfo) (vkapi.DeviceMemory, vkapi.Result) {
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(info.AllocationSize),
		MemoryTypeIndex: info.MemoryTypeIndex,
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(d.device, &allocateInfo, nil, &mem); res != vk.Success {
		return 0, vkapi.Result(res)
	}
	id := vkapi.DeviceMemory(d.memories.Acquire(mem))

	d.mu.Lock()
	d.allocSize[id] = info.AllocationSize
	d.mu.Unlock()
	return id, vkapi.Success
}

func (d *Driver) FreeMemory(mem vkapi.DeviceMemory) {
	if m, ok := d.memories.Get(uint64(mem)); ok {
		vk.FreeMemory(d.device, m, nil)
		d.memories.Release(uint64(mem))

		d.mu.Lock()
		delete(d.allocSize, mem)
		d.mu.Unlock()
	}
}

func (d *Driver) BindBufferMemory(buf vkapi.Buffer, mem vkapi.DeviceMemory, offset uint64) vkapi.Result {
	return vkapi.Result(vk.BindBufferMemory(d.device, d.buffers.MustGet(uint64(buf)), d.memories.MustGet(uint64(mem)), vk.DeviceSize(offset)))
}

func (d *Driver) MapMemory(mem vkapi.DeviceMemory, offset, size uint64) ([]byte, vkapi.Result) {
	d.mu.Lock()
	allocSize := d.allocSize[mem]
	d.mu.Unlock()

	length, err := mappedLength(allocSize, offset, size)
	if err != nil {
		core.LogError(err.Error())
		return nil, vkapi.ErrorMemoryMapFailed
	}

	var pData unsafe.Pointer
	if res := vk.MapMemory(d.device, d.memories.MustGet(uint64(mem)), vk.DeviceSize(offset), vk.DeviceSize(size), 0, &pData); res != vk.Success {
		return nil, vkapi.Result(res)
	}
	return unsafe.Slice((*byte)(pData), length), vkapi.Success
}

func (d *Driver) UnmapMemory(mem vkapi.DeviceMemory) {
	vk.UnmapMemory(d.device, d.memories.MustGet(uint64(mem)))
}

func (d *Driver) memoryRanges(ranges []vkapi.MappedMemoryRange) []vk.MappedMemoryRange {
	out := make([]vk.MappedMemoryRange, len(ranges))
	for i, r := range ranges {
		out[i] = vk.MappedMemoryRange{
			SType:  vk.StructureTypeMappedMemoryRange,
			Memory: d.memories.MustGet(uint64(r.Memory)),
			Offset: vk.DeviceSize(r.Offset),
			Size:   vk.DeviceSize(r.Size),
		}
	}
	return out
}

func (d *Driver) FlushMappedMemoryRanges(ranges []vkapi.MappedMemoryRange) vkapi.Result {
	return vkapi.Result(vk.FlushMappedMemoryRanges(d.device, uint32(len(ranges)), d.memoryRanges(ranges)))
}

func (d *Driver) InvalidateMappedMemoryRanges(ranges []vkapi.MappedMemoryRange) vkapi.Result {
	return vkapi.Result(vk.InvalidateMappedMemoryRanges(d.device, uint32(len(ranges)), d.memoryRanges(ranges)))
}

// CreateDescriptorSetLayout drops the descriptor buffer flag, which the
// device was not created with.
func (d *Driver) CreateDescriptorSetLayout(info vkapi.DescriptorSetLayoutCreateInfo) (vkapi.DescriptorSetLayout, vkapi.Result) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(info.Bindings))
	for i, b := range info.Bindings {
		// Samplers are not tracked by this driver.
		if len(b.ImmutableSamplers) > 0 {
			return 0, vkapi.ErrorFeatureNotPresent
		}
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.DescriptorType),
			DescriptorCount: b.DescriptorCount,
			StageFlags:      vk.ShaderStageFlags(b.StageFlags),
		}
	}

	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		Flags:        vk.DescriptorSetLayoutCreateFlags(info.Flags &^ vkapi.DescriptorSetLayoutCreateDescriptorBuffer),
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(d.device, &createInfo, nil, &layout); res != vk.Success {
		return 0, vkapi.Result(res)
	}
	return vkapi.DescriptorSetLayout(d.setLayouts.Acquire(layout)), vkapi.Success
}

func (d *Driver) DestroyDescriptorSetLayout(layout vkapi.DescriptorSetLayout) {
	if l, ok := d.setLayouts.Get(uint64(layout)); ok {
		vk.DestroyDescriptorSetLayout(d.device, l, nil)
		d.setLayouts.Release(uint64(layout))
	}
}

func (d *Driver) GetDescriptorSetLayoutSize(layout vkapi.DescriptorSetLayout) uint64 {
	return 0
}

func (d *Driver) GetDescriptorSetLayoutBindingOffset(layout vkapi.DescriptorSetLayout, binding uint32) uint64 {
	return 0
}

func (d *Driver) GetDescriptor(info vkapi.DescriptorGetInfo, dst []byte) {}

func (d *Driver) CreatePipelineLayout(info vkapi.PipelineLayoutCreateInfo) (vkapi.PipelineLayout, vkapi.Result) {
	setLayouts := make([]vk.DescriptorSetLayout, len(info.SetLayouts))
	for i, l := range info.SetLayouts {
		setLayouts[i] = d.setLayouts.MustGet(uint64(l))
	}
	ranges := make([]vk.PushConstantRange, len(info.PushConstantRanges))
	for i, r := range info.PushConstantRanges {
		ranges[i] = vk.PushConstantRange{
			StageFlags: vk.ShaderStageFlags(r.StageFlags),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}

	createInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var layout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(d.device, &createInfo, nil, &layout); res != vk.Success {
		return 0, vkapi.Result(res)
	}
	return vkapi.PipelineLayout(d.layouts.Acquire(layout)), vkapi.Success
}

func (d *Driver) DestroyPipelineLayout(layout vkapi.PipelineLayout) {
	if l, ok := d.layouts.Get(uint64(layout)); ok {
		vk.DestroyPipelineLayout(d.device, l, nil)
		d.layouts.Release(uint64(layout))
	}
}

func (d *Driver) CreateShaderModule(code []uint32) (vkapi.ShaderModule, vkapi.Result) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(d.device, &createInfo, nil, &module); res != vk.Success {
		return 0, vkapi.Result(res)
	}
	return vkapi.ShaderModule(d.modules.Acquire(module)), vkapi.Success
}

func (d *Driver) DestroyShaderModule(module vkapi.ShaderModule) {
	if m, ok := d.modules.Get(uint64(module)); ok {
		vk.DestroyShaderModule(d.device, m, nil)
		d.modules.Release(uint64(module))
	}
}

func (d *Driver) CreateComputePipeline(info vkapi.ComputePipelineCreateInfo) (vkapi.Pipeline, vkapi.Result) {
	createInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Flags: vk.PipelineCreateFlags(info.Flags &^ vkapi.PipelineCreateDescriptorBuffer),
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(info.Stage.Stage),
			Module: d.modules.MustGet(uint64(info.Stage.Module)),
			PName:  safeString(info.Stage.Name),
		},
		Layout:             d.layouts.MustGet(uint64(info.Layout)),
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(d.device, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{createInfo}, nil, pipelines); res != vk.Success {
		return 0, vkapi.Result(res)
	}
	return vkapi.Pipeline(d.pipelines.Acquire(pipelines[0])), vkapi.Success
}

func (d *Driver) DestroyPipeline(pipeline vkapi.Pipeline) {
	if p, ok := d.pipelines.Get(uint64(pipeline)); ok {
		vk.DestroyPipeline(d.device, p, nil)
		d.pipelines.Release(uint64(pipeline))
	}
}

func (d *Driver) CmdBindPipeline(cb vkapi.CommandBuffer, bindPoint vkapi.PipelineBindPoint, pipeline vkapi.Pipeline) {
	vk.CmdBindPipeline(d.cmd(cb), vk.PipelineBindPoint(bindPoint), d.pipelines.MustGet(uint64(pipeline)))
}

func (d *Driver) CmdBindDescriptorBuffers(cb vkapi.CommandBuffer, infos []vkapi.DescriptorBufferBindingInfo) {}

func (d *Driver) CmdSetDescriptorBufferOffsets(cb vkapi.CommandBuffer, bindPoint vkapi.PipelineBindPoint, layout vkapi.PipelineLayout, firstSet uint32, indices []uint32, offsets []uint64) {
}

func (d *Driver) CmdPushConstants(cb vkapi.CommandBuffer, layout vkapi.PipelineLayout, stages vkapi.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(d.cmd(cb), d.layouts.MustGet(uint64(layout)), vk.ShaderStageFlags(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

// CmdPipelineBarrier2 records one vkCmdPipelineBarrier covering the union
// of the source and destination stages of all barriers.
func (d *Driver) CmdPipelineBarrier2(cb vkapi.CommandBuffer, dep vkapi.DependencyInfo) {
	bufBars := make([]vk.BufferMemoryBarrier, len(dep.BufferMemoryBarriers))
	for i, b := range dep.BufferMemoryBarriers {
		bufBars[i] = vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(legacyAccess(b.SrcAccessMask)),
			DstAccessMask:       vk.AccessFlags(legacyAccess(b.DstAccessMask)),
			SrcQueueFamilyIndex: b.SrcQueueFamilyIndex,
			DstQueueFamilyIndex: b.DstQueueFamilyIndex,
			Buffer:              d.buffers.MustGet(uint64(b.Buffer)),
			Offset:              vk.DeviceSize(b.Offset),
			Size:                vk.DeviceSize(b.Size),
		}
	}

	imgBars := make([]vk.ImageMemoryBarrier, len(dep.ImageMemoryBarriers))
	for i, b := range dep.ImageMemoryBarriers {
		imgBars[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(legacyAccess(b.SrcAccessMask)),
			DstAccessMask:       vk.AccessFlags(legacyAccess(b.DstAccessMask)),
			OldLayout:           vk.ImageLayout(b.OldLayout),
			NewLayout:           vk.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: b.SrcQueueFamilyIndex,
			DstQueueFamilyIndex: b.DstQueueFamilyIndex,
			Image:               d.images.MustGet(uint64(b.Image)),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(b.SubresourceRange.AspectMask),
				BaseMipLevel:   b.SubresourceRange.BaseMipLevel,
				LevelCount:     b.SubresourceRange.LevelCount,
				BaseArrayLayer: b.SubresourceRange.BaseArrayLayer,
				LayerCount:     b.SubresourceRange.LayerCount,
			},
		}
	}

	src, dst := barrierStages(dep)
	vk.CmdPipelineBarrier(d.cmd(cb), vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		0, nil,
		uint32(len(bufBars)), bufBars,
		uint32(len(imgBars)), imgBars)
}

func (d *Driver) CmdDispatch(cb vkapi.CommandBuffer, x, y, z uint32) {
	vk.CmdDispatch(d.cmd(cb), x, y, z)
}

func (d *Driver) CmdFillBuffer(cb vkapi.CommandBuffer, buf vkapi.Buffer, offset, size uint64, data uint32) {
	vk.CmdFillBuffer(d.cmd(cb), d.buffers.MustGet(uint64(buf)), vk.DeviceSize(offset), vk.DeviceSize(size), data)
}

func (d *Driver) CmdCopyBuffer(cb vkapi.CommandBuffer, src, dst vkapi.Buffer, regions []vkapi.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(d.cmd(cb), d.buffers.MustGet(uint64(src)), d.buffers.MustGet(uint64(dst)), uint32(len(copies)), copies)
}

// WaitIdle blocks until the device finished all submitted work.
func (d *Driver) WaitIdle() vkapi.Result {
	return vkapi.Result(vk.DeviceWaitIdle(d.device))
}

var _ vkapi.Driver = (*Driver)(nil)
