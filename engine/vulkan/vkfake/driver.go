// Package vkfake is an in-memory vkapi.Driver. It emulates fences, memory,
// mapping and descriptor buffer layouts well enough to drive the execution
// layer without a GPU, and records every call for inspection.
package vkfake

import (
	"encoding/binary"
	"sync"

	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// Command is one recorded command buffer command.
type Command struct {
	Name string
	Args []any
}

// Submission is one recorded queue submission.
type Submission struct {
	Queue vkapi.Queue
	Info  vkapi.SubmitInfo2
	Fence vkapi.Fence
}

type fence struct {
	signaled bool
	pending  bool
}

type buffer struct {
	info   vkapi.BufferCreateInfo
	memory vkapi.DeviceMemory
}

type memory struct {
	info   vkapi.MemoryAllocateInfo
	data   []byte
	mapped bool
}

type layout struct {
	info    vkapi.DescriptorSetLayoutCreateInfo
	offsets []uint64
	size    uint64
}

// Driver is the fake. Configure the exported fields before use; read the
// recorded state through the accessor methods.
type Driver struct {
	// HoldFences keeps submitted fences unsignaled until Complete.
	HoldFences bool
	// Memory allocation requirements reported for every buffer.
	MemoryTypeBits uint32
	Alignment      uint64
	// Dedicated allocation hints reported for every buffer.
	PrefersDedicated  bool
	RequiresDedicated bool
	// DescriptorSizes is used to lay out descriptor set layouts.
	DescriptorSizes vkapi.DescriptorBufferProperties

	// Failure injection. Zero means success.
	FailCreateCommandPool vkapi.Result
	FailAllocateCmdBufs   vkapi.Result
	FailCreateQueryPool   vkapi.Result
	FailCreateFence       vkapi.Result
	FailBegin             vkapi.Result
	FailEnd               vkapi.Result
	FailSubmit            vkapi.Result
	FailCreateBuffer      vkapi.Result
	FailAllocateMemory    vkapi.Result
	FailBindMemory        vkapi.Result
	FailMapMemory         vkapi.Result
	FailFlush             vkapi.Result
	FailInvalidate        vkapi.Result
	FailCreateLayout      vkapi.Result
	FailCreatePipeline    vkapi.Result
	// QueryResult is returned by GetQueryPoolResults when not Success.
	QueryResult vkapi.Result

	mu   sync.Mutex
	cond *sync.Cond
	next uint64

	fences       map[vkapi.Fence]*fence
	cmdPools     map[vkapi.CommandPool][]vkapi.CommandBuffer
	commands     map[vkapi.CommandBuffer][]Command
	recording    map[vkapi.CommandBuffer]bool
	queryPools   map[vkapi.QueryPool]vkapi.QueryPoolCreateInfo
	queryValues  map[vkapi.QueryPool][]uint64
	buffers      map[vkapi.Buffer]*buffer
	memories     map[vkapi.DeviceMemory]*memory
	layouts      map[vkapi.DescriptorSetLayout]*layout
	pipeLayouts  map[vkapi.PipelineLayout]vkapi.PipelineLayoutCreateInfo
	shaders      map[vkapi.ShaderModule][]uint32
	pipelines    map[vkapi.Pipeline]vkapi.ComputePipelineCreateInfo
	submissions  []Submission
	allocations  []vkapi.MemoryAllocateInfo
	flushes      []vkapi.MappedMemoryRange
	invalidates  []vkapi.MappedMemoryRange
	queryResults []QueryCall
}

// QueryCall is a recorded GetQueryPoolResults call.
type QueryCall struct {
	Pool   vkapi.QueryPool
	First  uint32
	Count  uint32
	Stride uint64
	Flags  vkapi.QueryResultFlags
}

func New() *Driver {
	d := &Driver{
		MemoryTypeBits: ^uint32(0),
		Alignment:      256,
		DescriptorSizes: vkapi.DescriptorBufferProperties{
			DescriptorBufferOffsetAlignment:    64,
			SamplerDescriptorSize:              16,
			CombinedImageSamplerDescriptorSize: 48,
			SampledImageDescriptorSize:         32,
			StorageImageDescriptorSize:         32,
			UniformTexelBufferDescriptorSize:   16,
			StorageTexelBufferDescriptorSize:   16,
			UniformBufferDescriptorSize:        16,
			StorageBufferDescriptorSize:        16,
			InputAttachmentDescriptorSize:      32,
		},
		fences:      make(map[vkapi.Fence]*fence),
		cmdPools:    make(map[vkapi.CommandPool][]vkapi.CommandBuffer),
		commands:    make(map[vkapi.CommandBuffer][]Command),
		recording:   make(map[vkapi.CommandBuffer]bool),
		queryPools:  make(map[vkapi.QueryPool]vkapi.QueryPoolCreateInfo),
		queryValues: make(map[vkapi.QueryPool][]uint64),
		buffers:     make(map[vkapi.Buffer]*buffer),
		memories:    make(map[vkapi.DeviceMemory]*memory),
		layouts:     make(map[vkapi.DescriptorSetLayout]*layout),
		pipeLayouts: make(map[vkapi.PipelineLayout]vkapi.PipelineLayoutCreateInfo),
		shaders:     make(map[vkapi.ShaderModule][]uint32),
		pipelines:   make(map[vkapi.Pipeline]vkapi.ComputePipelineCreateInfo),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Properties returns device properties matching the fake's configuration.
func (d *Driver) Properties() vkapi.PhysicalDeviceProperties {
	return vkapi.PhysicalDeviceProperties{
		DeviceName: "vkfake",
		APIVersion: 1<<22 | 3<<12,
		Limits: vkapi.Limits{
			MinMemoryMapAlignment:   64,
			NonCoherentAtomSize:     64,
			TimestampPeriod:         1,
			MaxComputeWorkGroupSize: [3]uint32{1024, 1024, 64},
		},
		DescriptorBuffer: d.DescriptorSizes,
	}
}

// DefaultMemoryProperties is a discrete GPU like memory table: device
// local, host visible and coherent, host cached, and resizable BAR.
func DefaultMemoryProperties() vkapi.MemoryProperties {
	return vkapi.MemoryProperties{
		Types: []vkapi.MemoryType{
			{PropertyFlags: vkapi.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: vkapi.MemoryPropertyHostVisible | vkapi.MemoryPropertyHostCoherent, HeapIndex: 1},
			{PropertyFlags: vkapi.MemoryPropertyHostVisible | vkapi.MemoryPropertyHostCached, HeapIndex: 1},
			{PropertyFlags: vkapi.MemoryPropertyDeviceLocal | vkapi.MemoryPropertyHostVisible | vkapi.MemoryPropertyHostCoherent, HeapIndex: 0},
		},
		Heaps: []vkapi.MemoryHeap{
			{Size: 8 << 30, Flags: 1},
			{Size: 16 << 30},
		},
	}
}

func (d *Driver) handle() uint64 {
	d.next++
	return d.next
}

func (d *Driver) GetDeviceQueue(family, index uint32) vkapi.Queue {
	return vkapi.Queue(uint64(family+1)<<32 | uint64(index))
}

func (d *Driver) CreateCommandPool(info vkapi.CommandPoolCreateInfo) (vkapi.CommandPool, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreateCommandPool != vkapi.Success {
		return 0, d.FailCreateCommandPool
	}
	p := vkapi.CommandPool(d.handle())
	d.cmdPools[p] = nil
	return p, vkapi.Success
}

func (d *Driver) DestroyCommandPool(pool vkapi.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cmdPools, pool)
}

func (d *Driver) AllocateCommandBuffers(pool vkapi.CommandPool, count uint32) ([]vkapi.CommandBuffer, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailAllocateCmdBufs != vkapi.Success {
		return nil, d.FailAllocateCmdBufs
	}
	out := make([]vkapi.CommandBuffer, count)
	for i := range out {
		out[i] = vkapi.CommandBuffer(d.handle())
	}
	d.cmdPools[pool] = append(d.cmdPools[pool], out...)
	return out, vkapi.Success
}

func (d *Driver) FreeCommandBuffers(pool vkapi.CommandPool, buffers []vkapi.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range buffers {
		delete(d.commands, b)
		delete(d.recording, b)
	}
	d.cmdPools[pool] = nil
}

func (d *Driver) BeginCommandBuffer(cb vkapi.CommandBuffer, flags vkapi.CommandBufferUsageFlags) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailBegin != vkapi.Success {
		return d.FailBegin
	}
	d.commands[cb] = []Command{{Name: "Begin", Args: []any{flags}}}
	d.recording[cb] = true
	return vkapi.Success
}

func (d *Driver) EndCommandBuffer(cb vkapi.CommandBuffer) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailEnd != vkapi.Success {
		return d.FailEnd
	}
	d.recording[cb] = false
	d.commands[cb] = append(d.commands[cb], Command{Name: "End"})
	return vkapi.Success
}

func (d *Driver) CreateFence(signaled bool) (vkapi.Fence, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreateFence != vkapi.Success {
		return 0, d.FailCreateFence
	}
	f := vkapi.Fence(d.handle())
	d.fences[f] = &fence{signaled: signaled}
	return f, vkapi.Success
}

func (d *Driver) DestroyFence(f vkapi.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, f)
	d.cond.Broadcast()
}

func (d *Driver) allSignaled(fences []vkapi.Fence, waitAll bool) bool {
	done := false
	for _, h := range fences {
		f, ok := d.fences[h]
		// A destroyed fence never signals, treat it as done to avoid hangs.
		if !ok || f.signaled {
			done = true
			continue
		}
		if waitAll {
			return false
		}
	}
	return done
}

func (d *Driver) WaitForFences(fences []vkapi.Fence, waitAll bool, timeout uint64) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	for !d.allSignaled(fences, waitAll) {
		if timeout == 0 {
			return vkapi.Timeout
		}
		d.cond.Wait()
	}
	return vkapi.Success
}

func (d *Driver) ResetFences(fences []vkapi.Fence) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range fences {
		if f, ok := d.fences[h]; ok {
			f.signaled = false
		}
	}
	return vkapi.Success
}

func (d *Driver) GetFenceStatus(h vkapi.Fence) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.fences[h]; ok && f.signaled {
		return vkapi.Success
	}
	return vkapi.NotReady
}

// FenceSignaled reports the state of a fence.
func (d *Driver) FenceSignaled(h vkapi.Fence) bool {
	return d.GetFenceStatus(h) == vkapi.Success
}

func (d *Driver) QueueSubmit2(queue vkapi.Queue, submits []vkapi.SubmitInfo2, f vkapi.Fence) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailSubmit != vkapi.Success {
		return d.FailSubmit
	}
	for _, s := range submits {
		d.submissions = append(d.submissions, Submission{
			Queue: queue,
			Info: vkapi.SubmitInfo2{
				WaitSemaphoreInfos:   append([]vkapi.SemaphoreSubmitInfo(nil), s.WaitSemaphoreInfos...),
				CommandBufferInfos:   append([]vkapi.CommandBufferSubmitInfo(nil), s.CommandBufferInfos...),
				SignalSemaphoreInfos: append([]vkapi.SemaphoreSubmitInfo(nil), s.SignalSemaphoreInfos...),
			},
			Fence: f,
		})
	}
	if fe, ok := d.fences[f]; ok {
		if d.HoldFences {
			fe.pending = true
		} else {
			fe.signaled = true
			d.cond.Broadcast()
		}
	}
	return vkapi.Success
}

// Complete signals a fence held back by HoldFences.
func (d *Driver) Complete(f vkapi.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fe, ok := d.fences[f]; ok {
		fe.pending = false
		fe.signaled = true
	}
	d.cond.Broadcast()
}

// CompleteAll signals every fence with pending work.
func (d *Driver) CompleteAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fe := range d.fences {
		if fe.pending {
			fe.pending = false
			fe.signaled = true
		}
	}
	d.cond.Broadcast()
}

func (d *Driver) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submissions...)
}

func (d *Driver) CreateQueryPool(info vkapi.QueryPoolCreateInfo) (vkapi.QueryPool, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreateQueryPool != vkapi.Success {
		return 0, d.FailCreateQueryPool
	}
	p := vkapi.QueryPool(d.handle())
	d.queryPools[p] = info
	return p, vkapi.Success
}

func (d *Driver) DestroyQueryPool(pool vkapi.QueryPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.queryPools, pool)
	delete(d.queryValues, pool)
}

func (d *Driver) QueryPoolInfo(pool vkapi.QueryPool) (vkapi.QueryPoolCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.queryPools[pool]
	return info, ok
}

// SetQueryWords sets the words GetQueryPoolResults copies out, starting at
// the first query requested.
func (d *Driver) SetQueryWords(pool vkapi.QueryPool, words []uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryValues[pool] = append([]uint64(nil), words...)
}

func (d *Driver) CmdResetQueryPool(cb vkapi.CommandBuffer, pool vkapi.QueryPool, first, count uint32) {
	d.record(cb, "ResetQueryPool", pool, first, count)
}

func (d *Driver) CmdWriteTimestamp2(cb vkapi.CommandBuffer, stage vkapi.PipelineStageFlags2, pool vkapi.QueryPool, query uint32) {
	d.record(cb, "WriteTimestamp2", stage, pool, query)
}

func (d *Driver) GetQueryPoolResults(pool vkapi.QueryPool, first, count uint32, data []byte, stride uint64, flags vkapi.QueryResultFlags) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryResults = append(d.queryResults, QueryCall{Pool: pool, First: first, Count: count, Stride: stride, Flags: flags})
	if d.QueryResult != vkapi.Success {
		return d.QueryResult
	}

	word := 4
	if flags&vkapi.QueryResult64 != 0 {
		word = 8
	}
	for i, v := range d.queryValues[pool] {
		off := i * word
		if off+word > len(data) {
			break
		}
		if word == 8 {
			binary.LittleEndian.PutUint64(data[off:], v)
		} else {
			binary.LittleEndian.PutUint32(data[off:], uint32(v))
		}
	}
	return vkapi.Success
}

func (d *Driver) QueryCalls() []QueryCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]QueryCall(nil), d.queryResults...)
}

func (d *Driver) CreateBuffer(info vkapi.BufferCreateInfo) (vkapi.Buffer, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreateBuffer != vkapi.Success {
		return 0, d.FailCreateBuffer
	}
	b := vkapi.Buffer(d.handle())
	d.buffers[b] = &buffer{info: info}
	return b, vkapi.Success
}

func (d *Driver) DestroyBuffer(b vkapi.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, b)
}

func (d *Driver) GetBufferMemoryRequirements2(b vkapi.Buffer) (vkapi.MemoryRequirements, vkapi.MemoryDedicatedRequirements) {
	d.mu.Lock()
	defer d.mu.Unlock()
	size := uint64(0)
	if buf, ok := d.buffers[b]; ok {
		size = buf.info.Size
	}
	if d.Alignment > 0 {
		size = (size + d.Alignment - 1) / d.Alignment * d.Alignment
	}
	req := vkapi.MemoryRequirements{
		Size:           size,
		Alignment:      d.Alignment,
		MemoryTypeBits: d.MemoryTypeBits,
	}
	ded := vkapi.MemoryDedicatedRequirements{
		PrefersDedicatedAllocation:  d.PrefersDedicated,
		RequiresDedicatedAllocation: d.RequiresDedicated,
	}
	return req, ded
}

// BufferInfo returns the create info of a live buffer.
func (d *Driver) BufferInfo(b vkapi.Buffer) (vkapi.BufferCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[b]
	if !ok {
		return vkapi.BufferCreateInfo{}, false
	}
	return buf.info, true
}

func (d *Driver) GetBufferDeviceAddress(b vkapi.Buffer) vkapi.DeviceAddress {
	return vkapi.DeviceAddress(0x1_0000_0000 + uint64(b)<<20)
}

func (d *Driver) AllocateMemory(info vkapi.MemoryAllocateInfo) (vkapi.DeviceMemory, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocations = append(d.allocations, info)
	if d.FailAllocateMemory != vkapi.Success {
		return 0, d.FailAllocateMemory
	}
	m := vkapi.DeviceMemory(d.handle())
	d.memories[m] = &memory{info: info, data: make([]byte, info.AllocationSize)}
	return m, vkapi.Success
}

func (d *Driver) FreeMemory(m vkapi.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.memories, m)
}

// Allocations returns every AllocateMemory request, failed ones included.
func (d *Driver) Allocations() []vkapi.MemoryAllocateInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]vkapi.MemoryAllocateInfo(nil), d.allocations...)
}

func (d *Driver) BindBufferMemory(b vkapi.Buffer, m vkapi.DeviceMemory, offset uint64) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailBindMemory != vkapi.Success {
		return d.FailBindMemory
	}
	if buf, ok := d.buffers[b]; ok {
		buf.memory = m
	}
	return vkapi.Success
}

func (d *Driver) MapMemory(m vkapi.DeviceMemory, offset, size uint64) ([]byte, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailMapMemory != vkapi.Success {
		return nil, d.FailMapMemory
	}
	mem, ok := d.memories[m]
	if !ok {
		return nil, vkapi.ErrorMemoryMapFailed
	}
	mem.mapped = true
	end := uint64(len(mem.data))
	if size != vkapi.WholeSize && offset+size < end {
		end = offset + size
	}
	return mem.data[offset:end], vkapi.Success
}

func (d *Driver) UnmapMemory(m vkapi.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.memories[m]; ok {
		mem.mapped = false
	}
}

func (d *Driver) Mapped(m vkapi.DeviceMemory) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.memories[m]
	return ok && mem.mapped
}

// MemoryData returns the backing bytes of an allocation.
func (d *Driver) MemoryData(m vkapi.DeviceMemory) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.memories[m]; ok {
		return mem.data
	}
	return nil
}

func (d *Driver) LiveMemory() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.memories)
}

func (d *Driver) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

func (d *Driver) FlushMappedMemoryRanges(ranges []vkapi.MappedMemoryRange) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes = append(d.flushes, ranges...)
	return d.FailFlush
}

func (d *Driver) InvalidateMappedMemoryRanges(ranges []vkapi.MappedMemoryRange) vkapi.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidates = append(d.invalidates, ranges...)
	return d.FailInvalidate
}

func (d *Driver) Flushes() []vkapi.MappedMemoryRange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]vkapi.MappedMemoryRange(nil), d.flushes...)
}

func (d *Driver) Invalidates() []vkapi.MappedMemoryRange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]vkapi.MappedMemoryRange(nil), d.invalidates...)
}

func (d *Driver) descriptorSize(t vkapi.DescriptorType) uint64 {
	p := d.DescriptorSizes
	switch t {
	case vkapi.DescriptorTypeSampler:
		return p.SamplerDescriptorSize
	case vkapi.DescriptorTypeCombinedImageSampler:
		return p.CombinedImageSamplerDescriptorSize
	case vkapi.DescriptorTypeSampledImage:
		return p.SampledImageDescriptorSize
	case vkapi.DescriptorTypeStorageImage:
		return p.StorageImageDescriptorSize
	case vkapi.DescriptorTypeInputAttachment:
		return p.InputAttachmentDescriptorSize
	case vkapi.DescriptorTypeUniformBuffer:
		return p.UniformBufferDescriptorSize
	case vkapi.DescriptorTypeStorageBuffer:
		return p.StorageBufferDescriptorSize
	case vkapi.DescriptorTypeUniformTexelBuffer:
		return p.UniformTexelBufferDescriptorSize
	case vkapi.DescriptorTypeStorageTexelBuffer:
		return p.StorageTexelBufferDescriptorSize
	}
	return 0
}

// CreateDescriptorSetLayout packs bindings back to back in declaration
// order.
func (d *Driver) CreateDescriptorSetLayout(info vkapi.DescriptorSetLayoutCreateInfo) (vkapi.DescriptorSetLayout, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreateLayout != vkapi.Success {
		return 0, d.FailCreateLayout
	}
	l := &layout{info: info}
	for _, b := range info.Bindings {
		l.offsets = append(l.offsets, l.size)
		l.size += uint64(b.DescriptorCount) * d.descriptorSize(b.DescriptorType)
	}
	h := vkapi.DescriptorSetLayout(d.handle())
	d.layouts[h] = l
	return h, vkapi.Success
}

func (d *Driver) DestroyDescriptorSetLayout(h vkapi.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, h)
}

func (d *Driver) LayoutInfo(h vkapi.DescriptorSetLayout) (vkapi.DescriptorSetLayoutCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.layouts[h]
	if !ok {
		return vkapi.DescriptorSetLayoutCreateInfo{}, false
	}
	return l.info, true
}

func (d *Driver) GetDescriptorSetLayoutSize(h vkapi.DescriptorSetLayout) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.layouts[h]; ok {
		return l.size
	}
	return 0
}

func (d *Driver) GetDescriptorSetLayoutBindingOffset(h vkapi.DescriptorSetLayout, binding uint32) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.layouts[h]; ok && int(binding) < len(l.offsets) {
		return l.offsets[binding]
	}
	return 0
}

// GetDescriptor fills dst with the descriptor type plus one followed by
// the little-endian payload handle or address.
func (d *Driver) GetDescriptor(info vkapi.DescriptorGetInfo, dst []byte) {
	if len(dst) == 0 {
		return
	}
	for i := range dst {
		dst[i] = 0
	}
	dst[0] = byte(info.Type + 1)

	var payload uint64
	switch v := info.Data.(type) {
	case vkapi.SamplerDescriptor:
		payload = uint64(v.Sampler)
	case vkapi.ImageDescriptor:
		payload = uint64(v.Info.ImageView)
	case vkapi.AddressDescriptor:
		payload = uint64(v.Info.Address)
	}
	if len(dst) >= 16 {
		binary.LittleEndian.PutUint64(dst[8:], payload)
	}
}

func (d *Driver) CreatePipelineLayout(info vkapi.PipelineLayoutCreateInfo) (vkapi.PipelineLayout, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := vkapi.PipelineLayout(d.handle())
	d.pipeLayouts[h] = info
	return h, vkapi.Success
}

func (d *Driver) DestroyPipelineLayout(h vkapi.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipeLayouts, h)
}

func (d *Driver) PipelineLayoutInfo(h vkapi.PipelineLayout) (vkapi.PipelineLayoutCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.pipeLayouts[h]
	return info, ok
}

func (d *Driver) CreateShaderModule(code []uint32) (vkapi.ShaderModule, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := vkapi.ShaderModule(d.handle())
	d.shaders[h] = append([]uint32(nil), code...)
	return h, vkapi.Success
}

func (d *Driver) DestroyShaderModule(h vkapi.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.shaders, h)
}

func (d *Driver) CreateComputePipeline(info vkapi.ComputePipelineCreateInfo) (vkapi.Pipeline, vkapi.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailCreatePipeline != vkapi.Success {
		return 0, d.FailCreatePipeline
	}
	h := vkapi.Pipeline(d.handle())
	d.pipelines[h] = info
	return h, vkapi.Success
}

func (d *Driver) DestroyPipeline(h vkapi.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, h)
}

func (d *Driver) PipelineInfo(h vkapi.Pipeline) (vkapi.ComputePipelineCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.pipelines[h]
	return info, ok
}

func (d *Driver) LivePipelineLayouts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pipeLayouts)
}

func (d *Driver) record(cb vkapi.CommandBuffer, name string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[cb] = append(d.commands[cb], Command{Name: name, Args: args})
}

// Commands returns what was recorded into cb since its last Begin.
func (d *Driver) Commands(cb vkapi.CommandBuffer) []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands[cb]...)
}

func (d *Driver) CmdBindPipeline(cb vkapi.CommandBuffer, bindPoint vkapi.PipelineBindPoint, pipeline vkapi.Pipeline) {
	d.record(cb, "BindPipeline", bindPoint, pipeline)
}

func (d *Driver) CmdBindDescriptorBuffers(cb vkapi.CommandBuffer, infos []vkapi.DescriptorBufferBindingInfo) {
	d.record(cb, "BindDescriptorBuffers", append([]vkapi.DescriptorBufferBindingInfo(nil), infos...))
}

func (d *Driver) CmdSetDescriptorBufferOffsets(cb vkapi.CommandBuffer, bindPoint vkapi.PipelineBindPoint, layout vkapi.PipelineLayout, firstSet uint32, indices []uint32, offsets []uint64) {
	d.record(cb, "SetDescriptorBufferOffsets", bindPoint, layout, firstSet,
		append([]uint32(nil), indices...), append([]uint64(nil), offsets...))
}

func (d *Driver) CmdPushConstants(cb vkapi.CommandBuffer, layout vkapi.PipelineLayout, stages vkapi.ShaderStageFlags, offset uint32, data []byte) {
	d.record(cb, "PushConstants", layout, stages, offset, append([]byte(nil), data...))
}

func (d *Driver) CmdPipelineBarrier2(cb vkapi.CommandBuffer, dep vkapi.DependencyInfo) {
	d.record(cb, "PipelineBarrier2", dep)
}

func (d *Driver) CmdDispatch(cb vkapi.CommandBuffer, x, y, z uint32) {
	d.record(cb, "Dispatch", x, y, z)
}

// CmdFillBuffer is executed immediately on the backing memory.
func (d *Driver) CmdFillBuffer(cb vkapi.CommandBuffer, b vkapi.Buffer, offset, size uint64, data uint32) {
	d.mu.Lock()
	if buf, ok := d.buffers[b]; ok {
		if mem, ok := d.memories[buf.memory]; ok {
			end := uint64(len(mem.data))
			if size != vkapi.WholeSize && offset+size < end {
				end = offset + size
			}
			for off := offset; off+4 <= end; off += 4 {
				binary.LittleEndian.PutUint32(mem.data[off:], data)
			}
		}
	}
	d.mu.Unlock()
	d.record(cb, "FillBuffer", b, offset, size, data)
}

// CmdCopyBuffer is executed immediately on the backing memory.
func (d *Driver) CmdCopyBuffer(cb vkapi.CommandBuffer, src, dst vkapi.Buffer, regions []vkapi.BufferCopy) {
	d.mu.Lock()
	sb, sok := d.buffers[src]
	db, dok := d.buffers[dst]
	if sok && dok {
		sm, smok := d.memories[sb.memory]
		dm, dmok := d.memories[db.memory]
		if smok && dmok {
			for _, r := range regions {
				copy(dm.data[r.DstOffset:r.DstOffset+r.Size], sm.data[r.SrcOffset:r.SrcOffset+r.Size])
			}
		}
	}
	d.mu.Unlock()
	d.record(cb, "CopyBuffer", src, dst, append([]vkapi.BufferCopy(nil), regions...))
}
