package vulkan

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vkexec/engine/containers"
	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// VulkanBuffer is a buffer bound to its own memory allocation.
type VulkanBuffer struct {
	Handle vkapi.Buffer
	Memory vkapi.DeviceMemory
	// Size is the size that was requested, before any alignment.
	Size uint64
	// Flags is the property set of the memory type backing the buffer.
	Flags   vkapi.MemoryPropertyFlags
	Usage   vkapi.BufferUsageFlags
	Address vkapi.DeviceAddress
	// Mapped is the host view of the memory while the buffer is mapped.
	Mapped []byte

	// Last known pipeline stage and access, for callers emitting barriers.
	Stage  vkapi.PipelineStageFlags2
	Access vkapi.AccessFlags2
}

func (b *VulkanBuffer) HostVisible() bool {
	return b.Flags&vkapi.MemoryPropertyHostVisible != 0
}

func (b *VulkanBuffer) HostCoherent() bool {
	return b.Flags&vkapi.MemoryPropertyHostCoherent != 0
}

// CreateBuffer creates a buffer and binds freshly allocated memory to it.
// next extends the buffer create info, allocNext the allocate info.
func (c *VulkanContext) CreateBuffer(size uint64, usage vkapi.BufferUsageFlags, flags vkapi.MemoryPropertyFlags, next, allocNext []any) (*VulkanBuffer, error) {
	buf := &VulkanBuffer{}
	if err := c.createBuffer(buf, size, usage, flags, next, allocNext); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *VulkanContext) createBuffer(buf *VulkanBuffer, size uint64, usage vkapi.BufferUsageFlags, flags vkapi.MemoryPropertyFlags, next, allocNext []any) error {
	createSize := size
	if flags != vkapi.MemoryPropertyDontCare && flags&vkapi.MemoryPropertyHostVisible != 0 {
		createSize = AlignUp(size, c.Properties.Limits.MinMemoryMapAlignment)
	}

	handle, res := c.Driver.CreateBuffer(vkapi.BufferCreateInfo{
		Size:  createSize,
		Usage: usage,
		Next:  next,
	})
	if res != vkapi.Success {
		err := fmt.Errorf("failed to create buffer: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return err
	}

	req, ded := c.Driver.GetBufferMemoryRequirements2(handle)

	// In case the implementation prefers/requires dedicated allocation
	chain := allocNext
	if ded.PrefersDedicatedAllocation || ded.RequiresDedicatedAllocation {
		chain = append([]any{vkapi.MemoryDedicatedAllocateInfo{Buffer: handle}}, chain...)
	}
	if usage&vkapi.BufferUsageShaderDeviceAddress != 0 {
		chain = append([]any{vkapi.MemoryAllocateFlagsInfo{Flags: vkapi.MemoryAllocateDeviceAddress}}, chain...)
	}

	mem, memFlags, err := c.AllocMemory(req, flags, chain)
	if err != nil {
		c.Driver.DestroyBuffer(handle)
		return err
	}

	if res := c.Driver.BindBufferMemory(handle, mem, 0); res != vkapi.Success {
		c.Driver.FreeMemory(mem)
		c.Driver.DestroyBuffer(handle)
		err := fmt.Errorf("failed to bind memory to buffer: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return err
	}

	*buf = VulkanBuffer{
		Handle: handle,
		Memory: mem,
		Size:   size,
		Flags:  memFlags,
		Usage:  usage,
		Stage:  vkapi.PipelineStage2AllCommands,
		Access: vkapi.Access2None,
	}
	if usage&vkapi.BufferUsageShaderDeviceAddress != 0 {
		buf.Address = c.Driver.GetBufferDeviceAddress(handle)
	}
	return nil
}

// FreeBuffer unmaps the buffer if needed and releases it with its memory.
func (c *VulkanContext) FreeBuffer(buf *VulkanBuffer) {
	if buf == nil {
		return
	}
	if buf.Mapped != nil {
		c.Driver.UnmapMemory(buf.Memory)
		buf.Mapped = nil
	}
	if buf.Handle != 0 {
		c.Driver.DestroyBuffer(buf.Handle)
	}
	if buf.Memory != 0 {
		c.Driver.FreeMemory(buf.Memory)
	}
	*buf = VulkanBuffer{}
}

// MapBuffers maps every buffer and, if invalidate is set, makes device
// writes to non-coherent memory visible to the host.
func (c *VulkanContext) MapBuffers(bufs []*VulkanBuffer, invalidate bool) error {
	for _, b := range bufs {
		data, res := c.Driver.MapMemory(b.Memory, 0, vkapi.WholeSize)
		if res != vkapi.Success {
			err := fmt.Errorf("failed to map buffer memory: %s: %w", res, core.ErrExternal)
			core.LogError(err.Error())
			return err
		}
		b.Mapped = data
	}

	if !invalidate {
		return nil
	}
	return c.InvalidateBuffers(bufs)
}

// nonCoherentRanges covers the whole memory of every buffer that is not
// host coherent.
func nonCoherentRanges(bufs []*VulkanBuffer) []vkapi.MappedMemoryRange {
	var ranges []vkapi.MappedMemoryRange
	for _, b := range bufs {
		if b.HostCoherent() {
			continue
		}
		ranges = append(ranges, vkapi.MappedMemoryRange{
			Memory: b.Memory,
			Size:   vkapi.WholeSize,
		})
	}
	return ranges
}

// InvalidateBuffers makes device writes visible through the host views of
// already mapped buffers.
func (c *VulkanContext) InvalidateBuffers(bufs []*VulkanBuffer) error {
	ranges := nonCoherentRanges(bufs)
	if len(ranges) == 0 {
		return nil
	}
	if res := c.Driver.InvalidateMappedMemoryRanges(ranges); res != vkapi.Success {
		err := fmt.Errorf("failed to invalidate memory: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// FlushBuffers makes host writes through mapped buffers visible to the
// device.
func (c *VulkanContext) FlushBuffers(bufs []*VulkanBuffer) error {
	ranges := nonCoherentRanges(bufs)
	if len(ranges) == 0 {
		return nil
	}
	if res := c.Driver.FlushMappedMemoryRanges(ranges); res != vkapi.Success {
		err := fmt.Errorf("failed to flush memory: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (c *VulkanContext) MapBuffer(buf *VulkanBuffer, invalidate bool) ([]byte, error) {
	if err := c.MapBuffers([]*VulkanBuffer{buf}, invalidate); err != nil {
		return nil, err
	}
	return buf.Mapped, nil
}

// UnmapBuffers unmaps every buffer, flushing non-coherent memory first if
// flush is set. All buffers are unmapped even when the flush fails.
func (c *VulkanContext) UnmapBuffers(bufs []*VulkanBuffer, flush bool) error {
	var err error
	if flush {
		err = c.FlushBuffers(bufs)
	}

	for _, b := range bufs {
		c.Driver.UnmapMemory(b.Memory)
		b.Mapped = nil
	}
	return err
}

func (c *VulkanContext) UnmapBuffer(buf *VulkanBuffer, flush bool) error {
	return c.UnmapBuffers([]*VulkanBuffer{buf}, flush)
}

// BufferBarrier records a barrier on the whole buffer from its last known
// stage and access to the given ones, which become the new known state.
func (c *VulkanContext) BufferBarrier(e *VulkanExecContext, buf *VulkanBuffer, stage vkapi.PipelineStageFlags2, access vkapi.AccessFlags2) {
	c.Driver.CmdPipelineBarrier2(e.Buf.Handle, vkapi.DependencyInfo{
		BufferMemoryBarriers: []vkapi.BufferMemoryBarrier2{{
			SrcStageMask:        buf.Stage,
			SrcAccessMask:       buf.Access,
			DstStageMask:        stage,
			DstAccessMask:       access,
			SrcQueueFamilyIndex: vkapi.QueueFamilyIgnored,
			DstQueueFamilyIndex: vkapi.QueueFamilyIgnored,
			Buffer:              buf.Handle,
			Size:                vkapi.WholeSize,
		}},
	})
	buf.Stage = stage
	buf.Access = access
}

// BufferRef shares a VulkanBuffer between owners. The last Unref frees the
// buffer, or hands it back to the pool it came from.
type BufferRef struct {
	Buffer *VulkanBuffer

	refs    refCount
	release func(*VulkanBuffer)
}

func NewBufferRef(buf *VulkanBuffer, release func(*VulkanBuffer)) *BufferRef {
	r := &BufferRef{
		Buffer:  buf,
		release: release,
	}
	r.refs.init()
	return r
}

// NewOwnedBufferRef wraps buf so that the last reference frees it.
func (c *VulkanContext) NewOwnedBufferRef(buf *VulkanBuffer) *BufferRef {
	return NewBufferRef(buf, c.FreeBuffer)
}

// Ref takes a new reference. It returns nil once the buffer was released.
func (r *BufferRef) Ref() *BufferRef {
	if r == nil || !r.refs.acquire() {
		return nil
	}
	return r
}

func (r *BufferRef) Unref() {
	if r.refs.release() && r.release != nil {
		r.release(r.Buffer)
	}
}

func (r *BufferRef) RefCount() int64 {
	return r.refs.count()
}

// BufferPool recycles buffers of one usage and memory type. Idle buffers
// beyond the pool capacity are freed.
type BufferPool struct {
	ctx       *VulkanContext
	usage     vkapi.BufferUsageFlags
	flags     vkapi.MemoryPropertyFlags
	next      []any
	allocNext []any

	mu     sync.Mutex
	idle   *containers.RingQueue[*VulkanBuffer]
	closed bool
}

func NewBufferPool(context *VulkanContext, usage vkapi.BufferUsageFlags, flags vkapi.MemoryPropertyFlags, capacity int) *BufferPool {
	if capacity < 1 {
		capacity = 1
	}
	return &BufferPool{
		ctx:   context,
		usage: usage,
		flags: flags,
		idle:  containers.NewRingQueue[*VulkanBuffer](capacity),
	}
}

// WithCreateNext sets the extension chains used when the pool creates a
// buffer.
func (bp *BufferPool) WithCreateNext(next, allocNext []any) *BufferPool {
	bp.next = next
	bp.allocNext = allocNext
	return bp
}

// Get returns a buffer of at least size bytes. An idle buffer that is too
// small is freed and re-created in place. Host visible buffers come back
// mapped.
func (bp *BufferPool) Get(size uint64) (*BufferRef, error) {
	bp.mu.Lock()
	buf, err := bp.idle.Dequeue()
	bp.mu.Unlock()
	if err != nil {
		buf = &VulkanBuffer{}
	}

	ref := NewBufferRef(buf, bp.put)
	buf.Stage = vkapi.PipelineStage2AllCommands
	buf.Access = vkapi.Access2None

	if buf.Handle == 0 || buf.Size < size {
		bp.ctx.FreeBuffer(buf)
		if err := bp.ctx.createBuffer(buf, size, bp.usage, bp.flags, bp.next, bp.allocNext); err != nil {
			ref.Unref()
			return nil, err
		}
	}

	if buf.Mapped == nil && bp.flags != vkapi.MemoryPropertyDontCare && bp.flags&vkapi.MemoryPropertyHostVisible != 0 {
		if _, err := bp.ctx.MapBuffer(buf, false); err != nil {
			ref.Unref()
			return nil, err
		}
	}
	return ref, nil
}

func (bp *BufferPool) put(buf *VulkanBuffer) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if buf.Handle == 0 {
		return
	}
	if bp.closed || bp.idle.Enqueue(buf) != nil {
		bp.ctx.FreeBuffer(buf)
	}
}

// Idle returns the number of buffers waiting for reuse.
func (bp *BufferPool) Idle() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.idle.Len()
}

// Close frees the idle buffers. Buffers still referenced are freed when
// their last reference is dropped.
func (bp *BufferPool) Close() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.closed = true
	for !bp.idle.IsEmpty() {
		buf, _ := bp.idle.Dequeue()
		bp.ctx.FreeBuffer(buf)
	}
}
