package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

type frameDep struct {
	frame  *VulkanFrame
	locked bool
	update bool

	layoutDst      vkapi.ImageLayout
	accessDst      vkapi.AccessFlags2
	queueFamilyDst uint32
}

// AddBufferDeps keeps the buffers alive until the context is reused. With
// takeRef a new reference is taken, otherwise the caller's reference is
// adopted. If any reference cannot be taken all dependencies of the
// context are dropped.
func (e *VulkanExecContext) AddBufferDeps(refs []*BufferRef, takeRef bool) error {
	for _, r := range refs {
		dep := r
		if takeRef {
			dep = r.Ref()
		}
		if dep == nil {
			e.DiscardDeps()
			return fmt.Errorf("unable to reference buffer dependency: %w", core.ErrInvalidArgument)
		}
		e.bufDeps = append(e.bufDeps, dep)
	}
	return nil
}

func (e *VulkanExecContext) findFrame(f *VulkanFrame) int {
	for i := range e.frameDeps {
		if e.frameDeps[i].frame == f {
			return i
		}
	}
	return -1
}

// AddFrameDep locks the frame until submission and orders the recorded
// commands after the frame's pending work through its timeline semaphores.
// A frame that is already tracked returns ErrAlreadyPresent.
func (e *VulkanExecContext) AddFrameDep(f *VulkanFrame, waitStage, signalStage vkapi.PipelineStageFlags2) error {
	// Don't add duplicates
	if e.findFrame(f) >= 0 {
		return core.ErrAlreadyPresent
	}
	if f.Planes() == 0 {
		return fmt.Errorf("frame has no planes: %w", core.ErrInvalidArgument)
	}

	if !f.Ref() {
		e.DiscardDeps()
		return fmt.Errorf("unable to reference frame dependency: %w", core.ErrInvalidArgument)
	}

	f.lock()
	e.frameDeps = append(e.frameDeps, frameDep{
		frame:  f,
		locked: true,
	})

	for i := range f.Images {
		e.semWait = append(e.semWait, vkapi.SemaphoreSubmitInfo{
			Semaphore: f.Sem[i],
			Value:     f.SemValue[i],
			StageMask: waitStage,
		})
		e.semSig = append(e.semSig, vkapi.SemaphoreSubmitInfo{
			Semaphore: f.Sem[i],
			Value:     f.SemValue[i] + 1,
			StageMask: signalStage,
		})
		e.semSigValDst = append(e.semSigValDst, &f.SemValue[i])
	}

	return nil
}

// UpdateFrame records the state the frame will be in after the barrier.
// nbBarriers, if not nil, is incremented on the first update of the frame
// only. The frame must be tracked by the context.
func (e *VulkanExecContext) UpdateFrame(f *VulkanFrame, bar *vkapi.ImageMemoryBarrier2, nbBarriers *int) {
	idx := e.findFrame(f)
	if idx < 0 {
		panic("vulkan: update of a frame that is not a dependency of the execution context")
	}
	d := &e.frameDeps[idx]

	// Don't update duplicates
	if nbBarriers != nil && !d.update {
		*nbBarriers++
	}

	d.queueFamilyDst = bar.DstQueueFamilyIndex
	d.accessDst = bar.DstAccessMask
	d.layoutDst = bar.NewLayout
	d.update = true
}

// MirrorSemaphoreValue exposes the first plane semaphore of a tracked frame
// and registers dst to be incremented on submission, like the frame's own
// value.
func (e *VulkanExecContext) MirrorSemaphoreValue(f *VulkanFrame, dst *uint64) (vkapi.Semaphore, error) {
	// Reject unknown frames
	if e.findFrame(f) < 0 {
		return 0, fmt.Errorf("frame is not a dependency of the execution context: %w", core.ErrInvalidArgument)
	}
	if f.Planes() == 0 {
		return 0, fmt.Errorf("frame has no planes: %w", core.ErrInvalidArgument)
	}

	*dst = f.SemValue[0]
	e.semSigValDst = append(e.semSigValDst, dst)
	return f.Sem[0], nil
}

// FrameBarrier appends one image barrier per plane of the frame to bars.
// The source state is the pending state recorded earlier in this
// submission, or the frame's last known state.
func (e *VulkanExecContext) FrameBarrier(bars []vkapi.ImageMemoryBarrier2, f *VulkanFrame,
	srcStage, dstStage vkapi.PipelineStageFlags2, newAccess vkapi.AccessFlags2,
	newLayout vkapi.ImageLayout, newQF uint32) []vkapi.ImageMemoryBarrier2 {
	found := -1
	if idx := e.findFrame(f); idx >= 0 && e.frameDeps[idx].update {
		found = idx
	}

	first := len(bars)
	for i := range f.Images {
		bar := vkapi.ImageMemoryBarrier2{
			SrcStageMask:        srcStage,
			DstStageMask:        dstStage,
			DstAccessMask:       newAccess,
			NewLayout:           newLayout,
			DstQueueFamilyIndex: newQF,
			Image:               f.Images[i],
			SubresourceRange: vkapi.ImageSubresourceRange{
				AspectMask: vkapi.ImageAspectColor,
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if found >= 0 {
			d := e.frameDeps[found]
			bar.SrcAccessMask = d.accessDst
			bar.OldLayout = d.layoutDst
			bar.SrcQueueFamilyIndex = d.queueFamilyDst
		} else {
			bar.SrcAccessMask = f.Access[i]
			bar.OldLayout = f.Layout[0]
			bar.SrcQueueFamilyIndex = f.QueueFamily[0]
		}
		bars = append(bars, bar)
	}

	if len(bars) > first {
		e.UpdateFrame(f, &bars[first], nil)
	}
	return bars
}

// AddWaitSemaphore makes the submission wait for sem to reach value.
func (e *VulkanExecContext) AddWaitSemaphore(sem vkapi.Semaphore, value uint64, stage vkapi.PipelineStageFlags2) {
	e.semWait = append(e.semWait, vkapi.SemaphoreSubmitInfo{
		Semaphore: sem,
		Value:     value,
		StageMask: stage,
	})
}

// AddSignalSemaphore makes the submission signal sem with value.
func (e *VulkanExecContext) AddSignalSemaphore(sem vkapi.Semaphore, value uint64, stage vkapi.PipelineStageFlags2) {
	e.semSig = append(e.semSig, vkapi.SemaphoreSubmitInfo{
		Semaphore: sem,
		Value:     value,
		StageMask: stage,
	})
}

// DiscardDeps drops every buffer and frame dependency, unlocking frames
// that are still locked, and clears the semaphore lists. It is idempotent.
func (e *VulkanExecContext) DiscardDeps() {
	for i, r := range e.bufDeps {
		r.Unref()
		e.bufDeps[i] = nil
	}
	e.bufDeps = e.bufDeps[:0]

	for i := range e.frameDeps {
		d := &e.frameDeps[i]
		if d.locked {
			d.frame.unlock()
			d.locked = false
		}
		d.update = false
		d.frame.Unref()
		d.frame = nil
	}
	e.frameDeps = e.frameDeps[:0]

	e.semWait = e.semWait[:0]
	e.semSig = e.semSig[:0]
	for i := range e.semSigValDst {
		e.semSigValDst[i] = nil
	}
	e.semSigValDst = e.semSigValDst[:0]
}

func (e *VulkanExecContext) NumBufferDeps() int {
	return len(e.bufDeps)
}

func (e *VulkanExecContext) NumFrameDeps() int {
	return len(e.frameDeps)
}

// FrameLocked reports whether the context holds the frame's lock.
func (e *VulkanExecContext) FrameLocked(f *VulkanFrame) bool {
	idx := e.findFrame(f)
	return idx >= 0 && e.frameDeps[idx].locked
}

func (e *VulkanExecContext) WaitSemaphores() []vkapi.SemaphoreSubmitInfo {
	return e.semWait
}

func (e *VulkanExecContext) SignalSemaphores() []vkapi.SemaphoreSubmitInfo {
	return e.semSig
}
