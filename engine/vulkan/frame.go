package vulkan

import (
	"sync"

	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// FrameLocker guards a frame's per-plane state while an execution context
// records commands that touch it.
type FrameLocker interface {
	LockFrame(f *VulkanFrame)
	UnlockFrame(f *VulkanFrame)
}

// VulkanFrame is an externally owned multi-plane image. Layout, Access,
// QueueFamily and SemValue hold the last state known to the host and are
// updated by the execution context that submits work on the frame.
type VulkanFrame struct {
	Images      []vkapi.Image
	Views       []vkapi.ImageView
	Layout      []vkapi.ImageLayout
	Access      []vkapi.AccessFlags2
	QueueFamily []uint32
	Sem         []vkapi.Semaphore
	SemValue    []uint64

	// Locker defaults to the frame's own mutex.
	Locker FrameLocker

	mu        sync.Mutex
	counted   bool
	refs      refCount
	onRelease func(*VulkanFrame)
}

// NewVulkanFrame creates a frame with the given number of planes in the
// undefined layout. onRelease, if set, runs when the last reference is
// dropped; the frame then becomes reference counted.
func NewVulkanFrame(planes int, onRelease func(*VulkanFrame)) *VulkanFrame {
	f := &VulkanFrame{
		Images:      make([]vkapi.Image, planes),
		Views:       make([]vkapi.ImageView, planes),
		Layout:      make([]vkapi.ImageLayout, planes),
		Access:      make([]vkapi.AccessFlags2, planes),
		QueueFamily: make([]uint32, planes),
		Sem:         make([]vkapi.Semaphore, planes),
		SemValue:    make([]uint64, planes),
		onRelease:   onRelease,
	}
	for i := range f.QueueFamily {
		f.QueueFamily[i] = vkapi.QueueFamilyIgnored
	}
	if onRelease != nil {
		f.counted = true
		f.refs.init()
	}
	return f
}

func (f *VulkanFrame) Planes() int {
	return len(f.Images)
}

// Ref takes a reference on a counted frame. Frames without a count are
// always borrowed and Ref succeeds. It returns false for a released frame.
func (f *VulkanFrame) Ref() bool {
	if !f.counted {
		return true
	}
	return f.refs.acquire()
}

func (f *VulkanFrame) Unref() {
	if !f.counted {
		return
	}
	if f.refs.release() && f.onRelease != nil {
		f.onRelease(f)
	}
}

func (f *VulkanFrame) lock() {
	if f.Locker != nil {
		f.Locker.LockFrame(f)
		return
	}
	f.mu.Lock()
}

func (f *VulkanFrame) unlock() {
	if f.Locker != nil {
		f.Locker.UnlockFrame(f)
		return
	}
	f.mu.Unlock()
}
