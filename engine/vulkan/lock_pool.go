package vulkan

import "sync"

type LockGroup string

const (
	MemoryManagement     LockGroup = "memory_management"
	PipelineManagement   LockGroup = "pipeline_management"
	DescriptorManagement LockGroup = "descriptor_management"
	ShaderManagement     LockGroup = "shader_management"
)

type queueKey struct {
	family uint32
	index  uint32
}

// Mutex pool
type VulkanLockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // Protects access to both maps

	queueMutexes map[queueKey]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[queueKey]*sync.Mutex),
	}
}

// Get or create a mutex for a specific group
func (vs *VulkanLockPool) groupLock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	l, exists := vs.locks[group]
	if !exists {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.groupLock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

func (vs *VulkanLockPool) queueLock(family, index uint32) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	key := queueKey{family: family, index: index}
	l, exists := vs.queueMutexes[key]
	if !exists {
		l = &sync.Mutex{}
		vs.queueMutexes[key] = l
	}
	return l
}

func (vs *VulkanLockPool) LockQueue(family, index uint32) {
	vs.queueLock(family, index).Lock()
}

func (vs *VulkanLockPool) UnlockQueue(family, index uint32) {
	vs.queueLock(family, index).Unlock()
}

func (vs *VulkanLockPool) SafeQueueCall(family, index uint32, fn func() error) error {
	l := vs.queueLock(family, index)
	l.Lock()
	defer l.Unlock()

	return fn()
}
