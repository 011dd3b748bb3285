package platform

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/vkexec/engine/core"
)

func init() {
	// GLFW calls must run on the main OS thread
	runtime.LockOSThread()
}

// Platform is the glfw bootstrap of the Vulkan loader. No window is ever
// created, glfw is only used to locate vkGetInstanceProcAddr.
type Platform struct {
	mu      sync.Mutex
	started bool
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return fmt.Errorf("glfw init: %s: %w", err, core.ErrExternal)
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		err := fmt.Errorf("no Vulkan loader found: %w", core.ErrExternal)
		core.LogError(err.Error())
		return err
	}
	p.started = true
	core.LogDebug("glfw %s initialized", glfw.GetVersionString())
	return nil
}

// InstanceProcAddr returns vkGetInstanceProcAddr. Startup must have
// succeeded.
func (p *Platform) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	glfw.Terminate()
	p.started = false
	return nil
}
