package loader

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type Options struct {
	AppName string
	// DeviceName selects the first device whose name contains it. Empty
	// picks the first discrete GPU.
	DeviceName string
	Validation bool
	// ProcAddr is vkGetInstanceProcAddr as supplied by the platform.
	ProcAddr unsafe.Pointer
}

// Device owns the Vulkan instance and the logical device created on the
// selected physical device.
type Device struct {
	*Driver

	Instance vk.Instance
	Physical vk.PhysicalDevice

	Properties       vkapi.PhysicalDeviceProperties
	MemoryProperties vkapi.MemoryProperties
	QueueFamilies    map[vkapi.QueueFlags]vkapi.QueueFamilyInfo
	// Advertised lists the known extensions the device supports.
	Advertised vkapi.Extensions
	// Enabled is the subset turned on at device creation.
	Enabled vkapi.Extensions
}

// Open creates the instance, picks a physical device and creates a
// logical device with every queue of the families it uses.
func Open(opts Options) (*Device, error) {
	if opts.ProcAddr == nil {
		return nil, fmt.Errorf("vkGetInstanceProcAddr is missing: %w", core.ErrInvalidArgument)
	}
	vk.SetGetInstanceProcAddr(opts.ProcAddr)
	if err := vk.Init(); err != nil {
		err = fmt.Errorf("failed to initialize vk: %s: %w", err, core.ErrExternal)
		core.LogError(err.Error())
		return nil, err
	}

	dev := &Device{}
	if err := dev.createInstance(opts); err != nil {
		return nil, err
	}
	if err := dev.selectPhysicalDevice(opts.DeviceName); err != nil {
		dev.Close()
		return nil, err
	}
	if err := dev.createLogicalDevice(); err != nil {
		dev.Close()
		return nil, err
	}
	return dev, nil
}

func (d *Device) createInstance(opts Options) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(opts.AppName),
		PEngineName:        safeString("vkexec"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			properties2Extension,
		)
		createInfo.Flags |= 1
	} else if found, err := hasInstanceExtension(properties2Extension); err == nil && found {
		// VK_KHR_timeline_semaphore depends on it
		extensions = append(extensions, properties2Extension)
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = safeStrings(extensions)

	layers := []string{}
	if opts.Validation {
		core.LogInfo("Validation layers enabled. Enumerating...")
		found, err := hasInstanceLayer(validationLayer)
		if err != nil {
			return err
		}
		if found {
			layers = append(layers, validationLayer)
		} else {
			core.LogWarn("Validation layer %s is missing, continuing without it", validationLayer)
		}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = safeStrings(layers)

	if res := vk.CreateInstance(&createInfo, nil, &d.Instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`: %w", vkapi.Result(res).Describe(), core.ErrExternal)
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(d.Instance); err != nil {
		core.LogError(err.Error())
		return fmt.Errorf("%s: %w", err, core.ErrExternal)
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func hasInstanceExtension(name string) (bool, error) {
	var count uint32
	if res := vk.EnumerateInstanceExtensionProperties("", &count, nil); res != vk.Success {
		return false, fmt.Errorf("vkEnumerateInstanceExtensionProperties: %s: %w", vkapi.Result(res), core.ErrExternal)
	}
	props := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateInstanceExtensionProperties("", &count, props); res != vk.Success {
		return false, fmt.Errorf("vkEnumerateInstanceExtensionProperties: %s: %w", vkapi.Result(res), core.ErrExternal)
	}
	for i := range props {
		props[i].Deref()
		if vk.ToString(props[i].ExtensionName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func hasInstanceLayer(name string) (bool, error) {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false, fmt.Errorf("vkEnumerateInstanceLayerProperties: %s: %w", vkapi.Result(res), core.ErrExternal)
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return false, fmt.Errorf("vkEnumerateInstanceLayerProperties: %s: %w", vkapi.Result(res), core.ErrExternal)
	}
	for i := range layers {
		layers[i].Deref()
		if vk.ToString(layers[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func (d *Device) selectPhysicalDevice(want string) error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(d.Instance, &count, nil); res != vk.Success {
		return fmt.Errorf("vkEnumeratePhysicalDevices: %s: %w", vkapi.Result(res), core.ErrExternal)
	}
	devices := make([]vk.PhysicalDevice, count)
	if count > 0 {
		if res := vk.EnumeratePhysicalDevices(d.Instance, &count, devices); res != vk.Success {
			return fmt.Errorf("vkEnumeratePhysicalDevices: %s: %w", vkapi.Result(res), core.ErrExternal)
		}
	}

	props := make([]vk.PhysicalDeviceProperties, count)
	candidates := make([]deviceCandidate, count)
	for i, pd := range devices {
		vk.GetPhysicalDeviceProperties(pd, &props[i])
		props[i].Deref()
		candidates[i] = deviceCandidate{
			Name:     vk.ToString(props[i].DeviceName[:]),
			Discrete: props[i].DeviceType == vk.PhysicalDeviceTypeDiscreteGpu,
		}
	}

	idx, err := selectDevice(candidates, want)
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	d.Physical = devices[idx]
	d.Properties = convertProperties(props[idx])

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.Physical, &memory)
	d.MemoryProperties = convertMemoryProperties(&memory)

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(d.Physical, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(d.Physical, &familyCount, families)

	qfs := make([]queueFamily, familyCount)
	for i := range families {
		families[i].Deref()
		qfs[i] = queueFamily{
			Flags: vkapi.QueueFlags(families[i].QueueFlags),
			Count: families[i].QueueCount,
		}
	}
	d.QueueFamilies = resolveQueueFamilies(qfs)

	names, err := deviceExtensions(d.Physical)
	if err != nil {
		return err
	}
	d.Advertised = detectExtensions(names)

	core.LogInfo("Selected device: '%s' (API %s, driver %s)",
		d.Properties.DeviceName, versionString(d.Properties.APIVersion), versionString(d.Properties.DriverVersion))
	core.LogDebug("Graphics | Compute | Transfer | Decode | Encode family: %d | %d | %d | %d | %d",
		d.QueueFamilies[vkapi.QueueGraphics].Index,
		d.QueueFamilies[vkapi.QueueCompute].Index,
		d.QueueFamilies[vkapi.QueueTransfer].Index,
		d.QueueFamilies[vkapi.QueueVideoDecode].Index,
		d.QueueFamilies[vkapi.QueueVideoEncode].Index)
	core.LogDebug("Advertised extensions: 0x%x", uint64(d.Advertised))
	return nil
}

func deviceExtensions(pd vk.PhysicalDevice) ([]string, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); res != vk.Success {
		return nil, fmt.Errorf("error in EnumerateDeviceExtensionProperties: %s: %w", vkapi.Result(res), core.ErrExternal)
	}
	if count == 0 {
		return nil, nil
	}
	props := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, props); res != vk.Success {
		return nil, fmt.Errorf("error in EnumerateDeviceExtensionProperties: %s: %w", vkapi.Result(res), core.ErrExternal)
	}
	names := make([]string, count)
	for i := range props {
		props[i].Deref()
		names[i] = vk.ToString(props[i].ExtensionName[:])
	}
	return names, nil
}

func (d *Device) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	used := usedFamilies(d.QueueFamilies)
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(used))
	for i, qf := range used {
		priorities := make([]float32, qf.Count)
		for j := range priorities {
			priorities[j] = 1.0
		}
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(qf.Index),
			QueueCount:       qf.Count,
			PQueuePriorities: priorities,
		}
	}

	extensions := []string{}
	if names, err := deviceExtensions(d.Physical); err == nil {
		for _, n := range names {
			if n == "VK_KHR_portability_subset" {
				core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
				extensions = append(extensions, n)
				break
			}
		}
	}

	var timeline *vk.PhysicalDeviceTimelineSemaphoreFeatures
	if name, ok := enabledExtensions(d.Advertised)[vkapi.ExtTimelineSemaphore]; ok {
		core.LogInfo("Enabling extension '%s'.", name)
		extensions = append(extensions, name)
		timeline = &vk.PhysicalDeviceTimelineSemaphoreFeatures{
			SType:             vk.StructureTypePhysicalDeviceTimelineSemaphoreFeatures,
			TimelineSemaphore: vk.True,
		}
		defer timeline.Free()
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	if timeline != nil {
		ref, _ := timeline.PassRef()
		deviceCreateInfo.PNext = unsafe.Pointer(ref)
		d.Enabled |= vkapi.ExtTimelineSemaphore
	}

	var logical vk.Device
	if res := vk.CreateDevice(d.Physical, &deviceCreateInfo, nil, &logical); res != vk.Success {
		err := fmt.Errorf("vkCreateDevice failed with %s: %w", vkapi.Result(res).Describe(), core.ErrExternal)
		core.LogError(err.Error())
		return err
	}

	d.Driver = newDriver(logical)
	d.Driver.fetchQueues(used)
	core.LogInfo("Logical device created with %d queue families.", len(used))
	return nil
}

// ContextCreateInfo is the hand-over to the execution layer.
func (d *Device) ContextCreateInfo() vulkan.VulkanContextCreateInfo {
	return vulkan.VulkanContextCreateInfo{
		Driver:           d.Driver,
		Properties:       d.Properties,
		MemoryProperties: d.MemoryProperties,
		QueueFamilies:    d.QueueFamilies,
		Extensions:       d.Enabled,
	}
}

// Close waits for the device to go idle and destroys it together with the
// instance. Objects created through the driver must be freed before.
func (d *Device) Close() {
	if d.Driver != nil {
		d.Driver.WaitIdle()
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(d.Driver.device, nil)
		d.Driver = nil
	}
	if d.Instance != nil {
		core.LogInfo("Destroying Vulkan instance...")
		vk.DestroyInstance(d.Instance, nil)
		d.Instance = nil
	}
	d.Physical = nil
}

func convertProperties(props vk.PhysicalDeviceProperties) vkapi.PhysicalDeviceProperties {
	props.Limits.Deref()
	limits := props.Limits
	return vkapi.PhysicalDeviceProperties{
		DeviceName:    vk.ToString(props.DeviceName[:]),
		APIVersion:    props.ApiVersion,
		DriverVersion: props.DriverVersion,
		Limits: vkapi.Limits{
			MinMemoryMapAlignment:   uint64(limits.MinMemoryMapAlignment),
			NonCoherentAtomSize:     uint64(limits.NonCoherentAtomSize),
			TimestampPeriod:         limits.TimestampPeriod,
			MaxComputeWorkGroupSize: limits.MaxComputeWorkGroupSize,
		},
	}
}

func convertMemoryProperties(memory *vk.PhysicalDeviceMemoryProperties) vkapi.MemoryProperties {
	memory.Deref()
	out := vkapi.MemoryProperties{
		Types: make([]vkapi.MemoryType, memory.MemoryTypeCount),
		Heaps: make([]vkapi.MemoryHeap, memory.MemoryHeapCount),
	}
	for i := range out.Types {
		memory.MemoryTypes[i].Deref()
		out.Types[i] = vkapi.MemoryType{
			PropertyFlags: vkapi.MemoryPropertyFlags(memory.MemoryTypes[i].PropertyFlags),
			HeapIndex:     memory.MemoryTypes[i].HeapIndex,
		}
	}
	for i := range out.Heaps {
		memory.MemoryHeaps[i].Deref()
		out.Heaps[i] = vkapi.MemoryHeap{
			Size:  uint64(memory.MemoryHeaps[i].Size),
			Flags: uint32(memory.MemoryHeaps[i].Flags),
		}
	}
	return out
}

var end = "\x00"
var endChar byte = '\x00'

func safeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}
