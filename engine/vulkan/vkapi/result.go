package vkapi

// Result is the status code returned by every Driver call.
type Result int32

const (
	Success                    Result = 0
	NotReady                   Result = 1
	Timeout                    Result = 2
	EventSet                   Result = 3
	EventReset                 Result = 4
	Incomplete                 Result = 5
	ErrorOutOfHostMemory       Result = -1
	ErrorOutOfDeviceMemory     Result = -2
	ErrorInitializationFailed  Result = -3
	ErrorDeviceLost            Result = -4
	ErrorMemoryMapFailed       Result = -5
	ErrorLayerNotPresent       Result = -6
	ErrorExtensionNotPresent   Result = -7
	ErrorFeatureNotPresent     Result = -8
	ErrorIncompatibleDriver    Result = -9
	ErrorTooManyObjects        Result = -10
	ErrorFormatNotSupported    Result = -11
	ErrorFragmentedPool        Result = -12
	ErrorUnknown               Result = -13
	ErrorOutOfPoolMemory       Result = -1000069000
	ErrorInvalidExternalHandle Result = -1000072003
	ErrorFragmentation         Result = -1000161000
	ErrorInvalidDeviceAddress  Result = -1000257000
)

func (r Result) String() string {
	return r.describe(false)
}

// Describe returns the code name followed by a human readable explanation.
func (r Result) Describe() string {
	return r.describe(true)
}

func (r Result) describe(extended bool) string {
	// From: https://www.khronos.org/registry/vulkan/specs/1.3-extensions/man/html/VkResult.html
	switch r {
	case Success:
		return conditional(!extended, "VK_SUCCESS", "VK_SUCCESS Command successfully completed")
	case NotReady:
		return conditional(!extended, "VK_NOT_READY", "VK_NOT_READY A fence or query has not yet completed")
	case Timeout:
		return conditional(!extended, "VK_TIMEOUT", "VK_TIMEOUT A wait operation has not completed in the specified time")
	case EventSet:
		return conditional(!extended, "VK_EVENT_SET", "VK_EVENT_SET An event is signaled")
	case EventReset:
		return conditional(!extended, "VK_EVENT_RESET", "VK_EVENT_RESET An event is unsignaled")
	case Incomplete:
		return conditional(!extended, "VK_INCOMPLETE", "VK_INCOMPLETE A return array was too small for the result")

	// Error codes
	case ErrorOutOfHostMemory:
		return conditional(!extended, "VK_ERROR_OUT_OF_HOST_MEMORY", "VK_ERROR_OUT_OF_HOST_MEMORY A host memory allocation has failed.")
	case ErrorOutOfDeviceMemory:
		return conditional(!extended, "VK_ERROR_OUT_OF_DEVICE_MEMORY", "VK_ERROR_OUT_OF_DEVICE_MEMORY A device memory allocation has failed.")
	case ErrorInitializationFailed:
		return conditional(!extended, "VK_ERROR_INITIALIZATION_FAILED", "VK_ERROR_INITIALIZATION_FAILED Initialization of an object could not be completed for implementation-specific reasons.")
	case ErrorDeviceLost:
		return conditional(!extended, "VK_ERROR_DEVICE_LOST", "VK_ERROR_DEVICE_LOST The logical or physical device has been lost.")
	case ErrorMemoryMapFailed:
		return conditional(!extended, "VK_ERROR_MEMORY_MAP_FAILED", "VK_ERROR_MEMORY_MAP_FAILED Mapping of a memory object has failed.")
	case ErrorLayerNotPresent:
		return conditional(!extended, "VK_ERROR_LAYER_NOT_PRESENT", "VK_ERROR_LAYER_NOT_PRESENT A requested layer is not present or could not be loaded.")
	case ErrorExtensionNotPresent:
		return conditional(!extended, "VK_ERROR_EXTENSION_NOT_PRESENT", "VK_ERROR_EXTENSION_NOT_PRESENT A requested extension is not supported.")
	case ErrorFeatureNotPresent:
		return conditional(!extended, "VK_ERROR_FEATURE_NOT_PRESENT", "VK_ERROR_FEATURE_NOT_PRESENT A requested feature is not supported.")
	case ErrorIncompatibleDriver:
		return conditional(!extended, "VK_ERROR_INCOMPATIBLE_DRIVER", "VK_ERROR_INCOMPATIBLE_DRIVER The requested version of Vulkan is not supported by the driver.")
	case ErrorTooManyObjects:
		return conditional(!extended, "VK_ERROR_TOO_MANY_OBJECTS", "VK_ERROR_TOO_MANY_OBJECTS Too many objects of the type have already been created.")
	case ErrorFormatNotSupported:
		return conditional(!extended, "VK_ERROR_FORMAT_NOT_SUPPORTED", "VK_ERROR_FORMAT_NOT_SUPPORTED A requested format is not supported on this device.")
	case ErrorFragmentedPool:
		return conditional(!extended, "VK_ERROR_FRAGMENTED_POOL", "VK_ERROR_FRAGMENTED_POOL A pool allocation has failed due to fragmentation of the pool's memory.")
	case ErrorOutOfPoolMemory:
		return conditional(!extended, "VK_ERROR_OUT_OF_POOL_MEMORY", "VK_ERROR_OUT_OF_POOL_MEMORY A pool memory allocation has failed.")
	case ErrorInvalidExternalHandle:
		return conditional(!extended, "VK_ERROR_INVALID_EXTERNAL_HANDLE", "VK_ERROR_INVALID_EXTERNAL_HANDLE An external handle is not a valid handle of the specified type.")
	case ErrorFragmentation:
		return conditional(!extended, "VK_ERROR_FRAGMENTATION", "VK_ERROR_FRAGMENTATION A descriptor pool creation has failed due to fragmentation.")
	case ErrorInvalidDeviceAddress:
		return conditional(!extended, "VK_ERROR_INVALID_DEVICE_ADDRESS_EXT", "VK_ERROR_INVALID_DEVICE_ADDRESS_EXT A buffer creation failed because the requested address is not available.")
	}
	return conditional(!extended, "VK_ERROR_UNKNOWN", "VK_ERROR_UNKNOWN An unknown error has occurred.")
}

// IsSuccess reports whether r is a success code. Non-negative codes such as
// NotReady or Timeout are successes that carry a status.
func (r Result) IsSuccess() bool {
	return r >= 0
}

// Err returns nil for Success and r itself otherwise.
func (r Result) Err() error {
	if r == Success {
		return nil
	}
	return r
}

func (r Result) Error() string {
	return r.String()
}

func conditional(condition bool, res1, res2 string) string {
	if condition {
		return res1
	}
	return res2
}
