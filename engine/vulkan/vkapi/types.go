package vkapi

// Object handles. The zero value is the null handle.
type (
	Queue               uint64
	CommandPool         uint64
	CommandBuffer       uint64
	Fence               uint64
	Semaphore           uint64
	QueryPool           uint64
	Buffer              uint64
	DeviceMemory        uint64
	Image               uint64
	ImageView           uint64
	Sampler             uint64
	DescriptorSetLayout uint64
	PipelineLayout      uint64
	ShaderModule        uint64
	Pipeline            uint64
)

type DeviceAddress uint64

const (
	// WholeSize maps or flushes up to the end of the allocation.
	WholeSize = ^uint64(0)
	// QueueFamilyIgnored leaves queue family ownership untouched in a barrier.
	QueueFamilyIgnored = ^uint32(0)
	// WaitForever is the timeout used for host waits that never give up.
	WaitForever = ^uint64(0)
)

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal     MemoryPropertyFlags = 0x00000001
	MemoryPropertyHostVisible     MemoryPropertyFlags = 0x00000002
	MemoryPropertyHostCoherent    MemoryPropertyFlags = 0x00000004
	MemoryPropertyHostCached      MemoryPropertyFlags = 0x00000008
	MemoryPropertyLazilyAllocated MemoryPropertyFlags = 0x00000010

	// MemoryPropertyDontCare selects the first memory type allowed by the
	// requirements regardless of its property flags.
	MemoryPropertyDontCare MemoryPropertyFlags = 0xFFFFFFFF
)

type MemoryAllocateFlags uint32

const MemoryAllocateDeviceAddress MemoryAllocateFlags = 0x00000002

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc              BufferUsageFlags = 0x00000001
	BufferUsageTransferDst              BufferUsageFlags = 0x00000002
	BufferUsageUniformTexelBuffer       BufferUsageFlags = 0x00000004
	BufferUsageStorageTexelBuffer       BufferUsageFlags = 0x00000008
	BufferUsageUniformBuffer            BufferUsageFlags = 0x00000010
	BufferUsageStorageBuffer            BufferUsageFlags = 0x00000020
	BufferUsageIndexBuffer              BufferUsageFlags = 0x00000040
	BufferUsageVertexBuffer             BufferUsageFlags = 0x00000080
	BufferUsageIndirectBuffer           BufferUsageFlags = 0x00000100
	BufferUsageShaderDeviceAddress      BufferUsageFlags = 0x00020000
	BufferUsageSamplerDescriptorBuffer  BufferUsageFlags = 0x00200000
	BufferUsageResourceDescriptorBuffer BufferUsageFlags = 0x00400000
)

type CommandPoolCreateFlags uint32

const (
	CommandPoolCreateTransient          CommandPoolCreateFlags = 0x00000001
	CommandPoolCreateResetCommandBuffer CommandPoolCreateFlags = 0x00000002
)

type CommandBufferUsageFlags uint32

const CommandBufferUsageOneTimeSubmit CommandBufferUsageFlags = 0x00000001

type QueueFlags uint32

const (
	QueueGraphics    QueueFlags = 0x00000001
	QueueCompute     QueueFlags = 0x00000002
	QueueTransfer    QueueFlags = 0x00000004
	QueueVideoDecode QueueFlags = 0x00000020
	QueueVideoEncode QueueFlags = 0x00000040
)

type PipelineStageFlags2 uint64

const (
	PipelineStage2None          PipelineStageFlags2 = 0
	PipelineStage2TopOfPipe     PipelineStageFlags2 = 0x00000001
	PipelineStage2ComputeShader PipelineStageFlags2 = 0x00000800
	PipelineStage2AllTransfer   PipelineStageFlags2 = 0x00001000
	PipelineStage2BottomOfPipe  PipelineStageFlags2 = 0x00002000
	PipelineStage2Host          PipelineStageFlags2 = 0x00004000
	PipelineStage2AllCommands   PipelineStageFlags2 = 0x00010000
	PipelineStage2VideoDecode   PipelineStageFlags2 = 0x04000000
	PipelineStage2VideoEncode   PipelineStageFlags2 = 0x08000000
)

type AccessFlags2 uint64

const (
	Access2None               AccessFlags2 = 0
	Access2ShaderRead         AccessFlags2 = 0x00000020
	Access2ShaderWrite        AccessFlags2 = 0x00000040
	Access2TransferRead       AccessFlags2 = 0x00000800
	Access2TransferWrite      AccessFlags2 = 0x00001000
	Access2HostRead           AccessFlags2 = 0x00002000
	Access2HostWrite          AccessFlags2 = 0x00004000
	Access2MemoryRead         AccessFlags2 = 0x00008000
	Access2MemoryWrite        AccessFlags2 = 0x00010000
	Access2ShaderSampledRead  AccessFlags2 = 0x100000000
	Access2ShaderStorageRead  AccessFlags2 = 0x200000000
	Access2ShaderStorageWrite AccessFlags2 = 0x400000000
)

type ImageLayout int32

const (
	ImageLayoutUndefined             ImageLayout = 0
	ImageLayoutGeneral               ImageLayout = 1
	ImageLayoutShaderReadOnlyOptimal ImageLayout = 5
	ImageLayoutTransferSrcOptimal    ImageLayout = 6
	ImageLayoutTransferDstOptimal    ImageLayout = 7
)

type ImageAspectFlags uint32

const (
	ImageAspectColor  ImageAspectFlags = 0x00000001
	ImageAspectPlane0 ImageAspectFlags = 0x00000010
	ImageAspectPlane1 ImageAspectFlags = 0x00000020
	ImageAspectPlane2 ImageAspectFlags = 0x00000040
)

type DescriptorType int32

const (
	DescriptorTypeSampler              DescriptorType = 0
	DescriptorTypeCombinedImageSampler DescriptorType = 1
	DescriptorTypeSampledImage         DescriptorType = 2
	DescriptorTypeStorageImage         DescriptorType = 3
	DescriptorTypeUniformTexelBuffer   DescriptorType = 4
	DescriptorTypeStorageTexelBuffer   DescriptorType = 5
	DescriptorTypeUniformBuffer        DescriptorType = 6
	DescriptorTypeStorageBuffer        DescriptorType = 7
	DescriptorTypeInputAttachment      DescriptorType = 10
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeSampler:
		return "sampler"
	case DescriptorTypeCombinedImageSampler:
		return "combined_image_sampler"
	case DescriptorTypeSampledImage:
		return "sampled_image"
	case DescriptorTypeStorageImage:
		return "storage_image"
	case DescriptorTypeUniformTexelBuffer:
		return "uniform_texel_buffer"
	case DescriptorTypeStorageTexelBuffer:
		return "storage_texel_buffer"
	case DescriptorTypeUniformBuffer:
		return "uniform_buffer"
	case DescriptorTypeStorageBuffer:
		return "storage_buffer"
	case DescriptorTypeInputAttachment:
		return "input_attachment"
	}
	return "unknown"
}

type ShaderStageFlags uint32

const (
	ShaderStageVertex   ShaderStageFlags = 0x00000001
	ShaderStageFragment ShaderStageFlags = 0x00000010
	ShaderStageCompute  ShaderStageFlags = 0x00000020
)

type DescriptorSetLayoutCreateFlags uint32

const DescriptorSetLayoutCreateDescriptorBuffer DescriptorSetLayoutCreateFlags = 0x00000010

type PipelineCreateFlags uint32

const PipelineCreateDescriptorBuffer PipelineCreateFlags = 0x20000000

type PipelineBindPoint int32

const (
	PipelineBindPointGraphics PipelineBindPoint = 0
	PipelineBindPointCompute  PipelineBindPoint = 1
)

type QueryType int32

const (
	QueryTypeOcclusion           QueryType = 0
	QueryTypePipelineStatistics  QueryType = 1
	QueryTypeTimestamp           QueryType = 2
	QueryTypeResultStatusOnly    QueryType = 1000023000
	QueryTypeVideoEncodeFeedback QueryType = 1000299000
)

type QueryResultFlags uint32

const (
	QueryResult64               QueryResultFlags = 0x00000001
	QueryResultWait             QueryResultFlags = 0x00000002
	QueryResultWithAvailability QueryResultFlags = 0x00000004
	QueryResultPartial          QueryResultFlags = 0x00000008
	QueryResultWithStatus       QueryResultFlags = 0x00000010
)

type Format int32

const FormatUndefined Format = 0

// Extensions is a bitmask of the device extensions a context was created with.
type Extensions uint64

const (
	ExtTimelineSemaphore Extensions = 1 << iota
	ExtSynchronization2
	ExtBufferDeviceAddress
	ExtDescriptorBuffer
	ExtVideoQueue
	ExtVideoDecodeQueue
	ExtVideoEncodeQueue
	ExtExternalMemoryHost
)

func (e Extensions) Has(ext Extensions) bool {
	return e&ext == ext
}

type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
	HeapIndex     uint32
}

type MemoryHeap struct {
	Size  uint64
	Flags uint32
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type MemoryDedicatedRequirements struct {
	PrefersDedicatedAllocation  bool
	RequiresDedicatedAllocation bool
}

type Limits struct {
	MinMemoryMapAlignment   uint64
	NonCoherentAtomSize     uint64
	TimestampPeriod         float32
	MaxComputeWorkGroupSize [3]uint32
}

// DescriptorBufferProperties mirrors the descriptor buffer extension limits.
type DescriptorBufferProperties struct {
	DescriptorBufferOffsetAlignment    uint64
	SamplerDescriptorSize              uint64
	CombinedImageSamplerDescriptorSize uint64
	SampledImageDescriptorSize         uint64
	StorageImageDescriptorSize         uint64
	UniformTexelBufferDescriptorSize   uint64
	StorageTexelBufferDescriptorSize   uint64
	UniformBufferDescriptorSize        uint64
	StorageBufferDescriptorSize        uint64
	InputAttachmentDescriptorSize      uint64
}

type PhysicalDeviceProperties struct {
	DeviceName       string
	APIVersion       uint32
	DriverVersion    uint32
	Limits           Limits
	DescriptorBuffer DescriptorBufferProperties
}

// QueueFamilyInfo describes the family the device advertises for one
// purpose. Index is negative when no family was advertised.
type QueueFamilyInfo struct {
	Index int32
	Count uint32
}

type CommandPoolCreateInfo struct {
	Flags            CommandPoolCreateFlags
	QueueFamilyIndex uint32
}

type QueryPoolCreateInfo struct {
	QueryType  QueryType
	QueryCount uint32
	Next       []any
}

type BufferCreateInfo struct {
	Size  uint64
	Usage BufferUsageFlags
	Next  []any
}

type MemoryAllocateInfo struct {
	AllocationSize  uint64
	MemoryTypeIndex uint32
	Next            []any
}

type MemoryDedicatedAllocateInfo struct {
	Buffer Buffer
	Image  Image
}

type MemoryAllocateFlagsInfo struct {
	Flags MemoryAllocateFlags
}

type MappedMemoryRange struct {
	Memory DeviceMemory
	Offset uint64
	Size   uint64
}

type SemaphoreSubmitInfo struct {
	Semaphore   Semaphore
	Value       uint64
	StageMask   PipelineStageFlags2
	DeviceIndex uint32
}

type CommandBufferSubmitInfo struct {
	CommandBuffer CommandBuffer
}

type SubmitInfo2 struct {
	WaitSemaphoreInfos   []SemaphoreSubmitInfo
	CommandBufferInfos   []CommandBufferSubmitInfo
	SignalSemaphoreInfos []SemaphoreSubmitInfo
}

type ImageSubresourceRange struct {
	AspectMask     ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

type ImageMemoryBarrier2 struct {
	SrcStageMask        PipelineStageFlags2
	SrcAccessMask       AccessFlags2
	DstStageMask        PipelineStageFlags2
	DstAccessMask       AccessFlags2
	OldLayout           ImageLayout
	NewLayout           ImageLayout
	SrcQueueFamilyIndex uint32
	DstQueueFamilyIndex uint32
	Image               Image
	SubresourceRange    ImageSubresourceRange
}

type BufferMemoryBarrier2 struct {
	SrcStageMask        PipelineStageFlags2
	SrcAccessMask       AccessFlags2
	DstStageMask        PipelineStageFlags2
	DstAccessMask       AccessFlags2
	SrcQueueFamilyIndex uint32
	DstQueueFamilyIndex uint32
	Buffer              Buffer
	Offset              uint64
	Size                uint64
}

type DependencyInfo struct {
	BufferMemoryBarriers []BufferMemoryBarrier2
	ImageMemoryBarriers  []ImageMemoryBarrier2
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type DescriptorSetLayoutBinding struct {
	Binding           uint32
	DescriptorType    DescriptorType
	DescriptorCount   uint32
	StageFlags        ShaderStageFlags
	ImmutableSamplers []Sampler
}

type DescriptorSetLayoutCreateInfo struct {
	Flags    DescriptorSetLayoutCreateFlags
	Bindings []DescriptorSetLayoutBinding
}

type PushConstantRange struct {
	StageFlags ShaderStageFlags
	Offset     uint32
	Size       uint32
}

type PipelineLayoutCreateInfo struct {
	SetLayouts         []DescriptorSetLayout
	PushConstantRanges []PushConstantRange
}

type PipelineShaderStageCreateInfo struct {
	Stage  ShaderStageFlags
	Module ShaderModule
	Name   string
}

type ComputePipelineCreateInfo struct {
	Flags  PipelineCreateFlags
	Stage  PipelineShaderStageCreateInfo
	Layout PipelineLayout
}

type DescriptorBufferBindingInfo struct {
	Address DeviceAddress
	Usage   BufferUsageFlags
}

// FindNext returns the first element of an extension chain of type T.
func FindNext[T any](chain []any) (T, bool) {
	for _, n := range chain {
		if v, ok := n.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
