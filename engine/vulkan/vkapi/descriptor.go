package vkapi

type DescriptorImageInfo struct {
	Sampler     Sampler
	ImageView   ImageView
	ImageLayout ImageLayout
}

type DescriptorAddressInfo struct {
	Address DeviceAddress
	Range   uint64
	Format  Format
}

// DescriptorData is the payload of a DescriptorGetInfo. It is one of
// SamplerDescriptor, ImageDescriptor or AddressDescriptor.
type DescriptorData interface {
	descriptorData()
}

type SamplerDescriptor struct {
	Sampler Sampler
}

type ImageDescriptor struct {
	Info DescriptorImageInfo
}

type AddressDescriptor struct {
	Info DescriptorAddressInfo
}

func (SamplerDescriptor) descriptorData() {}
func (ImageDescriptor) descriptorData()   {}
func (AddressDescriptor) descriptorData() {}

// DescriptorGetInfo describes the opaque descriptor bytes to write into a
// descriptor buffer.
type DescriptorGetInfo struct {
	Type DescriptorType
	Data DescriptorData
}

func SamplerDescriptorInfo(s Sampler) DescriptorGetInfo {
	return DescriptorGetInfo{
		Type: DescriptorTypeSampler,
		Data: SamplerDescriptor{Sampler: s},
	}
}

// ImageDescriptorInfo builds the info for sampled, storage, input attachment
// and combined image sampler descriptors.
func ImageDescriptorInfo(t DescriptorType, info DescriptorImageInfo) DescriptorGetInfo {
	return DescriptorGetInfo{Type: t, Data: ImageDescriptor{Info: info}}
}

// AddressDescriptorInfo builds the info for uniform/storage buffers and
// uniform/storage texel buffers.
func AddressDescriptorInfo(t DescriptorType, info DescriptorAddressInfo) DescriptorGetInfo {
	return DescriptorGetInfo{Type: t, Data: AddressDescriptor{Info: info}}
}
