package vulkan

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// VulkanDescriptorSetBinding declares one binding of a descriptor set.
type VulkanDescriptorSetBinding struct {
	Name string
	Type vkapi.DescriptorType
	// Elements is the array size. Zero is treated as one.
	Elements uint32
	Stages   vkapi.ShaderStageFlags
	Samplers []vkapi.Sampler
}

// VulkanDescriptorSet is a descriptor set stored in a descriptor buffer.
// ReadOnly sets are shared by all execution contexts, the others hold one
// AlignedSize region per context.
type VulkanDescriptorSet struct {
	Layout         vkapi.DescriptorSetLayout
	Bindings       []VulkanDescriptorSetBinding
	BindingOffsets []uint64
	LayoutSize     uint64
	AlignedSize    uint64
	ReadOnly       bool
	Usage          vkapi.BufferUsageFlags

	// Buffer backs the descriptors once the pipeline is registered.
	Buffer *VulkanBuffer
}

// DescriptorTypeError reports a descriptor write that does not match the
// type declared by the binding.
type DescriptorTypeError struct {
	Set      int
	Binding  int
	Declared vkapi.DescriptorType
	Write    string
}

func (e *DescriptorTypeError) Error() string {
	return fmt.Sprintf("invalid descriptor type at set %d binding %d: %s cannot take a %s write",
		e.Set, e.Binding, e.Declared, e.Write)
}

func (e *DescriptorTypeError) Unwrap() error {
	return core.ErrInvalidArgument
}

// IsDescriptorTypeError reports whether err is a DescriptorTypeError.
func IsDescriptorTypeError(err error) bool {
	var dte *DescriptorTypeError
	return errors.As(err, &dte)
}

// AddDescriptorSet creates a descriptor buffer layout for bindings and
// appends the set to the pipeline.
func (c *VulkanContext) AddDescriptorSet(pl *VulkanPipeline, bindings []VulkanDescriptorSetBinding, readOnly bool) (*VulkanDescriptorSet, error) {
	if !c.Extensions.Has(vkapi.ExtDescriptorBuffer) {
		err := fmt.Errorf("descriptor sets need the descriptor buffer extension: %w", core.ErrInvalidArgument)
		core.LogError(err.Error())
		return nil, err
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("descriptor set without bindings: %w", core.ErrInvalidArgument)
	}

	set := &VulkanDescriptorSet{
		Bindings:       make([]VulkanDescriptorSetBinding, len(bindings)),
		BindingOffsets: make([]uint64, len(bindings)),
		ReadOnly:       readOnly,
		Usage:          vkapi.BufferUsageResourceDescriptorBuffer | vkapi.BufferUsageShaderDeviceAddress,
	}
	copy(set.Bindings, bindings)

	layoutBindings := make([]vkapi.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		count := b.Elements
		if count < 1 {
			count = 1
		}
		layoutBindings[i] = vkapi.DescriptorSetLayoutBinding{
			Binding:           uint32(i),
			DescriptorType:    b.Type,
			DescriptorCount:   count,
			StageFlags:        b.Stages,
			ImmutableSamplers: b.Samplers,
		}
		if b.Type == vkapi.DescriptorTypeSampler || b.Type == vkapi.DescriptorTypeCombinedImageSampler {
			set.Usage |= vkapi.BufferUsageSamplerDescriptorBuffer
		}
	}

	err := c.lockPool.SafeCall(DescriptorManagement, func() error {
		layout, res := c.Driver.CreateDescriptorSetLayout(vkapi.DescriptorSetLayoutCreateInfo{
			Flags:    vkapi.DescriptorSetLayoutCreateDescriptorBuffer,
			Bindings: layoutBindings,
		})
		if res != vkapi.Success {
			return fmt.Errorf("unable to init descriptor set layout: %s: %w", res, core.ErrExternal)
		}
		set.Layout = layout
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	set.LayoutSize = c.Driver.GetDescriptorSetLayoutSize(set.Layout)
	set.AlignedSize = AlignUp(set.LayoutSize, c.Properties.DescriptorBuffer.DescriptorBufferOffsetAlignment)
	for i := range bindings {
		set.BindingOffsets[i] = c.Driver.GetDescriptorSetLayoutBindingOffset(set.Layout, uint32(i))
	}

	pl.DescriptorSets = append(pl.DescriptorSets, set)
	return set, nil
}

// DescriptorSize returns the size in bytes of one descriptor of type t.
func (c *VulkanContext) DescriptorSize(t vkapi.DescriptorType) (uint64, bool) {
	p := c.Properties.DescriptorBuffer
	switch t {
	case vkapi.DescriptorTypeSampler:
		return p.SamplerDescriptorSize, true
	case vkapi.DescriptorTypeCombinedImageSampler:
		return p.CombinedImageSamplerDescriptorSize, true
	case vkapi.DescriptorTypeSampledImage:
		return p.SampledImageDescriptorSize, true
	case vkapi.DescriptorTypeStorageImage:
		return p.StorageImageDescriptorSize, true
	case vkapi.DescriptorTypeInputAttachment:
		return p.InputAttachmentDescriptorSize, true
	case vkapi.DescriptorTypeUniformBuffer:
		return p.UniformBufferDescriptorSize, true
	case vkapi.DescriptorTypeStorageBuffer:
		return p.StorageBufferDescriptorSize, true
	case vkapi.DescriptorTypeUniformTexelBuffer:
		return p.UniformTexelBufferDescriptorSize, true
	case vkapi.DescriptorTypeStorageTexelBuffer:
		return p.StorageTexelBufferDescriptorSize, true
	}
	return 0, false
}

// DescriptorOffset returns the byte offset of a descriptor inside the
// set's backing buffer for the execution context at slot.
func (set *VulkanDescriptorSet) DescriptorOffset(slot int, binding int, elem uint32, descSize uint64) uint64 {
	var execOffset uint64
	if !set.ReadOnly {
		execOffset = set.AlignedSize * uint64(slot)
	}
	return execOffset + set.BindingOffsets[binding] + uint64(elem)*descSize
}

func (c *VulkanContext) setDescriptor(e *VulkanExecContext, pl *VulkanPipeline, setIdx, binding int, elem uint32, info vkapi.DescriptorGetInfo) error {
	if setIdx < 0 || setIdx >= len(pl.DescriptorSets) {
		return fmt.Errorf("descriptor set %d out of range: %w", setIdx, core.ErrInvalidArgument)
	}
	set := pl.DescriptorSets[setIdx]
	if binding < 0 || binding >= len(set.Bindings) {
		return fmt.Errorf("binding %d out of range in set %d: %w", binding, setIdx, core.ErrInvalidArgument)
	}
	if set.Buffer == nil || set.Buffer.Mapped == nil {
		return fmt.Errorf("pipeline '%s' is not registered with a pool: %w", pl.Name, core.ErrInvalidArgument)
	}
	if count := set.Bindings[binding].Elements; elem >= max(count, 1) {
		return fmt.Errorf("element %d out of range in set %d binding %d (%d elements): %w",
			elem, setIdx, binding, count, core.ErrInvalidArgument)
	}
	if !set.ReadOnly && e.Index >= pl.poolSize {
		return fmt.Errorf("execution context %d is outside the registered pool: %w", e.Index, core.ErrInvalidArgument)
	}

	descSize, ok := c.DescriptorSize(info.Type)
	if !ok {
		err := &DescriptorTypeError{Set: setIdx, Binding: binding, Declared: info.Type, Write: "descriptor"}
		core.LogError(err.Error())
		return err
	}

	off := set.DescriptorOffset(e.Index, binding, elem, descSize)
	if off+descSize > uint64(len(set.Buffer.Mapped)) {
		return fmt.Errorf("descriptor write at %d overruns set %d: %w", off, setIdx, core.ErrInvalidArgument)
	}
	c.Driver.GetDescriptor(info, set.Buffer.Mapped[off:off+descSize])
	return nil
}

func (pl *VulkanPipeline) bindingType(setIdx, binding int) (vkapi.DescriptorType, bool) {
	if setIdx < 0 || setIdx >= len(pl.DescriptorSets) {
		return 0, false
	}
	set := pl.DescriptorSets[setIdx]
	if binding < 0 || binding >= len(set.Bindings) {
		return 0, false
	}
	return set.Bindings[binding].Type, true
}

// SetDescriptorSampler writes a sampler descriptor.
func (c *VulkanContext) SetDescriptorSampler(e *VulkanExecContext, pl *VulkanPipeline, set, binding int, elem uint32, sampler vkapi.Sampler) error {
	t, ok := pl.bindingType(set, binding)
	if !ok {
		return fmt.Errorf("no binding %d in set %d: %w", binding, set, core.ErrInvalidArgument)
	}
	if t != vkapi.DescriptorTypeSampler {
		err := &DescriptorTypeError{Set: set, Binding: binding, Declared: t, Write: "sampler"}
		core.LogError(err.Error())
		return err
	}
	return c.setDescriptor(e, pl, set, binding, elem, vkapi.SamplerDescriptorInfo(sampler))
}

// SetDescriptorImage writes a sampled image, storage image, input
// attachment or combined image sampler descriptor, following the type the
// binding was declared with.
func (c *VulkanContext) SetDescriptorImage(e *VulkanExecContext, pl *VulkanPipeline, set, binding int, elem uint32,
	view vkapi.ImageView, layout vkapi.ImageLayout, sampler vkapi.Sampler) error {
	t, ok := pl.bindingType(set, binding)
	if !ok {
		return fmt.Errorf("no binding %d in set %d: %w", binding, set, core.ErrInvalidArgument)
	}

	info := vkapi.DescriptorImageInfo{
		ImageView:   view,
		ImageLayout: layout,
	}
	switch t {
	case vkapi.DescriptorTypeCombinedImageSampler:
		info.Sampler = sampler
	case vkapi.DescriptorTypeSampledImage, vkapi.DescriptorTypeStorageImage, vkapi.DescriptorTypeInputAttachment:
	default:
		err := &DescriptorTypeError{Set: set, Binding: binding, Declared: t, Write: "image"}
		core.LogError(err.Error())
		return err
	}
	return c.setDescriptor(e, pl, set, binding, elem, vkapi.ImageDescriptorInfo(t, info))
}

// SetDescriptorBuffer writes a uniform or storage buffer descriptor, or a
// texel buffer descriptor with the given format.
func (c *VulkanContext) SetDescriptorBuffer(e *VulkanExecContext, pl *VulkanPipeline, set, binding int, elem uint32,
	addr vkapi.DeviceAddress, length uint64, format vkapi.Format) error {
	t, ok := pl.bindingType(set, binding)
	if !ok {
		return fmt.Errorf("no binding %d in set %d: %w", binding, set, core.ErrInvalidArgument)
	}

	switch t {
	case vkapi.DescriptorTypeUniformBuffer, vkapi.DescriptorTypeStorageBuffer,
		vkapi.DescriptorTypeUniformTexelBuffer, vkapi.DescriptorTypeStorageTexelBuffer:
	default:
		err := &DescriptorTypeError{Set: set, Binding: binding, Declared: t, Write: "buffer"}
		core.LogError(err.Error())
		return err
	}
	return c.setDescriptor(e, pl, set, binding, elem, vkapi.AddressDescriptorInfo(t, vkapi.DescriptorAddressInfo{
		Address: addr,
		Range:   length,
		Format:  format,
	}))
}

// UpdateDescriptorImageArray writes one image descriptor per plane of the
// frame, plane i going to array element i.
func (c *VulkanContext) UpdateDescriptorImageArray(e *VulkanExecContext, pl *VulkanPipeline, f *VulkanFrame,
	set, binding int, layout vkapi.ImageLayout, sampler vkapi.Sampler) error {
	for i, view := range f.Views {
		if err := c.SetDescriptorImage(e, pl, set, binding, uint32(i), view, layout, sampler); err != nil {
			return err
		}
	}
	return nil
}
