package vulkan

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

/**
 * @brief Holds a pipeline, its layout and the descriptor buffers it reads
 * its descriptors from.
 */
type VulkanPipeline struct {
	ID   uuid.UUID
	Name string
	/** @brief The internal pipeline handle. */
	Handle vkapi.Pipeline
	/** @brief The pipeline layout. */
	Layout    vkapi.PipelineLayout
	BindPoint vkapi.PipelineBindPoint
	/** @brief Local workgroup size of the compute shader. */
	WorkgroupSize [3]uint32
	/** @brief An array of push constant data ranges. */
	PushConstants []vkapi.PushConstantRange
	/** @brief The descriptor sets, in set index order. */
	DescriptorSets []*VulkanDescriptorSet

	descBindings []vkapi.DescriptorBufferBindingInfo
	bindIndices  []uint32
	poolSize     int
}

func NewVulkanPipeline(name string) *VulkanPipeline {
	return &VulkanPipeline{
		ID:   uuid.New(),
		Name: name,
	}
}

func (pl *VulkanPipeline) AddPushConstant(offset, size uint32, stages vkapi.ShaderStageFlags) {
	pl.PushConstants = append(pl.PushConstants, vkapi.PushConstantRange{
		StageFlags: stages,
		Offset:     offset,
		Size:       size,
	})
}

// DescriptorBindings returns the descriptor buffer binding infos recorded
// by RegisterPipeline.
func (pl *VulkanPipeline) DescriptorBindings() []vkapi.DescriptorBufferBindingInfo {
	return pl.descBindings
}

// RegisterPipeline allocates the descriptor buffers of every set for use
// by the contexts of pool. Read-only sets get one region, the others one
// region per context.
func (c *VulkanContext) RegisterPipeline(pool *VulkanExecPool, pl *VulkanPipeline) error {
	if pl.descBindings != nil {
		return fmt.Errorf("pipeline '%s' is already registered: %w", pl.Name, core.ErrInvalidArgument)
	}

	bindings := make([]vkapi.DescriptorBufferBindingInfo, 0, len(pl.DescriptorSets))
	indices := make([]uint32, 0, len(pl.DescriptorSets))
	created := make([]*VulkanBuffer, 0, len(pl.DescriptorSets))

	for i, set := range pl.DescriptorSets {
		size := set.AlignedSize
		if !set.ReadOnly {
			size *= uint64(pool.Size())
		}

		buf, err := c.CreateBuffer(size, set.Usage,
			vkapi.MemoryPropertyHostVisible|vkapi.MemoryPropertyHostCoherent|vkapi.MemoryPropertyDeviceLocal,
			nil, nil)
		if err == nil {
			_, err = c.MapBuffer(buf, false)
			if err != nil {
				c.FreeBuffer(buf)
			}
		}
		if err != nil {
			for _, b := range created {
				c.FreeBuffer(b)
			}
			for _, s := range pl.DescriptorSets[:i] {
				s.Buffer = nil
			}
			return err
		}
		created = append(created, buf)
		set.Buffer = buf

		bindings = append(bindings, vkapi.DescriptorBufferBindingInfo{
			Usage:   set.Usage,
			Address: buf.Address,
		})
		indices = append(indices, uint32(i))
	}

	pl.descBindings = bindings
	pl.bindIndices = indices
	pl.poolSize = pool.Size()

	core.LogDebug("pipeline '%s' (%s) registered with pool %s: %d descriptor sets",
		pl.Name, pl.ID, pool.ID, len(pl.DescriptorSets))
	return nil
}

// BindPipeline binds the pipeline and its descriptor buffers, each set at
// the region of the context.
func (c *VulkanContext) BindPipeline(e *VulkanExecContext, pl *VulkanPipeline) {
	cb := e.Buf.Handle

	c.Driver.CmdBindPipeline(cb, pl.BindPoint, pl.Handle)

	if len(pl.DescriptorSets) > 0 {
		offsets := make([]uint64, len(pl.DescriptorSets))
		for i, set := range pl.DescriptorSets {
			if !set.ReadOnly {
				offsets[i] = set.AlignedSize * uint64(e.Index)
			}
		}

		// Bind descriptor buffers
		c.Driver.CmdBindDescriptorBuffers(cb, pl.descBindings)
		// Binding offsets
		c.Driver.CmdSetDescriptorBufferOffsets(cb, pl.BindPoint, pl.Layout, 0, pl.bindIndices, offsets)
	}
}

func (c *VulkanContext) PushConstants(e *VulkanExecContext, pl *VulkanPipeline, stages vkapi.ShaderStageFlags, offset uint32, data []byte) {
	c.Driver.CmdPushConstants(e.Buf.Handle, pl.Layout, stages, offset, data)
}

// InitComputePipeline creates the pipeline layout and the compute pipeline
// for shader.
func (c *VulkanContext) InitComputePipeline(pl *VulkanPipeline, shader *VulkanShader) error {
	layouts := make([]vkapi.DescriptorSetLayout, len(pl.DescriptorSets))
	for i, set := range pl.DescriptorSets {
		layouts[i] = set.Layout
	}

	return c.lockPool.SafeCall(PipelineManagement, func() error {
		layout, res := c.Driver.CreatePipelineLayout(vkapi.PipelineLayoutCreateInfo{
			SetLayouts:         layouts,
			PushConstantRanges: pl.PushConstants,
		})
		if res != vkapi.Success {
			err := fmt.Errorf("vkCreatePipelineLayout failed with %s: %w", res, core.ErrExternal)
			core.LogError(err.Error())
			return err
		}

		handle, res := c.Driver.CreateComputePipeline(vkapi.ComputePipelineCreateInfo{
			Flags:  vkapi.PipelineCreateDescriptorBuffer,
			Stage:  shader.StageInfo(),
			Layout: layout,
		})
		if res != vkapi.Success {
			c.Driver.DestroyPipelineLayout(layout)
			err := fmt.Errorf("vkCreateComputePipelines failed with %s: %w", res, core.ErrExternal)
			core.LogError(err.Error())
			return err
		}

		pl.Layout = layout
		pl.Handle = handle
		pl.BindPoint = vkapi.PipelineBindPointCompute
		pl.WorkgroupSize = shader.LocalSize
		return nil
	})
}

// FreePipeline destroys the pipeline, its layout, descriptor set layouts
// and descriptor buffers.
func (c *VulkanContext) FreePipeline(pl *VulkanPipeline) {
	for _, set := range pl.DescriptorSets {
		if set.Buffer != nil {
			c.FreeBuffer(set.Buffer)
			set.Buffer = nil
		}
		if set.Layout != 0 {
			c.Driver.DestroyDescriptorSetLayout(set.Layout)
			set.Layout = 0
		}
	}
	pl.DescriptorSets = nil
	pl.descBindings = nil
	pl.bindIndices = nil

	if pl.Handle != 0 {
		c.Driver.DestroyPipeline(pl.Handle)
		pl.Handle = 0
	}
	if pl.Layout != 0 {
		c.Driver.DestroyPipelineLayout(pl.Layout)
		pl.Layout = 0
	}
}
