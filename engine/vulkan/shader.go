package vulkan

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

const spirvMagic = 0x07230203

/**
 * @brief Represents a single compiled shader stage.
 */
type VulkanShader struct {
	Name  string
	Stage vkapi.ShaderStageFlags
	/** @brief The internal shader module handle. */
	Module     vkapi.ShaderModule
	EntryPoint string
	/** @brief Local workgroup size declared by a compute shader. */
	LocalSize [3]uint32
}

// NewShader creates a shader module from SPIR-V words.
func (c *VulkanContext) NewShader(name string, stage vkapi.ShaderStageFlags, code []uint32, entry string, localSize [3]uint32) (*VulkanShader, error) {
	if len(code) == 0 || code[0] != spirvMagic {
		return nil, fmt.Errorf("shader '%s' is not SPIR-V: %w", name, core.ErrInvalidArgument)
	}
	if entry == "" {
		entry = "main"
	}

	shader := &VulkanShader{
		Name:       name,
		Stage:      stage,
		EntryPoint: entry,
		LocalSize:  localSize,
	}

	err := c.lockPool.SafeCall(ShaderManagement, func() error {
		module, res := c.Driver.CreateShaderModule(code)
		if res != vkapi.Success {
			return fmt.Errorf("unable to create shader module '%s': %s: %w", name, res, core.ErrExternal)
		}
		shader.Module = module
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return shader, nil
}

// NewShaderFromFile reads a SPIR-V binary and creates a shader module from
// it. The shader is named after the file without its extensions.
func (c *VulkanContext) NewShaderFromFile(path string, stage vkapi.ShaderStageFlags, entry string, localSize [3]uint32) (*VulkanShader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, err := SPIRVWords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return c.NewShader(name, stage, code, entry, localSize)
}

// SPIRVWords converts a little-endian SPIR-V binary into words.
func SPIRVWords(data []byte) ([]uint32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V size %d is not a multiple of 4: %w", len(data), core.ErrInvalidArgument)
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words, nil
}

func (s *VulkanShader) StageInfo() vkapi.PipelineShaderStageCreateInfo {
	return vkapi.PipelineShaderStageCreateInfo{
		Stage:  s.Stage,
		Module: s.Module,
		Name:   s.EntryPoint,
	}
}

func (c *VulkanContext) FreeShader(s *VulkanShader) {
	if s.Module != 0 {
		c.Driver.DestroyShaderModule(s.Module)
		s.Module = 0
	}
}
