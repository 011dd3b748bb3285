package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkfake"
)

func TestSelectMemoryType(t *testing.T) {
	props := vkfake.DefaultMemoryProperties()

	tests := []struct {
		name     string
		typeBits uint32
		flags    vkapi.MemoryPropertyFlags
		want     uint32
		wantErr  bool
	}{
		{"device local", 0xF, vkapi.MemoryPropertyDeviceLocal, 0, false},
		{"host visible", 0xF, vkapi.MemoryPropertyHostVisible, 1, false},
		{"host cached", 0xF, vkapi.MemoryPropertyHostVisible | vkapi.MemoryPropertyHostCached, 2, false},
		{"mappable device memory", 0xF, vkapi.MemoryPropertyDeviceLocal | vkapi.MemoryPropertyHostVisible, 3, false},
		{"type bits exclude first match", 0xE, vkapi.MemoryPropertyDeviceLocal, 3, false},
		{"dont care takes first allowed", 0x4, vkapi.MemoryPropertyDontCare, 2, false},
		{"no flags match", 0xF, vkapi.MemoryPropertyLazilyAllocated, 0, true},
		{"no allowed type", 0x0, vkapi.MemoryPropertyDeviceLocal, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectMemoryType(props, tt.typeBits, tt.flags)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllocMemoryAlignsHostVisible(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	mem, flags, err := ctx.AllocMemory(vkapi.MemoryRequirements{Size: 100, MemoryTypeBits: 0xF},
		vkapi.MemoryPropertyHostVisible, nil)
	require.NoError(t, err)
	assert.NotZero(t, mem)
	assert.Equal(t, vkapi.MemoryPropertyHostVisible|vkapi.MemoryPropertyHostCoherent, flags)

	_, _, err = ctx.AllocMemory(vkapi.MemoryRequirements{Size: 100, MemoryTypeBits: 0xF},
		vkapi.MemoryPropertyDeviceLocal, nil)
	require.NoError(t, err)

	allocs := drv.Allocations()
	require.Len(t, allocs, 2)
	assert.Equal(t, uint64(128), allocs[0].AllocationSize)
	assert.Equal(t, uint32(1), allocs[0].MemoryTypeIndex)
	assert.Equal(t, uint64(100), allocs[1].AllocationSize)
	assert.Equal(t, uint32(0), allocs[1].MemoryTypeIndex)
}

func TestAllocMemoryFailures(t *testing.T) {
	drv := vkfake.New()
	ctx := newTestContext(t, drv)

	_, _, err := ctx.AllocMemory(vkapi.MemoryRequirements{Size: 64, MemoryTypeBits: 0}, vkapi.MemoryPropertyDeviceLocal, nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Empty(t, drv.Allocations())

	drv.FailAllocateMemory = vkapi.ErrorOutOfDeviceMemory
	_, _, err = ctx.AllocMemory(vkapi.MemoryRequirements{Size: 64, MemoryTypeBits: 0xF}, vkapi.MemoryPropertyDeviceLocal, nil)
	assert.ErrorIs(t, err, core.ErrOutOfMemory)
	assert.Equal(t, 0, drv.LiveMemory())
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), AlignUp(uint64(0), 64))
	assert.Equal(t, uint64(64), AlignUp(uint64(1), 64))
	assert.Equal(t, uint64(64), AlignUp(uint64(64), 64))
	assert.Equal(t, uint32(192), AlignUp(uint32(144), 64))
	assert.Equal(t, uint64(7), AlignUp(uint64(7), 0))
}
