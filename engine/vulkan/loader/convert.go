package loader

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// queueFamily is what the loader needs from VkQueueFamilyProperties.
type queueFamily struct {
	Flags vkapi.QueueFlags
	Count uint32
}

// resolveQueueFamilies picks one family per purpose. Graphics, decode and
// encode take the first family advertising the bit. Compute prefers a
// family without graphics. Transfer takes the family with the fewest other
// capabilities, the last one winning ties. Missing purposes get Index -1.
func resolveQueueFamilies(families []queueFamily) map[vkapi.QueueFlags]vkapi.QueueFamilyInfo {
	out := map[vkapi.QueueFlags]vkapi.QueueFamilyInfo{
		vkapi.QueueGraphics:    {Index: -1},
		vkapi.QueueCompute:     {Index: -1},
		vkapi.QueueTransfer:    {Index: -1},
		vkapi.QueueVideoDecode: {Index: -1},
		vkapi.QueueVideoEncode: {Index: -1},
	}

	first := func(purpose vkapi.QueueFlags, i int, qf queueFamily) {
		if qf.Flags&purpose != 0 && out[purpose].Index < 0 {
			out[purpose] = vkapi.QueueFamilyInfo{Index: int32(i), Count: qf.Count}
		}
	}

	minTransferScore := 255
	dedicatedCompute := false
	for i, qf := range families {
		if qf.Count == 0 {
			continue
		}
		first(vkapi.QueueGraphics, i, qf)
		first(vkapi.QueueVideoDecode, i, qf)
		first(vkapi.QueueVideoEncode, i, qf)

		if qf.Flags&vkapi.QueueCompute != 0 {
			async := qf.Flags&vkapi.QueueGraphics == 0
			if out[vkapi.QueueCompute].Index < 0 || (async && !dedicatedCompute) {
				out[vkapi.QueueCompute] = vkapi.QueueFamilyInfo{Index: int32(i), Count: qf.Count}
				dedicatedCompute = async
			}
		}

		if qf.Flags&vkapi.QueueTransfer != 0 {
			score := 0
			if qf.Flags&vkapi.QueueGraphics != 0 {
				score++
			}
			if qf.Flags&vkapi.QueueCompute != 0 {
				score++
			}
			if score <= minTransferScore {
				minTransferScore = score
				out[vkapi.QueueTransfer] = vkapi.QueueFamilyInfo{Index: int32(i), Count: qf.Count}
			}
		}
	}
	return out
}

// usedFamilies returns the distinct family indices of the table with
// their queue counts, in ascending order.
func usedFamilies(table map[vkapi.QueueFlags]vkapi.QueueFamilyInfo) []vkapi.QueueFamilyInfo {
	seen := map[int32]bool{}
	var out []vkapi.QueueFamilyInfo
	for _, qf := range table {
		if qf.Index < 0 || seen[qf.Index] {
			continue
		}
		seen[qf.Index] = true
		out = append(out, qf)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Index < out[j-1].Index; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

type deviceCandidate struct {
	Name     string
	Discrete bool
}

// selectDevice returns the index of the first device whose name contains
// want, ignoring case. With an empty want the first discrete GPU wins,
// falling back to the first device.
func selectDevice(candidates []deviceCandidate, want string) (int, error) {
	if len(candidates) == 0 {
		return -1, fmt.Errorf("no devices which support Vulkan were found: %w", core.ErrExternal)
	}

	if want != "" {
		lw := strings.ToLower(want)
		for i, c := range candidates {
			if strings.Contains(strings.ToLower(c.Name), lw) {
				return i, nil
			}
		}
		return -1, fmt.Errorf("no device matches %q: %w", want, core.ErrInvalidArgument)
	}

	for i, c := range candidates {
		if c.Discrete {
			return i, nil
		}
	}
	return 0, nil
}

var extensionNames = map[string]vkapi.Extensions{
	"VK_KHR_timeline_semaphore":    vkapi.ExtTimelineSemaphore,
	"VK_KHR_synchronization2":      vkapi.ExtSynchronization2,
	"VK_KHR_buffer_device_address": vkapi.ExtBufferDeviceAddress,
	"VK_EXT_descriptor_buffer":     vkapi.ExtDescriptorBuffer,
	"VK_KHR_video_queue":           vkapi.ExtVideoQueue,
	"VK_KHR_video_decode_queue":    vkapi.ExtVideoDecodeQueue,
	"VK_KHR_video_encode_queue":    vkapi.ExtVideoEncodeQueue,
	"VK_EXT_external_memory_host":  vkapi.ExtExternalMemoryHost,
}

// detectExtensions maps advertised device extension names to the bits the
// execution layer knows about.
func detectExtensions(names []string) vkapi.Extensions {
	var exts vkapi.Extensions
	for _, n := range names {
		exts |= extensionNames[n]
	}
	return exts
}

const properties2Extension = "VK_KHR_get_physical_device_properties2"

// enabledExtensions picks the advertised extensions the loader turns on at
// device creation, keyed to their names.
func enabledExtensions(advertised vkapi.Extensions) map[vkapi.Extensions]string {
	enabled := map[vkapi.Extensions]string{}
	if advertised.Has(vkapi.ExtTimelineSemaphore) {
		enabled[vkapi.ExtTimelineSemaphore] = "VK_KHR_timeline_semaphore"
	}
	return enabled
}

// The legacy stage and access masks are the low 32 bits of their sync2
// counterparts, apart from the video stages and the split shader accesses.
const (
	legacyStageMask = uint64(0x0001FFFF)

	legacyAccessMask   = uint64(0x0001FFFF)
	legacyShaderRead   = uint32(vkapi.Access2ShaderRead)
	legacyShaderWrite  = uint32(vkapi.Access2ShaderWrite)
	splitShaderReads   = vkapi.Access2ShaderSampledRead | vkapi.Access2ShaderStorageRead
	splitShaderWrites  = vkapi.Access2ShaderStorageWrite
	videoStages        = vkapi.PipelineStage2VideoDecode | vkapi.PipelineStage2VideoEncode
	legacyAllCommands  = uint32(vkapi.PipelineStage2AllCommands)
	legacyTopOfPipe    = uint32(vkapi.PipelineStage2TopOfPipe)
	legacyBottomOfPipe = uint32(vkapi.PipelineStage2BottomOfPipe)
)

// legacyStage folds a sync2 stage mask into a vkCmdPipelineBarrier one.
// Stages with no legacy bit widen to all commands. An empty mask becomes
// top of pipe for a source scope and bottom of pipe for a destination.
func legacyStage(stage vkapi.PipelineStageFlags2, src bool) uint32 {
	if stage&videoStages != 0 || uint64(stage)&^legacyStageMask != 0 {
		return legacyAllCommands
	}
	if stage == vkapi.PipelineStage2None {
		if src {
			return legacyTopOfPipe
		}
		return legacyBottomOfPipe
	}
	return uint32(stage)
}

// timestampStage picks the single stage vkCmdWriteTimestamp accepts.
func timestampStage(stage vkapi.PipelineStageFlags2) uint32 {
	s := legacyStage(stage, false)
	if bits.OnesCount32(s) != 1 {
		return legacyAllCommands
	}
	return s
}

func legacyAccess(access vkapi.AccessFlags2) uint32 {
	out := uint32(uint64(access) & legacyAccessMask)
	if access&splitShaderReads != 0 {
		out |= legacyShaderRead
	}
	if access&splitShaderWrites != 0 {
		out |= legacyShaderWrite
	}
	return out
}

// barrierStages returns the combined source and destination stages of all
// barriers of a dependency.
func barrierStages(dep vkapi.DependencyInfo) (src, dst uint32) {
	var s, d vkapi.PipelineStageFlags2
	for _, b := range dep.BufferMemoryBarriers {
		s |= b.SrcStageMask
		d |= b.DstStageMask
	}
	for _, b := range dep.ImageMemoryBarriers {
		s |= b.SrcStageMask
		d |= b.DstStageMask
	}
	return legacyStage(s, true), legacyStage(d, false)
}

// timelineValues returns the wait and signal values of a submit, one per
// semaphore. ok is false when every value is zero and the submit only uses
// binary semaphores.
func timelineValues(s vkapi.SubmitInfo2) (waits, signals []uint64, ok bool) {
	waits = make([]uint64, len(s.WaitSemaphoreInfos))
	for i, w := range s.WaitSemaphoreInfos {
		waits[i] = w.Value
		ok = ok || w.Value != 0
	}
	signals = make([]uint64, len(s.SignalSemaphoreInfos))
	for i, sig := range s.SignalSemaphoreInfos {
		signals[i] = sig.Value
		ok = ok || sig.Value != 0
	}
	if !ok {
		return nil, nil, false
	}
	return waits, signals, true
}

// mappedLength is the length of a host view of size bytes at offset into
// an allocation of allocSize bytes.
func mappedLength(allocSize, offset, size uint64) (uint64, error) {
	if offset > allocSize {
		return 0, fmt.Errorf("map offset %d beyond allocation of %d bytes: %w", offset, allocSize, core.ErrInvalidArgument)
	}
	if size == vkapi.WholeSize {
		return allocSize - offset, nil
	}
	if offset+size > allocSize {
		return 0, fmt.Errorf("map range %d+%d beyond allocation of %d bytes: %w", offset, size, allocSize, core.ErrInvalidArgument)
	}
	return size, nil
}

func versionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)
}
