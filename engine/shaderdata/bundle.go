package shaderdata

import (
	vk "github.com/goki/vulkan"
)

// ShaderStage identifies one stage of a compiled program.
type ShaderStage uint8

const (
	StageVertex ShaderStage = iota
	StageFragment
	StageCompute
	StageMesh
	StageTask
	StageRayGen
)

// Stage bits for extensions the binding's core enum set does not carry.
const (
	shaderStageTaskBit   vk.ShaderStageFlagBits = 0x00000040
	shaderStageMeshBit   vk.ShaderStageFlagBits = 0x00000080
	shaderStageRayGenBit vk.ShaderStageFlagBits = 0x00000100
)

func (s ShaderStage) Flags() vk.ShaderStageFlagBits {
	switch s {
	case StageVertex:
		return vk.ShaderStageVertexBit
	case StageFragment:
		return vk.ShaderStageFragmentBit
	case StageCompute:
		return vk.ShaderStageComputeBit
	case StageMesh:
		return shaderStageMeshBit
	case StageTask:
		return shaderStageTaskBit
	case StageRayGen:
		return shaderStageRayGenBit
	default:
		return vk.ShaderStageAll
	}
}

// PushConstantRange mirrors one push_constant block from reflection.
type PushConstantRange struct {
	Offset     uint32
	Size       uint32
	StageFlags vk.ShaderStageFlags
	Name       string
}

// StructMember describes one field of a reflected struct definition.
type StructMember struct {
	Name   string
	Offset uint32
	Size   uint32
}

// StructDefinition is a reflected shader struct layout. Field extraction
// wiring resolves member offsets against these.
type StructDefinition struct {
	Name    string
	Size    uint32
	Members []StructMember
}

// VertexInput describes one vertex input attribute from reflection.
type VertexInput struct {
	Location uint32
	Format   vk.Format
	Name     string
}

// ReflectionData is the record produced by SPIR-V reflection. The graph
// core consumes it read-only.
type ReflectionData struct {
	Bindings      []DescriptorBindingSpec
	PushConstants []PushConstantRange
	VertexInputs  []VertexInput
	Structs       []StructDefinition
}

// FindStruct returns a reflected struct definition by name, or nil.
func (r *ReflectionData) FindStruct(name string) *StructDefinition {
	for i := range r.Structs {
		if r.Structs[i].Name == name {
			return &r.Structs[i]
		}
	}
	return nil
}

/**
 * @brief A compiled-program package handed to the graph by the shader
 * subsystem: SPIR-V per stage, reflection, the descriptor layout spec and
 * two content hashes. The full hash changes whenever any part of the
 * interface changes; the descriptor hash only when descriptor bindings
 * change, and drives hot-reload decisions and descriptor-set sharing.
 */
type ShaderDataBundle struct {
	Name string

	SpirvByStage map[ShaderStage][]uint32

	Reflection *ReflectionData

	DescriptorLayout *DescriptorLayoutSpec

	InterfaceHash           uint64
	DescriptorInterfaceHash uint64
}

// HasStage reports whether compiled code exists for a stage.
func (b *ShaderDataBundle) HasStage(stage ShaderStage) bool {
	_, ok := b.SpirvByStage[stage]
	return ok
}

// StageFlags unions the flags of all compiled stages.
func (b *ShaderDataBundle) StageFlags() vk.ShaderStageFlags {
	flags := vk.ShaderStageFlags(0)
	for stage := range b.SpirvByStage {
		flags |= vk.ShaderStageFlags(stage.Flags())
	}
	return flags
}

// SharesDescriptorInterface reports whether two bundles can share
// descriptor sets.
func (b *ShaderDataBundle) SharesDescriptorInterface(other *ShaderDataBundle) bool {
	return other != nil && b.DescriptorInterfaceHash == other.DescriptorInterfaceHash
}
