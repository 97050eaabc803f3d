package shaderdata

import (
	vk "github.com/goki/vulkan"
)

/**
 * @brief Describes a single binding in a descriptor set layout.
 * Populated from SPIR-V reflection by the shader subsystem or manually
 * specified; the graph core only reads it.
 */
type DescriptorBindingSpec struct {
	/** @brief Binding index, e.g. layout(binding=0). */
	Binding uint32
	/** @brief Descriptor type (uniform, sampler, storage, ...). */
	DescriptorType vk.DescriptorType
	/** @brief Number of descriptors, >1 for arrays. */
	DescriptorCount uint32
	/** @brief Which shader stages access this binding. */
	StageFlags vk.ShaderStageFlags
	/** @brief Debug name, optional. */
	Name string
}

/**
 * @brief Complete descriptor set layout specification.
 */
type DescriptorLayoutSpec struct {
	Bindings []DescriptorBindingSpec
	/** @brief How many descriptor sets to allocate from the pool. */
	MaxSets uint32
}

// AddBinding appends a binding to the layout.
func (s *DescriptorLayoutSpec) AddBinding(binding DescriptorBindingSpec) {
	s.Bindings = append(s.Bindings, binding)
}

// CountDescriptorType sums descriptors of a specific type, for pool sizing.
func (s *DescriptorLayoutSpec) CountDescriptorType(descriptorType vk.DescriptorType) uint32 {
	count := uint32(0)
	for _, binding := range s.Bindings {
		if binding.DescriptorType == descriptorType {
			count += binding.DescriptorCount
		}
	}
	return count
}

// ToVulkanBindings converts the spec to vk.DescriptorSetLayoutBinding values.
func (s *DescriptorLayoutSpec) ToVulkanBindings() []vk.DescriptorSetLayoutBinding {
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(s.Bindings))
	for _, spec := range s.Bindings {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         spec.Binding,
			DescriptorType:  spec.DescriptorType,
			DescriptorCount: spec.DescriptorCount,
			StageFlags:      spec.StageFlags,
		})
	}
	return bindings
}

// ToPoolSizes builds pool sizes covering MaxSets full layouts.
func (s *DescriptorLayoutSpec) ToPoolSizes() []vk.DescriptorPoolSize {
	maxSets := s.MaxSets
	if maxSets == 0 {
		maxSets = 1
	}
	typeCounts := map[vk.DescriptorType]uint32{}
	for _, binding := range s.Bindings {
		typeCounts[binding.DescriptorType] += binding.DescriptorCount * maxSets
	}
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(typeCounts))
	for descriptorType, count := range typeCounts {
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{
			Type:            descriptorType,
			DescriptorCount: count,
		})
	}
	return poolSizes
}

// FindBinding returns the spec for a binding index, or nil.
func (s *DescriptorLayoutSpec) FindBinding(binding uint32) *DescriptorBindingSpec {
	for i := range s.Bindings {
		if s.Bindings[i].Binding == binding {
			return &s.Bindings[i]
		}
	}
	return nil
}

// MaxBindingIndex is the highest binding index in the layout. Valid only
// when IsValid().
func (s *DescriptorLayoutSpec) MaxBindingIndex() uint32 {
	maxBinding := uint32(0)
	for _, binding := range s.Bindings {
		if binding.Binding > maxBinding {
			maxBinding = binding.Binding
		}
	}
	return maxBinding
}

func (s *DescriptorLayoutSpec) IsValid() bool {
	return len(s.Bindings) > 0
}

/**
 * @brief A binding reference supplied by generated shader-constant files.
 * Gatherer nodes pre-register tentative variadic slots from these before
 * the shader bundle is available.
 */
type BindingReference struct {
	Set     uint32
	Binding uint32
	Type    vk.DescriptorType
	Name    string
}
