package rendergraph

import (
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
)

// VariadicSlotState is the reconciliation state of a pre-registered slot.
type VariadicSlotState uint8

const (
	// SlotTentative: registered from binding references, not yet checked
	// against a shader layout.
	SlotTentative VariadicSlotState = iota
	// SlotValidated: matched a shader binding; the only gathering state.
	SlotValidated
	// SlotInvalid: no matching shader binding. Skipped, never fatal.
	SlotInvalid
)

func (s VariadicSlotState) String() string {
	switch s {
	case SlotTentative:
		return "Tentative"
	case SlotValidated:
		return "Validated"
	case SlotInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// SentinelBinding marks a slot the framework resized into existence; such
// slots are skipped everywhere.
const SentinelBinding uint32 = math.MaxUint32

// DescriptorTypeAccelerationStructure is
// VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR, not surfaced by the
// binding's core enum set.
const DescriptorTypeAccelerationStructure vk.DescriptorType = 1000150000

// VariadicSlotInfo carries everything a variadic node knows about one
// dynamically registered input.
type VariadicSlotInfo struct {
	Resource     *Resource
	ResourceType ResourceKind
	SlotName     string

	Binding        uint32
	DescriptorType vk.DescriptorType

	SourceNode   NodeHandle
	SourceOutput int

	Role SlotRole

	HasFieldExtraction bool
	FieldOffset        uint32
	FieldSize          uint32

	State VariadicSlotState
}

// NewTentativeSlot builds the slot created at graph-construction time from
// a generated binding reference.
func NewTentativeSlot(binding uint32, descriptorType vk.DescriptorType, name string) VariadicSlotInfo {
	return VariadicSlotInfo{
		SlotName:       name,
		Binding:        binding,
		DescriptorType: descriptorType,
		SourceNode:     InvalidNodeHandle,
		SourceOutput:   -1,
		Role:           RoleDependency,
		State:          SlotTentative,
	}
}

// VariadicBase is embedded by variadic nodes; it owns the slot bundle and
// the min/max constraints.
type VariadicBase struct {
	slots    []VariadicSlotInfo
	minSlots int
	maxSlots int // -1 = unbounded
}

func (vb *VariadicBase) SetVariadicConstraints(minSlots, maxSlots int) {
	vb.minSlots = minSlots
	vb.maxSlots = maxSlots
}

func (vb *VariadicBase) VariadicCount() int {
	return len(vb.slots)
}

func (vb *VariadicBase) VariadicSlot(index int) *VariadicSlotInfo {
	if index < 0 || index >= len(vb.slots) {
		return nil
	}
	return &vb.slots[index]
}

func (vb *VariadicBase) VariadicResource(index int) *Resource {
	if slot := vb.VariadicSlot(index); slot != nil {
		return slot.Resource
	}
	return nil
}

func (vb *VariadicBase) UpdateVariadicSlot(index int, info VariadicSlotInfo) bool {
	if index < 0 || index >= len(vb.slots) {
		return false
	}
	vb.slots[index] = info
	return true
}

// AppendVariadicSlot registers a slot, enforcing the max constraint.
func (vb *VariadicBase) AppendVariadicSlot(info VariadicSlotInfo) error {
	if vb.maxSlots >= 0 && len(vb.slots) >= vb.maxSlots {
		return core.ErrInvalidSlotIndex
	}
	vb.slots = append(vb.slots, info)
	return nil
}

// PreRegisterSlots creates tentative slots from binding references and
// tightens the min/max constraints to the count.
func (vb *VariadicBase) PreRegisterSlots(slots []VariadicSlotInfo) {
	vb.slots = append([]VariadicSlotInfo{}, slots...)
	vb.minSlots = len(slots)
	vb.maxSlots = len(slots)
}

func (vb *VariadicBase) ClearVariadic() {
	vb.slots = nil
}

// VariadicState exposes the bundle to the framework; embedding
// VariadicBase is all a node needs to become variadic.
func (vb *VariadicBase) VariadicState() *VariadicBase {
	return vb
}

// ValidateVariadicBase runs the role-independent checks: count bounds,
// unfilled required slots, null Dependency resources, declared-type vs
// descriptor-type compatibility. Derived nodes layer shader checks on top.
func (vb *VariadicBase) ValidateVariadicBase(logName string) bool {
	if len(vb.slots) < vb.minSlots {
		core.LogError("%s: %d variadic inputs connected, %d required", logName, len(vb.slots), vb.minSlots)
		return false
	}
	if vb.maxSlots >= 0 && len(vb.slots) > vb.maxSlots {
		core.LogError("%s: %d variadic inputs exceed max %d", logName, len(vb.slots), vb.maxSlots)
		return false
	}

	allValid := true
	for i := range vb.slots {
		slot := &vb.slots[i]
		if slot.Binding == SentinelBinding || slot.State == SlotInvalid {
			continue
		}
		if slot.Role.HasExecute() {
			// Refreshed per frame; validated in Execute.
			continue
		}
		if slot.HasFieldExtraction {
			// Downstream node handles per-frame extraction.
			continue
		}
		if slot.Resource == nil {
			if slot.SlotName == "" {
				continue
			}
			if slot.Role.HasDependency() && slot.State == SlotValidated {
				core.LogError("%s: validated slot %d (%s) has null resource", logName, i, slot.SlotName)
				allValid = false
			}
			continue
		}
		if !IsResourceCompatibleWithDescriptorType(slot.Resource, slot.DescriptorType) {
			core.LogError("%s: slot %d (%s) resource incompatible with descriptor type %d at binding %d",
				logName, i, slot.SlotName, slot.DescriptorType, slot.Binding)
			allValid = false
		}
	}
	return allValid
}

// IsResourceCompatibleWithDescriptorType checks the usage-flag path first
// and falls back to the kind-only table for handle-wrapped resources.
func IsResourceCompatibleWithDescriptorType(res *Resource, descriptorType vk.DescriptorType) bool {
	if res == nil {
		return false
	}
	usage, hasUsage := extractResourceUsage(res)
	if !hasUsage {
		return isKindCompatibleWithDescriptor(res.Kind, descriptorType)
	}
	return checkUsageCompatibility(usage, res.Kind, descriptorType)
}

func extractResourceUsage(res *Resource) (ResourceUsageFlags, bool) {
	if res.BufferDesc != nil {
		return res.BufferDesc.Usage, true
	}
	if res.ImageDesc != nil {
		return res.ImageDesc.Usage, true
	}
	if res.Kind == ResourceKindStorageImage {
		return UsageStorage, true
	}
	if res.TextureDesc != nil || res.Kind == ResourceKindImage3D {
		return UsageSampled, true
	}
	return 0, false
}

func checkUsageCompatibility(usage ResourceUsageFlags, kind ResourceKind, descriptorType vk.DescriptorType) bool {
	switch descriptorType {
	case vk.DescriptorTypeUniformBuffer:
		return usage.Has(UsageUniformBuffer)
	case vk.DescriptorTypeStorageBuffer:
		return usage.Has(UsageStorageBuffer)
	case vk.DescriptorTypeStorageImage:
		return usage.Has(UsageStorage) && (kind == ResourceKindImage || kind == ResourceKindStorageImage)
	case vk.DescriptorTypeSampledImage, vk.DescriptorTypeCombinedImageSampler:
		return usage.Has(UsageSampled) && (kind == ResourceKindImage || kind == ResourceKindImage3D)
	case vk.DescriptorTypeSampler:
		// VkSampler travels as a Buffer-kind opaque handle.
		return kind == ResourceKindBuffer
	case DescriptorTypeAccelerationStructure:
		return kind == ResourceKindAccelerationStructure
	default:
		core.LogError("unhandled descriptor type %d for kind %s", descriptorType, kind)
		return false
	}
}

func isKindCompatibleWithDescriptor(kind ResourceKind, descriptorType vk.DescriptorType) bool {
	switch descriptorType {
	case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeStorageBuffer:
		return kind == ResourceKindBuffer
	case vk.DescriptorTypeStorageImage, vk.DescriptorTypeSampledImage:
		return kind == ResourceKindImage || kind == ResourceKindStorageImage || kind == ResourceKindImage3D
	case vk.DescriptorTypeCombinedImageSampler:
		return kind == ResourceKindImage || kind == ResourceKindStorageImage ||
			kind == ResourceKindImage3D || kind == ResourceKindBuffer
	case vk.DescriptorTypeSampler:
		return kind == ResourceKindBuffer
	case DescriptorTypeAccelerationStructure:
		return kind == ResourceKindAccelerationStructure
	default:
		core.LogError("unhandled descriptor type %d for kind %s", descriptorType, kind)
		return false
	}
}
