package nodes

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
)

// PushConstantGatherer slot indexes.
const (
	PushConstantShaderDataBundle = 0

	PushConstantPackedRanges = 0
	PushConstantBundleOut    = 1
)

const PushConstantGathererTypeName = "PushConstantGatherer"

// PackedPushConstants is one contiguous byte buffer per stage set.
type PackedPushConstants struct {
	Data       []byte
	StageFlags vk.ShaderStageFlags
	Offset     uint32
}

// NewPushConstantGathererNodeType describes the push-constant gatherer.
func NewPushConstantGathererNodeType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: PushConstantGathererTypeName,
		Inputs: []rendergraph.ResourceDescriptor{
			{Name: "SHADER_DATA_BUNDLE", Kind: rendergraph.ResourceKindOpaque, Role: rendergraph.RoleDependency},
		},
		Outputs: []rendergraph.ResourceDescriptor{
			{Name: "PUSH_CONSTANTS", Kind: rendergraph.ResourceKindOpaque},
			{Name: "SHADER_DATA_BUNDLE_OUT", Kind: rendergraph.ResourceKindOpaque},
		},
		Factory: func(instanceName string, nodeType *rendergraph.NodeType) (rendergraph.Node, error) {
			return NewPushConstantGathererNode(instanceName, nodeType), nil
		},
	}
}

/**
 * @brief PushConstantGathererNode packs per-source byte payloads into the
 * shader's push-constant ranges. A variadic input either contributes a
 * whole struct's bytes at a declared offset or a single field copied out
 * of the producer struct via a field-extraction descriptor.
 */
type PushConstantGathererNode struct {
	*rendergraph.NodeInstance
	rendergraph.VariadicBase

	packed []PackedPushConstants
}

func NewPushConstantGathererNode(instanceName string, nodeType *rendergraph.NodeType) *PushConstantGathererNode {
	node := &PushConstantGathererNode{
		NodeInstance: rendergraph.NewNodeInstance(instanceName, nodeType),
	}
	node.SetVariadicConstraints(0, -1)
	return node
}

// AttachSource contributes a whole payload's bytes at a byte offset
// within the packed range.
func (n *PushConstantGathererNode) AttachSource(resource *rendergraph.Resource, offset uint32, name string) error {
	return n.AppendVariadicSlot(rendergraph.VariadicSlotInfo{
		Resource:     resource,
		SlotName:     name,
		Binding:      offset,
		SourceNode:   rendergraph.InvalidNodeHandle,
		SourceOutput: -1,
		Role:         rendergraph.RoleDependency,
		State:        rendergraph.SlotValidated,
	})
}

// AttachFieldSource contributes one field copied out of the producer
// struct: fieldOffset/fieldSize locate it, offset places it in the range.
func (n *PushConstantGathererNode) AttachFieldSource(resource *rendergraph.Resource, offset, fieldOffset, fieldSize uint32, name string) error {
	return n.AppendVariadicSlot(rendergraph.VariadicSlotInfo{
		Resource:           resource,
		SlotName:           name,
		Binding:            offset,
		SourceNode:         rendergraph.InvalidNodeHandle,
		SourceOutput:       -1,
		Role:               rendergraph.RoleDependency,
		HasFieldExtraction: true,
		FieldOffset:        fieldOffset,
		FieldSize:          fieldSize,
		State:              rendergraph.SlotValidated,
	})
}

// Packed exposes the packed ranges (tests, dispatch assembly).
func (n *PushConstantGathererNode) Packed() []PackedPushConstants {
	return n.packed
}

func (n *PushConstantGathererNode) Setup(ctx *rendergraph.SetupContext) error {
	return nil
}

func (n *PushConstantGathererNode) Compile(ctx *rendergraph.CompileContext) error {
	bundle := bundleFromInput(ctx.In(PushConstantShaderDataBundle))
	if bundle == nil {
		return fmt.Errorf("%w: connect a shader library output to SHADER_DATA_BUNDLE", core.ErrMissingShaderBundle)
	}
	if bundle.Reflection == nil || len(bundle.Reflection.PushConstants) == 0 {
		core.LogDebug("%s: shader declares no push constants", n.LogName)
		n.packed = nil
		ctx.Out(PushConstantPackedRanges, n.packed)
		ctx.Out(PushConstantBundleOut, bundle)
		return nil
	}

	maxSize := uint32(0)
	if device := ctx.Device(); device != nil {
		maxSize = device.Caps.MaxPushConstantsSize
	}

	n.packed = n.packed[:0]
	for _, pcRange := range bundle.Reflection.PushConstants {
		if maxSize > 0 && pcRange.Offset+pcRange.Size > maxSize {
			return fmt.Errorf("%w: push-constant range %q (%d bytes at %d) exceeds maxPushConstantsSize %d",
				core.ErrInvalidParameters, pcRange.Name, pcRange.Size, pcRange.Offset, maxSize)
		}

		buffer := make([]byte, pcRange.Size)
		n.fillRange(buffer, pcRange.Offset)
		n.packed = append(n.packed, PackedPushConstants{
			Data:       buffer,
			StageFlags: pcRange.StageFlags,
			Offset:     pcRange.Offset,
		})
	}

	ctx.Out(PushConstantPackedRanges, n.packed)
	ctx.Out(PushConstantBundleOut, bundle)
	return nil
}

// fillRange copies every attached source that lands inside the range
// starting at rangeOffset.
func (n *PushConstantGathererNode) fillRange(buffer []byte, rangeOffset uint32) {
	for i := 0; i < n.VariadicCount(); i++ {
		slot := n.VariadicSlot(i)
		if slot == nil || slot.State != rendergraph.SlotValidated || slot.Resource == nil {
			continue
		}
		payload := payloadBytes(slot.Resource)
		if payload == nil {
			core.LogWarn("%s: source %q carries no byte payload", n.LogName, slot.SlotName)
			continue
		}

		if slot.HasFieldExtraction {
			end := slot.FieldOffset + slot.FieldSize
			if int(end) > len(payload) {
				core.LogWarn("%s: field extraction %q (%d+%d) exceeds payload of %d bytes",
					n.LogName, slot.SlotName, slot.FieldOffset, slot.FieldSize, len(payload))
				continue
			}
			payload = payload[slot.FieldOffset:end]
		}

		// Binding doubles as the declared destination offset.
		destination := int(slot.Binding) - int(rangeOffset)
		if destination < 0 || destination+len(payload) > len(buffer) {
			core.LogWarn("%s: source %q (%d bytes at %d) does not fit range [%d, %d)",
				n.LogName, slot.SlotName, len(payload), slot.Binding, rangeOffset, rangeOffset+uint32(len(buffer)))
			continue
		}
		copy(buffer[destination:], payload)
	}
}

func (n *PushConstantGathererNode) ValidateVariadicInputs(ctx *rendergraph.CompileContext) bool {
	return n.ValidateVariadicBase(n.LogName)
}

// Execute re-packs every frame so per-frame struct updates flow through.
func (n *PushConstantGathererNode) Execute(ctx *rendergraph.ExecuteContext) error {
	for i := range n.packed {
		for j := range n.packed[i].Data {
			n.packed[i].Data[j] = 0
		}
		n.fillRange(n.packed[i].Data, n.packed[i].Offset)
	}
	ctx.Out(PushConstantPackedRanges, n.packed)
	return nil
}

func (n *PushConstantGathererNode) Cleanup(ctx *rendergraph.CleanupContext) error {
	n.ClearVariadic()
	n.packed = nil
	return nil
}

// payloadBytes extracts the raw bytes a producer published.
func payloadBytes(resource *rendergraph.Resource) []byte {
	payload := resource.Payload()
	if payload == nil {
		return nil
	}
	if bytes, ok := payload.([]byte); ok {
		return bytes
	}
	return nil
}
