package rendergraph

import (
	"fmt"

	"github.com/spaghettifunk/vixen/engine/core"
)

// Metadata keys written by GroupKeyModifier.
const (
	MetadataGroupKeyExtractor   = "groupKeyExtractor"
	MetadataGroupKeyOptional    = "groupKeyExtractsOptional"
	MetadataGroupKeyFieldOffset = "groupKeyFieldOffset"
)

// GroupKeyExtractor pulls a group id out of an accumulated element.
// The bool result is false when the element carries no group id.
type GroupKeyExtractor func(element interface{}) (uint32, bool)

/**
 * @brief GroupKeyModifier attaches a group-id extraction to an edge into
 * an accumulation slot. MultiDispatch reads the stored extractor during
 * Compile to partition its queue by group.
 */
type GroupKeyModifier struct {
	extractor        GroupKeyExtractor
	fieldOffset      uint32
	extractsOptional bool
}

// NewGroupKeyModifier wraps an extractor whose field may be absent.
func NewGroupKeyModifier(extractor GroupKeyExtractor, fieldOffset uint32) *GroupKeyModifier {
	return &GroupKeyModifier{
		extractor:        extractor,
		fieldOffset:      fieldOffset,
		extractsOptional: true,
	}
}

// NewRequiredGroupKeyModifier wraps an extractor whose field is always
// present.
func NewRequiredGroupKeyModifier(extract func(element interface{}) uint32, fieldOffset uint32) *GroupKeyModifier {
	return &GroupKeyModifier{
		extractor: func(element interface{}) (uint32, bool) {
			return extract(element), true
		},
		fieldOffset:      fieldOffset,
		extractsOptional: false,
	}
}

func (m *GroupKeyModifier) Priority() uint32 { return 60 }

func (m *GroupKeyModifier) Name() string { return "GroupKeyModifier" }

func (m *GroupKeyModifier) PreValidation(ctx *ConnectionContext) error {
	if ctx.TargetSlot == nil || !ctx.TargetSlot.IsAccumulation() {
		return fmt.Errorf("%w: GroupKeyModifier requires an accumulation slot target", core.ErrConnectionTypeMismatch)
	}
	ctx.Metadata[MetadataGroupKeyExtractor] = m.extractor
	ctx.Metadata[MetadataGroupKeyOptional] = m.extractsOptional
	ctx.Metadata[MetadataGroupKeyFieldOffset] = m.fieldOffset
	return nil
}

func (m *GroupKeyModifier) PreResolve(ctx *ConnectionContext) error {
	return nil
}

func (m *GroupKeyModifier) PostResolve(ctx *ConnectionContext) error {
	return nil
}

// FieldOffset is exposed for wiring diagnostics.
func (m *GroupKeyModifier) FieldOffset() uint32 { return m.fieldOffset }

func (m *GroupKeyModifier) ExtractsOptional() bool { return m.extractsOptional }
