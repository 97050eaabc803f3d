package nodes

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/shaderdata"
)

// ComputePipeline slot indexes.
const (
	ComputePipelineBundle = 0
	ComputePipelineLayout = 1

	ComputePipelineOut = 0
)

const ComputePipelineTypeName = "ComputePipeline"

// ComputePipelineArtifacts is the node's output payload.
type ComputePipelineArtifacts struct {
	Pipeline       vk.Pipeline
	PipelineLayout vk.PipelineLayout
	ShaderModule   vk.ShaderModule
}

// NewComputePipelineNodeType describes the compute pipeline builder.
func NewComputePipelineNodeType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: ComputePipelineTypeName,
		Inputs: []rendergraph.ResourceDescriptor{
			{Name: "SHADER_DATA_BUNDLE", Kind: rendergraph.ResourceKindOpaque, Role: rendergraph.RoleDependency},
			{Name: "LAYOUT", Kind: rendergraph.ResourceKindOpaque, Role: rendergraph.RoleDependency, Optional: true},
		},
		Outputs: []rendergraph.ResourceDescriptor{
			{Name: "PIPELINE", Kind: rendergraph.ResourceKindOpaque},
		},
		Pipeline: rendergraph.PipelineCompute,
		Factory: func(instanceName string, nodeType *rendergraph.NodeType) (rendergraph.Node, error) {
			return NewComputePipelineNode(instanceName, nodeType), nil
		},
	}
}

/**
 * @brief ComputePipelineNode builds the compute pipeline for a bundle's
 * compute stage, using the descriptor-set layout produced upstream and
 * the bundle's push-constant ranges.
 */
type ComputePipelineNode struct {
	*rendergraph.NodeInstance

	artifacts ComputePipelineArtifacts
	device    vk.Device
}

func NewComputePipelineNode(instanceName string, nodeType *rendergraph.NodeType) *ComputePipelineNode {
	return &ComputePipelineNode{
		NodeInstance: rendergraph.NewNodeInstance(instanceName, nodeType),
	}
}

func (n *ComputePipelineNode) Artifacts() *ComputePipelineArtifacts {
	return &n.artifacts
}

func (n *ComputePipelineNode) Setup(ctx *rendergraph.SetupContext) error {
	return nil
}

func (n *ComputePipelineNode) Compile(ctx *rendergraph.CompileContext) error {
	bundle := bundleFromInput(ctx.In(ComputePipelineBundle))
	if bundle == nil {
		return fmt.Errorf("%w: connect a shader library output to SHADER_DATA_BUNDLE", core.ErrMissingShaderBundle)
	}
	spirv, ok := bundle.SpirvByStage[shaderdata.StageCompute]
	if !ok || len(spirv) == 0 {
		return fmt.Errorf("%w: bundle %q has no compute stage", core.ErrInvalidParameters, bundle.Name)
	}

	device := ctx.Device()
	if device == nil || !device.HasLogicalDevice() {
		core.LogDebug("%s: no logical device; skipping pipeline creation", n.LogName)
		ctx.Out(ComputePipelineOut, &n.artifacts)
		return nil
	}
	n.device = device.LogicalDevice

	shaderModuleCreateInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(spirv)) * 4,
		PCode:    spirv,
	}
	if res := vk.CreateShaderModule(n.device, &shaderModuleCreateInfo, device.AllocCallbacks, &n.artifacts.ShaderModule); res != vk.Success {
		return core.NewVulkanError("vkCreateShaderModule", int32(res))
	}

	var setLayouts []vk.DescriptorSetLayout
	if layoutResource := ctx.In(ComputePipelineLayout); layoutResource != nil {
		if layout, okLayout := layoutResource.Payload().(vk.DescriptorSetLayout); okLayout && layout != vk.NullDescriptorSetLayout {
			setLayouts = append(setLayouts, layout)
		}
	}

	var pushConstantRanges []vk.PushConstantRange
	if bundle.Reflection != nil {
		for _, pcRange := range bundle.Reflection.PushConstants {
			pushConstantRanges = append(pushConstantRanges, vk.PushConstantRange{
				StageFlags: pcRange.StageFlags,
				Offset:     pcRange.Offset,
				Size:       pcRange.Size,
			})
		}
	}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(pushConstantRanges)),
		PPushConstantRanges:    pushConstantRanges,
	}
	if res := vk.CreatePipelineLayout(n.device, &pipelineLayoutCreateInfo, device.AllocCallbacks, &n.artifacts.PipelineLayout); res != vk.Success {
		return core.NewVulkanError("vkCreatePipelineLayout", int32(res))
	}

	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: n.artifacts.ShaderModule,
			PName:  "main\x00",
		},
		Layout: n.artifacts.PipelineLayout,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(n.device, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{pipelineCreateInfo}, device.AllocCallbacks, pipelines); res != vk.Success {
		return core.NewVulkanError("vkCreateComputePipelines", int32(res))
	}
	n.artifacts.Pipeline = pipelines[0]

	ctx.Out(ComputePipelineOut, &n.artifacts)
	return nil
}

func (n *ComputePipelineNode) Execute(ctx *rendergraph.ExecuteContext) error {
	return nil
}

func (n *ComputePipelineNode) Cleanup(ctx *rendergraph.CleanupContext) error {
	device := ctx.Device()
	if device != nil && device.HasLogicalDevice() && n.device != vk.NullDevice {
		if n.artifacts.Pipeline != vk.NullPipeline {
			vk.DestroyPipeline(n.device, n.artifacts.Pipeline, device.AllocCallbacks)
		}
		if n.artifacts.PipelineLayout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(n.device, n.artifacts.PipelineLayout, device.AllocCallbacks)
		}
		if n.artifacts.ShaderModule != vk.NullShaderModule {
			vk.DestroyShaderModule(n.device, n.artifacts.ShaderModule, device.AllocCallbacks)
		}
	}
	n.artifacts = ComputePipelineArtifacts{}
	return nil
}
