package nodes

import (
	"fmt"

	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/shaderdata"
)

const ShaderLibraryTypeName = "ShaderLibrary"

// ShaderLibraryBundleOut is the single output slot.
const ShaderLibraryBundleOut = 0

// ParamShaderBundle is the opaque parameter carrying the bundle.
const ParamShaderBundle = "bundle"

// NewShaderLibraryNodeType describes the bundle hand-off node. The shader
// subsystem compiles in the background and delivers finished
// ShaderDataBundles through the node's parameter; the graph sees a
// single-threaded view.
func NewShaderLibraryNodeType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: ShaderLibraryTypeName,
		Outputs: []rendergraph.ResourceDescriptor{
			{Name: "SHADER_DATA_BUNDLE", Kind: rendergraph.ResourceKindOpaque},
		},
		Factory: func(instanceName string, nodeType *rendergraph.NodeType) (rendergraph.Node, error) {
			return NewShaderLibraryNode(instanceName, nodeType), nil
		},
	}
}

type ShaderLibraryNode struct {
	*rendergraph.NodeInstance
}

func NewShaderLibraryNode(instanceName string, nodeType *rendergraph.NodeType) *ShaderLibraryNode {
	return &ShaderLibraryNode{
		NodeInstance: rendergraph.NewNodeInstance(instanceName, nodeType),
	}
}

// SetBundle installs the bundle to publish.
func (n *ShaderLibraryNode) SetBundle(bundle *shaderdata.ShaderDataBundle) {
	n.Parameters().Set(ParamShaderBundle, rendergraph.ParamValueOpaque(bundle))
}

func (n *ShaderLibraryNode) Setup(ctx *rendergraph.SetupContext) error {
	return nil
}

func (n *ShaderLibraryNode) Compile(ctx *rendergraph.CompileContext) error {
	bundle := rendergraph.GetParameter[*shaderdata.ShaderDataBundle](n.Parameters(), ParamShaderBundle, nil)
	if bundle == nil {
		return fmt.Errorf("%w: set the %q parameter before compiling", core.ErrMissingShaderBundle, ParamShaderBundle)
	}
	ctx.Out(ShaderLibraryBundleOut, bundle)
	return nil
}

func (n *ShaderLibraryNode) Execute(ctx *rendergraph.ExecuteContext) error {
	return nil
}

func (n *ShaderLibraryNode) Cleanup(ctx *rendergraph.CleanupContext) error {
	return nil
}
