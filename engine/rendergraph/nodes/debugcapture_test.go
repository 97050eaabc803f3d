package nodes

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/shaderdata"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

type fakeCapture struct {
	name string
}

func (c *fakeCapture) DebugName() string        { return c.name }
func (c *fakeCapture) CaptureBuffer() vk.Buffer { return fakeBuffer(0xC0) }
func (c *fakeCapture) CaptureSize() uint64      { return 64 }

func TestDebugCapturePlumbing(t *testing.T) {
	graph, _ := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registryWithAll(t),
	})
	library, _ := graph.AddNode(ShaderLibraryTypeName, "library")
	gatherer, _ := graph.AddNode(DescriptorResourceGathererTypeName, "gatherer")
	graph.Instance(library).(*ShaderLibraryNode).SetBundle(storageImageBundle())

	gathererNode := graph.Instance(gatherer).(*DescriptorResourceGathererNode)
	gathererNode.PreRegisterBindings([]shaderdata.BindingReference{
		{Set: 0, Binding: 0, Type: vk.DescriptorTypeStorageImage, Name: "outputImage"},
	})

	image := rendergraph.NewResource("captured", rendergraph.ResourceKindStorageImage, rendergraph.LifetimePersistent)
	image.ImageDesc = &rendergraph.ImageDescription{Usage: rendergraph.UsageStorage}
	image.SetHandle(fakeImageView(0xC1))
	capture := &fakeCapture{name: "captured"}
	image.AddCapability(capture)
	gathererNode.AttachVariadicResource(0, image)

	// Flag the slot for readback.
	slot := *gathererNode.VariadicSlot(0)
	slot.Role = rendergraph.RoleDependency | rendergraph.RoleDebug
	gathererNode.UpdateVariadicSlot(0, slot)

	if err := graph.ConnectNodes(library, ShaderLibraryBundleOut, gatherer, GathererShaderDataBundle); err != nil {
		t.Fatal(err)
	}
	if err := graph.Compile(); err != nil {
		t.Fatalf("Compile = %v", err)
	}

	gathered := gathererNode.ResourceArray()
	if gathered[0].DebugCapture == nil || gathered[0].DebugCapture.DebugName() != "captured" {
		t.Errorf("binding 0 debug capture = %v, want the attached capability", gathered[0].DebugCapture)
	}

	// The DEBUG_CAPTURE output carries the first capture seen.
	output := graph.Instance(gatherer).Base().Output(GathererDebugCapture)
	if output == nil {
		t.Fatal("DEBUG_CAPTURE output missing")
	}
	if published, ok := output.Payload().(rendergraph.DebugCapture); !ok || published.DebugName() != "captured" {
		t.Errorf("DEBUG_CAPTURE payload = %v, want the capture", output.Payload())
	}
}
