package nodes

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/math"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/shaderdata"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

// Fabricated non-dispatchable handles stand in for device objects in
// graph tests that never touch a real device.
func fakeImageView(v uintptr) vk.ImageView {
	return vk.ImageView(unsafe.Pointer(v))
}

func fakeBuffer(v uintptr) vk.Buffer {
	return vk.Buffer(unsafe.Pointer(v))
}

// storageImageProducer publishes an externally backed storage image.
type storageImageProducer struct {
	*rendergraph.NodeInstance
	view vk.ImageView
}

func storageImageProducerType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: "TestStorageImage",
		Outputs: []rendergraph.ResourceDescriptor{
			{Name: "IMAGE", Kind: rendergraph.ResourceKindStorageImage, Usage: rendergraph.UsageStorage},
		},
		Factory: func(instanceName string, t *rendergraph.NodeType) (rendergraph.Node, error) {
			return &storageImageProducer{NodeInstance: rendergraph.NewNodeInstance(instanceName, t)}, nil
		},
	}
}

func (n *storageImageProducer) Setup(ctx *rendergraph.SetupContext) error { return nil }

func (n *storageImageProducer) Compile(ctx *rendergraph.CompileContext) error {
	resource := n.Output(0)
	resource.ImageDesc = &rendergraph.ImageDescription{
		Extent: vk.Extent3D{Width: 64, Height: 64, Depth: 1},
		Format: vk.FormatR8g8b8a8Unorm,
		Usage:  rendergraph.UsageStorage,
	}
	resource.SetHandle(n.view)
	return nil
}

func (n *storageImageProducer) Execute(ctx *rendergraph.ExecuteContext) error { return nil }

func (n *storageImageProducer) Cleanup(ctx *rendergraph.CleanupContext) error { return nil }

func registryWithAll(t *testing.T) *rendergraph.NodeTypeRegistry {
	t.Helper()
	registry := rendergraph.NewNodeTypeRegistry()
	for _, nodeType := range []*rendergraph.NodeType{
		NewShaderLibraryNodeType(),
		NewDescriptorResourceGathererNodeType(),
		NewDescriptorSetNodeType(),
		NewMultiDispatchNodeType(),
		storageImageProducerType(),
	} {
		if _, err := registry.Register(nodeType); err != nil {
			t.Fatal(err)
		}
	}
	return registry
}

func storageImageBundle() *shaderdata.ShaderDataBundle {
	layout := &shaderdata.DescriptorLayoutSpec{MaxSets: 1}
	layout.AddBinding(shaderdata.DescriptorBindingSpec{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		Name:            "outputImage",
	})
	return &shaderdata.ShaderDataBundle{
		Name:             "compute",
		SpirvByStage:     map[shaderdata.ShaderStage][]uint32{shaderdata.StageCompute: {0x07230203}},
		Reflection:       &shaderdata.ReflectionData{Bindings: layout.Bindings},
		DescriptorLayout: layout,
	}
}

// TestSimpleComputeChain wires image -> gatherer -> descriptor set ->
// multi-dispatch, compiles, and records exactly one dispatch on a mocked
// command buffer.
func TestSimpleComputeChain(t *testing.T) {
	graph, err := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registryWithAll(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	library, _ := graph.AddNode(ShaderLibraryTypeName, "library")
	producer, _ := graph.AddNode("TestStorageImage", "image")
	gatherer, _ := graph.AddNode(DescriptorResourceGathererTypeName, "gatherer")
	descriptorSet, _ := graph.AddNode(DescriptorSetTypeName, "sets")
	dispatcher, _ := graph.AddNode(MultiDispatchTypeName, "dispatch")

	graph.Instance(library).(*ShaderLibraryNode).SetBundle(storageImageBundle())

	view := fakeImageView(0x1000)
	graph.Instance(producer).(*storageImageProducer).view = view

	gathererNode := graph.Instance(gatherer).(*DescriptorResourceGathererNode)
	gathererNode.PreRegisterBindings([]shaderdata.BindingReference{
		{Set: 0, Binding: 0, Type: vk.DescriptorTypeStorageImage, Name: "outputImage"},
	})

	if err := graph.ConnectNodes(library, ShaderLibraryBundleOut, gatherer, GathererShaderDataBundle); err != nil {
		t.Fatal(err)
	}
	if err := graph.ConnectVariadic(producer, 0, gatherer, 0); err != nil {
		t.Fatal(err)
	}
	if err := graph.ConnectNodes(gatherer, GathererDescriptorResources, descriptorSet, DescriptorSetResources); err != nil {
		t.Fatal(err)
	}
	if err := graph.ConnectNodes(gatherer, GathererShaderBundleOut, descriptorSet, DescriptorSetBundle); err != nil {
		t.Fatal(err)
	}
	if err := graph.ConnectNodes(descriptorSet, DescriptorSetSetsOut, dispatcher, MultiDispatchGroupInputs); err != nil {
		t.Fatal(err)
	}

	if err := graph.Compile(); err != nil {
		t.Fatalf("Compile = %v", err)
	}

	for _, handle := range []rendergraph.NodeHandle{library, producer, gatherer, descriptorSet, dispatcher} {
		if got := graph.Instance(handle).Base().State(); got != rendergraph.StateReady {
			t.Fatalf("%s state = %v, want Ready", graph.Instance(handle).Base().LogName, got)
		}
	}

	// Round-trip: output array at the binding equals the wired resource's
	// descriptor handle.
	gathered := gathererNode.ResourceArray()
	if len(gathered) != 1 {
		t.Fatalf("gathered array size = %d, want 1", len(gathered))
	}
	if gathered[0].Handle.Kind != rendergraph.HandleImageView || gathered[0].Handle.ImageView != view {
		t.Errorf("gathered[0].Handle = %+v, want image view %v", gathered[0].Handle, view)
	}

	// One queued pass, one recorded dispatch.
	dispatchNode := graph.Instance(dispatcher).(*MultiDispatchNode)
	if _, err := dispatchNode.QueueDispatch(DispatchPass{
		Pipeline:       vk.Pipeline(unsafe.Pointer(uintptr(0x2000))),
		Layout:         vk.PipelineLayout(unsafe.Pointer(uintptr(0x3000))),
		WorkGroupCount: math.UVec3{X: 8, Y: 8, Z: 1},
		DebugName:      "fill",
	}); err != nil {
		t.Fatal(err)
	}

	recorded := 0
	dispatchNode.SetRecordCallback(func(groupID uint32, pass *DispatchPass) {
		recorded++
	})
	if err := graph.RenderFrame(); err != nil {
		t.Fatalf("RenderFrame = %v", err)
	}
	if recorded != 1 {
		t.Errorf("recorded %d dispatches, want exactly 1", recorded)
	}
}

// TestOrderAgnosticPreRegistration passes binding references in reverse
// declaration order; validation must associate by binding index.
func TestOrderAgnosticPreRegistration(t *testing.T) {
	layout := &shaderdata.DescriptorLayoutSpec{MaxSets: 1}
	layout.AddBinding(shaderdata.DescriptorBindingSpec{
		Binding: 0, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1, Name: "u",
	})
	layout.AddBinding(shaderdata.DescriptorBindingSpec{
		Binding: 1, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, Name: "b",
	})
	bundle := &shaderdata.ShaderDataBundle{
		Name:             "buffers",
		DescriptorLayout: layout,
		Reflection:       &shaderdata.ReflectionData{Bindings: layout.Bindings},
	}

	graph, _ := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registryWithAll(t),
	})
	library, _ := graph.AddNode(ShaderLibraryTypeName, "library")
	gatherer, _ := graph.AddNode(DescriptorResourceGathererTypeName, "gatherer")
	graph.Instance(library).(*ShaderLibraryNode).SetBundle(bundle)

	gathererNode := graph.Instance(gatherer).(*DescriptorResourceGathererNode)
	// Reverse declaration order on purpose.
	gathererNode.PreRegisterBindings([]shaderdata.BindingReference{
		{Set: 0, Binding: 1, Type: vk.DescriptorTypeStorageBuffer, Name: "b"},
		{Set: 0, Binding: 0, Type: vk.DescriptorTypeUniformBuffer, Name: "u"},
	})

	storage := rendergraph.NewResource("storage", rendergraph.ResourceKindBuffer, rendergraph.LifetimePersistent)
	storage.BufferDesc = &rendergraph.BufferDescription{Size: 256, Usage: rendergraph.UsageStorageBuffer}
	storage.AdoptAllocation(&vulkan.Allocation{Buffer: fakeBuffer(0x10), Size: 256})

	uniform := rendergraph.NewResource("uniform", rendergraph.ResourceKindBuffer, rendergraph.LifetimePersistent)
	uniform.BufferDesc = &rendergraph.BufferDescription{Size: 64, Usage: rendergraph.UsageUniformBuffer}
	uniform.AdoptAllocation(&vulkan.Allocation{Buffer: fakeBuffer(0x20), Size: 64})

	gathererNode.AttachVariadicResource(0, storage)
	gathererNode.AttachVariadicResource(1, uniform)

	if err := graph.ConnectNodes(library, ShaderLibraryBundleOut, gatherer, GathererShaderDataBundle); err != nil {
		t.Fatal(err)
	}
	if err := graph.Compile(); err != nil {
		t.Fatalf("Compile = %v", err)
	}

	// Slot 0 carries binding 1, slot 1 carries binding 0; both validated
	// with their own types.
	slot0 := gathererNode.VariadicSlot(0)
	slot1 := gathererNode.VariadicSlot(1)
	if slot0.State != rendergraph.SlotValidated || slot0.Binding != 1 || slot0.DescriptorType != vk.DescriptorTypeStorageBuffer {
		t.Errorf("slot0 = %+v, want validated storage buffer at binding 1", slot0)
	}
	if slot1.State != rendergraph.SlotValidated || slot1.Binding != 0 || slot1.DescriptorType != vk.DescriptorTypeUniformBuffer {
		t.Errorf("slot1 = %+v, want validated uniform buffer at binding 0", slot1)
	}

	gathered := gathererNode.ResourceArray()
	if gathered[0].Handle.Buffer != uniform.Allocation.Buffer {
		t.Error("binding 0 should carry the uniform buffer handle")
	}
	if gathered[1].Handle.Buffer != storage.Allocation.Buffer {
		t.Error("binding 1 should carry the storage buffer handle")
	}
}

// TestValidationMonotonicity: every shader binding covered by a slot
// validates; extra pre-registered bindings go Invalid and never reach
// the output.
func TestValidationMonotonicity(t *testing.T) {
	graph, _ := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registryWithAll(t),
	})
	library, _ := graph.AddNode(ShaderLibraryTypeName, "library")
	gatherer, _ := graph.AddNode(DescriptorResourceGathererTypeName, "gatherer")
	graph.Instance(library).(*ShaderLibraryNode).SetBundle(storageImageBundle())

	gathererNode := graph.Instance(gatherer).(*DescriptorResourceGathererNode)
	// Superset: binding 0 exists in the shader, binding 7 does not.
	gathererNode.PreRegisterBindings([]shaderdata.BindingReference{
		{Set: 0, Binding: 0, Type: vk.DescriptorTypeStorageImage, Name: "outputImage"},
		{Set: 0, Binding: 7, Type: vk.DescriptorTypeUniformBuffer, Name: "stale"},
	})

	image := rendergraph.NewResource("image", rendergraph.ResourceKindStorageImage, rendergraph.LifetimePersistent)
	image.ImageDesc = &rendergraph.ImageDescription{Usage: rendergraph.UsageStorage}
	image.SetHandle(fakeImageView(0x99))
	gathererNode.AttachVariadicResource(0, image)

	if err := graph.ConnectNodes(library, ShaderLibraryBundleOut, gatherer, GathererShaderDataBundle); err != nil {
		t.Fatal(err)
	}
	if err := graph.Compile(); err != nil {
		t.Fatalf("Compile = %v (invalid slots must not fail compilation)", err)
	}

	if got := gathererNode.VariadicSlot(0).State; got != rendergraph.SlotValidated {
		t.Errorf("matching slot state = %v, want Validated", got)
	}
	if got := gathererNode.VariadicSlot(1).State; got != rendergraph.SlotInvalid {
		t.Errorf("stale slot state = %v, want Invalid", got)
	}

	// Output is sized to the shader's max binding; the stale binding 7
	// never appears.
	if got := len(gathererNode.ResourceArray()); got != 1 {
		t.Errorf("output array size = %d, want 1", got)
	}
}

// TestShaderAuthoritativeDescriptorType: a pre-registration that
// disagrees with the shader is corrected from the layout.
func TestShaderAuthoritativeDescriptorType(t *testing.T) {
	graph, _ := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registryWithAll(t),
	})
	library, _ := graph.AddNode(ShaderLibraryTypeName, "library")
	gatherer, _ := graph.AddNode(DescriptorResourceGathererTypeName, "gatherer")
	graph.Instance(library).(*ShaderLibraryNode).SetBundle(storageImageBundle())

	gathererNode := graph.Instance(gatherer).(*DescriptorResourceGathererNode)
	// Wrong type on purpose; the shader says storage image.
	gathererNode.PreRegisterBindings([]shaderdata.BindingReference{
		{Set: 0, Binding: 0, Type: vk.DescriptorTypeUniformBuffer, Name: "outputImage"},
	})

	image := rendergraph.NewResource("image", rendergraph.ResourceKindStorageImage, rendergraph.LifetimePersistent)
	image.ImageDesc = &rendergraph.ImageDescription{Usage: rendergraph.UsageStorage}
	image.SetHandle(fakeImageView(0x55))
	gathererNode.AttachVariadicResource(0, image)

	if err := graph.ConnectNodes(library, ShaderLibraryBundleOut, gatherer, GathererShaderDataBundle); err != nil {
		t.Fatal(err)
	}
	if err := graph.Compile(); err != nil {
		t.Fatalf("Compile = %v", err)
	}

	slot := gathererNode.VariadicSlot(0)
	if slot.DescriptorType != vk.DescriptorTypeStorageImage {
		t.Errorf("descriptor type = %d, want storage image (shader authoritative)", slot.DescriptorType)
	}
}

// TestMissingBundleFailsNode: a gatherer without a bundle goes Failed
// without aborting the whole compilation.
func TestMissingBundleFailsNode(t *testing.T) {
	graph, _ := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registryWithAll(t),
	})
	library, _ := graph.AddNode(ShaderLibraryTypeName, "library")
	gatherer, _ := graph.AddNode(DescriptorResourceGathererTypeName, "gatherer")
	// Library has no bundle parameter set.

	if err := graph.ConnectNodes(library, ShaderLibraryBundleOut, gatherer, GathererShaderDataBundle); err != nil {
		t.Fatal(err)
	}
	if err := graph.Compile(); err != nil {
		t.Fatalf("Compile = %v (per-node failures do not abort)", err)
	}

	if got := graph.Instance(library).Base().State(); got != rendergraph.StateFailed {
		t.Errorf("library state = %v, want Failed", got)
	}
	if got := graph.Instance(gatherer).Base().State(); got != rendergraph.StateFailed {
		t.Errorf("gatherer state = %v, want Failed (dependency failed)", got)
	}
}

// TestExecuteRoleRefresh: Execute-role slots re-fetch the producer's
// fresh output every frame.
func TestExecuteRoleRefresh(t *testing.T) {
	graph, _ := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registryWithAll(t),
	})
	library, _ := graph.AddNode(ShaderLibraryTypeName, "library")
	producer, _ := graph.AddNode("TestStorageImage", "swapchainish")
	gatherer, _ := graph.AddNode(DescriptorResourceGathererTypeName, "gatherer")
	graph.Instance(library).(*ShaderLibraryNode).SetBundle(storageImageBundle())

	producerNode := graph.Instance(producer).(*storageImageProducer)
	producerNode.view = fakeImageView(0xA0)

	gathererNode := graph.Instance(gatherer).(*DescriptorResourceGathererNode)
	gathererNode.PreRegisterBindings([]shaderdata.BindingReference{
		{Set: 0, Binding: 0, Type: vk.DescriptorTypeStorageImage, Name: "outputImage"},
	})

	if err := graph.ConnectNodes(library, ShaderLibraryBundleOut, gatherer, GathererShaderDataBundle); err != nil {
		t.Fatal(err)
	}
	if err := graph.ConnectVariadic(producer, 0, gatherer, 0); err != nil {
		t.Fatal(err)
	}
	gathererNode.BindVariadicSource(0, producer, 0, rendergraph.RoleDependency|rendergraph.RoleExecute)

	if err := graph.Compile(); err != nil {
		t.Fatalf("Compile = %v", err)
	}
	if err := graph.RenderFrame(); err != nil {
		t.Fatal(err)
	}

	// The producer swaps its view; next frame must pick it up.
	fresh := fakeImageView(0xB0)
	graph.Instance(producer).Base().Output(0).SetHandle(fresh)
	if err := graph.RenderFrame(); err != nil {
		t.Fatal(err)
	}

	if got := gathererNode.ResourceArray()[0].Handle.ImageView; got != fresh {
		t.Errorf("binding 0 view = %v, want refreshed %v", got, fresh)
	}
}
