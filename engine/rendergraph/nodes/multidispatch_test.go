package nodes

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vixen/engine/math"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/rendergraph/timeline"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

func validPass(name string, groupID *uint32) DispatchPass {
	return DispatchPass{
		Pipeline:       vk.Pipeline(unsafe.Pointer(uintptr(0x100))),
		Layout:         vk.PipelineLayout(unsafe.Pointer(uintptr(0x200))),
		WorkGroupCount: math.UVec3{X: 4, Y: 4, Z: 1},
		DebugName:      name,
		GroupID:        groupID,
	}
}

func groupRef(id uint32) *uint32 { return &id }

func TestQueueDispatchValidation(t *testing.T) {
	node := NewMultiDispatchNode("dispatch", NewMultiDispatchNodeType())

	if _, err := node.QueueDispatch(DispatchPass{}); err == nil {
		t.Error("invalid pass (null pipeline) should be rejected")
	}
	index, err := node.QueueDispatch(validPass("a", nil))
	if err != nil {
		t.Fatalf("QueueDispatch = %v", err)
	}
	if index != 0 {
		t.Errorf("index = %d, want 0", index)
	}
	if node.QueueSize() != 1 {
		t.Errorf("QueueSize = %d, want 1", node.QueueSize())
	}
}

func TestClearQueueIdempotent(t *testing.T) {
	node := NewMultiDispatchNode("dispatch", NewMultiDispatchNodeType())
	_, _ = node.QueueDispatch(validPass("a", nil))
	node.ClearQueue()
	node.ClearQueue()
	if node.QueueSize() != 0 {
		t.Errorf("QueueSize = %d, want 0", node.QueueSize())
	}
}

// multiDispatchHarness compiles a two-node graph (producer accumulating
// passes into the dispatcher) and returns both ends.
type passProducer struct {
	*rendergraph.NodeInstance
	passes []DispatchPass
}

func passProducerType() *rendergraph.NodeType {
	return &rendergraph.NodeType{
		TypeName: "TestPassProducer",
		Outputs: []rendergraph.ResourceDescriptor{
			{Name: "PASS_0", Kind: rendergraph.ResourceKindOpaque},
			{Name: "PASS_1", Kind: rendergraph.ResourceKindOpaque},
			{Name: "PASS_2", Kind: rendergraph.ResourceKindOpaque},
		},
		Factory: func(instanceName string, t *rendergraph.NodeType) (rendergraph.Node, error) {
			return &passProducer{NodeInstance: rendergraph.NewNodeInstance(instanceName, t)}, nil
		},
	}
}

func (n *passProducer) Setup(ctx *rendergraph.SetupContext) error { return nil }

func (n *passProducer) Compile(ctx *rendergraph.CompileContext) error {
	for i := range n.passes {
		ctx.Out(i, &n.passes[i])
	}
	return nil
}

func (n *passProducer) Execute(ctx *rendergraph.ExecuteContext) error { return nil }

func (n *passProducer) Cleanup(ctx *rendergraph.CleanupContext) error { return nil }

// TestGroupPartitioning enqueues three passes with group ids {2, 1, 2}
// through an accumulation edge with a GroupKeyModifier; recording order
// must be group 1 first, then group 2 in insertion order.
func TestGroupPartitioning(t *testing.T) {
	registry := rendergraph.NewNodeTypeRegistry()
	if _, err := registry.Register(passProducerType()); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Register(NewMultiDispatchNodeType()); err != nil {
		t.Fatal(err)
	}
	graph, err := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registry,
	})
	if err != nil {
		t.Fatal(err)
	}

	producer, _ := graph.AddNode("TestPassProducer", "producer")
	dispatcher, _ := graph.AddNode(MultiDispatchTypeName, "dispatch")

	producerNode := graph.Instance(producer).(*passProducer)
	producerNode.passes = []DispatchPass{
		validPass("first-of-2", groupRef(2)),
		validPass("only-of-1", groupRef(1)),
		validPass("second-of-2", groupRef(2)),
	}

	modifier := rendergraph.NewGroupKeyModifier(func(element interface{}) (uint32, bool) {
		pass, ok := element.(*DispatchPass)
		if !ok || pass.GroupID == nil {
			return 0, false
		}
		return *pass.GroupID, true
	}, 0)

	for output := 0; output < 3; output++ {
		if err := graph.Connect(producer, output, dispatcher, MultiDispatchGroupInputs, -1, modifier); err != nil {
			t.Fatalf("Connect output %d = %v", output, err)
		}
	}

	if err := graph.Compile(); err != nil {
		t.Fatalf("Compile = %v", err)
	}

	dispatchNode := graph.Instance(dispatcher).(*MultiDispatchNode)
	type recordedPass struct {
		group uint32
		name  string
	}
	var recorded []recordedPass
	dispatchNode.SetRecordCallback(func(groupID uint32, pass *DispatchPass) {
		recorded = append(recorded, recordedPass{groupID, pass.DebugName})
	})

	if err := graph.RenderFrame(); err != nil {
		t.Fatalf("RenderFrame = %v", err)
	}

	want := []recordedPass{
		{1, "only-of-1"},
		{2, "first-of-2"},
		{2, "second-of-2"},
	}
	if len(recorded) != len(want) {
		t.Fatalf("recorded %d passes, want %d", len(recorded), len(want))
	}
	for i := range want {
		if recorded[i] != want[i] {
			t.Errorf("recorded[%d] = %+v, want %+v", i, recorded[i], want[i])
		}
	}

	stats := dispatchNode.Stats()
	if got := stats.Group(1); got == nil || got.DispatchCount != 1 {
		t.Errorf("group 1 stats = %+v, want 1 dispatch", got)
	}
	if got := stats.Group(2); got == nil || got.DispatchCount != 2 {
		t.Errorf("group 2 stats = %+v, want 2 dispatches", got)
	}
	if stats.DispatchCount != 3 {
		t.Errorf("total dispatches = %d, want 3", stats.DispatchCount)
	}
}

func TestGroupKeyModifierRequiresAccumulation(t *testing.T) {
	registry := rendergraph.NewNodeTypeRegistry()
	if _, err := registry.Register(passProducerType()); err != nil {
		t.Fatal(err)
	}
	// A second producer stands in as a non-accumulation consumer.
	plainType := &rendergraph.NodeType{
		TypeName: "Plain",
		Inputs: []rendergraph.ResourceDescriptor{
			{Name: "IN", Kind: rendergraph.ResourceKindOpaque, Optional: true},
		},
		Factory: func(instanceName string, t *rendergraph.NodeType) (rendergraph.Node, error) {
			return &passProducer{NodeInstance: rendergraph.NewNodeInstance(instanceName, t)}, nil
		},
	}
	if _, err := registry.Register(plainType); err != nil {
		t.Fatal(err)
	}
	graph, _ := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registry,
	})
	producer, _ := graph.AddNode("TestPassProducer", "producer")
	plain, _ := graph.AddNode("Plain", "plain")

	modifier := rendergraph.NewGroupKeyModifier(func(element interface{}) (uint32, bool) { return 0, false }, 0)
	if err := graph.Connect(producer, 0, plain, 0, -1, modifier); err == nil {
		t.Error("GroupKeyModifier must reject a non-accumulation target")
	}
}

func TestAutoBarrierCount(t *testing.T) {
	graph := newBareGraph(t)
	handle, err := graph.AddNode(MultiDispatchTypeName, "dispatch")
	if err != nil {
		t.Fatal(err)
	}
	if err := graph.Compile(); err != nil {
		t.Fatal(err)
	}

	node := graph.Instance(handle).(*MultiDispatchNode)
	_, _ = node.QueueDispatch(validPass("a", nil))
	_, _ = node.QueueDispatch(validPass("b", nil))
	_, _ = node.QueueDispatch(validPass("c", nil))

	if err := graph.RenderFrame(); err != nil {
		t.Fatal(err)
	}

	// Three dispatches in one implicit group need two hazard barriers.
	if got := node.Stats().BarrierCount; got != 2 {
		t.Errorf("BarrierCount = %d, want 2", got)
	}
	if node.QueueSize() != 0 {
		t.Error("queue should clear after recording")
	}
}

func TestBudgetedQueueRejects(t *testing.T) {
	node := NewMultiDispatchNode("dispatch", NewMultiDispatchNodeType())
	node.SetTaskBudget(timeline.NewTaskBudget(1_000_000, timeline.OverflowStrict))

	pass := validPass("cheap", nil)
	pass.EstimatedCostNs = 800_000
	if _, err := node.QueueDispatch(pass); err != nil {
		t.Fatalf("first = %v", err)
	}
	over := validPass("expensive", nil)
	over.EstimatedCostNs = 800_000
	if _, err := node.QueueDispatch(over); err == nil {
		t.Error("second pass should exceed the strict budget")
	}
}

// Helpers building a minimal execute context outside graph.Execute.
func newBareGraph(t *testing.T) *rendergraph.Graph {
	t.Helper()
	registry := rendergraph.NewNodeTypeRegistry()
	if _, err := registry.Register(NewMultiDispatchNodeType()); err != nil {
		t.Fatal(err)
	}
	graph, err := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registry,
	})
	if err != nil {
		t.Fatal(err)
	}
	return graph
}
