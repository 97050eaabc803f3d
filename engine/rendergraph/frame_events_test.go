package rendergraph

import (
	"testing"

	"github.com/spaghettifunk/vixen/engine/eventbus"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

func TestFrameEventsBracketExecution(t *testing.T) {
	registry := NewNodeTypeRegistry()
	var executed []string
	if _, err := registry.Register(passthroughType("Pass", 0, 1, &executed)); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.NewMessageBus()
	var events []eventbus.MessageType
	bus.SubscribeCategory(eventbus.CategoryFrame, func(msg *eventbus.Message) bool {
		events = append(events, msg.Type)
		return false
	})

	graph, err := NewGraph(GraphConfig{
		PrimaryDevice: &vulkan.Device{},
		Registry:      registry,
		MessageBus:    bus,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := graph.AddNode("Pass", "only"); err != nil {
		t.Fatal(err)
	}
	if err := graph.Compile(); err != nil {
		t.Fatal(err)
	}
	if err := graph.RenderFrame(); err != nil {
		t.Fatal(err)
	}

	if len(events) != 2 || events[0] != eventbus.MessageFrameStart || events[1] != eventbus.MessageFrameEnd {
		t.Errorf("frame events = %v, want [FrameStart, FrameEnd]", events)
	}
	if graph.FrameNumber() != 1 {
		t.Errorf("FrameNumber = %d, want 1", graph.FrameNumber())
	}
}
