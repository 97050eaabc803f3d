package testbed

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vixen/engine/assets/loaders"
	"github.com/spaghettifunk/vixen/engine/config"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/eventbus"
	"github.com/spaghettifunk/vixen/engine/rendergraph"
	"github.com/spaghettifunk/vixen/engine/rendergraph/nodes"
	"github.com/spaghettifunk/vixen/engine/rendergraph/timeline"
	"github.com/spaghettifunk/vixen/engine/shaderdata"
	"github.com/spaghettifunk/vixen/engine/vulkan"
)

const noiseTexturePath = "testbed/assets/textures/noise.png"

// App drives a small compute graph: a storage image and a sampled noise
// texture gathered into a descriptor set, a compute pipeline, and a
// multi-dispatch recorder, with the capacity tracker watching the frame
// loop and the config watcher feeding budget changes back in.
type App struct {
	cfg config.EngineConfig

	bus     *eventbus.MessageBus
	tracker *timeline.TimelineCapacityTracker
	graph   *rendergraph.Graph

	watcher *config.Watcher

	frameClock *core.Clock

	dispatcher rendergraph.NodeHandle
}

func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	bus := eventbus.NewMessageBus()
	bus.Reserve(cfg.EventBus.ExpectedCapacity)
	bus.SetExpectedCapacity(cfg.EventBus.ExpectedCapacity)

	tracker := timeline.NewTimelineCapacityTracker(timeline.TrackerConfig{
		NumGPUQueues:             cfg.Timeline.NumGPUQueues,
		NumCPUThreads:            cfg.Timeline.NumCPUThreads,
		GPUTimeBudgetNs:          cfg.Timeline.GPUTimeBudgetNs,
		CPUTimeBudgetNs:          cfg.Timeline.CPUTimeBudgetNs,
		HistoryDepth:             cfg.Timeline.HistoryDepth,
		AdaptiveThreshold:        cfg.Timeline.AdaptiveThreshold,
		EnableAdaptiveScheduling: true,
		HysteresisDamping:        cfg.Timeline.HysteresisDamping,
		HysteresisDeadband:       cfg.Timeline.HysteresisDeadband,
	})
	tracker.SetMessageBus(bus)

	// Edited budgets land on the tracker at the next ProcessMessages.
	bus.Subscribe(eventbus.MessageBudgetConfigChanged, func(msg *eventbus.Message) bool {
		reloaded, ok := msg.Payload.(*config.EngineConfig)
		if !ok {
			return false
		}
		tracker.SetGPUBudget(reloaded.Timeline.GPUTimeBudgetNs)
		tracker.SetCPUBudget(reloaded.Timeline.CPUTimeBudgetNs)
		core.LogInfo("budgets reloaded: gpu=%dns cpu=%dns",
			reloaded.Timeline.GPUTimeBudgetNs, reloaded.Timeline.CPUTimeBudgetNs)
		return false
	})

	app := &App{
		cfg:        cfg,
		bus:        bus,
		tracker:    tracker,
		frameClock: core.NewClock(),
	}
	if err := app.buildGraph(); err != nil {
		return nil, err
	}

	watcher, err := config.NewWatcher(configPath, bus)
	if err != nil {
		core.LogWarn("config watcher disabled: %v", err)
	} else {
		app.watcher = watcher
	}
	return app, nil
}

func (a *App) buildGraph() error {
	registry := rendergraph.NewNodeTypeRegistry()
	for _, nodeType := range []*rendergraph.NodeType{
		nodes.NewShaderLibraryNodeType(),
		nodes.NewStorageImageNodeType(),
		nodes.NewSampledTextureNodeType(),
		nodes.NewDescriptorResourceGathererNodeType(),
		nodes.NewDescriptorSetNodeType(),
		nodes.NewComputePipelineNodeType(),
		nodes.NewMultiDispatchNodeType(),
	} {
		if _, err := registry.Register(nodeType); err != nil {
			return err
		}
	}

	// The demo runs headless; device creation belongs to the hosting
	// application.
	device := &vulkan.Device{}

	graph, err := rendergraph.NewGraph(rendergraph.GraphConfig{
		PrimaryDevice: device,
		Registry:      registry,
		MessageBus:    a.bus,
	})
	if err != nil {
		return err
	}

	library, err := graph.AddNode(nodes.ShaderLibraryTypeName, "fillLibrary")
	if err != nil {
		return err
	}
	image, err := graph.AddNode(nodes.StorageImageTypeName, "outputImage")
	if err != nil {
		return err
	}
	texture, err := graph.AddNode(nodes.SampledTextureTypeName, "noiseTexture")
	if err != nil {
		return err
	}
	gatherer, err := graph.AddNode(nodes.DescriptorResourceGathererTypeName, "fillGatherer")
	if err != nil {
		return err
	}
	descriptorSet, err := graph.AddNode(nodes.DescriptorSetTypeName, "fillDescriptors")
	if err != nil {
		return err
	}
	pipeline, err := graph.AddNode(nodes.ComputePipelineTypeName, "fillPipeline")
	if err != nil {
		return err
	}
	dispatcher, err := graph.AddNode(nodes.MultiDispatchTypeName, "dispatcher")
	if err != nil {
		return err
	}

	libraryNode := graph.Instance(library).(*nodes.ShaderLibraryNode)
	libraryNode.SetBundle(demoBundle())

	textureNode := graph.Instance(texture).(*nodes.SampledTextureNode)
	textureNode.SetTexture(loadNoiseTexture())

	gathererNode := graph.Instance(gatherer).(*nodes.DescriptorResourceGathererNode)
	gathererNode.PreRegisterBindings([]shaderdata.BindingReference{
		{Set: 0, Binding: 0, Type: vk.DescriptorTypeStorageImage, Name: "outputImage"},
		{Set: 0, Binding: 1, Type: vk.DescriptorTypeCombinedImageSampler, Name: "noiseTexture"},
	})

	if err := graph.ConnectNodes(library, nodes.ShaderLibraryBundleOut, gatherer, nodes.GathererShaderDataBundle); err != nil {
		return err
	}
	if err := graph.ConnectVariadic(image, nodes.StorageImageOut, gatherer, 0); err != nil {
		return err
	}
	if err := graph.ConnectVariadic(texture, nodes.SampledTextureOut, gatherer, 1); err != nil {
		return err
	}
	if err := graph.ConnectNodes(gatherer, nodes.GathererDescriptorResources, descriptorSet, nodes.DescriptorSetResources); err != nil {
		return err
	}
	if err := graph.ConnectNodes(gatherer, nodes.GathererShaderBundleOut, descriptorSet, nodes.DescriptorSetBundle); err != nil {
		return err
	}
	if err := graph.ConnectNodes(library, nodes.ShaderLibraryBundleOut, pipeline, nodes.ComputePipelineBundle); err != nil {
		return err
	}
	if err := graph.ConnectNodes(descriptorSet, nodes.DescriptorSetLayoutOut, pipeline, nodes.ComputePipelineLayout); err != nil {
		return err
	}
	// The dispatcher runs after the pipeline is built; passes are queued
	// by the application each frame.
	if err := graph.ConnectNodes(pipeline, nodes.ComputePipelineOut, dispatcher, nodes.MultiDispatchGroupInputs); err != nil {
		return err
	}

	if err := graph.Compile(); err != nil {
		return err
	}

	a.graph = graph
	a.dispatcher = dispatcher
	return nil
}

// loadNoiseTexture decodes the bundled texture. A missing asset falls
// back to a single opaque texel so the graph still compiles.
func loadNoiseTexture() *rendergraph.TextureDescription {
	loader := &loaders.TextureLoader{}
	texture, err := loader.Load(noiseTexturePath)
	if err != nil {
		core.LogWarn("texture %s not loaded (%v); using fallback texel", noiseTexturePath, err)
		return &rendergraph.TextureDescription{
			Width:  1,
			Height: 1,
			Format: vk.FormatR8g8b8a8Unorm,
			Pixels: []byte{0xFF, 0xFF, 0xFF, 0xFF},
		}
	}
	return texture
}

// demoBundle fabricates the bundle the shader subsystem would deliver for
// testbed/shaders/fill.comp.glsl.
func demoBundle() *shaderdata.ShaderDataBundle {
	layout := &shaderdata.DescriptorLayoutSpec{MaxSets: 1}
	layout.AddBinding(shaderdata.DescriptorBindingSpec{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		Name:            "outputImage",
	})
	layout.AddBinding(shaderdata.DescriptorBindingSpec{
		Binding:         1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		Name:            "noiseTexture",
	})
	return &shaderdata.ShaderDataBundle{
		Name:             "fill",
		SpirvByStage:     map[shaderdata.ShaderStage][]uint32{shaderdata.StageCompute: {0x07230203}},
		Reflection:       &shaderdata.ReflectionData{Bindings: layout.Bindings},
		DescriptorLayout: layout,
	}
}

// RunFrames executes the graph for a fixed number of frames, feeding the
// capacity tracker with the measured CPU frame time.
func (a *App) RunFrames(frames int) error {
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	for frame := 0; frame < frames; frame++ {
		a.tracker.BeginFrame()
		a.frameClock.Start()

		if err := a.graph.RenderFrame(); err != nil {
			return err
		}

		a.frameClock.Update()
		elapsedNs := uint64(a.frameClock.Elapsed())
		a.tracker.RecordCPUTime(0, elapsedNs)
		a.tracker.EndFrame()

		core.MetricsUpdate(a.frameClock.Elapsed() / 1e9)

		if scale := a.tracker.ComputeTaskCountScale(); scale != 1.0 {
			core.LogDebug("frame %d: task count scale %.2f", frame, scale)
		}
	}

	fps, frameTime := core.MetricsFrame()
	core.LogInfo("testbed done: %.1f fps, %.2f ms avg frame", fps, frameTime)
	return nil
}

// Shutdown stops the config watcher and tears the graph down.
func (a *App) Shutdown() {
	if a.watcher != nil {
		_ = a.watcher.Close()
		a.watcher = nil
	}
	a.graph.Clear()
}
