package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/embergfx/ember/gpu"
)

// ShaderBlobs carries the SPIR-V bytecode for every pipeline. Blobs
// are loaded from disk by the caller; missing required blobs fail
// pipeline construction.
type ShaderBlobs struct {
	MeshVert     []byte
	LitFrag      []byte
	FlatFrag     []byte
	ParticleVert []byte
	ParticleFrag []byte
	ShadowVert   []byte
	ParticleComp []byte
}

// drawPushConstants is the per-draw push constant block: the index of
// the drawable's entry in the object uniform array.
type drawPushConstants struct {
	ObjectIndex int32
}

// computePushConstants is pushed once per compute dispatch.
type computePushConstants struct {
	DeltaTime     float32
	ParticleCount int32
}

// PipelineSet owns the render passes, pipeline layouts, and every
// pipeline the renderer records with. Pipelines use dynamic viewport
// and scissor, so the set survives swapchain recreation untouched;
// only framebuffers are rebuilt.
type PipelineSet struct {
	dev *gpu.Device

	MainPass   core1_0.RenderPass
	ShadowPass core1_0.RenderPass

	GraphicsLayout core1_0.PipelineLayout
	ComputeLayout  core1_0.PipelineLayout

	Lit      core1_0.Pipeline
	Flat     core1_0.Pipeline
	Particle core1_0.Pipeline
	Shadow   core1_0.Pipeline
	Compute  core1_0.Pipeline

	samples core1_0.SampleCountFlags
}

// NewPipelineSet builds both render passes and all five pipelines.
// colorFormat and depthFormat come from the swapchain; samples selects
// the MSAA path for the main pass.
func NewPipelineSet(dev *gpu.Device, manager *Manager, blobs ShaderBlobs, colorFormat, depthFormat core1_0.Format, samples core1_0.SampleCountFlags) (*PipelineSet, error) {
	p := &PipelineSet{dev: dev, samples: samples}

	err := p.createMainPass(colorFormat, depthFormat)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	err = p.createShadowPass(depthFormat)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	err = p.createLayouts(manager)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	err = p.createPipelines(blobs)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

// createMainPass builds the scene pass. Attachment layouts begin and
// end at attachment-optimal; the pre-pass discard transition and the
// post-pass blit transitions are recorded explicitly outside the pass,
// so the frame's layout bookkeeping stays in one place.
func (p *PipelineSet) createMainPass(colorFormat, depthFormat core1_0.Format) error {
	msaa := p.samples != core1_0.Samples1

	attachments := []core1_0.AttachmentDescription{
		{
			Format:         colorFormat,
			Samples:        p.samples,
			LoadOp:         core1_0.AttachmentLoadOpClear,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
		},
		{
			Format:         depthFormat,
			Samples:        p.samples,
			LoadOp:         core1_0.AttachmentLoadOpClear,
			StoreOp:        core1_0.AttachmentStoreOpDontCare,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	subpass := core1_0.SubpassDescription{
		PipelineBindPoint: core1_0.PipelineBindPointGraphics,
		ColorAttachments: []core1_0.AttachmentReference{
			{
				Attachment: 0,
				Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
			},
		},
		DepthStencilAttachment: &core1_0.AttachmentReference{
			Attachment: 1,
			Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	if msaa {
		// The multisampled target renders, the single-sampled color
		// target receives the resolve. StoreOp on the MSAA attachment
		// is DontCare: only the resolve result survives the pass.
		attachments[0].StoreOp = core1_0.AttachmentStoreOpDontCare
		attachments = append(attachments, core1_0.AttachmentDescription{
			Format:         colorFormat,
			Samples:        core1_0.Samples1,
			LoadOp:         core1_0.AttachmentLoadOpDontCare,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
		})
		subpass.ResolveAttachments = []core1_0.AttachmentReference{
			{
				Attachment: 2,
				Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
			},
		}
	}

	renderPass, _, err := p.dev.Handle().CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: attachments,
		Subpasses:   []core1_0.SubpassDescription{subpass},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating main render pass")
	}
	p.MainPass = renderPass
	return nil
}

// createShadowPass builds the depth-only shadow pass. The final layout
// stays at attachment-optimal; the depth-to-shader-read transition is
// recorded explicitly after the pass ends.
func (p *PipelineSet) createShadowPass(depthFormat core1_0.Format) error {
	renderPass, _, err := p.dev.Handle().CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         depthFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 0,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating shadow render pass")
	}
	p.ShadowPass = renderPass
	return nil
}

func (p *PipelineSet) createLayouts(manager *Manager) error {
	var err error
	p.GraphicsLayout, _, err = p.dev.Handle().CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{
			manager.FrameLayout(),
			manager.MaterialLayout(),
		},
		PushConstantRanges: []core1_0.PushConstantRange{
			{
				StageFlags: core1_0.StageVertex,
				Offset:     0,
				Size:       4,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating graphics pipeline layout")
	}

	p.ComputeLayout, _, err = p.dev.Handle().CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{
			manager.FrameLayout(),
		},
		PushConstantRanges: []core1_0.PushConstantRange{
			{
				StageFlags: core1_0.StageCompute,
				Offset:     0,
				Size:       8,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating compute pipeline layout")
	}
	return nil
}

func (p *PipelineSet) createPipelines(blobs ShaderBlobs) error {
	meshVert, err := p.shaderModule(blobs.MeshVert, "mesh vertex")
	if err != nil {
		return err
	}
	defer meshVert.Destroy(nil)
	litFrag, err := p.shaderModule(blobs.LitFrag, "lit fragment")
	if err != nil {
		return err
	}
	defer litFrag.Destroy(nil)
	flatFrag, err := p.shaderModule(blobs.FlatFrag, "flat fragment")
	if err != nil {
		return err
	}
	defer flatFrag.Destroy(nil)
	particleVert, err := p.shaderModule(blobs.ParticleVert, "particle vertex")
	if err != nil {
		return err
	}
	defer particleVert.Destroy(nil)
	particleFrag, err := p.shaderModule(blobs.ParticleFrag, "particle fragment")
	if err != nil {
		return err
	}
	defer particleFrag.Destroy(nil)
	shadowVert, err := p.shaderModule(blobs.ShadowVert, "shadow vertex")
	if err != nil {
		return err
	}
	defer shadowVert.Destroy(nil)
	particleComp, err := p.shaderModule(blobs.ParticleComp, "particle compute")
	if err != nil {
		return err
	}
	defer particleComp.Destroy(nil)

	meshInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions:   vertexBindingDescription(),
		VertexAttributeDescriptions: vertexAttributeDescriptions(),
	}
	particleInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions:   particleBindingDescription(),
		VertexAttributeDescriptions: particleAttributeDescriptions(),
	}

	triangles := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}
	points := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyPointList,
		PrimitiveRestartEnable: false,
	}

	// Viewport and scissor are dynamic; the counts here only size the
	// state. Values are set per command buffer.
	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{{}},
		Scissors:  []core1_0.Rect2D{{}},
	}
	dynamic := &core1_0.PipelineDynamicStateCreateInfo{
		DynamicStates: []core1_0.DynamicState{
			core1_0.DynamicStateViewport,
			core1_0.DynamicStateScissor,
		},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeBack,
		FrontFace:   core1_0.FrontFaceCounterClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}
	// The shadow pass front-face culls instead, which cheaply hides
	// most self-shadowing acne on closed meshes.
	shadowRasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeFront,
		FrontFace:   core1_0.FrontFaceCounterClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}
	particleRasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeNone,
		FrontFace:   core1_0.FrontFaceCounterClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: p.samples,
		MinSampleShading:     1.0,
	}
	singleSample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: core1_0.Samples1,
		MinSampleShading:     1.0,
	}

	depthReadWrite := &core1_0.PipelineDepthStencilStateCreateInfo{
		DepthTestEnable:  true,
		DepthWriteEnable: true,
		DepthCompareOp:   core1_0.CompareOpLess,
	}
	// Particles depth-test against the scene but do not write, so
	// overlapping points never z-fight each other.
	depthReadOnly := &core1_0.PipelineDepthStencilStateCreateInfo{
		DepthTestEnable:  true,
		DepthWriteEnable: false,
		DepthCompareOp:   core1_0.CompareOpLess,
	}

	opaqueBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:   false,
				ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}
	additiveBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:        true,
				SrcColorBlendFactor: core1_0.BlendFactorSrcAlpha,
				DstColorBlendFactor: core1_0.BlendFactorOne,
				ColorBlendOp:        core1_0.BlendOpAdd,
				SrcAlphaBlendFactor: core1_0.BlendFactorOne,
				DstAlphaBlendFactor: core1_0.BlendFactorOne,
				AlphaBlendOp:        core1_0.BlendOpAdd,
				ColorWriteMask:      core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}

	pipelines, _, err := p.dev.Handle().CreateGraphicsPipelines(nil, nil, []core1_0.GraphicsPipelineCreateInfo{
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{Stage: core1_0.StageVertex, Module: meshVert, Name: "main"},
				{Stage: core1_0.StageFragment, Module: litFrag, Name: "main"},
			},
			VertexInputState:   meshInput,
			InputAssemblyState: triangles,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			DepthStencilState:  depthReadWrite,
			ColorBlendState:    opaqueBlend,
			DynamicState:       dynamic,
			Layout:             p.GraphicsLayout,
			RenderPass:         p.MainPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{Stage: core1_0.StageVertex, Module: meshVert, Name: "main"},
				{Stage: core1_0.StageFragment, Module: flatFrag, Name: "main"},
			},
			VertexInputState:   meshInput,
			InputAssemblyState: triangles,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			DepthStencilState:  depthReadWrite,
			ColorBlendState:    opaqueBlend,
			DynamicState:       dynamic,
			Layout:             p.GraphicsLayout,
			RenderPass:         p.MainPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{Stage: core1_0.StageVertex, Module: particleVert, Name: "main"},
				{Stage: core1_0.StageFragment, Module: particleFrag, Name: "main"},
			},
			VertexInputState:   particleInput,
			InputAssemblyState: points,
			ViewportState:      viewport,
			RasterizationState: particleRasterization,
			MultisampleState:   multisample,
			DepthStencilState:  depthReadOnly,
			ColorBlendState:    additiveBlend,
			DynamicState:       dynamic,
			Layout:             p.GraphicsLayout,
			RenderPass:         p.MainPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{Stage: core1_0.StageVertex, Module: shadowVert, Name: "main"},
			},
			VertexInputState:   meshInput,
			InputAssemblyState: triangles,
			ViewportState:      viewport,
			RasterizationState: shadowRasterization,
			MultisampleState:   singleSample,
			DepthStencilState:  depthReadWrite,
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				LogicOpEnabled: false,
				LogicOp:        core1_0.LogicOpCopy,
			},
			DynamicState:      dynamic,
			Layout:            p.GraphicsLayout,
			RenderPass:        p.ShadowPass,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating graphics pipelines")
	}
	p.Lit = pipelines[0]
	p.Flat = pipelines[1]
	p.Particle = pipelines[2]
	p.Shadow = pipelines[3]

	computePipelines, _, err := p.dev.Handle().CreateComputePipelines(nil, nil, []core1_0.ComputePipelineCreateInfo{
		{
			Stage: core1_0.PipelineShaderStageCreateInfo{
				Stage:  core1_0.StageCompute,
				Module: particleComp,
				Name:   "main",
			},
			Layout:            p.ComputeLayout,
			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating compute pipeline")
	}
	p.Compute = computePipelines[0]

	return nil
}

func (p *PipelineSet) shaderModule(code []byte, name string) (core1_0.ShaderModule, error) {
	if len(code) == 0 {
		return nil, errors.Newf("missing %s shader bytecode", name)
	}
	module, _, err := p.dev.Handle().CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(code),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s shader module", name)
	}
	return module, nil
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

// NewMainFramebuffer builds the single framebuffer the main pass
// renders into, attached to the swapchain's off-screen targets.
// Rebuilt on every swapchain recreation.
func (p *PipelineSet) NewMainFramebuffer(swapchain *SwapChain) (core1_0.Framebuffer, error) {
	attachments := []core1_0.ImageView{
		swapchain.Color.View(),
		swapchain.Depth.View(),
	}
	if swapchain.MSAA != nil {
		attachments = []core1_0.ImageView{
			swapchain.MSAA.View(),
			swapchain.Depth.View(),
			swapchain.Color.View(),
		}
	}

	framebuffer, _, err := p.dev.Handle().CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  p.MainPass,
		Layers:      1,
		Attachments: attachments,
		Width:       swapchain.Extent().Width,
		Height:      swapchain.Extent().Height,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating main framebuffer")
	}
	return framebuffer, nil
}

// Destroy releases the pipelines, layouts, and render passes.
func (p *PipelineSet) Destroy() {
	for _, pipeline := range []core1_0.Pipeline{p.Compute, p.Shadow, p.Particle, p.Flat, p.Lit} {
		if pipeline != nil {
			pipeline.Destroy(nil)
		}
	}
	p.Lit, p.Flat, p.Particle, p.Shadow, p.Compute = nil, nil, nil, nil, nil

	if p.ComputeLayout != nil {
		p.ComputeLayout.Destroy(nil)
		p.ComputeLayout = nil
	}
	if p.GraphicsLayout != nil {
		p.GraphicsLayout.Destroy(nil)
		p.GraphicsLayout = nil
	}
	if p.ShadowPass != nil {
		p.ShadowPass.Destroy(nil)
		p.ShadowPass = nil
	}
	if p.MainPass != nil {
		p.MainPass.Destroy(nil)
		p.MainPass = nil
	}
}
