package render

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/embergfx/ember/gpu"
)

// vulkanBackend is the real device-facing implementation: it records
// command buffers and talks to the queues. All sequencing decisions
// live in Engine; this type only executes them.
type vulkanBackend struct {
	dev       *gpu.Device
	window    Window
	swapchain *SwapChain
	pipelines *PipelineSet
	shadow    *ShadowMap
	materials MaterialSource

	mainFramebuffer core1_0.Framebuffer

	shadowEnabled bool
	lightDir      mgl32.Vec3
	particleCount int
}

func newVulkanBackend(dev *gpu.Device, window Window, swapchain *SwapChain, pipelines *PipelineSet, shadow *ShadowMap, materials MaterialSource, shadowEnabled bool, lightDir mgl32.Vec3, particleCount int) (*vulkanBackend, error) {
	b := &vulkanBackend{
		dev:       dev,
		window:    window,
		swapchain: swapchain,
		pipelines: pipelines,
		shadow:    shadow,
		materials: materials,

		shadowEnabled: shadowEnabled,
		lightDir:      lightDir,
		particleCount: particleCount,
	}

	var err error
	b.mainFramebuffer, err = pipelines.NewMainFramebuffer(swapchain)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *vulkanBackend) imageCount() int {
	return b.swapchain.ImageCount()
}

func (b *vulkanBackend) waitFence(fence core1_0.Fence) error {
	_, err := fence.Wait(common.NoTimeout)
	return err
}

func (b *vulkanBackend) resetFence(fence core1_0.Fence) error {
	_, err := b.dev.Handle().ResetFences([]core1_0.Fence{fence})
	return err
}

func (b *vulkanBackend) createSemaphore() (core1_0.Semaphore, error) {
	semaphore, _, err := b.dev.Handle().CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	return semaphore, err
}

func (b *vulkanBackend) destroySemaphore(semaphore core1_0.Semaphore) {
	semaphore.Destroy(nil)
}

func (b *vulkanBackend) recreateComputeDone(slot *FrameSlot) error {
	return slot.recreateComputeDone(b.dev)
}

func (b *vulkanBackend) acquire(signal core1_0.Semaphore) (int, surfaceStatus, error) {
	imageIndex, res, err := b.swapchain.Handle().AcquireNextImage(common.NoTimeout, signal, nil)
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return 0, surfaceOutOfDate, nil
	case khr_swapchain.VKSuboptimal:
		return imageIndex, surfaceSuboptimal, nil
	}
	if err != nil {
		return 0, surfaceOK, errors.Wrap(err, "acquiring swapchain image")
	}
	return imageIndex, surfaceOK, nil
}

func (b *vulkanBackend) updateUniforms(slot *FrameSlot, scene Scene, camera Camera) error {
	extent := b.swapchain.Extent()
	aspect := float32(extent.Width) / float32(extent.Height)

	boundsMin, boundsMax := scene.Bounds()
	frame := FrameUniforms{
		View:        camera.View(),
		Proj:        camera.Projection(aspect),
		LightMatrix: FitLightMatrix(b.lightDir, boundsMin, boundsMax),
		CameraPos:   camera.Position().Vec4(1),
	}
	err := slot.Frame.Write(0, frame)
	if err != nil {
		return err
	}

	drawables := scene.Drawables()
	if len(drawables) > MaxObjects {
		return errors.Newf("scene has %d drawables, limit is %d", len(drawables), MaxObjects)
	}
	objects := make([]ObjectData, len(drawables))
	for i, drawable := range drawables {
		objects[i].Model = drawable.Transform()
	}
	if len(objects) > 0 {
		err = slot.Objects.Write(0, objects)
		if err != nil {
			return err
		}
	}

	lights := LightUniforms{}
	count := 0
	for _, light := range scene.Lights() {
		if count == MaxLights {
			break
		}
		lights.Lights[count] = light
		count++
	}
	lights.Params = mgl32.Vec4{float32(count), 0, 0, 0}
	return slot.Lights.Write(0, lights)
}

func (b *vulkanBackend) submitCompute(slot *FrameSlot, deltaTime float32) error {
	buffer := slot.ComputeBuffer
	_, err := buffer.Reset(0)
	if err != nil {
		return err
	}
	_, err = buffer.Begin(core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return err
	}

	buffer.CmdBindPipeline(core1_0.PipelineBindPointCompute, b.pipelines.Compute)
	buffer.CmdBindDescriptorSets(core1_0.PipelineBindPointCompute, b.pipelines.ComputeLayout, []core1_0.DescriptorSet{slot.Set}, nil)

	err = buffer.CmdPushConstants(b.pipelines.ComputeLayout, core1_0.StageCompute, 0, pushConstantBytes(computePushConstants{
		DeltaTime:     deltaTime,
		ParticleCount: int32(b.particleCount),
	}))
	if err != nil {
		return err
	}

	buffer.CmdDispatch(GroupCount(b.particleCount), 1, 1)

	_, err = buffer.End()
	if err != nil {
		return err
	}

	err = b.dev.ComputeQueue().Submit(slot.ComputeFence, []core1_0.SubmitInfo{
		{
			CommandBuffers:   []core1_0.CommandBuffer{buffer},
			SignalSemaphores: []core1_0.Semaphore{slot.ComputeDone},
		},
	})
	return errors.Wrap(err, "submitting particle compute")
}

func (b *vulkanBackend) submitDraw(slot *FrameSlot, scene Scene, imageIndex int, imageAvailable, drawDone core1_0.Semaphore) error {
	err := b.recordDraw(slot, scene, imageIndex)
	if err != nil {
		return err
	}

	err = b.dev.GraphicsQueue().Submit(slot.DrawFence, []core1_0.SubmitInfo{
		{
			WaitSemaphores: []core1_0.Semaphore{slot.ComputeDone, imageAvailable},
			WaitDstStageMask: []core1_0.PipelineStageFlags{
				core1_0.PipelineStageVertexInput,
				core1_0.PipelineStageColorAttachmentOutput,
			},
			CommandBuffers:   []core1_0.CommandBuffer{slot.DrawBuffer},
			SignalSemaphores: []core1_0.Semaphore{drawDone},
		},
	})
	return errors.Wrap(err, "submitting draw")
}

func (b *vulkanBackend) recordDraw(slot *FrameSlot, scene Scene, imageIndex int) error {
	buffer := slot.DrawBuffer
	_, err := buffer.Reset(0)
	if err != nil {
		return err
	}
	_, err = buffer.Begin(core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return err
	}

	if b.shadowEnabled {
		err = b.recordShadowPass(buffer, slot, scene)
		if err != nil {
			return err
		}
	}

	err = b.recordMainPass(buffer, slot, scene)
	if err != nil {
		return err
	}

	err = b.recordPresentBlit(buffer, imageIndex)
	if err != nil {
		return err
	}

	_, err = buffer.End()
	return err
}

func (b *vulkanBackend) recordShadowPass(buffer core1_0.CommandBuffer, slot *FrameSlot, scene Scene) error {
	err := b.shadow.Depth.TransitionDiscard(buffer, core1_0.ImageLayoutDepthStencilAttachmentOptimal)
	if err != nil {
		return err
	}

	err = buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  b.pipelines.ShadowPass,
		Framebuffer: b.shadow.Framebuffer,
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: core1_0.Extent2D{Width: ShadowMapSize, Height: ShadowMapSize},
		},
		ClearValues: []core1_0.ClearValue{
			core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
		},
	})
	if err != nil {
		return err
	}

	buffer.CmdSetViewport([]core1_0.Viewport{
		{
			X: 0, Y: 0,
			Width:    float32(ShadowMapSize),
			Height:   float32(ShadowMapSize),
			MinDepth: 0,
			MaxDepth: 1,
		},
	})
	buffer.CmdSetScissor([]core1_0.Rect2D{
		{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: core1_0.Extent2D{Width: ShadowMapSize, Height: ShadowMapSize},
		},
	})

	buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, b.pipelines.Shadow)
	buffer.CmdBindDescriptorSets(core1_0.PipelineBindPointGraphics, b.pipelines.GraphicsLayout, []core1_0.DescriptorSet{slot.Set}, nil)

	for i, drawable := range scene.Drawables() {
		err = buffer.CmdPushConstants(b.pipelines.GraphicsLayout, core1_0.StageVertex, 0, pushConstantBytes(drawPushConstants{ObjectIndex: int32(i)}))
		if err != nil {
			return err
		}
		mesh := drawable.Mesh()
		mesh.Bind(buffer)
		mesh.Draw(buffer)
	}

	buffer.CmdEndRenderPass()
	return b.shadow.Depth.TransitionTo(buffer, core1_0.ImageLayoutShaderReadOnlyOptimal)
}

func (b *vulkanBackend) recordMainPass(buffer core1_0.CommandBuffer, slot *FrameSlot, scene Scene) error {
	err := b.swapchain.Color.TransitionDiscard(buffer, core1_0.ImageLayoutColorAttachmentOptimal)
	if err != nil {
		return err
	}
	if b.swapchain.MSAA != nil {
		err = b.swapchain.MSAA.TransitionDiscard(buffer, core1_0.ImageLayoutColorAttachmentOptimal)
		if err != nil {
			return err
		}
	}
	err = b.swapchain.Depth.TransitionDiscard(buffer, core1_0.ImageLayoutDepthStencilAttachmentOptimal)
	if err != nil {
		return err
	}

	extent := b.swapchain.Extent()
	clearValues := []core1_0.ClearValue{
		core1_0.ClearValueFloat{0.01, 0.01, 0.02, 1},
		core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
	}
	if b.swapchain.MSAA != nil {
		clearValues = append(clearValues, core1_0.ClearValueFloat{0, 0, 0, 1})
	}

	err = buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  b.pipelines.MainPass,
		Framebuffer: b.mainFramebuffer,
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValues: clearValues,
	})
	if err != nil {
		return err
	}

	buffer.CmdSetViewport([]core1_0.Viewport{
		{
			X: 0, Y: 0,
			Width:    float32(extent.Width),
			Height:   float32(extent.Height),
			MinDepth: 0,
			MaxDepth: 1,
		},
	})
	buffer.CmdSetScissor([]core1_0.Rect2D{
		{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
	})

	err = b.recordDrawables(buffer, slot, scene)
	if err != nil {
		return err
	}
	b.recordParticles(buffer, slot)

	buffer.CmdEndRenderPass()

	// The pass ends with every attachment back at attachment-optimal;
	// sync the tracked layouts without re-recording barriers.
	b.swapchain.Color.ForceLayout(core1_0.ImageLayoutColorAttachmentOptimal)
	if b.swapchain.MSAA != nil {
		b.swapchain.MSAA.ForceLayout(core1_0.ImageLayoutColorAttachmentOptimal)
	}
	b.swapchain.Depth.ForceLayout(core1_0.ImageLayoutDepthStencilAttachmentOptimal)
	return nil
}

// recordDrawables records the mesh draws. Descriptor binding in this
// wrapper always starts at set zero, so switching the material set
// means rebinding the frame set alongside it; draws are grouped by
// pipeline kind to keep the rebinds to a minimum.
func (b *vulkanBackend) recordDrawables(buffer core1_0.CommandBuffer, slot *FrameSlot, scene Scene) error {
	drawables := scene.Drawables()

	record := func(kind PipelineKind, pipeline core1_0.Pipeline) error {
		bound := false
		for i, drawable := range drawables {
			if drawable.Pipeline() != kind {
				continue
			}
			if !bound {
				buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, pipeline)
				bound = true
			}

			if kind == PipelineLit {
				material := drawable.MaterialIndex()
				buffer.CmdBindDescriptorSets(core1_0.PipelineBindPointGraphics, b.pipelines.GraphicsLayout,
					[]core1_0.DescriptorSet{slot.Set, b.materials.SetFor(material, slot.Index)},
					[]int{b.materials.DynamicOffset(material)})
			} else {
				buffer.CmdBindDescriptorSets(core1_0.PipelineBindPointGraphics, b.pipelines.GraphicsLayout,
					[]core1_0.DescriptorSet{slot.Set}, nil)
			}

			err := buffer.CmdPushConstants(b.pipelines.GraphicsLayout, core1_0.StageVertex, 0, pushConstantBytes(drawPushConstants{ObjectIndex: int32(i)}))
			if err != nil {
				return err
			}
			mesh := drawable.Mesh()
			mesh.Bind(buffer)
			mesh.Draw(buffer)
		}
		return nil
	}

	err := record(PipelineLit, b.pipelines.Lit)
	if err != nil {
		return err
	}
	return record(PipelineFlat, b.pipelines.Flat)
}

// recordParticles draws the slot's own particle buffer, the one this
// frame's compute pass writes. The submission waits on ComputeDone at
// vertex input, so the draw never reads a half-written buffer.
func (b *vulkanBackend) recordParticles(buffer core1_0.CommandBuffer, slot *FrameSlot) {
	if b.particleCount == 0 {
		return
	}
	buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, b.pipelines.Particle)
	buffer.CmdBindDescriptorSets(core1_0.PipelineBindPointGraphics, b.pipelines.GraphicsLayout,
		[]core1_0.DescriptorSet{slot.Set}, nil)
	buffer.CmdBindVertexBuffers(0, []core1_0.Buffer{slot.Particles.Handle()}, []int{0})
	buffer.CmdDraw(b.particleCount, 1, 0, 0)
}

// recordPresentBlit copies the off-screen color target onto the
// acquired swapchain image and leaves that image present-ready.
func (b *vulkanBackend) recordPresentBlit(buffer core1_0.CommandBuffer, imageIndex int) error {
	err := b.swapchain.Color.TransitionTo(buffer, core1_0.ImageLayoutTransferSrcOptimal)
	if err != nil {
		return err
	}

	target := b.swapchain.Images()[imageIndex]
	err = gpu.RecordTransition(buffer, target, core1_0.ImageAspectColor,
		core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	if err != nil {
		return err
	}

	extent := b.swapchain.Extent()
	subresource := core1_0.ImageSubresourceLayers{
		AspectMask:     core1_0.ImageAspectColor,
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
	err = buffer.CmdBlitImage(b.swapchain.Color.Handle(), core1_0.ImageLayoutTransferSrcOptimal,
		target, core1_0.ImageLayoutTransferDstOptimal,
		[]core1_0.ImageBlit{
			{
				SrcSubresource: subresource,
				SrcOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: extent.Width, Y: extent.Height, Z: 1},
				},
				DstSubresource: subresource,
				DstOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: extent.Width, Y: extent.Height, Z: 1},
				},
			},
		}, core1_0.FilterLinear)
	if err != nil {
		return err
	}

	return gpu.RecordTransition(buffer, target, core1_0.ImageAspectColor,
		core1_0.ImageLayoutTransferDstOptimal, khr_swapchain.ImageLayoutPresentSrc)
}

func (b *vulkanBackend) present(imageIndex int, drawDone core1_0.Semaphore) (surfaceStatus, error) {
	res, err := b.swapchain.Extension().QueuePresent(b.dev.PresentQueue().Handle(), khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{drawDone},
		Swapchains:     []khr_swapchain.Swapchain{b.swapchain.Handle()},
		ImageIndices:   []int{imageIndex},
	})
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return surfaceOutOfDate, nil
	case khr_swapchain.VKSuboptimal:
		return surfaceSuboptimal, nil
	}
	if err != nil {
		return surfaceOK, errors.Wrap(err, "presenting")
	}
	return surfaceOK, nil
}

func (b *vulkanBackend) recreateSurface() error {
	if b.mainFramebuffer != nil {
		b.mainFramebuffer.Destroy(nil)
		b.mainFramebuffer = nil
	}

	err := b.swapchain.Recreate()
	if err != nil {
		return err
	}

	b.mainFramebuffer, err = b.pipelines.NewMainFramebuffer(b.swapchain)
	return err
}

func (b *vulkanBackend) waitIdle() error {
	_, err := b.dev.Handle().WaitIdle()
	return err
}

func (b *vulkanBackend) destroy() {
	if b.mainFramebuffer != nil {
		b.mainFramebuffer.Destroy(nil)
		b.mainFramebuffer = nil
	}
}

// pushConstantBytes serializes a push constant block. The blocks are
// small fixed-size structs, so serialization cannot fail.
func pushConstantBytes(data any) []byte {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}
