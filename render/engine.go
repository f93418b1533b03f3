package render

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/core1_0"
	"golang.org/x/exp/slog"

	"github.com/embergfx/ember/gpu"
)

// EngineOptions configures the parts of the frame loop fixed at
// startup.
type EngineOptions struct {
	// Shadows enables the shadow pass. Off, the shadow map is left in
	// a cleared shader-readable state and every fragment is lit.
	Shadows bool
	// LightDir is the directional light the shadow pass renders from.
	LightDir mgl32.Vec3
	// ParticleCount is the number of simulated particles. Zero disables
	// the particle system entirely.
	ParticleCount int
	// Rand seeds the initial particle distribution.
	Rand *rand.Rand
}

// Engine sequences one frame at a time: wait for the slot's previous
// work, acquire a presentable image, submit the particle compute pass
// and the graphics pass, present, and react to surface invalidation.
//
// Presentation sync is per swapchain image (imageAvailable and
// drawDone pairs), while execution sync is per frame slot (fences and
// the compute-to-draw semaphore). The two sets are deliberately
// indexed differently: the image index the surface hands back is
// unrelated to which slot is recording.
type Engine struct {
	log    *slog.Logger
	b      backend
	window Window

	slots   [FramesInFlight]*FrameSlot
	current int

	// imageAvailable[i] was signaled by the acquire that returned image
	// i. A spare semaphore is handed to each acquire, then swapped into
	// the array once the image index is known, since the index is not
	// known at acquire time.
	imageAvailable []core1_0.Semaphore
	drawDone       []core1_0.Semaphore
	spareAcquire   core1_0.Semaphore

	frame uint64

	vb *vulkanBackend
}

// NewEngine assembles the frame slots and per-image sync for the given
// device-side collaborators and returns a ready-to-draw engine.
func NewEngine(logger *slog.Logger, dev *gpu.Device, window Window, manager *Manager, swapchain *SwapChain, pipelines *PipelineSet, shadow *ShadowMap, materials MaterialSource, opts EngineOptions) (*Engine, error) {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	if opts.LightDir.Len() == 0 {
		opts.LightDir = mgl32.Vec3{-0.5, -1, -0.3}
	}

	vb, err := newVulkanBackend(dev, window, swapchain, pipelines, shadow, materials, opts.Shadows, opts.LightDir, opts.ParticleCount)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:    logger,
		b:      vb,
		window: window,
		vb:     vb,
	}

	drawBuffers, err := dev.GraphicsQueue().AllocateCommandBuffers(FramesInFlight)
	if err != nil {
		e.Destroy()
		return nil, err
	}
	computeBuffers, err := dev.ComputeQueue().AllocateCommandBuffers(FramesInFlight)
	if err != nil {
		e.Destroy()
		return nil, err
	}

	for i := 0; i < FramesInFlight; i++ {
		count := opts.ParticleCount
		if count == 0 {
			// The descriptor bindings still need a valid buffer.
			count = 1
		}
		particles, err := NewParticleBuffer(dev, dev.GraphicsQueue(), count, opts.Rand)
		if err != nil {
			e.Destroy()
			return nil, err
		}

		e.slots[i], err = newFrameSlot(dev, manager, i, computeBuffers[i], drawBuffers[i], particles)
		if err != nil {
			particles.Destroy()
			e.Destroy()
			return nil, err
		}
	}

	// Each slot's compute pass reads the other slot's particle buffer
	// and writes its own, so consecutive frames ping-pong state.
	for i := 0; i < FramesInFlight; i++ {
		other := e.slots[(i+1)%FramesInFlight]
		err = manager.WriteFrameSet(e.slots[i].Set, FrameSetBuffers{
			Objects:        e.slots[i].Objects,
			Frame:          e.slots[i].Frame,
			Lights:         e.slots[i].Lights,
			ParticlesRead:  other.Particles,
			ParticlesWrite: e.slots[i].Particles,
		}, shadow.Depth.View(), shadow.Sampler)
		if err != nil {
			e.Destroy()
			return nil, err
		}
	}

	err = e.createPresentSync()
	if err != nil {
		e.Destroy()
		return nil, err
	}

	return e, nil
}

// DrawFrame runs one iteration of the frame loop. A frame that aborts
// on an out-of-date surface submits nothing and does not consume a
// frame slot; the next call retries with the recreated swapchain.
func (e *Engine) DrawFrame(scene Scene, camera Camera, deltaTime float32) error {
	slot := e.slots[e.current]

	err := e.b.waitFence(slot.ComputeFence)
	if err != nil {
		return err
	}
	err = e.b.waitFence(slot.DrawFence)
	if err != nil {
		return err
	}

	imageIndex, acquireStatus, err := e.b.acquire(e.spareAcquire)
	if err != nil {
		return err
	}
	if acquireStatus == surfaceOutOfDate {
		// The failed acquire left the spare semaphore unsignaled, and
		// both fences remain signaled: nothing was reset, so the
		// retry re-enters cleanly.
		e.log.Debug("swapchain out of date on acquire", "frame", e.frame)
		return e.recreate()
	}

	// Adopt the just-signaled semaphore as this image's acquire
	// semaphore; its previous one becomes the next spare.
	acquired := e.spareAcquire
	e.spareAcquire = e.imageAvailable[imageIndex]
	e.imageAvailable[imageIndex] = acquired

	err = e.b.updateUniforms(slot, scene, camera)
	if err != nil {
		return err
	}

	err = e.b.resetFence(slot.ComputeFence)
	if err != nil {
		return err
	}
	err = e.b.submitCompute(slot, deltaTime)
	if err != nil {
		return err
	}

	// The draw fence is reset only once the frame is certain to submit,
	// so no abort path can leave it unsignaled forever.
	err = e.b.resetFence(slot.DrawFence)
	if err != nil {
		return err
	}
	err = e.b.submitDraw(slot, scene, imageIndex, acquired, e.drawDone[imageIndex])
	if err != nil {
		return err
	}

	presentStatus, err := e.b.present(imageIndex, e.drawDone[imageIndex])
	if err != nil {
		return err
	}

	e.current = (e.current + 1) % FramesInFlight
	e.frame++

	if presentStatus != surfaceOK || acquireStatus == surfaceSuboptimal || e.window.ConsumeResize() {
		e.log.Debug("surface invalidated after present", "frame", e.frame)
		return e.recreate()
	}
	return nil
}

// recreate drains the device and rebuilds the swapchain-dependent
// state. While the window reports a zero drawable size (minimized) it
// blocks on window events instead of spinning.
func (e *Engine) recreate() error {
	for {
		width, height := e.window.DrawableSize()
		if width > 0 && height > 0 {
			break
		}
		e.window.WaitEvents()
	}
	e.window.ConsumeResize()

	err := e.b.waitIdle()
	if err != nil {
		return err
	}

	err = e.b.recreateSurface()
	if err != nil {
		return err
	}

	return e.resetPresentSync()
}

func (e *Engine) createPresentSync() error {
	count := e.b.imageCount()
	for i := 0; i < count; i++ {
		available, err := e.b.createSemaphore()
		if err != nil {
			return err
		}
		e.imageAvailable = append(e.imageAvailable, available)

		done, err := e.b.createSemaphore()
		if err != nil {
			return err
		}
		e.drawDone = append(e.drawDone, done)
	}

	var err error
	e.spareAcquire, err = e.b.createSemaphore()
	return err
}

// resetPresentSync replaces every presentation semaphore and each
// slot's compute semaphore. The old swapchain may have left signals no
// future submission will consume; fresh semaphores cannot carry them
// over. Only called with the device idle.
func (e *Engine) resetPresentSync() error {
	e.destroyPresentSync()
	err := e.createPresentSync()
	if err != nil {
		return err
	}

	for _, slot := range e.slots {
		if slot == nil {
			continue
		}
		err = e.b.recreateComputeDone(slot)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) destroyPresentSync() {
	for _, semaphore := range e.imageAvailable {
		e.b.destroySemaphore(semaphore)
	}
	e.imageAvailable = nil
	for _, semaphore := range e.drawDone {
		e.b.destroySemaphore(semaphore)
	}
	e.drawDone = nil
	if e.spareAcquire != nil {
		e.b.destroySemaphore(e.spareAcquire)
		e.spareAcquire = nil
	}
}

// Destroy drains the device and releases everything the engine owns:
// presentation semaphores, frame slots, and the backend's framebuffer.
// Collaborators passed to NewEngine remain the caller's to destroy.
func (e *Engine) Destroy() {
	_ = e.b.waitIdle()

	e.destroyPresentSync()
	for i, slot := range e.slots {
		if slot != nil {
			slot.destroy()
			e.slots[i] = nil
		}
	}
	if e.vb != nil {
		e.vb.destroy()
		e.vb = nil
	}
}
