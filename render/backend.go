package render

import (
	"github.com/vkngwrapper/core/core1_0"
)

// surfaceStatus folds the swapchain results the frame loop reacts to
// into one value: ok, suboptimal (frame proceeds, recreate after
// present), or out-of-date (frame aborts, recreate immediately).
type surfaceStatus int

const (
	surfaceOK surfaceStatus = iota
	surfaceSuboptimal
	surfaceOutOfDate
)

// backend is the device-facing surface the frame orchestrator drives.
// The one real implementation records and submits Vulkan work; the
// orchestrator itself only sequences fences, semaphores, and
// recreation policy, which keeps that logic exercisable without a
// device.
type backend interface {
	imageCount() int

	waitFence(fence core1_0.Fence) error
	resetFence(fence core1_0.Fence) error

	createSemaphore() (core1_0.Semaphore, error)
	destroySemaphore(semaphore core1_0.Semaphore)
	recreateComputeDone(slot *FrameSlot) error

	// acquire requests the next presentable image, signaling signal
	// when it is ready. On out-of-date no image is returned.
	acquire(signal core1_0.Semaphore) (imageIndex int, status surfaceStatus, err error)

	// updateUniforms writes the frame's camera, object, and light state
	// into the slot's host-visible buffers.
	updateUniforms(slot *FrameSlot, scene Scene, camera Camera) error

	// submitCompute records and submits the particle update, signaling
	// the slot's ComputeDone semaphore and ComputeFence.
	submitCompute(slot *FrameSlot, deltaTime float32) error

	// submitDraw records and submits the frame's graphics work for
	// imageIndex, waiting on the slot's ComputeDone and on
	// imageAvailable, signaling drawDone and the slot's DrawFence.
	submitDraw(slot *FrameSlot, scene Scene, imageIndex int, imageAvailable, drawDone core1_0.Semaphore) error

	// present queues imageIndex for presentation after drawDone.
	present(imageIndex int, drawDone core1_0.Semaphore) (surfaceStatus, error)

	// recreateSurface rebuilds the swapchain, render targets, and
	// framebuffer at the window's current size. The device is idle when
	// called.
	recreateSurface() error

	waitIdle() error
}
