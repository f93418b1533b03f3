package render

import (
	"encoding/binary"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/embergfx/ember/gpu"
)

// FramesInFlight is the number of frames the CPU may record before
// blocking on GPU completion. Two keeps the CPU one frame ahead
// without the latency cost of deeper pipelining.
const FramesInFlight = 2

// MaxObjects caps the number of drawables whose transforms fit in one
// slot's object buffer.
const MaxObjects = 256

// FrameUniforms is the per-frame shader block: camera matrices, the
// light-space matrix for shadow lookups, and the camera position for
// specular shading. Layout matches the std140 block in the shaders.
type FrameUniforms struct {
	View        mgl32.Mat4
	Proj        mgl32.Mat4
	LightMatrix mgl32.Mat4
	CameraPos   mgl32.Vec4
}

// ObjectData is one per-drawable entry in the object uniform array.
type ObjectData struct {
	Model mgl32.Mat4
}

// MaxLights caps the light array in the shader block.
const MaxLights = 8

// LightUniforms is the light shader block. Params.X() carries the
// active light count; a vec4 keeps the block free of std140 padding
// surprises.
type LightUniforms struct {
	Lights [MaxLights]Light
	Params mgl32.Vec4
}

// FrameSlot holds everything one frame-in-flight owns exclusively:
// command buffers for the compute and draw submissions, the fences and
// semaphore that order them, the slot's uniform buffers, its particle
// buffer, and its frame descriptor set. Nothing in a slot is touched
// until its fences confirm the slot's previous use has drained.
type FrameSlot struct {
	Index int

	ComputeBuffer core1_0.CommandBuffer
	DrawBuffer    core1_0.CommandBuffer

	// ComputeFence guards ComputeBuffer re-recording; DrawFence guards
	// DrawBuffer and the slot's host-written buffers.
	ComputeFence core1_0.Fence
	DrawFence    core1_0.Fence

	// ComputeDone is signaled by the compute submission and waited on
	// by the draw submission at vertex input.
	ComputeDone core1_0.Semaphore

	Objects   *gpu.Buffer
	Frame     *gpu.Buffer
	Lights    *gpu.Buffer
	Particles *gpu.Buffer

	Set core1_0.DescriptorSet
}

func newFrameSlot(dev *gpu.Device, manager *Manager, index int, computeBuffer, drawBuffer core1_0.CommandBuffer, particles *gpu.Buffer) (*FrameSlot, error) {
	slot := &FrameSlot{
		Index:         index,
		ComputeBuffer: computeBuffer,
		DrawBuffer:    drawBuffer,
		Particles:     particles,
	}

	var err error
	slot.ComputeFence, _, err = dev.Handle().CreateFence(nil, core1_0.FenceCreateInfo{
		Flags: core1_0.FenceCreateSignaled,
	})
	if err != nil {
		return nil, err
	}
	slot.DrawFence, _, err = dev.Handle().CreateFence(nil, core1_0.FenceCreateInfo{
		Flags: core1_0.FenceCreateSignaled,
	})
	if err != nil {
		slot.destroy()
		return nil, err
	}
	slot.ComputeDone, _, err = dev.Handle().CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		slot.destroy()
		return nil, err
	}

	slot.Objects, err = gpu.NewUniformBuffer(dev, MaxObjects*int(unsafe.Sizeof(ObjectData{})), core1_0.BufferUsageUniformBuffer)
	if err != nil {
		slot.destroy()
		return nil, err
	}
	slot.Frame, err = gpu.NewUniformBuffer(dev, binary.Size(FrameUniforms{}), core1_0.BufferUsageUniformBuffer)
	if err != nil {
		slot.destroy()
		return nil, err
	}
	slot.Lights, err = gpu.NewUniformBuffer(dev, binary.Size(LightUniforms{}), core1_0.BufferUsageUniformBuffer)
	if err != nil {
		slot.destroy()
		return nil, err
	}

	slot.Set, err = manager.AllocateFrameSet()
	if err != nil {
		slot.destroy()
		return nil, err
	}

	return slot, nil
}

// recreateComputeDone replaces the slot's compute semaphore. Needed
// after an aborted frame may have left a signal no submission will
// ever consume.
func (slot *FrameSlot) recreateComputeDone(dev *gpu.Device) error {
	if slot.ComputeDone != nil {
		slot.ComputeDone.Destroy(nil)
		slot.ComputeDone = nil
	}
	semaphore, _, err := dev.Handle().CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return err
	}
	slot.ComputeDone = semaphore
	return nil
}

func (slot *FrameSlot) destroy() {
	if slot.Lights != nil {
		slot.Lights.Destroy()
		slot.Lights = nil
	}
	if slot.Frame != nil {
		slot.Frame.Destroy()
		slot.Frame = nil
	}
	if slot.Objects != nil {
		slot.Objects.Destroy()
		slot.Objects = nil
	}
	if slot.Particles != nil {
		slot.Particles.Destroy()
		slot.Particles = nil
	}
	if slot.ComputeDone != nil {
		slot.ComputeDone.Destroy(nil)
		slot.ComputeDone = nil
	}
	if slot.DrawFence != nil {
		slot.DrawFence.Destroy(nil)
		slot.DrawFence = nil
	}
	if slot.ComputeFence != nil {
		slot.ComputeFence.Destroy(nil)
		slot.ComputeFence = nil
	}
}
