// Package render contains the per-frame heart of the engine: the
// swapchain and its off-screen render targets, descriptor management,
// per-frame-in-flight resource slots, and the frame orchestrator that
// sequences compute, draw, and presentation across the graphics and
// compute queues.
package render

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/core1_0"
)

// PipelineKind selects the graphics pipeline a drawable is rendered
// with.
type PipelineKind int

const (
	// PipelineLit shades with materials, lights, and the shadow map.
	PipelineLit PipelineKind = iota
	// PipelineFlat shades with vertex data only; no material set is
	// bound.
	PipelineFlat
)

// Mesh is a drawable geometry handle. It binds its own vertex/index
// buffers and issues its own draw call; the orchestrator never sees
// the buffers.
type Mesh interface {
	Bind(buffer core1_0.CommandBuffer)
	Draw(buffer core1_0.CommandBuffer)
}

// Drawable is one renderable scene object.
type Drawable interface {
	Transform() mgl32.Mat4
	Pipeline() PipelineKind
	MaterialIndex() int
	Mesh() Mesh
}

// Light is one point light.
type Light struct {
	Position mgl32.Vec4
	Color    mgl32.Vec4
}

// Scene supplies the ordered drawable list, scene bounds (for fitting
// the shadow projection), and lights. The renderer treats it as
// read-only during a frame.
type Scene interface {
	Drawables() []Drawable
	Bounds() (min, max mgl32.Vec3)
	Lights() []Light
}

// Camera supplies view/projection matrices, queried once per frame.
type Camera interface {
	View() mgl32.Mat4
	Projection(aspect float32) mgl32.Mat4
	Position() mgl32.Vec3
}

// MaterialSource resolves a drawable's material index to a descriptor
// set and dynamic buffer offset. Materials are compiled before the
// render loop starts.
type MaterialSource interface {
	SetFor(material, frame int) core1_0.DescriptorSet
	DynamicOffset(material int) int
}

// Window is the windowing collaborator the renderer consumes. It does
// not own event-pumping policy; the demo loop pumps events and the
// renderer only queries state, except WaitEvents, which blocks until
// the window system reports a change (used while minimized).
type Window interface {
	CloseRequested() bool
	DrawableSize() (width, height int)
	// ConsumeResize reports whether a resize occurred since the last
	// call and clears the flag.
	ConsumeResize() bool
	WaitEvents()
}

// Vertex is the mesh vertex layout shared by all mesh pipelines.
type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	TexCoord mgl32.Vec2
}

func vertexBindingDescription() []core1_0.VertexInputBindingDescription {
	v := Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func vertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Normal)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
	}
}
