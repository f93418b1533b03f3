package scene

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/embergfx/ember/render"
)

// Object is one placed mesh instance.
type Object struct {
	mesh      *Mesh
	transform mgl32.Mat4
	material  int
	kind      render.PipelineKind
}

// NewObject places mesh at the identity transform with the given
// material and pipeline kind.
func NewObject(mesh *Mesh, material int, kind render.PipelineKind) *Object {
	return &Object{
		mesh:      mesh,
		transform: mgl32.Ident4(),
		material:  material,
		kind:      kind,
	}
}

// SetTransform replaces the object's model matrix. Safe between
// frames; the renderer snapshots transforms when it records.
func (o *Object) SetTransform(transform mgl32.Mat4) {
	o.transform = transform
}

func (o *Object) Transform() mgl32.Mat4          { return o.transform }
func (o *Object) Pipeline() render.PipelineKind  { return o.kind }
func (o *Object) MaterialIndex() int             { return o.material }
func (o *Object) Mesh() render.Mesh              { return o.mesh }

// World is the renderer-facing scene: placed objects plus lights.
type World struct {
	objects []*Object
	lights  []render.Light
}

// NewWorld returns an empty world.
func NewWorld() *World {
	return &World{}
}

// Add places an object in the world and returns it for further
// positioning.
func (w *World) Add(object *Object) *Object {
	w.objects = append(w.objects, object)
	return object
}

// AddLight adds a point light.
func (w *World) AddLight(light render.Light) {
	w.lights = append(w.lights, light)
}

// Drawables returns the objects in insertion order.
func (w *World) Drawables() []render.Drawable {
	drawables := make([]render.Drawable, len(w.objects))
	for i, object := range w.objects {
		drawables[i] = object
	}
	return drawables
}

// Lights returns the world's lights.
func (w *World) Lights() []render.Light {
	return w.lights
}

// Bounds returns the world-space bounding box of every object: each
// mesh's box is pushed through its transform and the results are
// unioned. An empty world reports a unit box so dependent fits stay
// finite.
func (w *World) Bounds() (mgl32.Vec3, mgl32.Vec3) {
	if len(w.objects) == 0 {
		return mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}
	}

	first := true
	var min, max mgl32.Vec3
	for _, object := range w.objects {
		meshMin, meshMax := object.mesh.Bounds()
		for _, x := range []float32{meshMin.X(), meshMax.X()} {
			for _, y := range []float32{meshMin.Y(), meshMax.Y()} {
				for _, z := range []float32{meshMin.Z(), meshMax.Z()} {
					corner := mgl32.TransformCoordinate(mgl32.Vec3{x, y, z}, object.transform)
					if first {
						min, max = corner, corner
						first = false
						continue
					}
					for i := 0; i < 3; i++ {
						if corner[i] < min[i] {
							min[i] = corner[i]
						}
						if corner[i] > max[i] {
							max[i] = corner[i]
						}
					}
				}
			}
		}
	}
	return min, max
}
