package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"

	"github.com/embergfx/ember/render"
)

func testMesh(min, max mgl32.Vec3) *Mesh {
	return &Mesh{min: min, max: max, indexCount: 3}
}

func TestWorldBoundsEmptyWorld(t *testing.T) {
	world := NewWorld()
	min, max := world.Bounds()
	assert.Equal(t, mgl32.Vec3{-1, -1, -1}, min)
	assert.Equal(t, mgl32.Vec3{1, 1, 1}, max)
}

func TestWorldBoundsAppliesTransforms(t *testing.T) {
	world := NewWorld()
	object := world.Add(NewObject(testMesh(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}), 0, render.PipelineLit))
	object.SetTransform(mgl32.Translate3D(10, 0, 0))

	min, max := world.Bounds()
	assert.Equal(t, mgl32.Vec3{9, -1, -1}, min)
	assert.Equal(t, mgl32.Vec3{11, 1, 1}, max)
}

func TestWorldBoundsUnionsObjects(t *testing.T) {
	world := NewWorld()
	world.Add(NewObject(testMesh(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 1, 1}), 0, render.PipelineLit))
	second := world.Add(NewObject(testMesh(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 1, 1}), 0, render.PipelineFlat))
	second.SetTransform(mgl32.Translate3D(-5, 2, 0))

	min, max := world.Bounds()
	assert.Equal(t, mgl32.Vec3{-5, 0, 0}, min)
	assert.Equal(t, mgl32.Vec3{1, 3, 1}, max)
}

func TestWorldDrawablesOrder(t *testing.T) {
	world := NewWorld()
	first := world.Add(NewObject(testMesh(mgl32.Vec3{}, mgl32.Vec3{}), 0, render.PipelineLit))
	second := world.Add(NewObject(testMesh(mgl32.Vec3{}, mgl32.Vec3{}), 1, render.PipelineFlat))

	drawables := world.Drawables()
	assert.Len(t, drawables, 2)
	assert.Same(t, first, drawables[0])
	assert.Same(t, second, drawables[1])
	assert.Equal(t, 1, drawables[1].MaterialIndex())
	assert.Equal(t, render.PipelineFlat, drawables[1].Pipeline())
}
