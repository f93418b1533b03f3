package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestOrbitCameraPosition(t *testing.T) {
	camera := NewOrbitCamera(mgl32.Vec3{}, 10)
	camera.Pitch = 0
	camera.Yaw = 0

	// Zero yaw and pitch puts the camera on the +Z axis.
	position := camera.Position()
	assert.InDelta(t, 0, position.X(), 1e-5)
	assert.InDelta(t, 0, position.Y(), 1e-5)
	assert.InDelta(t, 10, position.Z(), 1e-5)
}

func TestOrbitCameraPitchClamp(t *testing.T) {
	camera := NewOrbitCamera(mgl32.Vec3{}, 10)
	camera.Orbit(0, mgl32.DegToRad(400))
	assert.LessOrEqual(t, camera.Pitch, mgl32.DegToRad(89))

	camera.Orbit(0, mgl32.DegToRad(-800))
	assert.GreaterOrEqual(t, camera.Pitch, mgl32.DegToRad(-89))
}

func TestOrbitCameraZoomClamp(t *testing.T) {
	camera := NewOrbitCamera(mgl32.Vec3{}, 10)
	camera.Zoom(0.0001)
	assert.GreaterOrEqual(t, camera.Distance, camera.Near*2)
}

func TestProjectionDepthRange(t *testing.T) {
	camera := NewOrbitCamera(mgl32.Vec3{}, 10)
	proj := camera.Projection(16.0 / 9.0)

	// A point on the near plane maps to depth 0, the far plane to 1,
	// after perspective divide.
	nearClip := proj.Mul4x1(mgl32.Vec4{0, 0, -camera.Near, 1})
	assert.InDelta(t, 0, nearClip.Z()/nearClip.W(), 1e-4)

	farClip := proj.Mul4x1(mgl32.Vec4{0, 0, -camera.Far, 1})
	assert.InDelta(t, 1, farClip.Z()/farClip.W(), 1e-4)
}

func TestProjectionFlipsY(t *testing.T) {
	camera := NewOrbitCamera(mgl32.Vec3{}, 10)
	proj := camera.Projection(1)

	clip := proj.Mul4x1(mgl32.Vec4{0, 1, -5, 1})
	assert.Less(t, clip.Y(), float32(0), "world up should map to negative clip Y")
}
