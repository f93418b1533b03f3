package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// OrbitCamera circles a target point at a fixed distance. Yaw and
// pitch are in radians; pitch is clamped just short of the poles so
// the view basis never degenerates.
type OrbitCamera struct {
	Target   mgl32.Vec3
	Distance float32
	Yaw      float32
	Pitch    float32

	FOV  float32
	Near float32
	Far  float32
}

// NewOrbitCamera returns a camera orbiting target from distance with
// a 45 degree vertical field of view.
func NewOrbitCamera(target mgl32.Vec3, distance float32) *OrbitCamera {
	return &OrbitCamera{
		Target:   target,
		Distance: distance,
		Pitch:    mgl32.DegToRad(20),

		FOV:  mgl32.DegToRad(45),
		Near: 0.1,
		Far:  100,
	}
}

// Orbit adjusts yaw and pitch by the given deltas.
func (c *OrbitCamera) Orbit(deltaYaw, deltaPitch float32) {
	c.Yaw += deltaYaw
	c.Pitch += deltaPitch

	limit := mgl32.DegToRad(89)
	if c.Pitch > limit {
		c.Pitch = limit
	}
	if c.Pitch < -limit {
		c.Pitch = -limit
	}
}

// Zoom scales the orbit distance, clamped to stay in front of the near
// plane.
func (c *OrbitCamera) Zoom(factor float32) {
	c.Distance *= factor
	if c.Distance < c.Near*2 {
		c.Distance = c.Near * 2
	}
}

// Position returns the camera's world-space position.
func (c *OrbitCamera) Position() mgl32.Vec3 {
	cosPitch := float32(math.Cos(float64(c.Pitch)))
	offset := mgl32.Vec3{
		cosPitch * float32(math.Sin(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
		cosPitch * float32(math.Cos(float64(c.Yaw))),
	}
	return c.Target.Add(offset.Mul(c.Distance))
}

// View returns the world-to-camera matrix.
func (c *OrbitCamera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position(), c.Target, mgl32.Vec3{0, 1, 0})
}

// Projection returns a Vulkan-clip-space perspective matrix: depth in
// [0, 1] and Y pointing down.
func (c *OrbitCamera) Projection(aspect float32) mgl32.Mat4 {
	fmn := c.Far - c.Near
	f := float32(1.0 / math.Tan(float64(c.FOV)/2.0))

	return mgl32.Mat4{
		f / aspect, 0, 0, 0,
		0, -f, 0, 0,
		0, 0, -c.Far / fmn, -1,
		0, 0, -(c.Far * c.Near) / fmn, 0,
	}
}
