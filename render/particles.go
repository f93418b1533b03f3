package render

import (
	"math"
	"math/rand"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/embergfx/ember/gpu"
)

// ParticleGroupSize matches the local workgroup size declared in the
// compute shader.
const ParticleGroupSize = 256

// Particle is the per-particle state the compute shader advances.
// Vec4s keep the struct std430-compatible; Velocity.W() and
// Position.W() are unused padding.
type Particle struct {
	Position mgl32.Vec4
	Velocity mgl32.Vec4
	Color    mgl32.Vec4
}

// GroupCount returns the number of workgroups needed to cover count
// particles.
func GroupCount(count int) int {
	if count <= 0 {
		return 0
	}
	return (count + ParticleGroupSize - 1) / ParticleGroupSize
}

// NewParticleBuffer seeds count particles on a disc around the origin
// with tangential velocities and uploads them to a device-local buffer
// usable both as compute storage and as a point-list vertex buffer.
func NewParticleBuffer(dev *gpu.Device, queue *gpu.Queue, count int, rng *rand.Rand) (*gpu.Buffer, error) {
	particles := make([]Particle, count)
	for i := range particles {
		radius := 0.25 * float32(math.Sqrt(rng.Float64()))
		if radius < 1e-4 {
			radius = 1e-4
		}
		theta := rng.Float64() * 2 * math.Pi
		x := radius * float32(math.Cos(theta))
		y := radius * float32(math.Sin(theta))

		particles[i] = Particle{
			Position: mgl32.Vec4{x, y, 0, 0},
			Velocity: mgl32.Vec4{-y, x, 0, 0}.Mul(0.25 / radius * 0.00025),
			Color: mgl32.Vec4{
				rng.Float32(),
				rng.Float32(),
				rng.Float32(),
				1,
			},
		}
	}

	return gpu.NewDeviceLocalBuffer(dev, queue, particles,
		core1_0.BufferUsageStorageBuffer|core1_0.BufferUsageVertexBuffer)
}

func particleBindingDescription() []core1_0.VertexInputBindingDescription {
	p := Particle{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(p)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func particleAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	p := Particle{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32A32SignedFloat,
			Offset:   int(unsafe.Offsetof(p.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32A32SignedFloat,
			Offset:   int(unsafe.Offsetof(p.Color)),
		},
	}
}
