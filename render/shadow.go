package render

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/embergfx/ember/gpu"
)

// ShadowMapSize is the shadow map edge length in texels.
const ShadowMapSize = 2048

// ShadowMap owns the depth target the shadow pass renders into, its
// framebuffer, and the comparison-free sampler the lit pipeline reads
// it with. The map's extent is fixed, so unlike the swapchain targets
// it survives window resizes.
type ShadowMap struct {
	dev *gpu.Device

	Depth       *gpu.Image
	Framebuffer core1_0.Framebuffer
	Sampler     core1_0.Sampler
}

// NewShadowMap creates the shadow depth target and framebuffer.
// When enabled is false no shadow pass will ever run, so the map is
// transitioned once to shader-read and stays there; the lit pipeline
// then samples cleared far-plane depth and every fragment passes the
// shadow test.
func NewShadowMap(dev *gpu.Device, queue *gpu.Queue, pass core1_0.RenderPass, depthFormat core1_0.Format, enabled bool) (*ShadowMap, error) {
	s := &ShadowMap{dev: dev}

	var err error
	s.Depth, err = gpu.NewImage(dev, gpu.ImageConfig{
		Width:  ShadowMapSize,
		Height: ShadowMapSize,
		Format: depthFormat,
		Usage:  core1_0.ImageUsageDepthStencilAttachment | core1_0.ImageUsageSampled,
		Aspect: core1_0.ImageAspectDepth,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating shadow map image")
	}

	s.Framebuffer, _, err = dev.Handle().CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  pass,
		Layers:      1,
		Attachments: []core1_0.ImageView{s.Depth.View()},
		Width:       ShadowMapSize,
		Height:      ShadowMapSize,
	})
	if err != nil {
		s.Destroy()
		return nil, errors.Wrap(err, "creating shadow framebuffer")
	}

	s.Sampler, _, err = dev.Handle().CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeClampToEdge,
		AddressModeV: core1_0.SamplerAddressModeClampToEdge,
		AddressModeW: core1_0.SamplerAddressModeClampToEdge,

		BorderColor: core1_0.BorderColorFloatOpaqueWhite,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
	})
	if err != nil {
		s.Destroy()
		return nil, errors.Wrap(err, "creating shadow sampler")
	}

	if !enabled {
		err = queue.RunOneShot(func(buffer core1_0.CommandBuffer) error {
			return s.Depth.TransitionTo(buffer, core1_0.ImageLayoutShaderReadOnlyOptimal)
		})
		if err != nil {
			s.Destroy()
			return nil, err
		}
	}

	return s, nil
}

// Destroy releases the sampler, framebuffer, and depth target.
func (s *ShadowMap) Destroy() {
	if s.Sampler != nil {
		s.Sampler.Destroy(nil)
		s.Sampler = nil
	}
	if s.Framebuffer != nil {
		s.Framebuffer.Destroy(nil)
		s.Framebuffer = nil
	}
	if s.Depth != nil {
		s.Depth.Destroy()
		s.Depth = nil
	}
}

// FitLightMatrix builds the light-space view-projection matrix for a
// directional light: a view looking along dir at the center of the
// scene bounds, and an orthographic projection sized so every corner
// of the bounds lands inside the clip volume. Refitted every frame so
// moving scenes never escape the shadow frustum.
func FitLightMatrix(dir mgl32.Vec3, min, max mgl32.Vec3) mgl32.Mat4 {
	center := min.Add(max).Mul(0.5)
	radius := max.Sub(center).Len()
	if radius == 0 {
		radius = 1
	}

	dir = dir.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if mgl32.Abs(dir.Dot(up)) > 0.99 {
		up = mgl32.Vec3{1, 0, 0}
	}
	eye := center.Sub(dir.Mul(2 * radius))
	view := mgl32.LookAtV(eye, center, up)

	// Bound the view-space extent of the eight bounds corners rather
	// than assuming the sphere radius in every axis, which keeps texel
	// density higher for flat scenes.
	first := true
	var lo, hi mgl32.Vec3
	for _, x := range []float32{min.X(), max.X()} {
		for _, y := range []float32{min.Y(), max.Y()} {
			for _, z := range []float32{min.Z(), max.Z()} {
				corner := mgl32.TransformCoordinate(mgl32.Vec3{x, y, z}, view)
				if first {
					lo, hi = corner, corner
					first = false
					continue
				}
				for i := 0; i < 3; i++ {
					if corner[i] < lo[i] {
						lo[i] = corner[i]
					}
					if corner[i] > hi[i] {
						hi[i] = corner[i]
					}
				}
			}
		}
	}

	// View space looks down -Z, so near/far come from the negated Z
	// range.
	proj := vulkanOrtho(lo.X(), hi.X(), lo.Y(), hi.Y(), -hi.Z(), -lo.Z())
	return proj.Mul4(view)
}

// vulkanOrtho is an orthographic projection for Vulkan clip space:
// depth in [0, 1] and Y pointing down.
func vulkanOrtho(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	proj := mgl32.Ortho(left, right, bottom, top, near, far)
	// GL depth [-1, 1] to Vulkan [0, 1].
	depthFix := mgl32.Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 0.5, 0,
		0, 0, 0.5, 1,
	}
	proj = depthFix.Mul4(proj)
	proj[5] *= -1
	return proj
}
