package scene

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/embergfx/ember/gpu"
	"github.com/embergfx/ember/render"
)

// MaterialParams is the GPU-visible material block. Shininess rides in
// Specular.W() so the block stays two vec4s with no padding.
type MaterialParams struct {
	Diffuse  mgl32.Vec4
	Specular mgl32.Vec4
}

// Material describes one surface before compilation. Empty texture
// paths fall back to a single white texel.
type Material struct {
	Name         string
	Params       MaterialParams
	DiffusePath  string
	SpecularPath string
}

type compiledMaterial struct {
	diffuse  *gpu.Image
	specular *gpu.Image
	sets     [render.FramesInFlight]core1_0.DescriptorSet
}

// Registry collects materials, then compiles them into packed GPU
// buffers and descriptor sets in one pass. After Compile it serves as
// the renderer's material source; registration is closed from then on.
type Registry struct {
	materials []Material
	compiled  []compiledMaterial

	elementSize int
	alignment   int

	// One packed parameter buffer per frame in flight, so a future
	// per-frame parameter update never races in-flight reads.
	packed  [render.FramesInFlight]*gpu.Buffer
	sampler core1_0.Sampler
	white   *gpu.Image
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a material and returns its index, the value drawables
// carry. Must be called before Compile.
func (r *Registry) Add(material Material) int {
	r.materials = append(r.materials, material)
	return len(r.materials) - 1
}

// Count returns the number of registered materials.
func (r *Registry) Count() int { return len(r.materials) }

// Compile uploads every registered material: textures, the packed
// per-frame parameter buffers, and a descriptor set per material per
// frame in flight.
func (r *Registry) Compile(dev *gpu.Device, queue *gpu.Queue, manager *render.Manager) error {
	if len(r.materials) == 0 {
		return errors.Newf("no materials registered")
	}
	if r.compiled != nil {
		return errors.AssertionFailedf("registry compiled twice")
	}

	properties, err := dev.Physical().Properties()
	if err != nil {
		return err
	}

	r.sampler, _, err = dev.Handle().CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: true,
		MaxAnisotropy:    properties.Limits.MaxSamplerAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
	})
	if err != nil {
		return errors.Wrap(err, "creating material sampler")
	}

	r.white, err = gpu.NewTextureImage(dev, queue, whiteTexel())
	if err != nil {
		r.Destroy()
		return err
	}

	r.elementSize = binary.Size(MaterialParams{})
	r.alignment = dev.Caps().MinUniformAlignment

	bufferSize := render.OffsetFor(len(r.materials), r.elementSize, r.alignment)
	if bufferSize < r.elementSize {
		bufferSize = r.elementSize
	}
	for frame := 0; frame < render.FramesInFlight; frame++ {
		r.packed[frame], err = gpu.NewUniformBuffer(dev, bufferSize, core1_0.BufferUsageUniformBuffer)
		if err != nil {
			r.Destroy()
			return err
		}
	}

	for index, material := range r.materials {
		compiled := compiledMaterial{}

		compiled.diffuse, err = r.loadTexture(dev, queue, material.DiffusePath)
		if err != nil {
			r.Destroy()
			return errors.Wrapf(err, "material %q diffuse", material.Name)
		}
		compiled.specular, err = r.loadTexture(dev, queue, material.SpecularPath)
		if err != nil {
			r.Destroy()
			return errors.Wrapf(err, "material %q specular", material.Name)
		}

		offset := render.OffsetFor(index, r.elementSize, r.alignment)
		for frame := 0; frame < render.FramesInFlight; frame++ {
			err = r.packed[frame].Write(offset, material.Params)
			if err != nil {
				r.Destroy()
				return err
			}

			compiled.sets[frame], err = manager.AllocateMaterialSet()
			if err != nil {
				r.Destroy()
				return err
			}
			err = manager.WriteMaterialSet(compiled.sets[frame], r.packed[frame], r.elementSize,
				textureOrWhite(compiled.diffuse, r.white), textureOrWhite(compiled.specular, r.white), r.sampler)
			if err != nil {
				r.Destroy()
				return err
			}
		}

		r.compiled = append(r.compiled, compiled)
	}

	return nil
}

func (r *Registry) loadTexture(dev *gpu.Device, queue *gpu.Queue, path string) (*gpu.Image, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoded, err := png.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}

	return gpu.NewTextureImage(dev, queue, decoded)
}

func textureOrWhite(texture, white *gpu.Image) *gpu.Image {
	if texture != nil {
		return texture
	}
	return white
}

func whiteTexel() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	return img
}

// SetFor returns material's descriptor set for the given frame slot.
func (r *Registry) SetFor(material, frame int) core1_0.DescriptorSet {
	return r.compiled[material].sets[frame]
}

// DynamicOffset returns material's byte offset into the packed
// parameter buffer.
func (r *Registry) DynamicOffset(material int) int {
	return render.OffsetFor(material, r.elementSize, r.alignment)
}

// Destroy releases textures, buffers, and the sampler. Descriptor sets
// are pool-owned and die with the manager.
func (r *Registry) Destroy() {
	for _, compiled := range r.compiled {
		if compiled.diffuse != nil {
			compiled.diffuse.Destroy()
		}
		if compiled.specular != nil {
			compiled.specular.Destroy()
		}
	}
	r.compiled = nil

	for frame := range r.packed {
		if r.packed[frame] != nil {
			r.packed[frame].Destroy()
			r.packed[frame] = nil
		}
	}
	if r.white != nil {
		r.white.Destroy()
		r.white = nil
	}
	if r.sampler != nil {
		r.sampler.Destroy(nil)
		r.sampler = nil
	}
}
