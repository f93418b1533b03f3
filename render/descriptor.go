package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/embergfx/ember/gpu"
)

// maxMaterialSets bounds the descriptor pool. Materials are compiled
// once before the render loop, so the pool is sized up front and never
// grows.
const maxMaterialSets = 1000

// Manager owns the descriptor set layouts and the pool all sets are
// allocated from. Two layouts exist: the per-frame layout (uniforms,
// particle storage, shadow map) and the per-material layout (material
// parameters plus textures). Sets are never freed individually; the
// pool goes down with the manager.
type Manager struct {
	dev  *gpu.Device
	pool core1_0.DescriptorPool

	frameLayout    core1_0.DescriptorSetLayout
	materialLayout core1_0.DescriptorSetLayout
}

// NewManager creates the layouts and a pool large enough for all
// frame slots plus maxMaterialSets material sets.
func NewManager(dev *gpu.Device) (*Manager, error) {
	m := &Manager{dev: dev}

	var err error
	m.frameLayout, _, err = dev.Handle().CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageVertex,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageVertex | core1_0.StageFragment | core1_0.StageCompute,
			},
			{
				Binding:         2,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageFragment,
			},
			{
				Binding:         3,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
			{
				Binding:         4,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
			{
				Binding:         5,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageFragment,
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating frame descriptor layout")
	}

	m.materialLayout, _, err = dev.Handle().CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBufferDynamic,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageFragment,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageFragment,
			},
			{
				Binding:         2,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageFragment,
			},
		},
	})
	if err != nil {
		m.Destroy()
		return nil, errors.Wrap(err, "creating material descriptor layout")
	}

	m.pool, _, err = dev.Handle().CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: FramesInFlight + maxMaterialSets,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 3 * FramesInFlight,
			},
			{
				Type:            core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 2 * FramesInFlight,
			},
			{
				Type:            core1_0.DescriptorTypeUniformBufferDynamic,
				DescriptorCount: maxMaterialSets,
			},
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: FramesInFlight + 2*maxMaterialSets,
			},
		},
	})
	if err != nil {
		m.Destroy()
		return nil, errors.Wrap(err, "creating descriptor pool")
	}

	return m, nil
}

func (m *Manager) FrameLayout() core1_0.DescriptorSetLayout    { return m.frameLayout }
func (m *Manager) MaterialLayout() core1_0.DescriptorSetLayout { return m.materialLayout }

// AllocateFrameSet allocates one per-frame descriptor set.
func (m *Manager) AllocateFrameSet() (core1_0.DescriptorSet, error) {
	sets, _, err := m.dev.Handle().AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: m.pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{m.frameLayout},
	})
	if err != nil {
		return nil, err
	}
	return sets[0], nil
}

// AllocateMaterialSet allocates one per-material descriptor set.
func (m *Manager) AllocateMaterialSet() (core1_0.DescriptorSet, error) {
	sets, _, err := m.dev.Handle().AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: m.pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{m.materialLayout},
	})
	if err != nil {
		return nil, err
	}
	return sets[0], nil
}

// FrameSetBuffers names the buffers a frame set points at. The read
// and write particle buffers belong to different frame slots; the
// caller wires the cross-slot pairing.
type FrameSetBuffers struct {
	Objects       *gpu.Buffer
	Frame         *gpu.Buffer
	Lights        *gpu.Buffer
	ParticlesRead *gpu.Buffer
	ParticlesWrite *gpu.Buffer
}

// WriteFrameSet points a frame set's bindings at the slot's buffers
// and the shadow map. Called once per slot at startup and again after
// the shadow map is recreated.
func (m *Manager) WriteFrameSet(set core1_0.DescriptorSet, buffers FrameSetBuffers, shadowView core1_0.ImageView, shadowSampler core1_0.Sampler) error {
	return m.dev.Handle().UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          set,
			DstBinding:      0,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: buffers.Objects.Handle(),
					Offset: 0,
					Range:  buffers.Objects.Size(),
				},
			},
		},
		{
			DstSet:          set,
			DstBinding:      1,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: buffers.Frame.Handle(),
					Offset: 0,
					Range:  buffers.Frame.Size(),
				},
			},
		},
		{
			DstSet:          set,
			DstBinding:      2,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: buffers.Lights.Handle(),
					Offset: 0,
					Range:  buffers.Lights.Size(),
				},
			},
		},
		{
			DstSet:          set,
			DstBinding:      3,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: buffers.ParticlesRead.Handle(),
					Offset: 0,
					Range:  buffers.ParticlesRead.Size(),
				},
			},
		},
		{
			DstSet:          set,
			DstBinding:      4,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: buffers.ParticlesWrite.Handle(),
					Offset: 0,
					Range:  buffers.ParticlesWrite.Size(),
				},
			},
		},
		{
			DstSet:          set,
			DstBinding:      5,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   shadowView,
					Sampler:     shadowSampler,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			},
		},
	}, nil)
}

// WriteMaterialSet points a material set at one region of the packed
// material buffer and the material's textures. Range covers a single
// element; the draw-time dynamic offset selects which one.
func (m *Manager) WriteMaterialSet(set core1_0.DescriptorSet, packed *gpu.Buffer, elementSize int, diffuse, specular *gpu.Image, sampler core1_0.Sampler) error {
	return m.dev.Handle().UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          set,
			DstBinding:      0,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeUniformBufferDynamic,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: packed.Handle(),
					Offset: 0,
					Range:  elementSize,
				},
			},
		},
		{
			DstSet:          set,
			DstBinding:      1,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   diffuse.View(),
					Sampler:     sampler,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			},
		},
		{
			DstSet:          set,
			DstBinding:      2,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   specular.View(),
					Sampler:     sampler,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			},
		},
	}, nil)
}

// Destroy releases the pool and layouts. All sets allocated from the
// pool die with it.
func (m *Manager) Destroy() {
	if m.pool != nil {
		m.pool.Destroy(nil)
		m.pool = nil
	}
	if m.materialLayout != nil {
		m.materialLayout.Destroy(nil)
		m.materialLayout = nil
	}
	if m.frameLayout != nil {
		m.frameLayout.Destroy(nil)
		m.frameLayout = nil
	}
}

// OffsetFor computes the byte offset of element index inside a packed
// dynamic uniform buffer whose elements are padded to alignment.
func OffsetFor(index, elementSize, alignment int) int {
	return index * alignUp(elementSize, alignment)
}

// alignUp rounds size up to the next multiple of alignment. Alignment
// zero or one means no padding.
func alignUp(size, alignment int) int {
	if alignment <= 1 {
		return size
	}
	return (size + alignment - 1) &^ (alignment - 1)
}
