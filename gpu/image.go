package gpu

import (
	"image"

	"github.com/vkngwrapper/core/core1_0"
)

// ImageConfig describes an image to create. Samples defaults to
// single-sampled when zero.
type ImageConfig struct {
	Width   int
	Height  int
	Format  core1_0.Format
	Usage   core1_0.ImageUsageFlags
	Aspect  core1_0.ImageAspectFlags
	Samples core1_0.SampleCountFlags
}

// Image binds one GPU allocation to one logical image and its default
// view. The image's layout is program-tracked state: Vulkan offers no
// way to query it back, so every transition must go through
// TransitionTo/TransitionDiscard (or ForceLayout when a render pass
// performed the transition) or subsequent barriers will be computed
// from a stale assumption.
type Image struct {
	device core1_0.Device
	handle core1_0.Image
	memory core1_0.DeviceMemory
	view   core1_0.ImageView

	format  core1_0.Format
	extent  core1_0.Extent2D
	aspect  core1_0.ImageAspectFlags
	samples core1_0.SampleCountFlags
	layout  core1_0.ImageLayout
}

// NewImage creates a device-local image plus a matching 2D view.
// Initial layout is undefined.
func NewImage(dev *Device, cfg ImageConfig) (*Image, error) {
	samples := cfg.Samples
	if samples == 0 {
		samples = core1_0.Samples1
	}

	img, _, err := dev.Handle().CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  cfg.Width,
			Height: cfg.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        cfg.Format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         cfg.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       samples,
	})
	if err != nil {
		return nil, err
	}

	memReqs := img.MemoryRequirements()
	memoryIndex, err := dev.findMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		img.Destroy(nil)
		return nil, err
	}

	memory, _, err := dev.Handle().AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		img.Destroy(nil)
		return nil, err
	}

	_, err = img.BindImageMemory(memory, 0)
	if err != nil {
		img.Destroy(nil)
		memory.Free(nil)
		return nil, err
	}

	view, _, err := dev.Handle().CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    img,
		ViewType: core1_0.ImageViewType2D,
		Format:   cfg.Format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     cfg.Aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		img.Destroy(nil)
		memory.Free(nil)
		return nil, err
	}

	return &Image{
		device:  dev.Handle(),
		handle:  img,
		memory:  memory,
		view:    view,
		format:  cfg.Format,
		extent:  core1_0.Extent2D{Width: cfg.Width, Height: cfg.Height},
		aspect:  cfg.Aspect,
		samples: samples,
		layout:  core1_0.ImageLayoutUndefined,
	}, nil
}

// NewTextureImage creates a sampled texture and fills it with the
// pixels of src through a staging buffer: undefined -> transfer-dst,
// copy, transfer-dst -> shader-read.
func NewTextureImage(dev *Device, queue *Queue, src image.Image) (*Image, error) {
	bounds := src.Bounds()
	dims := bounds.Size()
	byteSize := dims.X * dims.Y * 4

	staging, err := NewBuffer(dev, byteSize, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	pixelData := make([]byte, 0, byteSize)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := src.At(x, y).RGBA()
			pixelData = append(pixelData, byte(r>>8), byte(g>>8), byte(b>>8), byte(a>>8))
		}
	}
	err = staging.writeUnmapped(0, pixelData)
	if err != nil {
		return nil, err
	}

	im, err := NewImage(dev, ImageConfig{
		Width:  dims.X,
		Height: dims.Y,
		Format: core1_0.FormatR8G8B8A8SRGB,
		Usage:  core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		Aspect: core1_0.ImageAspectColor,
	})
	if err != nil {
		return nil, err
	}

	err = queue.RunOneShot(func(buffer core1_0.CommandBuffer) error {
		err := im.TransitionTo(buffer, core1_0.ImageLayoutTransferDstOptimal)
		if err != nil {
			return err
		}

		err = buffer.CmdCopyBufferToImage(staging.Handle(), im.handle, core1_0.ImageLayoutTransferDstOptimal, []core1_0.BufferImageCopy{
			{
				BufferOffset:      0,
				BufferRowLength:   0,
				BufferImageHeight: 0,

				ImageSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     core1_0.ImageAspectColor,
					MipLevel:       0,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
				ImageExtent: core1_0.Extent3D{Width: dims.X, Height: dims.Y, Depth: 1},
			},
		})
		if err != nil {
			return err
		}

		return im.TransitionTo(buffer, core1_0.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		im.Destroy()
		return nil, err
	}

	return im, nil
}

// TransitionTo records a barrier moving the image from its tracked
// layout to newLayout and updates the tracked layout. The transition
// pair must exist in the policy table.
func (im *Image) TransitionTo(buffer core1_0.CommandBuffer, newLayout core1_0.ImageLayout) error {
	err := RecordTransition(buffer, im.handle, im.aspect, im.layout, newLayout)
	if err != nil {
		return err
	}
	im.layout = newLayout
	return nil
}

// TransitionDiscard is TransitionTo with the old layout forced to
// undefined, discarding the image's previous contents. Used for render
// targets that are fully rewritten every frame.
func (im *Image) TransitionDiscard(buffer core1_0.CommandBuffer, newLayout core1_0.ImageLayout) error {
	err := RecordTransition(buffer, im.handle, im.aspect, core1_0.ImageLayoutUndefined, newLayout)
	if err != nil {
		return err
	}
	im.layout = newLayout
	return nil
}

// ForceLayout overrides the tracked layout without recording a
// barrier. Only valid when something else already performed the
// transition, such as a render pass final layout.
func (im *Image) ForceLayout(layout core1_0.ImageLayout) {
	im.layout = layout
}

func (im *Image) Layout() core1_0.ImageLayout     { return im.layout }
func (im *Image) Handle() core1_0.Image           { return im.handle }
func (im *Image) View() core1_0.ImageView         { return im.view }
func (im *Image) Format() core1_0.Format          { return im.format }
func (im *Image) Extent() core1_0.Extent2D        { return im.extent }
func (im *Image) Samples() core1_0.SampleCountFlags { return im.samples }

// Destroy releases the view, image, and memory.
func (im *Image) Destroy() {
	if im.view != nil {
		im.view.Destroy(nil)
		im.view = nil
	}
	if im.handle != nil {
		im.handle.Destroy(nil)
		im.handle = nil
	}
	if im.memory != nil {
		im.memory.Free(nil)
		im.memory = nil
	}
}
