package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"
	"golang.org/x/exp/slog"

	"github.com/embergfx/ember/gpu"
)

// SwapChain owns the presentable images and their views, plus the
// same-size off-screen render targets the frame is actually drawn
// into: a single-sampled color target (the blit source), an MSAA
// color target when multisampling is on, and a depth target.
// Rendering never touches the presentable images directly; the color
// target is blitted into them at the end of each frame, so pipeline
// configuration stays independent of the presentable image count.
//
// On resize or out-of-date the whole thing is recreated; the old
// swapchain handle is passed to the new one for driver-side resource
// reuse and destroyed only after the new one is built.
type SwapChain struct {
	log    *slog.Logger
	dev    *gpu.Device
	window Window

	ext    khr_swapchain.Extension
	handle khr_swapchain.Swapchain

	images []core1_0.Image
	views  []core1_0.ImageView
	format core1_0.Format
	extent core1_0.Extent2D

	samples core1_0.SampleCountFlags

	// Color is the single-sampled off-screen target the frame resolves
	// or renders into, and the source of the final blit.
	Color *gpu.Image
	// MSAA is the multisampled color target; nil when samples == 1.
	MSAA *gpu.Image
	// Depth is the depth target, sampled to match the color path.
	Depth *gpu.Image

	depthFormat core1_0.Format
}

// NewSwapChain builds a swapchain and its render targets sized to the
// window's current drawable size. Construction failure is fatal.
func NewSwapChain(logger *slog.Logger, dev *gpu.Device, window Window, samples core1_0.SampleCountFlags) (*SwapChain, error) {
	if samples == 0 {
		samples = core1_0.Samples1
	}
	if samples > dev.Caps().MaxSampleCount {
		samples = dev.Caps().MaxSampleCount
	}

	depthFormat, err := dev.FindDepthFormat()
	if err != nil {
		return nil, err
	}

	s := &SwapChain{
		log:         logger,
		dev:         dev,
		window:      window,
		ext:         khr_swapchain.CreateExtensionFromDevice(dev.Handle()),
		samples:     samples,
		depthFormat: depthFormat,
	}

	err = s.create(nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Recreate rebuilds the swapchain and render targets after a resize or
// out-of-date result. The caller must already have drained the device.
// Failure is fatal; there is no partial-recreate retry.
func (s *SwapChain) Recreate() error {
	old := s.handle
	s.destroyTargets()
	s.destroyViews()
	s.handle = nil

	err := s.create(old)
	if old != nil {
		old.Destroy(nil)
	}
	return err
}

func (s *SwapChain) create(old khr_swapchain.Swapchain) error {
	surface := s.dev.Surface()

	capabilities, _, err := surface.PhysicalDeviceSurfaceCapabilities(s.dev.Physical())
	if err != nil {
		return err
	}
	formats, _, err := surface.PhysicalDeviceSurfaceFormats(s.dev.Physical())
	if err != nil {
		return err
	}
	presentModes, _, err := surface.PhysicalDeviceSurfacePresentModes(s.dev.Physical())
	if err != nil {
		return err
	}

	surfaceFormat := chooseSurfaceFormat(formats)
	presentMode := choosePresentMode(presentModes)
	width, height := s.window.DrawableSize()
	extent := chooseExtent(capabilities, width, height)
	imageCount := chooseImageCount(capabilities)

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int
	graphicsFamily := s.dev.GraphicsQueue().Family()
	presentFamily := s.dev.PresentQueue().Family()
	if graphicsFamily != presentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, graphicsFamily, presentFamily)
	}

	swapchain, _, err := s.ext.CreateSwapchain(s.dev.Handle(), nil, khr_swapchain.SwapchainCreateInfo{
		Surface: surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransferDst,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,

		OldSwapchain: old,
	})
	if err != nil {
		return errors.Wrap(err, "creating swapchain")
	}
	s.handle = swapchain
	s.format = surfaceFormat.Format
	s.extent = extent

	images, _, err := swapchain.SwapchainImages()
	if err != nil {
		return err
	}
	s.images = images

	for _, image := range images {
		view, _, err := s.dev.Handle().CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   s.format,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			return err
		}
		s.views = append(s.views, view)
	}

	err = s.createTargets()
	if err != nil {
		return err
	}

	s.log.Info("swapchain ready",
		"extent", []int{extent.Width, extent.Height},
		"images", len(images),
		"samples", int(s.samples))
	return nil
}

func (s *SwapChain) createTargets() error {
	var err error
	s.Color, err = gpu.NewImage(s.dev, gpu.ImageConfig{
		Width:  s.extent.Width,
		Height: s.extent.Height,
		Format: s.format,
		Usage:  core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransferSrc,
		Aspect: core1_0.ImageAspectColor,
	})
	if err != nil {
		return errors.Wrap(err, "creating color target")
	}

	if s.samples != core1_0.Samples1 {
		s.MSAA, err = gpu.NewImage(s.dev, gpu.ImageConfig{
			Width:   s.extent.Width,
			Height:  s.extent.Height,
			Format:  s.format,
			Usage:   core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransientAttachment,
			Aspect:  core1_0.ImageAspectColor,
			Samples: s.samples,
		})
		if err != nil {
			return errors.Wrap(err, "creating msaa target")
		}
	}

	s.Depth, err = gpu.NewImage(s.dev, gpu.ImageConfig{
		Width:   s.extent.Width,
		Height:  s.extent.Height,
		Format:  s.depthFormat,
		Usage:   core1_0.ImageUsageDepthStencilAttachment,
		Aspect:  core1_0.ImageAspectDepth,
		Samples: s.samples,
	})
	if err != nil {
		return errors.Wrap(err, "creating depth target")
	}
	return nil
}

func (s *SwapChain) destroyTargets() {
	if s.Depth != nil {
		s.Depth.Destroy()
		s.Depth = nil
	}
	if s.MSAA != nil {
		s.MSAA.Destroy()
		s.MSAA = nil
	}
	if s.Color != nil {
		s.Color.Destroy()
		s.Color = nil
	}
}

func (s *SwapChain) destroyViews() {
	for _, view := range s.views {
		view.Destroy(nil)
	}
	s.views = nil
	s.images = nil
}

// Destroy releases the render targets, views, and swapchain handle.
func (s *SwapChain) Destroy() {
	s.destroyTargets()
	s.destroyViews()
	if s.handle != nil {
		s.handle.Destroy(nil)
		s.handle = nil
	}
}

func (s *SwapChain) Handle() khr_swapchain.Swapchain  { return s.handle }
func (s *SwapChain) Extension() khr_swapchain.Extension { return s.ext }
func (s *SwapChain) Images() []core1_0.Image          { return s.images }
func (s *SwapChain) ImageCount() int                  { return len(s.images) }
func (s *SwapChain) Extent() core1_0.Extent2D         { return s.extent }
func (s *SwapChain) Format() core1_0.Format           { return s.format }
func (s *SwapChain) DepthFormat() core1_0.Format      { return s.depthFormat }
func (s *SwapChain) SampleCount() core1_0.SampleCountFlags { return s.samples }

// chooseSurfaceFormat prefers 8-bit BGRA sRGB and falls back to the
// first advertised format.
func chooseSurfaceFormat(available []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range available {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return available[0]
}

// choosePresentMode prefers mailbox (low-latency triple buffering) and
// falls back to FIFO, which every device must support.
func choosePresentMode(available []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range available {
		if presentMode == khr_surface.PresentModeMailbox {
			return presentMode
		}
	}

	return khr_surface.PresentModeFIFO
}

// chooseExtent clamps the drawable size into the surface's allowed
// range, unless the surface dictates an exact extent.
func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, width, height int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}

// chooseImageCount asks for one image beyond the device minimum, so
// the renderer never stalls on driver-internal image reuse, clamped to
// the device maximum when one exists.
func chooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}
