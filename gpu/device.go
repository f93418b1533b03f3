// Package gpu owns the Vulkan device bring-up and the low-level
// resource wrappers the renderer is built from: the logical device and
// its queues, buffers, images, and the image layout transition policy.
package gpu

import (
	"log"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/ext_debug_utils"
	"github.com/vkngwrapper/extensions/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/khr_portability_subset"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2"
	"golang.org/x/exp/slog"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

// QueueFamilyIndices carries the queue families the renderer needs: a
// graphics-capable family, a compute-capable family (preferring a
// dedicated one), and a present-capable family. Indices may alias the
// same hardware family.
type QueueFamilyIndices struct {
	GraphicsFamily *int
	ComputeFamily  *int
	PresentFamily  *int
}

func (i *QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.ComputeFamily != nil && i.PresentFamily != nil
}

// Caps are the device capabilities the renderer consults after
// startup.
type Caps struct {
	// MaxSampleCount is the highest MSAA sample count supported by
	// both color and depth framebuffer attachments.
	MaxSampleCount core1_0.SampleCountFlags
	// MinUniformAlignment is the device's required alignment for
	// dynamic uniform buffer offsets.
	MinUniformAlignment int
}

// Options configures device creation.
type Options struct {
	AppName          string
	EnableValidation bool
}

// Device owns the instance, surface, physical and logical device, and
// the queue wrappers. It is created once at startup and destroyed
// last, after all GPU work has been flushed.
type Device struct {
	log    *slog.Logger
	loader core.Loader

	instance       core1_0.Instance
	debugMessenger ext_debug_utils.DebugUtilsMessenger
	surface        khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	caps           Caps

	graphics *Queue
	compute  *Queue
	present  *Queue
}

// NewDevice brings up Vulkan against the given SDL window: instance,
// optional validation layers, surface, physical device selection, and
// the logical device with its graphics/compute/present queues.
// Construction failure is fatal to startup; there is no retry.
func NewDevice(window *sdl.Window, logger *slog.Logger, opts Options) (*Device, error) {
	d := &Device{log: logger}

	var err error
	d.loader, err = core.CreateLoaderFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "creating vulkan loader")
	}

	err = d.createInstance(window, opts)
	if err != nil {
		return nil, err
	}

	if opts.EnableValidation {
		err = d.setupDebugMessenger()
		if err != nil {
			d.Destroy()
			return nil, err
		}
	}

	err = d.createSurface(window)
	if err != nil {
		d.Destroy()
		return nil, err
	}

	err = d.pickPhysicalDevice()
	if err != nil {
		d.Destroy()
		return nil, err
	}

	err = d.createLogicalDevice(opts)
	if err != nil {
		d.Destroy()
		return nil, err
	}

	logger.Info("device ready",
		"maxSamples", int(d.caps.MaxSampleCount),
		"uniformAlign", d.caps.MinUniformAlignment,
		"graphicsFamily", d.graphics.Family(),
		"computeFamily", d.compute.Family(),
		"presentFamily", d.present.Family())
	return d, nil
}

func (d *Device) createInstance(window *sdl.Window, opts Options) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.AppName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "ember",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := window.VulkanGetInstanceExtensions()
	extensions, _, err := d.loader.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Newf("createInstance: missing required window extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if opts.EnableValidation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	layers, _, err := d.loader.AvailableLayers()
	if err != nil {
		return err
	}

	if opts.EnableValidation {
		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("createInstance: validation layer %s not available- install LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = d.debugMessengerOptions()
	}

	d.instance, _, err = d.loader.CreateInstance(nil, instanceOptions)
	return err
}

func (d *Device) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    d.logValidation,
	}
}

func (d *Device) setupDebugMessenger() error {
	var err error
	debugLoader := ext_debug_utils.CreateExtensionFromInstance(d.instance)
	d.debugMessenger, _, err = debugLoader.CreateDebugUtilsMessenger(d.instance, nil, d.debugMessengerOptions())
	return err
}

func (d *Device) logValidation(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	if d.log == nil {
		log.Printf("[%s %s] - %s", severity, msgType, data.Message)
		return false
	}
	if severity&ext_debug_utils.SeverityError != 0 {
		d.log.Error("validation", "type", msgType.String(), "message", data.Message)
	} else {
		d.log.Warn("validation", "type", msgType.String(), "message", data.Message)
	}
	return false
}

func (d *Device) createSurface(window *sdl.Window) error {
	surfaceLoader := khr_surface.CreateExtensionFromInstance(d.instance)

	surface, err := vkng_sdl2.CreateSurface(d.instance, surfaceLoader, window)
	if err != nil {
		return err
	}

	d.surface = surface
	return nil
}

func (d *Device) pickPhysicalDevice() error {
	physicalDevices, _, err := d.instance.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		if d.isDeviceSuitable(device) {
			d.physicalDevice = device
			break
		}
	}

	if d.physicalDevice == nil {
		return errors.Newf("failed to find a suitable GPU")
	}

	return nil
}

func (d *Device) isDeviceSuitable(device core1_0.PhysicalDevice) bool {
	indices, err := d.findQueueFamilies(device)
	if err != nil {
		return false
	}

	if !d.checkDeviceExtensionSupport(device) {
		return false
	}

	formats, _, err := d.surface.PhysicalDeviceSurfaceFormats(device)
	if err != nil || len(formats) == 0 {
		return false
	}
	presentModes, _, err := d.surface.PhysicalDeviceSurfacePresentModes(device)
	if err != nil || len(presentModes) == 0 {
		return false
	}

	features := device.Features()
	return indices.IsComplete() && features.SamplerAnisotropy
}

func (d *Device) checkDeviceExtensionSupport(device core1_0.PhysicalDevice) bool {
	extensions, _, err := device.EnumerateDeviceExtensionProperties()
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	return true
}

func (d *Device) findQueueFamilies(device core1_0.PhysicalDevice) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{}
	queueFamilies := device.QueueFamilyProperties()

	for queueFamilyIdx, queueFamily := range queueFamilies {
		if (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0 {
			if indices.GraphicsFamily == nil {
				indices.GraphicsFamily = new(int)
				*indices.GraphicsFamily = queueFamilyIdx
			}
		}

		if (queueFamily.QueueFlags & core1_0.QueueCompute) != 0 {
			// Prefer a compute family without graphics so particle
			// updates can overlap rendering on hardware that has one.
			dedicated := (queueFamily.QueueFlags & core1_0.QueueGraphics) == 0
			if indices.ComputeFamily == nil || dedicated {
				indices.ComputeFamily = new(int)
				*indices.ComputeFamily = queueFamilyIdx
			}
		}

		supported, _, err := d.surface.PhysicalDeviceSurfaceSupport(device, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if supported && indices.PresentFamily == nil {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}
	}

	return indices, nil
}

func (d *Device) createLogicalDevice(opts Options) error {
	indices, err := d.findQueueFamilies(d.physicalDevice)
	if err != nil {
		return err
	}

	uniqueQueueFamilies := []int{*indices.GraphicsFamily}
	for _, family := range []int{*indices.ComputeFamily, *indices.PresentFamily} {
		seen := false
		for _, existing := range uniqueQueueFamilies {
			if existing == family {
				seen = true
				break
			}
		}
		if !seen {
			uniqueQueueFamilies = append(uniqueQueueFamilies, family)
		}
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// Keeps the renderer compatible with vulkan portability, necessary
	// to run on mobile & mac.
	extensions, _, err := d.physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return err
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	d.device, _, err = d.physicalDevice.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueFamilyOptions,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: true,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	properties, err := d.physicalDevice.Properties()
	if err != nil {
		return err
	}
	d.caps = Caps{
		MaxSampleCount:      maxUsableSampleCount(properties.Limits),
		MinUniformAlignment: properties.Limits.MinUniformBufferOffsetAlignment,
	}

	d.graphics, err = newQueue(d.device, *indices.GraphicsFamily)
	if err != nil {
		return err
	}
	d.compute, err = newQueue(d.device, *indices.ComputeFamily)
	if err != nil {
		return err
	}
	if *indices.PresentFamily == *indices.GraphicsFamily {
		d.present = d.graphics
	} else {
		d.present, err = newQueue(d.device, *indices.PresentFamily)
		if err != nil {
			return err
		}
	}
	return nil
}

func maxUsableSampleCount(limits *core1_0.PhysicalDeviceLimits) core1_0.SampleCountFlags {
	counts := limits.FramebufferColorSampleCounts & limits.FramebufferDepthSampleCounts
	for _, count := range []core1_0.SampleCountFlags{core1_0.Samples8, core1_0.Samples4, core1_0.Samples2} {
		if counts&count != 0 {
			return count
		}
	}
	return core1_0.Samples1
}

// Handle returns the logical device.
func (d *Device) Handle() core1_0.Device { return d.device }

// Physical returns the selected physical device.
func (d *Device) Physical() core1_0.PhysicalDevice { return d.physicalDevice }

// Surface returns the window surface the device presents to.
func (d *Device) Surface() khr_surface.Surface { return d.surface }

func (d *Device) Caps() Caps { return d.caps }

func (d *Device) GraphicsQueue() *Queue { return d.graphics }
func (d *Device) ComputeQueue() *Queue  { return d.compute }
func (d *Device) PresentQueue() *Queue  { return d.present }

// WaitIdle blocks until all queues on the device have drained.
func (d *Device) WaitIdle() error {
	_, err := d.device.WaitIdle()
	return err
}

func (d *Device) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := d.physicalDevice.MemoryProperties()
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("failed to find any suitable memory type")
}

// FindDepthFormat returns the first supported depth format, preferring
// pure 32-bit float depth.
func (d *Device) FindDepthFormat() (core1_0.Format, error) {
	return d.findSupportedFormat(
		[]core1_0.Format{core1_0.FormatD32SignedFloat, core1_0.FormatD32SignedFloatS8UnsignedInt, core1_0.FormatD24UnsignedNormalizedS8UnsignedInt},
		core1_0.ImageTilingOptimal,
		core1_0.FormatFeatureDepthStencilAttachment)
}

func (d *Device) findSupportedFormat(formats []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range formats {
		props := d.physicalDevice.FormatProperties(format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, errors.Newf("failed to find supported format for tiling %s, featureset %s", tiling, features)
}

// Destroy tears the device down in strict reverse-construction order:
// queues, logical device, debug messenger, surface, instance. Callers
// must have flushed all GPU work first.
func (d *Device) Destroy() {
	if d.present != nil && d.present != d.graphics {
		d.present.destroy()
	}
	if d.compute != nil {
		d.compute.destroy()
	}
	if d.graphics != nil {
		d.graphics.destroy()
	}
	d.present, d.compute, d.graphics = nil, nil, nil

	if d.device != nil {
		d.device.Destroy(nil)
		d.device = nil
	}

	if d.debugMessenger != nil {
		d.debugMessenger.Destroy(nil)
		d.debugMessenger = nil
	}

	if d.surface != nil {
		d.surface.Destroy(nil)
		d.surface = nil
	}

	if d.instance != nil {
		d.instance.Destroy(nil)
		d.instance = nil
	}
}
