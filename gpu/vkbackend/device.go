package vkbackend

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_portability_subset"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/vkngwrapper/presentation/gpu"
)

type PhysicalDevice struct {
	handle     core1_0.PhysicalDevice
	name       string
	deviceType gpu.DeviceType
	extensions map[string]bool
	logger     *slog.Logger
}

func newPhysicalDevice(handle core1_0.PhysicalDevice, logger *slog.Logger) (*PhysicalDevice, error) {
	properties, err := handle.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "read physical device properties")
	}

	extensions, _, err := handle.EnumerateDeviceExtensionProperties()
	if err != nil {
		return nil, errors.Wrapf(err, "enumerate extensions of %s", properties.DriverName)
	}

	device := &PhysicalDevice{
		handle:     handle,
		name:       properties.DriverName,
		deviceType: toDeviceType(properties.DriverType),
		extensions: make(map[string]bool, len(extensions)),
		logger:     logger,
	}
	for name := range extensions {
		device.extensions[name] = true
	}
	return device, nil
}

func (p *PhysicalDevice) Name() string         { return p.name }
func (p *PhysicalDevice) Type() gpu.DeviceType { return p.deviceType }

func (p *PhysicalDevice) Features() gpu.Features {
	features := p.handle.Features()
	return gpu.Features{GeometryShader: features.GeometryShader}
}

func (p *PhysicalDevice) QueueFamilies() []gpu.QueueFamily {
	properties := p.handle.QueueFamilyProperties()

	families := make([]gpu.QueueFamily, 0, len(properties))
	for _, family := range properties {
		families = append(families, gpu.QueueFamily{
			Graphics:   (family.QueueFlags & core1_0.QueueGraphics) != 0,
			QueueCount: family.QueueCount,
		})
	}
	return families
}

func (p *PhysicalDevice) SupportsExtension(name string) bool {
	return p.extensions[name]
}

func (p *PhysicalDevice) CreateDevice(queueFamily int, features gpu.Features) (gpu.Device, error) {
	extensionNames := []string{khr_swapchain.ExtensionName}

	// Needed to run on portability implementations such as MoltenVK.
	if p.SupportsExtension(khr_portability_subset.ExtensionName) {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	handle, res, err := p.handle.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: queueFamily,
				QueuePriorities:  []float32{1.0},
			},
		},
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			GeometryShader: features.GeometryShader,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return nil, creationError(res, err)
	}

	p.logger.Debug("logical device created", "name", p.name, "extensions", extensionNames)
	return &Device{
		handle:     handle,
		swapchains: khr_swapchain.CreateExtensionFromDevice(handle),
	}, nil
}

type Device struct {
	handle     core1_0.Device
	swapchains khr_swapchain.Extension
}

func (d *Device) Queue(queueFamily int, index int) gpu.Queue {
	return &Queue{
		handle:     d.handle.GetQueue(queueFamily, index),
		swapchains: d.swapchains,
	}
}

func (d *Device) CreateCommandPool(queueFamily int, resetBuffers bool) (gpu.CommandPool, error) {
	var flags core1_0.CommandPoolCreateFlags
	if resetBuffers {
		flags |= core1_0.CommandPoolCreateResetBuffer
	}

	pool, res, err := d.handle.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: queueFamily,
		Flags:            flags,
	})
	if err != nil {
		return nil, creationError(res, err)
	}
	return &CommandPool{device: d.handle, handle: pool}, nil
}

func (d *Device) CreateSwapchain(info gpu.SwapchainCreateInfo) (gpu.Swapchain, error) {
	surface, ok := info.Surface.(*Surface)
	if !ok {
		return nil, errors.Newf("surface %T does not belong to the vulkan backend", info.Surface)
	}

	swapchain, res, err := d.swapchains.CreateSwapchain(d.handle, nil, khr_swapchain.SwapchainCreateInfo{
		Surface: surface.handle,

		MinImageCount:    info.MinImageCount,
		ImageFormat:      fromFormat(info.Format.Format),
		ImageColorSpace:  fromColorSpace(info.Format.ColorSpace),
		ImageExtent:      fromExtent(info.Extent),
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		// One queue does both graphics and present.
		ImageSharingMode: core1_0.SharingModeExclusive,

		PreTransform:   khr_surface.SurfaceTransformFlags(info.CurrentTransform),
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    fromPresentMode(info.PresentMode),
		Clipped:        true,
	})
	if err != nil {
		return nil, creationError(res, err)
	}
	return &Swapchain{handle: swapchain}, nil
}

func (d *Device) CreateRenderPass(format gpu.Format) (gpu.RenderPass, error) {
	renderPass, res, err := d.handle.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         fromFormat(format),
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				DstAccessMask: core1_0.AccessColorAttachmentWrite,
			},
		},
	})
	if err != nil {
		return nil, creationError(res, err)
	}
	return &RenderPass{handle: renderPass}, nil
}

func (d *Device) CreateImageView(image gpu.Image, format gpu.Format) (gpu.ImageView, error) {
	img, ok := image.(*Image)
	if !ok {
		return nil, errors.Newf("image %T does not belong to the vulkan backend", image)
	}

	view, res, err := d.handle.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    img.handle,
		ViewType: core1_0.ImageViewType2D,
		Format:   fromFormat(format),
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return nil, creationError(res, err)
	}
	return &ImageView{handle: view}, nil
}

func (d *Device) CreateFramebuffer(renderPass gpu.RenderPass, view gpu.ImageView, extent gpu.Extent) (gpu.Framebuffer, error) {
	framebuffer, res, err := d.handle.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass: renderPass.(*RenderPass).handle,
		Layers:     1,
		Attachments: []core1_0.ImageView{
			view.(*ImageView).handle,
		},
		Width:  extent.Width,
		Height: extent.Height,
	})
	if err != nil {
		return nil, creationError(res, err)
	}
	return &Framebuffer{handle: framebuffer}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphore, res, err := d.handle.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, creationError(res, err)
	}
	return &Semaphore{handle: semaphore}, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags |= core1_0.FenceCreateSignaled
	}

	fence, res, err := d.handle.CreateFence(nil, core1_0.FenceCreateInfo{
		Flags: flags,
	})
	if err != nil {
		return nil, creationError(res, err)
	}
	return &Fence{handle: fence}, nil
}

func fenceHandles(fences []gpu.Fence) []core1_0.Fence {
	handles := make([]core1_0.Fence, 0, len(fences))
	for _, fence := range fences {
		handles = append(handles, fence.(*Fence).handle)
	}
	return handles
}

func (d *Device) WaitForFences(timeout time.Duration, fences ...gpu.Fence) (gpu.Result, error) {
	return toResult(d.handle.WaitForFences(true, timeout, fenceHandles(fences)))
}

func (d *Device) ResetFences(fences ...gpu.Fence) error {
	_, err := d.handle.ResetFences(fenceHandles(fences))
	return err
}

func (d *Device) WaitIdle() (gpu.Result, error) {
	return toResult(d.handle.WaitIdle())
}

func (d *Device) Destroy() {
	if d.handle != nil {
		d.handle.Destroy(nil)
		d.handle = nil
	}
}

type Queue struct {
	handle     core1_0.Queue
	swapchains khr_swapchain.Extension
}

func (q *Queue) Submit(fence gpu.Fence, info gpu.SubmitInfo) (gpu.Result, error) {
	return toResult(q.handle.Submit(fence.(*Fence).handle, []core1_0.SubmitInfo{
		{
			WaitSemaphores:   []core1_0.Semaphore{info.WaitSemaphore.(*Semaphore).handle},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			CommandBuffers:   []core1_0.CommandBuffer{info.CommandBuffer.(*CommandBuffer).handle},
			SignalSemaphores: []core1_0.Semaphore{info.SignalSemaphore.(*Semaphore).handle},
		},
	}))
}

func (q *Queue) Present(info gpu.PresentInfo) (gpu.Result, error) {
	return toResult(q.swapchains.QueuePresent(q.handle, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{info.WaitSemaphore.(*Semaphore).handle},
		Swapchains:     []khr_swapchain.Swapchain{info.Swapchain.(*Swapchain).handle},
		ImageIndices:   []int{info.ImageIndex},
	}))
}
