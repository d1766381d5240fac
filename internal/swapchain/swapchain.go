// Package swapchain builds and tears down a swapchain together with every
// object that depends on it: the shared render pass, and per image a view,
// framebuffer and command buffer, plus the per frame-slot fences and
// semaphores. Each build is a generation; nothing from one generation is
// valid once it has been destroyed.
package swapchain

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/presentation/internal/device"
	"github.com/vkngwrapper/presentation/gpu"
	"github.com/vkngwrapper/presentation/internal/surface"
)

type Config struct {
	// FrameSlots is the number of frames the CPU may record ahead of the GPU.
	// It is independent of the number of swapchain images.
	FrameSlots      int
	PreferredFormat gpu.Format
	PresentMode     gpu.PresentMode
	Logger          *slog.Logger
}

// ImageHandle addresses one image resource of one generation.
type ImageHandle struct {
	Index      int
	Generation uint64
}

// ImageResource is everything recorded against a single swapchain image.
type ImageResource struct {
	Handle ImageHandle
	// Image is owned by the swapchain.
	Image         gpu.Image
	View          gpu.ImageView
	Framebuffer   gpu.Framebuffer
	CommandBuffer gpu.CommandBuffer
	// LastUsedFence is the fence of the frame slot that most recently
	// submitted work against this image, or nil.
	LastUsedFence gpu.Fence
}

// FrameSlot holds the per-tick synchronization objects of one entry in the
// frame rotation.
type FrameSlot struct {
	Index            int
	Fence            gpu.Fence
	AcquireSemaphore gpu.Semaphore
	ReleaseSemaphore gpu.Semaphore
}

// Swapchain is one generation of the swapchain and its dependent objects.
type Swapchain struct {
	Handle      gpu.Swapchain
	Format      gpu.SurfaceFormat
	Extent      gpu.Extent
	PresentMode gpu.PresentMode
	Generation  uint64
	RenderPass  gpu.RenderPass

	images    []*ImageResource
	slots     []*FrameSlot
	destroyed bool
}

func (s *Swapchain) ImageCount() int { return len(s.images) }

func (s *Swapchain) SlotCount() int { return len(s.slots) }

func (s *Swapchain) Destroyed() bool { return s.destroyed }

func (s *Swapchain) Slot(index int) *FrameSlot {
	return s.slots[index]
}

// HandleFor turns an image index returned by the presentation engine into a
// handle for this generation.
func (s *Swapchain) HandleFor(index int) (ImageHandle, error) {
	if s.destroyed {
		return ImageHandle{}, errors.Wrapf(gpu.ErrStaleHandle, "generation %d", s.Generation)
	}
	if index < 0 || index >= len(s.images) {
		return ImageHandle{}, errors.Newf("image index %d out of range for %d images", index, len(s.images))
	}
	return ImageHandle{Index: index, Generation: s.Generation}, nil
}

// Resource resolves a handle. Handles from another generation, or from this
// one after it was destroyed, fail with gpu.ErrStaleHandle.
func (s *Swapchain) Resource(handle ImageHandle) (*ImageResource, error) {
	if s.destroyed || handle.Generation != s.Generation {
		return nil, errors.Wrapf(gpu.ErrStaleHandle, "handle generation %d, swapchain generation %d", handle.Generation, s.Generation)
	}
	if handle.Index < 0 || handle.Index >= len(s.images) {
		return nil, errors.Newf("image index %d out of range for %d images", handle.Index, len(s.images))
	}
	return s.images[handle.Index], nil
}

// ImageCount is the number of images to request: one more than the surface
// minimum, capped by the surface maximum when it has one.
func ImageCount(caps gpu.SurfaceCapabilities) int {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

// ChooseFormat picks preferred if the surface offers it, otherwise the first
// reported format. With nothing reported it falls back to preferred in the
// sRGB nonlinear color space.
func ChooseFormat(available []gpu.SurfaceFormat, preferred gpu.Format) gpu.SurfaceFormat {
	for _, format := range available {
		if format.Format == preferred {
			return format
		}
	}

	if len(available) == 0 {
		return gpu.SurfaceFormat{Format: preferred, ColorSpace: gpu.ColorSpaceSRGBNonlinear}
	}
	return available[0]
}

// ChoosePresentMode picks requested if the surface offers it. FIFO is always
// available and is the fallback.
func ChoosePresentMode(available []gpu.PresentMode, requested gpu.PresentMode) gpu.PresentMode {
	for _, mode := range available {
		if mode == requested {
			return mode
		}
	}

	return gpu.PresentModeFIFO
}

// ChooseExtent clamps the requested extent to what the surface accepts.
func ChooseExtent(requested gpu.Extent, caps gpu.SurfaceCapabilities) gpu.Extent {
	extent := requested
	if extent.Width < caps.MinImageExtent.Width {
		extent.Width = caps.MinImageExtent.Width
	}
	if caps.MaxImageExtent.Width > 0 && extent.Width > caps.MaxImageExtent.Width {
		extent.Width = caps.MaxImageExtent.Width
	}
	if extent.Height < caps.MinImageExtent.Height {
		extent.Height = caps.MinImageExtent.Height
	}
	if caps.MaxImageExtent.Height > 0 && extent.Height > caps.MaxImageExtent.Height {
		extent.Height = caps.MaxImageExtent.Height
	}

	return extent
}

// Manager owns the current swapchain generation. It borrows the device, queue
// family and command pool from a device.Context.
type Manager struct {
	device  gpu.Device
	pool    gpu.CommandPool
	surface *surface.Binding
	config  Config
	logger  *slog.Logger

	generation uint64
	current    *Swapchain
}

func NewManager(deviceCtx *device.Context, binding *surface.Binding, config Config) *Manager {
	if config.FrameSlots < 1 {
		config.FrameSlots = 1
	}

	return &Manager{
		device:  deviceCtx.Device,
		pool:    deviceCtx.CommandPool,
		surface: binding,
		config:  config,
		logger:  gpu.LoggerOrNop(config.Logger),
	}
}

// Current returns the live generation, or nil between Destroy and Create.
func (m *Manager) Current() *Swapchain { return m.current }

// Generation is the number of generations created so far.
func (m *Manager) Generation() uint64 { return m.generation }

// Create builds a new generation at extent. The previous generation must
// already be destroyed.
func (m *Manager) Create(extent gpu.Extent) (*Swapchain, error) {
	if m.current != nil {
		return nil, errors.Newf("swapchain generation %d is still live", m.current.Generation)
	}

	support, err := m.surface.Support()
	if err != nil {
		return nil, err
	}

	surfaceFormat := ChooseFormat(support.Formats, m.config.PreferredFormat)
	presentMode := ChoosePresentMode(support.PresentModes, m.config.PresentMode)
	extent = ChooseExtent(extent, support.Capabilities)

	handle, err := m.device.CreateSwapchain(gpu.SwapchainCreateInfo{
		Surface:          m.surface.Surface(),
		MinImageCount:    ImageCount(support.Capabilities),
		Format:           surfaceFormat,
		Extent:           extent,
		PresentMode:      presentMode,
		CurrentTransform: support.Capabilities.CurrentTransform,
	})
	if err != nil {
		return nil, gpu.CreationFailed(gpu.KindSwapchain, err)
	}

	m.generation++
	swapchain := &Swapchain{
		Handle:      handle,
		Format:      surfaceFormat,
		Extent:      extent,
		PresentMode: presentMode,
		Generation:  m.generation,
	}

	err = m.build(swapchain)
	if err != nil {
		m.release(swapchain)
		return nil, err
	}

	m.current = swapchain
	m.logger.Info("swapchain created",
		"generation", swapchain.Generation,
		"extent", swapchain.Extent.String(),
		"format", swapchain.Format.Format.String(),
		"presentMode", swapchain.PresentMode.String(),
		"images", swapchain.ImageCount(),
		"slots", swapchain.SlotCount())

	return swapchain, nil
}

func (m *Manager) build(swapchain *Swapchain) error {
	var err error
	swapchain.RenderPass, err = m.device.CreateRenderPass(swapchain.Format.Format)
	if err != nil {
		return gpu.CreationFailed(gpu.KindRenderPass, err)
	}

	images, err := swapchain.Handle.Images()
	if err != nil {
		return errors.Wrap(err, "get swapchain images")
	}

	for imageIdx, image := range images {
		resource := &ImageResource{
			Handle: ImageHandle{Index: imageIdx, Generation: swapchain.Generation},
			Image:  image,
		}
		swapchain.images = append(swapchain.images, resource)

		buffers, err := m.pool.AllocateCommandBuffers(1)
		if err != nil {
			return gpu.CreationFailed(gpu.KindCommandBuffer, err)
		}
		resource.CommandBuffer = buffers[0]

		resource.View, err = m.device.CreateImageView(image, swapchain.Format.Format)
		if err != nil {
			return gpu.CreationFailed(gpu.KindImageView, err)
		}

		resource.Framebuffer, err = m.device.CreateFramebuffer(swapchain.RenderPass, resource.View, swapchain.Extent)
		if err != nil {
			return gpu.CreationFailed(gpu.KindFramebuffer, err)
		}
	}

	for slotIdx := 0; slotIdx < m.config.FrameSlots; slotIdx++ {
		slot := &FrameSlot{Index: slotIdx}
		swapchain.slots = append(swapchain.slots, slot)

		slot.AcquireSemaphore, err = m.device.CreateSemaphore()
		if err != nil {
			return gpu.CreationFailed(gpu.KindSemaphore, err)
		}

		slot.ReleaseSemaphore, err = m.device.CreateSemaphore()
		if err != nil {
			return gpu.CreationFailed(gpu.KindSemaphore, err)
		}

		// Created signaled so the first wait on each slot returns at once.
		slot.Fence, err = m.device.CreateFence(true)
		if err != nil {
			return gpu.CreationFailed(gpu.KindFence, err)
		}
	}

	return nil
}

// Destroy tears down the current generation. It does not wait: the device
// must be idle, or every slot fence signaled, before calling it.
func (m *Manager) Destroy() {
	if m.current == nil {
		return
	}

	m.release(m.current)
	m.current = nil
}

// Recreate destroys the current generation in full and builds the next one
// at extent. The caller waits for device idle first.
func (m *Manager) Recreate(extent gpu.Extent) (*Swapchain, error) {
	m.Destroy()
	return m.Create(extent)
}

// release destroys whatever part of swapchain has been built so far.
func (m *Manager) release(swapchain *Swapchain) {
	for _, slot := range swapchain.slots {
		if slot.Fence != nil {
			slot.Fence.Destroy()
		}
		if slot.ReleaseSemaphore != nil {
			slot.ReleaseSemaphore.Destroy()
		}
		if slot.AcquireSemaphore != nil {
			slot.AcquireSemaphore.Destroy()
		}
	}
	swapchain.slots = nil

	for _, resource := range swapchain.images {
		if resource.Framebuffer != nil {
			resource.Framebuffer.Destroy()
		}
		if resource.View != nil {
			resource.View.Destroy()
		}
		if resource.CommandBuffer != nil {
			m.pool.FreeCommandBuffers(resource.CommandBuffer)
		}
		resource.LastUsedFence = nil
	}
	swapchain.images = nil

	if swapchain.RenderPass != nil {
		swapchain.RenderPass.Destroy()
		swapchain.RenderPass = nil
	}

	if swapchain.Handle != nil {
		swapchain.Handle.Destroy()
		swapchain.Handle = nil
	}

	swapchain.destroyed = true
}
