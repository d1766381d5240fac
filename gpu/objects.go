package gpu

import "time"

type Instance interface {
	EnumeratePhysicalDevices() ([]PhysicalDevice, error)
	Destroy()
}

type PhysicalDevice interface {
	Name() string
	Type() DeviceType
	Features() Features
	QueueFamilies() []QueueFamily
	SupportsExtension(name string) bool
	// CreateDevice creates a logical device with exactly one queue from
	// queueFamily.
	CreateDevice(queueFamily int, features Features) (Device, error)
}

// Surface is the native presentation surface. It is owned by the windowing
// side and outlives every swapchain built against it.
type Surface interface {
	SupportsPresent(device PhysicalDevice, queueFamily int) (bool, error)
	Capabilities(device PhysicalDevice) (SurfaceCapabilities, error)
	Formats(device PhysicalDevice) ([]SurfaceFormat, error)
	PresentModes(device PhysicalDevice) ([]PresentMode, error)
	Destroy()
}

type Device interface {
	Queue(queueFamily int, index int) Queue
	CreateCommandPool(queueFamily int, resetBuffers bool) (CommandPool, error)
	CreateSwapchain(info SwapchainCreateInfo) (Swapchain, error)
	CreateRenderPass(format Format) (RenderPass, error)
	CreateImageView(image Image, format Format) (ImageView, error)
	CreateFramebuffer(renderPass RenderPass, view ImageView, extent Extent) (Framebuffer, error)
	CreateSemaphore() (Semaphore, error)
	CreateFence(signaled bool) (Fence, error)
	WaitForFences(timeout time.Duration, fences ...Fence) (Result, error)
	ResetFences(fences ...Fence) error
	WaitIdle() (Result, error)
	Destroy()
}

type Queue interface {
	Submit(fence Fence, info SubmitInfo) (Result, error)
	Present(info PresentInfo) (Result, error)
}

type CommandPool interface {
	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(buffers ...CommandBuffer)
	Destroy()
}

type CommandBuffer interface {
	Reset() error
	Begin(oneTimeSubmit bool) error
	BeginRenderPass(info RenderPassBeginInfo) error
	EndRenderPass()
	End() error
}

type Swapchain interface {
	Images() ([]Image, error)
	AcquireNextImage(timeout time.Duration, signal Semaphore) (int, Result, error)
	Destroy()
}

// Image is owned by its swapchain and is never destroyed directly.
type Image interface{}

type RenderPass interface{ Destroy() }

type ImageView interface{ Destroy() }

type Framebuffer interface{ Destroy() }

type Semaphore interface{ Destroy() }

type Fence interface{ Destroy() }

type SwapchainCreateInfo struct {
	Surface          Surface
	MinImageCount    int
	Format           SurfaceFormat
	Extent           Extent
	PresentMode      PresentMode
	CurrentTransform uint32
}

type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	RenderArea  Extent
	ClearColor  ClearColor
}

type SubmitInfo struct {
	WaitSemaphore   Semaphore
	CommandBuffer   CommandBuffer
	SignalSemaphore Semaphore
}

type PresentInfo struct {
	WaitSemaphore Semaphore
	Swapchain     Swapchain
	ImageIndex    int
}
