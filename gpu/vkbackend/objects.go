package vkbackend

import (
	"time"

	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/vkngwrapper/presentation/gpu"
)

var (
	_ gpu.Instance       = (*Instance)(nil)
	_ gpu.PhysicalDevice = (*PhysicalDevice)(nil)
	_ gpu.Surface        = (*Surface)(nil)
	_ gpu.Device         = (*Device)(nil)
	_ gpu.Queue          = (*Queue)(nil)
	_ gpu.CommandPool    = (*CommandPool)(nil)
	_ gpu.CommandBuffer  = (*CommandBuffer)(nil)
	_ gpu.Swapchain      = (*Swapchain)(nil)
	_ gpu.RenderPass     = (*RenderPass)(nil)
	_ gpu.ImageView      = (*ImageView)(nil)
	_ gpu.Framebuffer    = (*Framebuffer)(nil)
	_ gpu.Semaphore      = (*Semaphore)(nil)
	_ gpu.Fence          = (*Fence)(nil)
)

type CommandPool struct {
	device core1_0.Device
	handle core1_0.CommandPool
}

func (p *CommandPool) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	handles, res, err := p.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p.handle,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, creationError(res, err)
	}

	buffers := make([]gpu.CommandBuffer, 0, len(handles))
	for _, handle := range handles {
		buffers = append(buffers, &CommandBuffer{handle: handle})
	}
	return buffers, nil
}

func (p *CommandPool) FreeCommandBuffers(buffers ...gpu.CommandBuffer) {
	handles := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		handles = append(handles, buffer.(*CommandBuffer).handle)
	}
	p.device.FreeCommandBuffers(handles)
}

func (p *CommandPool) Destroy() {
	p.handle.Destroy(nil)
}

type CommandBuffer struct {
	handle core1_0.CommandBuffer
}

func (c *CommandBuffer) Reset() error {
	_, err := c.handle.Reset(0)
	return err
}

func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	var flags core1_0.CommandBufferUsageFlags
	if oneTimeSubmit {
		flags |= core1_0.CommandBufferUsageOneTimeSubmit
	}

	_, err := c.handle.Begin(core1_0.CommandBufferBeginInfo{
		Flags: flags,
	})
	return err
}

func (c *CommandBuffer) BeginRenderPass(info gpu.RenderPassBeginInfo) error {
	color := info.ClearColor
	return c.handle.CmdBeginRenderPass(core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  info.RenderPass.(*RenderPass).handle,
			Framebuffer: info.Framebuffer.(*Framebuffer).handle,
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: fromExtent(info.RenderArea),
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{color[0], color[1], color[2], color[3]},
			},
		})
}

func (c *CommandBuffer) EndRenderPass() {
	c.handle.CmdEndRenderPass()
}

func (c *CommandBuffer) End() error {
	_, err := c.handle.End()
	return err
}

// Handle exposes the vkngwrapper command buffer so record hooks can issue
// commands this package does not wrap.
func (c *CommandBuffer) Handle() core1_0.CommandBuffer { return c.handle }

type Swapchain struct {
	handle khr_swapchain.Swapchain
}

func (s *Swapchain) Images() ([]gpu.Image, error) {
	handles, _, err := s.handle.SwapchainImages()
	if err != nil {
		return nil, err
	}

	images := make([]gpu.Image, 0, len(handles))
	for _, handle := range handles {
		images = append(images, &Image{handle: handle})
	}
	return images, nil
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (int, gpu.Result, error) {
	imageIndex, res, err := s.handle.AcquireNextImage(timeout, signal.(*Semaphore).handle, nil)
	result, err := toResult(res, err)
	return imageIndex, result, err
}

func (s *Swapchain) Destroy() {
	s.handle.Destroy(nil)
}

// Image is owned by its swapchain and is never destroyed directly.
type Image struct {
	handle core1_0.Image
}

type RenderPass struct {
	handle core1_0.RenderPass
}

func (r *RenderPass) Destroy() { r.handle.Destroy(nil) }

type ImageView struct {
	handle core1_0.ImageView
}

func (v *ImageView) Destroy() { v.handle.Destroy(nil) }

type Framebuffer struct {
	handle core1_0.Framebuffer
}

func (f *Framebuffer) Destroy() { f.handle.Destroy(nil) }

type Semaphore struct {
	handle core1_0.Semaphore
}

func (s *Semaphore) Destroy() { s.handle.Destroy(nil) }

type Fence struct {
	handle core1_0.Fence
}

func (f *Fence) Destroy() { f.handle.Destroy(nil) }
