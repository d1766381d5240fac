// Package present drives a swapchain on a single graphics queue: it selects
// the device, builds the swapchain and its per-image resources, and runs one
// acquire, record, submit, present cycle per DrawFrame call, rebuilding the
// swapchain when the surface changes.
//
// A RenderContext is not safe for concurrent use. All calls are expected from
// the thread that owns the window.
package present

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"

	"github.com/vkngwrapper/presentation/internal/device"
	"github.com/vkngwrapper/presentation/internal/frame"
	"github.com/vkngwrapper/presentation/gpu"
	"github.com/vkngwrapper/presentation/internal/surface"
	"github.com/vkngwrapper/presentation/internal/swapchain"
)

// RenderContext owns the device, the surface binding, the swapchain manager
// and the frame synchronizer of one presentation session.
type RenderContext struct {
	config config
	logger *slog.Logger

	device     *device.Context
	surface    *surface.Binding
	swapchains *swapchain.Manager
	sync       *frame.Synchronizer
	current    *swapchain.Swapchain

	resizePending bool
	resizeExtent  gpu.Extent

	stats     FrameStats
	connected bool
}

// New returns an unconnected RenderContext.
func New(opts ...Option) *RenderContext {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = Logger()
	}

	return &RenderContext{config: cfg, logger: logger}
}

// Connect creates a RenderContext and connects it to surface. See
// RenderContext.Connect.
func Connect(instance gpu.Instance, surf gpu.Surface, width, height int, opts ...Option) (*RenderContext, error) {
	rc := New(opts...)
	err := rc.Connect(instance, surf, width, height)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// Connect selects a device that can present to surf and builds the first
// swapchain generation at width x height, or at the surface's current extent
// when either is zero. The surface stays owned by the caller, who destroys it
// after Disconnect and before the instance.
func (rc *RenderContext) Connect(instance gpu.Instance, surf gpu.Surface, width, height int) error {
	if rc.connected {
		return ErrAlreadyConnected
	}
	if rc.config.frameSlots < 1 {
		return errors.Newf("frame slot count must be at least 1, got %d", rc.config.frameSlots)
	}

	deviceCtx, err := device.Select(instance, surf, device.Options{
		RequiredFeatures: rc.config.requiredFeatures,
		Logger:           rc.logger,
	})
	if err != nil {
		return err
	}

	binding := surface.Bind(surf, deviceCtx.Physical)
	extent := gpu.Extent{Width: width, Height: height}
	if extent.Empty() {
		caps, err := binding.Capabilities()
		if err != nil {
			deviceCtx.Destroy()
			return err
		}
		extent = caps.CurrentExtent
	}

	manager := swapchain.NewManager(deviceCtx, binding, swapchain.Config{
		FrameSlots:      rc.config.frameSlots,
		PreferredFormat: rc.config.preferredFormat,
		PresentMode:     rc.config.presentMode,
		Logger:          rc.logger,
	})
	sync := frame.NewSynchronizer(deviceCtx.Device, rc.config.frameSlots, rc.config.waitTimeout)

	current, err := manager.Create(extent)
	if err != nil {
		deviceCtx.Destroy()
		binding.Release()
		return errors.WithDetailf(err, "device: %s", deviceCtx.Physical.Name())
	}
	err = sync.Bind(current)
	if err != nil {
		manager.Destroy()
		deviceCtx.Destroy()
		binding.Release()
		return err
	}

	rc.device = deviceCtx
	rc.surface = binding
	rc.swapchains = manager
	rc.sync = sync
	rc.current = current
	rc.resizePending = false
	rc.stats = FrameStats{Generation: current.Generation}
	rc.connected = true

	rc.logger.Info("render context connected",
		"device", deviceCtx.Physical.Name(),
		"queueFamily", deviceCtx.QueueFamily,
		"extent", current.Extent.String(),
		"frameSlots", rc.config.frameSlots)
	return nil
}

// Connected reports whether Connect succeeded and Disconnect has not been
// called since.
func (rc *RenderContext) Connected() bool { return rc.connected }

// NotifyResize records that the window finished resizing to width x height.
// The next DrawFrame rebuilds the swapchain at that size before drawing.
func (rc *RenderContext) NotifyResize(width, height int) {
	rc.resizePending = true
	rc.resizeExtent = gpu.Extent{Width: width, Height: height}
}

// DrawFrame runs one tick: wait for the current frame slot, acquire an
// image, record the clear pass into it, submit and present. Out-of-date and
// suboptimal swapchains are rebuilt at width x height and are not errors.
// A zero width or height skips the tick.
//
// A done ctx ends the tick before any GPU work, and every wait gives up when
// ctx is done. Any other error is fatal.
func (rc *RenderContext) DrawFrame(ctx context.Context, width, height int) error {
	if !rc.connected {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "draw frame")
	}

	extent := gpu.Extent{Width: width, Height: height}
	if extent.Empty() {
		rc.stats.SkippedTicks++
		return nil
	}

	start := hrtime.Now()

	if rc.resizePending {
		rc.resizePending = false
		if !rc.resizeExtent.Empty() {
			err := rc.recreate(rc.resizeExtent, "resize")
			if err != nil {
				return rc.fatal(err)
			}
		}
	}

	if rc.current == nil {
		err := rc.recreate(extent, "no swapchain")
		if err != nil {
			return rc.fatal(err)
		}
	}

	err := rc.sync.WaitSlot(ctx)
	if err != nil {
		return rc.fatal(errors.Wrapf(err, "wait for frame slot %d", rc.sync.CurrentSlot()))
	}
	slot := rc.sync.Slot()

	imageIdx, res, err := rc.acquire(ctx, slot)
	if err != nil {
		return rc.fatal(err)
	}
	if res.NeedsRecreate() {
		rc.stats.SkippedTicks++
		return rc.fatal(rc.recreate(extent, "acquire "+res.String()))
	}

	handle, err := rc.current.HandleFor(imageIdx)
	if err != nil {
		return rc.fatal(err)
	}
	resource, err := rc.sync.Claim(ctx, handle)
	if err != nil {
		return rc.fatal(err)
	}

	// From here until the submit goes through, the slot fence is reset and
	// nothing will signal it.
	err = rc.record(resource, slot)
	if err != nil {
		return rc.abandon(err)
	}

	res, err = rc.device.Queue.Submit(slot.Fence, gpu.SubmitInfo{
		WaitSemaphore:   slot.AcquireSemaphore,
		CommandBuffer:   resource.CommandBuffer,
		SignalSemaphore: slot.ReleaseSemaphore,
	})
	if err != nil {
		return rc.abandon(errors.Wrap(err, "submit"))
	}
	if err = gpu.CheckResult(res, "submit"); err != nil {
		return rc.abandon(err)
	}

	res, err = rc.device.Queue.Present(gpu.PresentInfo{
		WaitSemaphore: slot.ReleaseSemaphore,
		Swapchain:     rc.current.Handle,
		ImageIndex:    imageIdx,
	})
	if err != nil {
		return rc.fatal(errors.Wrap(err, "present"))
	}

	rc.stats.Frames++
	rc.stats.LastFrame = hrtime.Since(start)

	if res.NeedsRecreate() {
		// The new generation starts again at slot 0.
		return rc.fatal(rc.recreate(extent, "present "+res.String()))
	}
	if err = gpu.CheckResult(res, "present"); err != nil {
		return rc.fatal(err)
	}

	rc.sync.Advance()
	rc.stats.Slot = rc.sync.CurrentSlot()
	return nil
}

// acquire polls AcquireNextImage in timeout-sized steps until it hands out an
// image, asks for recreation, or fails.
func (rc *RenderContext) acquire(ctx context.Context, slot *swapchain.FrameSlot) (int, gpu.Result, error) {
	for {
		imageIdx, res, err := rc.current.Handle.AcquireNextImage(rc.sync.Timeout(), slot.AcquireSemaphore)
		if err != nil {
			return 0, res, errors.Wrap(err, "acquire next image")
		}

		if !res.Pending() {
			return imageIdx, res, gpu.CheckResult(res, "acquire next image")
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, res, errors.Wrap(ctxErr, "acquire next image")
		}
	}
}

func (rc *RenderContext) record(resource *swapchain.ImageResource, slot *swapchain.FrameSlot) error {
	buffer := resource.CommandBuffer

	err := buffer.Reset()
	if err != nil {
		return errors.Wrapf(err, "reset command buffer of image %d", resource.Handle.Index)
	}

	err = buffer.Begin(true)
	if err != nil {
		return errors.Wrapf(err, "begin command buffer of image %d", resource.Handle.Index)
	}

	err = buffer.BeginRenderPass(gpu.RenderPassBeginInfo{
		RenderPass:  rc.current.RenderPass,
		Framebuffer: resource.Framebuffer,
		RenderArea:  rc.current.Extent,
		ClearColor:  gpu.ClearColor(rc.config.clearColor),
	})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}

	if rc.config.recordHook != nil {
		err = rc.config.recordHook(buffer, FrameInfo{
			Slot:       slot.Index,
			ImageIndex: resource.Handle.Index,
			Generation: rc.current.Generation,
			Extent:     rc.current.Extent,
			ClearColor: rc.config.clearColor,
		})
		if err != nil {
			return errors.Wrap(err, "record hook")
		}
	}

	buffer.EndRenderPass()

	err = buffer.End()
	if err != nil {
		return errors.Wrapf(err, "end command buffer of image %d", resource.Handle.Index)
	}
	return nil
}

// recreate waits for the device to go idle, destroys the current generation
// in full and builds the next one at extent.
func (rc *RenderContext) recreate(extent gpu.Extent, reason string) error {
	err := rc.device.WaitIdle()
	if err != nil {
		return err
	}

	rc.current = nil
	next, err := rc.swapchains.Recreate(extent)
	if err != nil {
		return err
	}

	err = rc.sync.Bind(next)
	if err != nil {
		rc.swapchains.Destroy()
		return err
	}

	rc.current = next
	rc.stats.Recreations++
	rc.stats.Generation = next.Generation
	rc.stats.Slot = rc.sync.CurrentSlot()

	rc.logger.Debug("swapchain recreated",
		"reason", reason,
		"generation", next.Generation,
		"extent", next.Extent.String())
	return nil
}

// abandon reports err and drops the current generation, whose slot fence was
// reset without a submit to signal it. WaitForIdle then skips it and the next
// DrawFrame builds a fresh generation.
func (rc *RenderContext) abandon(err error) error {
	err = rc.fatal(err)
	rc.current = nil
	return err
}

// fatal attaches device, queue, extent and generation details to err and
// logs it. Cancellation is passed through untouched.
func (rc *RenderContext) fatal(err error) error {
	if !gpu.IsFatal(err) {
		return err
	}

	err = errors.WithDetailf(err, "device: %s", rc.device.Physical.Name())
	err = errors.WithDetailf(err, "queue family: %d", rc.device.QueueFamily)
	attrs := []any{
		"err", err,
		"device", rc.device.Physical.Name(),
		"queueFamily", rc.device.QueueFamily,
		"generation", rc.swapchains.Generation(),
	}
	if rc.current != nil {
		err = errors.WithDetailf(err, "extent: %s", rc.current.Extent)
		attrs = append(attrs, "extent", rc.current.Extent.String())
	}
	err = errors.WithDetailf(err, "generation: %d", rc.swapchains.Generation())

	rc.logger.Error("presentation failed", attrs...)
	return err
}

// WaitForIdle blocks until every submitted frame has finished on the GPU.
// Call it before destroying anything the device may still be using.
func (rc *RenderContext) WaitForIdle(ctx context.Context) error {
	if !rc.connected {
		return ErrNotConnected
	}

	if rc.current != nil {
		for slotIdx := 0; slotIdx < rc.current.SlotCount(); slotIdx++ {
			err := rc.sync.Wait(ctx, rc.current.Slot(slotIdx).Fence)
			if err != nil {
				return errors.Wrapf(err, "wait for frame slot %d", slotIdx)
			}
		}
	}

	return rc.device.WaitIdle()
}

// Disconnect waits for the device to go idle and tears everything down in
// reverse order of creation: the swapchain generation, the command pool and
// device, then the surface binding. The context may be connected again
// afterwards.
func (rc *RenderContext) Disconnect() error {
	if !rc.connected {
		return ErrNotConnected
	}

	waitErr := rc.device.WaitIdle()

	name := rc.device.Physical.Name()
	rc.swapchains.Destroy()
	rc.current = nil
	rc.device.Destroy()
	rc.surface.Release()
	rc.connected = false

	rc.logger.Info("render context disconnected", "device", name)
	if waitErr != nil {
		return errors.Wrap(waitErr, "disconnect")
	}
	return nil
}

// Stats returns the counters collected since Connect.
func (rc *RenderContext) Stats() FrameStats {
	return rc.stats
}

// Extent returns the extent of the current swapchain generation.
func (rc *RenderContext) Extent() gpu.Extent {
	if rc.current == nil {
		return gpu.Extent{}
	}
	return rc.current.Extent
}
