// Package frame rotates the per-tick frame slots and keeps track of which
// slot last submitted work against each swapchain image.
package frame

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/presentation/gpu"
	"github.com/vkngwrapper/presentation/internal/swapchain"
)

// DefaultWaitTimeout bounds each individual fence or acquire wait. Waits are
// retried until they complete or the context is done.
const DefaultWaitTimeout = 100 * time.Millisecond

// Synchronizer walks the frame slots of the bound swapchain generation and
// guards each image against overlapping submissions.
type Synchronizer struct {
	device    gpu.Device
	slotCount int
	timeout   time.Duration

	current   int
	swapchain *swapchain.Swapchain
}

// NewSynchronizer returns a Synchronizer for slotCount frame slots. A
// slotCount below 1 is raised to 1, and a non-positive timeout becomes
// DefaultWaitTimeout.
func NewSynchronizer(device gpu.Device, slotCount int, timeout time.Duration) *Synchronizer {
	if slotCount < 1 {
		slotCount = 1
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	return &Synchronizer{
		device:    device,
		slotCount: slotCount,
		timeout:   timeout,
	}
}

// Bind points the rotation at a new swapchain generation and restarts it
// from slot 0. Slots from the previous generation are gone.
func (s *Synchronizer) Bind(sc *swapchain.Swapchain) error {
	if sc.SlotCount() != s.slotCount {
		return errors.Newf("swapchain generation %d has %d frame slots, want %d", sc.Generation, sc.SlotCount(), s.slotCount)
	}

	s.swapchain = sc
	s.current = 0
	return nil
}

func (s *Synchronizer) SlotCount() int { return s.slotCount }

func (s *Synchronizer) CurrentSlot() int { return s.current }

func (s *Synchronizer) Timeout() time.Duration { return s.timeout }

// Slot returns the frame slot for the current tick.
func (s *Synchronizer) Slot() *swapchain.FrameSlot {
	return s.swapchain.Slot(s.current)
}

// WaitSlot blocks until the GPU has finished the last submission made from
// the current slot, which bounds how far the CPU runs ahead.
func (s *Synchronizer) WaitSlot(ctx context.Context) error {
	return s.Wait(ctx, s.Slot().Fence)
}

// Claim hands the image behind handle to the current slot. If another
// submission still targets the image it waits for that one first. The slot
// fence is then reset, ready for this tick's submit.
func (s *Synchronizer) Claim(ctx context.Context, handle swapchain.ImageHandle) (*swapchain.ImageResource, error) {
	resource, err := s.swapchain.Resource(handle)
	if err != nil {
		return nil, err
	}

	if resource.LastUsedFence != nil {
		err = s.Wait(ctx, resource.LastUsedFence)
		if err != nil {
			return nil, errors.Wrapf(err, "wait for image %d", handle.Index)
		}
	}

	slot := s.Slot()
	resource.LastUsedFence = slot.Fence

	err = s.device.ResetFences(slot.Fence)
	if err != nil {
		return nil, errors.Wrapf(err, "reset fence of frame slot %d", slot.Index)
	}

	return resource, nil
}

// Advance moves to the next frame slot.
func (s *Synchronizer) Advance() {
	s.current = (s.current + 1) % s.slotCount
}

// Wait blocks on fence in timeout-sized steps until it signals, the device
// reports an error, or ctx is done.
func (s *Synchronizer) Wait(ctx context.Context, fence gpu.Fence) error {
	for {
		res, err := s.device.WaitForFences(s.timeout, fence)
		if err != nil {
			return errors.Wrap(err, "wait for fence")
		}

		if !res.Pending() {
			return gpu.CheckResult(res, "wait for fence")
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, "wait for fence")
		}
	}
}
