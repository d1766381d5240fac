package frame

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/presentation/internal/device"
	"github.com/vkngwrapper/presentation/gpu"
	"github.com/vkngwrapper/presentation/gpu/gputest"
	"github.com/vkngwrapper/presentation/internal/surface"
	"github.com/vkngwrapper/presentation/internal/swapchain"
)

type harness struct {
	backend   *gputest.Backend
	deviceCtx *device.Context
	manager   *swapchain.Manager
	swapchain *swapchain.Swapchain
	sync      *Synchronizer
}

func newHarness(t *testing.T, slots int) *harness {
	t.Helper()

	backend := gputest.New()
	deviceCtx, err := device.Select(backend.Instance(), backend.Surface(), device.Options{})
	require.NoError(t, err)

	manager := swapchain.NewManager(deviceCtx, surface.Bind(backend.Surface(), deviceCtx.Physical), swapchain.Config{
		FrameSlots:      slots,
		PreferredFormat: gpu.FormatB8G8R8A8UNorm,
		PresentMode:     gpu.PresentModeFIFO,
	})
	sc, err := manager.Create(gpu.Extent{Width: 800, Height: 600})
	require.NoError(t, err)

	sync := NewSynchronizer(deviceCtx.Device, slots, 0)
	require.NoError(t, sync.Bind(sc))

	return &harness{backend: backend, deviceCtx: deviceCtx, manager: manager, swapchain: sc, sync: sync}
}

// tick runs one full acquire, claim, submit, present cycle and returns the
// slot and image it used.
func (h *harness) tick(t *testing.T, ctx context.Context) (int, int) {
	t.Helper()

	require.NoError(t, h.sync.WaitSlot(ctx))
	slot := h.sync.Slot()

	imageIdx, res, err := h.swapchain.Handle.AcquireNextImage(h.sync.Timeout(), slot.AcquireSemaphore)
	require.NoError(t, err)
	require.Equal(t, gpu.Success, res)

	handle, err := h.swapchain.HandleFor(imageIdx)
	require.NoError(t, err)
	resource, err := h.sync.Claim(ctx, handle)
	require.NoError(t, err)

	require.NoError(t, resource.CommandBuffer.Reset())
	require.NoError(t, resource.CommandBuffer.Begin(true))
	require.NoError(t, resource.CommandBuffer.End())

	_, err = h.deviceCtx.Queue.Submit(slot.Fence, gpu.SubmitInfo{
		WaitSemaphore:   slot.AcquireSemaphore,
		CommandBuffer:   resource.CommandBuffer,
		SignalSemaphore: slot.ReleaseSemaphore,
	})
	require.NoError(t, err)

	_, err = h.deviceCtx.Queue.Present(gpu.PresentInfo{
		WaitSemaphore: slot.ReleaseSemaphore,
		Swapchain:     h.swapchain.Handle,
		ImageIndex:    imageIdx,
	})
	require.NoError(t, err)

	h.sync.Advance()
	return slot.Index, imageIdx
}

func (h *harness) lastUsed(t *testing.T, imageIdx int) gpu.Fence {
	t.Helper()

	handle, err := h.swapchain.HandleFor(imageIdx)
	require.NoError(t, err)
	resource, err := h.swapchain.Resource(handle)
	require.NoError(t, err)
	return resource.LastUsedFence
}

func TestSlotRotationWithMoreImagesThanSlots(t *testing.T) {
	h := newHarness(t, 2)
	require.Equal(t, 3, h.swapchain.ImageCount())
	ctx := context.Background()

	slot0 := h.swapchain.Slot(0).Fence
	slot1 := h.swapchain.Slot(1).Fence

	for imageIdx := 0; imageIdx < h.swapchain.ImageCount(); imageIdx++ {
		require.Nil(t, h.lastUsed(t, imageIdx))
	}

	var slots, images []int
	for i := 0; i < 5; i++ {
		slot, image := h.tick(t, ctx)
		slots = append(slots, slot)
		images = append(images, image)

		switch i {
		case 0:
			require.Equal(t, slot0, h.lastUsed(t, 0))
			require.Nil(t, h.lastUsed(t, 1))
		case 1:
			require.Equal(t, slot0, h.lastUsed(t, 0))
			require.Equal(t, slot1, h.lastUsed(t, 1))
		case 2:
			require.Equal(t, slot0, h.lastUsed(t, 2))
			require.Equal(t, slot0, h.lastUsed(t, 0), "image 0 was not acquired this tick")
		case 3:
			require.Equal(t, slot1, h.lastUsed(t, 0))
		case 4:
			require.Equal(t, slot0, h.lastUsed(t, 1))
		}
	}

	require.Equal(t, []int{0, 1, 0, 1, 0}, slots)
	require.Equal(t, []int{0, 1, 2, 0, 1}, images)
	require.Empty(t, h.backend.Violations())
}

func TestClaimWaitsForPreviousUserOfImage(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	h.backend.ScriptAcquire(
		gputest.AcquireStep{Index: 0, Result: gpu.Success},
		gputest.AcquireStep{Index: 0, Result: gpu.Success},
	)

	_, _ = h.tick(t, ctx)
	first := h.swapchain.Slot(0).Fence.(*gputest.Fence)
	require.True(t, first.Pending())
	require.Equal(t, 1, h.backend.Count(gputest.OpWaitFences))

	slot, image := h.tick(t, ctx)
	require.Equal(t, 1, slot)
	require.Equal(t, 0, image)

	// One wait for slot 1, one for the slot that last used image 0.
	require.Equal(t, 3, h.backend.Count(gputest.OpWaitFences))
	require.False(t, first.Pending())
	require.Equal(t, h.swapchain.Slot(1).Fence, h.lastUsed(t, 0))
	require.Empty(t, h.backend.Violations())
}

func TestWaitSlotHonoursCancellation(t *testing.T) {
	h := newHarness(t, 2)
	h.backend.HoldFences = true

	_, _ = h.tick(t, context.Background())
	_, _ = h.tick(t, context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.sync.WaitSlot(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.False(t, gpu.IsFatal(err))
	require.Equal(t, 0, h.sync.CurrentSlot())
}

func TestWaitSlotReportsDeviceLoss(t *testing.T) {
	h := newHarness(t, 2)
	h.backend.LoseDevice()

	err := h.sync.WaitSlot(context.Background())
	require.True(t, errors.Is(err, gpu.ErrDeviceLost))
	require.True(t, gpu.IsFatal(err))
}

func TestBindRestartsRotation(t *testing.T) {
	h := newHarness(t, 2)
	_, _ = h.tick(t, context.Background())
	require.Equal(t, 1, h.sync.CurrentSlot())

	require.NoError(t, h.deviceCtx.WaitIdle())
	next, err := h.manager.Recreate(gpu.Extent{Width: 640, Height: 480})
	require.NoError(t, err)

	require.NoError(t, h.sync.Bind(next))
	require.Equal(t, 0, h.sync.CurrentSlot())
	require.Same(t, next.Slot(0), h.sync.Slot())
	require.Empty(t, h.backend.Violations())
}

func TestBindRejectsSlotCountMismatch(t *testing.T) {
	h := newHarness(t, 2)

	sync := NewSynchronizer(h.deviceCtx.Device, 3, 0)
	require.ErrorContains(t, sync.Bind(h.swapchain), "frame slots")
}

func TestClaimRejectsStaleHandle(t *testing.T) {
	h := newHarness(t, 2)
	handle, err := h.swapchain.HandleFor(0)
	require.NoError(t, err)

	next, err := h.manager.Recreate(gpu.Extent{Width: 800, Height: 600})
	require.NoError(t, err)
	require.NoError(t, h.sync.Bind(next))

	_, err = h.sync.Claim(context.Background(), handle)
	require.True(t, errors.Is(err, gpu.ErrStaleHandle))
}
