package present

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/presentation/gpu"
	"github.com/vkngwrapper/presentation/gpu/gputest"
)

func connect(t *testing.T, backend *gputest.Backend, opts ...Option) *RenderContext {
	t.Helper()

	rc, err := Connect(backend.Instance(), backend.Surface(), 800, 600, opts...)
	require.NoError(t, err)
	return rc
}

func indexOf(journal []string, op string) int {
	for i, entry := range journal {
		if entry == op {
			return i
		}
	}
	return -1
}

func TestRecreationSignalsAbortTicks(t *testing.T) {
	testCases := []struct {
		name    string
		acquire []gpu.Result
		present []gpu.Result
		ticks   int
		aborted int
		submits int
	}{
		{name: "out of date acquire", acquire: []gpu.Result{gpu.OutOfDate}, ticks: 2, aborted: 1, submits: 1},
		{name: "suboptimal acquire", acquire: []gpu.Result{gpu.Suboptimal}, ticks: 2, aborted: 1, submits: 1},
		{name: "three in a row", acquire: []gpu.Result{gpu.OutOfDate, gpu.Suboptimal, gpu.OutOfDate}, ticks: 4, aborted: 3, submits: 1},
		{name: "out of date present", present: []gpu.Result{gpu.OutOfDate}, ticks: 2, submits: 2},
		{name: "suboptimal present", present: []gpu.Result{gpu.Suboptimal, gpu.Success}, ticks: 3, submits: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend := gputest.New()
			rc := connect(t, backend)
			ctx := context.Background()

			for _, res := range tc.acquire {
				backend.ScriptAcquire(gputest.AcquireStep{Result: res})
			}
			backend.ScriptPresent(tc.present...)

			for tick := 0; tick < tc.ticks; tick++ {
				submits := backend.Count(gputest.OpSubmit)
				presents := backend.Count(gputest.OpPresent)

				require.NoError(t, rc.DrawFrame(ctx, 800, 600))

				if tick < tc.aborted {
					require.Equal(t, submits, backend.Count(gputest.OpSubmit), "tick %d submitted", tick)
					require.Equal(t, presents, backend.Count(gputest.OpPresent), "tick %d presented", tick)
				}
			}

			k := len(tc.acquire) + len(tc.present)
			for _, res := range tc.present {
				if !res.NeedsRecreate() {
					k--
				}
			}

			stats := rc.Stats()
			require.Equal(t, uint64(k), stats.Recreations)
			require.Equal(t, uint64(k+1), stats.Generation)
			require.Equal(t, k+1, backend.Count(gputest.OpCreateSwapchain))
			require.Equal(t, k, backend.Count(gputest.OpDestroySwapchain))
			require.Equal(t, k, backend.Count(gputest.OpWaitIdle))
			require.Equal(t, tc.submits, backend.Count(gputest.OpSubmit))
			require.Equal(t, uint64(tc.aborted), stats.SkippedTicks)
			require.Empty(t, backend.Violations())
		})
	}
}

func TestSlotWraparound(t *testing.T) {
	backend := gputest.New()

	var frames []FrameInfo
	rc := connect(t, backend, WithFrameSlots(2), WithRecordHook(func(buffer gpu.CommandBuffer, frame FrameInfo) error {
		frames = append(frames, frame)
		return nil
	}))
	require.Equal(t, 3, rc.current.ImageCount())
	ctx := context.Background()

	lastUsed := func() []gpu.Fence {
		fences := make([]gpu.Fence, rc.current.ImageCount())
		for imageIdx := range fences {
			handle, err := rc.current.HandleFor(imageIdx)
			require.NoError(t, err)
			resource, err := rc.current.Resource(handle)
			require.NoError(t, err)
			fences[imageIdx] = resource.LastUsedFence
		}
		return fences
	}

	before := lastUsed()
	for tick := 0; tick < 5; tick++ {
		require.NoError(t, rc.DrawFrame(ctx, 800, 600))

		frame := frames[len(frames)-1]
		after := lastUsed()
		for imageIdx := range after {
			if imageIdx == frame.ImageIndex {
				assert.Same(t, rc.current.Slot(frame.Slot).Fence.(*gputest.Fence), after[imageIdx].(*gputest.Fence), "tick %d", tick)
				continue
			}
			assert.Equal(t, before[imageIdx], after[imageIdx], "tick %d changed image %d", tick, imageIdx)
		}
		before = after
	}

	var slots, images []int
	for _, frame := range frames {
		slots = append(slots, frame.Slot)
		images = append(images, frame.ImageIndex)
		require.Equal(t, gpu.Extent{Width: 800, Height: 600}, frame.Extent)
	}
	require.Equal(t, []int{0, 1, 0, 1, 0}, slots)
	require.Equal(t, []int{0, 1, 2, 0, 1}, images)
	require.Zero(t, rc.Stats().Recreations)
	require.Equal(t, uint64(5), rc.Stats().Frames)
	require.Empty(t, backend.Violations())
}

func TestResizeRebuildsOnce(t *testing.T) {
	backend := gputest.New()
	rc := connect(t, backend)
	ctx := context.Background()

	require.NoError(t, rc.DrawFrame(ctx, 800, 600))
	require.NoError(t, rc.DrawFrame(ctx, 800, 600))
	require.Equal(t, gpu.Extent{Width: 800, Height: 600}, backend.RenderAreas[len(backend.RenderAreas)-1])

	backend.ClearJournal()
	rc.NotifyResize(1024, 768)
	require.NoError(t, rc.DrawFrame(ctx, 1024, 768))

	journal := backend.Journal()
	require.Equal(t, 1, backend.Count(gputest.OpWaitIdle))
	require.Equal(t, 1, backend.Count(gputest.OpDestroySwapchain))
	require.Equal(t, 1, backend.Count(gputest.OpCreateSwapchain))
	waitIdx := indexOf(journal, gputest.OpWaitIdle)
	destroyIdx := indexOf(journal, gputest.OpDestroySwapchain)
	createIdx := indexOf(journal, gputest.OpCreateSwapchain)
	require.Less(t, waitIdx, destroyIdx)
	require.Less(t, destroyIdx, createIdx)
	require.Less(t, createIdx, indexOf(journal, gputest.OpSubmit))

	resized := gpu.Extent{Width: 1024, Height: 768}
	require.Equal(t, resized, backend.LastSwapchain().Extent)
	require.Equal(t, []gpu.Extent{resized}, backend.RenderAreas)
	framebuffers := backend.Framebuffers[len(backend.Framebuffers)-rc.current.ImageCount():]
	for _, framebuffer := range framebuffers {
		require.Equal(t, resized, framebuffer.Extent)
	}
	require.Equal(t, resized, rc.Extent())

	require.NoError(t, rc.DrawFrame(ctx, 1024, 768))
	require.Equal(t, 1, backend.Count(gputest.OpCreateSwapchain))
	require.Equal(t, uint64(1), rc.Stats().Recreations)
	require.Empty(t, backend.Violations())
}

func TestZeroExtentSkipsTick(t *testing.T) {
	backend := gputest.New()
	rc := connect(t, backend)
	backend.ClearJournal()

	rc.NotifyResize(0, 0)
	require.NoError(t, rc.DrawFrame(context.Background(), 0, 600))
	require.NoError(t, rc.DrawFrame(context.Background(), 800, 0))

	require.Empty(t, backend.Journal())
	require.Equal(t, uint64(2), rc.Stats().SkippedTicks)
}

func TestDeviceLossIsFatal(t *testing.T) {
	backend := gputest.New()
	rc := connect(t, backend)
	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))

	backend.LoseDevice()
	err := rc.DrawFrame(context.Background(), 800, 600)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDeviceLost))
	require.True(t, IsFatal(err))

	details := errors.FlattenDetails(err)
	require.Contains(t, details, "device: Fake Discrete")
	require.Contains(t, details, "queue family: 0")
	require.Contains(t, details, "extent: 800x600")
	require.Contains(t, details, "generation: 1")
}

func TestCancelledWaitIsNotFatal(t *testing.T) {
	backend := gputest.New()
	rc := connect(t, backend, WithFrameSlots(2))
	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))
	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))

	// Slot 0 is still in flight and the GPU never finishes it.
	backend.HoldFences = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rc.DrawFrame(ctx, 800, 600)
	require.True(t, errors.Is(err, context.Canceled))
	require.False(t, IsFatal(err))

	err = rc.WaitForIdle(ctx)
	require.True(t, errors.Is(err, context.Canceled))

	backend.HoldFences = false
	require.NoError(t, rc.WaitForIdle(context.Background()))
	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))
	require.Empty(t, backend.Violations())
}

func TestRecordHookErrorIsFatal(t *testing.T) {
	backend := gputest.New()
	rc := connect(t, backend, WithRecordHook(func(gpu.CommandBuffer, FrameInfo) error {
		return errors.New("pipeline missing")
	}))

	err := rc.DrawFrame(context.Background(), 800, 600)
	require.ErrorContains(t, err, "pipeline missing")
	require.True(t, IsFatal(err))
	require.Zero(t, backend.Count(gputest.OpSubmit))
}

func TestClearColorReachesRenderPass(t *testing.T) {
	backend := gputest.New()
	color := mgl32.Vec4{0.1, 0.2, 0.3, 1}

	var seen mgl32.Vec4
	rc := connect(t, backend, WithClearColor(color), WithRecordHook(func(_ gpu.CommandBuffer, frame FrameInfo) error {
		seen = frame.ClearColor
		return nil
	}))
	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))
	require.Equal(t, color, seen)
}

func TestConnectLifecycle(t *testing.T) {
	backend := gputest.New()
	rc := connect(t, backend)
	require.True(t, rc.Connected())

	err := rc.Connect(backend.Instance(), backend.Surface(), 800, 600)
	require.True(t, errors.Is(err, ErrAlreadyConnected))

	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))
	require.NoError(t, rc.Disconnect())
	require.False(t, rc.Connected())

	for _, kind := range []gpu.ObjectKind{
		gpu.KindDevice, gpu.KindCommandPool, gpu.KindCommandBuffer, gpu.KindSwapchain,
		gpu.KindRenderPass, gpu.KindImageView, gpu.KindFramebuffer,
	} {
		require.Zero(t, backend.Live(kind), "%s left alive", kind)
	}
	require.Zero(t, backend.LiveSyncObjects())
	require.False(t, backend.Surface().Destroyed())
	require.Equal(t, 1, backend.Live(gpu.KindInstance))
	require.Empty(t, backend.Violations())

	require.True(t, errors.Is(rc.Disconnect(), ErrNotConnected))
	require.True(t, errors.Is(rc.DrawFrame(context.Background(), 800, 600), ErrNotConnected))
	require.True(t, errors.Is(rc.WaitForIdle(context.Background()), ErrNotConnected))

	require.NoError(t, rc.Connect(backend.Instance(), backend.Surface(), 640, 480))
	require.Equal(t, gpu.Extent{Width: 640, Height: 480}, rc.Extent())
	require.NoError(t, rc.Disconnect())
}

func TestConnectUsesSurfaceExtentWhenUnsized(t *testing.T) {
	backend := gputest.New()
	backend.Caps.CurrentExtent = gpu.Extent{Width: 1280, Height: 720}

	rc, err := Connect(backend.Instance(), backend.Surface(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, gpu.Extent{Width: 1280, Height: 720}, rc.Extent())
}

func TestConnectFailures(t *testing.T) {
	t.Run("no suitable device", func(t *testing.T) {
		backend := gputest.New()
		backend.Devices[0].DeviceFeatures = gpu.Features{}

		_, err := Connect(backend.Instance(), backend.Surface(), 800, 600)
		require.True(t, errors.Is(err, ErrNoSuitableDevice))
		require.True(t, IsFatal(err))
	})

	t.Run("no queue family", func(t *testing.T) {
		backend := gputest.New()
		backend.Devices[0].PresentFamilies = map[int]bool{}

		_, err := Connect(backend.Instance(), backend.Surface(), 800, 600)
		require.True(t, errors.Is(err, ErrNoQueueFamily))
	})

	t.Run("swapchain creation", func(t *testing.T) {
		backend := gputest.New()
		backend.FailNext(gpu.KindSwapchain, errors.New("surface lost"))

		_, err := Connect(backend.Instance(), backend.Surface(), 800, 600)
		var failed *ResourceCreationFailed
		require.True(t, errors.As(err, &failed))
		require.Equal(t, gpu.KindSwapchain, failed.Kind)
		require.Zero(t, backend.Live(gpu.KindDevice))
		require.Zero(t, backend.Live(gpu.KindCommandPool))
	})

	t.Run("invalid frame slots", func(t *testing.T) {
		backend := gputest.New()

		_, err := Connect(backend.Instance(), backend.Surface(), 800, 600, WithFrameSlots(0))
		require.ErrorContains(t, err, "frame slot")
		require.Zero(t, backend.Created(gpu.KindDevice))
	})
}

func TestSetLogger(t *testing.T) {
	original := Logger()
	t.Cleanup(func() { SetLogger(original) })

	SetLogger(nil)
	require.NotNil(t, Logger())
	require.False(t, Logger().Enabled(context.Background(), 0))
}

func TestCancelledContextSkipsGPUWork(t *testing.T) {
	backend := gputest.New()
	rc := connect(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for tick := 0; tick < 3; tick++ {
		err := rc.DrawFrame(ctx, 800, 600)
		require.True(t, errors.Is(err, context.Canceled), "tick %d: %v", tick, err)
		require.False(t, IsFatal(err))
	}

	assert.Zero(t, backend.Count(gputest.OpWaitFences))
	assert.Zero(t, backend.Count(gputest.OpAcquire))
	assert.Zero(t, backend.Count(gputest.OpSubmit))
	assert.Zero(t, backend.Count(gputest.OpPresent))
	assert.Zero(t, rc.Stats().Frames)

	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))
	require.Equal(t, 1, backend.Count(gputest.OpSubmit))
	require.Empty(t, backend.Violations())
}

func TestAcquirePollsUntilImageIsReady(t *testing.T) {
	backend := gputest.New()
	rc := connect(t, backend)

	backend.ScriptAcquire(
		gputest.AcquireStep{Result: gpu.Timeout},
		gputest.AcquireStep{Result: gpu.NotReady},
		gputest.AcquireStep{Index: 1, Result: gpu.Success},
	)

	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))
	require.Equal(t, 3, backend.Count(gputest.OpAcquire))
	require.Equal(t, 1, backend.Count(gputest.OpSubmit))
	require.Equal(t, []int{1}, backend.Presented)

	stats := rc.Stats()
	require.Zero(t, stats.Recreations)
	require.Zero(t, stats.SkippedTicks)
	require.Equal(t, uint64(1), stats.Frames)
	require.Empty(t, backend.Violations())
}

func TestCancelDuringAcquireIsNotFatal(t *testing.T) {
	backend := gputest.New()
	rc := connect(t, backend)

	backend.ScriptAcquire(
		gputest.AcquireStep{Result: gpu.Timeout},
		gputest.AcquireStep{Result: gpu.Timeout},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend.BeforeAcquire = cancel

	err := rc.DrawFrame(ctx, 800, 600)
	require.True(t, errors.Is(err, context.Canceled))
	require.False(t, IsFatal(err))
	require.Equal(t, 1, backend.Count(gputest.OpAcquire))
	require.Zero(t, backend.Count(gputest.OpSubmit))

	backend.BeforeAcquire = nil
	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))
	require.Equal(t, 3, backend.Count(gputest.OpAcquire))
	require.Equal(t, 1, backend.Count(gputest.OpSubmit))
	require.Zero(t, rc.Stats().Recreations)
	require.Empty(t, backend.Violations())
}

func TestRecordHookFailureDropsGeneration(t *testing.T) {
	backend := gputest.New()

	fail := true
	rc := connect(t, backend, WithRecordHook(func(gpu.CommandBuffer, FrameInfo) error {
		if fail {
			return errors.New("pipeline missing")
		}
		return nil
	}))

	err := rc.DrawFrame(context.Background(), 800, 600)
	require.True(t, IsFatal(err))
	fail = false

	// The slot fence was reset for a submit that never happened. Waiting
	// must not block on it.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rc.WaitForIdle(ctx))

	require.NoError(t, rc.DrawFrame(context.Background(), 800, 600))
	stats := rc.Stats()
	require.Equal(t, uint64(1), stats.Recreations)
	require.Equal(t, uint64(2), stats.Generation)
	require.Equal(t, 1, backend.Count(gputest.OpSubmit))
	require.Empty(t, backend.Violations())
}
