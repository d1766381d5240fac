package present

import (
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/presentation/gpu"
)

// RecordHook records draw commands into the render pass of one frame. It runs
// between begin and end of the clear pass. An error from the hook is fatal and
// discards the current swapchain generation; a later DrawFrame rebuilds it.
type RecordHook func(buffer gpu.CommandBuffer, frame FrameInfo) error

// Option configures a RenderContext.
type Option func(*config)

type config struct {
	frameSlots       int
	clearColor       mgl32.Vec4
	waitTimeout      time.Duration
	preferredFormat  gpu.Format
	presentMode      gpu.PresentMode
	requiredFeatures gpu.Features
	logger           *slog.Logger
	recordHook       RecordHook
}

func defaultConfig() config {
	return config{
		frameSlots:       2,
		clearColor:       mgl32.Vec4{1, 0, 1, 1},
		waitTimeout:      100 * time.Millisecond,
		preferredFormat:  gpu.FormatB8G8R8A8UNorm,
		presentMode:      gpu.PresentModeMailbox,
		requiredFeatures: gpu.Features{GeometryShader: true},
	}
}

// WithFrameSlots sets how many frames the CPU may record ahead of the GPU.
// The default is 2.
func WithFrameSlots(n int) Option {
	return func(c *config) {
		c.frameSlots = n
	}
}

// WithClearColor sets the RGBA color every frame is cleared to.
func WithClearColor(color mgl32.Vec4) Option {
	return func(c *config) {
		c.clearColor = color
	}
}

// WithWaitTimeout sets how long a single fence or acquire wait may block
// before the context passed to DrawFrame is checked again.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.waitTimeout = timeout
	}
}

// WithPreferredFormat sets the surface format to use when the surface offers
// it. Otherwise the first format the surface reports is used.
func WithPreferredFormat(format gpu.Format) Option {
	return func(c *config) {
		c.preferredFormat = format
	}
}

// WithPresentMode sets the requested present mode. FIFO is used when the
// surface does not offer it.
func WithPresentMode(mode gpu.PresentMode) Option {
	return func(c *config) {
		c.presentMode = mode
	}
}

// WithRequiredFeatures sets the device features a physical device must have
// to be considered.
func WithRequiredFeatures(features gpu.Features) Option {
	return func(c *config) {
		c.requiredFeatures = features
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithRecordHook(hook RecordHook) Option {
	return func(c *config) {
		c.recordHook = hook
	}
}
