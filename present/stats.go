package present

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/presentation/gpu"
)

// FrameInfo describes the frame being recorded.
type FrameInfo struct {
	Slot       int
	ImageIndex int
	Generation uint64
	Extent     gpu.Extent
	ClearColor mgl32.Vec4
}

// FrameStats counts what DrawFrame has done since Connect.
type FrameStats struct {
	// Frames is the number of ticks that presented an image.
	Frames uint64
	// SkippedTicks counts ticks that did nothing: a zero extent, or a tick
	// abandoned because acquire asked for recreation.
	SkippedTicks uint64
	Recreations  uint64
	Generation   uint64
	// LastFrame is the CPU time spent in the last presenting tick, waits
	// included.
	LastFrame time.Duration
	Slot      int
}
