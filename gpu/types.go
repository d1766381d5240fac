// Package gpu defines the narrow slice of the Vulkan object model that the
// presentation subsystem drives. The vkbackend package implements it over
// vkngwrapper; gputest implements it as a counting fake.
package gpu

import "fmt"

// Result is the non-error outcome of a wait, acquire or present call.
type Result int

const (
	Success Result = iota
	Timeout
	NotReady
	Suboptimal
	OutOfDate
	DeviceLost
	Failure
)

var resultNames = map[Result]string{
	Success:    "Success",
	Timeout:    "Timeout",
	NotReady:   "NotReady",
	Suboptimal: "Suboptimal",
	OutOfDate:  "OutOfDate",
	DeviceLost: "DeviceLost",
	Failure:    "Failure",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// NeedsRecreate reports whether the presentation engine asked for a new
// swapchain. These are the only results recovered locally.
func (r Result) NeedsRecreate() bool {
	return r == Suboptimal || r == OutOfDate
}

// Pending reports whether a bounded wait ran out before completing.
func (r Result) Pending() bool {
	return r == Timeout || r == NotReady
}

type DeviceType int

const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegrated
	DeviceTypeDiscrete
	DeviceTypeVirtual
	DeviceTypeCPU
)

var deviceTypeNames = map[DeviceType]string{
	DeviceTypeOther:      "Other",
	DeviceTypeIntegrated: "Integrated GPU",
	DeviceTypeDiscrete:   "Discrete GPU",
	DeviceTypeVirtual:    "Virtual GPU",
	DeviceTypeCPU:        "CPU",
}

func (t DeviceType) String() string {
	if name, ok := deviceTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DeviceType(%d)", int(t))
}

// Format is a pixel format. Values outside the named set are passed through
// from the driver untouched.
type Format int

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8UNorm
	FormatB8G8R8A8SRGB
	FormatR8G8B8A8UNorm
	FormatR8G8B8A8SRGB
)

var formatNames = map[Format]string{
	FormatUndefined:     "Undefined",
	FormatB8G8R8A8UNorm: "B8G8R8A8 UNorm",
	FormatB8G8R8A8SRGB:  "B8G8R8A8 sRGB",
	FormatR8G8B8A8UNorm: "R8G8B8A8 UNorm",
	FormatR8G8B8A8SRGB:  "R8G8B8A8 sRGB",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

type ColorSpace int

const (
	ColorSpaceSRGBNonlinear ColorSpace = iota
)

type PresentMode int

const (
	PresentModeImmediate PresentMode = iota
	PresentModeMailbox
	PresentModeFIFO
	PresentModeFIFORelaxed
)

var presentModeNames = map[PresentMode]string{
	PresentModeImmediate:   "Immediate",
	PresentModeMailbox:     "Mailbox",
	PresentModeFIFO:        "FIFO",
	PresentModeFIFORelaxed: "FIFO Relaxed",
}

func (m PresentMode) String() string {
	if name, ok := presentModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PresentMode(%d)", int(m))
}

type Extent struct {
	Width  int
	Height int
}

func (e Extent) Empty() bool {
	return e.Width <= 0 || e.Height <= 0
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type SurfaceCapabilities struct {
	MinImageCount int
	// MaxImageCount of 0 means the surface sets no upper bound.
	MaxImageCount    int
	CurrentExtent    Extent
	MinImageExtent   Extent
	MaxImageExtent   Extent
	CurrentTransform uint32
}

type Features struct {
	GeometryShader bool
}

// Satisfies reports whether every feature requested in required is present.
func (f Features) Satisfies(required Features) bool {
	if required.GeometryShader && !f.GeometryShader {
		return false
	}
	return true
}

type QueueFamily struct {
	Graphics   bool
	QueueCount int
}

type ClearColor [4]float32
