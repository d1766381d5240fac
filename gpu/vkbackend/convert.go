package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/vkngwrapper/presentation/gpu"
)

// Driver values with no named gpu constant are carried above this offset so
// they survive a round trip.
const passthroughBase = 1 << 20

// toResult folds a Vulkan result into a gpu.Result. Results the presentation
// loop handles itself come back without an error.
func toResult(res common.VkResult, err error) (gpu.Result, error) {
	switch res {
	case core1_0.VKSuccess:
		return gpu.Success, nil
	case core1_0.VKTimeout:
		return gpu.Timeout, nil
	case core1_0.VKNotReady:
		return gpu.NotReady, nil
	case khr_swapchain.VKSuboptimal:
		return gpu.Suboptimal, nil
	case khr_swapchain.VKErrorOutOfDate:
		return gpu.OutOfDate, nil
	case core1_0.VKErrorDeviceLost:
		return gpu.DeviceLost, nil
	}

	if err != nil {
		return gpu.Failure, err
	}
	return gpu.Failure, errors.Newf("unexpected result %s", res)
}

// creationError keeps device loss visible to the caller when object creation
// fails because of it.
func creationError(res common.VkResult, err error) error {
	if res == core1_0.VKErrorDeviceLost {
		return errors.Mark(err, gpu.ErrDeviceLost)
	}
	return err
}

func toDeviceType(t core1_0.PhysicalDeviceType) gpu.DeviceType {
	switch t {
	case core1_0.PhysicalDeviceTypeDiscreteGPU:
		return gpu.DeviceTypeDiscrete
	case core1_0.PhysicalDeviceTypeIntegratedGPU:
		return gpu.DeviceTypeIntegrated
	case core1_0.PhysicalDeviceTypeVirtualGPU:
		return gpu.DeviceTypeVirtual
	case core1_0.PhysicalDeviceTypeCPU:
		return gpu.DeviceTypeCPU
	}
	return gpu.DeviceTypeOther
}

func toFormat(f core1_0.Format) gpu.Format {
	switch f {
	case core1_0.FormatUndefined:
		return gpu.FormatUndefined
	case core1_0.FormatB8G8R8A8UnsignedNormalized:
		return gpu.FormatB8G8R8A8UNorm
	case core1_0.FormatB8G8R8A8SRGB:
		return gpu.FormatB8G8R8A8SRGB
	case core1_0.FormatR8G8B8A8UnsignedNormalized:
		return gpu.FormatR8G8B8A8UNorm
	case core1_0.FormatR8G8B8A8SRGB:
		return gpu.FormatR8G8B8A8SRGB
	}
	return gpu.Format(passthroughBase + int(f))
}

func fromFormat(f gpu.Format) core1_0.Format {
	switch f {
	case gpu.FormatB8G8R8A8UNorm:
		return core1_0.FormatB8G8R8A8UnsignedNormalized
	case gpu.FormatB8G8R8A8SRGB:
		return core1_0.FormatB8G8R8A8SRGB
	case gpu.FormatR8G8B8A8UNorm:
		return core1_0.FormatR8G8B8A8UnsignedNormalized
	case gpu.FormatR8G8B8A8SRGB:
		return core1_0.FormatR8G8B8A8SRGB
	}
	if f >= passthroughBase {
		return core1_0.Format(int(f) - passthroughBase)
	}
	return core1_0.FormatUndefined
}

func toColorSpace(c khr_surface.ColorSpace) gpu.ColorSpace {
	if c == khr_surface.ColorSpaceSRGBNonlinear {
		return gpu.ColorSpaceSRGBNonlinear
	}
	return gpu.ColorSpace(passthroughBase + int(c))
}

func fromColorSpace(c gpu.ColorSpace) khr_surface.ColorSpace {
	if c >= passthroughBase {
		return khr_surface.ColorSpace(int(c) - passthroughBase)
	}
	return khr_surface.ColorSpaceSRGBNonlinear
}

func toPresentMode(m khr_surface.PresentMode) gpu.PresentMode {
	switch m {
	case khr_surface.PresentModeImmediate:
		return gpu.PresentModeImmediate
	case khr_surface.PresentModeMailbox:
		return gpu.PresentModeMailbox
	case khr_surface.PresentModeFIFO:
		return gpu.PresentModeFIFO
	case khr_surface.PresentModeFIFORelaxed:
		return gpu.PresentModeFIFORelaxed
	}
	return gpu.PresentMode(passthroughBase + int(m))
}

func fromPresentMode(m gpu.PresentMode) khr_surface.PresentMode {
	switch m {
	case gpu.PresentModeImmediate:
		return khr_surface.PresentModeImmediate
	case gpu.PresentModeMailbox:
		return khr_surface.PresentModeMailbox
	case gpu.PresentModeFIFORelaxed:
		return khr_surface.PresentModeFIFORelaxed
	}
	if m >= passthroughBase {
		return khr_surface.PresentMode(int(m) - passthroughBase)
	}
	return khr_surface.PresentModeFIFO
}

func toExtent(e core1_0.Extent2D) gpu.Extent {
	return gpu.Extent{Width: e.Width, Height: e.Height}
}

func fromExtent(e gpu.Extent) core1_0.Extent2D {
	return core1_0.Extent2D{Width: e.Width, Height: e.Height}
}

func toCapabilities(caps *khr_surface.SurfaceCapabilities) gpu.SurfaceCapabilities {
	return gpu.SurfaceCapabilities{
		MinImageCount:    caps.MinImageCount,
		MaxImageCount:    caps.MaxImageCount,
		CurrentExtent:    toExtent(caps.CurrentExtent),
		MinImageExtent:   toExtent(caps.MinImageExtent),
		MaxImageExtent:   toExtent(caps.MaxImageExtent),
		CurrentTransform: uint32(caps.CurrentTransform),
	}
}
