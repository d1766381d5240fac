package vkbackend

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/extensions/khr_surface"

	"github.com/vkngwrapper/presentation/gpu"
)

type Surface struct {
	handle khr_surface.Surface
}

func physicalHandle(device gpu.PhysicalDevice) (*PhysicalDevice, error) {
	physical, ok := device.(*PhysicalDevice)
	if !ok {
		return nil, errors.Newf("physical device %T does not belong to the vulkan backend", device)
	}
	return physical, nil
}

func (s *Surface) SupportsPresent(device gpu.PhysicalDevice, queueFamily int) (bool, error) {
	physical, err := physicalHandle(device)
	if err != nil {
		return false, err
	}

	supported, _, err := s.handle.PhysicalDeviceSurfaceSupport(physical.handle, queueFamily)
	return supported, err
}

func (s *Surface) Capabilities(device gpu.PhysicalDevice) (gpu.SurfaceCapabilities, error) {
	physical, err := physicalHandle(device)
	if err != nil {
		return gpu.SurfaceCapabilities{}, err
	}

	caps, _, err := s.handle.PhysicalDeviceSurfaceCapabilities(physical.handle)
	if err != nil {
		return gpu.SurfaceCapabilities{}, err
	}
	return toCapabilities(caps), nil
}

func (s *Surface) Formats(device gpu.PhysicalDevice) ([]gpu.SurfaceFormat, error) {
	physical, err := physicalHandle(device)
	if err != nil {
		return nil, err
	}

	formats, _, err := s.handle.PhysicalDeviceSurfaceFormats(physical.handle)
	if err != nil {
		return nil, err
	}

	result := make([]gpu.SurfaceFormat, 0, len(formats))
	for _, format := range formats {
		result = append(result, gpu.SurfaceFormat{
			Format:     toFormat(format.Format),
			ColorSpace: toColorSpace(format.ColorSpace),
		})
	}
	return result, nil
}

func (s *Surface) PresentModes(device gpu.PhysicalDevice) ([]gpu.PresentMode, error) {
	physical, err := physicalHandle(device)
	if err != nil {
		return nil, err
	}

	modes, _, err := s.handle.PhysicalDeviceSurfacePresentModes(physical.handle)
	if err != nil {
		return nil, err
	}

	result := make([]gpu.PresentMode, 0, len(modes))
	for _, mode := range modes {
		result = append(result, toPresentMode(mode))
	}
	return result, nil
}

func (s *Surface) Destroy() {
	if s.handle != nil {
		s.handle.Destroy(nil)
		s.handle = nil
	}
}
