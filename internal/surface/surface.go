// Package surface binds the windowing side's presentation surface to the
// physical device chosen for rendering.
package surface

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/presentation/gpu"
)

// SupportDetails is everything swapchain creation needs to know about what
// the surface accepts.
type SupportDetails struct {
	Capabilities gpu.SurfaceCapabilities
	Formats      []gpu.SurfaceFormat
	PresentModes []gpu.PresentMode
}

// Binding is a read-only view of a surface for one physical device. It does
// not own the surface: Release only drops the reference, and the windowing
// side destroys the surface after every swapchain is gone and before the
// instance.
type Binding struct {
	surface gpu.Surface
	device  gpu.PhysicalDevice
}

func Bind(surface gpu.Surface, device gpu.PhysicalDevice) *Binding {
	return &Binding{surface: surface, device: device}
}

func (b *Binding) Surface() gpu.Surface { return b.surface }

func (b *Binding) Capabilities() (gpu.SurfaceCapabilities, error) {
	caps, err := b.surface.Capabilities(b.device)
	if err != nil {
		return gpu.SurfaceCapabilities{}, errors.Wrap(err, "query surface capabilities")
	}
	return caps, nil
}

func (b *Binding) Formats() ([]gpu.SurfaceFormat, error) {
	formats, err := b.surface.Formats(b.device)
	if err != nil {
		return nil, errors.Wrap(err, "query surface formats")
	}
	if len(formats) == 0 {
		return nil, errors.New("surface reports no formats")
	}
	return formats, nil
}

func (b *Binding) PresentModes() ([]gpu.PresentMode, error) {
	modes, err := b.surface.PresentModes(b.device)
	if err != nil {
		return nil, errors.Wrap(err, "query surface present modes")
	}
	return modes, nil
}

// Support queries capabilities, formats and present modes in one go.
func (b *Binding) Support() (SupportDetails, error) {
	var details SupportDetails
	var err error

	details.Capabilities, err = b.Capabilities()
	if err != nil {
		return details, err
	}

	details.Formats, err = b.Formats()
	if err != nil {
		return details, err
	}

	details.PresentModes, err = b.PresentModes()
	return details, err
}

// Release drops the reference to the surface without destroying it.
func (b *Binding) Release() {
	b.surface = nil
	b.device = nil
}

func (b *Binding) Released() bool { return b.surface == nil }
