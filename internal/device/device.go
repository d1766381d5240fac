// Package device picks the physical device that renders and presents, and
// owns the logical device, its single queue and the command pool for the
// lifetime of a render context.
package device

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/presentation/gpu"
)

// SwapchainExtension is the device extension every candidate must expose.
const SwapchainExtension = "VK_KHR_swapchain"

// Score ranks a device class. Zero means the class is never picked.
func Score(deviceType gpu.DeviceType) int {
	switch deviceType {
	case gpu.DeviceTypeDiscrete:
		return 5
	case gpu.DeviceTypeIntegrated:
		return 4
	case gpu.DeviceTypeVirtual:
		return 3
	case gpu.DeviceTypeCPU:
		return 2
	case gpu.DeviceTypeOther:
		return 1
	}
	return 0
}

type Options struct {
	RequiredFeatures gpu.Features
	Logger           *slog.Logger
}

// Context is the logical device together with the queue and command pool
// every other component borrows.
type Context struct {
	Physical    gpu.PhysicalDevice
	Device      gpu.Device
	Queue       gpu.Queue
	QueueFamily int
	CommandPool gpu.CommandPool
}

// Candidate is a physical device under consideration.
type Candidate struct {
	Device gpu.PhysicalDevice
	Score  int
}

// Rate scores a physical device, returning zero when it lacks a required
// feature or the swapchain extension.
func Rate(device gpu.PhysicalDevice, required gpu.Features) Candidate {
	candidate := Candidate{Device: device}
	if !device.Features().Satisfies(required) {
		return candidate
	}
	if !device.SupportsExtension(SwapchainExtension) {
		return candidate
	}
	candidate.Score = Score(device.Type())
	return candidate
}

// Pick returns the candidate with the strictly highest non-zero score. The
// first one found wins a tie, and enumeration order is up to the driver, so
// the choice between equally ranked devices may change from run to run.
func Pick(devices []gpu.PhysicalDevice, required gpu.Features, logger *slog.Logger) (gpu.PhysicalDevice, error) {
	var best Candidate
	for _, device := range devices {
		candidate := Rate(device, required)
		logger.Debug("physical device", "name", device.Name(), "type", device.Type(), "score", candidate.Score)
		if candidate.Score > best.Score {
			best = candidate
		}
	}

	if best.Device == nil {
		return nil, errors.WithDetailf(gpu.ErrNoSuitableDevice, "%d devices enumerated", len(devices))
	}
	return best.Device, nil
}

// FindQueueFamily returns the first queue family, in index order, that
// supports graphics work and can present to surface.
func FindQueueFamily(device gpu.PhysicalDevice, surface gpu.Surface) (int, error) {
	for familyIdx, family := range device.QueueFamilies() {
		if !family.Graphics {
			continue
		}

		supported, err := surface.SupportsPresent(device, familyIdx)
		if err != nil {
			return -1, errors.Wrapf(err, "query present support for queue family %d", familyIdx)
		}
		if supported {
			return familyIdx, nil
		}
	}

	return -1, errors.WithDetailf(gpu.ErrNoQueueFamily, "device %q", device.Name())
}

// Select chooses a physical device for surface and builds the logical device,
// queue and command pool on it.
func Select(instance gpu.Instance, surface gpu.Surface, options Options) (*Context, error) {
	logger := gpu.LoggerOrNop(options.Logger)

	devices, err := instance.EnumeratePhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}

	physical, err := Pick(devices, options.RequiredFeatures, logger)
	if err != nil {
		return nil, err
	}

	queueFamily, err := FindQueueFamily(physical, surface)
	if err != nil {
		return nil, err
	}

	device, err := physical.CreateDevice(queueFamily, options.RequiredFeatures)
	if err != nil {
		return nil, gpu.CreationFailed(gpu.KindDevice, err)
	}

	// Command buffers are re-recorded in place every tick, so the pool must
	// allow resetting them one at a time.
	pool, err := device.CreateCommandPool(queueFamily, true)
	if err != nil {
		device.Destroy()
		return nil, gpu.CreationFailed(gpu.KindCommandPool, err)
	}

	logger.Info("device selected", "name", physical.Name(), "type", physical.Type(), "queueFamily", queueFamily)

	return &Context{
		Physical:    physical,
		Device:      device,
		Queue:       device.Queue(queueFamily, 0),
		QueueFamily: queueFamily,
		CommandPool: pool,
	}, nil
}

// WaitIdle blocks until the device has finished all submitted work.
func (c *Context) WaitIdle() error {
	res, err := c.Device.WaitIdle()
	if err != nil {
		return errors.Wrap(err, "wait for device idle")
	}
	return gpu.CheckResult(res, "wait for device idle")
}

// Destroy releases the command pool and the logical device. The caller must
// have waited for idle and destroyed every swapchain generation first.
func (c *Context) Destroy() {
	if c.CommandPool != nil {
		c.CommandPool.Destroy()
		c.CommandPool = nil
	}

	if c.Device != nil {
		c.Device.Destroy()
		c.Device = nil
	}
}
