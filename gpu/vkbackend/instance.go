// Package vkbackend implements the gpu object model over vkngwrapper. SDL2
// supplies the Vulkan loader, the instance extensions the window needs, and
// the window surface.
package vkbackend

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/ext_debug_utils"
	"github.com/vkngwrapper/extensions/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2"

	"github.com/vkngwrapper/presentation/gpu"
)

const ValidationLayer = "VK_LAYER_KHRONOS_validation"

type Option func(*config)

type config struct {
	applicationName string
	validation      bool
	logger          *slog.Logger
}

func WithApplicationName(name string) Option {
	return func(c *config) {
		c.applicationName = name
	}
}

// WithValidation turns on the Khronos validation layer and routes its
// messages to the logger. It is skipped with a warning when the layer is not
// installed.
func WithValidation(enabled bool) Option {
	return func(c *config) {
		c.validation = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Instance is a Vulkan instance created for one SDL window, together with
// the window's surface and, when validation is on, a debug messenger.
type Instance struct {
	handle    core1_0.Instance
	messenger ext_debug_utils.DebugUtilsMessenger
	surface   *Surface
	logger    *slog.Logger
}

// Open creates the instance and the surface for window. The window must have
// been created with sdl.WINDOW_VULKAN.
func Open(window *sdl.Window, opts ...Option) (*Instance, error) {
	cfg := config{applicationName: "Presentation"}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := gpu.LoggerOrNop(cfg.logger)

	loader, err := core.CreateLoaderFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "create vulkan loader")
	}

	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    cfg.applicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := loader.AvailableExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate instance extensions")
	}
	for name := range extensions {
		logger.Debug("instance extension", "name", name)
	}

	for _, ext := range window.VulkanGetInstanceExtensions() {
		_, hasExt := extensions[ext]
		if !hasExt {
			return nil, errors.WithDetailf(errors.Wrapf(gpu.ErrMissingExtension, "instance extension %s", ext),
				"the window system needs %s to create a surface", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	validation := false
	if cfg.validation {
		layers, _, err := loader.AvailableLayers()
		if err != nil {
			return nil, errors.Wrap(err, "enumerate instance layers")
		}
		for name := range layers {
			logger.Debug("instance layer", "name", name)
		}

		_, hasValidation := layers[ValidationLayer]
		_, hasDebugUtils := extensions[ext_debug_utils.ExtensionName]
		validation = hasValidation && hasDebugUtils
		if !validation {
			logger.Warn("validation requested but not available, install the LunarG Vulkan SDK",
				"layer", hasValidation, "debugUtils", hasDebugUtils)
		}
	}

	if validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, ValidationLayer)
		// Also covers messages from instance creation and destruction.
		instanceOptions.Next = debugMessengerOptions(logger)
	}

	handle, _, err := loader.CreateInstance(nil, instanceOptions)
	if err != nil {
		return nil, gpu.CreationFailed(gpu.KindInstance, err)
	}

	instance := &Instance{handle: handle, logger: logger}

	if validation {
		debugLoader := ext_debug_utils.CreateExtensionFromInstance(handle)
		instance.messenger, _, err = debugLoader.CreateDebugUtilsMessenger(handle, nil, debugMessengerOptions(logger))
		if err != nil {
			instance.Destroy()
			return nil, gpu.CreationFailed(gpu.KindDebugMessenger, err)
		}
	}

	surfaceLoader := khr_surface.CreateExtensionFromInstance(handle)
	surface, err := vkng_sdl2.CreateSurface(handle, surfaceLoader, window)
	if err != nil {
		instance.Destroy()
		return nil, gpu.CreationFailed(gpu.KindSurface, err)
	}
	instance.surface = &Surface{handle: surface}

	logger.Info("vulkan instance created",
		"application", cfg.applicationName,
		"extensions", instanceOptions.EnabledExtensionNames,
		"layers", instanceOptions.EnabledLayerNames)
	return instance, nil
}

// Surface returns the window surface. The caller destroys it after every
// swapchain is gone and before destroying the instance.
func (i *Instance) Surface() *Surface { return i.surface }

func (i *Instance) EnumeratePhysicalDevices() ([]gpu.PhysicalDevice, error) {
	handles, _, err := i.handle.EnumeratePhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}

	devices := make([]gpu.PhysicalDevice, 0, len(handles))
	for _, handle := range handles {
		device, err := newPhysicalDevice(handle, i.logger)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// Destroy destroys the debug messenger and the instance. The surface must
// already be destroyed.
func (i *Instance) Destroy() {
	if i.messenger != nil {
		i.messenger.Destroy(nil)
		i.messenger = nil
	}

	if i.handle != nil {
		i.handle.Destroy(nil)
		i.handle = nil
	}
}
