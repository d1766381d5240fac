package present

import "github.com/vkngwrapper/presentation/gpu"

var (
	ErrNoSuitableDevice = gpu.ErrNoSuitableDevice
	ErrNoQueueFamily    = gpu.ErrNoQueueFamily
	ErrDeviceLost       = gpu.ErrDeviceLost
	ErrStaleHandle      = gpu.ErrStaleHandle
	ErrAlreadyConnected = gpu.ErrAlreadyConnected
	ErrNotConnected     = gpu.ErrNotConnected
	ErrMissingExtension = gpu.ErrMissingExtension
)

// ResourceCreationFailed is returned when a GPU object cannot be created. Use
// errors.As to get the failing object kind.
type ResourceCreationFailed = gpu.ResourceCreationFailed

// IsFatal reports whether err ends the session. Every error from Connect and
// DrawFrame is fatal except the cancellation of a wait.
func IsFatal(err error) bool {
	return gpu.IsFatal(err)
}
