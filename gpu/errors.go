package gpu

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrNoSuitableDevice = errors.New("failed to find a suitable GPU")
	ErrNoQueueFamily    = errors.New("no queue family supports both graphics and presentation")
	ErrDeviceLost       = errors.New("device lost")
	ErrStaleHandle      = errors.New("image handle belongs to a destroyed swapchain generation")
	ErrAlreadyConnected = errors.New("render context is already connected")
	ErrNotConnected     = errors.New("render context is not connected")
	ErrMissingExtension = errors.New("missing required extension")
)

type ObjectKind string

const (
	KindInstance       ObjectKind = "instance"
	KindDebugMessenger ObjectKind = "debug messenger"
	KindSurface        ObjectKind = "surface"
	KindDevice         ObjectKind = "device"
	KindCommandPool    ObjectKind = "command pool"
	KindCommandBuffer  ObjectKind = "command buffer"
	KindSwapchain      ObjectKind = "swapchain"
	KindRenderPass     ObjectKind = "render pass"
	KindImageView      ObjectKind = "image view"
	KindFramebuffer    ObjectKind = "framebuffer"
	KindSemaphore      ObjectKind = "semaphore"
	KindFence          ObjectKind = "fence"
)

// Foundational kinds cannot be retried with a different choice; failing to
// create one ends the session.
func (k ObjectKind) Foundational() bool {
	switch k {
	case KindInstance, KindSurface, KindDevice, KindSwapchain:
		return true
	}
	return false
}

// ResourceCreationFailed reports a GPU object that could not be created.
type ResourceCreationFailed struct {
	Kind ObjectKind
	Err  error
}

func (e *ResourceCreationFailed) Error() string {
	return fmt.Sprintf("failed to create %s: %v", e.Kind, e.Err)
}

func (e *ResourceCreationFailed) Unwrap() error { return e.Err }

// CreationFailed wraps err as a ResourceCreationFailed for kind, keeping the
// stack of the caller. Device loss stays recognisable through errors.Is.
func CreationFailed(kind ObjectKind, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStackDepth(&ResourceCreationFailed{Kind: kind, Err: err}, 1)
}

// CreationKind returns the object kind of the first ResourceCreationFailed in
// err's chain.
func CreationKind(err error) (ObjectKind, bool) {
	var failed *ResourceCreationFailed
	if errors.As(err, &failed) {
		return failed.Kind, true
	}
	return "", false
}

// CheckResult converts a Result that is neither success nor a recoverable
// presentation signal into an error.
func CheckResult(res Result, op string) error {
	switch {
	case res == Success, res.NeedsRecreate(), res.Pending():
		return nil
	case res == DeviceLost:
		return errors.Wrapf(ErrDeviceLost, "%s", op)
	default:
		return errors.Newf("%s: unexpected result %s", op, res)
	}
}

// IsFatal reports whether err must end the session. Only cancellation of a
// bounded wait is recoverable by the caller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
