package vkbackend

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/vkngwrapper/presentation/gpu"
)

func TestToResult(t *testing.T) {
	driverErr := errors.New("driver error")

	testCases := []struct {
		name     string
		res      common.VkResult
		err      error
		expected gpu.Result
		wantErr  bool
	}{
		{name: "success", res: core1_0.VKSuccess, expected: gpu.Success},
		{name: "timeout", res: core1_0.VKTimeout, expected: gpu.Timeout},
		{name: "not ready", res: core1_0.VKNotReady, expected: gpu.NotReady},
		{name: "suboptimal", res: khr_swapchain.VKSuboptimal, expected: gpu.Suboptimal},
		{name: "out of date reported as error", res: khr_swapchain.VKErrorOutOfDate, err: driverErr, expected: gpu.OutOfDate},
		{name: "device lost reported as error", res: core1_0.VKErrorDeviceLost, err: driverErr, expected: gpu.DeviceLost},
		{name: "out of memory", res: core1_0.VKErrorOutOfDeviceMemory, err: driverErr, expected: gpu.Failure, wantErr: true},
		{name: "unknown without error", res: core1_0.VKErrorUnknown, expected: gpu.Failure, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := toResult(tc.res, tc.err)
			require.Equal(t, tc.expected, result)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCreationErrorKeepsDeviceLoss(t *testing.T) {
	err := creationError(core1_0.VKErrorDeviceLost, errors.New("vkCreateFence failed"))
	require.True(t, errors.Is(err, gpu.ErrDeviceLost))

	err = creationError(core1_0.VKErrorOutOfDeviceMemory, errors.New("vkCreateFence failed"))
	require.False(t, errors.Is(err, gpu.ErrDeviceLost))
}

func TestUnknownValuesPassThrough(t *testing.T) {
	require.Equal(t, gpu.FormatB8G8R8A8UNorm, toFormat(core1_0.FormatB8G8R8A8UnsignedNormalized))
	require.Equal(t, core1_0.FormatR8G8B8A8SRGB, fromFormat(toFormat(core1_0.FormatR8G8B8A8SRGB)))

	depth := toFormat(core1_0.FormatD32SignedFloat)
	require.GreaterOrEqual(t, int(depth), passthroughBase)
	require.Equal(t, core1_0.FormatD32SignedFloat, fromFormat(depth))

	require.Equal(t, gpu.ColorSpaceSRGBNonlinear, toColorSpace(khr_surface.ColorSpaceSRGBNonlinear))
	require.Equal(t, khr_surface.PresentModeFIFO, fromPresentMode(gpu.PresentModeFIFO))
	require.Equal(t, gpu.PresentModeMailbox, toPresentMode(khr_surface.PresentModeMailbox))
}

func TestToDeviceType(t *testing.T) {
	require.Equal(t, gpu.DeviceTypeDiscrete, toDeviceType(core1_0.PhysicalDeviceTypeDiscreteGPU))
	require.Equal(t, gpu.DeviceTypeIntegrated, toDeviceType(core1_0.PhysicalDeviceTypeIntegratedGPU))
	require.Equal(t, gpu.DeviceTypeCPU, toDeviceType(core1_0.PhysicalDeviceTypeCPU))
	require.Equal(t, gpu.DeviceTypeOther, toDeviceType(core1_0.PhysicalDeviceTypeOther))
}
