package vulkan

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"github.com/lwestlund/vkrs/hal"
)

func TestNewError(t *testing.T) {
	tests := []struct {
		ret  vk.Result
		want error
	}{
		{vk.Success, nil},
		{vk.ErrorOutOfDate, hal.ErrOutOfDate},
		{vk.Suboptimal, hal.ErrSuboptimal},
		{vk.ErrorDeviceLost, hal.ErrDeviceLost},
		{vk.Timeout, hal.ErrTimeout},
		{vk.NotReady, hal.ErrTimeout},
		{vk.ErrorSurfaceLost, hal.ErrSurfaceLost},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, newError(tt.ret), "result %d", tt.ret)
	}

	err := newError(vk.ErrorOutOfHostMemory)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vulkan error")
	assert.False(t, errors.Is(err, hal.ErrDeviceLost))
}

func TestCheckErrRecoversPanics(t *testing.T) {
	f := func() (err error) {
		defer checkErr(&err)
		orPanic(newError(vk.ErrorDeviceLost))
		return nil
	}
	assert.Equal(t, hal.ErrDeviceLost, f())
}

func TestCheckExisting(t *testing.T) {
	have, missing := checkExisting(
		[]string{"VK_KHR_surface", "VK_KHR_xcb_surface"},
		[]string{"VK_KHR_surface", "VK_EXT_debug_report"},
	)
	assert.Equal(t, []string{"VK_KHR_surface"}, have)
	assert.Equal(t, []string{"VK_EXT_debug_report"}, missing)
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, []string{"a\x00", "b\x00"}, safeStrings([]string{"a", "b\x00"}))
	assert.Equal(t, "\x00", safeString(""))
}

func TestQueueCaps(t *testing.T) {
	caps := queueCaps(vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueTransferBit))
	assert.True(t, caps.Has(hal.QueueGraphics|hal.QueueTransfer))
	assert.False(t, caps.Has(hal.QueueCompute))
	assert.Equal(t, hal.AdapterDiscrete, adapterType(vk.PhysicalDeviceTypeDiscreteGpu))
	assert.Equal(t, hal.AdapterOther, adapterType(vk.PhysicalDeviceTypeOther))
}

// TestAdapters runs against the installed driver and is skipped when no
// Vulkan loader is available.
func TestAdapters(t *testing.T) {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		t.Skipf("no vulkan loader: %v", err)
	}
	if err := vk.Init(); err != nil {
		t.Skipf("vulkan init: %v", err)
	}
	inst, err := NewInstance(InstanceConfig{AppName: "vkrs-test"})
	if err != nil {
		t.Skipf("no vulkan instance: %v", err)
	}
	defer inst.Destroy()

	adapters, err := inst.Adapters(nil)
	require.NoError(t, err)
	for i, a := range adapters {
		assert.Equal(t, i, a.Index)
		assert.NotEmpty(t, a.Name)
		assert.Empty(t, a.SurfaceFormats)
		for _, fam := range a.QueueFamilies {
			assert.False(t, fam.Caps.Has(hal.QueuePresent), "nothing presents without a surface")
		}
	}
	_, err = inst.OpenDevice(len(adapters), hal.DeviceDescriptor{})
	assert.Error(t, err)
}

func TestSelectExtensions(t *testing.T) {
	actual := []string{"VK_KHR_surface", "VK_KHR_xcb_surface", debugReportExtension}

	enabled, missing, debug := selectExtensions(actual, []string{"VK_KHR_surface"}, true)
	assert.Equal(t, []string{"VK_KHR_surface", debugReportExtension}, enabled)
	assert.Empty(t, missing)
	assert.True(t, debug)

	required := []string{"VK_KHR_surface"}
	enabled, missing, debug = selectExtensions(actual[:2], required, true)
	assert.Equal(t, []string{"VK_KHR_surface"}, enabled, "unavailable debug report is skipped")
	assert.Equal(t, []string{debugReportExtension}, missing)
	assert.False(t, debug)
	assert.Equal(t, []string{"VK_KHR_surface"}, required, "caller slice untouched")

	_, _, debug = selectExtensions(actual, nil, false)
	assert.False(t, debug)
}

func TestWithPresent(t *testing.T) {
	caps, err := withPresent(hal.QueueGraphics, vk.True, vk.Success)
	require.NoError(t, err)
	assert.True(t, caps.Has(hal.QueueGraphics|hal.QueuePresent))

	caps, err = withPresent(hal.QueueGraphics, vk.False, vk.Success)
	require.NoError(t, err)
	assert.False(t, caps.Has(hal.QueuePresent))

	_, err = withPresent(hal.QueueGraphics, vk.True, vk.ErrorSurfaceLost)
	assert.Equal(t, hal.ErrSurfaceLost, err)
}
