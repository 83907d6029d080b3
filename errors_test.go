package vkrs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lwestlund/vkrs/hal"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"device lost", &DeviceLostError{Op: "submit", Err: hal.ErrDeviceLost}, true},
		{"wrapped device lost", errors.Wrap(&DeviceLostError{Op: "present", Err: hal.ErrDeviceLost}, "tick"), true},
		{"no device", &NoSuitableDeviceError{}, true},
		{"surface", &SurfaceIncompatibleError{Reason: "no formats"}, true},
		{"recording", &RecordingError{Slot: 1, Image: 2, Err: errors.New("boom")}, false},
		{"out of date", errors.Wrap(ErrOutOfDate, "acquire"), false},
		{"plain", errors.New("plain"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestDeviceErr(t *testing.T) {
	assert.NoError(t, deviceErr("op", nil))

	err := deviceErr("submit", errors.Wrap(hal.ErrDeviceLost, "queue"))
	var lost *DeviceLostError
	assert.True(t, errors.As(err, &lost))
	assert.Equal(t, "submit", lost.Op)
	assert.True(t, errors.Is(err, hal.ErrDeviceLost))

	err = deviceErr("submit", errors.New("out of memory"))
	assert.False(t, errors.As(err, &lost))
	assert.Equal(t, "submit: out of memory", err.Error())

	assert.True(t, errors.As(waitErr("wait", hal.ErrTimeout), &lost))

	var incompatible *SurfaceIncompatibleError
	assert.True(t, errors.As(surfaceErr("acquire", hal.ErrSurfaceLost), &incompatible))
	assert.True(t, errors.Is(incompatible, hal.ErrSurfaceLost))
}

func TestErrorMessages(t *testing.T) {
	err := &NoSuitableDeviceError{Rejected: []AdapterRejection{
		{Name: "llvmpipe", Reasons: []string{"missing extension VK_KHR_swapchain"}},
		{Name: "old", Reasons: []string{"no graphics queue family", "no present modes"}},
	}}
	assert.Equal(t,
		"vkrs: no suitable device: llvmpipe (missing extension VK_KHR_swapchain); old (no graphics queue family, no present modes)",
		err.Error())
	assert.Equal(t, "vkrs: no suitable device: no adapters found", (&NoSuitableDeviceError{}).Error())
	assert.Equal(t, "vkrs: recording slot 1 image 2: boom", (&RecordingError{Slot: 1, Image: 2, Err: errors.New("boom")}).Error())
}
