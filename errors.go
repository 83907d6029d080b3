package vkrs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

var (
	// ErrOutOfDate means the swapchain no longer matches the surface. It is
	// never fatal: the frame loop answers it with a recreation.
	ErrOutOfDate = hal.ErrOutOfDate

	// ErrStopped is returned by Tick once the loop has shut down.
	ErrStopped = errors.New("vkrs: frame loop stopped")
)

// AdapterRejection explains why one adapter was not selected.
type AdapterRejection struct {
	Name    string
	Reasons []string
}

// NoSuitableDeviceError is returned at startup when no adapter satisfies the
// requirements.
type NoSuitableDeviceError struct {
	Rejected []AdapterRejection
}

func (e *NoSuitableDeviceError) Error() string {
	if len(e.Rejected) == 0 {
		return "vkrs: no suitable device: no adapters found"
	}
	parts := make([]string, 0, len(e.Rejected))
	for _, r := range e.Rejected {
		parts = append(parts, fmt.Sprintf("%s (%s)", r.Name, strings.Join(r.Reasons, ", ")))
	}
	return "vkrs: no suitable device: " + strings.Join(parts, "; ")
}

// SurfaceIncompatibleError means no swapchain can be built for the surface.
type SurfaceIncompatibleError struct {
	Reason string
	Err    error
}

func (e *SurfaceIncompatibleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vkrs: surface incompatible: %s: %v", e.Reason, e.Err)
	}
	return "vkrs: surface incompatible: " + e.Reason
}

func (e *SurfaceIncompatibleError) Unwrap() error { return e.Err }

// RecordingError is a failure while building the command buffer of one tick.
// Only that tick is lost.
type RecordingError struct {
	Slot  int
	Image uint32
	Err   error
}

func (e *RecordingError) Error() string {
	return fmt.Sprintf("vkrs: recording slot %d image %d: %v", e.Slot, e.Image, e.Err)
}

func (e *RecordingError) Unwrap() error { return e.Err }

// DeviceLostError is fatal. The caller must tear down and exit.
type DeviceLostError struct {
	Op  string
	Err error
}

func (e *DeviceLostError) Error() string {
	return fmt.Sprintf("vkrs: device lost during %s: %v", e.Op, e.Err)
}

func (e *DeviceLostError) Unwrap() error { return e.Err }

// IsFatal reports whether err must end the frame loop.
func IsFatal(err error) bool {
	var (
		lost    *DeviceLostError
		surface *SurfaceIncompatibleError
		device  *NoSuitableDeviceError
	)
	return errors.As(err, &lost) || errors.As(err, &surface) || errors.As(err, &device)
}

// deviceErr annotates a backend error with op, promoting device loss to
// DeviceLostError.
func deviceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, hal.ErrDeviceLost) {
		return &DeviceLostError{Op: op, Err: err}
	}
	return errors.Wrap(err, op)
}

// waitErr is deviceErr for fence waits, where an expired timeout also means
// the device stopped making progress.
func waitErr(op string, err error) error {
	if errors.Is(err, hal.ErrTimeout) {
		return &DeviceLostError{Op: op, Err: err}
	}
	return deviceErr(op, err)
}

// surfaceErr is deviceErr for swapchain calls, where a lost surface can never
// be recovered from.
func surfaceErr(op string, err error) error {
	if errors.Is(err, hal.ErrSurfaceLost) {
		return &SurfaceIncompatibleError{Reason: op, Err: err}
	}
	return deviceErr(op, err)
}
