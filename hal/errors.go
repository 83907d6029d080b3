package hal

import "github.com/pkg/errors"

var (
	// ErrOutOfDate means the swapchain no longer matches its surface and
	// must be recreated before further use.
	ErrOutOfDate = errors.New("hal: swapchain out of date")
	// ErrSuboptimal means the swapchain still works but no longer matches the
	// surface exactly.
	ErrSuboptimal = errors.New("hal: swapchain suboptimal")
	// ErrDeviceLost means the logical device is unusable.
	ErrDeviceLost = errors.New("hal: device lost")
	// ErrTimeout means a wait expired before its condition was met.
	ErrTimeout = errors.New("hal: wait timed out")
	// ErrSurfaceLost means the surface is gone, for example its window closed.
	ErrSurfaceLost = errors.New("hal: surface lost")
)

// IsOutOfDate reports whether err asks for swapchain recreation.
func IsOutOfDate(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal)
}
