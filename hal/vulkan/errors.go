package vulkan

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/lwestlund/vkrs/hal"
)

// newError maps a Vulkan result to an error. Results the frame core reacts to
// become the hal sentinels; everything else keeps the Vulkan description.
func newError(ret vk.Result) error {
	switch ret {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate:
		return hal.ErrOutOfDate
	case vk.Suboptimal:
		return hal.ErrSuboptimal
	case vk.ErrorDeviceLost:
		return hal.ErrDeviceLost
	case vk.Timeout, vk.NotReady:
		return hal.ErrTimeout
	case vk.ErrorSurfaceLost:
		return hal.ErrSurfaceLost
	}
	return errors.Wrapf(vk.Error(ret), "vulkan error %d", int32(ret))
}

func orPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// checkErr turns a panic raised by orPanic into a returned error.
func checkErr(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = e
			return
		}
		*err = errors.Errorf("%+v", v)
	}
}
