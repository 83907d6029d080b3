// Package vkrs is a Vulkan frame core: device selection, swapchain
// management, frame-in-flight synchronization and the per-frame
// acquire, record, submit and present loop.
//
// All GPU calls go through the hal package, so the same loop runs against
// hal/vulkan in production and hal/headless in tests.
package vkrs

import (
	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

// SurfaceProvider is the windowing layer the frame loop presents to.
type SurfaceProvider interface {
	// Surface is the presentable surface of the window.
	Surface() hal.Surface
	// Extent is the current drawable size in pixels. Zero while minimized.
	Extent() hal.Extent
	// Resized delivers size changes. It may be nil.
	Resized() <-chan hal.Extent
}

// Open builds every component for cfg in dependency order and returns the
// frame loop owning them. Open takes ownership of instance and of the surface
// of provider: on error both have been released along with anything built so
// far.
func Open(instance hal.Instance, provider SurfaceProvider, cfg Config, scene SceneRenderer, opts LoopOptions) (*FrameLoop, error) {
	logger := orDiscard(opts.Logger)
	surface := provider.Surface()
	release := func() {
		surface.Destroy()
		instance.Destroy()
	}
	if err := cfg.Validate(); err != nil {
		release()
		return nil, err
	}

	dc, err := NewDeviceContext(instance, RequirementsFromConfig(cfg, surface), logger)
	if err != nil {
		release()
		return nil, err
	}

	extent := provider.Extent()
	if extent.IsZero() {
		extent = cfg.Extent()
	}
	swapchain := NewSwapchainManager(dc, surface, cfg, logger)
	deferred := false
	if err := swapchain.Create(extent); err != nil {
		if !errors.Is(err, ErrOutOfDate) {
			dc.Destroy()
			return nil, err
		}
		// Started minimized: the first tick with an area builds the chain.
		logger.Info("swapchain deferred", "reason", err)
		deferred = true
	}

	sync, err := NewFrameSynchronizer(dc, cfg.FramesInFlight, cfg.FenceTimeout)
	if err != nil {
		swapchain.Destroy()
		dc.Destroy()
		return nil, err
	}

	if opts.AcquireTimeout == 0 {
		opts.AcquireTimeout = cfg.acquireTimeout()
	}
	opts.Logger = logger
	recorder := NewCommandRecorder(swapchain, scene, cfg.ClearColor)
	loop := NewFrameLoop(dc, swapchain, sync, recorder, provider, opts)
	loop.resizePending = deferred
	return loop, nil
}
