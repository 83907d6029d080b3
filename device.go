package vkrs

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/lwestlund/vkrs/hal"
)

// Requirements is what an adapter must offer to be selected.
type Requirements struct {
	// Surface must be presentable from the chosen device. Ownership passes to
	// the DeviceContext once NewDeviceContext succeeds.
	Surface    hal.Surface
	Extensions []string
	Layers     []string
	Features   hal.Features
	// PreferredAdapter wins over higher scoring adapters when it is suitable.
	PreferredAdapter string
}

// RequirementsFromConfig builds Requirements for surface out of cfg.
func RequirementsFromConfig(cfg Config, surface hal.Surface) Requirements {
	exts := cfg.DeviceExtensions
	if !containsString(exts, SwapchainExtension) {
		exts = append([]string{SwapchainExtension}, exts...)
	}
	return Requirements{
		Surface:          surface,
		Extensions:       exts,
		Layers:           cfg.EnabledLayers(),
		Features:         cfg.RequiredFeatures,
		PreferredAdapter: cfg.PreferredAdapter,
	}
}

// DeviceContext owns the graphics instance, the presentation surface and the
// logical device with its queues. It is created once and handed to every other
// component.
type DeviceContext struct {
	instance hal.Instance
	surface  hal.Surface
	device   hal.Device
	adapter  hal.AdapterInfo

	graphicsFamily uint32
	presentFamily  uint32

	log       *slog.Logger
	destroyed bool
}

// NewDeviceContext picks the best adapter for req and opens a device on it.
// On failure nothing is created and the caller keeps ownership of instance
// and surface.
func NewDeviceContext(instance hal.Instance, req Requirements, logger *slog.Logger) (*DeviceContext, error) {
	logger = orDiscard(logger)
	adapters, err := instance.Adapters(req.Surface)
	if err != nil {
		return nil, deviceErr("enumerate adapters", err)
	}

	var (
		best     *candidate
		rejected []AdapterRejection
	)
	for _, a := range adapters {
		c, reasons := rateAdapter(a, req)
		if len(reasons) > 0 {
			logger.Debug("adapter rejected", "name", a.Name, "reasons", reasons)
			rejected = append(rejected, AdapterRejection{Name: a.Name, Reasons: reasons})
			continue
		}
		logger.Debug("adapter suitable", "name", a.Name, "type", a.Type, "score", c.score)
		if best == nil || c.score > best.score {
			best = c
		}
	}
	if best == nil {
		return nil, &NoSuitableDeviceError{Rejected: rejected}
	}

	device, err := instance.OpenDevice(best.info.Index, hal.DeviceDescriptor{
		GraphicsFamily: best.graphics,
		PresentFamily:  best.present,
		Extensions:     req.Extensions,
		Layers:         req.Layers,
		Features:       req.Features,
	})
	if err != nil {
		return nil, deviceErr("open device", err)
	}
	logger.Info("device selected",
		"name", best.info.Name,
		"type", best.info.Type,
		"score", best.score,
		"graphics_family", best.graphics,
		"present_family", best.present)

	return &DeviceContext{
		instance:       instance,
		surface:        req.Surface,
		device:         device,
		adapter:        best.info,
		graphicsFamily: best.graphics,
		presentFamily:  best.present,
		log:            logger,
	}, nil
}

type candidate struct {
	info     hal.AdapterInfo
	score    uint64
	graphics uint32
	present  uint32
}

const preferredBonus = 1 << 40

// rateAdapter scores an adapter or lists why it cannot be used.
func rateAdapter(a hal.AdapterInfo, req Requirements) (*candidate, []string) {
	var reasons []string
	c := &candidate{info: a}

	graphics, ok := a.FindQueueFamily(hal.QueueGraphics)
	if !ok {
		reasons = append(reasons, "no graphics queue family")
	}
	c.graphics = graphics
	if req.Surface != nil {
		// Prefer one family doing both.
		if both, ok := a.FindQueueFamily(hal.QueueGraphics | hal.QueuePresent); ok {
			c.graphics, c.present = both, both
		} else if present, ok := a.FindQueueFamily(hal.QueuePresent); ok {
			c.present = present
		} else {
			reasons = append(reasons, "no present queue family")
		}
	} else {
		c.present = c.graphics
	}

	for _, ext := range req.Extensions {
		if !containsString(a.Extensions, ext) {
			reasons = append(reasons, "missing extension "+ext)
		}
	}
	for _, f := range a.Features.Missing(req.Features) {
		reasons = append(reasons, "missing feature "+f)
	}
	if req.Surface != nil {
		if len(a.SurfaceFormats) == 0 {
			reasons = append(reasons, "no surface formats")
		}
		if len(a.PresentModes) == 0 {
			reasons = append(reasons, "no present modes")
		}
	}
	if len(reasons) > 0 {
		sort.Strings(reasons)
		return nil, reasons
	}

	switch a.Type {
	case hal.AdapterDiscrete:
		c.score += 1000
	case hal.AdapterIntegrated:
		c.score += 100
	case hal.AdapterVirtual:
		c.score += 10
	}
	c.score += uint64(a.MaxImageDimension2D)
	if req.PreferredAdapter != "" && a.Name == req.PreferredAdapter {
		c.score += preferredBonus
	}
	return c, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Device returns the opened device.
func (dc *DeviceContext) Device() hal.Device { return dc.device }

// Adapter describes the selected adapter.
func (dc *DeviceContext) Adapter() hal.AdapterInfo { return dc.adapter }

// Surface returns the presentation surface.
func (dc *DeviceContext) Surface() hal.Surface { return dc.surface }

// Queue returns the graphics queue. The handle is stable for the lifetime of
// the context.
func (dc *DeviceContext) Queue() hal.Queue { return dc.device.GraphicsQueue() }

// PresentQueue returns the queue used for presentation.
func (dc *DeviceContext) PresentQueue() hal.Queue { return dc.device.PresentQueue() }

// HasSeparatePresentQueue is true when presentation uses another family than
// graphics.
func (dc *DeviceContext) HasSeparatePresentQueue() bool {
	return dc.graphicsFamily != dc.presentFamily
}

// WaitIdle blocks until the device finished all submitted work.
func (dc *DeviceContext) WaitIdle() error {
	if dc.destroyed {
		return nil
	}
	return waitErr("wait idle", dc.device.WaitIdle())
}

// Destroy releases the device, the surface and the instance, in that order.
// Every object created from the device must be destroyed first.
func (dc *DeviceContext) Destroy() {
	if dc.destroyed {
		return
	}
	dc.destroyed = true
	dc.device.Destroy()
	if dc.surface != nil {
		dc.surface.Destroy()
	}
	dc.instance.Destroy()
	dc.log.Debug("device destroyed", "name", dc.adapter.Name)
}

func (dc *DeviceContext) String() string {
	return fmt.Sprintf("%s (%s)", dc.adapter.Name, dc.adapter.Type)
}
