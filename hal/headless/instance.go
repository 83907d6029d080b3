package headless

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

// SwapchainExtension is the device extension name reported by default adapters.
const SwapchainExtension = "VK_KHR_swapchain"

// DefaultAdapter describes a discrete adapter with one universal queue family.
func DefaultAdapter() hal.AdapterInfo {
	return hal.AdapterInfo{
		Name:                "headless",
		Type:                hal.AdapterDiscrete,
		MaxImageDimension2D: 16384,
		QueueFamilies: []hal.QueueFamily{{
			Index: 0,
			Caps:  hal.QueueGraphics | hal.QueueCompute | hal.QueueTransfer | hal.QueuePresent,
			Count: 1,
		}},
		Extensions: []string{SwapchainExtension},
		Features: hal.Features{
			GeometryShader:     true,
			TessellationShader: true,
			SamplerAnisotropy:  true,
			FillModeNonSolid:   true,
		},
	}
}

// Instance is a headless hal.Instance.
type Instance struct {
	trace    *Trace
	adapters []hal.AdapterInfo
	devices  []*Device
	name     string
}

// NewInstance creates an instance exposing the given adapters, or
// DefaultAdapter when none are given.
func NewInstance(adapters ...hal.AdapterInfo) *Instance {
	if len(adapters) == 0 {
		adapters = []hal.AdapterInfo{DefaultAdapter()}
	}
	for i := range adapters {
		adapters[i].Index = i
	}
	t := newTrace()
	return &Instance{
		trace:    t,
		adapters: adapters,
		name:     t.name("instance"),
	}
}

// Trace returns the call log shared by everything created from i.
func (i *Instance) Trace() *Trace {
	return i.trace
}

// Violations is a shorthand for Trace().Violations().
func (i *Instance) Violations() []string {
	return i.trace.Violations()
}

// Device returns the most recently opened device, or nil.
func (i *Instance) Device() *Device {
	if len(i.devices) == 0 {
		return nil
	}
	return i.devices[len(i.devices)-1]
}

// NewSurface creates a surface of the given size owned by this instance.
func (i *Instance) NewSurface(extent hal.Extent) *Surface {
	s := &Surface{
		trace:  i.trace,
		name:   i.trace.name("surface"),
		extent: extent,
		Formats: []hal.SurfaceFormat{
			{Format: hal.FormatB8G8R8A8Srgb, ColorSpace: hal.ColorSpaceSRGBNonlinear},
			{Format: hal.FormatB8G8R8A8Unorm, ColorSpace: hal.ColorSpaceSRGBNonlinear},
		},
		PresentModes:  []hal.PresentMode{hal.PresentModeFifo, hal.PresentModeMailbox},
		MinImageCount: 2,
		MaxImageCount: 8,
		resized:       make(chan hal.Extent, 16),
	}
	i.trace.record("surface.create", s.name, extent.String())
	return s
}

func (i *Instance) Adapters(surface hal.Surface) ([]hal.AdapterInfo, error) {
	s, _ := surface.(*Surface)
	out := make([]hal.AdapterInfo, len(i.adapters))
	for n, a := range i.adapters {
		a.QueueFamilies = append([]hal.QueueFamily(nil), a.QueueFamilies...)
		if s != nil {
			a.SurfaceFormats = append([]hal.SurfaceFormat(nil), s.Formats...)
			a.PresentModes = append([]hal.PresentMode(nil), s.PresentModes...)
		} else {
			for f := range a.QueueFamilies {
				a.QueueFamilies[f].Caps &^= hal.QueuePresent
			}
		}
		out[n] = a
	}
	return out, nil
}

func (i *Instance) OpenDevice(adapter int, desc hal.DeviceDescriptor) (hal.Device, error) {
	if adapter < 0 || adapter >= len(i.adapters) {
		return nil, errors.Errorf("headless: no adapter %d", adapter)
	}
	info := i.adapters[adapter]
	if !hasFamily(info, desc.GraphicsFamily, hal.QueueGraphics) {
		return nil, errors.Errorf("headless: family %d of %q has no graphics queue", desc.GraphicsFamily, info.Name)
	}
	if !hasFamily(info, desc.PresentFamily, hal.QueuePresent) {
		return nil, errors.Errorf("headless: family %d of %q cannot present", desc.PresentFamily, info.Name)
	}
	for _, ext := range desc.Extensions {
		if !contains(info.Extensions, ext) {
			return nil, errors.Errorf("headless: extension %s not present on %q", ext, info.Name)
		}
	}
	if missing := info.Features.Missing(desc.Features); len(missing) > 0 {
		return nil, errors.Errorf("headless: features %v not present on %q", missing, info.Name)
	}
	d := newDevice(i, info)
	i.devices = append(i.devices, d)
	return d, nil
}

func (i *Instance) Destroy() {
	for _, d := range i.devices {
		if !d.destroyed {
			i.trace.violate("instance destroyed before %s", d.name)
		}
	}
	i.trace.record("instance.destroy", i.name, "")
}

func hasFamily(info hal.AdapterInfo, index uint32, caps hal.QueueCaps) bool {
	for _, fam := range info.QueueFamilies {
		if fam.Index == index {
			return fam.Caps.Has(caps)
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Surface is a headless presentation target. It also acts as the windowing
// layer: Resize changes the size and queues a notification.
type Surface struct {
	// Formats and PresentModes are reported to devices. Empty lists make the
	// surface incompatible with every swapchain.
	Formats       []hal.SurfaceFormat
	PresentModes  []hal.PresentMode
	MinImageCount uint32
	MaxImageCount uint32
	// UndefinedExtent makes the surface report an undefined current extent,
	// leaving the size to the swapchain. Swapchains must still match the
	// surface size.
	UndefinedExtent bool

	trace *Trace
	name  string

	mu        sync.Mutex
	extent    hal.Extent
	lost      bool
	destroyed bool
	resized   chan hal.Extent
}

// Name identifies the surface in the trace.
func (s *Surface) Name() string {
	return s.name
}

// Surface returns s; it lets *Surface stand in for a windowing layer.
func (s *Surface) Surface() hal.Surface {
	return s
}

// Extent returns the current size.
func (s *Surface) Extent() hal.Extent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

// Resized delivers sizes passed to Resize.
func (s *Surface) Resized() <-chan hal.Extent {
	return s.resized
}

// Resize changes the size and notifies listeners of Resized. When the
// notification buffer is full the change is still applied.
func (s *Surface) Resize(extent hal.Extent) {
	s.SetExtent(extent)
	select {
	case s.resized <- extent:
	default:
	}
}

// SetExtent changes the size without a notification, so the mismatch is only
// discovered by the swapchain.
func (s *Surface) SetExtent(extent hal.Extent) {
	s.mu.Lock()
	s.extent = extent
	s.mu.Unlock()
	s.trace.record("surface.resize", s.name, extent.String())
}

// Lose makes the surface unusable, as when its window is destroyed.
func (s *Surface) Lose() {
	s.mu.Lock()
	s.lost = true
	s.mu.Unlock()
}

func (s *Surface) isLost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost || s.destroyed
}

func (s *Surface) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
	s.trace.record("surface.destroy", s.name, "")
}
