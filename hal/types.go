package hal

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Extent is a two dimensional size in pixels.
type Extent struct {
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

// IsZero reports whether either dimension is zero, as for a minimized window.
func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// IsUndefined reports whether the extent carries the UndefinedExtentSize marker.
func (e Extent) IsUndefined() bool {
	return e.Width == UndefinedExtentSize
}

// Clamp limits e to the inclusive range [min, max].
func (e Extent) Clamp(min, max Extent) Extent {
	return Extent{
		Width:  clamp(e.Width, min.Width, max.Width),
		Height: clamp(e.Height, min.Height, max.Height),
	}
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}

// Format is a pixel format. Values match the Vulkan enumeration.
type Format uint32

const (
	FormatUndefined     Format = 0
	FormatR8G8B8A8Unorm Format = 37
	FormatR8G8B8A8Srgb  Format = 43
	FormatB8G8R8A8Unorm Format = 44
	FormatB8G8R8A8Srgb  Format = 50
)

var formatNames = map[Format]string{
	FormatUndefined:     "undefined",
	FormatR8G8B8A8Unorm: "r8g8b8a8_unorm",
	FormatR8G8B8A8Srgb:  "r8g8b8a8_srgb",
	FormatB8G8R8A8Unorm: "b8g8r8a8_unorm",
	FormatB8G8R8A8Srgb:  "b8g8r8a8_srgb",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", uint32(f))
}

// ParseFormat parses the lower case names printed by Format.String.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return FormatUndefined, errors.Errorf("unknown format %q", s)
}

// ColorSpace of a surface format. Values match the Vulkan enumeration.
type ColorSpace uint32

const ColorSpaceSRGBNonlinear ColorSpace = 0

// SurfaceFormat pairs a pixel format with a color space.
type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

func (f SurfaceFormat) String() string {
	return f.Format.String()
}

// PresentMode controls how images are queued for display. Values match the
// Vulkan enumeration.
type PresentMode uint32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

var presentModeNames = map[PresentMode]string{
	PresentModeImmediate:   "immediate",
	PresentModeMailbox:     "mailbox",
	PresentModeFifo:        "fifo",
	PresentModeFifoRelaxed: "fifo_relaxed",
}

func (m PresentMode) String() string {
	if name, ok := presentModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("present_mode(%d)", uint32(m))
}

// ParsePresentMode parses the names printed by PresentMode.String.
func ParsePresentMode(s string) (PresentMode, error) {
	for m, name := range presentModeNames {
		if strings.EqualFold(name, s) {
			return m, nil
		}
	}
	return PresentModeFifo, errors.Errorf("unknown present mode %q", s)
}

// QueueCaps is a set of queue family capabilities.
type QueueCaps uint32

const (
	QueueGraphics QueueCaps = 1 << iota
	QueueCompute
	QueueTransfer
	// QueuePresent means the family can present to the queried surface.
	QueuePresent
)

// Has reports whether all capabilities in want are set.
func (c QueueCaps) Has(want QueueCaps) bool {
	return c&want == want
}

// AdapterType classifies a physical device. Values match the Vulkan enumeration.
type AdapterType uint32

const (
	AdapterOther AdapterType = iota
	AdapterIntegrated
	AdapterDiscrete
	AdapterVirtual
	AdapterCPU
)

func (t AdapterType) String() string {
	switch t {
	case AdapterIntegrated:
		return "integrated"
	case AdapterDiscrete:
		return "discrete"
	case AdapterVirtual:
		return "virtual"
	case AdapterCPU:
		return "cpu"
	}
	return "other"
}

// Features is the subset of optional device features the core can require.
type Features struct {
	GeometryShader     bool `yaml:"geometry_shader"`
	TessellationShader bool `yaml:"tessellation_shader"`
	SamplerAnisotropy  bool `yaml:"sampler_anisotropy"`
	FillModeNonSolid   bool `yaml:"fill_mode_non_solid"`
}

// Missing lists the features set in required but not in f.
func (f Features) Missing(required Features) []string {
	var missing []string
	if required.GeometryShader && !f.GeometryShader {
		missing = append(missing, "geometry_shader")
	}
	if required.TessellationShader && !f.TessellationShader {
		missing = append(missing, "tessellation_shader")
	}
	if required.SamplerAnisotropy && !f.SamplerAnisotropy {
		missing = append(missing, "sampler_anisotropy")
	}
	if required.FillModeNonSolid && !f.FillModeNonSolid {
		missing = append(missing, "fill_mode_non_solid")
	}
	return missing
}

// QueueFamily describes one queue family of an adapter.
type QueueFamily struct {
	Index uint32
	Caps  QueueCaps
	Count uint32
}

// AdapterInfo describes a physical device as seen from one surface.
type AdapterInfo struct {
	Index               int
	Name                string
	Type                AdapterType
	VendorID            uint32
	DeviceID            uint32
	MaxImageDimension2D uint32
	QueueFamilies       []QueueFamily
	Extensions          []string
	Features            Features
	SurfaceFormats      []SurfaceFormat
	PresentModes        []PresentMode
}

// FindQueueFamily returns the first family having all of caps.
func (a AdapterInfo) FindQueueFamily(caps QueueCaps) (uint32, bool) {
	for _, fam := range a.QueueFamilies {
		if fam.Count > 0 && fam.Caps.Has(caps) {
			return fam.Index, true
		}
	}
	return 0, false
}

// SurfaceSupport is what a device can do with a surface.
type SurfaceSupport struct {
	MinImageCount uint32
	// MaxImageCount of zero means there is no limit.
	MaxImageCount uint32
	CurrentExtent Extent
	MinExtent     Extent
	MaxExtent     Extent
	Formats       []SurfaceFormat
	PresentModes  []PresentMode
}

// DeviceDescriptor configures OpenDevice.
type DeviceDescriptor struct {
	GraphicsFamily uint32
	PresentFamily  uint32
	Extensions     []string
	Layers         []string
	Features       Features
}

// SwapchainDescriptor configures CreateSwapchain.
type SwapchainDescriptor struct {
	Surface     Surface
	Extent      Extent
	Format      SurfaceFormat
	PresentMode PresentMode
	ImageCount  uint32
}
