// Package vulkan implements the hal interfaces on top of vulkan-go.
//
// The loader must be initialized before NewInstance, either through
// vk.SetGetInstanceProcAddr with the windowing library's loader or through
// vk.SetDefaultGetInstanceProcAddr, followed by vk.Init.
package vulkan

import (
	"io"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/lwestlund/vkrs/hal"
)

const debugReportExtension = "VK_EXT_debug_report"

// InstanceConfig configures NewInstance.
type InstanceConfig struct {
	AppName string
	// Extensions are the instance extensions the windowing layer needs.
	Extensions []string
	Layers     []string
	// Debug registers a debug report callback that forwards driver messages
	// to Logger.
	Debug  bool
	Logger *slog.Logger
}

// Instance is a Vulkan instance.
type Instance struct {
	handle        vk.Instance
	debugCallback vk.DebugReportCallback
	gpus          []vk.PhysicalDevice
	log           *slog.Logger
}

var _ hal.Instance = (*Instance)(nil)

// NewInstance creates the instance. Missing extensions and layers are logged
// and skipped.
func NewInstance(cfg InstanceConfig) (inst *Instance, err error) {
	defer checkErr(&err)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	actual, err := InstanceExtensions()
	orPanic(err)
	extensions, missing, debug := selectExtensions(actual, cfg.Extensions, cfg.Debug)
	if len(missing) > 0 {
		logger.Warn("missing instance extensions", "names", missing)
	}
	var layers []string
	if len(cfg.Layers) > 0 {
		actual, err := Layers()
		orPanic(err)
		layers, missing = checkExisting(actual, cfg.Layers)
		if len(missing) > 0 {
			logger.Warn("missing layers", "names", missing)
		}
	}
	logger.Debug("creating instance", "extensions", extensions, "layers", layers)

	var handle vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         vk.MakeVersion(1, 0, 0),
			ApplicationVersion: vk.MakeVersion(1, 0, 0),
			PApplicationName:   safeString(cfg.AppName),
			PEngineName:        "vkrs\x00",
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}, nil, &handle)
	orPanic(errors.Wrap(newError(ret), "create instance"))
	if err := vk.InitInstance(handle); err != nil {
		vk.DestroyInstance(handle, nil)
		return nil, errors.Wrap(err, "init instance")
	}
	inst = &Instance{handle: handle, log: logger}

	if debug {
		setDebugLogger(logger)
		ret := vk.CreateDebugReportCallback(handle, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}, nil, &inst.debugCallback)
		if err := newError(ret); err != nil {
			logger.Warn("debug report unavailable", "err", err)
		}
	}

	var count uint32
	orPanic(newError(vk.EnumeratePhysicalDevices(handle, &count, nil)))
	inst.gpus = make([]vk.PhysicalDevice, count)
	orPanic(newError(vk.EnumeratePhysicalDevices(handle, &count, inst.gpus)))
	return inst, nil
}

// selectExtensions keeps the available names of required, adding the debug
// report extension when debug is set. debugEnabled reports whether it made it.
func selectExtensions(actual, required []string, debug bool) (enabled, missing []string, debugEnabled bool) {
	wanted := required
	if debug {
		wanted = append(wanted[:len(wanted):len(wanted)], debugReportExtension)
	}
	enabled, missing = checkExisting(actual, wanted)
	return enabled, missing, debug && containsName(enabled, debugReportExtension)
}

// Handle is the raw instance, for creating window surfaces.
func (i *Instance) Handle() vk.Instance { return i.handle }

// WrapSurface takes ownership of a surface created by the windowing layer.
func (i *Instance) WrapSurface(s vk.Surface) *Surface {
	return &Surface{instance: i.handle, handle: s}
}

// Adapters describes every physical device as seen from surface. A nil
// surface reports no present support.
func (i *Instance) Adapters(surface hal.Surface) ([]hal.AdapterInfo, error) {
	var s *Surface
	if surface != nil {
		var ok bool
		if s, ok = surface.(*Surface); !ok {
			return nil, errors.Errorf("surface %T is not a vulkan surface", surface)
		}
	}
	infos := make([]hal.AdapterInfo, 0, len(i.gpus))
	for idx, gpu := range i.gpus {
		info, err := describe(idx, gpu, s)
		if err != nil {
			return nil, errors.Wrapf(err, "adapter %d", idx)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func describe(index int, gpu vk.PhysicalDevice, surface *Surface) (hal.AdapterInfo, error) {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(gpu, &props)
	props.Deref()
	props.Limits.Deref()

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(gpu, &features)
	features.Deref()

	info := hal.AdapterInfo{
		Index:               index,
		Name:                vk.ToString(props.DeviceName[:]),
		Type:                adapterType(props.DeviceType),
		VendorID:            props.VendorID,
		DeviceID:            props.DeviceID,
		MaxImageDimension2D: props.Limits.MaxImageDimension2D,
		Features: hal.Features{
			GeometryShader:     features.GeometryShader.B(),
			TessellationShader: features.TessellationShader.B(),
			SamplerAnisotropy:  features.SamplerAnisotropy.B(),
			FillModeNonSolid:   features.FillModeNonSolid.B(),
		},
	}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, families)
	for fi, fam := range families {
		fam.Deref()
		caps := queueCaps(fam.QueueFlags)
		if surface != nil {
			var supported vk.Bool32
			ret := vk.GetPhysicalDeviceSurfaceSupport(gpu, uint32(fi), surface.handle, &supported)
			var err error
			if caps, err = withPresent(caps, supported, ret); err != nil {
				return info, errors.Wrapf(err, "surface support of queue family %d", fi)
			}
		}
		info.QueueFamilies = append(info.QueueFamilies, hal.QueueFamily{
			Index: uint32(fi),
			Caps:  caps,
			Count: fam.QueueCount,
		})
	}

	extensions, err := DeviceExtensions(gpu)
	if err != nil {
		return info, err
	}
	info.Extensions = extensions

	if surface != nil {
		support, err := surfaceSupport(gpu, surface.handle)
		if err != nil {
			return info, err
		}
		info.SurfaceFormats = support.Formats
		info.PresentModes = support.PresentModes
	}
	return info, nil
}

func adapterType(t vk.PhysicalDeviceType) hal.AdapterType {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return hal.AdapterIntegrated
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return hal.AdapterDiscrete
	case vk.PhysicalDeviceTypeVirtualGpu:
		return hal.AdapterVirtual
	case vk.PhysicalDeviceTypeCpu:
		return hal.AdapterCPU
	}
	return hal.AdapterOther
}

// withPresent adds QueuePresent to caps from a surface support query.
func withPresent(caps hal.QueueCaps, supported vk.Bool32, ret vk.Result) (hal.QueueCaps, error) {
	if err := newError(ret); err != nil {
		return caps, err
	}
	if supported.B() {
		caps |= hal.QueuePresent
	}
	return caps, nil
}

func queueCaps(flags vk.QueueFlags) hal.QueueCaps {
	var caps hal.QueueCaps
	if flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
		caps |= hal.QueueGraphics
	}
	if flags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
		caps |= hal.QueueCompute
	}
	if flags&vk.QueueFlags(vk.QueueTransferBit) != 0 {
		caps |= hal.QueueTransfer
	}
	return caps
}

// OpenDevice creates the logical device with one queue from each of the
// graphics and present families.
func (i *Instance) OpenDevice(adapter int, desc hal.DeviceDescriptor) (hal.Device, error) {
	if adapter < 0 || adapter >= len(i.gpus) {
		return nil, errors.Errorf("no adapter %d", adapter)
	}
	gpu := i.gpus[adapter]

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: desc.GraphicsFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	if desc.PresentFamily != desc.GraphicsFamily {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: desc.PresentFamily,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}
	features := []vk.PhysicalDeviceFeatures{{
		GeometryShader:     bool32(desc.Features.GeometryShader),
		TessellationShader: bool32(desc.Features.TessellationShader),
		SamplerAnisotropy:  bool32(desc.Features.SamplerAnisotropy),
		FillModeNonSolid:   bool32(desc.Features.FillModeNonSolid),
	}}

	var handle vk.Device
	ret := vk.CreateDevice(gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(desc.Extensions)),
		PpEnabledExtensionNames: safeStrings(desc.Extensions),
		EnabledLayerCount:       uint32(len(desc.Layers)),
		PpEnabledLayerNames:     safeStrings(desc.Layers),
		PEnabledFeatures:        features,
	}, nil, &handle)
	if err := newError(ret); err != nil {
		return nil, errors.Wrap(err, "create device")
	}
	return newDevice(i, gpu, handle, desc)
}

// Destroy releases the debug callback and the instance.
func (i *Instance) Destroy() {
	if i.handle == nil {
		return
	}
	if i.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.handle, i.debugCallback, nil)
		i.debugCallback = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(i.handle, nil)
	i.handle = nil
}

func bool32(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

// Surface is a presentable VkSurfaceKHR.
type Surface struct {
	instance vk.Instance
	handle   vk.Surface
}

// Handle is the raw surface.
func (s *Surface) Handle() vk.Surface { return s.handle }

func (s *Surface) Destroy() {
	if s.handle == vk.NullSurface {
		return
	}
	vk.DestroySurface(s.instance, s.handle, nil)
	s.handle = vk.NullSurface
}

var (
	debugMu  sync.Mutex
	debugLog *slog.Logger
)

func setDebugLogger(l *slog.Logger) {
	debugMu.Lock()
	debugLog = l
	debugMu.Unlock()
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	debugMu.Lock()
	l := debugLog
	debugMu.Unlock()
	if l == nil {
		return vk.Bool32(vk.False)
	}
	attrs := []any{"layer", pLayerPrefix, "code", messageCode}
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		l.Error(pMessage, attrs...)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0,
		flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		l.Warn(pMessage, attrs...)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		l.Debug(pMessage, attrs...)
	default:
		l.Info(pMessage, attrs...)
	}
	return vk.Bool32(vk.False)
}
