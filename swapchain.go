package vkrs

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

// SwapchainManager owns the swapchain of one surface. The chain is never
// changed in place: Recreate replaces it whole.
type SwapchainManager struct {
	dc      *DeviceContext
	surface hal.Surface
	log     *slog.Logger

	format     hal.SurfaceFormat
	mode       hal.PresentMode
	imageCount uint32

	chain      hal.Swapchain
	images     []hal.Image
	generation int
	// suboptimal is set when an acquire succeeded on a chain that no longer
	// matches exactly; the following present reports it as out of date.
	suboptimal bool
}

// NewSwapchainManager prepares a manager for surface using the format,
// present mode and image count preferences of cfg. No swapchain exists until
// Create.
func NewSwapchainManager(dc *DeviceContext, surface hal.Surface, cfg Config, logger *slog.Logger) *SwapchainManager {
	return &SwapchainManager{
		dc:         dc,
		surface:    surface,
		log:        orDiscard(logger),
		format:     cfg.SurfaceFormat(),
		mode:       cfg.PreferredPresentMode(),
		imageCount: cfg.ImageCount,
	}
}

// Create builds the first swapchain. requested is used only when the surface
// leaves the size to the swapchain. ErrOutOfDate means the surface has no
// area yet; the chain can be built later with Recreate.
func (m *SwapchainManager) Create(requested hal.Extent) error {
	if m.chain != nil {
		return errors.New("swapchain already created")
	}
	chain, err := m.build(requested, nil)
	if err != nil {
		return err
	}
	m.install(chain, "swapchain created")
	return nil
}

// Recreate waits for the device to go idle, then replaces the swapchain with
// one built for requested. On failure the manager holds no swapchain and the
// next AcquireNext reports ErrOutOfDate.
func (m *SwapchainManager) Recreate(requested hal.Extent) error {
	if err := m.dc.WaitIdle(); err != nil {
		return err
	}
	old := m.chain
	chain, err := m.build(requested, old)
	if old != nil {
		// Retired by the build even when it failed.
		old.Destroy()
	}
	m.chain, m.images = nil, nil
	m.suboptimal = false
	if err != nil {
		return err
	}
	m.install(chain, "swapchain recreated")
	return nil
}

func (m *SwapchainManager) install(chain hal.Swapchain, msg string) {
	m.chain = chain
	m.images = chain.Images()
	m.generation++
	m.log.Info(msg,
		"extent", chain.Extent(),
		"format", chain.Format(),
		"present_mode", chain.PresentMode(),
		"images", len(m.images),
		"generation", m.generation)
}

func (m *SwapchainManager) build(requested hal.Extent, old hal.Swapchain) (hal.Swapchain, error) {
	support, err := m.dc.Device().SurfaceSupport(m.surface)
	if err != nil {
		return nil, surfaceErr("query surface support", err)
	}
	if len(support.Formats) == 0 {
		return nil, &SurfaceIncompatibleError{Reason: "surface reports no formats"}
	}
	if len(support.PresentModes) == 0 {
		return nil, &SurfaceIncompatibleError{Reason: "surface reports no present modes"}
	}
	extent := chooseExtent(support, requested)
	if extent.IsZero() {
		// Minimized. Nothing can be built until the surface has an area.
		return nil, errors.Wrapf(ErrOutOfDate, "surface extent %s", extent)
	}
	desc := hal.SwapchainDescriptor{
		Surface:     m.surface,
		Extent:      extent,
		Format:      chooseFormat(support.Formats, m.format),
		PresentMode: choosePresentMode(support.PresentModes, m.mode),
		ImageCount:  chooseImageCount(support, m.imageCount),
	}
	chain, err := m.dc.Device().CreateSwapchain(desc, old)
	if hal.IsOutOfDate(err) {
		return nil, errors.Wrap(ErrOutOfDate, "create swapchain")
	}
	if err != nil {
		return nil, surfaceErr("create swapchain", err)
	}
	return chain, nil
}

func chooseExtent(support hal.SurfaceSupport, requested hal.Extent) hal.Extent {
	if !support.CurrentExtent.IsUndefined() {
		return support.CurrentExtent
	}
	return requested.Clamp(support.MinExtent, support.MaxExtent)
}

func chooseFormat(formats []hal.SurfaceFormat, preferred hal.SurfaceFormat) hal.SurfaceFormat {
	// A single undefined entry means any format is accepted.
	if len(formats) == 1 && formats[0].Format == hal.FormatUndefined {
		return preferred
	}
	for _, f := range formats {
		if f == preferred {
			return f
		}
	}
	return formats[0]
}

func choosePresentMode(modes []hal.PresentMode, preferred hal.PresentMode) hal.PresentMode {
	for _, m := range modes {
		if m == preferred {
			return m
		}
	}
	// FIFO is always supported.
	return hal.PresentModeFifo
}

func chooseImageCount(support hal.SurfaceSupport, configured uint32) uint32 {
	n := configured
	if n == 0 {
		n = support.MinImageCount + 1
	}
	if n < support.MinImageCount {
		n = support.MinImageCount
	}
	if support.MaxImageCount > 0 && n > support.MaxImageCount {
		n = support.MaxImageCount
	}
	return n
}

// AcquireNext gets the next writable image and arranges for signal to be
// signaled when it is ready. ErrOutOfDate means nothing was acquired.
func (m *SwapchainManager) AcquireNext(timeout time.Duration, signal hal.Semaphore) (uint32, error) {
	if m.chain == nil {
		return 0, errors.Wrap(ErrOutOfDate, "no swapchain")
	}
	index, err := m.chain.AcquireNext(timeout, signal)
	switch {
	case err == nil:
		return index, nil
	case errors.Is(err, hal.ErrSuboptimal):
		// The image is ours and the semaphore will fire; finish the frame and
		// recreate after presenting.
		m.suboptimal = true
		return index, nil
	case errors.Is(err, hal.ErrOutOfDate):
		return 0, errors.Wrap(ErrOutOfDate, "acquire")
	case errors.Is(err, hal.ErrTimeout):
		return 0, &DeviceLostError{Op: "acquire", Err: err}
	}
	return 0, surfaceErr("acquire", err)
}

// Present queues image index for display after wait is signaled. It returns
// ErrOutOfDate when the chain should be recreated; the image was still
// consumed.
func (m *SwapchainManager) Present(index uint32, wait hal.Semaphore) error {
	if m.chain == nil {
		return errors.Wrap(ErrOutOfDate, "no swapchain")
	}
	err := m.chain.Present(m.dc.PresentQueue(), index, wait)
	suboptimal := m.suboptimal
	m.suboptimal = false
	if hal.IsOutOfDate(err) || (err == nil && suboptimal) {
		return errors.Wrap(ErrOutOfDate, "present")
	}
	return surfaceErr("present", err)
}

// Image returns image index of the current chain, or nil.
func (m *SwapchainManager) Image(index uint32) hal.Image {
	if int(index) >= len(m.images) {
		return nil
	}
	return m.images[index]
}

// Extent is the size of the current chain.
func (m *SwapchainManager) Extent() hal.Extent {
	if m.chain == nil {
		return hal.Extent{}
	}
	return m.chain.Extent()
}

func (m *SwapchainManager) Format() hal.SurfaceFormat {
	if m.chain == nil {
		return hal.SurfaceFormat{}
	}
	return m.chain.Format()
}

func (m *SwapchainManager) PresentMode() hal.PresentMode {
	if m.chain == nil {
		return m.mode
	}
	return m.chain.PresentMode()
}

func (m *SwapchainManager) ImageCount() int { return len(m.images) }

// Generation counts the swapchains built so far.
func (m *SwapchainManager) Generation() int { return m.generation }

// Destroy releases the current swapchain. The device must be idle.
func (m *SwapchainManager) Destroy() {
	if m.chain == nil {
		return
	}
	m.chain.Destroy()
	m.chain, m.images = nil, nil
}
