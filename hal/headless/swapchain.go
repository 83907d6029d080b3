package headless

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

// Swapchain is a headless hal.Swapchain. It goes out of date as soon as the
// surface extent differs from the extent it was created with.
type Swapchain struct {
	dev     *Device
	surface *Surface
	name    string

	extent hal.Extent
	format hal.SurfaceFormat
	mode   hal.PresentMode
	images []*Image
	next   int

	retired   bool
	destroyed bool
}

// Image is one image of a headless swapchain.
type Image struct {
	sc       *Swapchain
	index    uint32
	acquired bool
}

func (i *Image) Index() uint32 { return i.index }

func (d *Device) CreateSwapchain(desc hal.SwapchainDescriptor, old hal.Swapchain) (hal.Swapchain, error) {
	d.trace.record("swapchain.build", d.name, desc.Extent.String())
	if d.lost {
		return nil, hal.ErrDeviceLost
	}
	s, ok := desc.Surface.(*Surface)
	if !ok {
		return nil, errors.Errorf("headless: foreign surface %T", desc.Surface)
	}
	if s.isLost() {
		return nil, hal.ErrSurfaceLost
	}
	if desc.Extent.IsZero() {
		d.trace.violate("swapchain extent %s has no area", desc.Extent)
		return nil, errors.Errorf("headless: zero swapchain extent %s", desc.Extent)
	}
	if desc.Extent != s.Extent() {
		return nil, hal.ErrOutOfDate
	}
	if len(s.Formats) == 0 || len(s.PresentModes) == 0 {
		return nil, errors.Errorf("headless: %s has no formats or present modes", s.name)
	}
	if !hasFormat(s.Formats, desc.Format) {
		d.trace.violate("swapchain format %s not supported by %s", desc.Format, s.name)
	}
	if !hasMode(s.PresentModes, desc.PresentMode) {
		d.trace.violate("present mode %s not supported by %s", desc.PresentMode, s.name)
	}
	if desc.ImageCount < s.MinImageCount || (s.MaxImageCount > 0 && desc.ImageCount > s.MaxImageCount) {
		d.trace.violate("image count %d outside [%d, %d]", desc.ImageCount, s.MinImageCount, s.MaxImageCount)
	}
	if old != nil {
		o, ok := old.(*Swapchain)
		if !ok {
			return nil, errors.Errorf("headless: foreign swapchain %T", old)
		}
		o.retired = true
	}

	sc := &Swapchain{
		dev:     d,
		surface: s,
		name:    d.track("swapchain"),
		extent:  desc.Extent,
		format:  desc.Format,
		mode:    desc.PresentMode,
	}
	for i := uint32(0); i < desc.ImageCount; i++ {
		sc.images = append(sc.images, &Image{sc: sc, index: i})
	}
	d.stats.SwapchainsCreated++
	return sc, nil
}

func hasFormat(list []hal.SurfaceFormat, f hal.SurfaceFormat) bool {
	for _, v := range list {
		if v == f {
			return true
		}
	}
	return false
}

func hasMode(list []hal.PresentMode, m hal.PresentMode) bool {
	for _, v := range list {
		if v == m {
			return true
		}
	}
	return false
}

// Name identifies the swapchain in the trace.
func (s *Swapchain) Name() string { return s.name }

func (s *Swapchain) Images() []hal.Image {
	out := make([]hal.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

func (s *Swapchain) Extent() hal.Extent { return s.extent }

func (s *Swapchain) Format() hal.SurfaceFormat { return s.format }

func (s *Swapchain) PresentMode() hal.PresentMode { return s.mode }

func (s *Swapchain) AcquireNext(timeout time.Duration, signal hal.Semaphore) (uint32, error) {
	d := s.dev
	d.trace.record("swapchain.acquire", s.name, "")
	d.stats.Acquires++
	if d.lost {
		return 0, hal.ErrDeviceLost
	}
	if s.destroyed {
		d.trace.violate("acquire from destroyed %s", s.name)
		return 0, hal.ErrOutOfDate
	}
	if s.surface.isLost() {
		return 0, hal.ErrSurfaceLost
	}
	injected := popErr(&d.acquireErrs)
	if injected != nil && !errors.Is(injected, hal.ErrSuboptimal) {
		return 0, injected
	}
	if s.retired || s.surface.Extent() != s.extent {
		return 0, hal.ErrOutOfDate
	}
	sem, ok := signal.(*Semaphore)
	if !ok {
		return 0, errors.Errorf("headless: foreign semaphore %T", signal)
	}

	n := len(s.images)
	for i := 0; i < n; i++ {
		img := s.images[(s.next+i)%n]
		if img.acquired {
			continue
		}
		if sem.signaled {
			d.trace.violate("acquire signals already signaled %s", sem.name)
		}
		sem.signaled = true
		img.acquired = true
		s.next = int(img.index) + 1
		return img.index, injected
	}
	return 0, hal.ErrTimeout
}

func (s *Swapchain) Present(queue hal.Queue, index uint32, wait hal.Semaphore) error {
	d := s.dev
	d.trace.record("swapchain.present", s.name, fmt.Sprintf("image %d", index))
	d.stats.Presents++
	if d.lost {
		return hal.ErrDeviceLost
	}
	if s.destroyed {
		d.trace.violate("present to destroyed %s", s.name)
		return hal.ErrOutOfDate
	}
	if int(index) >= len(s.images) {
		return errors.Errorf("headless: %s has no image %d", s.name, index)
	}
	img := s.images[index]
	if !img.acquired {
		d.trace.violate("present of unacquired image %d of %s", index, s.name)
	}
	img.acquired = false
	if sem, ok := wait.(*Semaphore); ok {
		if !sem.signaled {
			d.trace.violate("present waits on unsignaled %s", sem.name)
		}
		sem.signaled = false
	}
	if err := popErr(&d.presentErrs); err != nil {
		return err
	}
	if s.retired || s.surface.Extent() != s.extent {
		return hal.ErrOutOfDate
	}
	return nil
}

func (s *Swapchain) Destroy() {
	if s.destroyed {
		s.dev.trace.violate("%s destroyed twice", s.name)
		return
	}
	if len(s.dev.pending) > 0 && !s.dev.lost {
		s.dev.trace.violate("destroy of %s while %d batches are in flight", s.name, len(s.dev.pending))
	}
	s.destroyed = true
	s.dev.untrack("swapchain", s.name)
}
