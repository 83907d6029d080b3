package headless

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

// Stats counts the work a device has seen.
type Stats struct {
	Submits           int
	EmptySubmits      int
	Acquires          int
	Presents          int
	SwapchainsCreated int
	WaitIdles         int
}

// Device is a headless hal.Device. Submitted batches complete, in order, when
// a fence covering them is waited on or when the device is waited idle.
type Device struct {
	inst  *Instance
	trace *Trace
	name  string
	info  hal.AdapterInfo
	queue *Queue

	live    map[string]bool
	pending []*batch
	stats   Stats

	lost      bool
	hung      bool
	destroyed bool

	acquireErrs []error
	presentErrs []error
	beginErrs   []error
}

type batch struct {
	fence *Fence
	cmds  []*CommandBuffer
}

func newDevice(inst *Instance, info hal.AdapterInfo) *Device {
	d := &Device{
		inst:  inst,
		trace: inst.trace,
		name:  inst.trace.name("device"),
		info:  info,
		live:  make(map[string]bool),
	}
	d.queue = &Queue{dev: d, name: inst.trace.name("queue")}
	d.trace.record("device.create", d.name, info.Name)
	return d
}

// Name identifies the device in the trace.
func (d *Device) Name() string { return d.name }

// Adapter returns the adapter the device was opened on.
func (d *Device) Adapter() hal.AdapterInfo { return d.info }

// Stats returns the work counters.
func (d *Device) Stats() Stats { return d.stats }

// Live lists the names of objects created and not yet destroyed.
func (d *Device) Live() []string {
	names := make([]string, 0, len(d.live))
	for name := range d.live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FailAcquire queues errors returned by the next AcquireNext calls, one per call.
func (d *Device) FailAcquire(errs ...error) { d.acquireErrs = append(d.acquireErrs, errs...) }

// FailPresent queues errors returned by the next Present calls, one per call.
func (d *Device) FailPresent(errs ...error) { d.presentErrs = append(d.presentErrs, errs...) }

// FailRecording queues errors returned by the next CommandBuffer.Begin calls.
func (d *Device) FailRecording(errs ...error) { d.beginErrs = append(d.beginErrs, errs...) }

// Lose marks the device lost. Every later wait, submit and present fails
// with hal.ErrDeviceLost.
func (d *Device) Lose() { d.lost = true }

// Hang stops submitted work from ever completing, so fence waits time out.
func (d *Device) Hang() { d.hung = true }

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (d *Device) track(kind string) string {
	name := d.trace.name(kind)
	d.live[name] = true
	d.trace.record(kind+".create", name, "")
	return name
}

func (d *Device) untrack(kind, name string) {
	if !d.live[name] {
		d.trace.violate("%s destroyed twice", name)
	}
	delete(d.live, name)
	d.trace.record(kind+".destroy", name, "")
}

// completeThrough retires pending batches in submission order up to and
// including b.
func (d *Device) completeThrough(b *batch) {
	for len(d.pending) > 0 {
		head := d.pending[0]
		d.pending = d.pending[1:]
		d.retire(head)
		if head == b {
			return
		}
	}
}

func (d *Device) retire(b *batch) {
	for _, c := range b.cmds {
		c.pending = nil
	}
	if b.fence != nil {
		b.fence.pending = nil
		b.fence.signaled = true
		d.trace.record("fence.signal", b.fence.name, "")
	}
}

func (d *Device) GraphicsQueue() hal.Queue { return d.queue }

func (d *Device) PresentQueue() hal.Queue { return d.queue }

func (d *Device) SurfaceSupport(surface hal.Surface) (hal.SurfaceSupport, error) {
	s, ok := surface.(*Surface)
	if !ok {
		return hal.SurfaceSupport{}, errors.Errorf("headless: foreign surface %T", surface)
	}
	if d.lost {
		return hal.SurfaceSupport{}, hal.ErrDeviceLost
	}
	if s.isLost() {
		return hal.SurfaceSupport{}, hal.ErrSurfaceLost
	}
	current := s.Extent()
	if s.UndefinedExtent {
		current = hal.Extent{Width: hal.UndefinedExtentSize, Height: hal.UndefinedExtentSize}
	}
	return hal.SurfaceSupport{
		MinImageCount: s.MinImageCount,
		MaxImageCount: s.MaxImageCount,
		CurrentExtent: current,
		MinExtent:     hal.Extent{Width: 1, Height: 1},
		MaxExtent:     hal.Extent{Width: d.info.MaxImageDimension2D, Height: d.info.MaxImageDimension2D},
		Formats:       append([]hal.SurfaceFormat(nil), s.Formats...),
		PresentModes:  append([]hal.PresentMode(nil), s.PresentModes...),
	}, nil
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	if d.lost {
		return nil, hal.ErrDeviceLost
	}
	return &Fence{dev: d, name: d.track("fence"), signaled: signaled}, nil
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	if d.lost {
		return nil, hal.ErrDeviceLost
	}
	return &Semaphore{dev: d, name: d.track("semaphore")}, nil
}

func (d *Device) CreateCommandBuffer() (hal.CommandBuffer, error) {
	if d.lost {
		return nil, hal.ErrDeviceLost
	}
	return &CommandBuffer{dev: d, name: d.track("cmd")}, nil
}

func (d *Device) WaitIdle() error {
	d.trace.record("device.wait_idle", d.name, "")
	d.stats.WaitIdles++
	if d.lost {
		return hal.ErrDeviceLost
	}
	if d.hung && len(d.pending) > 0 {
		return hal.ErrTimeout
	}
	for len(d.pending) > 0 {
		d.completeThrough(d.pending[0])
	}
	return nil
}

func (d *Device) Destroy() {
	if d.destroyed {
		d.trace.violate("%s destroyed twice", d.name)
		return
	}
	if live := d.Live(); len(live) > 0 {
		d.trace.violate("%s destroyed with live objects %v", d.name, live)
	}
	if len(d.pending) > 0 && !d.lost {
		d.trace.violate("%s destroyed with %d batches in flight", d.name, len(d.pending))
	}
	d.destroyed = true
	d.trace.record("device.destroy", d.name, "")
}

// Queue is the single universal queue of a headless device.
type Queue struct {
	dev  *Device
	name string
}

func (q *Queue) Submit(info hal.SubmitInfo) error {
	d := q.dev
	kind := "queue.submit"
	if len(info.Commands) == 0 {
		kind = "queue.submit_empty"
	}
	fenceName := ""
	if f, ok := info.Fence.(*Fence); ok {
		fenceName = f.name
	}
	d.trace.record(kind, q.name, fenceName)
	if d.lost {
		return hal.ErrDeviceLost
	}

	b := &batch{}
	for _, w := range info.Wait {
		s, ok := w.(*Semaphore)
		if !ok {
			return errors.Errorf("headless: foreign semaphore %T", w)
		}
		if !s.signaled {
			d.trace.violate("submit waits on unsignaled %s", s.name)
		}
		s.signaled = false
	}
	for _, c := range info.Commands {
		cmd, ok := c.(*CommandBuffer)
		if !ok {
			return errors.Errorf("headless: foreign command buffer %T", c)
		}
		if cmd.state != cmdExecutable {
			d.trace.violate("submit of %s in state %s", cmd.name, cmd.state)
		}
		if cmd.pending != nil {
			d.trace.violate("submit of %s while it is in flight", cmd.name)
		}
		cmd.pending = b
		b.cmds = append(b.cmds, cmd)
	}
	for _, sig := range info.Signal {
		s, ok := sig.(*Semaphore)
		if !ok {
			return errors.Errorf("headless: foreign semaphore %T", sig)
		}
		if s.signaled {
			d.trace.violate("submit signals already signaled %s", s.name)
		}
		s.signaled = true
	}
	if info.Fence != nil {
		f, ok := info.Fence.(*Fence)
		if !ok {
			return errors.Errorf("headless: foreign fence %T", info.Fence)
		}
		if f.signaled || f.pending != nil {
			d.trace.violate("submit with %s that was not reset", f.name)
		}
		f.signaled = false
		f.pending = b
		b.fence = f
	}
	d.pending = append(d.pending, b)
	if len(info.Commands) == 0 {
		d.stats.EmptySubmits++
	} else {
		d.stats.Submits++
	}
	return nil
}

// Fence is a headless hal.Fence.
type Fence struct {
	dev      *Device
	name     string
	signaled bool
	pending  *batch
}

// Name identifies the fence in the trace.
func (f *Fence) Name() string { return f.name }

// Signaled reports whether the fence is currently signaled.
func (f *Fence) Signaled() bool { return f.signaled }

func (f *Fence) Wait(timeout time.Duration) error {
	d := f.dev
	d.trace.record("fence.wait", f.name, "")
	if d.lost {
		return hal.ErrDeviceLost
	}
	if f.signaled {
		return nil
	}
	if f.pending == nil || d.hung {
		// Nothing queued will ever signal this fence.
		return hal.ErrTimeout
	}
	d.completeThrough(f.pending)
	return nil
}

func (f *Fence) Reset() error {
	d := f.dev
	d.trace.record("fence.reset", f.name, "")
	if d.lost {
		return hal.ErrDeviceLost
	}
	if f.pending != nil {
		d.trace.violate("reset of in-flight %s", f.name)
	}
	f.signaled = false
	return nil
}

func (f *Fence) Destroy() {
	if f.pending != nil && !f.dev.lost {
		f.dev.trace.violate("destroy of in-flight %s", f.name)
	}
	f.dev.untrack("fence", f.name)
}

// Semaphore is a headless hal.Semaphore.
type Semaphore struct {
	dev      *Device
	name     string
	signaled bool
}

// Name identifies the semaphore in the trace.
func (s *Semaphore) Name() string { return s.name }

func (s *Semaphore) Destroy() {
	s.dev.untrack("semaphore", s.name)
}
