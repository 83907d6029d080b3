package vkrs

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

// FrameSlot is one of the rotating sets of per-frame resources. A slot is
// checked out by WaitAndReset and returned by Release or Rearm; while checked
// out only the owning tick may touch it.
type FrameSlot struct {
	index          int
	fence          hal.Fence
	imageAvailable hal.Semaphore
	renderFinished hal.Semaphore
	commands       hal.CommandBuffer
	checkedOut     bool
}

func (s *FrameSlot) Index() int                    { return s.index }
func (s *FrameSlot) Fence() hal.Fence              { return s.fence }
func (s *FrameSlot) ImageAvailable() hal.Semaphore { return s.imageAvailable }
func (s *FrameSlot) RenderFinished() hal.Semaphore { return s.renderFinished }
func (s *FrameSlot) Commands() hal.CommandBuffer   { return s.commands }
func (s *FrameSlot) CheckedOut() bool              { return s.checkedOut }

func (s *FrameSlot) destroy() {
	if s.commands != nil {
		s.commands.Destroy()
	}
	if s.renderFinished != nil {
		s.renderFinished.Destroy()
	}
	if s.imageAvailable != nil {
		s.imageAvailable.Destroy()
	}
	if s.fence != nil {
		s.fence.Destroy()
	}
}

// FrameSynchronizer owns the frame slots and decides when one may be reused.
// It is driven from a single goroutine.
type FrameSynchronizer struct {
	dc      *DeviceContext
	slots   []*FrameSlot
	current int
	timeout time.Duration

	// imageOwners maps a swapchain image to the slot that last rendered it.
	imageOwners map[uint32]*FrameSlot
}

// NewFrameSynchronizer allocates n slots. Fences start signaled so the first
// wait on every slot returns at once.
func NewFrameSynchronizer(dc *DeviceContext, n int, fenceTimeout time.Duration) (*FrameSynchronizer, error) {
	if n < 1 {
		return nil, errors.Errorf("frames in flight must be at least 1, got %d", n)
	}
	s := &FrameSynchronizer{
		dc:          dc,
		current:     -1,
		timeout:     fenceTimeout,
		imageOwners: make(map[uint32]*FrameSlot),
	}
	for i := 0; i < n; i++ {
		slot, err := newFrameSlot(dc.Device(), i)
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.slots = append(s.slots, slot)
	}
	return s, nil
}

func newFrameSlot(device hal.Device, index int) (*FrameSlot, error) {
	var err error
	slot := &FrameSlot{index: index}
	if slot.fence, err = device.CreateFence(true); err != nil {
		return nil, deviceErr("create fence", err)
	}
	if slot.imageAvailable, err = device.CreateSemaphore(); err != nil {
		slot.destroy()
		return nil, deviceErr("create semaphore", err)
	}
	if slot.renderFinished, err = device.CreateSemaphore(); err != nil {
		slot.destroy()
		return nil, deviceErr("create semaphore", err)
	}
	if slot.commands, err = device.CreateCommandBuffer(); err != nil {
		slot.destroy()
		return nil, deviceErr("create command buffer", err)
	}
	return slot, nil
}

// Len is the number of frames in flight.
func (s *FrameSynchronizer) Len() int { return len(s.slots) }

// Slot returns slot i.
func (s *FrameSynchronizer) Slot(i int) *FrameSlot { return s.slots[i] }

// NextSlot advances the rotation and returns the slot for the coming tick.
func (s *FrameSynchronizer) NextSlot() *FrameSlot {
	s.current = (s.current + 1) % len(s.slots)
	return s.slots[s.current]
}

// WaitAndReset blocks until the slot's previous work has completed, resets its
// fence and checks it out. It is the only place a tick waits for its own slot.
func (s *FrameSynchronizer) WaitAndReset(slot *FrameSlot) error {
	if slot.checkedOut {
		return errors.Errorf("frame slot %d is already checked out", slot.index)
	}
	if err := slot.fence.Wait(s.timeout); err != nil {
		return waitErr("wait for frame slot", err)
	}
	if err := slot.fence.Reset(); err != nil {
		return deviceErr("reset fence", err)
	}
	slot.checkedOut = true
	return nil
}

// WaitImage makes sure no other slot still renders into image, then records
// slot as its user.
func (s *FrameSynchronizer) WaitImage(slot *FrameSlot, image uint32) error {
	if owner := s.imageOwners[image]; owner != nil && owner != slot {
		if err := owner.fence.Wait(s.timeout); err != nil {
			return waitErr("wait for image", err)
		}
	}
	s.imageOwners[image] = slot
	return nil
}

// ForgetImages drops image ownership, for use after the swapchain changed.
func (s *FrameSynchronizer) ForgetImages() {
	s.imageOwners = make(map[uint32]*FrameSlot)
}

// Release returns a slot whose fence was handed to a queue submission.
func (s *FrameSynchronizer) Release(slot *FrameSlot) {
	slot.checkedOut = false
}

// Rearm returns a checked-out slot whose tick was abandoned. It submits an
// empty batch that signals the slot's fence, so the next wait does not hang.
// With acquired set the batch also consumes the image-available semaphore and
// signals render-finished, leaving the acquired image ready to be presented.
func (s *FrameSynchronizer) Rearm(slot *FrameSlot, acquired bool) error {
	if !slot.checkedOut {
		return nil
	}
	info := hal.SubmitInfo{Fence: slot.fence}
	if acquired {
		info.Wait = []hal.Semaphore{slot.imageAvailable}
		info.Signal = []hal.Semaphore{slot.renderFinished}
	}
	if err := s.dc.Queue().Submit(info); err != nil {
		return deviceErr("rearm frame slot", err)
	}
	slot.checkedOut = false
	return nil
}

// Destroy releases every slot. The device must be idle.
func (s *FrameSynchronizer) Destroy() {
	for _, slot := range s.slots {
		slot.destroy()
	}
	s.slots = nil
	s.imageOwners = nil
}
