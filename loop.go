package vkrs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

// State is the position of the frame loop within a tick.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StateSubmitting
	StatePresenting
	StateRecreating
	StateShutdown
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateAcquiring:  "acquiring",
	StateRecording:  "recording",
	StateSubmitting: "submitting",
	StatePresenting: "presenting",
	StateRecreating: "recreating",
	StateShutdown:   "shutdown",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Outcome is how a tick ended.
type Outcome int

const (
	// OutcomePresented means a frame was submitted and presented.
	OutcomePresented Outcome = iota
	// OutcomeMinimized means the surface had no area and nothing was done.
	OutcomeMinimized
	// OutcomeOutOfDate means acquisition failed and the swapchain was rebuilt.
	OutcomeOutOfDate
	// OutcomeFailed means the tick returned an error.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePresented:
		return "presented"
	case OutcomeMinimized:
		return "minimized"
	case OutcomeOutOfDate:
		return "out_of_date"
	}
	return "failed"
}

// TickReport describes the last completed tick.
type TickReport struct {
	Tick    uint64
	Slot    int // -1 when no slot was taken
	Image   int // -1 when no image was acquired
	Outcome Outcome
	// Recreated is set when the swapchain was rebuilt during the tick.
	Recreated bool
	Err       error
}

// Stats are cumulative frame loop counters.
type Stats struct {
	Ticks           uint64
	Frames          uint64
	Skipped         uint64
	Recreations     uint64
	RecordingErrors uint64
}

// LoopOptions tune a FrameLoop.
type LoopOptions struct {
	// AcquireTimeout bounds image acquisition. Zero waits forever.
	AcquireTimeout time.Duration
	// Pump runs before every tick of Run, typically to poll window events.
	Pump   func()
	Logger *slog.Logger
}

// FrameLoop drives acquire, record, submit and present once per tick. It is
// not safe for concurrent use except for Stop.
type FrameLoop struct {
	dc        *DeviceContext
	swapchain *SwapchainManager
	sync      *FrameSynchronizer
	recorder  *CommandRecorder
	surface   SurfaceProvider

	log            *slog.Logger
	pump           func()
	acquireTimeout time.Duration

	state         State
	stop          atomic.Bool
	resizePending bool
	stats         Stats
	last          TickReport
}

// NewFrameLoop assembles a loop from its components. The swapchain must have
// been created. The loop takes ownership of every component and releases them
// in Shutdown.
func NewFrameLoop(dc *DeviceContext, swapchain *SwapchainManager, sync *FrameSynchronizer,
	recorder *CommandRecorder, surface SurfaceProvider, opts LoopOptions) *FrameLoop {
	timeout := opts.AcquireTimeout
	if timeout <= 0 {
		timeout = hal.WaitForever
	}
	return &FrameLoop{
		dc:             dc,
		swapchain:      swapchain,
		sync:           sync,
		recorder:       recorder,
		surface:        surface,
		log:            orDiscard(opts.Logger),
		pump:           opts.Pump,
		acquireTimeout: timeout,
		last:           TickReport{Slot: -1, Image: -1},
	}
}

func (l *FrameLoop) State() State                     { return l.state }
func (l *FrameLoop) Stats() Stats                     { return l.stats }
func (l *FrameLoop) LastTick() TickReport             { return l.last }
func (l *FrameLoop) Device() *DeviceContext           { return l.dc }
func (l *FrameLoop) Swapchain() *SwapchainManager     { return l.swapchain }
func (l *FrameLoop) Synchronizer() *FrameSynchronizer { return l.sync }
func (l *FrameLoop) Recorder() *CommandRecorder       { return l.recorder }

// Stop asks the loop to shut down at the next idle boundary. It may be called
// from any goroutine.
func (l *FrameLoop) Stop() {
	l.stop.Store(true)
}

// Tick runs one frame. It returns ErrStopped once the loop has shut down,
// a *RecordingError when only this frame was lost, and other errors when the
// frame could not be produced. A *DeviceLostError tears the loop down before
// it is returned.
func (l *FrameLoop) Tick(ctx context.Context) error {
	if l.state == StateShutdown {
		return ErrStopped
	}
	if l.stop.Load() || ctx.Err() != nil {
		if err := l.Shutdown(); err != nil {
			return err
		}
		return ErrStopped
	}

	l.stats.Ticks++
	report := TickReport{Tick: l.stats.Ticks, Slot: -1, Image: -1}
	err := l.tick(&report)
	if err != nil {
		report.Outcome = OutcomeFailed
		report.Err = err
		err = l.fail(err)
	}
	l.last = report
	if l.state != StateShutdown {
		l.state = StateIdle
	}
	return err
}

func (l *FrameLoop) tick(report *TickReport) error {
	l.drainResizes()
	extent := l.surface.Extent()
	if extent.IsZero() {
		l.stats.Skipped++
		report.Outcome = OutcomeMinimized
		l.log.Debug("tick skipped", "tick", report.Tick, "reason", "minimized")
		return nil
	}
	if l.resizePending {
		if err := l.recreate(extent); err != nil {
			return err
		}
		report.Recreated = true
	}

	l.state = StateAcquiring
	slot := l.sync.NextSlot()
	report.Slot = slot.Index()
	if err := l.sync.WaitAndReset(slot); err != nil {
		return err
	}

	index, err := l.swapchain.AcquireNext(l.acquireTimeout, slot.ImageAvailable())
	if err != nil {
		if rerr := l.sync.Rearm(slot, false); rerr != nil {
			return rerr
		}
		if !errors.Is(err, ErrOutOfDate) {
			return err
		}
		l.stats.Skipped++
		report.Outcome = OutcomeOutOfDate
		report.Recreated = true
		l.log.Debug("tick skipped", "tick", report.Tick, "reason", "out of date")
		return l.recreate(l.surface.Extent())
	}
	report.Image = int(index)
	if err := l.sync.WaitImage(slot, index); err != nil {
		return err
	}

	l.state = StateRecording
	sub, err := l.recorder.Record(slot, index)
	if err != nil {
		var rec *RecordingError
		if errors.As(err, &rec) {
			l.returnImage(slot, index)
		}
		return err
	}

	l.state = StateSubmitting
	if err := l.dc.Queue().Submit(sub.SubmitInfo()); err != nil {
		if errors.Is(err, hal.ErrDeviceLost) {
			return deviceErr("submit", err)
		}
		l.returnImage(slot, index)
		return errors.Wrap(err, "submit")
	}
	l.sync.Release(slot)

	l.state = StatePresenting
	err = l.swapchain.Present(index, slot.RenderFinished())
	if errors.Is(err, ErrOutOfDate) {
		// The frame was consumed; only the chain needs replacing.
		report.Recreated = true
		err = l.recreate(l.surface.Extent())
	}
	if err != nil {
		return err
	}
	l.stats.Frames++
	report.Outcome = OutcomePresented
	return nil
}

// returnImage hands an acquired image back to the presentation engine after
// the tick was abandoned, so the slot and the image are usable again.
func (l *FrameLoop) returnImage(slot *FrameSlot, index uint32) {
	if err := l.sync.Rearm(slot, true); err != nil {
		l.log.Warn("rearm frame slot", "slot", slot.Index(), "err", err)
		return
	}
	err := l.swapchain.Present(index, slot.RenderFinished())
	if errors.Is(err, ErrOutOfDate) {
		l.resizePending = true
	} else if err != nil {
		l.log.Warn("present abandoned image", "image", index, "err", err)
	}
}

// recreate rebuilds the swapchain for extent. A zero extent defers the
// rebuild until the surface has an area again.
func (l *FrameLoop) recreate(extent hal.Extent) error {
	l.state = StateRecreating
	if extent.IsZero() {
		l.resizePending = true
		return nil
	}
	err := l.swapchain.Recreate(extent)
	if errors.Is(err, ErrOutOfDate) {
		// The surface changed again while the chain was being rebuilt.
		l.resizePending = true
		return &SurfaceIncompatibleError{Reason: "surface changed during recreation", Err: err}
	}
	if err != nil {
		return err
	}
	l.resizePending = false
	l.sync.ForgetImages()
	l.stats.Recreations++
	return nil
}

func (l *FrameLoop) drainResizes() {
	ch := l.surface.Resized()
	for {
		select {
		case e := <-ch:
			l.log.Debug("surface resized", "extent", e)
			l.resizePending = true
		default:
			return
		}
	}
}

func (l *FrameLoop) fail(err error) error {
	var rec *RecordingError
	switch {
	case errors.As(err, &rec):
		l.stats.RecordingErrors++
		l.log.Warn("frame dropped", "slot", rec.Slot, "image", rec.Image, "err", rec.Err)
	case isDeviceLost(err):
		l.log.Error("device lost", "err", err)
		if serr := l.Shutdown(); serr != nil {
			l.log.Error("teardown after device loss", "err", serr)
		}
	default:
		l.log.Error("tick failed", "err", err)
	}
	return err
}

func isDeviceLost(err error) bool {
	var lost *DeviceLostError
	return errors.As(err, &lost)
}

// maxConsecutiveFailures ends Run when ticks keep failing without a fatal
// error.
const maxConsecutiveFailures = 3

// Run ticks until Stop is called, ctx is done or a fatal error occurs.
// Dropped frames are logged and do not end the loop. The loop is shut down
// when Run returns.
func (l *FrameLoop) Run(ctx context.Context) error {
	failures := 0
	for {
		if l.pump != nil {
			l.pump()
		}
		err := l.Tick(ctx)
		var rec *RecordingError
		switch {
		case err == nil, errors.As(err, &rec):
			failures = 0
			continue
		case errors.Is(err, ErrStopped):
			return nil
		case !IsFatal(err):
			if failures++; failures < maxConsecutiveFailures {
				continue
			}
		}
		if serr := l.Shutdown(); serr != nil {
			l.log.Error("teardown", "err", serr)
		}
		return err
	}
}

// Shutdown waits for the device to go idle and then destroys the frame
// slots, the swapchain and the device, in that order. It is idempotent.
// Destruction happens even when the wait fails.
func (l *FrameLoop) Shutdown() error {
	if l.state == StateShutdown {
		return nil
	}
	l.state = StateShutdown
	err := l.dc.WaitIdle()
	if err != nil {
		l.log.Error("wait idle before teardown", "err", err)
	}
	l.sync.Destroy()
	l.swapchain.Destroy()
	l.dc.Destroy()
	l.log.Info("frame loop shut down", "frames", l.stats.Frames, "recreations", l.stats.Recreations)
	return err
}
