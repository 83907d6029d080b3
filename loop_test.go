package vkrs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwestlund/vkrs/hal"
	"github.com/lwestlund/vkrs/hal/headless"
)

type fixture struct {
	inst    *headless.Instance
	surface *headless.Surface
	loop    *FrameLoop
}

func (f *fixture) device() *headless.Device { return f.inst.Device() }

func openHeadless(t *testing.T, cfg Config, scene SceneRenderer) *fixture {
	t.Helper()
	inst := headless.NewInstance()
	surface := inst.NewSurface(cfg.Extent())
	loop, err := Open(inst, surface, cfg, scene, LoopOptions{})
	require.NoError(t, err)
	return &fixture{inst: inst, surface: surface, loop: loop}
}

func tickN(t *testing.T, loop *FrameLoop, n int) []int {
	t.Helper()
	var slots []int
	for i := 0; i < n; i++ {
		require.NoError(t, loop.Tick(context.Background()))
		slots = append(slots, loop.LastTick().Slot)
	}
	return slots
}

// assertFenceDiscipline checks that every submission using a fence is
// preceded by a reset of that fence, and every reset by a wait.
func assertFenceDiscipline(t *testing.T, trace *headless.Trace) {
	t.Helper()
	perFence := map[string][]string{}
	for _, e := range trace.Events() {
		switch {
		case e.Kind == "fence.wait" || e.Kind == "fence.reset":
			perFence[e.Object] = append(perFence[e.Object], e.Kind)
		case strings.HasPrefix(e.Kind, "queue.submit") && e.Detail != "":
			perFence[e.Detail] = append(perFence[e.Detail], "submit")
		}
	}
	require.NotEmpty(t, perFence)
	for fence, seq := range perFence {
		for i, kind := range seq {
			switch kind {
			case "submit":
				require.Greater(t, i, 0, "%s submitted before any reset: %v", fence, seq)
				assert.Equal(t, "fence.reset", seq[i-1], "%s: %v", fence, seq)
			case "fence.reset":
				require.Greater(t, i, 0, "%s reset before any wait: %v", fence, seq)
				assert.Equal(t, "fence.wait", seq[i-1], "%s: %v", fence, seq)
			}
		}
	}
}

func TestFrameLoopRotatesSlots(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)

	slots := tickN(t, f.loop, 5)
	assert.Equal(t, []int{0, 1, 0, 1, 0}, slots)

	stats := f.device().Stats()
	assert.Equal(t, 5, stats.Submits)
	assert.Equal(t, 5, stats.Presents)
	assert.Equal(t, 5, f.loop.Recorder().Records())
	assert.Equal(t, uint64(5), f.loop.Stats().Frames)
	assert.Equal(t, OutcomePresented, f.loop.LastTick().Outcome)
	assert.Equal(t, StateIdle, f.loop.State())
	assertFenceDiscipline(t, f.inst.Trace())

	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
	assert.Empty(t, f.device().Live())
}

func TestFrameLoopThreeFramesInFlight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesInFlight = 3
	f := openHeadless(t, cfg, nil)

	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, tickN(t, f.loop, 7))
	assertFenceDiscipline(t, f.inst.Trace())
	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopMoreSlotsThanImages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesInFlight = 4
	cfg.ImageCount = 2
	f := openHeadless(t, cfg, nil)
	require.Equal(t, 2, f.loop.Swapchain().ImageCount())

	tickN(t, f.loop, 9)
	assert.Equal(t, uint64(9), f.loop.Stats().Frames)
	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopOutOfDateOnAcquire(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	trace := f.inst.Trace()

	assert.Equal(t, []int{0, 1}, tickN(t, f.loop, 2))
	creates := trace.Count("swapchain.create")
	records := f.loop.Recorder().Records()
	submits := f.device().Stats().Submits

	f.device().FailAcquire(hal.ErrOutOfDate)
	require.NoError(t, f.loop.Tick(context.Background()))

	last := f.loop.LastTick()
	assert.Equal(t, OutcomeOutOfDate, last.Outcome)
	assert.Equal(t, 0, last.Slot)
	assert.Equal(t, -1, last.Image)
	assert.True(t, last.Recreated)
	assert.Equal(t, creates+1, trace.Count("swapchain.create"), "exactly one recreation")
	assert.Equal(t, records, f.loop.Recorder().Records(), "nothing recorded")
	assert.Equal(t, submits, f.device().Stats().Submits, "nothing drawn")

	assert.Equal(t, []int{1, 0}, tickN(t, f.loop, 2))
	stats := f.loop.Stats()
	assert.Equal(t, uint64(4), stats.Frames)
	assert.Equal(t, uint64(1), stats.Skipped)
	assert.Equal(t, uint64(1), stats.Recreations)
	assertFenceDiscipline(t, trace)

	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopSilentResize(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	tickN(t, f.loop, 1)

	size := hal.Extent{Width: 1024, Height: 768}
	f.surface.SetExtent(size)
	require.NoError(t, f.loop.Tick(context.Background()))
	assert.Equal(t, OutcomeOutOfDate, f.loop.LastTick().Outcome)
	assert.Equal(t, size, f.loop.Swapchain().Extent())

	tickN(t, f.loop, 2)
	assert.Equal(t, OutcomePresented, f.loop.LastTick().Outcome)
	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopResizeNotification(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	tickN(t, f.loop, 2)

	size := hal.Extent{Width: 320, Height: 200}
	f.surface.Resize(size)
	require.NoError(t, f.loop.Tick(context.Background()))

	last := f.loop.LastTick()
	assert.Equal(t, OutcomePresented, last.Outcome)
	assert.True(t, last.Recreated)
	assert.Equal(t, size, f.loop.Swapchain().Extent())
	assert.Equal(t, 2, f.loop.Swapchain().Generation())

	require.NoError(t, f.loop.Tick(context.Background()))
	assert.False(t, f.loop.LastTick().Recreated)
	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopOutOfDateOnPresent(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	f.device().FailPresent(hal.ErrOutOfDate)

	require.NoError(t, f.loop.Tick(context.Background()))
	last := f.loop.LastTick()
	assert.Equal(t, OutcomePresented, last.Outcome)
	assert.True(t, last.Recreated)
	assert.Equal(t, 2, f.loop.Swapchain().Generation())

	tickN(t, f.loop, 3)
	assert.Equal(t, uint64(4), f.loop.Stats().Frames)
	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopSuboptimalAcquire(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	f.device().FailAcquire(hal.ErrSuboptimal)

	require.NoError(t, f.loop.Tick(context.Background()))
	last := f.loop.LastTick()
	assert.Equal(t, OutcomePresented, last.Outcome, "the acquired image is still rendered")
	assert.True(t, last.Recreated)
	assert.Equal(t, 1, f.device().Stats().Submits)

	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopMinimized(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	tickN(t, f.loop, 1)
	acquires := f.device().Stats().Acquires

	f.surface.Resize(hal.Extent{})
	for i := 0; i < 3; i++ {
		require.NoError(t, f.loop.Tick(context.Background()))
		assert.Equal(t, OutcomeMinimized, f.loop.LastTick().Outcome)
		assert.Equal(t, -1, f.loop.LastTick().Slot)
	}
	assert.Equal(t, acquires, f.device().Stats().Acquires)
	assert.Equal(t, 1, f.loop.Swapchain().Generation(), "no recreation while minimized")

	restored := hal.Extent{Width: 640, Height: 480}
	f.surface.Resize(restored)
	require.NoError(t, f.loop.Tick(context.Background()))
	assert.Equal(t, OutcomePresented, f.loop.LastTick().Outcome)
	assert.True(t, f.loop.LastTick().Recreated)
	assert.Equal(t, restored, f.loop.Swapchain().Extent())
	assert.Equal(t, 1, f.loop.LastTick().Slot, "slot rotation continues where it left off")

	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopRecordingErrorDropsOneFrame(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	f.device().FailRecording(errors.New("out of host memory"))

	err := f.loop.Tick(context.Background())
	var rec *RecordingError
	require.True(t, errors.As(err, &rec), "got %v", err)
	assert.Equal(t, 0, rec.Slot)
	assert.False(t, IsFatal(err))
	assert.Equal(t, OutcomeFailed, f.loop.LastTick().Outcome)
	assert.Equal(t, StateIdle, f.loop.State())
	assert.Equal(t, 0, f.device().Stats().Submits)
	assert.Equal(t, 1, f.device().Stats().Presents, "the acquired image is handed back")

	tickN(t, f.loop, 4)
	stats := f.loop.Stats()
	assert.Equal(t, uint64(4), stats.Frames)
	assert.Equal(t, uint64(1), stats.RecordingErrors)
	assertFenceDiscipline(t, f.inst.Trace())

	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopSceneError(t *testing.T) {
	calls := 0
	scene := SceneRendererFunc(func(cmd hal.CommandBuffer, target Target) error {
		calls++
		if calls == 2 {
			return errors.New("missing pipeline")
		}
		return nil
	})
	f := openHeadless(t, DefaultConfig(), scene)

	require.NoError(t, f.loop.Tick(context.Background()))
	err := f.loop.Tick(context.Background())
	var rec *RecordingError
	require.True(t, errors.As(err, &rec))
	assert.Contains(t, err.Error(), "missing pipeline")
	require.NoError(t, f.loop.Tick(context.Background()))

	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopDeviceLostIsFatal(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	tickN(t, f.loop, 1)

	f.device().Lose()
	err := f.loop.Tick(context.Background())
	var lost *DeviceLostError
	require.True(t, errors.As(err, &lost), "got %v", err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, StateShutdown, f.loop.State())
	assert.Empty(t, f.device().Live(), "teardown still runs")

	assert.Equal(t, ErrStopped, f.loop.Tick(context.Background()))
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopFenceTimeoutIsDeviceLost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FenceTimeout = time.Millisecond
	f := openHeadless(t, cfg, nil)
	tickN(t, f.loop, 1)

	f.device().Hang()
	require.NoError(t, f.loop.Tick(context.Background()))
	err := f.loop.Tick(context.Background())
	var lost *DeviceLostError
	require.True(t, errors.As(err, &lost), "got %v", err)
	assert.True(t, errors.Is(err, hal.ErrTimeout))
	assert.Equal(t, StateShutdown, f.loop.State())
}

func TestShutdownWaitsIdleBeforeDestroying(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	tickN(t, f.loop, 3)
	trace := f.inst.Trace()
	trace.Reset()

	require.NoError(t, f.loop.Shutdown())
	events := trace.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "device.wait_idle", events[0].Kind)
	for _, e := range events[1:] {
		if e.Kind == "fence.signal" {
			// Work completing inside the wait.
			continue
		}
		assert.True(t, strings.HasSuffix(e.Kind, ".destroy"), "unexpected %s", e)
	}

	order := trace.Kinds("")
	last := func(kind string) int {
		idx := -1
		for i, k := range order {
			if k == kind {
				idx = i
			}
		}
		return idx
	}
	assert.Less(t, last("fence.destroy"), last("swapchain.destroy"))
	assert.Less(t, last("swapchain.destroy"), trace.First("device.destroy"))
	assert.Less(t, trace.First("device.destroy"), trace.First("surface.destroy"))
	assert.Less(t, trace.First("surface.destroy"), trace.First("instance.destroy"))

	assert.Equal(t, StateShutdown, f.loop.State())
	require.NoError(t, f.loop.Shutdown(), "shutdown is idempotent")
	assert.Equal(t, 1, trace.Count("device.destroy"))
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopStopAtIdleBoundary(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	tickN(t, f.loop, 2)

	f.loop.Stop()
	assert.Equal(t, StateIdle, f.loop.State())
	assert.Equal(t, ErrStopped, f.loop.Tick(context.Background()))
	assert.Equal(t, StateShutdown, f.loop.State())
	assert.Equal(t, uint64(2), f.loop.Stats().Ticks)
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopRun(t *testing.T) {
	inst := headless.NewInstance()
	surface := inst.NewSurface(hal.Extent{Width: 800, Height: 600})
	var loop *FrameLoop
	pumps := 0
	loop, err := Open(inst, surface, DefaultConfig(), nil, LoopOptions{
		Pump: func() {
			pumps++
			if pumps > 4 {
				loop.Stop()
			}
		},
	})
	require.NoError(t, err)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, uint64(4), loop.Stats().Frames)
	assert.Equal(t, StateShutdown, loop.State())
	assert.Empty(t, inst.Violations())
}

func TestFrameLoopRunContinuesAfterRecordingError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	scene := SceneRendererFunc(func(hal.CommandBuffer, Target) error {
		calls++
		if calls == 6 {
			cancel()
		}
		if calls%2 == 0 {
			return errors.New("flaky")
		}
		return nil
	})
	f := openHeadless(t, DefaultConfig(), scene)

	require.NoError(t, f.loop.Run(ctx))
	stats := f.loop.Stats()
	assert.Equal(t, uint64(3), stats.Frames)
	assert.Equal(t, uint64(3), stats.RecordingErrors)
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopRunReturnsFatalError(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	ticks := 0
	f.loop.pump = func() {
		ticks++
		if ticks == 3 {
			f.device().Lose()
		}
	}

	err := f.loop.Run(context.Background())
	var lost *DeviceLostError
	require.True(t, errors.As(err, &lost), "got %v", err)
	assert.Equal(t, uint64(2), f.loop.Stats().Frames)
	assert.Equal(t, StateShutdown, f.loop.State())
}

func TestFrameLoopRecreationOutOfDateIsSurfaceIncompatible(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	tickN(t, f.loop, 1)

	// The rebuild targets a size the surface no longer has.
	f.surface.UndefinedExtent = true
	err := f.loop.recreate(hal.Extent{Width: 10, Height: 10})
	var incompatible *SurfaceIncompatibleError
	require.True(t, errors.As(err, &incompatible), "got %v", err)
	assert.True(t, errors.Is(err, ErrOutOfDate))
	assert.Equal(t, 0, f.loop.Swapchain().ImageCount())

	// The next tick retries with the real size.
	require.NoError(t, f.loop.Tick(context.Background()))
	last := f.loop.LastTick()
	assert.Equal(t, OutcomePresented, last.Outcome)
	assert.True(t, last.Recreated)
	assert.Equal(t, hal.Extent{Width: 800, Height: 600}, f.loop.Swapchain().Extent())

	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestFrameLoopRecreateFollowsSurfaceFormats(t *testing.T) {
	f := openHeadless(t, DefaultConfig(), nil)
	tickN(t, f.loop, 1)

	f.surface.Formats = []hal.SurfaceFormat{{Format: hal.FormatR8G8B8A8Unorm}}
	f.surface.Resize(hal.Extent{Width: 400, Height: 300})
	require.NoError(t, f.loop.Tick(context.Background()))
	assert.Equal(t, hal.FormatR8G8B8A8Unorm, f.loop.Swapchain().Format().Format)

	require.NoError(t, f.loop.Shutdown())
	assert.Empty(t, f.inst.Violations())
}

func TestOpenMinimizedDefersSwapchain(t *testing.T) {
	inst := headless.NewInstance()
	surface := inst.NewSurface(hal.Extent{})
	loop, err := Open(inst, surface, DefaultConfig(), nil, LoopOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, loop.Swapchain().Generation())
	assert.Equal(t, 0, loop.Swapchain().ImageCount())
	assert.Equal(t, 0, inst.Trace().Count("swapchain.build"), "no zero sized chain")

	require.NoError(t, loop.Tick(context.Background()))
	assert.Equal(t, OutcomeMinimized, loop.LastTick().Outcome)

	restored := hal.Extent{Width: 640, Height: 480}
	surface.SetExtent(restored)
	require.NoError(t, loop.Tick(context.Background()))
	last := loop.LastTick()
	assert.Equal(t, OutcomePresented, last.Outcome)
	assert.True(t, last.Recreated)
	assert.Equal(t, 0, last.Slot)
	assert.Equal(t, restored, loop.Swapchain().Extent())
	assert.Equal(t, 1, loop.Swapchain().Generation())

	require.NoError(t, loop.Shutdown())
	assert.Empty(t, inst.Violations())
}
