package vkrs

import (
	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

// Target describes the image a tick renders into.
type Target struct {
	Image  hal.Image
	Index  uint32
	Extent hal.Extent
	Format hal.SurfaceFormat
}

// SceneRenderer records the draw commands of one frame. It runs inside an
// active rendering scope with viewport and scissor already set.
type SceneRenderer interface {
	Draw(cmd hal.CommandBuffer, target Target) error
}

// SceneRendererFunc adapts a function to SceneRenderer.
type SceneRendererFunc func(cmd hal.CommandBuffer, target Target) error

func (f SceneRendererFunc) Draw(cmd hal.CommandBuffer, target Target) error {
	return f(cmd, target)
}

// ClearOnly draws nothing, leaving the image at its clear color.
var ClearOnly SceneRenderer = SceneRendererFunc(func(hal.CommandBuffer, Target) error { return nil })

// Submission is a recorded command buffer that has not been submitted yet.
type Submission struct {
	Slot       *FrameSlot
	ImageIndex uint32
	Commands   hal.CommandBuffer
}

// SubmitInfo waits on the slot's image-available semaphore and signals its
// render-finished semaphore and fence.
func (s *Submission) SubmitInfo() hal.SubmitInfo {
	return hal.SubmitInfo{
		Commands: []hal.CommandBuffer{s.Commands},
		Wait:     []hal.Semaphore{s.Slot.ImageAvailable()},
		Signal:   []hal.Semaphore{s.Slot.RenderFinished()},
		Fence:    s.Slot.Fence(),
	}
}

// CommandRecorder fills a slot's command buffer for one swapchain image.
type CommandRecorder struct {
	swapchain *SwapchainManager
	scene     SceneRenderer
	clear     hal.Color
	records   int
}

// NewCommandRecorder uses ClearOnly when scene is nil.
func NewCommandRecorder(swapchain *SwapchainManager, scene SceneRenderer, clear hal.Color) *CommandRecorder {
	if scene == nil {
		scene = ClearOnly
	}
	return &CommandRecorder{swapchain: swapchain, scene: scene, clear: clear}
}

// Records counts calls to Record.
func (r *CommandRecorder) Records() int { return r.records }

// Record builds the command buffer of slot for image index. It touches no
// resources but the slot's own and the target image.
func (r *CommandRecorder) Record(slot *FrameSlot, index uint32) (*Submission, error) {
	r.records++
	fail := func(err error) error {
		if errors.Is(err, hal.ErrDeviceLost) {
			return &DeviceLostError{Op: "record", Err: err}
		}
		return &RecordingError{Slot: slot.Index(), Image: index, Err: err}
	}
	if !slot.CheckedOut() {
		return nil, fail(errors.New("slot is not checked out"))
	}
	img := r.swapchain.Image(index)
	if img == nil {
		return nil, fail(errors.Errorf("swapchain has no image %d", index))
	}
	extent := r.swapchain.Extent()
	target := Target{Image: img, Index: index, Extent: extent, Format: r.swapchain.Format()}

	cmd := slot.Commands()
	if err := cmd.Reset(); err != nil {
		return nil, fail(errors.Wrap(err, "reset"))
	}
	if err := cmd.Begin(); err != nil {
		return nil, fail(errors.Wrap(err, "begin"))
	}
	if err := cmd.BeginRendering(img, r.clear); err != nil {
		return nil, fail(errors.Wrap(err, "begin rendering"))
	}
	cmd.SetViewport(hal.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MaxDepth: 1,
	})
	cmd.SetScissor(hal.Rect{Extent: extent})
	if err := r.scene.Draw(cmd, target); err != nil {
		cmd.EndRendering()
		return nil, fail(errors.Wrap(err, "draw"))
	}
	cmd.EndRendering()
	if err := cmd.End(); err != nil {
		return nil, fail(errors.Wrap(err, "end"))
	}
	return &Submission{Slot: slot, ImageIndex: index, Commands: cmd}, nil
}
