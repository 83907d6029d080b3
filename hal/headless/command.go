package headless

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/lwestlund/vkrs/hal"
)

type cmdState int

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
)

func (s cmdState) String() string {
	switch s {
	case cmdRecording:
		return "recording"
	case cmdExecutable:
		return "executable"
	}
	return "initial"
}

// CommandBuffer is a headless hal.CommandBuffer. It records nothing but its
// state transitions.
type CommandBuffer struct {
	dev       *Device
	name      string
	state     cmdState
	rendering bool
	pending   *batch

	target   *Image
	viewport hal.Viewport
	scissor  hal.Rect
	clear    hal.Color
}

// Name identifies the command buffer in the trace.
func (c *CommandBuffer) Name() string { return c.name }

// Target returns the index of the image of the last BeginRendering.
func (c *CommandBuffer) Target() (uint32, bool) {
	if c.target == nil {
		return 0, false
	}
	return c.target.index, true
}

// Viewport returns the last viewport set.
func (c *CommandBuffer) Viewport() hal.Viewport { return c.viewport }

// Scissor returns the last scissor set.
func (c *CommandBuffer) Scissor() hal.Rect { return c.scissor }

// ClearColor returns the clear color of the last BeginRendering.
func (c *CommandBuffer) ClearColor() hal.Color { return c.clear }

func (c *CommandBuffer) Reset() error {
	c.dev.trace.record("cmd.reset", c.name, "")
	if c.pending != nil {
		c.dev.trace.violate("reset of in-flight %s", c.name)
	}
	c.state = cmdInitial
	c.rendering = false
	c.target = nil
	return nil
}

func (c *CommandBuffer) Begin() error {
	c.dev.trace.record("cmd.begin", c.name, "")
	if err := popErr(&c.dev.beginErrs); err != nil {
		return err
	}
	if c.pending != nil {
		c.dev.trace.violate("begin of in-flight %s", c.name)
	}
	c.state = cmdRecording
	c.rendering = false
	return nil
}

func (c *CommandBuffer) BeginRendering(target hal.Image, clear hal.Color) error {
	img, ok := target.(*Image)
	if !ok {
		return errors.Errorf("headless: foreign image %T", target)
	}
	c.dev.trace.record("cmd.begin_rendering", c.name, fmt.Sprintf("%s image %d", img.sc.name, img.index))
	if c.state != cmdRecording {
		c.dev.trace.violate("begin rendering on %s in state %s", c.name, c.state)
	}
	if c.rendering {
		c.dev.trace.violate("nested rendering on %s", c.name)
	}
	if img.sc.destroyed || img.sc.retired {
		c.dev.trace.violate("rendering into stale %s", img.sc.name)
	}
	if !img.acquired {
		c.dev.trace.violate("rendering into unacquired image %d of %s", img.index, img.sc.name)
	}
	c.rendering = true
	c.target = img
	c.clear = clear
	return nil
}

func (c *CommandBuffer) SetViewport(v hal.Viewport) {
	c.dev.trace.record("cmd.set_viewport", c.name, "")
	c.viewport = v
}

func (c *CommandBuffer) SetScissor(r hal.Rect) {
	c.dev.trace.record("cmd.set_scissor", c.name, "")
	c.scissor = r
}

func (c *CommandBuffer) EndRendering() {
	c.dev.trace.record("cmd.end_rendering", c.name, "")
	if !c.rendering {
		c.dev.trace.violate("end rendering on %s without begin", c.name)
	}
	c.rendering = false
}

func (c *CommandBuffer) End() error {
	c.dev.trace.record("cmd.end", c.name, "")
	if c.state != cmdRecording {
		return errors.Errorf("headless: end of %s in state %s", c.name, c.state)
	}
	if c.rendering {
		c.dev.trace.violate("end of %s inside rendering", c.name)
	}
	c.state = cmdExecutable
	return nil
}

func (c *CommandBuffer) Destroy() {
	if c.pending != nil && !c.dev.lost {
		c.dev.trace.violate("destroy of in-flight %s", c.name)
	}
	c.dev.untrack("cmd", c.name)
}
