package main

import (
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/lwestlund/vkrs"
	"github.com/lwestlund/vkrs/hal"
	"github.com/lwestlund/vkrs/hal/vulkan"
)

// window is a glfw window without a client API that presents through a
// Vulkan surface.
type window struct {
	handle  *glfw.Window
	surface *vulkan.Surface
	resized chan hal.Extent
}

var _ vkrs.SurfaceProvider = (*window)(nil)

// newWindow initializes glfw and the Vulkan loader and opens a resizable
// window of the configured size. The caller must be on the main thread.
func newWindow(cfg vkrs.Config) (*window, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "glfw init")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.New("glfw: vulkan is not supported")
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	handle, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.AppName, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "create window")
	}

	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		handle.Destroy()
		glfw.Terminate()
		return nil, errors.Wrap(err, "vulkan init")
	}

	w := &window{handle: handle, resized: make(chan hal.Extent, 1)}
	handle.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		e := hal.Extent{Width: uint32(width), Height: uint32(height)}
		// Only the latest size matters.
		select {
		case <-w.resized:
		default:
		}
		w.resized <- e
	})
	return w, nil
}

// InstanceExtensions are the extensions glfw needs to create a surface.
func (w *window) InstanceExtensions() []string {
	return w.handle.GetRequiredInstanceExtensions()
}

// CreateSurface creates the window surface on inst.
func (w *window) CreateSurface(inst *vulkan.Instance) error {
	ptr, err := w.handle.CreateWindowSurface(inst.Handle(), nil)
	if err != nil {
		return errors.Wrap(err, "create window surface")
	}
	w.surface = inst.WrapSurface(vk.SurfaceFromPointer(ptr))
	return nil
}

func (w *window) Surface() hal.Surface { return w.surface }

func (w *window) Extent() hal.Extent {
	width, height := w.handle.GetFramebufferSize()
	return hal.Extent{Width: uint32(width), Height: uint32(height)}
}

func (w *window) Resized() <-chan hal.Extent { return w.resized }

func (w *window) PollEvents() { glfw.PollEvents() }

func (w *window) WaitEvents(timeout float64) { glfw.WaitEventsTimeout(timeout) }

func (w *window) ShouldClose() bool { return w.handle.ShouldClose() }

func (w *window) Destroy() {
	w.handle.Destroy()
	glfw.Terminate()
}
