package vulkan

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/lwestlund/vkrs/hal"
)

// CommandBuffer is a primary command buffer from the device pool.
type CommandBuffer struct {
	device *Device
	handle vk.CommandBuffer
}

func (d *Device) CreateCommandBuffer() (hal.CommandBuffer, error) {
	buffers := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(d.handle, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers)
	if err := newError(ret); err != nil {
		return nil, errors.Wrap(err, "allocate command buffer")
	}
	return &CommandBuffer{device: d, handle: buffers[0]}, nil
}

func (c *CommandBuffer) Reset() error {
	return newError(vk.ResetCommandBuffer(c.handle,
		vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit)))
}

func (c *CommandBuffer) Begin() error {
	return newError(vk.BeginCommandBuffer(c.handle, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
}

func (c *CommandBuffer) BeginRendering(target hal.Image, clear hal.Color) error {
	img, ok := target.(*Image)
	if !ok {
		return errors.Errorf("image %T is not a vulkan swapchain image", target)
	}
	extent := img.chain.extent
	vk.CmdBeginRenderPass(c.handle, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  img.chain.renderPass,
		Framebuffer: img.framebuffer,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		},
		ClearValueCount: 1,
		PClearValues:    []vk.ClearValue{vk.NewClearValue(clear[:])},
	}, vk.SubpassContentsInline)
	return nil
}

func (c *CommandBuffer) SetViewport(v hal.Viewport) {
	vk.CmdSetViewport(c.handle, 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
}

func (c *CommandBuffer) SetScissor(r hal.Rect) {
	vk.CmdSetScissor(c.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height},
	}})
}

func (c *CommandBuffer) EndRendering() {
	vk.CmdEndRenderPass(c.handle)
}

func (c *CommandBuffer) End() error {
	return newError(vk.EndCommandBuffer(c.handle))
}

// Handle is the raw command buffer, for scene renderers that issue their own
// draw calls.
func (c *CommandBuffer) Handle() vk.CommandBuffer { return c.handle }

func (c *CommandBuffer) Destroy() {
	vk.FreeCommandBuffers(c.device.handle, c.device.pool, 1, []vk.CommandBuffer{c.handle})
}
