package vulkan

import (
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/lwestlund/vkrs/hal"
)

// Device is a logical device with its queues and a resettable command pool.
type Device struct {
	instance       *Instance
	gpu            vk.PhysicalDevice
	handle         vk.Device
	graphics       *Queue
	present        *Queue
	graphicsFamily uint32
	presentFamily  uint32
	pool           vk.CommandPool
}

var _ hal.Device = (*Device)(nil)

func newDevice(inst *Instance, gpu vk.PhysicalDevice, handle vk.Device, desc hal.DeviceDescriptor) (*Device, error) {
	d := &Device{
		instance:       inst,
		gpu:            gpu,
		handle:         handle,
		graphicsFamily: desc.GraphicsFamily,
		presentFamily:  desc.PresentFamily,
	}
	var queue vk.Queue
	vk.GetDeviceQueue(handle, desc.GraphicsFamily, 0, &queue)
	d.graphics = &Queue{handle: queue}
	d.present = d.graphics
	if desc.PresentFamily != desc.GraphicsFamily {
		var presentQueue vk.Queue
		vk.GetDeviceQueue(handle, desc.PresentFamily, 0, &presentQueue)
		d.present = &Queue{handle: presentQueue}
	}

	ret := vk.CreateCommandPool(handle, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: desc.GraphicsFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &d.pool)
	if err := newError(ret); err != nil {
		vk.DestroyDevice(handle, nil)
		return nil, errors.Wrap(err, "create command pool")
	}
	return d, nil
}

func (d *Device) GraphicsQueue() hal.Queue { return d.graphics }
func (d *Device) PresentQueue() hal.Queue  { return d.present }

// Handle is the raw device.
func (d *Device) Handle() vk.Device { return d.handle }

func (d *Device) SurfaceSupport(surface hal.Surface) (hal.SurfaceSupport, error) {
	s, ok := surface.(*Surface)
	if !ok {
		return hal.SurfaceSupport{}, errors.Errorf("surface %T is not a vulkan surface", surface)
	}
	return surfaceSupport(d.gpu, s.handle)
}

func surfaceSupport(gpu vk.PhysicalDevice, surface vk.Surface) (support hal.SurfaceSupport, err error) {
	var caps vk.SurfaceCapabilities
	if err := newError(vk.GetPhysicalDeviceSurfaceCapabilities(gpu, surface, &caps)); err != nil {
		return support, errors.Wrap(err, "surface capabilities")
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	support.MinImageCount = caps.MinImageCount
	support.MaxImageCount = caps.MaxImageCount
	support.CurrentExtent = hal.Extent{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height}
	support.MinExtent = hal.Extent{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height}
	support.MaxExtent = hal.Extent{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height}

	var count uint32
	if err := newError(vk.GetPhysicalDeviceSurfaceFormats(gpu, surface, &count, nil)); err != nil {
		return support, errors.Wrap(err, "surface formats")
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := newError(vk.GetPhysicalDeviceSurfaceFormats(gpu, surface, &count, formats)); err != nil {
		return support, errors.Wrap(err, "surface formats")
	}
	for _, f := range formats {
		f.Deref()
		support.Formats = append(support.Formats, hal.SurfaceFormat{
			Format:     hal.Format(f.Format),
			ColorSpace: hal.ColorSpace(f.ColorSpace),
		})
	}

	count = 0
	if err := newError(vk.GetPhysicalDeviceSurfacePresentModes(gpu, surface, &count, nil)); err != nil {
		return support, errors.Wrap(err, "present modes")
	}
	modes := make([]vk.PresentMode, count)
	if err := newError(vk.GetPhysicalDeviceSurfacePresentModes(gpu, surface, &count, modes)); err != nil {
		return support, errors.Wrap(err, "present modes")
	}
	for _, m := range modes {
		support.PresentModes = append(support.PresentModes, hal.PresentMode(m))
	}
	return support, nil
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := newError(vk.CreateFence(d.handle, &info, nil, &fence)); err != nil {
		return nil, errors.Wrap(err, "create fence")
	}
	return &Fence{device: d.handle, handle: fence}, nil
}

func (d *Device) CreateSemaphore() (hal.Semaphore, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(d.handle, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if err := newError(ret); err != nil {
		return nil, errors.Wrap(err, "create semaphore")
	}
	return &Semaphore{device: d.handle, handle: sem}, nil
}

func (d *Device) WaitIdle() error {
	return newError(vk.DeviceWaitIdle(d.handle))
}

// Destroy releases the command pool and the device. Objects created from
// the device must be destroyed first.
func (d *Device) Destroy() {
	if d.handle == nil {
		return
	}
	vk.DestroyCommandPool(d.handle, d.pool, nil)
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
}

// Queue is a device queue.
type Queue struct {
	handle vk.Queue
}

func (q *Queue) Submit(info hal.SubmitInfo) error {
	submit := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo}
	for _, c := range info.Commands {
		submit.PCommandBuffers = append(submit.PCommandBuffers, c.(*CommandBuffer).handle)
	}
	submit.CommandBufferCount = uint32(len(submit.PCommandBuffers))
	for _, s := range info.Wait {
		submit.PWaitSemaphores = append(submit.PWaitSemaphores, s.(*Semaphore).handle)
		submit.PWaitDstStageMask = append(submit.PWaitDstStageMask,
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
	}
	submit.WaitSemaphoreCount = uint32(len(submit.PWaitSemaphores))
	for _, s := range info.Signal {
		submit.PSignalSemaphores = append(submit.PSignalSemaphores, s.(*Semaphore).handle)
	}
	submit.SignalSemaphoreCount = uint32(len(submit.PSignalSemaphores))

	fence := vk.Fence(vk.NullHandle)
	if info.Fence != nil {
		fence = info.Fence.(*Fence).handle
	}
	return newError(vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submit}, fence))
}

// Fence is a VkFence.
type Fence struct {
	device vk.Device
	handle vk.Fence
}

func (f *Fence) Wait(timeout time.Duration) error {
	ns := uint64(vk.MaxUint64)
	if timeout != hal.WaitForever {
		ns = uint64(timeout.Nanoseconds())
	}
	return newError(vk.WaitForFences(f.device, 1, []vk.Fence{f.handle}, vk.True, ns))
}

func (f *Fence) Reset() error {
	return newError(vk.ResetFences(f.device, 1, []vk.Fence{f.handle}))
}

func (f *Fence) Destroy() {
	vk.DestroyFence(f.device, f.handle, nil)
}

// Semaphore is a binary VkSemaphore.
type Semaphore struct {
	device vk.Device
	handle vk.Semaphore
}

func (s *Semaphore) Destroy() {
	vk.DestroySemaphore(s.device, s.handle, nil)
}
