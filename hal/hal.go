// Package hal is the hardware abstraction the frame core issues its GPU calls
// against. The production implementation lives in hal/vulkan; hal/headless is
// an in-process simulation used by tests and headless runs.
//
// Handles are owned by whoever created them and must be destroyed explicitly.
// None of the types in this package are safe for concurrent use unless noted.
package hal

import (
	"math"
	"time"
)

// WaitForever disables the timeout of a blocking wait.
const WaitForever time.Duration = math.MaxInt64

// UndefinedExtentSize is reported as the current surface width and height
// when the surface size is decided by the swapchain that targets it.
const UndefinedExtentSize = math.MaxUint32

// Instance is a loaded graphics API instance.
type Instance interface {
	// Adapters lists the physical devices together with what they can do for
	// the given surface.
	Adapters(surface Surface) ([]AdapterInfo, error)
	// OpenDevice creates the logical device on the adapter with index adapter.
	OpenDevice(adapter int, desc DeviceDescriptor) (Device, error)
	// Destroy releases the instance. Every object created from it must be
	// destroyed first.
	Destroy()
}

// Surface is a presentable target supplied by the windowing layer.
type Surface interface {
	Destroy()
}

// Device is an opened logical device.
type Device interface {
	// GraphicsQueue is stable for the lifetime of the device.
	GraphicsQueue() Queue
	// PresentQueue may be the same queue as GraphicsQueue.
	PresentQueue() Queue
	// SurfaceSupport reports capabilities, formats and present modes of a surface.
	SurfaceSupport(surface Surface) (SurfaceSupport, error)
	// CreateSwapchain builds a swapchain. old may be nil; when set it is retired
	// but not destroyed.
	CreateSwapchain(desc SwapchainDescriptor, old Swapchain) (Swapchain, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateCommandBuffer() (CommandBuffer, error)
	// WaitIdle blocks until all queues are idle.
	WaitIdle() error
	Destroy()
}

// Queue accepts command submissions.
type Queue interface {
	// Submit enqueues a batch. An empty Commands list is valid and still
	// orders the semaphore operations and signals the fence.
	Submit(info SubmitInfo) error
}

// SubmitInfo describes one queue submission.
type SubmitInfo struct {
	Commands []CommandBuffer
	Wait     []Semaphore
	Signal   []Semaphore
	// Fence is signaled when the batch completes. May be nil.
	Fence Fence
}

// Swapchain is a chain of presentable images.
type Swapchain interface {
	Images() []Image
	Extent() Extent
	Format() SurfaceFormat
	PresentMode() PresentMode
	// AcquireNext returns the index of the next writable image and arranges for
	// signal to be signaled once the presentation engine releases it.
	// ErrOutOfDate reports a surface mismatch; no image was acquired.
	// ErrSuboptimal is returned together with a valid, acquired index.
	AcquireNext(timeout time.Duration, signal Semaphore) (uint32, error)
	// Present queues image index for display once wait is signaled.
	Present(queue Queue, index uint32, wait Semaphore) error
	Destroy()
}

// Image is one presentable image of a swapchain and its attachments.
type Image interface {
	Index() uint32
}

// Fence is a CPU-observable completion signal.
type Fence interface {
	// Wait blocks until the fence is signaled. It returns ErrTimeout when the
	// timeout expires first and ErrDeviceLost when the device is lost.
	Wait(timeout time.Duration) error
	Reset() error
	Destroy()
}

// Semaphore orders GPU work without CPU involvement.
type Semaphore interface {
	Destroy()
}

// CommandBuffer records GPU commands. It is owned by a single frame slot.
type CommandBuffer interface {
	Reset() error
	Begin() error
	// BeginRendering starts rendering into a swapchain image, clearing it.
	BeginRendering(target Image, clear Color) error
	SetViewport(v Viewport)
	SetScissor(r Rect)
	EndRendering()
	End() error
	Destroy()
}

// Color is a linear RGBA clear color.
type Color [4]float32

// Viewport maps normalized device coordinates to framebuffer coordinates.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// Rect is an integer rectangle in framebuffer coordinates.
type Rect struct {
	X, Y   int32
	Extent Extent
}
