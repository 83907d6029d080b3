package vulkan

import (
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/lwestlund/vkrs/hal"
)

// Swapchain owns a VkSwapchainKHR together with the image views, render
// pass and framebuffers that target its images.
type Swapchain struct {
	device     *Device
	handle     vk.Swapchain
	renderPass vk.RenderPass
	images     []*Image
	extent     hal.Extent
	format     hal.SurfaceFormat
	mode       hal.PresentMode
}

// Image is one swapchain image and its framebuffer.
type Image struct {
	chain       *Swapchain
	index       uint32
	image       vk.Image
	view        vk.ImageView
	framebuffer vk.Framebuffer
}

func (i *Image) Index() uint32 { return i.index }

func (d *Device) CreateSwapchain(desc hal.SwapchainDescriptor, old hal.Swapchain) (_ hal.Swapchain, err error) {
	surface, ok := desc.Surface.(*Surface)
	if !ok {
		return nil, errors.Errorf("surface %T is not a vulkan surface", desc.Surface)
	}
	var caps vk.SurfaceCapabilities
	if err := newError(vk.GetPhysicalDeviceSurfaceCapabilities(d.gpu, surface.handle, &caps)); err != nil {
		return nil, errors.Wrap(err, "surface capabilities")
	}
	caps.Deref()

	// Prefer a non-rotated transform.
	preTransform := caps.CurrentTransform
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&vk.SurfaceTransformIdentityBit != 0 {
		preTransform = vk.SurfaceTransformIdentityBit
	}

	// One of these is guaranteed to be set.
	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	oldHandle := vk.Swapchain(vk.NullHandle)
	if old != nil {
		oldHandle = old.(*Swapchain).handle
	}
	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface.handle,
		MinImageCount:    desc.ImageCount,
		ImageFormat:      vk.Format(desc.Format.Format),
		ImageColorSpace:  vk.ColorSpace(desc.Format.ColorSpace),
		ImageExtent:      vk.Extent2D{Width: desc.Extent.Width, Height: desc.Extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     preTransform,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentMode(desc.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     oldHandle,
	}
	if d.graphicsFamily != d.presentFamily {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{d.graphicsFamily, d.presentFamily}
	}

	sc := &Swapchain{
		device: d,
		extent: desc.Extent,
		format: desc.Format,
		mode:   desc.PresentMode,
	}
	if err := newError(vk.CreateSwapchain(d.handle, &info, nil, &sc.handle)); err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}
	defer func() {
		if err != nil {
			sc.Destroy()
		}
	}()
	if err := sc.createRenderPass(); err != nil {
		return nil, err
	}
	if err := sc.createImages(); err != nil {
		return nil, err
	}
	return sc, nil
}

// createRenderPass builds a single color attachment pass that clears the
// image and leaves it ready for presentation.
func (s *Swapchain) createRenderPass() error {
	attachments := []vk.AttachmentDescription{{
		Format:         vk.Format(s.format.Format),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}}
	colorRefs := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	subpasses := []vk.SubpassDescription{{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    colorRefs,
	}}
	// The image may still be read by the presentation engine until the
	// acquire semaphore wait at the color output stage.
	dependencies := []vk.SubpassDependency{{
		SrcSubpass:    vk.MaxUint32,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}}
	ret := vk.CreateRenderPass(s.device.handle, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}, nil, &s.renderPass)
	return errors.Wrap(newError(ret), "create render pass")
}

func (s *Swapchain) createImages() error {
	dev := s.device.handle
	var count uint32
	if err := newError(vk.GetSwapchainImages(dev, s.handle, &count, nil)); err != nil {
		return errors.Wrap(err, "swapchain images")
	}
	handles := make([]vk.Image, count)
	if err := newError(vk.GetSwapchainImages(dev, s.handle, &count, handles)); err != nil {
		return errors.Wrap(err, "swapchain images")
	}

	for i, handle := range handles {
		img := &Image{chain: s, index: uint32(i), image: handle}
		s.images = append(s.images, img)

		ret := vk.CreateImageView(dev, &vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    handle,
			ViewType: vk.ImageViewType2d,
			Format:   vk.Format(s.format.Format),
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleR,
				G: vk.ComponentSwizzleG,
				B: vk.ComponentSwizzleB,
				A: vk.ComponentSwizzleA,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}, nil, &img.view)
		if err := newError(ret); err != nil {
			return errors.Wrapf(err, "image view %d", i)
		}

		ret = vk.CreateFramebuffer(dev, &vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      s.renderPass,
			AttachmentCount: 1,
			PAttachments:    []vk.ImageView{img.view},
			Width:           s.extent.Width,
			Height:          s.extent.Height,
			Layers:          1,
		}, nil, &img.framebuffer)
		if err := newError(ret); err != nil {
			return errors.Wrapf(err, "framebuffer %d", i)
		}
	}
	return nil
}

func (s *Swapchain) Images() []hal.Image {
	out := make([]hal.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

func (s *Swapchain) Extent() hal.Extent           { return s.extent }
func (s *Swapchain) Format() hal.SurfaceFormat    { return s.format }
func (s *Swapchain) PresentMode() hal.PresentMode { return s.mode }

func (s *Swapchain) AcquireNext(timeout time.Duration, signal hal.Semaphore) (uint32, error) {
	ns := uint64(vk.MaxUint64)
	if timeout != hal.WaitForever {
		ns = uint64(timeout.Nanoseconds())
	}
	var index uint32
	ret := vk.AcquireNextImage(s.device.handle, s.handle, ns,
		signal.(*Semaphore).handle, vk.Fence(vk.NullHandle), &index)
	switch ret {
	case vk.Success:
		return index, nil
	case vk.Suboptimal:
		return index, hal.ErrSuboptimal
	}
	return 0, newError(ret)
}

func (s *Swapchain) Present(queue hal.Queue, index uint32, wait hal.Semaphore) error {
	ret := vk.QueuePresent(queue.(*Queue).handle, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait.(*Semaphore).handle},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{index},
	})
	return newError(ret)
}

// Destroy releases the framebuffers, views, render pass and swapchain. The
// device must be idle.
func (s *Swapchain) Destroy() {
	dev := s.device.handle
	for _, img := range s.images {
		if img.framebuffer != vk.Framebuffer(vk.NullHandle) {
			vk.DestroyFramebuffer(dev, img.framebuffer, nil)
		}
		if img.view != vk.ImageView(vk.NullHandle) {
			vk.DestroyImageView(dev, img.view, nil)
		}
	}
	s.images = nil
	if s.renderPass != vk.RenderPass(vk.NullHandle) {
		vk.DestroyRenderPass(dev, s.renderPass, nil)
		s.renderPass = vk.RenderPass(vk.NullHandle)
	}
	if s.handle != vk.Swapchain(vk.NullHandle) {
		vk.DestroySwapchain(dev, s.handle, nil)
		s.handle = vk.Swapchain(vk.NullHandle)
	}
}
