// Package gputest is an in-memory implementation of the gpu object model for
// tests. It counts live objects per kind, journals protocol calls, plays back
// scripted acquire and present results, and records synchronization misuse
// (reused signaled semaphores, submits against busy fences, destroying busy
// objects) as violations instead of crashing.
package gputest

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/presentation/gpu"
)

// Journal operations.
const (
	OpWaitFences       = "WaitForFences"
	OpResetFences      = "ResetFences"
	OpWaitIdle         = "WaitIdle"
	OpAcquire          = "AcquireNextImage"
	OpSubmit           = "Submit"
	OpPresent          = "Present"
	OpCreateSwapchain  = "CreateSwapchain"
	OpDestroySwapchain = "DestroySwapchain"
)

// AcquireStep is one scripted AcquireNextImage outcome.
type AcquireStep struct {
	Index  int
	Result gpu.Result
}

// Submission captures the arguments of one queue submit.
type Submission struct {
	Fence         *Fence
	CommandBuffer *CommandBuffer
	Wait          *Semaphore
	Signal        *Semaphore
}

type Backend struct {
	Devices        []*PhysicalDevice
	Caps           gpu.SurfaceCapabilities
	SurfaceFormats []gpu.SurfaceFormat
	PresentModes   []gpu.PresentMode
	// ExtraImages is added to the requested minimum image count when a
	// swapchain is created, like drivers that hand out more than asked.
	ExtraImages int
	// HoldFences keeps submitted fences pending; waits on them time out.
	HoldFences bool
	// BeforeAcquire, if set, runs at the start of every AcquireNextImage.
	BeforeAcquire func()

	live       map[gpu.ObjectKind]int
	created    map[gpu.ObjectKind]int
	failures   map[gpu.ObjectKind]error
	journal    []string
	violations []string

	acquireScript []AcquireStep
	presentScript []gpu.Result
	nextImage     int
	lost          bool
	nextID        int

	Submissions  []Submission
	Presented    []int
	RenderAreas  []gpu.Extent
	Swapchains   []*Swapchain
	Framebuffers []*Framebuffer
	Device       *Device

	instance *Instance
	surface  *Surface
}

// New returns a backend with a single discrete device exposing one
// graphics+present queue family, and an 800x600 surface offering a BGRA unorm
// format with FIFO and mailbox presentation.
func New() *Backend {
	b := &Backend{
		Caps: gpu.SurfaceCapabilities{
			MinImageCount:  2,
			MaxImageCount:  8,
			CurrentExtent:  gpu.Extent{Width: 800, Height: 600},
			MinImageExtent: gpu.Extent{Width: 1, Height: 1},
			MaxImageExtent: gpu.Extent{Width: 4096, Height: 4096},
		},
		SurfaceFormats: []gpu.SurfaceFormat{{Format: gpu.FormatB8G8R8A8UNorm, ColorSpace: gpu.ColorSpaceSRGBNonlinear}},
		PresentModes:   []gpu.PresentMode{gpu.PresentModeFIFO, gpu.PresentModeMailbox},
		live:           map[gpu.ObjectKind]int{},
		created:        map[gpu.ObjectKind]int{},
		failures:       map[gpu.ObjectKind]error{},
	}
	b.AddDevice("Fake Discrete", gpu.DeviceTypeDiscrete)
	return b
}

// AddDevice appends a physical device with a geometry-capable feature set and
// a single graphics+present queue family.
func (b *Backend) AddDevice(name string, deviceType gpu.DeviceType) *PhysicalDevice {
	device := &PhysicalDevice{
		backend:        b,
		DeviceName:     name,
		DeviceType:     deviceType,
		DeviceFeatures: gpu.Features{GeometryShader: true},
		Families:       []gpu.QueueFamily{{Graphics: true, QueueCount: 1}},
	}
	b.Devices = append(b.Devices, device)
	return device
}

func (b *Backend) Instance() *Instance {
	if b.instance == nil {
		b.instance = &Instance{backend: b}
		b.track(gpu.KindInstance)
	}
	return b.instance
}

func (b *Backend) Surface() *Surface {
	if b.surface == nil {
		b.surface = &Surface{backend: b}
		b.track(gpu.KindSurface)
	}
	return b.surface
}

// ScriptAcquire queues outcomes for the next AcquireNextImage calls. Once the
// script runs out, images are handed out round-robin with Success.
func (b *Backend) ScriptAcquire(steps ...AcquireStep) {
	b.acquireScript = append(b.acquireScript, steps...)
}

// ScriptPresent queues results for the next Present calls.
func (b *Backend) ScriptPresent(results ...gpu.Result) {
	b.presentScript = append(b.presentScript, results...)
}

// FailNext makes the next creation of kind return err.
func (b *Backend) FailNext(kind gpu.ObjectKind, err error) {
	b.failures[kind] = err
}

// LoseDevice makes every subsequent queue, wait and acquire call report
// gpu.DeviceLost.
func (b *Backend) LoseDevice() {
	b.lost = true
}

func (b *Backend) Live(kind gpu.ObjectKind) int    { return b.live[kind] }
func (b *Backend) Created(kind gpu.ObjectKind) int { return b.created[kind] }

// LiveSyncObjects sums live semaphores and fences.
func (b *Backend) LiveSyncObjects() int {
	return b.live[gpu.KindSemaphore] + b.live[gpu.KindFence]
}

func (b *Backend) Journal() []string {
	return append([]string(nil), b.journal...)
}

func (b *Backend) Count(op string) int {
	count := 0
	for _, entry := range b.journal {
		if entry == op {
			count++
		}
	}
	return count
}

func (b *Backend) ClearJournal() {
	b.journal = nil
	b.Submissions = nil
	b.Presented = nil
	b.RenderAreas = nil
}

func (b *Backend) Violations() []string {
	return append([]string(nil), b.violations...)
}

// LastSwapchain returns the most recently created swapchain, or nil.
func (b *Backend) LastSwapchain() *Swapchain {
	if len(b.Swapchains) == 0 {
		return nil
	}
	return b.Swapchains[len(b.Swapchains)-1]
}

func (b *Backend) record(op string) {
	b.journal = append(b.journal, op)
}

func (b *Backend) violate(format string, args ...interface{}) {
	b.violations = append(b.violations, fmt.Sprintf(format, args...))
}

func (b *Backend) create(kind gpu.ObjectKind) error {
	if err, ok := b.failures[kind]; ok {
		delete(b.failures, kind)
		return err
	}
	b.track(kind)
	return nil
}

func (b *Backend) track(kind gpu.ObjectKind) {
	b.live[kind]++
	b.created[kind]++
	b.nextID++
}

func (b *Backend) release(kind gpu.ObjectKind, destroyed *bool) {
	if *destroyed {
		b.violate("%s destroyed twice", kind)
		return
	}
	*destroyed = true
	b.live[kind]--
}

type Instance struct {
	backend   *Backend
	destroyed bool
	// EnumerateErr is returned by EnumeratePhysicalDevices when set.
	EnumerateErr error
}

func (i *Instance) EnumeratePhysicalDevices() ([]gpu.PhysicalDevice, error) {
	if i.EnumerateErr != nil {
		return nil, i.EnumerateErr
	}
	devices := make([]gpu.PhysicalDevice, 0, len(i.backend.Devices))
	for _, device := range i.backend.Devices {
		devices = append(devices, device)
	}
	return devices, nil
}

func (i *Instance) Destroy() {
	i.backend.release(gpu.KindInstance, &i.destroyed)
}

type PhysicalDevice struct {
	backend        *Backend
	DeviceName     string
	DeviceType     gpu.DeviceType
	DeviceFeatures gpu.Features
	Families       []gpu.QueueFamily
	// PresentFamilies limits which families can present; nil means all.
	PresentFamilies map[int]bool
	// Extensions limits supported device extensions; nil means all.
	Extensions map[string]bool
}

func (p *PhysicalDevice) Name() string                     { return p.DeviceName }
func (p *PhysicalDevice) Type() gpu.DeviceType             { return p.DeviceType }
func (p *PhysicalDevice) Features() gpu.Features           { return p.DeviceFeatures }
func (p *PhysicalDevice) QueueFamilies() []gpu.QueueFamily { return p.Families }

func (p *PhysicalDevice) SupportsExtension(name string) bool {
	if p.Extensions == nil {
		return true
	}
	return p.Extensions[name]
}

func (p *PhysicalDevice) CreateDevice(queueFamily int, features gpu.Features) (gpu.Device, error) {
	if queueFamily < 0 || queueFamily >= len(p.Families) {
		return nil, errors.Newf("queue family %d out of range", queueFamily)
	}
	if !p.DeviceFeatures.Satisfies(features) {
		return nil, errors.New("requested features not supported")
	}
	if err := p.backend.create(gpu.KindDevice); err != nil {
		return nil, err
	}
	device := &Device{backend: p.backend, Physical: p, QueueFamily: queueFamily, Features: features}
	device.queue = &Queue{device: device}
	p.backend.Device = device
	return device, nil
}

type Surface struct {
	backend   *Backend
	destroyed bool
}

func (s *Surface) SupportsPresent(device gpu.PhysicalDevice, queueFamily int) (bool, error) {
	fake, ok := device.(*PhysicalDevice)
	if !ok {
		return false, errors.Newf("foreign physical device %T", device)
	}
	if fake.PresentFamilies == nil {
		return true, nil
	}
	return fake.PresentFamilies[queueFamily], nil
}

func (s *Surface) Capabilities(gpu.PhysicalDevice) (gpu.SurfaceCapabilities, error) {
	return s.backend.Caps, nil
}

func (s *Surface) Formats(gpu.PhysicalDevice) ([]gpu.SurfaceFormat, error) {
	return append([]gpu.SurfaceFormat(nil), s.backend.SurfaceFormats...), nil
}

func (s *Surface) PresentModes(gpu.PhysicalDevice) ([]gpu.PresentMode, error) {
	return append([]gpu.PresentMode(nil), s.backend.PresentModes...), nil
}

func (s *Surface) Destroy() {
	s.backend.release(gpu.KindSurface, &s.destroyed)
}

// Destroyed reports whether Destroy was called.
func (s *Surface) Destroyed() bool { return s.destroyed }

type Device struct {
	backend     *Backend
	Physical    *PhysicalDevice
	QueueFamily int
	Features    gpu.Features
	queue       *Queue
	fences      []*Fence
	destroyed   bool
}

func (d *Device) Queue(queueFamily int, index int) gpu.Queue {
	return d.queue
}

func (d *Device) CreateCommandPool(queueFamily int, resetBuffers bool) (gpu.CommandPool, error) {
	if err := d.backend.create(gpu.KindCommandPool); err != nil {
		return nil, err
	}
	return &CommandPool{device: d, QueueFamily: queueFamily, ResetBuffers: resetBuffers}, nil
}

func (d *Device) CreateSwapchain(info gpu.SwapchainCreateInfo) (gpu.Swapchain, error) {
	d.backend.record(OpCreateSwapchain)
	if err := d.backend.create(gpu.KindSwapchain); err != nil {
		return nil, err
	}
	swapchain := &Swapchain{device: d, Info: info, Extent: info.Extent}
	count := info.MinImageCount + d.backend.ExtraImages
	for i := 0; i < count; i++ {
		swapchain.images = append(swapchain.images, &Image{Index: i, swapchain: swapchain})
	}
	d.backend.Swapchains = append(d.backend.Swapchains, swapchain)
	d.backend.nextImage = 0
	return swapchain, nil
}

func (d *Device) CreateRenderPass(format gpu.Format) (gpu.RenderPass, error) {
	if err := d.backend.create(gpu.KindRenderPass); err != nil {
		return nil, err
	}
	return &RenderPass{backend: d.backend, Format: format}, nil
}

func (d *Device) CreateImageView(image gpu.Image, format gpu.Format) (gpu.ImageView, error) {
	if err := d.backend.create(gpu.KindImageView); err != nil {
		return nil, err
	}
	fake, _ := image.(*Image)
	return &ImageView{backend: d.backend, Image: fake, Format: format}, nil
}

func (d *Device) CreateFramebuffer(renderPass gpu.RenderPass, view gpu.ImageView, extent gpu.Extent) (gpu.Framebuffer, error) {
	if err := d.backend.create(gpu.KindFramebuffer); err != nil {
		return nil, err
	}
	framebuffer := &Framebuffer{backend: d.backend, View: view.(*ImageView), Extent: extent}
	d.backend.Framebuffers = append(d.backend.Framebuffers, framebuffer)
	return framebuffer, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	if err := d.backend.create(gpu.KindSemaphore); err != nil {
		return nil, err
	}
	return &Semaphore{backend: d.backend, ID: d.backend.nextID}, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	if err := d.backend.create(gpu.KindFence); err != nil {
		return nil, err
	}
	fence := &Fence{backend: d.backend, ID: d.backend.nextID, signaled: signaled}
	d.fences = append(d.fences, fence)
	return fence, nil
}

func (d *Device) WaitForFences(timeout time.Duration, fences ...gpu.Fence) (gpu.Result, error) {
	d.backend.record(OpWaitFences)
	if d.backend.lost {
		return gpu.DeviceLost, nil
	}
	for _, f := range fences {
		fence := f.(*Fence)
		if fence.destroyed {
			d.backend.violate("wait on destroyed fence %d", fence.ID)
			continue
		}
		if fence.signaled {
			continue
		}
		if !fence.pending || d.backend.HoldFences {
			return gpu.Timeout, nil
		}
		fence.complete()
	}
	return gpu.Success, nil
}

func (d *Device) ResetFences(fences ...gpu.Fence) error {
	d.backend.record(OpResetFences)
	for _, f := range fences {
		fence := f.(*Fence)
		if fence.pending {
			d.backend.violate("reset of in-flight fence %d", fence.ID)
		}
		fence.signaled = false
	}
	return nil
}

func (d *Device) WaitIdle() (gpu.Result, error) {
	d.backend.record(OpWaitIdle)
	if d.backend.lost {
		return gpu.DeviceLost, nil
	}
	for _, fence := range d.fences {
		if fence.pending {
			fence.complete()
		}
	}
	return gpu.Success, nil
}

func (d *Device) Destroy() {
	d.backend.release(gpu.KindDevice, &d.destroyed)
}

type Queue struct {
	device *Device
}

func (q *Queue) Submit(fence gpu.Fence, info gpu.SubmitInfo) (gpu.Result, error) {
	b := q.device.backend
	b.record(OpSubmit)
	if b.lost {
		return gpu.DeviceLost, nil
	}

	f := fence.(*Fence)
	if f.signaled || f.pending {
		b.violate("submit with fence %d not in the unsignaled state", f.ID)
	}
	wait := info.WaitSemaphore.(*Semaphore)
	if !wait.signaled {
		b.violate("submit waits on unsignaled semaphore %d", wait.ID)
	}
	wait.signaled = false
	signal := info.SignalSemaphore.(*Semaphore)
	if signal.signaled {
		b.violate("submit signals already signaled semaphore %d", signal.ID)
	}
	signal.signaled = true

	buffer := info.CommandBuffer.(*CommandBuffer)
	if buffer.recording {
		b.violate("submit of command buffer still recording")
	}
	buffer.inFlight = f
	f.pending = true

	b.Submissions = append(b.Submissions, Submission{Fence: f, CommandBuffer: buffer, Wait: wait, Signal: signal})
	return gpu.Success, nil
}

func (q *Queue) Present(info gpu.PresentInfo) (gpu.Result, error) {
	b := q.device.backend
	b.record(OpPresent)
	if b.lost {
		return gpu.DeviceLost, nil
	}

	wait := info.WaitSemaphore.(*Semaphore)
	if !wait.signaled {
		b.violate("present waits on unsignaled semaphore %d", wait.ID)
	}
	wait.signaled = false
	b.Presented = append(b.Presented, info.ImageIndex)

	if len(b.presentScript) > 0 {
		res := b.presentScript[0]
		b.presentScript = b.presentScript[1:]
		return res, nil
	}
	return gpu.Success, nil
}

type CommandPool struct {
	device       *Device
	QueueFamily  int
	ResetBuffers bool
	destroyed    bool
}

func (p *CommandPool) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	buffers := make([]gpu.CommandBuffer, 0, count)
	for i := 0; i < count; i++ {
		if err := p.device.backend.create(gpu.KindCommandBuffer); err != nil {
			return nil, err
		}
		buffers = append(buffers, &CommandBuffer{pool: p})
	}
	return buffers, nil
}

func (p *CommandPool) FreeCommandBuffers(buffers ...gpu.CommandBuffer) {
	for _, b := range buffers {
		buffer := b.(*CommandBuffer)
		if buffer.inFlight != nil && buffer.inFlight.pending {
			p.device.backend.violate("command buffer freed while in flight")
		}
		p.device.backend.release(gpu.KindCommandBuffer, &buffer.freed)
	}
}

func (p *CommandPool) Destroy() {
	p.device.backend.release(gpu.KindCommandPool, &p.destroyed)
}

type CommandBuffer struct {
	pool      *CommandPool
	inFlight  *Fence
	recording bool
	inPass    bool
	freed     bool
	Resets    int
	// Recorded counts completed recordings.
	Recorded int
}

func (c *CommandBuffer) checkIdle(op string) {
	if c.inFlight != nil && c.inFlight.pending {
		c.pool.device.backend.violate("%s on command buffer still in flight (fence %d)", op, c.inFlight.ID)
	}
}

func (c *CommandBuffer) Reset() error {
	if !c.pool.ResetBuffers {
		c.pool.device.backend.violate("reset of command buffer from a pool without the reset flag")
	}
	c.checkIdle("reset")
	c.Resets++
	return nil
}

func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	c.checkIdle("begin")
	c.recording = true
	return nil
}

func (c *CommandBuffer) BeginRenderPass(info gpu.RenderPassBeginInfo) error {
	if !c.recording {
		c.pool.device.backend.violate("render pass begun outside recording")
	}
	c.inPass = true
	c.pool.device.backend.RenderAreas = append(c.pool.device.backend.RenderAreas, info.RenderArea)
	return nil
}

func (c *CommandBuffer) EndRenderPass() {
	c.inPass = false
}

func (c *CommandBuffer) End() error {
	if c.inPass {
		c.pool.device.backend.violate("command buffer ended inside a render pass")
	}
	c.recording = false
	c.Recorded++
	return nil
}

type Swapchain struct {
	device    *Device
	Info      gpu.SwapchainCreateInfo
	Extent    gpu.Extent
	images    []*Image
	destroyed bool
}

func (s *Swapchain) Images() ([]gpu.Image, error) {
	images := make([]gpu.Image, 0, len(s.images))
	for _, image := range s.images {
		images = append(images, image)
	}
	return images, nil
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (int, gpu.Result, error) {
	b := s.device.backend
	b.record(OpAcquire)
	if b.BeforeAcquire != nil {
		b.BeforeAcquire()
	}
	if b.lost {
		return 0, gpu.DeviceLost, nil
	}
	if s.destroyed {
		b.violate("acquire on destroyed swapchain")
	}

	step := AcquireStep{Index: b.nextImage % len(s.images), Result: gpu.Success}
	if len(b.acquireScript) > 0 {
		step = b.acquireScript[0]
		b.acquireScript = b.acquireScript[1:]
	} else {
		b.nextImage++
	}

	if step.Result == gpu.Success || step.Result == gpu.Suboptimal {
		sem := signal.(*Semaphore)
		if sem.signaled {
			b.violate("acquire signals already signaled semaphore %d", sem.ID)
		}
		sem.signaled = true
	}
	return step.Index, step.Result, nil
}

func (s *Swapchain) Destroy() {
	s.device.backend.record(OpDestroySwapchain)
	s.device.backend.release(gpu.KindSwapchain, &s.destroyed)
}

func (s *Swapchain) Destroyed() bool { return s.destroyed }

type Image struct {
	Index     int
	swapchain *Swapchain
}

type RenderPass struct {
	backend   *Backend
	Format    gpu.Format
	destroyed bool
}

func (r *RenderPass) Destroy() { r.backend.release(gpu.KindRenderPass, &r.destroyed) }

type ImageView struct {
	backend   *Backend
	Image     *Image
	Format    gpu.Format
	destroyed bool
}

func (v *ImageView) Destroy() { v.backend.release(gpu.KindImageView, &v.destroyed) }

type Framebuffer struct {
	backend   *Backend
	View      *ImageView
	Extent    gpu.Extent
	destroyed bool
}

func (f *Framebuffer) Destroy() { f.backend.release(gpu.KindFramebuffer, &f.destroyed) }

type Semaphore struct {
	backend   *Backend
	ID        int
	signaled  bool
	destroyed bool
}

func (s *Semaphore) Destroy() { s.backend.release(gpu.KindSemaphore, &s.destroyed) }

type Fence struct {
	backend   *Backend
	ID        int
	signaled  bool
	pending   bool
	destroyed bool
}

func (f *Fence) complete() {
	f.pending = false
	f.signaled = true
}

// Signaled reports whether the fence is in the signaled state.
func (f *Fence) Signaled() bool { return f.signaled }

// Pending reports whether submitted work guarded by the fence has not been
// observed complete.
func (f *Fence) Pending() bool { return f.pending }

func (f *Fence) Destroy() {
	if f.pending {
		f.backend.violate("fence %d destroyed while in flight", f.ID)
	}
	f.backend.release(gpu.KindFence, &f.destroyed)
}
