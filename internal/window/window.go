// Package window is the SDL2 side of presentation: it owns the native window,
// turns SDL events into a should-close flag and an edge-triggered
// resize-ready signal, and hands the window to the Vulkan backend for surface
// creation.
package window

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
)

type Window struct {
	handle       *sdl.Window
	drawableSize func() (int, int)

	shouldClose   bool
	minimized     bool
	resizePending bool
	resizeWidth   int
	resizeHeight  int
}

// Open initialises SDL video and creates a resizable Vulkan-capable window.
func Open(title string, width, height int) (*Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "init sdl video")
	}

	handle, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "create window")
	}

	w := &Window{handle: handle}
	w.drawableSize = func() (int, int) {
		width, height := handle.VulkanGetDrawableSize()
		return int(width), int(height)
	}
	return w, nil
}

// VulkanWindow is the native handle the backend creates its surface from.
func (w *Window) VulkanWindow() *sdl.Window { return w.handle }

// Poll drains every pending SDL event.
func (w *Window) Poll() {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		w.handleEvent(event)
	}
}

// Wait blocks for up to timeoutMs milliseconds for the next event, then
// drains the rest. Use it instead of Poll while minimized.
func (w *Window) Wait(timeoutMs int) {
	event := sdl.WaitEventTimeout(timeoutMs)
	if event != nil {
		w.handleEvent(event)
	}
	w.Poll()
}

func (w *Window) handleEvent(event sdl.Event) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		w.shouldClose = true
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_CLOSE:
			w.shouldClose = true
		case sdl.WINDOWEVENT_MINIMIZED:
			w.minimized = true
		case sdl.WINDOWEVENT_RESTORED:
			w.minimized = false
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			width, height := w.drawableSize()
			if width <= 0 || height <= 0 {
				w.minimized = true
				return
			}
			w.minimized = false
			w.resizePending = true
			w.resizeWidth = width
			w.resizeHeight = height
		}
	}
}

func (w *Window) ShouldClose() bool { return w.shouldClose }

func (w *Window) Minimized() bool { return w.minimized }

// DrawableSize is the current size of the drawable area in pixels.
func (w *Window) DrawableSize() (int, int) {
	return w.drawableSize()
}

// ResizeReady returns the size of the last completed resize and clears it.
// It reports ok only once per resize.
func (w *Window) ResizeReady() (width, height int, ok bool) {
	if !w.resizePending {
		return 0, 0, false
	}

	w.resizePending = false
	return w.resizeWidth, w.resizeHeight, true
}

// Close destroys the window and shuts SDL down. Destroy the surface and the
// instance first.
func (w *Window) Close() {
	if w.handle != nil {
		w.handle.Destroy()
		w.handle = nil
	}
	sdl.Quit()
}
