package main

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
)

// sdlWindow adapts an SDL window to what the renderer consumes and
// pumps input into the camera. The renderer only reads state; all
// event handling happens in PumpEvents on the main thread.
type sdlWindow struct {
	window *sdl.Window

	closeRequested bool
	resized        bool

	dragging bool
	orbit    func(yaw, pitch float32)
	zoom     func(factor float32)
}

func newSDLWindow(cfg WindowConfig) (*sdlWindow, error) {
	err := sdl.Init(sdl.INIT_VIDEO)
	if err != nil {
		return nil, errors.Wrap(err, "initializing sdl")
	}

	window, err := sdl.CreateWindow(cfg.Title,
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.Width), int32(cfg.Height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "creating window")
	}

	return &sdlWindow{window: window}, nil
}

// PumpEvents drains the SDL event queue. Call once per frame.
func (w *sdlWindow) PumpEvents() {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		w.handle(event)
	}
}

func (w *sdlWindow) handle(event sdl.Event) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		w.closeRequested = true
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED,
			sdl.WINDOWEVENT_MINIMIZED, sdl.WINDOWEVENT_RESTORED:
			w.resized = true
		}
	case *sdl.MouseButtonEvent:
		if e.Button == sdl.BUTTON_LEFT {
			w.dragging = e.State == sdl.PRESSED
		}
	case *sdl.MouseMotionEvent:
		if w.dragging && w.orbit != nil {
			w.orbit(-float32(e.XRel)*0.01, float32(e.YRel)*0.01)
		}
	case *sdl.MouseWheelEvent:
		if w.zoom != nil {
			factor := float32(1.0)
			if e.Y > 0 {
				factor = 0.9
			} else if e.Y < 0 {
				factor = 1.1
			}
			w.zoom(factor)
		}
	}
}

func (w *sdlWindow) CloseRequested() bool {
	return w.closeRequested
}

func (w *sdlWindow) DrawableSize() (int, int) {
	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

func (w *sdlWindow) ConsumeResize() bool {
	resized := w.resized
	w.resized = false
	return resized
}

// WaitEvents blocks until the window system delivers an event, then
// processes it. Used while minimized so the loop does not spin.
func (w *sdlWindow) WaitEvents() {
	event := sdl.WaitEvent()
	if event != nil {
		w.handle(event)
	}
}

func (w *sdlWindow) Handle() *sdl.Window { return w.window }

func (w *sdlWindow) Destroy() {
	if w.window != nil {
		w.window.Destroy()
		w.window = nil
	}
	sdl.Quit()
}
