package window

import (
	"runtime"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/cogentcore/webgpu/wgpu"
)

// Window is a native window the WGPU backend presents to. It owns the platform event loop and
// reports framebuffer resizes so the pipeline can be resized between frames.
type Window interface {
	renderer.SurfaceProvider

	// SetFrameCallback sets the function called each message loop iteration. Returning false
	// stops the loop.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetFrameCallback(callback func() bool)

	// SetResizeCallback sets the function called when the framebuffer is resized.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// IsRunning returns true if the window is still active.
	//
	// Returns:
	//   - bool: true if window is running, false if closed
	IsRunning() bool

	// Close closes the window and releases platform resources.
	//
	// Returns:
	//   - error: error if close operation fails
	Close() error

	// Run runs the window message loop on the calling goroutine until the window is closed or
	// the frame callback returns false.
	Run()
}

const defaultTitle = "Conduit"

// engineWindow is the implementation of the Window interface.
type engineWindow struct {
	// title is the window title displayed in the title bar.
	title string

	// width and height are the current framebuffer size in pixels.
	width  int
	height int

	// resizable allows the user to resize the window.
	resizable bool

	// internalWindow holds the platform-specific window data (glfwWindow).
	internalWindow any

	onFrame  func() bool
	onResize func(width, height int)
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a new window with the specified options.
// Must be called from the goroutine that later calls Run; the OS thread is locked to it.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the open window
//   - error: error if the platform window could not be created
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := &engineWindow{
		width:     1280,
		height:    720,
		resizable: true,
	}
	for _, opt := range options {
		opt(w)
	}
	w.title = common.Coalesce(w.title, defaultTitle)
	if err := newPlatformWindow(w); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *engineWindow) SetFrameCallback(callback func() bool) {
	w.onFrame = callback
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *engineWindow) IsRunning() bool {
	return platformIsRunningCheck(w)
}

func (w *engineWindow) Close() error {
	return platformCloseWindow(w)
}

func (w *engineWindow) Run() {
	for w.IsRunning() {
		if !platformProcessMessages(w) {
			break
		}
		if w.onFrame != nil && !w.onFrame() {
			break
		}
		runtime.Gosched()
	}
}

func (w *engineWindow) Width() int {
	return w.width
}

func (w *engineWindow) Height() int {
	return w.height
}
