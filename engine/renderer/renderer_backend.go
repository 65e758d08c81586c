package renderer

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// BackendType identifies a Backend implementation.
type BackendType int

const (
	// BackendTypeSoftware selects the CPU reference rasterizer.
	BackendTypeSoftware BackendType = iota

	// BackendTypeWGPU selects the WebGPU backend presenting to a window surface.
	BackendTypeWGPU
)

func (t BackendType) String() string {
	switch t {
	case BackendTypeSoftware:
		return "software"
	case BackendTypeWGPU:
		return "wgpu"
	default:
		return fmt.Sprintf("BackendType(%d)", int(t))
	}
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// SurfaceProvider is the window a WGPU backend presents to. Window creation stays outside the
// renderer; anything that can describe a native surface and report its size qualifies.
type SurfaceProvider interface {
	// SurfaceDescriptor returns the platform-specific descriptor used to create the surface.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the surface descriptor, or nil if the window is not initialized
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// Width returns the current client area width in pixels.
	//
	// Returns:
	//   - int: width in pixels
	Width() int

	// Height returns the current client area height in pixels.
	//
	// Returns:
	//   - int: height in pixels
	Height() int
}

// NewBackend creates a backend of the given type. The WGPU backend needs a surface provider;
// the software backend ignores it and sizes its surface from the provider when one is given.
//
// Parameters:
//   - t: the backend type
//   - surface: the window to present to, may be nil for the software backend
//   - opts: options applied to the backend
//
// Returns:
//   - Backend: the new backend
//   - error: an error if the type is unknown or the GPU backend could not be initialized
func NewBackend(t BackendType, surface SurfaceProvider, opts ...BackendBuilderOption) (Backend, error) {
	o := newBackendOptions()
	for _, opt := range opts {
		opt(o)
	}

	switch t {
	case BackendTypeSoftware:
		swOpts := []SoftwareBackendOption{WithSoftwareLimits(o.limits)}
		if surface != nil {
			swOpts = append(swOpts, WithSoftwareSurfaceSize(surface.Width(), surface.Height()))
		}
		if o.validateShaders {
			swOpts = append(swOpts, WithShaderValidation())
		}
		return NewSoftwareBackend(swOpts...), nil
	case BackendTypeWGPU:
		if surface == nil {
			return nil, fmt.Errorf("%s backend needs a surface provider", t)
		}
		return newWGPUBackend(surface, o)
	default:
		return nil, fmt.Errorf("unknown backend type %s", t)
	}
}
