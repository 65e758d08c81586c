package renderer

import (
	"github.com/gogpu/gputypes"
)

// SoftwareBackendOption is a functional option applied to a software backend during construction
// via NewSoftwareBackend.
type SoftwareBackendOption func(*softwareBackend)

// WithSoftwareSurfaceSize sets the size of the frame Present produces.
//
// Parameters:
//   - width: the surface width in pixels
//   - height: the surface height in pixels
//
// Returns:
//   - SoftwareBackendOption: a function that applies the size to a software backend
func WithSoftwareSurfaceSize(width, height int) SoftwareBackendOption {
	return func(b *softwareBackend) {
		if width > 0 && height > 0 {
			b.width, b.height = width, height
		}
	}
}

// WithSoftwareLimits sets the limits the software backend reports and enforces on textures.
//
// Parameters:
//   - limits: the limits to use
//
// Returns:
//   - SoftwareBackendOption: a function that applies the limits to a software backend
func WithSoftwareLimits(limits gputypes.Limits) SoftwareBackendOption {
	return func(b *softwareBackend) {
		b.limits = limits
	}
}

// WithShaderValidation makes CompileShader compile the program's WGSL with naga and reject
// programs that do not compile.
//
// Returns:
//   - SoftwareBackendOption: a function that enables validation on a software backend
func WithShaderValidation() SoftwareBackendOption {
	return func(b *softwareBackend) {
		b.validate = true
	}
}
