package renderer

import (
	"github.com/gogpu/gputypes"
)

// backendOptions collects the settings shared by every backend type.
type backendOptions struct {
	presentMode          PresentMode
	forceFallbackAdapter bool
	validateShaders      bool
	limits               gputypes.Limits
}

func newBackendOptions() *backendOptions {
	return &backendOptions{
		presentMode: PresentModeUncapped,
		limits:      gputypes.DefaultLimits(),
	}
}

// BackendBuilderOption is a functional option applied to a backend during construction via NewBackend.
type BackendBuilderOption func(*backendOptions)

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - BackendBuilderOption: a function that applies the present mode option to a backend
func WithPresentMode(mode PresentMode) BackendBuilderOption {
	return func(o *backendOptions) {
		o.presentMode = mode
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe).
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - BackendBuilderOption: a function that applies the force software renderer option to a backend
func WithForceSoftwareRenderer(force bool) BackendBuilderOption {
	return func(o *backendOptions) {
		o.forceFallbackAdapter = force
	}
}

// WithValidatedShaders compiles every program's WGSL with naga before accepting it, on backends
// whose driver would not report shader errors on its own.
//
// Returns:
//   - BackendBuilderOption: a function that enables shader validation on a backend
func WithValidatedShaders() BackendBuilderOption {
	return func(o *backendOptions) {
		o.validateShaders = true
	}
}

// WithBackendLimits sets the limits requested from the device and reported by Limits.
//
// Parameters:
//   - limits: the limits to use
//
// Returns:
//   - BackendBuilderOption: a function that applies the limits to a backend
func WithBackendLimits(limits gputypes.Limits) BackendBuilderOption {
	return func(o *backendOptions) {
		o.limits = limits
	}
}
