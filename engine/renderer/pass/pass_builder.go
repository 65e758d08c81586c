package pass

import (
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/gogpu/gputypes"
)

// passOptions holds the settings shared by the pass constructors.
type passOptions struct {
	label       string
	colorFormat gputypes.TextureFormat
	depthFormat gputypes.TextureFormat
	params      *renderer.DrawParameters
}

func defaultPassOptions(label string) *passOptions {
	return &passOptions{
		label:       label,
		colorFormat: gputypes.TextureFormatRGBA8Unorm,
		depthFormat: gputypes.TextureFormatDepth32Float,
	}
}

// PassBuilderOption is a functional option for configuring a Pass.
// Use the With* functions to create options.
type PassBuilderOption func(o *passOptions)

// WithLabel sets the label prefixed to the pass's draw labels.
//
// Parameters:
//   - label: the debug label
//
// Returns:
//   - PassBuilderOption: option function to apply
func WithLabel(label string) PassBuilderOption {
	return func(o *passOptions) {
		o.label = label
	}
}

// WithFormats sets the color and depth formats of the targets the pass draws into. Defaults
// to RGBA8Unorm and Depth32Float.
//
// Parameters:
//   - color: the color attachment format
//   - depth: the depth attachment format
//
// Returns:
//   - PassBuilderOption: option function to apply
func WithFormats(color, depth gputypes.TextureFormat) PassBuilderOption {
	return func(o *passOptions) {
		o.colorFormat = color
		o.depthFormat = depth
	}
}

// WithPassDrawParameters overrides the fixed draw parameters of the shadow and line passes.
// The scene pass and the plain draws of the glow pass always use each list's own parameters.
//
// Parameters:
//   - params: the draw parameters every list of the pass is drawn with
//
// Returns:
//   - PassBuilderOption: option function to apply
func WithPassDrawParameters(params renderer.DrawParameters) PassBuilderOption {
	return func(o *passOptions) {
		o.params = &params
	}
}
