package config

import "github.com/gogpu/gputypes"

// ConfigBuilderOption is a functional option applied to a configuration during construction via New.
type ConfigBuilderOption func(*PipelineConfig)

// WithResolution sets the frame resolution.
//
// Parameters:
//   - width: the frame width in pixels
//   - height: the frame height in pixels
//
// Returns:
//   - ConfigBuilderOption: a function that applies the resolution to a configuration
func WithResolution(width, height int) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.Width = width
		c.Height = height
	}
}

// WithColorFormat sets the color format of the scene, glow and composite targets.
//
// Parameters:
//   - format: RGBA8Unorm, BGRA8Unorm or RGBA16Float
//
// Returns:
//   - ConfigBuilderOption: a function that applies the color format to a configuration
func WithColorFormat(format gputypes.TextureFormat) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.ColorFormat = format
	}
}

// WithDepthFormat sets the depth format of the scene target.
//
// Parameters:
//   - format: Depth32Float or Depth24Plus
//
// Returns:
//   - ConfigBuilderOption: a function that applies the depth format to a configuration
func WithDepthFormat(format gputypes.TextureFormat) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.DepthFormat = format
	}
}

// WithShadows enables the shadow pass at the given shadow map resolution.
//
// Parameters:
//   - resolution: the edge length in texels of the shadow depth map
//
// Returns:
//   - ConfigBuilderOption: a function that enables shadows on a configuration
func WithShadows(resolution int) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.Shadow.Enabled = true
		c.Shadow.Resolution = resolution
	}
}

// WithoutShadows disables the shadow pass. The scene pass then lights every fragment fully.
//
// Returns:
//   - ConfigBuilderOption: a function that disables shadows on a configuration
func WithoutShadows() ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.Shadow.Enabled = false
	}
}

// WithSmoothingRadius sets the PCF radius used when sampling the shadow map.
//
// Parameters:
//   - radius: the kernel radius r, covering (2r+1)² texels; 0 takes a single sample
//
// Returns:
//   - ConfigBuilderOption: a function that applies the smoothing radius to a configuration
func WithSmoothingRadius(radius int) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.Shadow.SmoothingRadius = radius
	}
}

// WithShadowBias sets the depth bias applied before the shadow comparison.
//
// Parameters:
//   - bias: the depth bias in normalized depth units
//
// Returns:
//   - ConfigBuilderOption: a function that applies the bias to a configuration
func WithShadowBias(bias float32) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.Shadow.Bias = bias
	}
}

// WithShadowExtent sets the half-size of the orthographic volume rendered from the main light.
//
// Parameters:
//   - extent: the half-size in world units
//
// Returns:
//   - ConfigBuilderOption: a function that applies the extent to a configuration
func WithShadowExtent(extent float32) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.Shadow.Extent = extent
	}
}

// WithGlow enables the glow pass with the given settings.
//
// Parameters:
//   - glow: the glow settings; Enabled is forced to true
//
// Returns:
//   - ConfigBuilderOption: a function that enables glow on a configuration
func WithGlow(glow GlowConfig) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		glow.Enabled = true
		c.Glow = glow
	}
}

// WithoutGlow disables the glow pass.
//
// Returns:
//   - ConfigBuilderOption: a function that disables glow on a configuration
func WithoutGlow() ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.Glow.Enabled = false
	}
}

// WithClearColor sets the default clear color.
//
// Parameters:
//   - color: the color frames are cleared to when StartFrame is given none
//
// Returns:
//   - ConfigBuilderOption: a function that applies the clear color to a configuration
func WithClearColor(color gputypes.Color) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.ClearColor = color
	}
}

// WithClearPolicy sets how StartFrame chooses the clear color.
//
// Parameters:
//   - policy: ClearPolicyOverride or ClearPolicyFixed
//
// Returns:
//   - ConfigBuilderOption: a function that applies the policy to a configuration
func WithClearPolicy(policy ClearPolicy) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.ClearPolicy = policy
	}
}

// WithLimits sets the backend limits resolutions are validated against.
//
// Parameters:
//   - limits: the backend limits, usually Backend.Limits()
//
// Returns:
//   - ConfigBuilderOption: a function that applies the limits to a configuration
func WithLimits(limits gputypes.Limits) ConfigBuilderOption {
	return func(c *PipelineConfig) {
		c.Limits = limits
	}
}
