// Package config holds the immutable configuration snapshot a rendering pipeline is built from.
package config

import (
	"github.com/Carmen-Shannon/conduit/common"
	"github.com/gogpu/gputypes"
)

// ClearPolicy controls which color StartFrame clears the frame targets to.
type ClearPolicy int

const (
	// ClearPolicyOverride clears to the color passed to StartFrame, falling back to the
	// configured clear color when none is given.
	ClearPolicyOverride ClearPolicy = iota

	// ClearPolicyFixed always clears to the configured clear color and ignores the color
	// passed to StartFrame.
	ClearPolicyFixed
)

func (p ClearPolicy) String() string {
	switch p {
	case ClearPolicyOverride:
		return "override"
	case ClearPolicyFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

const (
	// DefaultShadowResolution is the edge length in texels of the shadow depth map.
	DefaultShadowResolution = 2048

	// DefaultSmoothingRadius is the PCF kernel radius; the kernel covers (2r+1)² texels.
	DefaultSmoothingRadius = 1

	// MaxSmoothingRadius bounds the PCF kernel to a 17x17 footprint.
	MaxSmoothingRadius = 8

	// DefaultShadowBias is the depth bias subtracted before the shadow comparison.
	DefaultShadowBias = 0.005

	// DefaultShadowExtent is the half-size of the orthographic volume the main light renders.
	DefaultShadowExtent = 20.0

	// DefaultGlowThreshold is the luminance above which pixels contribute to glow.
	DefaultGlowThreshold = 0.7

	// DefaultGlowBlurRadius is the radius in texels of the separable glow blur.
	DefaultGlowBlurRadius = 4

	// MaxGlowBlurRadius bounds the separable blur kernel.
	MaxGlowBlurRadius = 32
)

// ShadowConfig configures the shadow pass.
type ShadowConfig struct {
	Enabled bool

	// Resolution is the edge length in texels of the square shadow depth map.
	Resolution int

	// SmoothingRadius is the PCF radius r. Zero takes a single comparison sample.
	SmoothingRadius int

	// Bias is subtracted from the fragment depth before the shadow comparison.
	Bias float32

	// Extent is the half-size of the orthographic volume rendered from the main light.
	Extent float32
}

// GlowConfig configures the postprocessing glow pass.
type GlowConfig struct {
	Enabled bool

	// Threshold is the luminance in [0, 1] above which a pixel contributes to glow.
	Threshold float32

	// BlurRadius is the separable blur radius in glow target texels.
	BlurRadius int

	// Intensity scales the blurred glow before it is added to the scene color.
	Intensity float32

	// Downsample divides the scene resolution to get the glow target resolution.
	Downsample int
}

// PipelineConfig is the configuration snapshot a pipeline is built from. It is passed by value
// and never modified after construction; reconfiguring means building a new pipeline.
type PipelineConfig struct {
	Width  int
	Height int

	ColorFormat gputypes.TextureFormat
	DepthFormat gputypes.TextureFormat

	Shadow ShadowConfig
	Glow   GlowConfig

	ClearColor  gputypes.Color
	ClearPolicy ClearPolicy

	// Limits are the backend limits resolutions are checked against.
	Limits gputypes.Limits
}

// Default returns the default configuration: 1280x720, shadows at 2048 texels with a 3x3 PCF
// kernel, glow enabled and an opaque black clear color.
//
// Returns:
//   - PipelineConfig: the default configuration
func Default() PipelineConfig {
	return PipelineConfig{
		Width:       1280,
		Height:      720,
		ColorFormat: gputypes.TextureFormatRGBA8Unorm,
		DepthFormat: gputypes.TextureFormatDepth32Float,
		Shadow: ShadowConfig{
			Enabled:         true,
			Resolution:      DefaultShadowResolution,
			SmoothingRadius: DefaultSmoothingRadius,
			Bias:            DefaultShadowBias,
			Extent:          DefaultShadowExtent,
		},
		Glow: GlowConfig{
			Enabled:    true,
			Threshold:  DefaultGlowThreshold,
			BlurRadius: DefaultGlowBlurRadius,
			Intensity:  1,
			Downsample: 1,
		},
		ClearColor:  gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		ClearPolicy: ClearPolicyOverride,
		Limits:      gputypes.DefaultLimits(),
	}
}

// New builds a configuration from Default with the given options applied and validates it.
//
// Parameters:
//   - opts: options applied in order over the defaults
//
// Returns:
//   - PipelineConfig: the validated configuration
//   - error: an InvalidConfig error if the result does not validate
func New(opts ...ConfigBuilderOption) (PipelineConfig, error) {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return PipelineConfig{}, err
	}
	return c, nil
}

// supportedColorFormats are the color formats every backend can render into.
var supportedColorFormats = map[gputypes.TextureFormat]bool{
	gputypes.TextureFormatRGBA8Unorm:  true,
	gputypes.TextureFormatBGRA8Unorm:  true,
	gputypes.TextureFormatRGBA16Float: true,
}

// supportedDepthFormats are the depth formats every backend can test against.
var supportedDepthFormats = map[gputypes.TextureFormat]bool{
	gputypes.TextureFormatDepth32Float: true,
	gputypes.TextureFormatDepth24Plus:  true,
}

// Validate checks resolutions against the configured limits and rejects out of range or
// conflicting settings.
//
// Returns:
//   - error: an error wrapping common.ErrInvalidConfig, or nil if the configuration is valid
func (c PipelineConfig) Validate() error {
	maxDim := int(c.Limits.MaxTextureDimension2D)
	if maxDim == 0 {
		maxDim = int(gputypes.DefaultLimits().MaxTextureDimension2D)
	}

	if c.Width <= 0 || c.Height <= 0 {
		return common.Errorf(common.ErrInvalidConfig, "resolution %dx%d must be positive", c.Width, c.Height)
	}
	if c.Width > maxDim || c.Height > maxDim {
		return common.Errorf(common.ErrInvalidConfig, "resolution %dx%d exceeds the limit of %d", c.Width, c.Height, maxDim)
	}
	if !supportedColorFormats[c.ColorFormat] {
		return common.Errorf(common.ErrInvalidConfig, "unsupported color format %s", c.ColorFormat)
	}
	if !supportedDepthFormats[c.DepthFormat] {
		return common.Errorf(common.ErrInvalidConfig, "unsupported depth format %s", c.DepthFormat)
	}
	if c.ClearPolicy != ClearPolicyOverride && c.ClearPolicy != ClearPolicyFixed {
		return common.Errorf(common.ErrInvalidConfig, "unknown clear policy %d", int(c.ClearPolicy))
	}

	if s := c.Shadow; s.Enabled {
		if s.Resolution <= 0 {
			return common.Errorf(common.ErrInvalidConfig, "shadow resolution %d must be positive", s.Resolution)
		}
		if s.Resolution > maxDim {
			return common.Errorf(common.ErrInvalidConfig, "shadow resolution %d exceeds the limit of %d", s.Resolution, maxDim)
		}
		if s.SmoothingRadius < 0 || s.SmoothingRadius > MaxSmoothingRadius {
			return common.Errorf(common.ErrInvalidConfig, "smoothing radius %d outside [0, %d]", s.SmoothingRadius, MaxSmoothingRadius)
		}
		if s.Extent <= 0 {
			return common.Errorf(common.ErrInvalidConfig, "shadow extent %g must be positive", s.Extent)
		}
		if s.Bias < 0 {
			return common.Errorf(common.ErrInvalidConfig, "shadow bias %g must not be negative", s.Bias)
		}
	}

	if g := c.Glow; g.Enabled {
		if g.Threshold < 0 || g.Threshold > 1 {
			return common.Errorf(common.ErrInvalidConfig, "glow threshold %g outside [0, 1]", g.Threshold)
		}
		if g.BlurRadius < 0 || g.BlurRadius > MaxGlowBlurRadius {
			return common.Errorf(common.ErrInvalidConfig, "glow blur radius %d outside [0, %d]", g.BlurRadius, MaxGlowBlurRadius)
		}
		if g.Intensity < 0 {
			return common.Errorf(common.ErrInvalidConfig, "glow intensity %g must not be negative", g.Intensity)
		}
		if g.Downsample < 1 {
			return common.Errorf(common.ErrInvalidConfig, "glow downsample %d must be at least 1", g.Downsample)
		}
		if c.Width/g.Downsample == 0 || c.Height/g.Downsample == 0 {
			return common.Errorf(common.ErrInvalidConfig, "glow downsample %d leaves no texels at %dx%d", g.Downsample, c.Width, c.Height)
		}
	}

	return nil
}

// ResolveClearColor picks the color a frame is cleared to under the configured policy.
//
// Parameters:
//   - requested: the colors passed to StartFrame; only the first is used
//
// Returns:
//   - gputypes.Color: the clear color for the frame
func (c PipelineConfig) ResolveClearColor(requested ...gputypes.Color) gputypes.Color {
	if c.ClearPolicy == ClearPolicyFixed || len(requested) == 0 {
		return c.ClearColor
	}
	return requested[0]
}

// GlowSize returns the resolution of the glow targets.
//
// Returns:
//   - int: the glow target width
//   - int: the glow target height
func (c PipelineConfig) GlowSize() (int, int) {
	d := max(c.Glow.Downsample, 1)
	return max(c.Width/d, 1), max(c.Height/d, 1)
}
