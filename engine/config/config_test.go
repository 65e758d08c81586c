package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.True(t, c.Shadow.Enabled)
	assert.Equal(t, DefaultShadowResolution, c.Shadow.Resolution)
	assert.True(t, c.Glow.Enabled)
}

func TestNewAppliesOptions(t *testing.T) {
	c, err := New(
		WithResolution(640, 480),
		WithShadows(1024),
		WithSmoothingRadius(0),
		WithoutGlow(),
		WithClearColor(gputypes.Color{R: 0.2, G: 0.3, B: 0.4, A: 1}),
		WithClearPolicy(ClearPolicyFixed),
	)
	require.NoError(t, err)
	assert.Equal(t, 640, c.Width)
	assert.Equal(t, 480, c.Height)
	assert.Equal(t, 1024, c.Shadow.Resolution)
	assert.Equal(t, 0, c.Shadow.SmoothingRadius)
	assert.False(t, c.Glow.Enabled)
	assert.Equal(t, ClearPolicyFixed, c.ClearPolicy)
}

func TestValidateRejects(t *testing.T) {
	small := gputypes.DefaultLimits()
	small.MaxTextureDimension2D = 512

	tests := []struct {
		name string
		opts []ConfigBuilderOption
	}{
		{"zero width", []ConfigBuilderOption{WithResolution(0, 480)}},
		{"negative height", []ConfigBuilderOption{WithResolution(640, -1)}},
		{"over limit", []ConfigBuilderOption{WithLimits(small), WithResolution(1024, 256), WithShadows(256)}},
		{"shadow over limit", []ConfigBuilderOption{WithLimits(small), WithResolution(256, 256), WithShadows(1024)}},
		{"zero shadow resolution", []ConfigBuilderOption{WithShadows(0)}},
		{"negative smoothing", []ConfigBuilderOption{WithSmoothingRadius(-1)}},
		{"large smoothing", []ConfigBuilderOption{WithSmoothingRadius(MaxSmoothingRadius + 1)}},
		{"negative bias", []ConfigBuilderOption{WithShadowBias(-0.1)}},
		{"zero extent", []ConfigBuilderOption{WithShadowExtent(0)}},
		{"threshold", []ConfigBuilderOption{WithGlow(GlowConfig{Threshold: 1.5, BlurRadius: 2, Intensity: 1, Downsample: 1})}},
		{"blur radius", []ConfigBuilderOption{WithGlow(GlowConfig{Threshold: 0.5, BlurRadius: -1, Intensity: 1, Downsample: 1})}},
		{"downsample", []ConfigBuilderOption{WithGlow(GlowConfig{Threshold: 0.5, BlurRadius: 2, Intensity: 1, Downsample: 0})}},
		{"downsample collapses", []ConfigBuilderOption{WithResolution(8, 8), WithGlow(GlowConfig{Threshold: 0.5, BlurRadius: 2, Intensity: 1, Downsample: 16})}},
		{"intensity", []ConfigBuilderOption{WithGlow(GlowConfig{Threshold: 0.5, BlurRadius: 2, Intensity: -1, Downsample: 1})}},
		{"color format", []ConfigBuilderOption{WithColorFormat(gputypes.TextureFormatDepth32Float)}},
		{"depth format", []ConfigBuilderOption{WithDepthFormat(gputypes.TextureFormatRGBA8Unorm)}},
		{"clear policy", []ConfigBuilderOption{WithClearPolicy(ClearPolicy(9))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
			assert.Equal(t, common.KindConfig, common.KindOf(err))
		})
	}
}

func TestDisabledPassesSkipValidation(t *testing.T) {
	_, err := New(WithoutShadows(), WithSmoothingRadius(-5), WithoutGlow())
	assert.NoError(t, err)
}

func TestResolveClearColor(t *testing.T) {
	base := gputypes.Color{R: 0.1, A: 1}
	red := gputypes.Color{R: 1, A: 1}

	c, err := New(WithClearColor(base))
	require.NoError(t, err)
	assert.Equal(t, red, c.ResolveClearColor(red))
	assert.Equal(t, base, c.ResolveClearColor())

	c, err = New(WithClearColor(base), WithClearPolicy(ClearPolicyFixed))
	require.NoError(t, err)
	assert.Equal(t, base, c.ResolveClearColor(red))
}

func TestGlowSize(t *testing.T) {
	c, err := New(WithResolution(641, 480), WithGlow(GlowConfig{Threshold: 0.5, BlurRadius: 2, Intensity: 1, Downsample: 2}))
	require.NoError(t, err)
	w, h := c.GlowSize()
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)
}

func TestParse(t *testing.T) {
	doc := `
width = 800
height = 600
color_format = "bgra8unorm"
clear_color = [0.1, 0.2, 0.3]
clear_policy = "fixed"

[shadow]
resolution = 1024
smoothing_radius = 2

[glow]
enabled = false
`
	c, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 800, c.Width)
	assert.Equal(t, 600, c.Height)
	assert.Equal(t, gputypes.TextureFormatBGRA8Unorm, c.ColorFormat)
	assert.Equal(t, gputypes.TextureFormatDepth32Float, c.DepthFormat, "absent keys keep their defaults")
	assert.Equal(t, gputypes.Color{R: 0.1, G: 0.2, B: 0.3, A: 1}, c.ClearColor)
	assert.Equal(t, ClearPolicyFixed, c.ClearPolicy)
	assert.True(t, c.Shadow.Enabled)
	assert.Equal(t, 1024, c.Shadow.Resolution)
	assert.Equal(t, 2, c.Shadow.SmoothingRadius)
	assert.False(t, c.Glow.Enabled)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "widht = 10\n"},
		{"malformed", "width = \n"},
		{"wrong type", "width = \"wide\"\n"},
		{"unknown format", "color_format = \"rgb565\"\n"},
		{"unknown policy", "clear_policy = \"sometimes\"\n"},
		{"clear color length", "clear_color = [1.0]\n"},
		{"fails validation", "[shadow]\nresolution = -4\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestParseOptionsOverrideFile(t *testing.T) {
	c, err := Parse(strings.NewReader("width = 800\nheight = 600\n"), WithResolution(320, 200))
	require.NoError(t, err)
	assert.Equal(t, 320, c.Width)
}

func TestMarshalRoundTrip(t *testing.T) {
	in, err := New(
		WithResolution(1024, 768),
		WithDepthFormat(gputypes.TextureFormatDepth24Plus),
		WithSmoothingRadius(3),
		WithGlow(GlowConfig{Threshold: 0.5, BlurRadius: 6, Intensity: 0.75, Downsample: 2}),
		WithClearColor(gputypes.Color{R: 0.25, G: 0.5, B: 0.75, A: 1}),
	)
	require.NoError(t, err)

	data, err := in.MarshalTOML()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pipeline.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrInvalidConfig)
}
