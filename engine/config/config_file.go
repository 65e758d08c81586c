package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/gogpu/gputypes"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the on-disk TOML shape of a PipelineConfig. Pointers distinguish absent keys,
// which keep their Default values.
type fileConfig struct {
	Width       *int       `toml:"width"`
	Height      *int       `toml:"height"`
	ColorFormat *string    `toml:"color_format"`
	DepthFormat *string    `toml:"depth_format"`
	ClearColor  []float64  `toml:"clear_color"`
	ClearPolicy *string    `toml:"clear_policy"`
	Shadow      fileShadow `toml:"shadow"`
	Glow        fileGlow   `toml:"glow"`
}

type fileShadow struct {
	Enabled         *bool    `toml:"enabled"`
	Resolution      *int     `toml:"resolution"`
	SmoothingRadius *int     `toml:"smoothing_radius"`
	Bias            *float32 `toml:"bias"`
	Extent          *float32 `toml:"extent"`
}

type fileGlow struct {
	Enabled    *bool    `toml:"enabled"`
	Threshold  *float32 `toml:"threshold"`
	BlurRadius *int     `toml:"blur_radius"`
	Intensity  *float32 `toml:"intensity"`
	Downsample *int     `toml:"downsample"`
}

var formatNames = map[string]gputypes.TextureFormat{
	"rgba8unorm":   gputypes.TextureFormatRGBA8Unorm,
	"bgra8unorm":   gputypes.TextureFormatBGRA8Unorm,
	"rgba16float":  gputypes.TextureFormatRGBA16Float,
	"depth32float": gputypes.TextureFormatDepth32Float,
	"depth24plus":  gputypes.TextureFormatDepth24Plus,
}

var policyNames = map[string]ClearPolicy{
	"override": ClearPolicyOverride,
	"fixed":    ClearPolicyFixed,
}

// Parse decodes a TOML document over Default and validates the result. Unknown keys are
// rejected so that typos surface instead of silently keeping a default.
//
// Parameters:
//   - r: the TOML document
//   - opts: options applied after decoding, before validation
//
// Returns:
//   - PipelineConfig: the decoded configuration
//   - error: an InvalidConfig error if the document is malformed or the result does not validate
func Parse(r io.Reader, opts ...ConfigBuilderOption) (PipelineConfig, error) {
	var fc fileConfig
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return PipelineConfig{}, decodeError(err)
	}

	c := Default()
	if err := fc.apply(&c); err != nil {
		return PipelineConfig{}, err
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return PipelineConfig{}, err
	}
	return c, nil
}

// LoadFile reads and parses a TOML configuration file.
//
// Parameters:
//   - path: the file to read
//   - opts: options applied after decoding, before validation
//
// Returns:
//   - PipelineConfig: the decoded configuration
//   - error: an error if the file cannot be read, or an InvalidConfig error from Parse
func LoadFile(path string, opts ...ConfigBuilderOption) (PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	c, err := Parse(bytes.NewReader(data), opts...)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// MarshalTOML encodes the configuration in the format Parse reads. Limits are not written; they
// come from the backend at load time.
//
// Returns:
//   - []byte: the TOML document
//   - error: an error if the configuration uses a format with no file name
func (c PipelineConfig) MarshalTOML() ([]byte, error) {
	colorName, err := formatName(c.ColorFormat)
	if err != nil {
		return nil, err
	}
	depthName, err := formatName(c.DepthFormat)
	if err != nil {
		return nil, err
	}
	policy := c.ClearPolicy.String()

	fc := fileConfig{
		Width:       &c.Width,
		Height:      &c.Height,
		ColorFormat: &colorName,
		DepthFormat: &depthName,
		ClearColor:  []float64{c.ClearColor.R, c.ClearColor.G, c.ClearColor.B, c.ClearColor.A},
		ClearPolicy: &policy,
		Shadow: fileShadow{
			Enabled:         &c.Shadow.Enabled,
			Resolution:      &c.Shadow.Resolution,
			SmoothingRadius: &c.Shadow.SmoothingRadius,
			Bias:            &c.Shadow.Bias,
			Extent:          &c.Shadow.Extent,
		},
		Glow: fileGlow{
			Enabled:    &c.Glow.Enabled,
			Threshold:  &c.Glow.Threshold,
			BlurRadius: &c.Glow.BlurRadius,
			Intensity:  &c.Glow.Intensity,
			Downsample: &c.Glow.Downsample,
		},
	}
	return toml.Marshal(fc)
}

func (fc fileConfig) apply(c *PipelineConfig) error {
	setIf(&c.Width, fc.Width)
	setIf(&c.Height, fc.Height)

	if fc.ColorFormat != nil {
		f, err := parseFormat("color_format", *fc.ColorFormat)
		if err != nil {
			return err
		}
		c.ColorFormat = f
	}
	if fc.DepthFormat != nil {
		f, err := parseFormat("depth_format", *fc.DepthFormat)
		if err != nil {
			return err
		}
		c.DepthFormat = f
	}
	if fc.ClearColor != nil {
		if len(fc.ClearColor) != 3 && len(fc.ClearColor) != 4 {
			return common.Errorf(common.ErrInvalidConfig, "clear_color needs 3 or 4 components, got %d", len(fc.ClearColor))
		}
		c.ClearColor = gputypes.Color{R: fc.ClearColor[0], G: fc.ClearColor[1], B: fc.ClearColor[2], A: 1}
		if len(fc.ClearColor) == 4 {
			c.ClearColor.A = fc.ClearColor[3]
		}
	}
	if fc.ClearPolicy != nil {
		p, ok := policyNames[strings.ToLower(*fc.ClearPolicy)]
		if !ok {
			return common.Errorf(common.ErrInvalidConfig, "unknown clear_policy %q", *fc.ClearPolicy)
		}
		c.ClearPolicy = p
	}

	setIf(&c.Shadow.Enabled, fc.Shadow.Enabled)
	setIf(&c.Shadow.Resolution, fc.Shadow.Resolution)
	setIf(&c.Shadow.SmoothingRadius, fc.Shadow.SmoothingRadius)
	setIf(&c.Shadow.Bias, fc.Shadow.Bias)
	setIf(&c.Shadow.Extent, fc.Shadow.Extent)

	setIf(&c.Glow.Enabled, fc.Glow.Enabled)
	setIf(&c.Glow.Threshold, fc.Glow.Threshold)
	setIf(&c.Glow.BlurRadius, fc.Glow.BlurRadius)
	setIf(&c.Glow.Intensity, fc.Glow.Intensity)
	setIf(&c.Glow.Downsample, fc.Glow.Downsample)
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func parseFormat(key, name string) (gputypes.TextureFormat, error) {
	f, ok := formatNames[strings.ToLower(name)]
	if !ok {
		return 0, common.Errorf(common.ErrInvalidConfig, "unknown %s %q", key, name)
	}
	return f, nil
}

func formatName(f gputypes.TextureFormat) (string, error) {
	for name, v := range formatNames {
		if v == f {
			return name, nil
		}
	}
	return "", common.Errorf(common.ErrInvalidConfig, "format %s has no config file name", f)
}

func decodeError(err error) error {
	var strict *toml.StrictMissingError
	if errors.As(err, &strict) {
		return common.Errorf(common.ErrInvalidConfig, "unknown keys:\n%s", strict.String())
	}
	var de *toml.DecodeError
	if errors.As(err, &de) {
		row, col := de.Position()
		return common.Errorf(common.ErrInvalidConfig, "line %d column %d: %s", row, col, de.Error())
	}
	return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
}
