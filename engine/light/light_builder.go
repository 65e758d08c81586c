package light

import "github.com/Carmen-Shannon/conduit/common"

// LightBuilderOption is a function that configures a Light instance during construction.
type LightBuilderOption func(*lightImpl)

// WithPosition is an option builder that sets the world-space position of the light.
//
// Parameters:
//   - x: the x position component
//   - y: the y position component
//   - z: the z position component
//
// Returns:
//   - LightBuilderOption: a function that applies the position option to a lightImpl
func WithPosition(x, y, z float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.position = common.Vec3{x, y, z}
	}
}

// WithDirection is an option builder that sets the direction of the light.
// The direction is normalized before storing.
//
// Parameters:
//   - x: the x direction component
//   - y: the y direction component
//   - z: the z direction component
//
// Returns:
//   - LightBuilderOption: a function that applies the direction option to a lightImpl
func WithDirection(x, y, z float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.direction = common.Normalize3(common.Vec3{x, y, z})
	}
}

// WithColor is an option builder that sets the RGB color of the light.
//
// Parameters:
//   - r: the red color component
//   - g: the green color component
//   - b: the blue color component
//
// Returns:
//   - LightBuilderOption: a function that applies the color option to a lightImpl
func WithColor(r, g, b float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.color = common.Vec3{r, g, b}
	}
}

// WithIntensity is an option builder that sets the scalar intensity multiplier.
//
// Parameters:
//   - intensity: the intensity value
//
// Returns:
//   - LightBuilderOption: a function that applies the intensity option to a lightImpl
func WithIntensity(intensity float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.intensity = intensity
	}
}

// WithAttenuation is an option builder that sets the constant, linear and quadratic distance
// falloff of a point light.
//
// Parameters:
//   - constant: the constant term
//   - linear: the linear term
//   - quadratic: the quadratic term
//
// Returns:
//   - LightBuilderOption: a function that applies the attenuation option to a lightImpl
func WithAttenuation(constant, linear, quadratic float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.attenuation = common.Vec3{constant, linear, quadratic}
	}
}

// WithMain is an option builder that marks the light as the main light.
//
// Returns:
//   - LightBuilderOption: a function that applies the main option to a lightImpl
func WithMain() LightBuilderOption {
	return func(l *lightImpl) {
		l.main = true
	}
}
