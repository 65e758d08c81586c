package light

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/conduit/common"
)

// LightType identifies the kind of light source.
type LightType int

const (
	// LightTypeDirectional represents a light with no position, only direction.
	// Used for large distant sources like the sun. Affects all fragments
	// uniformly with no distance attenuation.
	LightTypeDirectional LightType = iota

	// LightTypePoint represents a light that emits in all directions from a position.
	// Its contribution falls off with distance d as 1 / (c + l·d + q·d²).
	LightTypePoint
)

func (t LightType) String() string {
	switch t {
	case LightTypeDirectional:
		return "directional"
	case LightTypePoint:
		return "point"
	default:
		return fmt.Sprintf("LightType(%d)", int(t))
	}
}

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	mu *sync.Mutex

	lightType   LightType
	position    common.Vec3
	direction   common.Vec3
	color       common.Vec3
	intensity   float32
	attenuation common.Vec3
	main        bool
}

// Light defines the interface for a light source feeding the frame uniforms.
//
// The pipeline lights the scene with one light. Of the lights handed to it, the one marked
// main drives both the scene lighting and the shadow pass; without a main light the first
// light is used.
type Light interface {
	// Type returns the kind of light source.
	//
	// Returns:
	//   - LightType: the light type (directional or point)
	Type() LightType

	// Position returns the world-space position of the light.
	// Meaningless for directional lights.
	//
	// Returns:
	//   - common.Vec3: position as (x, y, z)
	Position() common.Vec3

	// Direction returns the normalized direction the light travels in. For point lights it is
	// only used to orient the shadow volume.
	//
	// Returns:
	//   - common.Vec3: normalized direction as (x, y, z)
	Direction() common.Vec3

	// Color returns the RGB color of the light, without the intensity applied.
	//
	// Returns:
	//   - common.Vec3: color as (r, g, b)
	Color() common.Vec3

	// Intensity returns the scalar intensity multiplier for the light.
	//
	// Returns:
	//   - float32: the intensity value
	Intensity() float32

	// Attenuation returns the constant, linear and quadratic distance falloff coefficients.
	// Meaningless for directional lights.
	//
	// Returns:
	//   - common.Vec3: the coefficients (c, l, q)
	Attenuation() common.Vec3

	// IsMain reports whether this light is the main light of the scene.
	//
	// Returns:
	//   - bool: true if the light is the main light
	IsMain() bool

	// Radiance returns the color scaled by the intensity, the value written to the frame
	// uniforms.
	//
	// Returns:
	//   - common.Vec3: the scaled color
	Radiance() common.Vec3

	// SetPosition sets the world-space position of the light.
	//
	// Parameters:
	//   - x, y, z: position components
	SetPosition(x, y, z float32)

	// SetDirection sets the direction of the light and normalizes it.
	//
	// Parameters:
	//   - x, y, z: direction components (will be normalized)
	SetDirection(x, y, z float32)

	// SetColor sets the RGB color of the light.
	//
	// Parameters:
	//   - r, g, b: color components
	SetColor(r, g, b float32)

	// SetIntensity sets the scalar intensity multiplier.
	//
	// Parameters:
	//   - intensity: the intensity value
	SetIntensity(intensity float32)

	// SetAttenuation sets the distance falloff coefficients.
	//
	// Parameters:
	//   - constant: the constant term c
	//   - linear: the linear term l
	//   - quadratic: the quadratic term q
	SetAttenuation(constant, linear, quadratic float32)

	// SetMain marks or unmarks the light as the main light.
	//
	// Parameters:
	//   - main: true to make the light the main light
	SetMain(main bool)
}

var _ Light = &lightImpl{}

// NewLight creates a new Light of the specified type with sensible defaults and
// any provided options applied.
//
// Parameters:
//   - lightType: the kind of light to create (directional or point)
//   - opts: variadic list of LightBuilderOption functions to configure the light
//
// Returns:
//   - Light: a new Light instance
func NewLight(lightType LightType, opts ...LightBuilderOption) Light {
	l := &lightImpl{
		mu:          &sync.Mutex{},
		lightType:   lightType,
		direction:   common.Vec3{0, -1, 0},
		color:       common.Vec3{1, 1, 1},
		intensity:   1.0,
		attenuation: common.Vec3{1, 0, 0},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Main returns the light marked main, or the first light when none is. It returns nil for an
// empty slice.
//
// Parameters:
//   - lights: the candidate lights
//
// Returns:
//   - Light: the main light, or nil
func Main(lights ...Light) Light {
	for _, l := range lights {
		if l != nil && l.IsMain() {
			return l
		}
	}
	for _, l := range lights {
		if l != nil {
			return l
		}
	}
	return nil
}

func (l *lightImpl) Type() LightType {
	return l.lightType
}

func (l *lightImpl) Position() common.Vec3 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position
}

func (l *lightImpl) Direction() common.Vec3 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.direction
}

func (l *lightImpl) Color() common.Vec3 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.color
}

func (l *lightImpl) Intensity() float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intensity
}

func (l *lightImpl) Attenuation() common.Vec3 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attenuation
}

func (l *lightImpl) IsMain() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.main
}

func (l *lightImpl) Radiance() common.Vec3 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return common.Vec3{l.color[0] * l.intensity, l.color[1] * l.intensity, l.color[2] * l.intensity}
}

func (l *lightImpl) SetPosition(x, y, z float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.position = common.Vec3{x, y, z}
}

func (l *lightImpl) SetDirection(x, y, z float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.direction = common.Normalize3(common.Vec3{x, y, z})
}

func (l *lightImpl) SetColor(r, g, b float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.color = common.Vec3{r, g, b}
}

func (l *lightImpl) SetIntensity(intensity float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intensity = intensity
}

func (l *lightImpl) SetAttenuation(constant, linear, quadratic float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attenuation = common.Vec3{constant, linear, quadratic}
}

func (l *lightImpl) SetMain(main bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.main = main
}
