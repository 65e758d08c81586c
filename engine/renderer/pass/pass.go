// Package pass implements the render passes a pipeline sequences into one frame: the shadow
// depth pass, the lit scene pass, the glow postprocess and the line overlay. Passes draw
// RenderLists through a renderer.Backend with programs generated from the lists' record specs.
package pass

import (
	"fmt"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_list"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_target"
)

// Kind identifies a pass.
type Kind int

const (
	KindShadow Kind = iota
	KindScene
	KindGlow
	KindLine
)

func (k Kind) String() string {
	switch k {
	case KindShadow:
		return "shadow"
	case KindScene:
		return "scene"
	case KindGlow:
		return "glow"
	case KindLine:
		return "line"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

const (
	// LightKindDirectional lights along LightDirection from infinitely far away.
	LightKindDirectional uint32 = 0

	// LightKindPoint lights from LightPosition with distance attenuation.
	LightKindPoint uint32 = 1
)

// FrameUniforms is the per-frame record every mesh program reads from group 0 binding 0.
type FrameUniforms struct {
	ViewProj       common.Mat4
	LightViewProj  common.Mat4
	CameraPosition common.Vec3
	Time           float32

	LightPosition  common.Vec3
	LightKind      uint32
	LightDirection common.Vec3
	ShadowBias     float32
	LightColor     common.Vec3
	ShadowRadius   int32

	// LightAttenuation holds the constant, linear and quadratic terms of 1 / (c + l·d + q·d²).
	LightAttenuation common.Vec3
	ShadowsEnabled   bool
	Ambient          common.Vec3
}

// DefaultFrameUniforms returns identity transforms and a white directional light pointing
// straight down with no attenuation.
//
// Returns:
//   - FrameUniforms: the default frame uniforms
func DefaultFrameUniforms() FrameUniforms {
	return FrameUniforms{
		ViewProj:         common.Identity4(),
		LightViewProj:    common.Identity4(),
		LightKind:        LightKindDirectional,
		LightDirection:   common.Vec3{0, -1, 0},
		LightColor:       common.Vec3{1, 1, 1},
		LightAttenuation: common.Vec3{1, 0, 0},
		Ambient:          common.Vec3{0.1, 0.1, 0.1},
	}
}

// Frame is the state passes hand to each other within one frame. Shadow is set by the shadow
// pass, Output by the glow pass; the line pass draws onto Output, or onto Scene when no glow
// pass ran.
type Frame struct {
	Uniforms FrameUniforms

	Scene  *render_target.RenderTarget
	Shadow *render_target.RenderTarget
	Output *render_target.RenderTarget
}

// Final returns the target the frame ends up in.
//
// Returns:
//   - *render_target.RenderTarget: Output if set, Scene otherwise
func (f *Frame) Final() *render_target.RenderTarget {
	if f.Output != nil {
		return f.Output
	}
	return f.Scene
}

// Pass is one stage of a frame. Passes are used from the frame submission goroutine only.
type Pass interface {
	// Kind returns the pass kind.
	Kind() Kind

	// Render draws the lists into the pass target and records the target in the frame.
	//
	// Parameters:
	//   - frame: the frame being rendered
	//   - lists: the render lists the pass draws, in order
	//
	// Returns:
	//   - int: the number of draws issued
	//   - error: a BindingError or StateError for lists the pass cannot draw, or the backend
	//     error unmodified
	Render(frame *Frame, lists ...render_list.RenderList) (int, error)

	// Release frees the resources the pass owns. Render targets belong to the target manager.
	Release()
}
