package pass

import (
	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_list"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

// scenePass is the implementation of the Pass interface that renders lit opaque geometry.
type scenePass struct {
	backend  renderer.Backend
	programs ProgramCache
	submit   *submitter

	label       string
	colorFormat gputypes.TextureFormat
	depthFormat gputypes.TextureFormat

	// noShadow is a 1x1 depth texture cleared to the far plane, bound when no shadow map
	// was rendered.
	noShadow common.TextureHandle
}

var _ Pass = &scenePass{}

// NewScenePass creates the pass that renders opaque lists with lighting into the frame's scene
// target, sampling the shadow map when the frame has one. Each list's draw parameters reach the
// backend unmodified.
//
// Parameters:
//   - backend: the backend draws are issued on
//   - programs: the program cache
//   - options: options configuring the label and target formats
//
// Returns:
//   - Pass: the scene pass
func NewScenePass(backend renderer.Backend, programs ProgramCache, options ...PassBuilderOption) Pass {
	o := defaultPassOptions("Scene")
	for _, option := range options {
		option(o)
	}
	return &scenePass{
		backend:     backend,
		programs:    programs,
		submit:      newSubmitter(backend, programs),
		label:       o.label,
		colorFormat: o.colorFormat,
		depthFormat: o.depthFormat,
	}
}

func (p *scenePass) Kind() Kind {
	return KindScene
}

func (p *scenePass) Render(frame *Frame, lists ...render_list.RenderList) (int, error) {
	if frame.Scene == nil {
		return 0, common.Errorf(common.ErrInvalidPipelineState, "scene pass needs a scene target")
	}

	uniforms := frame.Uniforms
	shadowMap := p.noShadow
	if frame.Shadow != nil {
		shadowMap = frame.Shadow.Depth()
		uniforms.ShadowsEnabled = true
	} else {
		uniforms.ShadowsEnabled = false
		if shadowMap == 0 {
			h, err := p.backend.CreateTexture(renderer.TextureDescriptor{Label: "No Shadow", Width: 1, Height: 1, Format: ShadowDepthFormat})
			if err != nil {
				return 0, err
			}
			if err := p.backend.Clear(renderer.Target{Depth: h}, gputypes.Color{}, 1); err != nil {
				p.backend.ReleaseTexture(h)
				return 0, err
			}
			p.noShadow, shadowMap = h, h
		}
	}

	encoded, err := shader.Encode(p.programs.FrameSpec(), &uniforms)
	if err != nil {
		return 0, err
	}
	return p.submit.draw(listDraw{
		label:    p.label,
		kind:     renderer.ProgramLit,
		target:   frame.Scene.Target(),
		color:    p.colorFormat,
		depth:    p.depthFormat,
		params:   listParameters,
		frame:    encoded,
		textures: []namedTexture{{name: "shadow_map", texture: shadowMap}},
		accept:   acceptTriangles,
	}, lists)
}

func (p *scenePass) Release() {
	p.submit.release()
	if p.noShadow != 0 {
		p.backend.ReleaseTexture(p.noShadow)
		p.noShadow = 0
	}
}
