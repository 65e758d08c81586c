package pass

import (
	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/config"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_list"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_target"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

// ShadowDepthFormat is the format of the shadow depth map.
const ShadowDepthFormat = gputypes.TextureFormatDepth32Float

// shadowPass is the implementation of the Pass interface that renders the shadow depth map.
type shadowPass struct {
	backend  renderer.Backend
	targets  render_target.Manager
	programs ProgramCache
	submit   *submitter

	label      string
	resolution int
	params     renderer.DrawParameters
}

var _ Pass = &shadowPass{}

// NewShadowPass creates the pass that renders opaque lists from the main light into a square
// depth-only target. The scene pass samples the result with a (2r+1)² percentage-closer filter.
//
// Parameters:
//   - backend: the backend draws are issued on
//   - targets: the manager owning the shadow target
//   - programs: the program cache
//   - cfg: the shadow settings
//   - options: options configuring the label and draw parameters
//
// Returns:
//   - Pass: the shadow pass
//   - error: ErrInvalidConfig if the resolution is not positive
func NewShadowPass(backend renderer.Backend, targets render_target.Manager, programs ProgramCache, cfg config.ShadowConfig, options ...PassBuilderOption) (Pass, error) {
	if cfg.Resolution <= 0 {
		return nil, common.Errorf(common.ErrInvalidConfig, "shadow resolution %d must be positive", cfg.Resolution)
	}
	o := defaultPassOptions("Shadow")
	for _, option := range options {
		option(o)
	}
	p := &shadowPass{
		backend:    backend,
		targets:    targets,
		programs:   programs,
		submit:     newSubmitter(backend, programs),
		label:      o.label,
		resolution: cfg.Resolution,
		params:     renderer.DefaultDrawParameters(),
	}
	if o.params != nil {
		p.params = *o.params
	}
	return p, nil
}

func (p *shadowPass) Kind() Kind {
	return KindShadow
}

func (p *shadowPass) Render(frame *Frame, lists ...render_list.RenderList) (int, error) {
	t, err := p.targets.GetOrCreate(render_target.Key{
		Purpose:     render_target.PurposeShadow,
		Width:       p.resolution,
		Height:      p.resolution,
		DepthFormat: ShadowDepthFormat,
	})
	if err != nil {
		return 0, err
	}
	if err := p.backend.Clear(t.Target(), gputypes.Color{}, 1); err != nil {
		return 0, err
	}
	frame.Shadow = t

	uniforms, err := shader.Encode(p.programs.FrameSpec(), &frame.Uniforms)
	if err != nil {
		return 0, err
	}
	return p.submit.draw(listDraw{
		label:  p.label,
		kind:   renderer.ProgramShadowDepth,
		target: t.Target(),
		depth:  ShadowDepthFormat,
		params: fixedParameters(p.params),
		frame:  uniforms,
		accept: acceptTriangles,
	}, lists)
}

func (p *shadowPass) Release() {
	p.submit.release()
}
