package pass

import (
	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_list"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

// linePass is the implementation of the Pass interface that overlays line lists.
type linePass struct {
	backend  renderer.Backend
	programs ProgramCache
	submit   *submitter

	label       string
	colorFormat gputypes.TextureFormat
	params      renderer.DrawParameters
}

var _ Pass = &linePass{}

// NewLinePass creates the pass that draws line lists unlit onto the frame's final target
// without depth testing. It always runs last.
//
// Parameters:
//   - backend: the backend draws are issued on
//   - programs: the program cache
//   - options: options configuring the label, color format and draw parameters
//
// Returns:
//   - Pass: the line pass
func NewLinePass(backend renderer.Backend, programs ProgramCache, options ...PassBuilderOption) Pass {
	o := defaultPassOptions("Lines")
	for _, option := range options {
		option(o)
	}
	p := &linePass{
		backend:     backend,
		programs:    programs,
		submit:      newSubmitter(backend, programs),
		label:       o.label,
		colorFormat: o.colorFormat,
		params: renderer.DrawParameters{
			CullMode:     gputypes.CullModeNone,
			FrontFace:    gputypes.FrontFaceCCW,
			DepthCompare: gputypes.CompareFunctionAlways,
		},
	}
	if o.params != nil {
		p.params = *o.params
	}
	return p
}

func (p *linePass) Kind() Kind {
	return KindLine
}

func (p *linePass) Render(frame *Frame, lists ...render_list.RenderList) (int, error) {
	final := frame.Final()
	if final == nil {
		return 0, common.Errorf(common.ErrInvalidPipelineState, "line pass needs a rendered frame target")
	}
	uniforms := frame.Uniforms
	uniforms.ShadowsEnabled = false
	encoded, err := shader.Encode(p.programs.FrameSpec(), &uniforms)
	if err != nil {
		return 0, err
	}
	return p.submit.draw(listDraw{
		label:  p.label,
		kind:   renderer.ProgramLine,
		target: renderer.Target{Color: final.Color()},
		color:  p.colorFormat,
		params: fixedParameters(p.params),
		frame:  encoded,
		accept: acceptLines,
	}, lists)
}

func (p *linePass) Release() {
	p.submit.release()
}
