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

// GlowDraws is the number of fullscreen draws one glow pass issues: extract, horizontal blur,
// vertical blur and composite.
const GlowDraws = 4

// glowPass is the implementation of the Pass interface that adds a blurred glow of the bright
// scene pixels onto the scene.
type glowPass struct {
	backend  renderer.Backend
	targets  render_target.Manager
	programs ProgramCache
	submit   *submitter

	label       string
	cfg         config.GlowConfig
	colorFormat gputypes.TextureFormat
	depthFormat gputypes.TextureFormat
}

var _ Pass = &glowPass{}

// NewGlowPass creates the postprocess pass. It extracts the pixels of the scene brighter than
// the threshold into a glow target downsampled by cfg.Downsample, blurs it horizontally then
// vertically, adds it scaled by the intensity onto the scene color in the composite target and
// finally draws the lists it is given unlit over the composite, depth tested against the scene.
//
// Parameters:
//   - backend: the backend draws are issued on
//   - targets: the manager owning the glow and composite targets
//   - programs: the program cache
//   - cfg: the glow settings
//   - options: options configuring the label and target formats
//
// Returns:
//   - Pass: the glow pass
//   - error: ErrInvalidConfig for a negative blur radius or a threshold outside [0, 1]
func NewGlowPass(backend renderer.Backend, targets render_target.Manager, programs ProgramCache, cfg config.GlowConfig, options ...PassBuilderOption) (Pass, error) {
	if cfg.BlurRadius < 0 {
		return nil, common.Errorf(common.ErrInvalidConfig, "glow blur radius %d must not be negative", cfg.BlurRadius)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, common.Errorf(common.ErrInvalidConfig, "glow threshold %v is outside [0, 1]", cfg.Threshold)
	}
	o := defaultPassOptions("Glow")
	for _, option := range options {
		option(o)
	}
	cfg.Downsample = max(cfg.Downsample, 1)
	return &glowPass{
		backend:     backend,
		targets:     targets,
		programs:    programs,
		submit:      newSubmitter(backend, programs),
		label:       o.label,
		cfg:         cfg,
		colorFormat: o.colorFormat,
		depthFormat: o.depthFormat,
	}, nil
}

func (p *glowPass) Kind() Kind {
	return KindGlow
}

func (p *glowPass) Render(frame *Frame, plain ...render_list.RenderList) (int, error) {
	scene := frame.Scene
	if scene == nil {
		return 0, common.Errorf(common.ErrInvalidPipelineState, "glow pass needs a rendered scene target")
	}
	w, h := scene.Key().Width, scene.Key().Height
	gw, gh := max(w/p.cfg.Downsample, 1), max(h/p.cfg.Downsample, 1)

	ping, err := p.target(render_target.PurposeGlowPing, gw, gh)
	if err != nil {
		return 0, err
	}
	pong, err := p.target(render_target.PurposeGlowPong, gw, gh)
	if err != nil {
		return 0, err
	}
	composite, err := p.target(render_target.PurposeComposite, w, h)
	if err != nil {
		return 0, err
	}

	params := GlowUniforms{Threshold: p.cfg.Threshold, Intensity: p.cfg.Intensity, Radius: int32(p.cfg.BlurRadius)}
	steps := []struct {
		kind      renderer.ProgramKind
		label     string
		into      *render_target.RenderTarget
		direction common.Vec2
		textures  []namedTexture
	}{
		{renderer.ProgramGlowExtract, "Extract", ping, common.Vec2{}, []namedTexture{{"source", scene.Color()}}},
		{renderer.ProgramBlur, "Blur Horizontal", pong, common.Vec2{1, 0}, []namedTexture{{"source", ping.Color()}}},
		{renderer.ProgramBlur, "Blur Vertical", ping, common.Vec2{0, 1}, []namedTexture{{"source", pong.Color()}}},
		{renderer.ProgramComposite, "Composite", composite, common.Vec2{}, []namedTexture{{"scene", scene.Color()}, {"glow", ping.Color()}}},
	}

	draws := 0
	for _, step := range steps {
		prog, err := p.programs.FullscreenProgram(step.kind, p.colorFormat)
		if err != nil {
			return draws, err
		}
		params.Direction = step.direction
		encoded, err := shader.Encode(p.programs.GlowSpec(), &params)
		if err != nil {
			return draws, err
		}
		uniforms, err := prog.params.PackUniforms(encoded)
		if err != nil {
			return draws, err
		}
		cmd := renderer.DrawCommand{
			Label:       p.label + " " + step.label,
			Program:     prog.Handle,
			Target:      renderer.Target{Color: step.into.Color()},
			Params:      fullscreenParameters(),
			VertexCount: 3,
			Uniforms:    uniforms,
		}
		for _, t := range step.textures {
			if tb, ok := prog.texture(t.name, t.texture); ok {
				cmd.Textures = append(cmd.Textures, tb)
			}
		}
		if err := p.backend.Draw(cmd); err != nil {
			return draws, err
		}
		draws++
	}
	frame.Output = composite

	uniforms := frame.Uniforms
	uniforms.ShadowsEnabled = false
	encoded, err := shader.Encode(p.programs.FrameSpec(), &uniforms)
	if err != nil {
		return draws, err
	}
	n, err := p.submit.draw(listDraw{
		label:  p.label + " Plain",
		kind:   renderer.ProgramUnlit,
		target: renderer.Target{Color: composite.Color(), Depth: scene.Depth()},
		color:  p.colorFormat,
		depth:  p.depthFormat,
		params: listParameters,
		frame:  encoded,
		accept: acceptTriangles,
	}, plain)
	return draws + n, err
}

func (p *glowPass) target(purpose render_target.Purpose, w, h int) (*render_target.RenderTarget, error) {
	return p.targets.GetOrCreate(render_target.Key{Purpose: purpose, Width: w, Height: h, ColorFormat: p.colorFormat})
}

func (p *glowPass) Release() {
	p.submit.release()
}

// fullscreenParameters draws a fullscreen triangle over the whole target.
func fullscreenParameters() renderer.DrawParameters {
	return renderer.DrawParameters{
		CullMode:  gputypes.CullModeNone,
		FrontFace: gputypes.FrontFaceCCW,
	}
}
