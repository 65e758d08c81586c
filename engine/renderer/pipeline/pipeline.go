// Package pipeline orchestrates the render passes of a frame: shadow map, lit scene, glow
// postprocess and line overlay, driven through an explicit per-frame state machine.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/camera"
	"github.com/Carmen-Shannon/conduit/engine/config"
	"github.com/Carmen-Shannon/conduit/engine/light"
	"github.com/Carmen-Shannon/conduit/engine/logger"
	"github.com/Carmen-Shannon/conduit/engine/profiler"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/pass"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_list"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_target"
	"github.com/gogpu/gputypes"
)

// State is the position of the pipeline in its per-frame sequence.
type State int

const (
	// StateIdle is the state between frames.
	StateIdle State = iota

	// StateFrameStarted follows StartFrame: the scene target is cleared.
	StateFrameStarted

	// StateShadowRendered follows RenderShadows.
	StateShadowRendered

	// StateSceneRendered follows RenderScene.
	StateSceneRendered

	// StatePostprocessComposited follows Postprocess.
	StatePostprocessComposited

	// StateLinesRendered follows RenderLines.
	StateLinesRendered

	// StatePresented is held while the final target is handed to the backend.
	StatePresented

	// StateFailed follows a pass or backend failure. Only StartFrame, DiscardFrame, Resize
	// and Close are accepted.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateFrameStarted:
		return "FrameStarted"
	case StateShadowRendered:
		return "ShadowRendered"
	case StateSceneRendered:
		return "SceneRendered"
	case StatePostprocessComposited:
		return "PostprocessComposited"
	case StateLinesRendered:
		return "LinesRendered"
	case StatePresented:
		return "Presented"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats are the draw counts of one frame per pass.
type Stats struct {
	// Frame is the number of frames presented so far, this one included.
	Frame uint64

	ShadowDraws int
	SceneDraws  int
	GlowDraws   int
	LineDraws   int

	// Duration is the time from StartFrame to Present.
	Duration time.Duration
}

// Draws returns the total draw count of the frame.
//
// Returns:
//   - int: the sum of the per-pass draw counts
func (s Stats) Draws() int {
	return s.ShadowDraws + s.SceneDraws + s.GlowDraws + s.LineDraws
}

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	mu *sync.Mutex

	backend  renderer.Backend
	cfg      config.PipelineConfig
	targets  render_target.Manager
	programs pass.ProgramCache

	// passes holds the passes derived from the config, in execution order.
	passes []pass.Pass
	shadow pass.Pass
	scene  pass.Pass
	glow   pass.Pass
	lines  pass.Pass

	state  State
	closed bool

	frame      *pass.Frame
	frameStart time.Time
	current    Stats
	last       Stats
	presented  uint64

	camera   camera.Camera
	lights   []light.Light
	ambient  common.Vec3
	time     float32
	profiler *profiler.Profiler
	now      func() time.Time
}

// Pipeline runs the passes of a frame in a fixed order. Every frame goes through
// StartFrame, the optional RenderShadows, RenderScene, the optional Postprocess, RenderLines
// and Present. A call out of that order fails with ErrInvalidPipelineState and leaves the state
// unchanged. Shadow and glow are only available when the config enables them.
//
// Submission is single threaded: the pipeline serializes its calls but is meant to be driven
// from one goroutine.
type Pipeline interface {
	// StartFrame begins a frame: it snapshots the camera, light and time into the frame
	// uniforms and clears the scene target. Accepted in Idle and Failed.
	//
	// Parameters:
	//   - clear: the clear color; only the first is used and the config's clear policy may
	//     ignore it
	//
	// Returns:
	//   - error: ErrInvalidPipelineState out of order, or the backend error of the clear
	StartFrame(clear ...gputypes.Color) error

	// RenderShadows renders the lists into the shadow map from the main light.
	// Accepted in FrameStarted when shadows are enabled.
	//
	// Parameters:
	//   - lists: the opaque lists casting shadows
	//
	// Returns:
	//   - error: ErrInvalidPipelineState out of order or with shadows disabled, or the pass error
	RenderShadows(lists ...render_list.RenderList) error

	// RenderScene renders the lists lit into the scene target, sampling the shadow map when
	// RenderShadows ran this frame. Accepted in FrameStarted and ShadowRendered.
	//
	// Parameters:
	//   - lists: the opaque lists; each list's draw parameters are used unmodified
	//
	// Returns:
	//   - error: ErrInvalidPipelineState out of order, or the pass error
	RenderScene(lists ...render_list.RenderList) error

	// Postprocess runs the glow chain over the scene and then draws the plain lists unlit over
	// the composite. Accepted in SceneRendered when glow is enabled.
	//
	// Parameters:
	//   - plain: lists drawn unlit after the composite, depth tested against the scene
	//
	// Returns:
	//   - error: ErrInvalidPipelineState out of order or with glow disabled, or the pass error
	Postprocess(plain ...render_list.RenderList) error

	// RenderLines draws line lists over the final target without depth testing.
	// Accepted in SceneRendered and PostprocessComposited.
	//
	// Parameters:
	//   - lists: the line lists
	//
	// Returns:
	//   - error: ErrInvalidPipelineState out of order, or the pass error
	RenderLines(lists ...render_list.RenderList) error

	// Present hands the final target to the backend and returns to Idle.
	// Accepted in LinesRendered.
	//
	// Returns:
	//   - error: ErrInvalidPipelineState out of order, or the backend error
	Present() error

	// Resize changes the frame resolution. The frame targets are released and reallocated at
	// the new size by the next frame. Accepted in Idle and Failed.
	//
	// Parameters:
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	//
	// Returns:
	//   - error: ErrInvalidPipelineState mid-frame, ErrInvalidConfig for an invalid size, or the
	//     backend error
	Resize(width, height int) error

	// DiscardFrame abandons the frame in progress and returns to Idle. It is a no-op in Idle.
	DiscardFrame()

	// State returns the current state.
	//
	// Returns:
	//   - State: the pipeline state
	State() State

	// Stats returns the draw counts of the last presented frame.
	//
	// Returns:
	//   - Stats: the stats of the last frame
	Stats() Stats

	// Config returns the configuration the pipeline runs with, including the current size.
	//
	// Returns:
	//   - config.PipelineConfig: the configuration
	Config() config.PipelineConfig

	// SetCamera sets the camera the next frame is rendered from. A nil camera renders with
	// identity view and projection.
	//
	// Parameters:
	//   - cam: the camera
	SetCamera(cam camera.Camera)

	// SetLight sets the lights of the next frame. The main light, or the first light, lights
	// the scene and casts the shadow.
	//
	// Parameters:
	//   - lights: the scene lights
	SetLight(lights ...light.Light)

	// SetTime sets the elapsed time written to the next frame's uniforms.
	//
	// Parameters:
	//   - seconds: the elapsed time in seconds
	SetTime(seconds float32)

	// Close releases the passes, programs and targets. The backend stays open. Every call
	// after Close fails with ErrInvalidPipelineState.
	Close()
}

var _ Pipeline = &pipeline{}

// NewPipeline validates the config and builds the passes it enables: shadow, scene, glow and
// line, in that order.
//
// Parameters:
//   - backend: the backend the pipeline draws with
//   - cfg: the configuration snapshot
//   - options: options configuring the camera, lights, ambient light and profiler
//
// Returns:
//   - Pipeline: the new pipeline in Idle
//   - error: an ErrInvalidConfig error if the config does not validate, or a binding error if
//     the frame uniforms do not fit the backend limits
func NewPipeline(backend renderer.Backend, cfg config.PipelineConfig, options ...PipelineBuilderOption) (Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, common.Errorf(common.ErrInvalidConfig, "pipeline needs a backend")
	}

	p := &pipeline{
		mu:      &sync.Mutex{},
		backend: backend,
		cfg:     cfg,
		targets: render_target.NewManager(backend),
		ambient: pass.DefaultFrameUniforms().Ambient,
		now:     time.Now,
	}
	for _, option := range options {
		option(p)
	}

	programs, err := pass.NewProgramCache(backend)
	if err != nil {
		return nil, err
	}
	p.programs = programs

	formats := pass.WithFormats(cfg.ColorFormat, cfg.DepthFormat)
	if cfg.Shadow.Enabled {
		if p.shadow, err = pass.NewShadowPass(backend, p.targets, programs, cfg.Shadow); err != nil {
			return nil, err
		}
		p.passes = append(p.passes, p.shadow)
	}
	p.scene = pass.NewScenePass(backend, programs, formats)
	p.passes = append(p.passes, p.scene)
	if cfg.Glow.Enabled {
		if p.glow, err = pass.NewGlowPass(backend, p.targets, programs, cfg.Glow, formats); err != nil {
			p.releasePasses()
			return nil, err
		}
		p.passes = append(p.passes, p.glow)
	}
	p.lines = pass.NewLinePass(backend, programs, formats)
	p.passes = append(p.passes, p.lines)

	kinds := make([]string, len(p.passes))
	for i, ps := range p.passes {
		kinds[i] = ps.Kind().String()
	}
	logger.Logger().Info("pipeline built",
		"width", cfg.Width,
		"height", cfg.Height,
		"passes", kinds,
		"shadow_resolution", cfg.Shadow.Resolution,
	)
	return p, nil
}

func (p *pipeline) StartFrame(clear ...gputypes.Color) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect("StartFrame", StateIdle, StateFailed); err != nil {
		return err
	}
	if p.state == StateFailed {
		p.backend.DiscardFrame()
	}

	scene, err := p.targets.GetOrCreate(render_target.Key{
		Purpose:     render_target.PurposeScene,
		Width:       p.cfg.Width,
		Height:      p.cfg.Height,
		ColorFormat: p.cfg.ColorFormat,
		DepthFormat: p.cfg.DepthFormat,
	})
	if err != nil {
		return p.fail("StartFrame", err)
	}
	if err := p.backend.Clear(scene.Target(), p.cfg.ResolveClearColor(clear...), 1); err != nil {
		return p.fail("StartFrame", err)
	}

	p.frame = &pass.Frame{Uniforms: p.frameUniforms(), Scene: scene}
	p.frameStart = p.now()
	p.current = Stats{}
	p.state = StateFrameStarted
	return nil
}

func (p *pipeline) RenderShadows(lists ...render_list.RenderList) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect("RenderShadows", StateFrameStarted); err != nil {
		return err
	}
	if p.shadow == nil {
		return common.Errorf(common.ErrInvalidPipelineState, "RenderShadows: shadows are disabled")
	}
	draws, err := p.shadow.Render(p.frame, lists...)
	p.current.ShadowDraws += draws
	if err != nil {
		return p.fail("RenderShadows", err)
	}
	p.state = StateShadowRendered
	return nil
}

func (p *pipeline) RenderScene(lists ...render_list.RenderList) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect("RenderScene", StateFrameStarted, StateShadowRendered); err != nil {
		return err
	}
	draws, err := p.scene.Render(p.frame, lists...)
	p.current.SceneDraws += draws
	if err != nil {
		return p.fail("RenderScene", err)
	}
	p.state = StateSceneRendered
	return nil
}

func (p *pipeline) Postprocess(plain ...render_list.RenderList) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect("Postprocess", StateSceneRendered); err != nil {
		return err
	}
	if p.glow == nil {
		return common.Errorf(common.ErrInvalidPipelineState, "Postprocess: glow is disabled")
	}
	draws, err := p.glow.Render(p.frame, plain...)
	p.current.GlowDraws += draws
	if err != nil {
		return p.fail("Postprocess", err)
	}
	p.state = StatePostprocessComposited
	return nil
}

func (p *pipeline) RenderLines(lists ...render_list.RenderList) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect("RenderLines", StateSceneRendered, StatePostprocessComposited); err != nil {
		return err
	}
	draws, err := p.lines.Render(p.frame, lists...)
	p.current.LineDraws += draws
	if err != nil {
		return p.fail("RenderLines", err)
	}
	p.state = StateLinesRendered
	return nil
}

func (p *pipeline) Present() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect("Present", StateLinesRendered); err != nil {
		return err
	}
	p.state = StatePresented
	if err := p.backend.Present(p.frame.Final().Color()); err != nil {
		return p.fail("Present", err)
	}

	p.presented++
	p.current.Frame = p.presented
	p.current.Duration = p.now().Sub(p.frameStart)
	p.last = p.current
	logger.Logger().Debug("frame presented",
		"frame", p.last.Frame,
		"shadow_draws", p.last.ShadowDraws,
		"scene_draws", p.last.SceneDraws,
		"glow_draws", p.last.GlowDraws,
		"line_draws", p.last.LineDraws,
	)
	if p.profiler != nil {
		p.profiler.Tick(p.last.Draws())
	}
	p.frame = nil
	p.state = StateIdle
	return nil
}

func (p *pipeline) Resize(width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.expect("Resize", StateIdle, StateFailed); err != nil {
		return err
	}

	resized := p.cfg
	resized.Width, resized.Height = width, height
	if err := resized.Validate(); err != nil {
		return err
	}
	if err := p.backend.Resize(width, height); err != nil {
		return err
	}
	p.targets.Invalidate()
	p.cfg = resized
	if p.camera != nil {
		p.camera.SetAspect(float32(width) / float32(height))
	}
	logger.Logger().Info("pipeline resized", "width", width, "height", height)
	return nil
}

func (p *pipeline) DiscardFrame() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.state == StateIdle {
		return
	}
	logger.Logger().Warn("frame discarded", "state", p.state)
	p.backend.DiscardFrame()
	p.frame = nil
	p.state = StateIdle
}

func (p *pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *pipeline) Config() config.PipelineConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *pipeline) SetCamera(cam camera.Camera) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.camera = cam
}

func (p *pipeline) SetLight(lights ...light.Light) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lights = append([]light.Light(nil), lights...)
}

func (p *pipeline) SetTime(seconds float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.time = seconds
}

func (p *pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.state != StateIdle {
		p.backend.DiscardFrame()
	}
	p.releasePasses()
	p.targets.Invalidate()
	p.frame = nil
	p.state = StateIdle
	p.closed = true
	logger.Logger().Info("pipeline closed", "frames", p.presented)
}

func (p *pipeline) releasePasses() {
	for _, ps := range p.passes {
		ps.Release()
	}
	p.passes = nil
}

// expect fails with ErrInvalidPipelineState unless the pipeline is open and in one of the
// allowed states. Caller must hold the mutex.
func (p *pipeline) expect(op string, allowed ...State) error {
	if p.closed {
		return common.Errorf(common.ErrInvalidPipelineState, "%s: pipeline is closed", op)
	}
	for _, s := range allowed {
		if p.state == s {
			return nil
		}
	}
	return common.Errorf(common.ErrInvalidPipelineState, "%s called in state %s", op, p.state)
}

// fail moves the pipeline to Failed, drops the work the backend recorded for the frame and
// returns err unchanged. Caller must hold the mutex.
func (p *pipeline) fail(op string, err error) error {
	logger.Logger().Warn("frame failed", "op", op, "state", p.state, "kind", common.KindOf(err), "error", err)
	p.backend.DiscardFrame()
	p.frame = nil
	p.state = StateFailed
	return err
}

// frameUniforms snapshots the camera, the main light and the config into the uniforms of a
// new frame. Caller must hold the mutex.
func (p *pipeline) frameUniforms() pass.FrameUniforms {
	u := pass.DefaultFrameUniforms()
	u.Time = p.time
	u.Ambient = p.ambient
	u.ShadowBias = p.cfg.Shadow.Bias
	u.ShadowRadius = int32(p.cfg.Shadow.SmoothingRadius)

	var center common.Vec3
	if p.camera != nil {
		u.ViewProj = p.camera.ViewProjectionMatrix()
		u.CameraPosition = p.camera.Position()
		center = p.camera.Target()
	}

	main := light.Main(p.lights...)
	if main == nil {
		main = light.NewLight(light.LightTypeDirectional)
	}
	u.LightDirection = main.Direction()
	u.LightPosition = main.Position()
	u.LightColor = main.Radiance()
	u.LightAttenuation = main.Attenuation()
	if main.Type() == light.LightTypePoint {
		u.LightKind = pass.LightKindPoint
	}
	if p.cfg.Shadow.Enabled {
		u.LightViewProj = light.ShadowViewProjection(main, center, p.cfg.Shadow.Extent)
	}
	return u
}
