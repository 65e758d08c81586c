package pipeline

import (
	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/camera"
	"github.com/Carmen-Shannon/conduit/engine/light"
	"github.com/Carmen-Shannon/conduit/engine/profiler"
)

// PipelineBuilderOption is a functional option used to configure a Pipeline during construction.
type PipelineBuilderOption func(*pipeline)

// WithCamera sets the camera frames are rendered from.
//
// Parameters:
//   - cam: the camera
//
// Returns:
//   - PipelineBuilderOption: a function that sets the camera of the pipeline
func WithCamera(cam camera.Camera) PipelineBuilderOption {
	return func(p *pipeline) {
		p.camera = cam
	}
}

// WithLights sets the scene lights. The main light lights the scene and casts the shadow.
//
// Parameters:
//   - lights: the scene lights
//
// Returns:
//   - PipelineBuilderOption: a function that sets the lights of the pipeline
func WithLights(lights ...light.Light) PipelineBuilderOption {
	return func(p *pipeline) {
		p.lights = append([]light.Light(nil), lights...)
	}
}

// WithAmbient sets the ambient light added to every lit fragment.
//
// Parameters:
//   - ambient: the ambient RGB light
//
// Returns:
//   - PipelineBuilderOption: a function that sets the ambient light of the pipeline
func WithAmbient(ambient common.Vec3) PipelineBuilderOption {
	return func(p *pipeline) {
		p.ambient = ambient
	}
}

// WithProfiler attaches a profiler that is ticked with the draw count of every presented frame.
//
// Parameters:
//   - prof: the profiler
//
// Returns:
//   - PipelineBuilderOption: a function that sets the profiler of the pipeline
func WithProfiler(prof *profiler.Profiler) PipelineBuilderOption {
	return func(p *pipeline) {
		p.profiler = prof
	}
}
