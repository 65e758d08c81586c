package render_list

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

const (
	// DefaultParallelThreshold is the entry count from which an instanced list encodes on its
	// worker pool.
	DefaultParallelThreshold = 4096

	// DefaultParallelChunk is the number of records one pool task encodes.
	DefaultParallelChunk = 1024
)

// RenderListBuilderOption is a functional option for configuring a RenderList.
// Use the With* functions to create options.
type RenderListBuilderOption func(l *renderList)

// WithRegistry sets the spec registry records are resolved through. Lists sharing a registry
// derive each record type once.
//
// Parameters:
//   - r: the registry to use
//
// Returns:
//   - RenderListBuilderOption: option function to apply
func WithRegistry(r shader.Registry) RenderListBuilderOption {
	return func(l *renderList) {
		l.registry = r
	}
}

// WithLimits sets the limits the list's default registry derives record specs against. Pass the
// limits of the backend that draws the list so oversized records fail at Push. Ignored when
// WithRegistry is also given.
//
// Parameters:
//   - limits: the backend limits
//
// Returns:
//   - RenderListBuilderOption: option function to apply
func WithLimits(limits gputypes.Limits) RenderListBuilderOption {
	return func(l *renderList) {
		l.limits = &limits
	}
}

// WithDrawParameters sets the raster state the list is drawn with. The parameters reach the
// backend unmodified.
//
// Parameters:
//   - params: the draw parameters
//
// Returns:
//   - RenderListBuilderOption: option function to apply
func WithDrawParameters(params renderer.DrawParameters) RenderListBuilderOption {
	return func(l *renderList) {
		l.params = params
	}
}

// WithSingleMesh restricts an instanced list to one mesh. Pushing a second mesh fails with
// ErrIncompatibleInstanceBatch.
//
// Returns:
//   - RenderListBuilderOption: option function to apply
func WithSingleMesh() RenderListBuilderOption {
	return func(l *renderList) {
		l.singleMesh = true
	}
}

// WithWorkerPool sets the pool large instanced lists are encoded on. The list does not stop a
// pool it was given.
//
// Parameters:
//   - pool: the worker pool to submit encoding tasks to
//
// Returns:
//   - RenderListBuilderOption: option function to apply
func WithWorkerPool(pool worker.DynamicWorkerPool) RenderListBuilderOption {
	return func(l *renderList) {
		l.pool = pool
		l.ownsPool = false
	}
}

// WithParallelEncoding creates a worker pool owned by the list, stopped by Close. Defaults to
// runtime.NumCPU()-1 workers when n is less than 1.
//
// Parameters:
//   - n: the number of encoding workers
//
// Returns:
//   - RenderListBuilderOption: option function to apply
func WithParallelEncoding(n int) RenderListBuilderOption {
	return func(l *renderList) {
		if n < 1 {
			n = max(runtime.NumCPU()-1, 1)
		}
		l.pool = worker.NewDynamicWorkerPool(n, 256, 1*time.Second)
		l.ownsPool = true
	}
}

// WithParallelThreshold sets the entry count from which the worker pool is used and the number
// of records each task encodes.
//
// Parameters:
//   - threshold: the minimum entry count for parallel encoding
//   - chunk: the records per task (minimum 1)
//
// Returns:
//   - RenderListBuilderOption: option function to apply
func WithParallelThreshold(threshold, chunk int) RenderListBuilderOption {
	return func(l *renderList) {
		l.threshold = threshold
		l.chunk = max(chunk, 1)
	}
}
