package render_list

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

// InstancingMode selects how the entries of a RenderList become draws.
type InstancingMode int

const (
	// InstancingModeInstanced batches entries per mesh: one draw per distinct mesh with the
	// entries' records concatenated into a per-instance vertex buffer.
	InstancingModeInstanced InstancingMode = iota

	// InstancingModeUniforms issues one draw per entry with the entry's record bound as
	// uniforms just before the draw.
	InstancingModeUniforms
)

func (m InstancingMode) String() string {
	switch m {
	case InstancingModeInstanced:
		return "Instanced"
	case InstancingModeUniforms:
		return "Uniforms"
	default:
		return fmt.Sprintf("InstancingMode(%d)", int(m))
	}
}

// InstanceParams is the default per-object record: a model matrix and a color. Entries pushed
// with nil data use DefaultInstanceParams.
type InstanceParams struct {
	Model common.Mat4
	Color common.Vec4
}

// DefaultInstanceParams returns the identity transform and opaque white.
//
// Returns:
//   - InstanceParams: the default record
func DefaultInstanceParams() InstanceParams {
	return InstanceParams{Model: common.Identity4(), Color: common.White}
}

// Entry is one (mesh, record) pair of a RenderList.
type Entry struct {
	Mesh *renderer.Mesh
	Data any
	Spec *shader.InterfaceSpec
}

// Batch is the instanced draw of one distinct mesh: the encoded records of every entry that
// uses the mesh, in insertion order.
type Batch struct {
	Mesh      *renderer.Mesh
	Spec      *shader.InterfaceSpec
	Instances []byte
	Count     uint32
}

// renderList is the implementation of the RenderList interface.
type renderList struct {
	mu *sync.Mutex

	mode       InstancingMode
	params     renderer.DrawParameters
	singleMesh bool
	registry   shader.Registry
	limits     *gputypes.Limits
	spec       *shader.InterfaceSpec
	entries    []Entry

	pool      worker.DynamicWorkerPool
	ownsPool  bool
	threshold int
	chunk     int
}

// RenderList is the per-frame sequence of (mesh, record) entries a pass draws. A list is
// cleared and repopulated every frame and is owned by the frame that renders it.
type RenderList interface {
	// Mode returns the instancing mode fixed at construction.
	//
	// Returns:
	//   - InstancingMode: the list's mode
	Mode() InstancingMode

	// DrawParameters returns the raster state the scene passes draw the list with.
	//
	// Returns:
	//   - renderer.DrawParameters: the list's draw parameters, DefaultDrawParameters unless set
	DrawParameters() renderer.DrawParameters

	// Spec returns the record spec shared by every entry of an instanced list.
	//
	// Returns:
	//   - *shader.InterfaceSpec: the spec fixed by the first push, or nil for an empty list or
	//     a uniforms list
	Spec() *shader.InterfaceSpec

	// Push appends an entry. A nil data pushes DefaultInstanceParams. In instanced mode the
	// first push fixes the record type; later pushes must use the same type.
	//
	// Parameters:
	//   - mesh: the pre-uploaded mesh to draw
	//   - data: the entry's record, or a pointer to one
	//
	// Returns:
	//   - error: a BindingError if the record type has no spec, or ErrIncompatibleInstanceBatch
	//     if the entry cannot join the list; the list is unchanged on error
	Push(mesh *renderer.Mesh, data any) error

	// Clear removes every entry. An instanced list forgets its record type.
	Clear()

	// Len returns the number of entries.
	Len() int

	// Entries returns the entries in insertion order.
	//
	// Returns:
	//   - []Entry: a copy of the entries
	Entries() []Entry

	// Batches groups the entries of an instanced list per distinct mesh, in order of each
	// mesh's first appearance, and encodes each group's records into one instance buffer.
	// Large lists are encoded on the worker pool.
	//
	// Returns:
	//   - []Batch: one batch per distinct mesh
	//   - error: ErrIncompatibleInstanceBatch for a uniforms list, or the encoding error
	Batches() ([]Batch, error)

	// Close stops the worker pool if the list created it.
	Close()
}

var _ RenderList = &renderList{}

// NewRenderList creates an empty RenderList.
//
// Parameters:
//   - mode: how entries become draws
//   - options: options configuring the registry, batching rules and parallel encoding
//
// Returns:
//   - RenderList: the new list
func NewRenderList(mode InstancingMode, options ...RenderListBuilderOption) RenderList {
	l := &renderList{
		mu:        &sync.Mutex{},
		mode:      mode,
		params:    renderer.DefaultDrawParameters(),
		threshold: DefaultParallelThreshold,
		chunk:     DefaultParallelChunk,
	}
	for _, option := range options {
		option(l)
	}
	if l.registry == nil {
		kind := shader.FieldKindUniform
		if mode == InstancingModeInstanced {
			kind = shader.FieldKindInstance
		}
		specOptions := []shader.SpecBuilderOption{shader.WithDefaultKind(kind)}
		if l.limits != nil {
			specOptions = append(specOptions, shader.WithLimits(*l.limits))
		}
		l.registry = shader.NewRegistry(specOptions...)
	}
	return l
}

func (l *renderList) Mode() InstancingMode {
	return l.mode
}

func (l *renderList) DrawParameters() renderer.DrawParameters {
	return l.params
}

func (l *renderList) Spec() *shader.InterfaceSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spec
}

func (l *renderList) Push(mesh *renderer.Mesh, data any) error {
	if mesh == nil {
		return fmt.Errorf("render list: nil mesh")
	}
	if data == nil {
		data = DefaultInstanceParams()
	}
	spec, err := l.registry.Spec(data)
	if err != nil {
		return fmt.Errorf("render list: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.mode {
	case InstancingModeInstanced:
		if spec.Kind() != shader.FieldKindInstance {
			return common.Errorf(common.ErrIncompatibleInstanceBatch, "record %s holds %s fields, instanced lists need instance fields", spec.GoType(), spec.Kind())
		}
		if l.spec != nil && l.spec != spec {
			return common.Errorf(common.ErrIncompatibleInstanceBatch, "record %s does not match the batch record %s", spec.GoType(), l.spec.GoType())
		}
		if l.singleMesh && len(l.entries) > 0 && l.entries[0].Mesh != mesh {
			return common.Errorf(common.ErrIncompatibleInstanceBatch, "mesh %s does not match the batch mesh %s", mesh.Label, l.entries[0].Mesh.Label)
		}
		l.spec = spec
	case InstancingModeUniforms:
		if spec.Kind() != shader.FieldKindUniform && spec.Kind() != shader.FieldKindSampler {
			return common.Errorf(common.ErrIncompatibleInstanceBatch, "record %s holds %s fields, uniforms lists need uniform fields", spec.GoType(), spec.Kind())
		}
	default:
		return fmt.Errorf("render list: unknown instancing mode %s", l.mode)
	}

	l.entries = append(l.entries, Entry{Mesh: mesh, Data: data, Spec: spec})
	return nil
}

func (l *renderList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.entries)
	l.entries = l.entries[:0]
	l.spec = nil
}

func (l *renderList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *renderList) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func (l *renderList) Batches() ([]Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mode != InstancingModeInstanced {
		return nil, common.Errorf(common.ErrIncompatibleInstanceBatch, "%s lists draw per entry, not per batch", l.mode)
	}
	if len(l.entries) == 0 {
		return nil, nil
	}

	// group entries per mesh in order of first appearance
	order := make(map[*renderer.Mesh]int)
	var groups [][]int
	for i, e := range l.entries {
		g, ok := order[e.Mesh]
		if !ok {
			g = len(groups)
			order[e.Mesh] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	stride := int(l.spec.Stride())
	batches := make([]Batch, len(groups))
	for g, members := range groups {
		batches[g] = Batch{
			Mesh:      l.entries[members[0]].Mesh,
			Spec:      l.spec,
			Instances: make([]byte, len(members)*stride),
			Count:     uint32(len(members)),
		}
	}

	if l.pool != nil && len(l.entries) >= l.threshold {
		return batches, l.encodeParallel(batches, groups, stride)
	}
	for g, members := range groups {
		for slot, i := range members {
			if err := l.encodeSlot(batches[g].Instances, slot, stride, i); err != nil {
				return nil, err
			}
		}
	}
	return batches, nil
}

// encodeSlot encodes entry i into the slot-th record of buf in place.
func (l *renderList) encodeSlot(buf []byte, slot, stride, i int) error {
	off := slot * stride
	if _, err := shader.AppendEncode(buf[off:off:off+stride], l.spec, l.entries[i].Data); err != nil {
		return fmt.Errorf("render list: entry %d: %w", i, err)
	}
	return nil
}

// encodeParallel encodes the batches in chunks on the worker pool. Every chunk writes a
// disjoint range of pre-sized slots, so the bytes match a sequential encoding.
func (l *renderList) encodeParallel(batches []Batch, groups [][]int, stride int) error {
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	taskID := 0

	for g, members := range groups {
		buf := batches[g].Instances
		for start := 0; start < len(members); start += l.chunk {
			end := min(start+l.chunk, len(members))
			chunk := members[start:end]
			first := start
			wg.Add(1)
			l.pool.SubmitTask(worker.Task{
				ID: taskID,
				Do: func() (any, error) {
					defer wg.Done()
					for k, i := range chunk {
						if err := l.encodeSlot(buf, first+k, stride, i); err != nil {
							errMu.Lock()
							if firstErr == nil {
								firstErr = err
							}
							errMu.Unlock()
							return nil, err
						}
					}
					return nil, nil
				},
			})
			taskID++
		}
	}
	wg.Wait()
	return firstErr
}

func (l *renderList) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ownsPool && l.pool != nil {
		l.pool.Stop()
		l.pool = nil
	}
}
