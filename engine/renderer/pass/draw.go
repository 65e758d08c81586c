package pass

import (
	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_list"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

// namedTexture binds a texture to a frame-level shader variable such as shadow_map.
type namedTexture struct {
	name    string
	texture common.TextureHandle
}

// listDraw is how a pass draws its render lists.
type listDraw struct {
	label  string
	kind   renderer.ProgramKind
	target renderer.Target
	color  gputypes.TextureFormat
	depth  gputypes.TextureFormat

	// params returns the draw parameters of a list.
	params func(l render_list.RenderList) renderer.DrawParameters

	// frame is the FrameUniforms record encoded with the frame spec.
	frame    []byte
	textures []namedTexture

	// accept rejects meshes the pass cannot draw.
	accept func(m *renderer.Mesh) error
}

// instanceSlot is a per-instance vertex buffer reused across frames by the batch drawn at the
// same position.
type instanceSlot struct {
	handle common.BufferHandle
	size   int
}

// submitter turns render lists into backend draws. Instanced lists issue one draw per batch,
// uniforms lists one draw per entry.
type submitter struct {
	backend  renderer.Backend
	programs ProgramCache
	slots    []instanceSlot
	used     int
}

func newSubmitter(backend renderer.Backend, programs ProgramCache) *submitter {
	return &submitter{backend: backend, programs: programs}
}

// draw draws lists in order and returns the number of draws issued before any error.
func (s *submitter) draw(d listDraw, lists []render_list.RenderList) (int, error) {
	s.used = 0
	draws := 0
	for _, l := range lists {
		if l == nil {
			continue
		}
		var n int
		var err error
		if l.Mode() == render_list.InstancingModeInstanced {
			n, err = s.drawInstanced(d, l)
		} else {
			n, err = s.drawUniforms(d, l)
		}
		draws += n
		if err != nil {
			return draws, err
		}
	}
	return draws, nil
}

func (s *submitter) drawInstanced(d listDraw, l render_list.RenderList) (int, error) {
	batches, err := l.Batches()
	if err != nil {
		return 0, err
	}
	draws := 0
	for _, b := range batches {
		if err := d.accept(b.Mesh); err != nil {
			return draws, err
		}
		p, err := s.programs.MeshProgram(d.kind, b.Mesh, b.Spec, true, d.color, d.depth)
		if err != nil {
			return draws, err
		}
		cmd, err := s.command(d, p, l, b.Mesh)
		if err != nil {
			return draws, err
		}
		instances, err := s.instanceBuffer(d.label+" "+b.Mesh.Label+" Instances", b.Instances)
		if err != nil {
			return draws, err
		}
		cmd.VertexBuffers = append(cmd.VertexBuffers, instances)
		cmd.InstanceCount = b.Count
		if err := s.backend.Draw(cmd); err != nil {
			return draws, err
		}
		draws++
	}
	return draws, nil
}

func (s *submitter) drawUniforms(d listDraw, l render_list.RenderList) (int, error) {
	draws := 0
	for _, e := range l.Entries() {
		if err := d.accept(e.Mesh); err != nil {
			return draws, err
		}
		p, err := s.programs.MeshProgram(d.kind, e.Mesh, e.Spec, false, d.color, d.depth)
		if err != nil {
			return draws, err
		}
		cmd, err := s.command(d, p, l, e.Mesh)
		if err != nil {
			return draws, err
		}
		encoded, err := shader.EncodeRecord(e.Spec, e.Data)
		if err != nil {
			return draws, err
		}
		record, err := p.record.PackUniforms(encoded.Data)
		if err != nil {
			return draws, err
		}
		cmd.Uniforms = append(cmd.Uniforms, record...)
		cmd.Textures = append(cmd.Textures, p.recordTextures(encoded.Textures)...)
		if err := s.backend.Draw(cmd); err != nil {
			return draws, err
		}
		draws++
	}
	return draws, nil
}

// command builds the draw of one mesh with the frame uniforms and frame textures bound.
func (s *submitter) command(d listDraw, p *Program, l render_list.RenderList, m *renderer.Mesh) (renderer.DrawCommand, error) {
	frame, err := p.frame.PackUniforms(d.frame)
	if err != nil {
		return renderer.DrawCommand{}, err
	}
	cmd := renderer.DrawCommand{
		Label:         d.label + " " + m.Label,
		Program:       p.Handle,
		Target:        d.target,
		Params:        d.params(l),
		VertexBuffers: []common.BufferHandle{m.VertexBuffer},
		IndexBuffer:   m.IndexBuffer,
		IndexCount:    m.IndexCount,
		VertexCount:   m.VertexCount,
		InstanceCount: 1,
		Uniforms:      frame,
	}
	for _, t := range d.textures {
		if tb, ok := p.texture(t.name, t.texture); ok {
			cmd.Textures = append(cmd.Textures, tb)
		}
	}
	return cmd, nil
}

// instanceBuffer uploads the next batch's instance records, rewriting the slot's buffer when
// the size is unchanged and reallocating it otherwise.
func (s *submitter) instanceBuffer(label string, data []byte) (common.BufferHandle, error) {
	if s.used == len(s.slots) {
		s.slots = append(s.slots, instanceSlot{})
	}
	slot := &s.slots[s.used]
	if slot.handle != 0 && slot.size == len(data) {
		if err := s.backend.WriteBuffer(slot.handle, 0, data); err != nil {
			return 0, err
		}
		s.used++
		return slot.handle, nil
	}
	if slot.handle != 0 {
		s.backend.ReleaseBuffer(slot.handle)
		*slot = instanceSlot{}
	}
	h, err := s.backend.CreateBuffer(label, renderer.BufferUsageVertex, data)
	if err != nil {
		return 0, err
	}
	*slot = instanceSlot{handle: h, size: len(data)}
	s.used++
	return h, nil
}

func (s *submitter) release() {
	for _, slot := range s.slots {
		if slot.handle != 0 {
			s.backend.ReleaseBuffer(slot.handle)
		}
	}
	s.slots = nil
	s.used = 0
}

// acceptTriangles rejects line meshes from the geometry passes.
func acceptTriangles(m *renderer.Mesh) error {
	if m.IsLines() {
		return common.Errorf(common.ErrIncompatibleInstanceBatch, "line mesh %s belongs to the line pass", m.Label)
	}
	return nil
}

// acceptLines rejects every mesh that does not assemble into lines.
func acceptLines(m *renderer.Mesh) error {
	if !m.IsLines() {
		return common.Errorf(common.ErrIncompatibleInstanceBatch, "mesh %s has %s topology, the line pass draws line lists", m.Label, m.Topology)
	}
	return nil
}

// listParameters passes each list's own draw parameters through.
func listParameters(l render_list.RenderList) renderer.DrawParameters {
	return l.DrawParameters()
}

// fixedParameters draws every list with the same parameters.
func fixedParameters(p renderer.DrawParameters) func(render_list.RenderList) renderer.DrawParameters {
	return func(render_list.RenderList) renderer.DrawParameters {
		return p
	}
}
