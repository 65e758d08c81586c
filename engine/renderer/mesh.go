package renderer

import (
	"encoding/binary"
	"fmt"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

// Mesh is pre-uploaded geometry: a vertex buffer, an optional uint32 index buffer and the
// primitive topology. Render lists refer to meshes by pointer, so one *Mesh is one distinct
// mesh for instancing.
type Mesh struct {
	Label        string
	VertexBuffer common.BufferHandle
	IndexBuffer  common.BufferHandle
	VertexCount  uint32
	IndexCount   uint32
	Topology     gputypes.PrimitiveTopology

	// Spec describes the vertex record the buffer was encoded with.
	Spec *shader.InterfaceSpec
}

// MeshVertex is the vertex record of lit triangle meshes.
type MeshVertex struct {
	Position common.Vec3
	Normal   common.Vec3
	UV       common.Vec2
}

// LineVertex is the vertex record of line meshes.
type LineVertex struct {
	Position common.Vec3
	Color    common.Vec4 `shader:"vertex_color"`
}

// UploadMesh encodes vertices with the vertex spec of V and uploads them, with the indices when
// any are given, to the backend.
//
// Parameters:
//   - b: the backend that owns the buffers
//   - label: a debug label for the mesh
//   - vertices: the vertex records
//   - indices: uint32 indices, or nil for unindexed geometry
//   - topology: how the vertices assemble into primitives
//
// Returns:
//   - *Mesh: the uploaded mesh
//   - error: a BindingError if V has no vertex spec, or the backend error if an upload fails
func UploadMesh[V any](b Backend, label string, vertices []V, indices []uint32, topology gputypes.PrimitiveTopology) (*Mesh, error) {
	if len(vertices) == 0 {
		return nil, fmt.Errorf("mesh %s has no vertices", label)
	}
	spec, err := shader.DeriveSpec[V](shader.WithDefaultKind(shader.FieldKindVertex), shader.WithLimits(b.Limits()))
	if err != nil {
		return nil, fmt.Errorf("mesh %s: %w", label, err)
	}
	if spec.Kind() != shader.FieldKindVertex {
		return nil, common.Errorf(common.ErrMixedFieldKinds, "mesh %s: vertex record %s holds %s fields", label, spec.GoType(), spec.Kind())
	}

	data := make([]byte, 0, uint64(len(vertices))*spec.Stride())
	for i := range vertices {
		if data, err = shader.AppendEncode(data, spec, &vertices[i]); err != nil {
			return nil, fmt.Errorf("mesh %s: vertex %d: %w", label, i, err)
		}
	}

	m := &Mesh{
		Label:       label,
		VertexCount: uint32(len(vertices)),
		IndexCount:  uint32(len(indices)),
		Topology:    topology,
		Spec:        spec,
	}
	if m.VertexBuffer, err = b.CreateBuffer(label+" Vertices", BufferUsageVertex, data); err != nil {
		return nil, err
	}
	if len(indices) > 0 {
		raw := make([]byte, 0, len(indices)*4)
		for _, idx := range indices {
			if idx >= m.VertexCount {
				b.ReleaseBuffer(m.VertexBuffer)
				return nil, fmt.Errorf("mesh %s: index %d is out of range of %d vertices", label, idx, m.VertexCount)
			}
			raw = binary.LittleEndian.AppendUint32(raw, idx)
		}
		if m.IndexBuffer, err = b.CreateBuffer(label+" Indices", BufferUsageIndex, raw); err != nil {
			b.ReleaseBuffer(m.VertexBuffer)
			return nil, err
		}
	}
	return m, nil
}

// ElementCount returns the number of vertices a draw of the mesh consumes: the index count for
// indexed meshes and the vertex count otherwise.
func (m *Mesh) ElementCount() uint32 {
	if m.IndexBuffer != 0 {
		return m.IndexCount
	}
	return m.VertexCount
}

// IsLines reports whether the mesh assembles into line primitives.
func (m *Mesh) IsLines() bool {
	return m.Topology == gputypes.PrimitiveTopologyLineList || m.Topology == gputypes.PrimitiveTopologyLineStrip
}

// Release frees the mesh buffers.
//
// Parameters:
//   - b: the backend the mesh was uploaded to
func (m *Mesh) Release(b Backend) {
	b.ReleaseBuffer(m.VertexBuffer)
	if m.IndexBuffer != 0 {
		b.ReleaseBuffer(m.IndexBuffer)
	}
	m.VertexBuffer, m.IndexBuffer = 0, 0
}

// CubeGeometry returns a unit cube centred on the origin with outward normals and
// counter-clockwise front faces.
//
// Returns:
//   - []MeshVertex: 24 vertices, four per face
//   - []uint32: 36 indices
func CubeGeometry() ([]MeshVertex, []uint32) {
	faces := []struct {
		normal, u, v common.Vec3
	}{
		{common.Vec3{0, 0, 1}, common.Vec3{1, 0, 0}, common.Vec3{0, 1, 0}},
		{common.Vec3{0, 0, -1}, common.Vec3{-1, 0, 0}, common.Vec3{0, 1, 0}},
		{common.Vec3{1, 0, 0}, common.Vec3{0, 0, -1}, common.Vec3{0, 1, 0}},
		{common.Vec3{-1, 0, 0}, common.Vec3{0, 0, 1}, common.Vec3{0, 1, 0}},
		{common.Vec3{0, 1, 0}, common.Vec3{1, 0, 0}, common.Vec3{0, 0, -1}},
		{common.Vec3{0, -1, 0}, common.Vec3{1, 0, 0}, common.Vec3{0, 0, 1}},
	}

	vertices := make([]MeshVertex, 0, 24)
	indices := make([]uint32, 0, 36)
	corners := [4]common.Vec2{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	for _, f := range faces {
		base := uint32(len(vertices))
		for _, c := range corners {
			var p common.Vec3
			for i := range 3 {
				p[i] = 0.5 * (f.normal[i] + c[0]*f.u[i] + c[1]*f.v[i])
			}
			vertices = append(vertices, MeshVertex{
				Position: p,
				Normal:   f.normal,
				UV:       common.Vec2{(c[0] + 1) / 2, (1 - c[1]) / 2},
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return vertices, indices
}

// PlaneGeometry returns a square in the XZ plane centred on the origin, facing +Y.
//
// Parameters:
//   - size: the edge length of the square
//
// Returns:
//   - []MeshVertex: the four corner vertices
//   - []uint32: six indices forming two counter-clockwise triangles seen from above
func PlaneGeometry(size float32) ([]MeshVertex, []uint32) {
	h := size / 2
	up := common.Vec3{0, 1, 0}
	vertices := []MeshVertex{
		{Position: common.Vec3{-h, 0, h}, Normal: up, UV: common.Vec2{0, 1}},
		{Position: common.Vec3{h, 0, h}, Normal: up, UV: common.Vec2{1, 1}},
		{Position: common.Vec3{h, 0, -h}, Normal: up, UV: common.Vec2{1, 0}},
		{Position: common.Vec3{-h, 0, -h}, Normal: up, UV: common.Vec2{0, 0}},
	}
	return vertices, []uint32{0, 1, 2, 0, 2, 3}
}
