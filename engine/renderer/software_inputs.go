package renderer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

// swAttribute locates a vertex input inside one of the bound vertex buffers.
type swAttribute struct {
	data     []byte
	stride   uint64
	offset   uint64
	format   gputypes.VertexFormat
	instance bool
}

// swInputs resolves the named shader inputs of a draw against its bound buffers. The software
// backend executes programs by reading their inputs by name through the shader reflection, so
// any record layout that binds to the program's shader is read correctly.
type swInputs struct {
	sh       shader.Shader
	attrs    map[string]swAttribute
	uniforms map[[2]uint32][]byte
	textures map[[2]uint32]common.TextureHandle
}

func newSWInputs(p *swProgram, cmd *DrawCommand, buffers [][]byte) (*swInputs, error) {
	in := &swInputs{
		sh:       p.desc.Shader,
		attrs:    make(map[string]swAttribute),
		uniforms: make(map[[2]uint32][]byte, len(cmd.Uniforms)),
		textures: make(map[[2]uint32]common.TextureHandle, len(cmd.Textures)),
	}

	for _, vi := range p.desc.Shader.VertexInputs() {
		for slot, layout := range p.desc.VertexLayouts {
			for _, a := range layout.Attributes {
				if a.ShaderLocation != vi.Location {
					continue
				}
				if slot >= len(buffers) {
					return nil, fmt.Errorf("vertex input %q reads slot %d but only %d buffers are bound", vi.Name, slot, len(buffers))
				}
				in.attrs[vi.Name] = swAttribute{
					data:     buffers[slot],
					stride:   layout.ArrayStride,
					offset:   a.Offset,
					format:   a.Format,
					instance: layout.StepMode == gputypes.VertexStepModeInstance,
				}
			}
		}
	}

	for _, u := range cmd.Uniforms {
		in.uniforms[[2]uint32{u.Group, u.Binding}] = u.Data
	}
	for _, t := range cmd.Textures {
		in.textures[[2]uint32{t.Group, t.Binding}] = t.Texture
	}
	return in, nil
}

// attribute reads a vertex input as float32 components. Per-instance inputs are indexed by
// instance, per-vertex inputs by vertex.
func (in *swInputs) attribute(name string, vertex, instance uint32) ([]float32, bool) {
	a, ok := in.attrs[name]
	if !ok {
		return nil, false
	}
	index := uint64(vertex)
	if a.instance {
		index = uint64(instance)
	}
	start := index*a.stride + a.offset

	var n int
	switch a.format {
	case gputypes.VertexFormatFloat32, gputypes.VertexFormatUint32, gputypes.VertexFormatSint32:
		n = 1
	case gputypes.VertexFormatFloat32x2:
		n = 2
	case gputypes.VertexFormatFloat32x3:
		n = 3
	case gputypes.VertexFormatFloat32x4:
		n = 4
	default:
		return nil, false
	}
	if start+uint64(n)*4 > uint64(len(a.data)) {
		return nil, false
	}

	out := make([]float32, n)
	for i := range out {
		bits := binary.LittleEndian.Uint32(a.data[start+uint64(i)*4:])
		switch a.format {
		case gputypes.VertexFormatUint32:
			out[i] = float32(bits)
		case gputypes.VertexFormatSint32:
			out[i] = float32(int32(bits))
		default:
			out[i] = math.Float32frombits(bits)
		}
	}
	return out, true
}

// uniform returns the bytes of a uniform struct member, or of a primitive uniform variable, with
// the given name.
func (in *swInputs) uniform(name string) ([]byte, bool) {
	for _, rb := range in.sh.Bindings() {
		if !rb.IsUniform() {
			continue
		}
		data, bound := in.uniforms[[2]uint32{rb.Group, rb.Binding}]
		if len(rb.Members) == 0 {
			if rb.Name == name && bound && uint64(len(data)) >= rb.Size {
				return data[:rb.Size], true
			}
			continue
		}
		for _, m := range rb.Members {
			if m.Name != name {
				continue
			}
			if !bound || m.Offset+m.Size > uint64(len(data)) {
				return nil, false
			}
			return data[m.Offset : m.Offset+m.Size], true
		}
	}
	return nil, false
}

func (in *swInputs) uniformFloats(name string, n int) ([]float32, bool) {
	b, ok := in.uniform(name)
	if !ok || len(b) < n*4 {
		return nil, false
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}

func (in *swInputs) uniformFloat(name string, fallback float32) float32 {
	if v, ok := in.uniformFloats(name, 1); ok {
		return v[0]
	}
	return fallback
}

func (in *swInputs) uniformUint(name string) uint32 {
	if b, ok := in.uniform(name); ok && len(b) >= 4 {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (in *swInputs) uniformVec3(name string) (common.Vec3, bool) {
	v, ok := in.uniformFloats(name, 3)
	if !ok {
		return common.Vec3{}, false
	}
	return common.Vec3{v[0], v[1], v[2]}, true
}

func (in *swInputs) uniformVec4(name string, fallback common.Vec4) common.Vec4 {
	v, ok := in.uniformFloats(name, 4)
	if !ok {
		return fallback
	}
	return common.Vec4{v[0], v[1], v[2], v[3]}
}

func (in *swInputs) uniformMat4(name string) (common.Mat4, bool) {
	v, ok := in.uniformFloats(name, 16)
	if !ok {
		return common.Mat4{}, false
	}
	var m common.Mat4
	copy(m[:], v)
	return m, true
}

// recordMat4 reads a per-object matrix from instance columns <name>_0..3 or from a uniform
// member. Draws without one use the identity.
func (in *swInputs) recordMat4(name string, instance uint32) common.Mat4 {
	var m common.Mat4
	found := true
	for col := 0; col < 4; col++ {
		v, ok := in.attribute(fmt.Sprintf("%s_%d", name, col), 0, instance)
		if !ok || len(v) != 4 {
			found = false
			break
		}
		copy(m[col*4:], v)
	}
	if found {
		return m
	}
	if u, ok := in.uniformMat4(name); ok {
		return u
	}
	return common.Identity4()
}

// recordVec4 reads a per-object vector from an instance attribute or a uniform member.
func (in *swInputs) recordVec4(name string, instance uint32, fallback common.Vec4) common.Vec4 {
	if v, ok := in.attribute(name, 0, instance); ok && len(v) == 4 {
		return common.Vec4{v[0], v[1], v[2], v[3]}
	}
	return in.uniformVec4(name, fallback)
}

func (in *swInputs) vertexVec3(name string, vertex uint32) (common.Vec3, bool) {
	v, ok := in.attribute(name, vertex, 0)
	if !ok || len(v) < 3 {
		return common.Vec3{}, false
	}
	return common.Vec3{v[0], v[1], v[2]}, true
}

// texture returns the texture bound to the named texture variable.
func (in *swInputs) texture(name string) (common.TextureHandle, bool) {
	rb, ok := in.sh.Binding(name)
	if !ok || !rb.IsTexture() {
		return 0, false
	}
	h, ok := in.textures[[2]uint32{rb.Group, rb.Binding}]
	return h, ok && h != 0
}
