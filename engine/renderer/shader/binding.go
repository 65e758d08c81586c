package shader

import (
	"fmt"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/gogpu/gputypes"
)

// BoundAttribute is a spec attribute resolved to a vertex input location. Mat4 fields resolve
// to four attributes, one per column.
type BoundAttribute struct {
	Field    Field
	Input    string
	Location uint32
	Format   gputypes.VertexFormat

	// Offset is the byte offset of the attribute within an encoded record.
	Offset uint64
}

// BoundMember is a spec uniform field resolved to a member offset in a uniform buffer.
type BoundMember struct {
	Field  Field
	Offset uint64
}

// UniformBlock is a var<uniform> binding that at least one spec field writes into.
type UniformBlock struct {
	Group   uint32
	Binding uint32
	Name    string
	Size    uint64
	Members []BoundMember
}

// UniformData is a packed uniform buffer ready to upload for a UniformBlock.
type UniformData struct {
	Group   uint32
	Binding uint32
	Name    string
	Data    []byte
}

// TextureSlot is a spec sampler field resolved to a texture binding and its optional sampler.
type TextureSlot struct {
	Field   Field
	Group   uint32
	Binding uint32
	Name    string

	// SamplerBinding is the binding of the "<name>_sampler" variable in the same group when
	// HasSampler is set.
	SamplerBinding uint32
	HasSampler     bool
}

// BoundLayout is an InterfaceSpec resolved against one shader. It carries everything a backend
// needs to feed records of the spec to that shader: the vertex buffer layout for attribute
// specs, the uniform blocks and member offsets for uniform specs and the texture slots for
// sampler fields.
type BoundLayout struct {
	spec       *InterfaceSpec
	shaderKey  string
	attributes []BoundAttribute
	uniforms   []UniformBlock
	textures   []TextureSlot
}

// Bind resolves every field of spec against a reflected shader. Vertex and instance fields bind
// to vertex inputs of the same name (Mat4 fields to <name>_0 through <name>_3), uniform fields to
// members of var<uniform> structs or to var<uniform> variables of the same name, and sampler
// fields to texture variables of the same name. Inputs the shader declares beyond the spec's
// fields are ignored.
//
// Parameters:
//   - spec: the spec to bind
//   - sh: the shader to bind against
//
// Returns:
//   - *BoundLayout: the resolved layout
//   - error: ErrMissingShaderInput if the shader does not declare a spec field, or
//     ErrFieldTypeMismatch if it declares it with a different type
func Bind(spec *InterfaceSpec, sh Shader) (*BoundLayout, error) {
	bl := &BoundLayout{spec: spec, shaderKey: sh.Key()}
	blocks := make(map[[2]uint32]int)

	for _, f := range spec.fields {
		var err error
		switch f.Kind {
		case FieldKindVertex, FieldKindInstance:
			err = bl.bindAttribute(f, sh)
		case FieldKindUniform:
			err = bl.bindUniform(f, sh, blocks)
		case FieldKindSampler:
			err = bl.bindTexture(f, sh)
		}
		if err != nil {
			return nil, fmt.Errorf("bind %s to %s: %w", spec.goType, sh.Key(), err)
		}
	}
	return bl, nil
}

func (bl *BoundLayout) bindAttribute(f Field, sh Shader) error {
	info := valueTypeInfos[f.Type]
	names := []string{f.Name}
	if f.Type == ValueTypeMat4 {
		names = []string{f.Name + "_0", f.Name + "_1", f.Name + "_2", f.Name + "_3"}
	}
	want := info.wgsl
	if f.Type == ValueTypeMat4 {
		want = "vec4<f32>"
	}

	for col, name := range names {
		in, ok := sh.VertexInput(name)
		if !ok {
			return common.Errorf(common.ErrMissingShaderInput, "no vertex input %q", name)
		}
		if in.Type != want {
			return common.Errorf(common.ErrFieldTypeMismatch, "vertex input %q is %s, field %s is %s", name, in.Type, f.GoName, want)
		}
		bl.attributes = append(bl.attributes, BoundAttribute{
			Field:    f,
			Input:    name,
			Location: in.Location,
			Format:   info.format,
			Offset:   f.Offset + uint64(col)*16,
		})
	}
	return nil
}

func (bl *BoundLayout) bindUniform(f Field, sh Shader, blocks map[[2]uint32]int) error {
	want := valueTypeInfos[f.Type].wgsl
	for _, rb := range sh.Bindings() {
		if !rb.IsUniform() {
			continue
		}

		var member *Member
		for i := range rb.Members {
			if rb.Members[i].Name == f.Name {
				member = &rb.Members[i]
				break
			}
		}
		if member == nil && len(rb.Members) == 0 && rb.Name == f.Name {
			member = &Member{Name: rb.Name, Type: rb.Type, Size: rb.Size}
		}
		if member == nil {
			continue
		}
		if member.Type != want {
			return common.Errorf(common.ErrFieldTypeMismatch, "uniform %s.%s is %s, field %s is %s", rb.Name, member.Name, member.Type, f.GoName, want)
		}

		key := [2]uint32{rb.Group, rb.Binding}
		i, ok := blocks[key]
		if !ok {
			i = len(bl.uniforms)
			blocks[key] = i
			bl.uniforms = append(bl.uniforms, UniformBlock{
				Group:   rb.Group,
				Binding: rb.Binding,
				Name:    rb.Name,
				Size:    rb.Size,
			})
		}
		bl.uniforms[i].Members = append(bl.uniforms[i].Members, BoundMember{Field: f, Offset: member.Offset})
		return nil
	}
	return common.Errorf(common.ErrMissingShaderInput, "no uniform member %q", f.Name)
}

func (bl *BoundLayout) bindTexture(f Field, sh Shader) error {
	rb, ok := sh.Binding(f.Name)
	if !ok {
		return common.Errorf(common.ErrMissingShaderInput, "no texture %q", f.Name)
	}
	if !rb.IsTexture() {
		return common.Errorf(common.ErrFieldTypeMismatch, "binding %q is %s, field %s is a texture", rb.Name, rb.Type, f.GoName)
	}
	slot := TextureSlot{Field: f, Group: rb.Group, Binding: rb.Binding, Name: rb.Name}
	if smp, ok := sh.Binding(f.Name + "_sampler"); ok && smp.IsSampler() && smp.Group == rb.Group {
		slot.SamplerBinding = smp.Binding
		slot.HasSampler = true
	}
	bl.textures = append(bl.textures, slot)
	return nil
}

// Spec returns the bound spec.
func (bl *BoundLayout) Spec() *InterfaceSpec {
	return bl.spec
}

// ShaderKey returns the key of the shader the spec was bound to.
func (bl *BoundLayout) ShaderKey() string {
	return bl.shaderKey
}

// Attributes returns the resolved vertex attributes in field order.
func (bl *BoundLayout) Attributes() []BoundAttribute {
	return bl.attributes
}

// Attribute looks up a resolved attribute by vertex input name.
//
// Parameters:
//   - input: the vertex input name, e.g. "position" or "model_2"
//
// Returns:
//   - BoundAttribute: the matching attribute
//   - bool: false if the layout has no such attribute
func (bl *BoundLayout) Attribute(input string) (BoundAttribute, bool) {
	for _, a := range bl.attributes {
		if a.Input == input {
			return a, true
		}
	}
	return BoundAttribute{}, false
}

// Uniforms returns the uniform blocks the spec writes into.
func (bl *BoundLayout) Uniforms() []UniformBlock {
	return bl.uniforms
}

// Textures returns the resolved texture slots in field order.
func (bl *BoundLayout) Textures() []TextureSlot {
	return bl.textures
}

// VertexBufferLayout builds the vertex buffer layout of an attribute spec. The step mode is
// per-instance for instance specs and per-vertex otherwise.
//
// Returns:
//   - gputypes.VertexBufferLayout: the layout, with no attributes for uniform and sampler specs
func (bl *BoundLayout) VertexBufferLayout() gputypes.VertexBufferLayout {
	layout := gputypes.VertexBufferLayout{
		ArrayStride: bl.spec.stride,
		StepMode:    gputypes.VertexStepModeVertex,
	}
	if bl.spec.kind == FieldKindInstance {
		layout.StepMode = gputypes.VertexStepModeInstance
	}
	for _, a := range bl.attributes {
		layout.Attributes = append(layout.Attributes, gputypes.VertexAttribute{
			Format:         a.Format,
			Offset:         a.Offset,
			ShaderLocation: a.Location,
		})
	}
	return layout
}

// PackUniforms repacks an encoded uniform record into one buffer per uniform block, placing each
// field at the member offset the shader declares. Bytes of members the spec does not cover are
// zero.
//
// Parameters:
//   - encoded: a record encoded with the bound spec
//
// Returns:
//   - []UniformData: one packed buffer per uniform block, in block order
//   - error: an error if encoded is shorter than the spec stride
func (bl *BoundLayout) PackUniforms(encoded []byte) ([]UniformData, error) {
	if uint64(len(encoded)) < bl.spec.stride {
		return nil, common.Errorf(common.ErrFieldTypeMismatch, "%d bytes cannot hold a %d byte %s record", len(encoded), bl.spec.stride, bl.spec.goType)
	}
	out := make([]UniformData, 0, len(bl.uniforms))
	for _, ub := range bl.uniforms {
		data := make([]byte, ub.Size)
		for _, m := range ub.Members {
			copy(data[m.Offset:m.Offset+m.Field.Size], encoded[m.Field.Offset:m.Field.Offset+m.Field.Size])
		}
		out = append(out, UniformData{Group: ub.Group, Binding: ub.Binding, Name: ub.Name, Data: data})
	}
	return out, nil
}
