package shader

import "github.com/gogpu/gputypes"

// vertexFormatInfo holds the vertex format and its byte size for offset calculation
type vertexFormatInfo struct {
	format gputypes.VertexFormat
	size   uint64
}

// sampledTextureInfo holds the view dimension and multisampled flag for a sampled texture type
type sampledTextureInfo struct {
	viewDimension gputypes.TextureViewDimension
	multisampled  bool
}

// wgslTypeLayout holds the byte size and alignment for a WGSL type per the WGSL specification.
type wgslTypeLayout struct {
	size  uint64
	align uint64
}

// parsedField represents a single field extracted from a WGSL struct during parsing
type parsedField struct {
	name      string
	typeName  string
	location  int
	isBuiltin bool
}

// parsedStruct represents a WGSL struct block extracted during parsing
type parsedStruct struct {
	name   string
	fields []parsedField
}

// VertexInput is a single @location input consumed by the vertex entry point, either declared
// directly as an entry point parameter or as a member of an input struct.
type VertexInput struct {
	// Name is the parameter or struct member name.
	Name string

	// Location is the @location index.
	Location uint32

	// Type is the canonical WGSL type, e.g. "vec3<f32>".
	Type string

	// Format is the vertex format matching Type.
	Format gputypes.VertexFormat

	// Struct is the name of the declaring input struct, empty for direct parameters.
	Struct string
}

// Member is a laid-out member of a WGSL struct bound to a buffer.
type Member struct {
	Name   string
	Type   string
	Offset uint64
	Size   uint64
}

// ResourceBinding is a single @group(N) @binding(M) variable declaration.
type ResourceBinding struct {
	// Group is the bind group index.
	Group uint32

	// Binding is the binding index within the group.
	Binding uint32

	// Name is the variable name.
	Name string

	// AddressSpace is the var<> qualifier, e.g. "uniform" or "storage, read". Empty for handle types.
	AddressSpace string

	// Type is the canonical WGSL type of the variable.
	Type string

	// Entry is the bind group layout entry derived from the declaration.
	Entry gputypes.BindGroupLayoutEntry

	// Size is the byte size of buffer bindings, zero for handle types.
	Size uint64

	// Members lists the laid-out members when the variable is a buffer of struct type.
	Members []Member
}

// IsUniform reports whether the binding is a uniform buffer.
func (r ResourceBinding) IsUniform() bool {
	return r.Entry.Buffer != nil && r.Entry.Buffer.Type == gputypes.BufferBindingTypeUniform
}

// IsTexture reports whether the binding is a sampled or depth texture.
func (r ResourceBinding) IsTexture() bool {
	return r.Entry.Texture != nil
}

// IsSampler reports whether the binding is a sampler or comparison sampler.
func (r ResourceBinding) IsSampler() bool {
	return r.Entry.Sampler != nil
}
