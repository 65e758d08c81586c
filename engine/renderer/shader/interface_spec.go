package shader

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/gogpu/gputypes"
)

// FieldKind is the semantic role of an InterfaceSpec field.
type FieldKind int

const (
	// FieldKindUniform marks a field written to a uniform buffer member.
	FieldKindUniform FieldKind = iota

	// FieldKindVertex marks a per-vertex attribute.
	FieldKindVertex

	// FieldKindInstance marks a per-instance attribute.
	FieldKindInstance

	// FieldKindSampler marks a texture bound for sampling. Sampler fields carry a
	// common.TextureHandle and contribute no bytes to the encoded record.
	FieldKindSampler
)

func (k FieldKind) String() string {
	switch k {
	case FieldKindUniform:
		return "uniform"
	case FieldKindVertex:
		return "vertex"
	case FieldKindInstance:
		return "instance"
	case FieldKindSampler:
		return "sampler"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// parseFieldKind maps a struct tag kind to a FieldKind.
func parseFieldKind(s string) (FieldKind, bool) {
	switch s {
	case "uniform":
		return FieldKindUniform, true
	case "vertex":
		return FieldKindVertex, true
	case "instance":
		return FieldKindInstance, true
	case "sampler":
		return FieldKindSampler, true
	default:
		return 0, false
	}
}

// ValueType is the GPU value type of an InterfaceSpec field.
type ValueType int

const (
	ValueTypeFloat ValueType = iota
	ValueTypeVec2
	ValueTypeVec3
	ValueTypeVec4
	ValueTypeMat4
	ValueTypeInt
	ValueTypeUint
	ValueTypeBool
	ValueTypeTexture
)

// valueTypeInfo holds the encoding properties of a ValueType.
type valueTypeInfo struct {
	name string

	// wgsl is the canonical WGSL type the shader declares for the value. Mat4 attributes are
	// declared as four vec4<f32> columns.
	wgsl string

	// format and locations describe the value as a vertex attribute.
	format    gputypes.VertexFormat
	locations uint32

	// attrSize is the packed attribute size, layout the uniform size and alignment.
	attrSize uint64
	layout   wgslTypeLayout
}

var valueTypeInfos = map[ValueType]valueTypeInfo{
	ValueTypeFloat:   {"float", "f32", gputypes.VertexFormatFloat32, 1, 4, wgslTypeLayout{4, 4}},
	ValueTypeVec2:    {"vec2", "vec2<f32>", gputypes.VertexFormatFloat32x2, 1, 8, wgslTypeLayout{8, 8}},
	ValueTypeVec3:    {"vec3", "vec3<f32>", gputypes.VertexFormatFloat32x3, 1, 12, wgslTypeLayout{12, 16}},
	ValueTypeVec4:    {"vec4", "vec4<f32>", gputypes.VertexFormatFloat32x4, 1, 16, wgslTypeLayout{16, 16}},
	ValueTypeMat4:    {"mat4", "mat4x4<f32>", gputypes.VertexFormatFloat32x4, 4, 64, wgslTypeLayout{64, 16}},
	ValueTypeInt:     {"int", "i32", gputypes.VertexFormatSint32, 1, 4, wgslTypeLayout{4, 4}},
	ValueTypeUint:    {"uint", "u32", gputypes.VertexFormatUint32, 1, 4, wgslTypeLayout{4, 4}},
	ValueTypeBool:    {"bool", "u32", gputypes.VertexFormatUint32, 1, 4, wgslTypeLayout{4, 4}},
	ValueTypeTexture: {"texture", "texture_2d<f32>", gputypes.VertexFormatUndefined, 0, 0, wgslTypeLayout{}},
}

func (t ValueType) String() string {
	if info, ok := valueTypeInfos[t]; ok {
		return info.name
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// WGSLType returns the canonical WGSL type a shader declares for a value of this type.
func (t ValueType) WGSLType() string {
	return valueTypeInfos[t].wgsl
}

var textureHandleType = reflect.TypeFor[common.TextureHandle]()

// valueTypeOf maps a Go type to its ValueType.
func valueTypeOf(t reflect.Type) (ValueType, bool) {
	if t == textureHandleType {
		return ValueTypeTexture, true
	}
	switch t.Kind() {
	case reflect.Float32:
		return ValueTypeFloat, true
	case reflect.Int32:
		return ValueTypeInt, true
	case reflect.Uint32:
		return ValueTypeUint, true
	case reflect.Bool:
		return ValueTypeBool, true
	case reflect.Array:
		if t.Elem().Kind() != reflect.Float32 {
			return 0, false
		}
		switch t.Len() {
		case 2:
			return ValueTypeVec2, true
		case 3:
			return ValueTypeVec3, true
		case 4:
			return ValueTypeVec4, true
		case 16:
			return ValueTypeMat4, true
		}
	}
	return 0, false
}

// Field is a single named field of an InterfaceSpec.
type Field struct {
	// Name is the shader-side name the field binds to.
	Name string

	// GoName is the dotted Go field path, e.g. "Transform.Model".
	GoName string

	Kind FieldKind
	Type ValueType

	// Offset and Size locate the field within an encoded record. Sampler fields have neither.
	Offset uint64
	Size   uint64

	index []int
}

// InterfaceSpec is the immutable description of a host record type as a shader interface: an
// ordered set of named fields with their kinds, value types and encoded byte layout. Specs are
// derived with DeriveSpec and are safe for concurrent use.
type InterfaceSpec struct {
	goType   reflect.Type
	kind     FieldKind
	fields   []Field
	stride   uint64
	samplers int
}

// GoType returns the host record type the spec was derived from.
func (s *InterfaceSpec) GoType() reflect.Type {
	return s.goType
}

// Kind returns the data kind of the spec: the kind shared by its vertex, instance or uniform
// fields, or FieldKindSampler when the record only carries textures.
func (s *InterfaceSpec) Kind() FieldKind {
	return s.kind
}

// Fields returns the fields in declaration order.
func (s *InterfaceSpec) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Field looks up a field by shader-side name.
//
// Parameters:
//   - name: the shader-side field name
//
// Returns:
//   - Field: the matching field
//   - bool: false if the spec has no field with that name
func (s *InterfaceSpec) Field(name string) (Field, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Stride returns the byte size of one encoded record.
func (s *InterfaceSpec) Stride() uint64 {
	return s.stride
}

// SamplerCount returns the number of sampler fields.
func (s *InterfaceSpec) SamplerCount() int {
	return s.samplers
}

// Locations returns the number of vertex attribute locations the spec occupies. Mat4 fields
// occupy four locations. Uniform and sampler specs occupy none.
func (s *InterfaceSpec) Locations() uint32 {
	if s.kind != FieldKindVertex && s.kind != FieldKindInstance {
		return 0
	}
	var n uint32
	for _, f := range s.fields {
		n += valueTypeInfos[f.Type].locations
	}
	return n
}

// Matches reports whether value is a record of the spec's host type or a pointer to one.
//
// Parameters:
//   - value: the record to check
//
// Returns:
//   - bool: true if the value can be encoded with this spec
func (s *InterfaceSpec) Matches(value any) bool {
	t := reflect.TypeOf(value)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t == s.goType
}

// WGSLStruct generates the WGSL struct declaration matching the spec's encoded layout. Attribute
// specs get consecutive @location attributes starting at firstLocation, with Mat4 fields split
// into four vec4<f32> columns named <name>_0 to <name>_3. Sampler fields are not part of the
// struct. A spec without data fields returns an empty string.
//
// Parameters:
//   - name: the WGSL struct name
//   - firstLocation: the first @location for attribute specs, ignored for uniform specs
//
// Returns:
//   - string: the WGSL struct source
func (s *InterfaceSpec) WGSLStruct(name string, firstLocation uint32) string {
	if s.kind == FieldKindSampler {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "struct %s {\n", name)
	loc := firstLocation
	for _, f := range s.fields {
		if f.Kind == FieldKindSampler {
			continue
		}
		info := valueTypeInfos[f.Type]
		switch {
		case s.kind == FieldKindUniform:
			fmt.Fprintf(&sb, "    %s: %s,\n", f.Name, info.wgsl)
		case f.Type == ValueTypeMat4:
			for col := 0; col < 4; col++ {
				fmt.Fprintf(&sb, "    @location(%d) %s_%d: vec4<f32>,\n", loc, f.Name, col)
				loc++
			}
		default:
			fmt.Fprintf(&sb, "    @location(%d) %s: %s,\n", loc, f.Name, info.wgsl)
			loc++
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// DeriveSpec derives the InterfaceSpec of the host record type T.
//
// Parameters:
//   - opts: options controlling the default field kind and the limits checked
//
// Returns:
//   - *InterfaceSpec: the derived spec
//   - error: a BindingError (see DeriveSpecOf)
func DeriveSpec[T any](opts ...SpecBuilderOption) (*InterfaceSpec, error) {
	return DeriveSpecOf(reflect.TypeFor[T](), opts...)
}

// DeriveSpecOf derives the InterfaceSpec of a host record type. Exported fields are read in
// declaration order and embedded structs without a tag are flattened. Each field may carry a
// `shader:"name,kind"` tag; the name defaults to the snake_case field name and the kind to the
// configured default kind (texture handles default to the sampler kind). A tag of "-" skips
// the field.
//
// Parameters:
//   - t: the struct type, or a pointer to it
//   - opts: options controlling the default field kind and the limits checked
//
// Returns:
//   - *InterfaceSpec: the derived spec
//   - error: ErrUnsupportedFieldType if a field has no GPU encoding, ErrDuplicateFieldName if two
//     fields of a kind group share a name, ErrMixedFieldKinds if vertex, instance and uniform data
//     are mixed, or ErrLimitExceeded if the layout does not fit the limits
func DeriveSpecOf(t reflect.Type, opts ...SpecBuilderOption) (*InterfaceSpec, error) {
	o := &specOptions{
		defaultKind: FieldKindUniform,
		limits:      gputypes.DefaultLimits(),
		tagKey:      "shader",
	}
	for _, opt := range opts {
		opt(o)
	}

	if t == nil {
		return nil, common.Errorf(common.ErrUnsupportedFieldType, "nil record type")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, common.Errorf(common.ErrUnsupportedFieldType, "record type %s is not a struct", t)
	}

	d := &deriver{opts: o, names: make(map[FieldKind]map[string]string)}
	if err := d.collect(t, nil, ""); err != nil {
		return nil, fmt.Errorf("derive %s: %w", t, err)
	}
	spec, err := d.build(t)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", t, err)
	}
	return spec, nil
}

// deriver accumulates fields while walking a record type.
type deriver struct {
	opts   *specOptions
	fields []Field
	names  map[FieldKind]map[string]string
}

func (d *deriver) collect(t reflect.Type, index []int, prefix string) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get(d.opts.tagKey)
		if tag == "-" {
			continue
		}

		idx := append(append([]int(nil), index...), i)
		goName := prefix + sf.Name

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && tag == "" {
			if err := d.collect(sf.Type, idx, goName+"."); err != nil {
				return err
			}
			continue
		}

		vt, ok := valueTypeOf(sf.Type)
		if !ok {
			return common.Errorf(common.ErrUnsupportedFieldType, "field %s has type %s", goName, sf.Type)
		}

		tagName, tagKind, _ := strings.Cut(tag, ",")
		name := strings.TrimSpace(tagName)
		if name == "" {
			name = snakeCase(sf.Name)
		}

		kind := d.opts.defaultKind
		if vt == ValueTypeTexture {
			kind = FieldKindSampler
		}
		if tagKind = strings.TrimSpace(tagKind); tagKind != "" {
			if kind, ok = parseFieldKind(tagKind); !ok {
				return common.Errorf(common.ErrUnsupportedFieldType, "field %s has unknown kind %q", goName, tagKind)
			}
		}
		if (kind == FieldKindSampler) != (vt == ValueTypeTexture) {
			return common.Errorf(common.ErrUnsupportedFieldType, "field %s of type %s cannot be a %s field", goName, sf.Type, kind)
		}

		group := kindGroup(kind)
		if d.names[group] == nil {
			d.names[group] = make(map[string]string)
		}
		if other, dup := d.names[group][name]; dup {
			return common.Errorf(common.ErrDuplicateFieldName, "fields %s and %s are both named %q", other, goName, name)
		}
		d.names[group][name] = goName

		d.fields = append(d.fields, Field{
			Name:   name,
			GoName: goName,
			Kind:   kind,
			Type:   vt,
			index:  idx,
		})
	}
	return nil
}

// kindGroup maps a field kind to the group its names must be unique within.
func kindGroup(k FieldKind) FieldKind {
	if k == FieldKindSampler {
		return FieldKindSampler
	}
	return FieldKindUniform
}

// build checks the kind mix, lays out the fields and checks the limits.
func (d *deriver) build(t reflect.Type) (*InterfaceSpec, error) {
	if len(d.fields) == 0 {
		return nil, common.Errorf(common.ErrUnsupportedFieldType, "record has no shader fields")
	}

	spec := &InterfaceSpec{goType: t, kind: FieldKindSampler}
	dataKinds := make(map[FieldKind]bool)
	for _, f := range d.fields {
		if f.Kind == FieldKindSampler {
			spec.samplers++
			continue
		}
		dataKinds[f.Kind] = true
		spec.kind = f.Kind
	}
	if len(dataKinds) > 1 {
		return nil, common.Errorf(common.ErrMixedFieldKinds, "a record holds vertex, instance or uniform data, not several")
	}
	if spec.samplers > 0 && (spec.kind == FieldKindVertex || spec.kind == FieldKindInstance) {
		return nil, common.Errorf(common.ErrMixedFieldKinds, "sampler fields cannot accompany %s attributes", spec.kind)
	}

	offset := uint64(0)
	maxAlign := uint64(1)
	for i := range d.fields {
		f := &d.fields[i]
		if f.Kind == FieldKindSampler {
			continue
		}
		info := valueTypeInfos[f.Type]
		if spec.kind == FieldKindUniform {
			offset = roundUpAlign(info.layout.align, offset)
			f.Size = info.layout.size
			maxAlign = max(maxAlign, info.layout.align)
		} else {
			f.Size = info.attrSize
		}
		f.Offset = offset
		offset += f.Size
	}
	if spec.kind == FieldKindUniform {
		offset = roundUpAlign(maxAlign, offset)
	}
	spec.stride = offset
	spec.fields = d.fields

	if err := spec.CheckLimits(d.opts.limits); err != nil {
		return nil, err
	}
	return spec, nil
}

// CheckLimits reports whether the layout fits a backend's limits. Specs are checked against
// the limits they were derived with; a backend with tighter limits checks them again.
//
// Parameters:
//   - limits: the limits to check against
//
// Returns:
//   - error: ErrLimitExceeded naming the first limit the layout exceeds, or nil
func (s *InterfaceSpec) CheckLimits(limits gputypes.Limits) error {
	switch s.kind {
	case FieldKindVertex, FieldKindInstance:
		if n := s.Locations(); n > limits.MaxVertexAttributes {
			return common.Errorf(common.ErrLimitExceeded, "%d attribute locations exceed the limit of %d", n, limits.MaxVertexAttributes)
		}
		if s.stride > uint64(limits.MaxVertexBufferArrayStride) {
			return common.Errorf(common.ErrLimitExceeded, "stride %d exceeds the limit of %d", s.stride, limits.MaxVertexBufferArrayStride)
		}
	case FieldKindUniform:
		if s.stride > limits.MaxUniformBufferBindingSize {
			return common.Errorf(common.ErrLimitExceeded, "uniform size %d exceeds the limit of %d", s.stride, limits.MaxUniformBufferBindingSize)
		}
	}
	if uint32(s.samplers) > limits.MaxSampledTexturesPerShaderStage {
		return common.Errorf(common.ErrLimitExceeded, "%d samplers exceed the limit of %d", s.samplers, limits.MaxSampledTexturesPerShaderStage)
	}

	return nil
}

// snakeCase converts a Go identifier to snake_case, keeping initialisms together:
// "ModelMatrix" becomes "model_matrix" and "UVScale" becomes "uv_scale".
func snakeCase(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				sb.WriteByte('_')
			}
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}
