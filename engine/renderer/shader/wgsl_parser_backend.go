package shader

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"
)

// wgslPrimitiveLayoutMap maps canonical WGSL primitive, vector, matrix, and atomic type names
// to their byte size and alignment per the WGSL specification.
//
// Reference: https://www.w3.org/TR/WGSL/#alignment-and-size
var wgslPrimitiveLayoutMap = map[string]wgslTypeLayout{
	// Scalars
	"f32":  {4, 4},
	"i32":  {4, 4},
	"u32":  {4, 4},
	"f16":  {2, 2},
	"bool": {4, 4},

	// Vectors
	"vec2<f32>": {8, 8},
	"vec3<f32>": {12, 16},
	"vec4<f32>": {16, 16},
	"vec2<i32>": {8, 8},
	"vec3<i32>": {12, 16},
	"vec4<i32>": {16, 16},
	"vec2<u32>": {8, 8},
	"vec3<u32>": {12, 16},
	"vec4<u32>": {16, 16},
	"vec2<f16>": {4, 4},
	"vec4<f16>": {8, 8},

	// Matrices – matCxR<f32>: C columns of vecR<f32>, stride = roundUp(align(vecR), size(vecR))
	"mat2x2<f32>": {16, 8},
	"mat2x3<f32>": {32, 16},
	"mat2x4<f32>": {32, 16},
	"mat3x2<f32>": {24, 8},
	"mat3x3<f32>": {48, 16},
	"mat3x4<f32>": {48, 16},
	"mat4x2<f32>": {32, 8},
	"mat4x3<f32>": {64, 16},
	"mat4x4<f32>": {64, 16},

	// Atomic types
	"atomic<u32>": {4, 4},
	"atomic<i32>": {4, 4},
}

// typeAliasRegex matches the predeclared vector and matrix aliases such as vec3f or mat4x4f
var typeAliasRegex = regexp.MustCompile(`\b(vec[234]|mat[234]x[234])([fhiu])\b`)

// typeAliasScalars maps an alias suffix to its scalar type
var typeAliasScalars = map[string]string{
	"f": "f32",
	"h": "f16",
	"i": "i32",
	"u": "u32",
}

// canonicalType removes whitespace from a WGSL type and expands predeclared aliases, so that
// "vec3f", "vec3<f32>" and "vec3< f32 >" all compare equal as "vec3<f32>".
//
// Parameters:
//   - typeName: the WGSL type as written in the source
//
// Returns:
//   - string: the canonical spelling of the type
func canonicalType(typeName string) string {
	t := strings.Join(strings.Fields(typeName), "")
	return typeAliasRegex.ReplaceAllStringFunc(t, func(alias string) string {
		m := typeAliasRegex.FindStringSubmatch(alias)
		return m[1] + "<" + typeAliasScalars[m[2]] + ">"
	})
}

// roundUpAlign rounds value up to the next multiple of alignment.
// Alignment must be a power of two.
//
// Parameters:
//   - alignment: the required alignment (must be a power of two)
//   - value: the value to align
//
// Returns:
//   - uint64: value rounded up to the next multiple of alignment
func roundUpAlign(alignment, value uint64) uint64 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// resolveTypeLayout resolves a canonical WGSL type name to its size and alignment using
// primitives and previously-computed struct layouts. Fixed-size arrays resolve to their full
// size; runtime-sized arrays resolve to a single element stride.
//
// Parameters:
//   - typeName: the canonical WGSL type name, e.g. "f32", "FrameUniforms", "array<vec4<f32>,4>"
//   - knownTypes: a map of already-resolved type names to their layouts
//
// Returns:
//   - wgslTypeLayout: the resolved layout
//   - bool: false for unknown types
func resolveTypeLayout(typeName string, knownTypes map[string]wgslTypeLayout) (wgslTypeLayout, bool) {
	if layout, ok := wgslPrimitiveLayoutMap[typeName]; ok {
		return layout, true
	}
	if layout, ok := knownTypes[typeName]; ok {
		return layout, true
	}

	if strings.HasPrefix(typeName, "array<") && strings.HasSuffix(typeName, ">") {
		parts := splitAtTopLevelCommas(typeName[6 : len(typeName)-1])
		elemLayout, ok := resolveTypeLayout(parts[0], knownTypes)
		if !ok {
			return wgslTypeLayout{}, false
		}
		stride := roundUpAlign(elemLayout.align, elemLayout.size)

		if len(parts) == 2 {
			count, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return wgslTypeLayout{}, false
			}
			return wgslTypeLayout{count * stride, elemLayout.align}, true
		}
		return wgslTypeLayout{stride, elemLayout.align}, true
	}

	return wgslTypeLayout{}, false
}

// computeStructMembers lays out the members of a single WGSL struct using WGSL struct layout
// rules: each member is placed at the next aligned offset, and the total size is rounded up to
// the struct's alignment (max alignment of all members). Members with @builtin attributes are
// skipped as they are not part of the buffer layout.
//
// Parameters:
//   - ps: the parsed struct whose layout to compute
//   - knownTypes: a map of already-resolved type names to their layouts
//
// Returns:
//   - []Member: the members with their byte offsets and sizes
//   - wgslTypeLayout: the layout of the struct as a whole
//   - bool: true if all members could be resolved
func computeStructMembers(ps parsedStruct, knownTypes map[string]wgslTypeLayout) ([]Member, wgslTypeLayout, bool) {
	members := make([]Member, 0, len(ps.fields))
	offset := uint64(0)
	maxAlign := uint64(1)

	for _, field := range ps.fields {
		if field.isBuiltin {
			continue
		}

		fieldLayout, ok := resolveTypeLayout(field.typeName, knownTypes)
		if !ok {
			return nil, wgslTypeLayout{}, false
		}

		offset = roundUpAlign(fieldLayout.align, offset)
		members = append(members, Member{
			Name:   field.name,
			Type:   field.typeName,
			Offset: offset,
			Size:   fieldLayout.size,
		})
		offset += fieldLayout.size
		maxAlign = max(maxAlign, fieldLayout.align)
	}

	return members, wgslTypeLayout{roundUpAlign(maxAlign, offset), maxAlign}, true
}

// computeStructSizes computes the byte size and alignment of all parsed WGSL structs.
// It resolves dependencies between structs iteratively, handling cases where one struct
// contains fields typed as another struct. Returns a map from struct name to layout.
//
// Parameters:
//   - structs: all parsed struct blocks from the WGSL source
//
// Returns:
//   - map[string]wgslTypeLayout: a map from struct name to computed layout
func computeStructSizes(structs []parsedStruct) map[string]wgslTypeLayout {
	resolved := make(map[string]wgslTypeLayout, len(structs))
	remaining := make([]parsedStruct, len(structs))
	copy(remaining, structs)

	for {
		progress := false
		next := remaining[:0]

		for _, ps := range remaining {
			if _, layout, ok := computeStructMembers(ps, resolved); ok {
				resolved[ps.name] = layout
				progress = true
			} else {
				next = append(next, ps)
			}
		}

		remaining = next
		if !progress || len(remaining) == 0 {
			break
		}
	}

	return resolved
}

// classifyResource creates a gputypes.BindGroupLayoutEntry from a parsed WGSL resource declaration.
// It determines the resource category (buffer, texture, sampler, storage texture) from the
// address space qualifier and type name, and populates the corresponding layout.
//
// Parameters:
//   - binding: the binding index from @binding(N)
//   - visibility: the shader stage visibility flags
//   - addressSpace: the address space qualifier (e.g. "uniform", "storage, read_write"), empty for handle types
//   - typeName: the canonical WGSL type string (e.g. "FrameUniforms", "texture_2d<f32>", "sampler")
//
// Returns:
//   - gputypes.BindGroupLayoutEntry: a populated layout entry for the resource
func classifyResource(binding uint32, visibility gputypes.ShaderStages, addressSpace, typeName string) gputypes.BindGroupLayoutEntry {
	entry := gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: visibility,
	}

	if addressSpace != "" {
		switch {
		case addressSpace == "uniform":
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case strings.HasPrefix(addressSpace, "storage"):
			bt := gputypes.BufferBindingTypeReadOnlyStorage
			if strings.Contains(addressSpace, "read_write") {
				bt = gputypes.BufferBindingTypeStorage
			}
			entry.Buffer = &gputypes.BufferBindingLayout{Type: bt}
		}
		return entry
	}

	switch {
	case typeName == "sampler":
		entry.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	case typeName == "sampler_comparison":
		entry.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeComparison}
	case strings.HasPrefix(typeName, "texture_storage_"):
		entry.StorageTexture = classifyStorageTexture(typeName)
	case strings.HasPrefix(typeName, "texture_depth_"):
		entry.Texture = classifyDepthTexture(typeName)
	case strings.HasPrefix(typeName, "texture_"):
		entry.Texture = classifySampledTexture(typeName)
	}

	return entry
}

// classifySampledTexture parses a sampled texture type (e.g. "texture_2d<f32>") into a texture layout
func classifySampledTexture(typeName string) *gputypes.TextureBindingLayout {
	base, param := splitTypeParams(typeName)
	layout := &gputypes.TextureBindingLayout{}

	if info, ok := wgslSampledTextureMap[base]; ok {
		layout.ViewDimension = info.viewDimension
		layout.Multisampled = info.multisampled
	}
	if st, ok := wgslSampleTypeMap[param]; ok {
		layout.SampleType = st
	}
	return layout
}

// classifyDepthTexture parses a depth texture type (e.g. "texture_depth_2d") into a texture layout
func classifyDepthTexture(typeName string) *gputypes.TextureBindingLayout {
	layout := &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeDepth}
	if info, ok := wgslSampledTextureMap[typeName]; ok {
		layout.ViewDimension = info.viewDimension
		layout.Multisampled = info.multisampled
	}
	return layout
}

// classifyStorageTexture parses a storage texture type (e.g. "texture_storage_2d<rgba8unorm,write>")
// into a storage texture layout
func classifyStorageTexture(typeName string) *gputypes.StorageTextureBindingLayout {
	base, params := splitTypeParams(typeName)
	layout := &gputypes.StorageTextureBindingLayout{}

	if dim, ok := wgslStorageTextureDimMap[base]; ok {
		layout.ViewDimension = dim
	}

	parts := strings.SplitN(params, ",", 2)
	if format, ok := wgslTexelFormatMap[strings.TrimSpace(parts[0])]; ok {
		layout.Format = format
	}
	if len(parts) == 2 {
		if access, ok := wgslStorageAccessMap[strings.TrimSpace(parts[1])]; ok {
			layout.Access = access
		}
	}
	return layout
}

// splitTypeParams splits a WGSL parameterized type into its base name and parameter string.
// For "texture_2d<f32>" returns ("texture_2d", "f32").
// For "texture_depth_2d" (no params) returns ("texture_depth_2d", "").
//
// Parameters:
//   - typeName: the WGSL type string to split
//
// Returns:
//   - base: the type name before the first angle bracket
//   - params: the content between angle brackets, or empty if none
func splitTypeParams(typeName string) (base string, params string) {
	before, after, ok := strings.Cut(typeName, "<")
	if !ok {
		return typeName, ""
	}
	return before, strings.TrimSpace(strings.TrimSuffix(after, ">"))
}

// stripComments removes both single-line (//) and block (/* */) comments from WGSL source.
// Block comments may be nested per the WGSL specification.
//
// Parameters:
//   - source: raw WGSL source string
//
// Returns:
//   - string: source with all comments removed
func stripComments(source string) string {
	return stripLineComments(stripBlockComments(source))
}

// stripLineComments removes single-line // comments from WGSL source so they
// do not interfere with struct and field parsing
func stripLineComments(source string) string {
	var sb strings.Builder
	for line := range strings.SplitSeq(source, "\n") {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// stripBlockComments removes block comments (/* ... */) from WGSL source,
// handling nested block comments per the WGSL specification
func stripBlockComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	i := 0
	for i < len(source) {
		if i+1 < len(source) {
			if source[i] == '/' && source[i+1] == '*' {
				depth++
				i += 2
				continue
			}
			if source[i] == '*' && source[i+1] == '/' {
				if depth > 0 {
					depth--
				}
				i += 2
				continue
			}
		}
		if depth == 0 {
			sb.WriteByte(source[i])
		}
		i++
	}
	return sb.String()
}

// splitAtTopLevelCommas splits a string at commas that are not nested inside angle brackets
// or parentheses. This handles WGSL types like array<Light, 4> and attributes like
// @interpolate(flat, center) where the comma is not a field separator.
//
// Parameters:
//   - s: the string to split (typically the body of a WGSL struct or a parameter list)
//
// Returns:
//   - []string: substrings between top-level commas
func splitAtTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(':
			depth++
		case '>', ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
