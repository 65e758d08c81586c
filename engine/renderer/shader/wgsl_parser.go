package shader

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"
)

// wgslVertexFormatMap maps canonical WGSL type names to their vertex format and byte size
var wgslVertexFormatMap = map[string]vertexFormatInfo{
	"f32":       {gputypes.VertexFormatFloat32, 4},
	"vec2<f32>": {gputypes.VertexFormatFloat32x2, 8},
	"vec3<f32>": {gputypes.VertexFormatFloat32x3, 12},
	"vec4<f32>": {gputypes.VertexFormatFloat32x4, 16},
	"i32":       {gputypes.VertexFormatSint32, 4},
	"vec2<i32>": {gputypes.VertexFormatSint32x2, 8},
	"vec3<i32>": {gputypes.VertexFormatSint32x3, 12},
	"vec4<i32>": {gputypes.VertexFormatSint32x4, 16},
	"u32":       {gputypes.VertexFormatUint32, 4},
	"vec2<u32>": {gputypes.VertexFormatUint32x2, 8},
	"vec3<u32>": {gputypes.VertexFormatUint32x3, 12},
	"vec4<u32>": {gputypes.VertexFormatUint32x4, 16},
	"vec2<f16>": {gputypes.VertexFormatFloat16x2, 4},
	"vec4<f16>": {gputypes.VertexFormatFloat16x4, 8},
}

// wgslSampledTextureMap maps WGSL sampled texture base names to their view dimension and multisampled flag
var wgslSampledTextureMap = map[string]sampledTextureInfo{
	"texture_1d":                    {gputypes.TextureViewDimension1D, false},
	"texture_2d":                    {gputypes.TextureViewDimension2D, false},
	"texture_2d_array":              {gputypes.TextureViewDimension2DArray, false},
	"texture_3d":                    {gputypes.TextureViewDimension3D, false},
	"texture_cube":                  {gputypes.TextureViewDimensionCube, false},
	"texture_cube_array":            {gputypes.TextureViewDimensionCubeArray, false},
	"texture_multisampled_2d":       {gputypes.TextureViewDimension2D, true},
	"texture_depth_2d":              {gputypes.TextureViewDimension2D, false},
	"texture_depth_2d_array":        {gputypes.TextureViewDimension2DArray, false},
	"texture_depth_cube":            {gputypes.TextureViewDimensionCube, false},
	"texture_depth_cube_array":      {gputypes.TextureViewDimensionCubeArray, false},
	"texture_depth_multisampled_2d": {gputypes.TextureViewDimension2D, true},
}

// wgslStorageTextureDimMap maps WGSL storage texture base names to their view dimension
var wgslStorageTextureDimMap = map[string]gputypes.TextureViewDimension{
	"texture_storage_1d":       gputypes.TextureViewDimension1D,
	"texture_storage_2d":       gputypes.TextureViewDimension2D,
	"texture_storage_2d_array": gputypes.TextureViewDimension2DArray,
	"texture_storage_3d":       gputypes.TextureViewDimension3D,
}

// wgslSampleTypeMap maps WGSL scalar type parameters to their texture sample type
var wgslSampleTypeMap = map[string]gputypes.TextureSampleType{
	"f32": gputypes.TextureSampleTypeFloat,
	"i32": gputypes.TextureSampleTypeSint,
	"u32": gputypes.TextureSampleTypeUint,
}

// wgslStorageAccessMap maps WGSL access mode keywords to their storage texture access
var wgslStorageAccessMap = map[string]gputypes.StorageTextureAccess{
	"write":      gputypes.StorageTextureAccessWriteOnly,
	"read":       gputypes.StorageTextureAccessReadOnly,
	"read_write": gputypes.StorageTextureAccessReadWrite,
}

// wgslTexelFormatMap maps WGSL texel format strings to texture formats valid for storage textures
var wgslTexelFormatMap = map[string]gputypes.TextureFormat{
	"rgba8unorm":  gputypes.TextureFormatRGBA8Unorm,
	"rgba8snorm":  gputypes.TextureFormatRGBA8Snorm,
	"rgba8uint":   gputypes.TextureFormatRGBA8Uint,
	"rgba8sint":   gputypes.TextureFormatRGBA8Sint,
	"rgba16uint":  gputypes.TextureFormatRGBA16Uint,
	"rgba16sint":  gputypes.TextureFormatRGBA16Sint,
	"rgba16float": gputypes.TextureFormatRGBA16Float,
	"r32uint":     gputypes.TextureFormatR32Uint,
	"r32sint":     gputypes.TextureFormatR32Sint,
	"r32float":    gputypes.TextureFormatR32Float,
	"rg32uint":    gputypes.TextureFormatRG32Uint,
	"rg32sint":    gputypes.TextureFormatRG32Sint,
	"rg32float":   gputypes.TextureFormatRG32Float,
	"rgba32uint":  gputypes.TextureFormatRGBA32Uint,
	"rgba32sint":  gputypes.TextureFormatRGBA32Sint,
	"rgba32float": gputypes.TextureFormatRGBA32Float,
	"bgra8unorm":  gputypes.TextureFormatBGRA8Unorm,
}

var (
	// structBlockRegex matches struct declarations and captures the name and body
	structBlockRegex = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)

	// locationRegex matches @location(N) attributes
	locationRegex = regexp.MustCompile(`@location\((\d+)\)`)

	// builtinRegex matches @builtin(...) attributes
	builtinRegex = regexp.MustCompile(`@builtin\(\w+\)`)

	// fieldRegex matches a struct field line: optional attributes, name, colon, type.
	// The type capture (.+) is greedy to handle parameterized types like array<T, N>.
	fieldRegex = regexp.MustCompile(`(?:(?:@\w+\([^)]*\)\s*)*)*\s*(\w+)\s*:\s*(.+)`)

	// vertexEntryRegex matches @vertex functions and captures the entry point name
	vertexEntryRegex = regexp.MustCompile(`(?s)@vertex\b.*?\bfn\s+(\w+)`)

	// fragmentEntryRegex matches @fragment functions and captures the entry point name
	fragmentEntryRegex = regexp.MustCompile(`(?s)@fragment\b.*?\bfn\s+(\w+)`)

	// computeEntryRegex matches @compute functions and captures the entry point name
	computeEntryRegex = regexp.MustCompile(`(?s)@compute\b.*?\bfn\s+(\w+)`)

	// bindGroupDeclRegex captures group, binding, optional address space, variable name, and type
	// from declarations like: @group(0) @binding(0) var<uniform> frame: FrameUniforms;
	// or handle types: @group(1) @binding(0) var shadow_map: texture_depth_2d;
	bindGroupDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
)

// parseVertexInputs extracts the @location inputs of the vertex entry point from WGSL source.
// Inputs are collected from direct @location parameters and from the members of struct-typed
// parameters; @builtin inputs are skipped. The result is sorted by location. Sources without a
// vertex entry point return nil. Inputs with a type that has no vertex format are returned
// with gputypes.VertexFormatUndefined so that binding can report the mismatch.
//
// Parameters:
//   - source: WGSL source with comments already stripped
//
// Returns:
//   - []VertexInput: the vertex inputs sorted by location
func parseVertexInputs(source string) []VertexInput {
	entry := parseEntryPoint(source, gputypes.ShaderStageVertex)
	if entry == "" {
		return nil
	}
	params, ok := entryParameters(source, entry)
	if !ok {
		return nil
	}

	structs := make(map[string]parsedStruct)
	for _, ps := range parseStructBlocks(source) {
		structs[ps.name] = ps
	}

	var inputs []VertexInput
	for _, param := range parseStructFields(params) {
		if param.isBuiltin {
			continue
		}
		if param.location >= 0 {
			inputs = append(inputs, newVertexInput(param, ""))
			continue
		}
		ps, ok := structs[param.typeName]
		if !ok {
			continue
		}
		for _, f := range ps.fields {
			if f.isBuiltin || f.location < 0 {
				continue
			}
			inputs = append(inputs, newVertexInput(f, ps.name))
		}
	}

	sort.Slice(inputs, func(i, j int) bool {
		return inputs[i].Location < inputs[j].Location
	})
	return inputs
}

// newVertexInput converts a parsed @location field into a VertexInput.
func newVertexInput(f parsedField, structName string) VertexInput {
	in := VertexInput{
		Name:     f.name,
		Location: uint32(f.location),
		Type:     f.typeName,
		Struct:   structName,
	}
	if info, ok := wgslVertexFormatMap[f.typeName]; ok {
		in.Format = info.format
	}
	return in
}

// entryParameters returns the raw parameter list of the function named fn, located by
// balancing the parentheses that follow "fn <name>".
//
// Parameters:
//   - source: WGSL source with comments already stripped
//   - fn: the function name
//
// Returns:
//   - string: the text between the parameter list parentheses
//   - bool: false if the function or a balanced parameter list could not be found
func entryParameters(source, fn string) (string, bool) {
	re := regexp.MustCompile(`\bfn\s+` + regexp.QuoteMeta(fn) + `\s*\(`)
	loc := re.FindStringIndex(source)
	if loc == nil {
		return "", false
	}
	start := loc[1]
	depth := 1
	for i := start; i < len(source); i++ {
		switch source[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return source[start:i], true
			}
		}
	}
	return "", false
}

// parseBindings extracts all @group(N) @binding(M) resource declarations from WGSL source.
// Buffer bindings of struct type carry their laid-out members and size so that uniform
// data can be placed at the offsets the shader expects. The result is sorted by group then
// binding. The provided visibility flag is applied to every entry.
//
// Parameters:
//   - source: WGSL source with comments already stripped
//   - visibility: the shader stages that may access the bindings
//
// Returns:
//   - []ResourceBinding: the resource bindings in (group, binding) order
func parseBindings(source string, visibility gputypes.ShaderStages) []ResourceBinding {
	structs := parseStructBlocks(source)
	structSizes := computeStructSizes(structs)
	byName := make(map[string]parsedStruct, len(structs))
	for _, ps := range structs {
		byName[ps.name] = ps
	}

	matches := bindGroupDeclRegex.FindAllStringSubmatch(source, -1)
	bindings := make([]ResourceBinding, 0, len(matches))
	for _, match := range matches {
		group, _ := strconv.Atoi(match[1])
		binding, _ := strconv.Atoi(match[2])
		addressSpace := strings.TrimSpace(match[3])
		typeName := canonicalType(match[5])

		rb := ResourceBinding{
			Group:        uint32(group),
			Binding:      uint32(binding),
			Name:         strings.TrimSpace(match[4]),
			AddressSpace: addressSpace,
			Type:         typeName,
			Entry:        classifyResource(uint32(binding), visibility, addressSpace, typeName),
		}

		if rb.Entry.Buffer != nil {
			if layout, ok := resolveTypeLayout(typeName, structSizes); ok && layout.size > 0 {
				rb.Size = layout.size
				rb.Entry.Buffer.MinBindingSize = layout.size
			}
			if ps, ok := byName[typeName]; ok {
				rb.Members, _, _ = computeStructMembers(ps, structSizes)
			}
		}

		bindings = append(bindings, rb)
	}

	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].Group != bindings[j].Group {
			return bindings[i].Group < bindings[j].Group
		}
		return bindings[i].Binding < bindings[j].Binding
	})
	return bindings
}

// buildBindGroupLayouts groups resource bindings into layout descriptors keyed by group index.
//
// Parameters:
//   - bindings: the resource bindings sorted by group then binding
//   - label: the label prefix applied to each descriptor
//
// Returns:
//   - map[uint32]gputypes.BindGroupLayoutDescriptor: layout descriptors keyed by group index
func buildBindGroupLayouts(bindings []ResourceBinding, label string) map[uint32]gputypes.BindGroupLayoutDescriptor {
	result := make(map[uint32]gputypes.BindGroupLayoutDescriptor)
	for _, rb := range bindings {
		desc := result[rb.Group]
		if desc.Label == "" {
			desc.Label = label + "/group" + strconv.Itoa(int(rb.Group))
		}
		desc.Entries = append(desc.Entries, rb.Entry)
		result[rb.Group] = desc
	}
	return result
}

// parseEntryPoint extracts the entry point function name for the given shader stage
// from WGSL source. Returns an empty string if no matching entry point annotation is found.
//
// Parameters:
//   - source: the WGSL source code string
//   - stage: the stage to search for (vertex, fragment or compute)
//
// Returns:
//   - string: the entry point function name, or empty string if not found
func parseEntryPoint(source string, stage gputypes.ShaderStage) string {
	var re *regexp.Regexp
	switch stage {
	case gputypes.ShaderStageVertex:
		re = vertexEntryRegex
	case gputypes.ShaderStageFragment:
		re = fragmentEntryRegex
	case gputypes.ShaderStageCompute:
		re = computeEntryRegex
	default:
		return ""
	}

	if match := re.FindStringSubmatch(source); match != nil {
		return match[1]
	}
	return ""
}

// parseStructBlocks finds all struct { ... } blocks in the cleaned WGSL source
// and parses their fields including @location and @builtin attributes
//
// Parameters:
//   - source: WGSL source with comments already stripped
//
// Returns:
//   - []parsedStruct: all struct blocks found in the source
func parseStructBlocks(source string) []parsedStruct {
	matches := structBlockRegex.FindAllStringSubmatch(source, -1)
	structs := make([]parsedStruct, 0, len(matches))

	for _, match := range matches {
		structs = append(structs, parsedStruct{
			name:   match[1],
			fields: parseStructFields(match[2]),
		})
	}

	return structs
}

// parseStructFields parses a comma separated member or parameter list into individual fields,
// extracting @location and @builtin attributes along with the field name and canonical type
//
// Parameters:
//   - body: the content between { and } of a struct declaration, or a function parameter list
//
// Returns:
//   - []parsedField: all fields found in the body
func parseStructFields(body string) []parsedField {
	lines := splitAtTopLevelCommas(body)
	fields := make([]parsedField, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		field := parsedField{location: -1}
		if builtinRegex.MatchString(line) {
			field.isBuiltin = true
		}
		if locMatch := locationRegex.FindStringSubmatch(line); locMatch != nil {
			if loc, err := strconv.Atoi(locMatch[1]); err == nil {
				field.location = loc
			}
		}

		fm := fieldRegex.FindStringSubmatch(line)
		if fm == nil {
			continue
		}
		field.name = fm[1]
		field.typeName = canonicalType(fm[2])

		fields = append(fields, field)
	}

	return fields
}
