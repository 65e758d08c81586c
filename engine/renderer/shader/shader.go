package shader

import (
	"fmt"
	"os"

	"github.com/gogpu/gputypes"
)

// shader is the implementation of the Shader interface.
// It holds the processed source and all reflection data parsed from it.
type shader struct {
	key         string
	source      string
	entryPoints map[gputypes.ShaderStage]string
	inputs      []VertexInput
	bindings    []ResourceBinding
	layouts     map[uint32]gputypes.BindGroupLayoutDescriptor
	structs     map[string][]Member
}

// Shader defines the interface for a loaded and reflected WGSL module. It exposes the entry
// points, the vertex inputs consumed by the vertex entry point and the resource bindings with
// their struct member offsets, which is what an InterfaceSpec is bound against.
type Shader interface {
	// Key retrieves the unique identifier for this shader, used for caching and lookups.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the processed WGSL source code.
	//
	// Returns:
	//   - string: the WGSL source with all includes expanded
	Source() string

	// EntryPoint returns the entry point function name for a shader stage.
	//
	// Parameters:
	//   - stage: gputypes.ShaderStageVertex, ShaderStageFragment or ShaderStageCompute
	//
	// Returns:
	//   - string: the entry point name, or an empty string if the module has none for the stage
	EntryPoint(stage gputypes.ShaderStage) string

	// VertexInputs retrieves the @location inputs of the vertex entry point sorted by location.
	//
	// Returns:
	//   - []VertexInput: the vertex inputs, empty for modules without a vertex entry point
	VertexInputs() []VertexInput

	// VertexInput looks up a vertex input by name.
	//
	// Parameters:
	//   - name: the parameter or struct member name
	//
	// Returns:
	//   - VertexInput: the matching input
	//   - bool: false if the vertex entry point declares no input with that name
	VertexInput(name string) (VertexInput, bool)

	// Bindings retrieves all @group/@binding declarations in (group, binding) order.
	//
	// Returns:
	//   - []ResourceBinding: the resource bindings of the module
	Bindings() []ResourceBinding

	// Binding looks up a resource binding by variable name.
	//
	// Parameters:
	//   - name: the variable name
	//
	// Returns:
	//   - ResourceBinding: the matching binding
	//   - bool: false if no binding has that name
	Binding(name string) (ResourceBinding, bool)

	// BindGroupLayoutDescriptors retrieves the layout descriptors derived from the bindings.
	// Backends use these to create their pipeline layouts.
	//
	// Returns:
	//   - map[uint32]gputypes.BindGroupLayoutDescriptor: descriptors keyed by group index
	BindGroupLayoutDescriptors() map[uint32]gputypes.BindGroupLayoutDescriptor

	// StructMembers retrieves the laid-out members of a struct declared in the module.
	//
	// Parameters:
	//   - name: the struct name
	//
	// Returns:
	//   - []Member: the members with offsets and sizes
	//   - bool: false if the struct is unknown or could not be laid out
	StructMembers(name string) ([]Member, bool)
}

var _ Shader = &shader{}

// NewShader parses WGSL source into a reflected Shader. Include directives are expanded with
// the provided pre-processor when one is given.
//
// Parameters:
//   - key: a unique identifier for the shader, used for caching and lookups
//   - source: the WGSL source code
//   - pp: an optional pre-processor used to expand //@conduit:include directives, may be nil
//
// Returns:
//   - Shader: the reflected shader
//   - error: an error if the source is empty or pre-processing fails
func NewShader(key, source string, pp PreProcessor) (Shader, error) {
	if source == "" {
		return nil, fmt.Errorf("shader: %s has no source", key)
	}
	if pp != nil {
		processed, err := pp.Process(source)
		if err != nil {
			return nil, fmt.Errorf("shader: failed to pre-process %s: %w", key, err)
		}
		source = processed
	}

	s := &shader{
		key:         key,
		source:      source,
		entryPoints: make(map[gputypes.ShaderStage]string),
		structs:     make(map[string][]Member),
	}
	s.reflect()
	return s, nil
}

// NewShaderFromFile reads WGSL source from a file and parses it with NewShader.
//
// Parameters:
//   - key: a unique identifier for the shader
//   - path: the file path to read WGSL source from
//   - pp: an optional pre-processor, may be nil
//
// Returns:
//   - Shader: the reflected shader
//   - error: an error if the file cannot be read or the source cannot be processed
func NewShaderFromFile(key, path string, pp PreProcessor) (Shader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shader: failed to read source file %q: %w", path, err)
	}
	return NewShader(key, string(data), pp)
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) EntryPoint(stage gputypes.ShaderStage) string {
	return s.entryPoints[stage]
}

func (s *shader) VertexInputs() []VertexInput {
	return s.inputs
}

func (s *shader) VertexInput(name string) (VertexInput, bool) {
	for _, in := range s.inputs {
		if in.Name == name {
			return in, true
		}
	}
	return VertexInput{}, false
}

func (s *shader) Bindings() []ResourceBinding {
	return s.bindings
}

func (s *shader) Binding(name string) (ResourceBinding, bool) {
	for _, rb := range s.bindings {
		if rb.Name == name {
			return rb, true
		}
	}
	return ResourceBinding{}, false
}

func (s *shader) BindGroupLayoutDescriptors() map[uint32]gputypes.BindGroupLayoutDescriptor {
	return s.layouts
}

func (s *shader) StructMembers(name string) ([]Member, bool) {
	m, ok := s.structs[name]
	return m, ok
}

// reflect extracts entry points, vertex inputs, struct layouts and bindings from the source.
// Bindings are visible to every stage the module declares an entry point for.
func (s *shader) reflect() {
	cleaned := stripComments(s.source)

	var visibility gputypes.ShaderStages
	for _, stage := range []gputypes.ShaderStage{gputypes.ShaderStageVertex, gputypes.ShaderStageFragment, gputypes.ShaderStageCompute} {
		if name := parseEntryPoint(cleaned, stage); name != "" {
			s.entryPoints[stage] = name
			visibility |= stage
		}
	}

	s.inputs = parseVertexInputs(cleaned)

	structs := parseStructBlocks(cleaned)
	known := computeStructSizes(structs)
	for _, ps := range structs {
		if members, _, ok := computeStructMembers(ps, known); ok {
			s.structs[ps.name] = members
		}
	}

	s.bindings = parseBindings(cleaned, visibility)
	s.layouts = buildBindGroupLayouts(s.bindings, s.key)
}
