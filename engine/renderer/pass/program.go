package pass

import (
	_ "embed"
	"fmt"
	"reflect"
	"strings"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/logger"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

//go:embed assets/shadow_depth.wgsl
var shadowDepthSource string

//go:embed assets/lit.wgsl
var litSource string

//go:embed assets/unlit.wgsl
var unlitSource string

//go:embed assets/fullscreen.wgsl
var fullscreenSource string

//go:embed assets/glow_extract.wgsl
var glowExtractSource string

//go:embed assets/blur.wgsl
var blurSource string

//go:embed assets/composite.wgsl
var compositeSource string

// GlowUniforms is the record the fullscreen glow programs read from group 0 binding 0.
type GlowUniforms struct {
	Threshold float32
	Intensity float32

	// Direction is (1, 0) for the horizontal blur and (0, 1) for the vertical blur.
	Direction common.Vec2
	Radius    int32
}

// recordGroup is the bind group uniforms-mode records and their textures are bound to.
const recordGroup = 1

// Program is a compiled program together with the layouts its draws are fed through.
type Program struct {
	Handle common.ShaderHandle
	Kind   renderer.ProgramKind
	Shader shader.Shader

	// VertexLayouts are the layouts the program was compiled with, mesh buffer first.
	VertexLayouts []gputypes.VertexBufferLayout

	frame  *shader.BoundLayout
	record *shader.BoundLayout
	params *shader.BoundLayout
}

// texture binds h to the named texture variable of the program and to its "<name>_sampler"
// variable when the shader declares one.
func (p *Program) texture(name string, h common.TextureHandle) (renderer.TextureBinding, bool) {
	rb, ok := p.Shader.Binding(name)
	if !ok || !rb.IsTexture() {
		return renderer.TextureBinding{}, false
	}
	tb := renderer.TextureBinding{Group: rb.Group, Binding: rb.Binding, Texture: h}
	if smp, ok := p.Shader.Binding(name + "_sampler"); ok && smp.IsSampler() && smp.Group == rb.Group {
		tb.SamplerBinding = smp.Binding
		tb.HasSampler = true
	}
	return tb, true
}

// recordTextures binds the texture handles of a uniforms-mode record to the program's slots.
func (p *Program) recordTextures(handles []common.TextureHandle) []renderer.TextureBinding {
	if p.record == nil || len(handles) == 0 {
		return nil
	}
	slots := p.record.Textures()
	out := make([]renderer.TextureBinding, 0, len(slots))
	for i, slot := range slots {
		if i >= len(handles) {
			break
		}
		out = append(out, renderer.TextureBinding{
			Group:          slot.Group,
			Binding:        slot.Binding,
			Texture:        handles[i],
			SamplerBinding: slot.SamplerBinding,
			HasSampler:     slot.HasSampler,
		})
	}
	return out
}

// meshVariant identifies a generated mesh program. Specs are keyed by their host type so that
// meshes uploaded separately with the same vertex type share programs.
type meshVariant struct {
	kind       renderer.ProgramKind
	vertex     reflect.Type
	record     reflect.Type
	recordKind shader.FieldKind
	instanced  bool
	topology   gputypes.PrimitiveTopology
	color      gputypes.TextureFormat
	depth      gputypes.TextureFormat
}

type fullscreenVariant struct {
	kind  renderer.ProgramKind
	color gputypes.TextureFormat
}

// programCache is the implementation of the ProgramCache interface.
type programCache struct {
	backend    renderer.Backend
	frameSpec  *shader.InterfaceSpec
	glowSpec   *shader.InterfaceSpec
	mesh       map[meshVariant]*Program
	fullscreen map[fullscreenVariant]*Program
}

// ProgramCache generates, compiles and caches the programs passes draw with. Mesh programs
// are generated per (program kind, vertex record, instance or uniform record, topology,
// formats) from WGSL templates whose vertex and record structs come from the records' specs.
type ProgramCache interface {
	// MeshProgram returns the program drawing mesh with records of the given spec.
	//
	// Parameters:
	//   - kind: the program kind, one of the mesh kinds
	//   - mesh: the mesh whose vertex spec the program reads
	//   - record: the per-entry record spec
	//   - instanced: true to read the record as a per-instance vertex buffer, false to read it
	//     from uniforms at group 1
	//   - color: the color attachment format, undefined for depth-only programs
	//   - depth: the depth attachment format, undefined for programs without depth
	//
	// Returns:
	//   - *Program: the compiled program
	//   - error: ErrMissingShaderInput if the mesh has no vec3 position, ErrDuplicateFieldName if
	//     a record field shadows a vertex or frame input, or the backend compile error unmodified
	MeshProgram(kind renderer.ProgramKind, mesh *renderer.Mesh, record *shader.InterfaceSpec, instanced bool, color, depth gputypes.TextureFormat) (*Program, error)

	// FullscreenProgram returns a glow extract, blur or composite program.
	//
	// Parameters:
	//   - kind: the fullscreen program kind
	//   - color: the color attachment format
	//
	// Returns:
	//   - *Program: the compiled program
	//   - error: the backend compile error unmodified
	FullscreenProgram(kind renderer.ProgramKind, color gputypes.TextureFormat) (*Program, error)

	// FrameSpec returns the spec FrameUniforms are encoded with.
	FrameSpec() *shader.InterfaceSpec

	// GlowSpec returns the spec GlowUniforms are encoded with.
	GlowSpec() *shader.InterfaceSpec

	// Len returns the number of compiled programs.
	Len() int
}

var _ ProgramCache = &programCache{}

// NewProgramCache creates an empty ProgramCache compiling through backend.
//
// Parameters:
//   - backend: the backend programs are compiled on
//
// Returns:
//   - ProgramCache: the new cache
//   - error: a BindingError if the frame or glow records do not fit the backend limits
func NewProgramCache(backend renderer.Backend) (ProgramCache, error) {
	opts := []shader.SpecBuilderOption{shader.WithDefaultKind(shader.FieldKindUniform), shader.WithLimits(backend.Limits())}
	frameSpec, err := shader.DeriveSpec[FrameUniforms](opts...)
	if err != nil {
		return nil, err
	}
	glowSpec, err := shader.DeriveSpec[GlowUniforms](opts...)
	if err != nil {
		return nil, err
	}
	return &programCache{
		backend:    backend,
		frameSpec:  frameSpec,
		glowSpec:   glowSpec,
		mesh:       make(map[meshVariant]*Program),
		fullscreen: make(map[fullscreenVariant]*Program),
	}, nil
}

func (c *programCache) FrameSpec() *shader.InterfaceSpec {
	return c.frameSpec
}

func (c *programCache) GlowSpec() *shader.InterfaceSpec {
	return c.glowSpec
}

func (c *programCache) Len() int {
	return len(c.mesh) + len(c.fullscreen)
}

func (c *programCache) MeshProgram(kind renderer.ProgramKind, mesh *renderer.Mesh, record *shader.InterfaceSpec, instanced bool, color, depth gputypes.TextureFormat) (*Program, error) {
	if mesh.Spec == nil {
		return nil, common.Errorf(common.ErrMissingShaderInput, "mesh %s has no vertex spec", mesh.Label)
	}
	key := meshVariant{
		kind:       kind,
		vertex:     mesh.Spec.GoType(),
		record:     record.GoType(),
		recordKind: record.Kind(),
		instanced:  instanced,
		topology:   mesh.Topology,
		color:      color,
		depth:      depth,
	}
	if p, ok := c.mesh[key]; ok {
		return p, nil
	}

	var template string
	switch kind {
	case renderer.ProgramShadowDepth:
		template = shadowDepthSource
	case renderer.ProgramLit:
		template = litSource
	case renderer.ProgramUnlit, renderer.ProgramLine:
		template = unlitSource
	default:
		return nil, fmt.Errorf("pass: %s is not a mesh program", kind)
	}
	if err := c.checkInputs(mesh.Spec, record, instanced); err != nil {
		return nil, err
	}
	limits := c.backend.Limits()
	for _, spec := range []*shader.InterfaceSpec{mesh.Spec, record} {
		if err := spec.CheckLimits(limits); err != nil {
			return nil, fmt.Errorf("pass: %s: %w", spec.GoType().Name(), err)
		}
	}
	if instanced {
		if n := mesh.Spec.Locations() + record.Locations(); n > limits.MaxVertexAttributes {
			return nil, common.Errorf(common.ErrLimitExceeded, "%d vertex and instance locations exceed the limit of %d", n, limits.MaxVertexAttributes)
		}
	}

	label := fmt.Sprintf("%s %s/%s", kind, mesh.Spec.GoType().Name(), record.GoType().Name())
	pp, err := c.meshPreProcessor(mesh.Spec, record, instanced)
	if err != nil {
		return nil, err
	}
	sh, err := shader.NewShader(label, template, pp)
	if err != nil {
		return nil, fmt.Errorf("pass: %w", err)
	}

	p := &Program{Kind: kind, Shader: sh}
	vertexLayout, err := shader.Bind(mesh.Spec, sh)
	if err != nil {
		return nil, err
	}
	p.VertexLayouts = append(p.VertexLayouts, vertexLayout.VertexBufferLayout())
	if p.record, err = shader.Bind(record, sh); err != nil {
		return nil, err
	}
	if instanced {
		p.VertexLayouts = append(p.VertexLayouts, p.record.VertexBufferLayout())
	}
	if p.frame, err = shader.Bind(c.frameSpec, sh); err != nil {
		return nil, err
	}

	p.Handle, err = c.backend.CompileShader(renderer.ProgramDescriptor{
		Label:         label,
		Kind:          kind,
		Shader:        sh,
		VertexLayouts: p.VertexLayouts,
		Topology:      mesh.Topology,
		ColorFormat:   color,
		DepthFormat:   depth,
	})
	if err != nil {
		return nil, err
	}
	c.mesh[key] = p
	logger.Logger().Debug("mesh program generated", "label", label, "instanced", instanced, "topology", mesh.Topology)
	return p, nil
}

func (c *programCache) FullscreenProgram(kind renderer.ProgramKind, color gputypes.TextureFormat) (*Program, error) {
	key := fullscreenVariant{kind: kind, color: color}
	if p, ok := c.fullscreen[key]; ok {
		return p, nil
	}

	var template string
	switch kind {
	case renderer.ProgramGlowExtract:
		template = glowExtractSource
	case renderer.ProgramBlur:
		template = blurSource
	case renderer.ProgramComposite:
		template = compositeSource
	default:
		return nil, fmt.Errorf("pass: %s is not a fullscreen program", kind)
	}

	pp := shader.NewPreProcessor()
	if err := pp.RegisterSpec("Glow", c.glowSpec, 0); err != nil {
		return nil, fmt.Errorf("pass: %w", err)
	}
	if err := pp.Register("Fullscreen", fullscreenSource); err != nil {
		return nil, fmt.Errorf("pass: %w", err)
	}
	sh, err := shader.NewShader(kind.String(), template, pp)
	if err != nil {
		return nil, fmt.Errorf("pass: %w", err)
	}

	p := &Program{Kind: kind, Shader: sh}
	if p.params, err = shader.Bind(c.glowSpec, sh); err != nil {
		return nil, err
	}
	p.Handle, err = c.backend.CompileShader(renderer.ProgramDescriptor{
		Label:       kind.String(),
		Kind:        kind,
		Shader:      sh,
		Topology:    gputypes.PrimitiveTopologyTriangleList,
		ColorFormat: color,
	})
	if err != nil {
		return nil, err
	}
	c.fullscreen[key] = p
	return p, nil
}

// checkInputs rejects vertex records without a position and records whose names collide with
// the inputs the generated shader already declares.
func (c *programCache) checkInputs(vertex, record *shader.InterfaceSpec, instanced bool) error {
	if !hasField(vertex, "position", shader.ValueTypeVec3) {
		return common.Errorf(common.ErrMissingShaderInput, "vertex record %s has no vec3 position", vertex.GoType())
	}
	for _, f := range record.Fields() {
		if f.Kind == shader.FieldKindSampler {
			continue
		}
		if instanced {
			if _, ok := vertex.Field(f.Name); ok {
				return common.Errorf(common.ErrDuplicateFieldName, "instance field %s of %s shadows a vertex input", f.Name, record.GoType())
			}
			continue
		}
		if _, ok := c.frameSpec.Field(f.Name); ok {
			return common.Errorf(common.ErrDuplicateFieldName, "uniform field %s of %s shadows a frame uniform", f.Name, record.GoType())
		}
	}
	return nil
}

// meshPreProcessor registers the includes a mesh template expands: the frame, vertex and record
// structs and the locals the entry point reads its inputs through.
func (c *programCache) meshPreProcessor(vertex, record *shader.InterfaceSpec, instanced bool) (shader.PreProcessor, error) {
	pp := shader.NewPreProcessor()
	includes := []struct {
		name, source string
	}{
		{"Frame", c.frameSpec.WGSLStruct("Frame", 0)},
		{"Vertex", vertex.WGSLStruct("Vertex", 0)},
		{"RecordDecl", recordDecl(vertex, record, instanced)},
		{"RecordParam", recordParam(record, instanced)},
		{"RecordLocals", recordLocals(record, instanced)},
		{"VertexLocals", vertexLocals(vertex)},
	}
	for _, inc := range includes {
		if err := pp.Register(inc.name, inc.source); err != nil {
			return nil, fmt.Errorf("pass: %w", err)
		}
	}
	return pp, nil
}

func recordDecl(vertex, record *shader.InterfaceSpec, instanced bool) string {
	if instanced {
		return record.WGSLStruct("Instance", vertex.Locations())
	}
	var sb strings.Builder
	binding := 0
	if decl := record.WGSLStruct("Object", 0); decl != "" && record.Kind() == shader.FieldKindUniform {
		sb.WriteString(decl)
		fmt.Fprintf(&sb, "@group(%d) @binding(%d) var<uniform> object: Object;\n", recordGroup, binding)
		binding++
	}
	for _, f := range record.Fields() {
		if f.Kind != shader.FieldKindSampler {
			continue
		}
		fmt.Fprintf(&sb, "@group(%d) @binding(%d) var %s: texture_2d<f32>;\n", recordGroup, binding, f.Name)
		fmt.Fprintf(&sb, "@group(%d) @binding(%d) var %s_sampler: sampler;\n", recordGroup, binding+1, f.Name)
		binding += 2
	}
	return sb.String()
}

func recordParam(record *shader.InterfaceSpec, instanced bool) string {
	if !instanced || record.Locations() == 0 {
		return ""
	}
	return "    inst: Instance,"
}

// recordLocals declares the model matrix and color the templates read. Records without a mat4
// model or a vec4 color fall back to the identity and opaque white.
func recordLocals(record *shader.InterfaceSpec, instanced bool) string {
	model := "    let model = mat4x4<f32>(vec4<f32>(1.0, 0.0, 0.0, 0.0), vec4<f32>(0.0, 1.0, 0.0, 0.0), vec4<f32>(0.0, 0.0, 1.0, 0.0), vec4<f32>(0.0, 0.0, 0.0, 1.0));"
	color := "    let color = vec4<f32>(1.0);"
	uniform := !instanced && record.Kind() == shader.FieldKindUniform
	if hasField(record, "model", shader.ValueTypeMat4) {
		switch {
		case instanced:
			model = "    let model = mat4x4<f32>(inst.model_0, inst.model_1, inst.model_2, inst.model_3);"
		case uniform:
			model = "    let model = object.model;"
		}
	}
	if hasField(record, "color", shader.ValueTypeVec4) {
		switch {
		case instanced:
			color = "    let color = inst.color;"
		case uniform:
			color = "    let color = object.color;"
		}
	}
	return model + "\n" + color
}

func vertexLocals(vertex *shader.InterfaceSpec) string {
	normal := "    let normal = vec3<f32>(0.0, 1.0, 0.0);"
	if hasField(vertex, "normal", shader.ValueTypeVec3) {
		normal = "    let normal = vert.normal;"
	}
	color := "    let vertex_color = vec4<f32>(1.0);"
	if hasField(vertex, "vertex_color", shader.ValueTypeVec4) {
		color = "    let vertex_color = vert.vertex_color;"
	}
	return normal + "\n" + color
}

func hasField(spec *shader.InterfaceSpec, name string, t shader.ValueType) bool {
	f, ok := spec.Field(name)
	return ok && f.Type == t && f.Kind != shader.FieldKindSampler
}
