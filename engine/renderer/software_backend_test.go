package renderer

import (
	"testing"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unlitSource = `
struct Frame {
    view_proj: mat4x4<f32>,
}

struct Object {
    model: mat4x4<f32>,
    color: vec4<f32>,
}

@group(0) @binding(0) var<uniform> frame: Frame;
@group(1) @binding(0) var<uniform> object: Object;

struct VertexInput {
    @location(0) position: vec3<f32>,
    @location(1) normal: vec3<f32>,
    @location(2) uv: vec2<f32>,
}

@vertex
fn vs_main(in: VertexInput) -> @builtin(position) vec4<f32> {
    return frame.view_proj * object.model * vec4<f32>(in.position, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return object.color;
}
`

type testFrame struct {
	ViewProj common.Mat4
}

type testObject struct {
	Model common.Mat4
	Color common.Vec4
}

// unlitFixture is a software backend with a compiled unlit program and a 16x16 target.
type unlitFixture struct {
	backend SoftwareBackend
	program common.ShaderHandle
	frame   *shader.BoundLayout
	object  *shader.BoundLayout
	target  Target
	quad    *Mesh
}

func newUnlitFixture(t *testing.T) *unlitFixture {
	t.Helper()
	b := NewSoftwareBackend(WithSoftwareSurfaceSize(16, 16))
	t.Cleanup(b.Close)

	sh, err := shader.NewShader("unlit", unlitSource, nil)
	require.NoError(t, err)

	vertexSpec, err := shader.DeriveSpec[MeshVertex](shader.WithDefaultKind(shader.FieldKindVertex))
	require.NoError(t, err)
	vertexLayout, err := shader.Bind(vertexSpec, sh)
	require.NoError(t, err)

	frameSpec, err := shader.DeriveSpec[testFrame]()
	require.NoError(t, err)
	frame, err := shader.Bind(frameSpec, sh)
	require.NoError(t, err)

	objectSpec, err := shader.DeriveSpec[testObject]()
	require.NoError(t, err)
	object, err := shader.Bind(objectSpec, sh)
	require.NoError(t, err)

	program, err := b.CompileShader(ProgramDescriptor{
		Label:         "unlit",
		Kind:          ProgramUnlit,
		Shader:        sh,
		VertexLayouts: []gputypes.VertexBufferLayout{vertexLayout.VertexBufferLayout()},
		Topology:      gputypes.PrimitiveTopologyTriangleList,
		ColorFormat:   gputypes.TextureFormatRGBA8Unorm,
		DepthFormat:   gputypes.TextureFormatDepth32Float,
	})
	require.NoError(t, err)

	color, err := b.CreateTexture(TextureDescriptor{Label: "color", Width: 16, Height: 16, Format: gputypes.TextureFormatRGBA8Unorm})
	require.NoError(t, err)
	depth, err := b.CreateTexture(TextureDescriptor{Label: "depth", Width: 16, Height: 16, Format: gputypes.TextureFormatDepth32Float})
	require.NoError(t, err)

	return &unlitFixture{
		backend: b,
		program: program,
		frame:   frame,
		object:  object,
		target:  Target{Color: color, Depth: depth},
		quad:    clipQuad(t, b, 0.5),
	}
}

// clipQuad uploads a counter-clockwise quad covering the whole viewport at depth z.
func clipQuad(t *testing.T, b Backend, z float32) *Mesh {
	t.Helper()
	vertices := []MeshVertex{
		{Position: common.Vec3{-1, -1, z}},
		{Position: common.Vec3{1, -1, z}},
		{Position: common.Vec3{1, 1, z}},
		{Position: common.Vec3{-1, 1, z}},
	}
	m, err := UploadMesh(b, "quad", vertices, []uint32{0, 1, 2, 0, 2, 3}, gputypes.PrimitiveTopologyTriangleList)
	require.NoError(t, err)
	return m
}

func (f *unlitFixture) draw(t *testing.T, mesh *Mesh, color common.Vec4, params DrawParameters) error {
	t.Helper()
	frameBytes, err := shader.Encode(f.frame.Spec(), testFrame{ViewProj: common.Identity4()})
	require.NoError(t, err)
	frameData, err := f.frame.PackUniforms(frameBytes)
	require.NoError(t, err)

	objectBytes, err := shader.Encode(f.object.Spec(), testObject{Model: common.Identity4(), Color: color})
	require.NoError(t, err)
	objectData, err := f.object.PackUniforms(objectBytes)
	require.NoError(t, err)

	return f.backend.Draw(DrawCommand{
		Label:         "quad",
		Program:       f.program,
		Target:        f.target,
		Params:        params,
		VertexBuffers: []common.BufferHandle{mesh.VertexBuffer},
		IndexBuffer:   mesh.IndexBuffer,
		IndexCount:    mesh.IndexCount,
		Uniforms:      append(frameData, objectData...),
	})
}

func (f *unlitFixture) centre(t *testing.T) [4]uint8 {
	t.Helper()
	img, err := f.backend.Snapshot(f.target.Color)
	require.NoError(t, err)
	i := img.PixOffset(8, 8)
	return [4]uint8(img.Pix[i : i+4])
}

func TestSoftwareDrawFillsTarget(t *testing.T) {
	f := newUnlitFixture(t)
	require.NoError(t, f.backend.Clear(f.target, gputypes.Color{A: 1}, 1))

	require.NoError(t, f.draw(t, f.quad, common.Vec4{1, 0, 0, 1}, DefaultDrawParameters()))

	assert.Equal(t, [4]uint8{255, 0, 0, 255}, f.centre(t))
	depth, err := f.backend.DepthSnapshot(f.target.Depth)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, depth[8*16+8], 1e-5)

	log := f.backend.DrawLog()
	require.Len(t, log, 1)
	assert.Equal(t, f.program, log[0].Program)
	assert.Equal(t, uint32(6), log[0].IndexCount)
}

func TestSoftwareDrawAppliesParametersAsGiven(t *testing.T) {
	red := common.Vec4{1, 0, 0, 1}
	green := common.Vec4{0, 1, 0, 1}

	t.Run("front face culling hides a counter-clockwise quad", func(t *testing.T) {
		f := newUnlitFixture(t)
		require.NoError(t, f.backend.Clear(f.target, gputypes.Color{A: 1}, 1))
		params := DefaultDrawParameters()
		params.CullMode = gputypes.CullModeFront
		require.NoError(t, f.draw(t, f.quad, red, params))
		assert.Equal(t, [4]uint8{0, 0, 0, 255}, f.centre(t))
		require.Len(t, f.backend.DrawLog(), 1)
		assert.Equal(t, params, f.backend.DrawLog()[0].Params)
	})

	t.Run("clockwise front face flips culling", func(t *testing.T) {
		f := newUnlitFixture(t)
		require.NoError(t, f.backend.Clear(f.target, gputypes.Color{A: 1}, 1))
		params := DefaultDrawParameters()
		params.FrontFace = gputypes.FrontFaceCW
		require.NoError(t, f.draw(t, f.quad, red, params))
		assert.Equal(t, [4]uint8{0, 0, 0, 255}, f.centre(t))
	})

	t.Run("depth test keeps the nearer surface", func(t *testing.T) {
		f := newUnlitFixture(t)
		require.NoError(t, f.backend.Clear(f.target, gputypes.Color{A: 1}, 1))
		require.NoError(t, f.draw(t, f.quad, red, DefaultDrawParameters()))
		far := clipQuad(t, f.backend, 0.75)
		require.NoError(t, f.draw(t, far, green, DefaultDrawParameters()))
		assert.Equal(t, [4]uint8{255, 0, 0, 255}, f.centre(t))
	})

	t.Run("disabled depth test overdraws", func(t *testing.T) {
		f := newUnlitFixture(t)
		require.NoError(t, f.backend.Clear(f.target, gputypes.Color{A: 1}, 1))
		require.NoError(t, f.draw(t, f.quad, red, DefaultDrawParameters()))
		far := clipQuad(t, f.backend, 0.75)
		params := DefaultDrawParameters()
		params.DepthTest = false
		params.DepthWrite = false
		require.NoError(t, f.draw(t, far, green, params))
		assert.Equal(t, [4]uint8{0, 255, 0, 255}, f.centre(t))

		depth, err := f.backend.DepthSnapshot(f.target.Depth)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, depth[8*16+8], 1e-5, "depth write was disabled")
	})

	t.Run("additive blend", func(t *testing.T) {
		f := newUnlitFixture(t)
		require.NoError(t, f.backend.Clear(f.target, gputypes.Color{R: 0.25, A: 1}, 1))
		params := DefaultDrawParameters()
		params.Blend = &gputypes.BlendState{
			Color: gputypes.BlendComponent{SrcFactor: gputypes.BlendFactorOne, DstFactor: gputypes.BlendFactorOne, Operation: gputypes.BlendOperationAdd},
			Alpha: gputypes.BlendComponent{SrcFactor: gputypes.BlendFactorOne, DstFactor: gputypes.BlendFactorZero, Operation: gputypes.BlendOperationAdd},
		}
		require.NoError(t, f.draw(t, f.quad, common.Vec4{0.5, 0, 0, 1}, params))
		px := f.centre(t)
		assert.InDelta(t, 192, int(px[0]), 1)
		assert.Equal(t, uint8(255), px[3])
	})
}

func TestSoftwareDrawInstances(t *testing.T) {
	const instanceSource = `
struct Frame {
    view_proj: mat4x4<f32>,
}
@group(0) @binding(0) var<uniform> frame: Frame;

struct VertexInput {
    @location(0) position: vec3<f32>,
    @location(1) normal: vec3<f32>,
    @location(2) uv: vec2<f32>,
}

struct InstanceInput {
    @location(3) model_0: vec4<f32>,
    @location(4) model_1: vec4<f32>,
    @location(5) model_2: vec4<f32>,
    @location(6) model_3: vec4<f32>,
    @location(7) color: vec4<f32>,
}

@vertex
fn vs_main(in: VertexInput, inst: InstanceInput) -> @builtin(position) vec4<f32> {
    let model = mat4x4<f32>(inst.model_0, inst.model_1, inst.model_2, inst.model_3);
    return frame.view_proj * model * vec4<f32>(in.position, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0);
}
`
	type instance struct {
		Model common.Mat4
		Color common.Vec4
	}

	b := NewSoftwareBackend(WithSoftwareSurfaceSize(16, 16))
	defer b.Close()

	sh, err := shader.NewShader("instanced", instanceSource, nil)
	require.NoError(t, err)
	vertexSpec, err := shader.DeriveSpec[MeshVertex](shader.WithDefaultKind(shader.FieldKindVertex))
	require.NoError(t, err)
	vertexLayout, err := shader.Bind(vertexSpec, sh)
	require.NoError(t, err)
	instanceSpec, err := shader.DeriveSpec[instance](shader.WithDefaultKind(shader.FieldKindInstance))
	require.NoError(t, err)
	instanceLayout, err := shader.Bind(instanceSpec, sh)
	require.NoError(t, err)

	program, err := b.CompileShader(ProgramDescriptor{
		Label:  "instanced",
		Kind:   ProgramUnlit,
		Shader: sh,
		VertexLayouts: []gputypes.VertexBufferLayout{
			vertexLayout.VertexBufferLayout(),
			instanceLayout.VertexBufferLayout(),
		},
		ColorFormat: gputypes.TextureFormatRGBA8Unorm,
	})
	require.NoError(t, err)
	color, err := b.CreateTexture(TextureDescriptor{Label: "color", Width: 16, Height: 16, Format: gputypes.TextureFormatRGBA8Unorm})
	require.NoError(t, err)
	require.NoError(t, b.Clear(Target{Color: color}, gputypes.Color{A: 1}, 1))

	// a quad covering the left half of the viewport, shifted right for the second instance
	vertices := []MeshVertex{
		{Position: common.Vec3{-1, -1, 0.5}},
		{Position: common.Vec3{0, -1, 0.5}},
		{Position: common.Vec3{0, 1, 0.5}},
		{Position: common.Vec3{-1, 1, 0.5}},
	}
	mesh, err := UploadMesh(b, "half", vertices, []uint32{0, 1, 2, 0, 2, 3}, gputypes.PrimitiveTopologyTriangleList)
	require.NoError(t, err)

	var data []byte
	for _, x := range []float32{0, 1} {
		data, err = shader.AppendEncode(data, instanceSpec, instance{Model: common.Translation(x, 0, 0), Color: common.White})
		require.NoError(t, err)
	}
	instances, err := b.CreateBuffer("instances", BufferUsageVertex, data)
	require.NoError(t, err)

	frameSpec, err := shader.DeriveSpec[testFrame]()
	require.NoError(t, err)
	frameLayout, err := shader.Bind(frameSpec, sh)
	require.NoError(t, err)
	frameBytes, err := shader.Encode(frameSpec, testFrame{ViewProj: common.Identity4()})
	require.NoError(t, err)
	uniforms, err := frameLayout.PackUniforms(frameBytes)
	require.NoError(t, err)

	params := DefaultDrawParameters()
	params.DepthTest = false
	require.NoError(t, b.Draw(DrawCommand{
		Label:         "instanced",
		Program:       program,
		Target:        Target{Color: color},
		Params:        params,
		VertexBuffers: []common.BufferHandle{mesh.VertexBuffer, instances},
		IndexBuffer:   mesh.IndexBuffer,
		IndexCount:    mesh.IndexCount,
		InstanceCount: 2,
		Uniforms:      uniforms,
	}))

	img, err := b.Snapshot(color)
	require.NoError(t, err)
	for _, x := range []int{2, 13} {
		i := img.PixOffset(x, 8)
		assert.Equal(t, uint8(255), img.Pix[i], "pixel %d is covered by an instance", x)
	}
}

func TestSoftwareDrawErrors(t *testing.T) {
	f := newUnlitFixture(t)

	err := f.backend.Draw(DrawCommand{Label: "x", Program: 999, Target: f.target})
	assert.ErrorContains(t, err, "unknown program")

	err = f.backend.Draw(DrawCommand{Label: "x", Program: f.program, Target: f.target})
	assert.ErrorContains(t, err, "vertex buffers")

	err = f.backend.Draw(DrawCommand{Label: "x", Program: f.program})
	assert.ErrorContains(t, err, "no attachment")

	err = f.backend.Draw(DrawCommand{
		Label:         "x",
		Program:       f.program,
		Target:        Target{Color: f.target.Depth},
		VertexBuffers: []common.BufferHandle{f.quad.VertexBuffer},
	})
	assert.ErrorContains(t, err, "not a color texture")

	small, err := f.backend.CreateTexture(TextureDescriptor{Label: "small", Width: 4, Height: 4, Format: gputypes.TextureFormatDepth32Float})
	require.NoError(t, err)
	err = f.backend.Draw(DrawCommand{
		Label:         "x",
		Program:       f.program,
		Target:        Target{Color: f.target.Color, Depth: small},
		VertexBuffers: []common.BufferHandle{f.quad.VertexBuffer},
	})
	assert.ErrorContains(t, err, "differ in size")

	assert.Empty(t, f.backend.DrawLog(), "failed draws are not logged")
}

func TestSoftwareCompileShaderErrors(t *testing.T) {
	b := NewSoftwareBackend()
	defer b.Close()

	_, err := b.CompileShader(ProgramDescriptor{Label: "nil"})
	assert.ErrorContains(t, err, "no shader")

	fragmentOnly, err := shader.NewShader("frag", "@fragment\nfn fs_main() -> @location(0) vec4<f32> {\n    return vec4<f32>(1.0);\n}\n", nil)
	require.NoError(t, err)
	_, err = b.CompileShader(ProgramDescriptor{Label: "frag", Kind: ProgramGlowExtract, Shader: fragmentOnly})
	assert.ErrorContains(t, err, "no vertex entry point")

	sh, err := shader.NewShader("unlit", unlitSource, nil)
	require.NoError(t, err)
	_, err = b.CompileShader(ProgramDescriptor{Label: "unlit", Kind: ProgramUnlit, Shader: sh})
	assert.ErrorContains(t, err, "vertex buffer layout")
}

func TestSoftwareTextures(t *testing.T) {
	limits := gputypes.DefaultLimits()
	limits.MaxTextureDimension2D = 64
	b := NewSoftwareBackend(WithSoftwareLimits(limits))
	defer b.Close()

	_, err := b.CreateTexture(TextureDescriptor{Label: "big", Width: 128, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm})
	assert.ErrorContains(t, err, "exceeds")
	_, err = b.CreateTexture(TextureDescriptor{Label: "empty", Width: 0, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm})
	assert.ErrorContains(t, err, "invalid size")

	depth, err := b.CreateTexture(TextureDescriptor{Label: "depth", Width: 4, Height: 4, Format: gputypes.TextureFormatDepth24Plus})
	require.NoError(t, err)
	values, err := b.DepthSnapshot(depth)
	require.NoError(t, err)
	assert.Len(t, values, 16)
	assert.Equal(t, float32(1), values[0], "depth textures start cleared to the far plane")

	require.NoError(t, b.Clear(Target{Depth: depth}, gputypes.Color{}, 0.25))
	values, err = b.DepthSnapshot(depth)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), values[15])

	_, err = b.Snapshot(depth)
	assert.Error(t, err)

	b.ReleaseTexture(depth)
	_, err = b.DepthSnapshot(depth)
	assert.ErrorContains(t, err, "unknown texture")
}

func TestSoftwareBuffers(t *testing.T) {
	b := NewSoftwareBackend()
	defer b.Close()

	_, err := b.CreateBuffer("empty", BufferUsageVertex, nil)
	assert.Error(t, err)

	h, err := b.CreateBuffer("data", BufferUsageUniform, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, b.WriteBuffer(h, 2, []byte{9, 9}))
	data, err := b.BufferData(h)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 9, 9}, data)

	assert.ErrorContains(t, b.WriteBuffer(h, 3, []byte{1, 1}), "exceeds")

	b.ReleaseBuffer(h)
	_, err = b.BufferData(h)
	assert.Error(t, err)
	assert.Error(t, b.WriteBuffer(h, 0, []byte{1}))
}

func TestSoftwarePresent(t *testing.T) {
	b := NewSoftwareBackend(WithSoftwareSurfaceSize(8, 8))
	defer b.Close()
	assert.Nil(t, b.Frame())

	color, err := b.CreateTexture(TextureDescriptor{Label: "color", Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm})
	require.NoError(t, err)
	require.NoError(t, b.Clear(Target{Color: color}, gputypes.Color{G: 1, A: 1}, 1))
	require.NoError(t, b.Present(color))

	frame := b.Frame()
	require.NotNil(t, frame)
	assert.Equal(t, 8, frame.Bounds().Dx(), "the frame is scaled to the surface")
	i := frame.PixOffset(5, 5)
	assert.Equal(t, []uint8{0, 255, 0, 255}, frame.Pix[i:i+4])

	assert.Error(t, b.Present(999))
	assert.Error(t, b.Resize(0, 10))
	require.NoError(t, b.Resize(2, 2))
	require.NoError(t, b.Present(color))
	assert.Equal(t, 2, b.Frame().Bounds().Dx())
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(BackendTypeSoftware, nil, WithValidatedShaders())
	require.NoError(t, err)
	_, ok := b.(SoftwareBackend)
	assert.True(t, ok)
	b.Close()

	_, err = NewBackend(BackendTypeWGPU, nil)
	assert.ErrorContains(t, err, "surface provider")

	_, err = NewBackend(BackendType(42), nil)
	assert.ErrorContains(t, err, "unknown backend type")
}

func TestIsDepthFormat(t *testing.T) {
	assert.True(t, IsDepthFormat(gputypes.TextureFormatDepth32Float))
	assert.True(t, IsDepthFormat(gputypes.TextureFormatDepth24PlusStencil8))
	assert.False(t, IsDepthFormat(gputypes.TextureFormatRGBA8Unorm))
}
