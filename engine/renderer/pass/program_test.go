package pass

import (
	"testing"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/render_list"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flatVertex struct {
	UV common.Vec2
}

type tintedInstance struct {
	Model  common.Mat4
	Normal common.Vec3
}

type timedObject struct {
	Model common.Mat4
	Time  float32
}

type texturedObject struct {
	Model  common.Mat4
	Color  common.Vec4
	Albedo common.TextureHandle
}

func instanceSpec(t *testing.T) *shader.InterfaceSpec {
	t.Helper()
	spec, err := shader.DeriveSpec[render_list.InstanceParams](shader.WithDefaultKind(shader.FieldKindInstance))
	require.NoError(t, err)
	return spec
}

func uniformSpec[T any](t *testing.T) *shader.InterfaceSpec {
	t.Helper()
	spec, err := shader.DeriveSpec[T](shader.WithDefaultKind(shader.FieldKindUniform))
	require.NoError(t, err)
	return spec
}

const (
	colorFormat = gputypes.TextureFormatRGBA8Unorm
	depthFormat = gputypes.TextureFormatDepth32Float
)

func TestProgramCacheReusesVariants(t *testing.T) {
	f := newFixture(t)
	a := quad(t, f.backend, 0.5, 0.5)
	b := quad(t, f.backend, 0.25, 0.5)
	spec := instanceSpec(t)

	p1, err := f.programs.MeshProgram(renderer.ProgramLit, a, spec, true, colorFormat, depthFormat)
	require.NoError(t, err)
	p2, err := f.programs.MeshProgram(renderer.ProgramLit, b, spec, true, colorFormat, depthFormat)
	require.NoError(t, err)
	assert.Same(t, p1, p2, "meshes with the same vertex type share a program")
	assert.Equal(t, 1, f.programs.Len())

	_, err = f.programs.MeshProgram(renderer.ProgramShadowDepth, a, spec, true, gputypes.TextureFormatUndefined, depthFormat)
	require.NoError(t, err)
	_, err = f.programs.MeshProgram(renderer.ProgramLit, a, uniformSpec[render_list.InstanceParams](t), false, colorFormat, depthFormat)
	require.NoError(t, err)
	_, err = f.programs.FullscreenProgram(renderer.ProgramBlur, colorFormat)
	require.NoError(t, err)
	_, err = f.programs.FullscreenProgram(renderer.ProgramBlur, colorFormat)
	require.NoError(t, err)
	assert.Equal(t, 4, f.programs.Len())
}

func TestInstancedProgramSource(t *testing.T) {
	f := newFixture(t)
	m := quad(t, f.backend, 0.5, 0.5)
	p, err := f.programs.MeshProgram(renderer.ProgramLit, m, instanceSpec(t), true, colorFormat, depthFormat)
	require.NoError(t, err)

	src := p.Shader.Source()
	assert.Contains(t, src, "inst: Instance")
	assert.Contains(t, src, "inst.model_0")
	assert.Contains(t, src, "let color = inst.color;")
	assert.NotContains(t, src, "//@conduit:")

	require.Len(t, p.VertexLayouts, 2)
	assert.Equal(t, gputypes.VertexStepModeVertex, p.VertexLayouts[0].StepMode)
	assert.Equal(t, gputypes.VertexStepModeInstance, p.VertexLayouts[1].StepMode)
	assert.Equal(t, instanceSpec(t).Stride(), p.VertexLayouts[1].ArrayStride)

	_, ok := p.texture("shadow_map", 1)
	assert.True(t, ok)
	_, ok = p.texture("missing", 1)
	assert.False(t, ok)
}

func TestUniformsProgramSource(t *testing.T) {
	f := newFixture(t)
	m := quad(t, f.backend, 0.5, 0.5)
	spec := uniformSpec[texturedObject](t)
	p, err := f.programs.MeshProgram(renderer.ProgramUnlit, m, spec, false, colorFormat, depthFormat)
	require.NoError(t, err)

	src := p.Shader.Source()
	assert.Contains(t, src, "var<uniform> object: Object;")
	assert.Contains(t, src, "var albedo: texture_2d<f32>;")
	assert.Contains(t, src, "var albedo_sampler: sampler;")
	assert.Len(t, p.VertexLayouts, 1)

	encoded, err := shader.EncodeRecord(spec, texturedObject{Model: common.Identity4(), Albedo: 42})
	require.NoError(t, err)
	textures := p.recordTextures(encoded.Textures)
	require.Len(t, textures, 1)
	assert.Equal(t, renderer.TextureBinding{Group: recordGroup, Binding: 1, Texture: 42, SamplerBinding: 2, HasSampler: true}, textures[0])
}

func TestMeshProgramErrors(t *testing.T) {
	f := newFixture(t)
	m := quad(t, f.backend, 0.5, 0.5)
	flat, err := renderer.UploadMesh(f.backend, "flat", []flatVertex{{}, {}, {}}, nil, gputypes.PrimitiveTopologyTriangleList)
	require.NoError(t, err)

	tintedSpec, err := shader.DeriveSpec[tintedInstance](shader.WithDefaultKind(shader.FieldKindInstance))
	require.NoError(t, err)

	tests := []struct {
		name      string
		mesh      *renderer.Mesh
		record    *shader.InterfaceSpec
		instanced bool
		want      error
	}{
		{"vertex without position", flat, instanceSpec(t), true, common.ErrMissingShaderInput},
		{"mesh without spec", &renderer.Mesh{Label: "bare"}, instanceSpec(t), true, common.ErrMissingShaderInput},
		{"instance field shadows vertex input", m, tintedSpec, true, common.ErrDuplicateFieldName},
		{"uniform field shadows frame uniform", m, uniformSpec[timedObject](t), false, common.ErrDuplicateFieldName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.programs.MeshProgram(renderer.ProgramLit, tt.mesh, tt.record, tt.instanced, colorFormat, depthFormat)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, common.KindBinding, common.KindOf(err))
		})
	}
	assert.Zero(t, f.programs.Len())

	_, err = f.programs.MeshProgram(renderer.ProgramBlur, m, instanceSpec(t), true, colorFormat, depthFormat)
	assert.Error(t, err)
}

func TestMeshProgramChecksBackendLimits(t *testing.T) {
	tests := []struct {
		name       string
		attributes uint32
	}{
		{"instance record alone", 4},
		{"vertex and instance locations together", 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := gputypes.DefaultLimits()
			limits.MaxVertexAttributes = tt.attributes
			b := renderer.NewSoftwareBackend(renderer.WithSoftwareSurfaceSize(size, size), renderer.WithSoftwareLimits(limits))
			t.Cleanup(b.Close)
			programs, err := NewProgramCache(b)
			require.NoError(t, err)
			m := quad(t, b, 0.5, 0.5)

			_, err = programs.MeshProgram(renderer.ProgramLit, m, instanceSpec(t), true, colorFormat, depthFormat)
			assert.ErrorIs(t, err, common.ErrLimitExceeded)
			assert.Equal(t, common.KindBinding, common.KindOf(err))
			assert.Zero(t, programs.Len())

			_, err = programs.MeshProgram(renderer.ProgramLit, m, uniformSpec[render_list.InstanceParams](t), false, colorFormat, depthFormat)
			require.NoError(t, err, "uniform records use no vertex attributes")
		})
	}
}

func TestFullscreenPrograms(t *testing.T) {
	f := newFixture(t)
	for _, kind := range []renderer.ProgramKind{renderer.ProgramGlowExtract, renderer.ProgramBlur, renderer.ProgramComposite} {
		p, err := f.programs.FullscreenProgram(kind, colorFormat)
		require.NoError(t, err, kind)
		assert.Empty(t, p.VertexLayouts)
		assert.NotNil(t, p.params)
	}

	p, err := f.programs.FullscreenProgram(renderer.ProgramComposite, colorFormat)
	require.NoError(t, err)
	scene, ok := p.texture("scene", 1)
	require.True(t, ok)
	glow, ok := p.texture("glow", 2)
	require.True(t, ok)
	assert.Equal(t, uint32(1), scene.Binding)
	assert.Equal(t, uint32(3), glow.Binding)

	_, err = f.programs.FullscreenProgram(renderer.ProgramLit, colorFormat)
	assert.Error(t, err)
}

func TestFrameSpecLayout(t *testing.T) {
	f := newFixture(t)
	spec := f.programs.FrameSpec()
	assert.Equal(t, shader.FieldKindUniform, spec.Kind())
	for _, name := range []string{"view_proj", "light_view_proj", "shadow_bias", "shadow_radius", "shadows_enabled", "ambient"} {
		_, ok := spec.Field(name)
		assert.True(t, ok, name)
	}
	encoded, err := shader.Encode(spec, ptr(DefaultFrameUniforms()))
	require.NoError(t, err)
	assert.Len(t, encoded, int(spec.Stride()))
}

func ptr[T any](v T) *T {
	return &v
}
