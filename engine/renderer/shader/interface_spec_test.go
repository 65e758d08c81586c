package shader

import (
	"reflect"
	"testing"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testVertex struct {
	Position common.Vec3 `shader:",vertex"`
	Normal   common.Vec3 `shader:",vertex"`
	UV       common.Vec2 `shader:",vertex"`
}

type testInstance struct {
	Model common.Mat4 `shader:"model,instance"`
	Color common.Vec4 `shader:"color,instance"`
}

type testUniforms struct {
	ViewProj common.Mat4
	LightDir common.Vec3
	Time     float32
	Count    int32
	Enabled  bool
	Tint     common.Vec2
}

type testMaterial struct {
	Albedo common.TextureHandle
}

type Transform struct {
	Model common.Mat4
}

type testEmbedded struct {
	Transform
	Color    common.Vec4
	internal float32
	Skipped  float32 `shader:"-"`
}

func TestDeriveSpecVertexLayout(t *testing.T) {
	spec, err := DeriveSpec[testVertex]()
	require.NoError(t, err)

	assert.Equal(t, FieldKindVertex, spec.Kind())
	assert.Equal(t, uint64(32), spec.Stride())
	assert.Equal(t, uint32(3), spec.Locations())

	fields := spec.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, "position", fields[0].Name)
	assert.Equal(t, uint64(0), fields[0].Offset)
	assert.Equal(t, "normal", fields[1].Name)
	assert.Equal(t, uint64(12), fields[1].Offset)
	assert.Equal(t, "uv", fields[2].Name)
	assert.Equal(t, uint64(24), fields[2].Offset)
	assert.Equal(t, ValueTypeVec2, fields[2].Type)
}

func TestDeriveSpecInstanceLayout(t *testing.T) {
	spec, err := DeriveSpec[testInstance]()
	require.NoError(t, err)

	assert.Equal(t, FieldKindInstance, spec.Kind())
	assert.Equal(t, uint64(80), spec.Stride())
	assert.Equal(t, uint32(5), spec.Locations())

	color, ok := spec.Field("color")
	require.True(t, ok)
	assert.Equal(t, uint64(64), color.Offset)
}

func TestDeriveSpecUniformAlignment(t *testing.T) {
	spec, err := DeriveSpec[testUniforms]()
	require.NoError(t, err)

	assert.Equal(t, FieldKindUniform, spec.Kind())
	assert.Equal(t, uint64(96), spec.Stride())

	want := map[string]uint64{
		"view_proj": 0,
		"light_dir": 64,
		"time":      76,
		"count":     80,
		"enabled":   84,
		"tint":      88,
	}
	for name, offset := range want {
		f, ok := spec.Field(name)
		require.True(t, ok, name)
		assert.Equal(t, offset, f.Offset, name)
	}
}

func TestDeriveSpecEmbeddedAndSkipped(t *testing.T) {
	spec, err := DeriveSpec[testEmbedded](WithDefaultKind(FieldKindInstance))
	require.NoError(t, err)

	fields := spec.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "model", fields[0].Name)
	assert.Equal(t, "Transform.Model", fields[0].GoName)
	assert.Equal(t, "color", fields[1].Name)
	assert.Equal(t, FieldKindInstance, spec.Kind())
}

func TestDeriveSpecSamplers(t *testing.T) {
	spec, err := DeriveSpec[testMaterial]()
	require.NoError(t, err)

	assert.Equal(t, FieldKindSampler, spec.Kind())
	assert.Equal(t, 1, spec.SamplerCount())
	assert.Equal(t, uint64(0), spec.Stride())
	assert.Empty(t, spec.WGSLStruct("Material", 0))
}

func TestDeriveSpecErrors(t *testing.T) {
	limits := gputypes.DefaultLimits()
	limits.MaxVertexAttributes = 4

	tests := []struct {
		name string
		typ  reflect.Type
		opts []SpecBuilderOption
		want error
	}{
		{
			name: "variable length text field",
			typ: reflect.TypeFor[struct {
				Position common.Vec3
				Label    string
			}](),
			want: common.ErrUnsupportedFieldType,
		},
		{
			name: "slice field",
			typ:  reflect.TypeFor[struct{ Weights []float32 }](),
			want: common.ErrUnsupportedFieldType,
		},
		{
			name: "float64 field",
			typ:  reflect.TypeFor[struct{ Scale float64 }](),
			want: common.ErrUnsupportedFieldType,
		},
		{
			name: "sampler kind on a float",
			typ: reflect.TypeFor[struct {
				X float32 `shader:",sampler"`
			}](),
			want: common.ErrUnsupportedFieldType,
		},
		{
			name: "texture as uniform",
			typ: reflect.TypeFor[struct {
				T common.TextureHandle `shader:",uniform"`
			}](),
			want: common.ErrUnsupportedFieldType,
		},
		{
			name: "unknown kind",
			typ: reflect.TypeFor[struct {
				X float32 `shader:",varying"`
			}](),
			want: common.ErrUnsupportedFieldType,
		},
		{
			name: "no fields",
			typ:  reflect.TypeFor[struct{}](),
			want: common.ErrUnsupportedFieldType,
		},
		{
			name: "not a struct",
			typ:  reflect.TypeFor[float32](),
			want: common.ErrUnsupportedFieldType,
		},
		{
			name: "duplicate tag names",
			typ: reflect.TypeFor[struct {
				A float32 `shader:"x"`
				B float32 `shader:"x"`
			}](),
			want: common.ErrDuplicateFieldName,
		},
		{
			name: "duplicate through embedding",
			typ: reflect.TypeFor[struct {
				Transform
				M common.Mat4 `shader:"model"`
			}](),
			want: common.ErrDuplicateFieldName,
		},
		{
			name: "vertex and uniform data",
			typ: reflect.TypeFor[struct {
				P common.Vec3 `shader:",vertex"`
				T float32
			}](),
			want: common.ErrMixedFieldKinds,
		},
		{
			name: "sampler with instance data",
			typ: reflect.TypeFor[struct {
				M   common.Mat4 `shader:",instance"`
				Tex common.TextureHandle
			}](),
			want: common.ErrMixedFieldKinds,
		},
		{
			name: "too many locations",
			typ:  reflect.TypeFor[testInstance](),
			opts: []SpecBuilderOption{WithLimits(limits)},
			want: common.ErrLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := DeriveSpecOf(tt.typ, tt.opts...)
			assert.Nil(t, spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, common.KindBinding, common.KindOf(err))
		})
	}
}

func TestCheckLimits(t *testing.T) {
	instance, err := DeriveSpec[testInstance]()
	require.NoError(t, err)
	uniforms, err := DeriveSpec[testUniforms]()
	require.NoError(t, err)
	material, err := DeriveSpec[testMaterial]()
	require.NoError(t, err)

	tests := []struct {
		name   string
		spec   *InterfaceSpec
		adjust func(l *gputypes.Limits)
	}{
		{"attribute locations", instance, func(l *gputypes.Limits) { l.MaxVertexAttributes = 4 }},
		{"instance stride", instance, func(l *gputypes.Limits) { l.MaxVertexBufferArrayStride = 64 }},
		{"uniform size", uniforms, func(l *gputypes.Limits) { l.MaxUniformBufferBindingSize = 16 }},
		{"samplers", material, func(l *gputypes.Limits) { l.MaxSampledTexturesPerShaderStage = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := gputypes.DefaultLimits()
			require.NoError(t, tt.spec.CheckLimits(limits))

			tt.adjust(&limits)
			err := tt.spec.CheckLimits(limits)
			assert.ErrorIs(t, err, common.ErrLimitExceeded)
			assert.Equal(t, common.KindBinding, common.KindOf(err))
		})
	}
}

func TestDeriveSpecAcceptsPointerType(t *testing.T) {
	spec, err := DeriveSpecOf(reflect.TypeFor[*testVertex]())
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[testVertex](), spec.GoType())
	assert.True(t, spec.Matches(testVertex{}))
	assert.True(t, spec.Matches(&testVertex{}))
	assert.False(t, spec.Matches(testInstance{}))
}

func TestWithTagKey(t *testing.T) {
	type tagged struct {
		Pos common.Vec3 `gpu:"position,vertex"`
	}
	spec, err := DeriveSpec[tagged](WithTagKey("gpu"))
	require.NoError(t, err)
	_, ok := spec.Field("position")
	assert.True(t, ok)
}

func TestWGSLStruct(t *testing.T) {
	spec, err := DeriveSpec[testInstance]()
	require.NoError(t, err)

	want := "struct InstanceInput {\n" +
		"    @location(4) model_0: vec4<f32>,\n" +
		"    @location(5) model_1: vec4<f32>,\n" +
		"    @location(6) model_2: vec4<f32>,\n" +
		"    @location(7) model_3: vec4<f32>,\n" +
		"    @location(8) color: vec4<f32>,\n" +
		"}\n"
	assert.Equal(t, want, spec.WGSLStruct("InstanceInput", 4))
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Position":    "position",
		"ModelMatrix": "model_matrix",
		"UV":          "uv",
		"UVScale":     "uv_scale",
		"LightVP":     "light_vp",
		"Color2":      "color2",
	}
	for in, want := range tests {
		assert.Equal(t, want, snakeCase(in), in)
	}
}
