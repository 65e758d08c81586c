package shader

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testShader(t *testing.T) Shader {
	t.Helper()
	sh, err := NewShader("test", testSource, nil)
	require.NoError(t, err)
	return sh
}

func TestBindVertexSpec(t *testing.T) {
	spec, err := DeriveSpec[testVertex]()
	require.NoError(t, err)

	bl, err := Bind(spec, testShader(t))
	require.NoError(t, err)

	layout := bl.VertexBufferLayout()
	assert.Equal(t, uint64(32), layout.ArrayStride)
	assert.Equal(t, gputypes.VertexStepModeVertex, layout.StepMode)
	assert.Equal(t, []gputypes.VertexAttribute{
		{Format: gputypes.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
		{Format: gputypes.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
		{Format: gputypes.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 2},
	}, layout.Attributes)
}

func TestBindInstanceSpecSplitsMatrixColumns(t *testing.T) {
	spec, err := DeriveSpec[testInstance]()
	require.NoError(t, err)

	bl, err := Bind(spec, testShader(t))
	require.NoError(t, err)
	require.Len(t, bl.Attributes(), 5)

	for col := 0; col < 4; col++ {
		a := bl.Attributes()[col]
		assert.Equal(t, uint32(5+col), a.Location)
		assert.Equal(t, uint64(col*16), a.Offset)
		assert.Equal(t, gputypes.VertexFormatFloat32x4, a.Format)
	}

	color, ok := bl.Attribute("color")
	require.True(t, ok)
	assert.Equal(t, uint32(9), color.Location)
	assert.Equal(t, uint64(64), color.Offset)

	layout := bl.VertexBufferLayout()
	assert.Equal(t, gputypes.VertexStepModeInstance, layout.StepMode)
	assert.Equal(t, uint64(80), layout.ArrayStride)
}

func TestBindSubsetOfShaderInputs(t *testing.T) {
	type positionOnly struct {
		Position common.Vec3 `shader:",vertex"`
	}
	spec, err := DeriveSpec[positionOnly]()
	require.NoError(t, err)

	bl, err := Bind(spec, testShader(t))
	require.NoError(t, err, "extra shader inputs must not fail the bind")
	assert.Len(t, bl.Attributes(), 1)
	assert.Equal(t, "test", bl.ShaderKey())
	assert.Same(t, spec, bl.Spec())
}

func TestBindUniformSpec(t *testing.T) {
	spec, err := DeriveSpec[testUniforms]()
	require.NoError(t, err)

	bl, err := Bind(spec, testShader(t))
	require.NoError(t, err)

	blocks := bl.Uniforms()
	require.Len(t, blocks, 1)
	assert.Equal(t, "frame", blocks[0].Name)
	assert.Equal(t, uint64(112), blocks[0].Size)
	assert.Len(t, blocks[0].Members, 6)

	encoded, err := Encode(spec, sampleUniforms())
	require.NoError(t, err)

	packed, err := bl.PackUniforms(encoded)
	require.NoError(t, err)
	require.Len(t, packed, 1)

	data := packed[0].Data
	require.Len(t, data, 112)
	assert.Equal(t, encoded[:96], data[:96])
	assert.Equal(t, make([]byte, 16), data[96:], "members the spec does not cover stay zero")
	assert.Equal(t, float32(12.5), math.Float32frombits(binary.LittleEndian.Uint32(data[76:])))

	_, err = bl.PackUniforms(encoded[:10])
	assert.Error(t, err)
}

func TestBindUniformVariable(t *testing.T) {
	src := `
@group(0) @binding(0) var<uniform> time: f32;
@group(0) @binding(1) var<uniform> color: vec4f;

@fragment
fn fs_main() -> @location(0) vec4f {
    return color * time;
}
`
	sh, err := NewShader("vars", src, nil)
	require.NoError(t, err)

	type params struct {
		Time  float32
		Color common.Vec4
	}
	spec, err := DeriveSpec[params]()
	require.NoError(t, err)

	bl, err := Bind(spec, sh)
	require.NoError(t, err)
	require.Len(t, bl.Uniforms(), 2)

	encoded, err := Encode(spec, params{Time: 2, Color: common.White})
	require.NoError(t, err)
	packed, err := bl.PackUniforms(encoded)
	require.NoError(t, err)
	assert.Len(t, packed[0].Data, 4)
	assert.Len(t, packed[1].Data, 16)
	assert.Equal(t, encoded[16:32], packed[1].Data)
}

func TestBindSamplerSpec(t *testing.T) {
	spec, err := DeriveSpec[testMaterial]()
	require.NoError(t, err)

	bl, err := Bind(spec, testShader(t))
	require.NoError(t, err)

	require.Len(t, bl.Textures(), 1)
	slot := bl.Textures()[0]
	assert.Equal(t, uint32(1), slot.Group)
	assert.Equal(t, uint32(0), slot.Binding)
	assert.True(t, slot.HasSampler)
	assert.Equal(t, uint32(1), slot.SamplerBinding)
}

func TestBindErrors(t *testing.T) {
	sh := testShader(t)

	type missingAttr struct {
		Tangent common.Vec4 `shader:",vertex"`
	}
	type missingUniform struct {
		Fog float32
	}
	type wrongAttrType struct {
		Position common.Vec4 `shader:",vertex"`
	}
	type wrongUniformType struct {
		Time common.Vec2
	}
	type missingTexture struct {
		Normal common.TextureHandle
	}
	type uniformIsNotTexture struct {
		Frame common.TextureHandle
	}

	tests := []struct {
		name   string
		derive func(...SpecBuilderOption) (*InterfaceSpec, error)
		want   error
	}{
		{"missing attribute", DeriveSpec[missingAttr], common.ErrMissingShaderInput},
		{"missing uniform", DeriveSpec[missingUniform], common.ErrMissingShaderInput},
		{"missing texture", DeriveSpec[missingTexture], common.ErrMissingShaderInput},
		{"attribute type", DeriveSpec[wrongAttrType], common.ErrFieldTypeMismatch},
		{"uniform type", DeriveSpec[wrongUniformType], common.ErrFieldTypeMismatch},
		{"texture type", DeriveSpec[uniformIsNotTexture], common.ErrFieldTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := tt.derive()
			require.NoError(t, err)

			bl, err := Bind(spec, sh)
			assert.Nil(t, bl)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, common.KindBinding, common.KindOf(err))
		})
	}
}

func TestBindMatrixNeedsAllColumns(t *testing.T) {
	src := `
struct InstanceInput {
    @location(4) model_0: vec4f,
    @location(5) model_1: vec4f,
};

@vertex
fn vs_main(inst: InstanceInput) -> @builtin(position) vec4f {
    return inst.model_0 + inst.model_1;
}
`
	sh, err := NewShader("partial", src, nil)
	require.NoError(t, err)

	spec, err := DeriveSpec[testInstance]()
	require.NoError(t, err)

	_, err = Bind(spec, sh)
	assert.ErrorIs(t, err, common.ErrMissingShaderInput)
}
