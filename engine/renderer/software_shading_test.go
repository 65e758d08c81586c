package renderer

import (
	"testing"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packUniforms encodes a uniform record of type T and packs it for the blocks of sh.
func packUniforms[T any](t *testing.T, sh shader.Shader, v T) []shader.UniformData {
	t.Helper()
	spec, err := shader.DeriveSpec[T]()
	require.NoError(t, err)
	layout, err := shader.Bind(spec, sh)
	require.NoError(t, err)
	raw, err := shader.Encode(spec, v)
	require.NoError(t, err)
	data, err := layout.PackUniforms(raw)
	require.NoError(t, err)
	return data
}

func TestShadowFactor(t *testing.T) {
	uniform := func(v float32) []float32 {
		d := make([]float32, 9)
		for i := range d {
			d[i] = v
		}
		return d
	}
	centreOccluder := uniform(1)
	centreOccluder[4] = 0.2
	cornerOccluder := uniform(1)
	cornerOccluder[0] = 0

	tests := []struct {
		name   string
		depth  []float32
		uv     common.Vec2
		ref    float32
		radius int
		want   float32
	}{
		{"in front of the occluder", uniform(0.5), common.Vec2{0.5, 0.5}, 0.4, 0, 1},
		{"behind the occluder", uniform(0.5), common.Vec2{0.5, 0.5}, 0.6, 0, 0},
		{"equal depth is shadowed", uniform(0.5), common.Vec2{0.5, 0.5}, 0.5, 0, 0},
		{"filter averages the neighbourhood", centreOccluder, common.Vec2{0.5, 0.5}, 0.5, 1, 8.0 / 9.0},
		{"filter clamps at the edge", cornerOccluder, common.Vec2{0, 0}, 0.5, 1, 5.0 / 9.0},
		{"negative radius is one sample", centreOccluder, common.Vec2{0.5, 0.5}, 0.5, -3, 0},
		{"outside the map is lit", uniform(0), common.Vec2{1.5, 0.5}, 0.5, 1, 1},
		{"beyond the far plane is lit", uniform(0), common.Vec2{0.5, 0.5}, 1.5, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ShadowFactor(tt.depth, 3, 3, tt.uv, tt.ref, tt.radius), 1e-6)
		})
	}

	assert.Equal(t, float32(1), ShadowFactor(nil, 3, 3, common.Vec2{0.5, 0.5}, 0.5, 0), "short maps light everything")
}

func TestShadowFactorRadiusZeroIsSingleSample(t *testing.T) {
	const w, h = 8, 6
	depth := make([]float32, w*h)
	for i := range depth {
		depth[i] = float32((i*7)%11) / 10
	}
	for y := range h {
		for x := range w {
			uv := common.Vec2{(float32(x) + 0.5) / w, (float32(y) + 0.5) / h}
			for _, ref := range []float32{0.05, 0.35, 0.65, 0.95} {
				want := float32(0)
				if ref < depth[y*w+x] {
					want = 1
				}
				assert.Equal(t, want, ShadowFactor(depth, w, h, uv, ref, 0), "texel %d,%d ref %v", x, y, ref)
			}
		}
	}
}

const litSource = `
struct Frame {
    view_proj: mat4x4<f32>,
    light_view_proj: mat4x4<f32>,
    light_direction: vec3<f32>,
    shadow_bias: f32,
    light_color: vec3<f32>,
    shadow_radius: i32,
    ambient: vec3<f32>,
    shadows_enabled: u32,
}

struct Object {
    model: mat4x4<f32>,
    color: vec4<f32>,
}

@group(0) @binding(0) var<uniform> frame: Frame;
@group(0) @binding(1) var shadow_map: texture_depth_2d;
@group(0) @binding(2) var shadow_map_sampler: sampler_comparison;
@group(1) @binding(0) var<uniform> object: Object;

struct VertexInput {
    @location(0) position: vec3<f32>,
    @location(1) normal: vec3<f32>,
    @location(2) uv: vec2<f32>,
}

struct VertexOutput {
    @builtin(position) clip: vec4<f32>,
    @location(0) normal: vec3<f32>,
}

@vertex
fn vs_main(in: VertexInput) -> VertexOutput {
    var out: VertexOutput;
    out.clip = frame.view_proj * object.model * vec4<f32>(in.position, 1.0);
    out.normal = in.normal;
    return out;
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    let d = max(dot(normalize(in.normal), -frame.light_direction), 0.0);
    return vec4<f32>(object.color.rgb * (frame.ambient + frame.light_color * d), object.color.a);
}
`

type litFrame struct {
	ViewProj       common.Mat4
	LightViewProj  common.Mat4
	LightDirection common.Vec3
	LightColor     common.Vec3
	Ambient        common.Vec3
	ShadowBias     float32
	ShadowRadius   int32
	ShadowsEnabled bool
}

func TestSoftwareLitShading(t *testing.T) {
	b := NewSoftwareBackend(WithSoftwareSurfaceSize(8, 8))
	defer b.Close()

	sh, err := shader.NewShader("lit", litSource, nil)
	require.NoError(t, err)
	vertexSpec, err := shader.DeriveSpec[MeshVertex](shader.WithDefaultKind(shader.FieldKindVertex))
	require.NoError(t, err)
	vertexLayout, err := shader.Bind(vertexSpec, sh)
	require.NoError(t, err)
	program, err := b.CompileShader(ProgramDescriptor{
		Label:         "lit",
		Kind:          ProgramLit,
		Shader:        sh,
		VertexLayouts: []gputypes.VertexBufferLayout{vertexLayout.VertexBufferLayout()},
		ColorFormat:   gputypes.TextureFormatRGBA8Unorm,
		DepthFormat:   gputypes.TextureFormatDepth32Float,
	})
	require.NoError(t, err)

	toCamera := common.Vec3{0, 0, -1}
	vertices := []MeshVertex{
		{Position: common.Vec3{-1, -1, 0.5}, Normal: toCamera},
		{Position: common.Vec3{1, -1, 0.5}, Normal: toCamera},
		{Position: common.Vec3{1, 1, 0.5}, Normal: toCamera},
		{Position: common.Vec3{-1, 1, 0.5}, Normal: toCamera},
	}
	quad, err := UploadMesh(b, "quad", vertices, []uint32{0, 1, 2, 0, 2, 3}, gputypes.PrimitiveTopologyTriangleList)
	require.NoError(t, err)

	color, err := b.CreateTexture(TextureDescriptor{Label: "color", Width: 8, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm})
	require.NoError(t, err)
	depth, err := b.CreateTexture(TextureDescriptor{Label: "depth", Width: 8, Height: 8, Format: gputypes.TextureFormatDepth32Float})
	require.NoError(t, err)
	shadowMap, err := b.CreateTexture(TextureDescriptor{Label: "shadow", Width: 4, Height: 4, Format: gputypes.TextureFormatDepth32Float})
	require.NoError(t, err)
	target := Target{Color: color, Depth: depth}

	render := func(frame litFrame, occluderDepth float32) [4]uint8 {
		require.NoError(t, b.Clear(target, gputypes.Color{A: 1}, 1))
		require.NoError(t, b.Clear(Target{Depth: shadowMap}, gputypes.Color{}, occluderDepth))
		uniforms := packUniforms(t, sh, frame)
		uniforms = append(uniforms, packUniforms(t, sh, testObject{Model: common.Identity4(), Color: common.White})...)
		require.NoError(t, b.Draw(DrawCommand{
			Label:         "lit quad",
			Program:       program,
			Target:        target,
			Params:        DefaultDrawParameters(),
			VertexBuffers: []common.BufferHandle{quad.VertexBuffer},
			IndexBuffer:   quad.IndexBuffer,
			IndexCount:    quad.IndexCount,
			Uniforms:      uniforms,
			Textures:      []TextureBinding{{Group: 0, Binding: 1, Texture: shadowMap, SamplerBinding: 2, HasSampler: true}},
		}))
		img, err := b.Snapshot(color)
		require.NoError(t, err)
		i := img.PixOffset(4, 4)
		return [4]uint8(img.Pix[i : i+4])
	}

	frame := litFrame{
		ViewProj:       common.Identity4(),
		LightViewProj:  common.Identity4(),
		LightDirection: common.Vec3{0, 0, 1},
		LightColor:     common.Vec3{0.5, 0.5, 0.5},
		Ambient:        common.Vec3{0.2, 0.2, 0.2},
		ShadowBias:     0.005,
	}

	t.Run("facing the light", func(t *testing.T) {
		px := render(frame, 0)
		assert.InDelta(t, 179, int(px[0]), 1, "ambient plus full diffuse")
		assert.Equal(t, uint8(255), px[3])
	})

	t.Run("facing away from the light", func(t *testing.T) {
		away := frame
		away.LightDirection = common.Vec3{0, 0, -1}
		px := render(away, 1)
		assert.InDelta(t, 51, int(px[0]), 1, "ambient only")
	})

	t.Run("occluded in the shadow map", func(t *testing.T) {
		shadowed := frame
		shadowed.ShadowsEnabled = true
		px := render(shadowed, 0.1)
		assert.InDelta(t, 51, int(px[0]), 1, "ambient only")
	})

	t.Run("unoccluded in the shadow map", func(t *testing.T) {
		lit := frame
		lit.ShadowsEnabled = true
		lit.ShadowRadius = 1
		px := render(lit, 1)
		assert.InDelta(t, 179, int(px[0]), 1)
	})
}

const postprocessSource = `
struct Glow {
    threshold: f32,
    intensity: f32,
    direction: vec2<f32>,
    radius: i32,
}

@group(0) @binding(0) var<uniform> glow_params: Glow;
@group(0) @binding(1) var source: texture_2d<f32>;
@group(0) @binding(2) var source_sampler: sampler;
@group(0) @binding(3) var scene: texture_2d<f32>;
@group(0) @binding(4) var glow: texture_2d<f32>;

@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    let uv = vec2<f32>(f32((i << 1u) & 2u), f32(i & 2u));
    return vec4<f32>(uv * 2.0 - 1.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(0.0);
}
`

type glowParams struct {
	Threshold float32
	Intensity float32
	Direction common.Vec2
	Radius    int32
}

func TestSoftwareFullscreenPrograms(t *testing.T) {
	b := NewSoftwareBackend(WithSoftwareSurfaceSize(8, 8))
	defer b.Close()

	sh, err := shader.NewShader("postprocess", postprocessSource, nil)
	require.NoError(t, err)
	compile := func(kind ProgramKind) common.ShaderHandle {
		h, err := b.CompileShader(ProgramDescriptor{Label: kind.String(), Kind: kind, Shader: sh, ColorFormat: gputypes.TextureFormatRGBA8Unorm})
		require.NoError(t, err)
		return h
	}
	texture := func(label string, c gputypes.Color) common.TextureHandle {
		h, err := b.CreateTexture(TextureDescriptor{Label: label, Width: 8, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm})
		require.NoError(t, err)
		require.NoError(t, b.Clear(Target{Color: h}, c, 1))
		return h
	}
	centre := func(h common.TextureHandle) [4]uint8 {
		img, err := b.Snapshot(h)
		require.NoError(t, err)
		i := img.PixOffset(4, 4)
		return [4]uint8(img.Pix[i : i+4])
	}
	run := func(program common.ShaderHandle, out common.TextureHandle, params glowParams, textures ...TextureBinding) {
		require.NoError(t, b.Draw(DrawCommand{
			Label:    "fullscreen",
			Program:  program,
			Target:   Target{Color: out},
			Uniforms: packUniforms(t, sh, params),
			Textures: textures,
		}))
	}
	source := func(h common.TextureHandle) TextureBinding {
		return TextureBinding{Group: 0, Binding: 1, Texture: h, SamplerBinding: 2, HasSampler: true}
	}

	bright := texture("bright", gputypes.Color{R: 0.8, G: 0.8, B: 0.8, A: 1})
	out := texture("out", gputypes.Color{})
	extract := compile(ProgramGlowExtract)

	t.Run("extract keeps pixels above the threshold", func(t *testing.T) {
		run(extract, out, glowParams{Threshold: 0.5}, source(bright))
		assert.Equal(t, [4]uint8{204, 204, 204, 255}, centre(out))
	})

	t.Run("extract blacks out pixels below the threshold", func(t *testing.T) {
		run(extract, out, glowParams{Threshold: 0.95}, source(bright))
		assert.Equal(t, [4]uint8{0, 0, 0, 255}, centre(out))
	})

	t.Run("blur of a flat image is flat", func(t *testing.T) {
		blur := compile(ProgramBlur)
		run(blur, out, glowParams{Direction: common.Vec2{0, 1}, Radius: 2}, source(bright))
		px := centre(out)
		assert.InDelta(t, 204, int(px[0]), 1)
		assert.Equal(t, uint8(255), px[3])
	})

	t.Run("composite adds scaled glow", func(t *testing.T) {
		composite := compile(ProgramComposite)
		scene := texture("scene", gputypes.Color{R: 0.25, A: 1})
		glow := texture("glow", gputypes.Color{R: 0.25, A: 1})
		run(composite, out, glowParams{Intensity: 2}, TextureBinding{Group: 0, Binding: 3, Texture: scene}, TextureBinding{Group: 0, Binding: 4, Texture: glow})
		px := centre(out)
		assert.InDelta(t, 192, int(px[0]), 1)
		assert.Equal(t, uint8(255), px[3])
	})

	t.Run("missing source texture", func(t *testing.T) {
		err := b.Draw(DrawCommand{Label: "extract", Program: extract, Target: Target{Color: out}})
		assert.ErrorContains(t, err, "texture source is not bound")
	})
}
