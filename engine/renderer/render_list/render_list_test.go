package render_list

import (
	"testing"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tinted struct {
	Model common.Mat4
	Color common.Vec4
	Phase float32
}

func TestInstancedBatchConcatenatesRecords(t *testing.T) {
	l := NewRenderList(InstancingModeInstanced)
	cube := &renderer.Mesh{Label: "cube"}

	first := InstanceParams{Model: common.Translation(1, 0, 0), Color: common.White}
	second := InstanceParams{Model: common.Translation(0, 2, 0), Color: common.Vec4{1, 0, 0, 1}}
	require.NoError(t, l.Push(cube, first))
	require.NoError(t, l.Push(cube, &second))

	batches, err := l.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Same(t, cube, b.Mesh)
	assert.Equal(t, uint32(2), b.Count)
	assert.Len(t, b.Instances, 2*int(l.Spec().Stride()))

	want, err := shader.Encode(l.Spec(), first)
	require.NoError(t, err)
	want, err = shader.AppendEncode(want, l.Spec(), second)
	require.NoError(t, err)
	assert.Equal(t, want, b.Instances)
}

func TestInstancedBatchesPerMeshInFirstAppearanceOrder(t *testing.T) {
	l := NewRenderList(InstancingModeInstanced)
	a, b := &renderer.Mesh{Label: "a"}, &renderer.Mesh{Label: "b"}

	for _, m := range []*renderer.Mesh{b, a, b, b, a} {
		require.NoError(t, l.Push(m, nil))
	}

	batches, err := l.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Same(t, b, batches[0].Mesh)
	assert.Equal(t, uint32(3), batches[0].Count)
	assert.Same(t, a, batches[1].Mesh)
	assert.Equal(t, uint32(2), batches[1].Count)
}

func TestInstancedListRejectsIncompatibleEntries(t *testing.T) {
	cube := &renderer.Mesh{Label: "cube"}

	t.Run("different record type", func(t *testing.T) {
		l := NewRenderList(InstancingModeInstanced)
		require.NoError(t, l.Push(cube, nil))
		err := l.Push(cube, tinted{})
		assert.ErrorIs(t, err, common.ErrIncompatibleInstanceBatch)
		assert.Equal(t, common.KindState, common.KindOf(err))
		assert.Equal(t, 1, l.Len())
	})

	t.Run("second mesh in a single mesh list", func(t *testing.T) {
		l := NewRenderList(InstancingModeInstanced, WithSingleMesh())
		require.NoError(t, l.Push(cube, nil))
		require.NoError(t, l.Push(cube, nil))
		err := l.Push(&renderer.Mesh{Label: "sphere"}, nil)
		assert.ErrorIs(t, err, common.ErrIncompatibleInstanceBatch)
		assert.Equal(t, 2, l.Len())
	})

	t.Run("uniform record", func(t *testing.T) {
		type object struct {
			Color common.Vec4 `shader:",uniform"`
		}
		l := NewRenderList(InstancingModeInstanced)
		assert.ErrorIs(t, l.Push(cube, object{}), common.ErrIncompatibleInstanceBatch)
		assert.Zero(t, l.Len())
		assert.Nil(t, l.Spec())
	})

	t.Run("nil mesh", func(t *testing.T) {
		l := NewRenderList(InstancingModeInstanced)
		assert.Error(t, l.Push(nil, nil))
	})
}

func TestPushUnsupportedFieldTypeRegistersNothing(t *testing.T) {
	type named struct {
		Model common.Mat4
		Name  string
	}
	registry := shader.NewRegistry(shader.WithDefaultKind(shader.FieldKindInstance))
	l := NewRenderList(InstancingModeInstanced, WithRegistry(registry))

	err := l.Push(&renderer.Mesh{Label: "cube"}, named{})
	assert.ErrorIs(t, err, common.ErrUnsupportedFieldType)
	assert.Equal(t, common.KindBinding, common.KindOf(err))
	assert.Zero(t, registry.Len())
	assert.Zero(t, l.Len())
}

func TestPushChecksListLimits(t *testing.T) {
	limits := gputypes.DefaultLimits()
	limits.MaxVertexAttributes = 4
	cube := &renderer.Mesh{Label: "cube"}

	l := NewRenderList(InstancingModeInstanced, WithLimits(limits))
	err := l.Push(cube, tinted{})
	assert.ErrorIs(t, err, common.ErrLimitExceeded)
	assert.Equal(t, common.KindBinding, common.KindOf(err))
	assert.Zero(t, l.Len())
	assert.Nil(t, l.Spec())

	require.NoError(t, NewRenderList(InstancingModeInstanced).Push(cube, tinted{}))

	limits = gputypes.DefaultLimits()
	limits.MaxUniformBufferBindingSize = 32
	err = NewRenderList(InstancingModeUniforms, WithLimits(limits)).Push(cube, tinted{})
	assert.ErrorIs(t, err, common.ErrLimitExceeded)
}

func TestClearForgetsRecordType(t *testing.T) {
	l := NewRenderList(InstancingModeInstanced)
	cube := &renderer.Mesh{Label: "cube"}
	require.NoError(t, l.Push(cube, nil))
	l.Clear()

	assert.Zero(t, l.Len())
	assert.Nil(t, l.Spec())
	require.NoError(t, l.Push(cube, tinted{}))
	batches, err := l.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 1)

	l.Clear()
	batches, err = l.Batches()
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestUniformsList(t *testing.T) {
	l := NewRenderList(InstancingModeUniforms)
	cube, plane := &renderer.Mesh{Label: "cube"}, &renderer.Mesh{Label: "plane"}

	require.NoError(t, l.Push(cube, nil))
	require.NoError(t, l.Push(plane, tinted{Phase: 1}))
	require.NoError(t, l.Push(cube, &tinted{Phase: 2}))

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Same(t, cube, entries[0].Mesh)
	assert.Equal(t, DefaultInstanceParams(), entries[0].Data)
	assert.Equal(t, shader.FieldKindUniform, entries[0].Spec.Kind())
	assert.Same(t, plane, entries[1].Mesh)
	assert.Same(t, entries[1].Spec, entries[2].Spec)
	assert.Nil(t, l.Spec())

	_, err := l.Batches()
	assert.ErrorIs(t, err, common.ErrIncompatibleInstanceBatch)

	type attribute struct {
		Color common.Vec4 `shader:",instance"`
	}
	assert.ErrorIs(t, l.Push(cube, attribute{}), common.ErrIncompatibleInstanceBatch)
	assert.Equal(t, 3, l.Len())
}

func TestParallelEncodingMatchesSequential(t *testing.T) {
	meshes := []*renderer.Mesh{{Label: "a"}, {Label: "b"}, {Label: "c"}}
	sequential := NewRenderList(InstancingModeInstanced)
	parallel := NewRenderList(InstancingModeInstanced, WithParallelEncoding(4), WithParallelThreshold(10, 7))
	defer parallel.Close()

	for i := range 200 {
		rec := tinted{
			Model: common.Translation(float32(i), 0, float32(-i)),
			Color: common.Vec4{float32(i) / 200, 0, 1, 1},
			Phase: float32(i),
		}
		m := meshes[(i/7)%len(meshes)]
		require.NoError(t, sequential.Push(m, rec))
		require.NoError(t, parallel.Push(m, rec))
	}

	want, err := sequential.Batches()
	require.NoError(t, err)
	got, err := parallel.Batches()
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Same(t, want[i].Mesh, got[i].Mesh)
		assert.Equal(t, want[i].Count, got[i].Count)
		assert.Equal(t, want[i].Instances, got[i].Instances)
	}
}

func TestInstancingModeString(t *testing.T) {
	assert.Equal(t, "Instanced", InstancingModeInstanced.String())
	assert.Equal(t, "Uniforms", InstancingModeUniforms.String())
	assert.Equal(t, "InstancingMode(7)", InstancingMode(7).String())
}

func TestDrawParameters(t *testing.T) {
	assert.Equal(t, renderer.DefaultDrawParameters(), NewRenderList(InstancingModeUniforms).DrawParameters())

	params := renderer.DefaultDrawParameters()
	params.DepthWrite = false
	params.DepthBias = 2
	l := NewRenderList(InstancingModeInstanced, WithDrawParameters(params))
	assert.Equal(t, params, l.DrawParameters())

	l.Clear()
	assert.Equal(t, params, l.DrawParameters(), "clearing keeps the draw parameters")
}
