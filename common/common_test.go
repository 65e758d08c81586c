package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		sentinel *Error
		kind     ErrorKind
	}{
		{ErrInvalidConfig, KindConfig},
		{ErrUnsupportedFieldType, KindBinding},
		{ErrDuplicateFieldName, KindBinding},
		{ErrMissingShaderInput, KindBinding},
		{ErrFieldTypeMismatch, KindBinding},
		{ErrMixedFieldKinds, KindBinding},
		{ErrLimitExceeded, KindBinding},
		{ErrInvalidPipelineState, KindState},
		{ErrIncompatibleInstanceBatch, KindState},
	}
	for _, tt := range tests {
		t.Run(tt.sentinel.Name, func(t *testing.T) {
			err := Errorf(tt.sentinel, "field %q", "albedo")
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.sentinel.Name+`: field "albedo"`, err.Error())

			wrapped := fmt.Errorf("scene pass: %w", err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(wrapped))
		})
	}

	assert.Equal(t, KindUnknown, KindOf(errors.New("device lost")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.NotErrorIs(t, Errorf(ErrInvalidConfig, "x"), ErrInvalidPipelineState)
	assert.Equal(t, "StateError", KindState.String())
	assert.Equal(t, "UnknownError", ErrorKind(99).String())
}

func TestMat4(t *testing.T) {
	id := Identity4()
	m := Translation(1, 2, 3)
	assert.Equal(t, m, id.Mul(m))
	assert.Equal(t, m, m.Mul(id))
	assert.Equal(t, Vec4{2, 3, 4, 1}, m.Transform(Vec4{1, 1, 1, 1}))
	assert.Equal(t, Vec3{1, 1, 1}, m.TransformDirection(Vec3{1, 1, 1}))

	back := Translation(-1, -2, -3)
	assert.Equal(t, id, back.Mul(m))
}

func TestBuildModelMatrix(t *testing.T) {
	var m Mat4
	BuildModelMatrix(m[:], 1, 2, 3, 0, math32.Pi/2, 0, 2, 2, 2)

	// A quarter turn about Y takes +X to -Z.
	p := m.Transform(Vec4{1, 0, 0, 1})
	assert.InDelta(t, 1, p[0], 1e-5)
	assert.InDelta(t, 2, p[1], 1e-5)
	assert.InDelta(t, 1, p[2], 1e-5)

	BuildModelMatrix(m[:], 0, 0, 0, 0, 0, 0, 1, 1, 1)
	assert.Equal(t, Identity4(), m)
}

func TestViewProjection(t *testing.T) {
	var view, proj Mat4
	LookAt(view[:], 0, 0, 5, 0, 0, 0, 0, 1, 0)
	assert.Equal(t, Vec4{0, 0, -5, 1}, view.Transform(Vec4{0, 0, 0, 1}))

	Ortho(proj[:], -2, 2, -2, 2, 1, 9)
	near := proj.Transform(Vec4{2, -2, -1, 1})
	assert.InDelta(t, 1, near[0], 1e-6)
	assert.InDelta(t, -1, near[1], 1e-6)
	assert.InDelta(t, 0, near[2], 1e-6)
	far := proj.Transform(Vec4{0, 0, -9, 1})
	assert.InDelta(t, 1, far[2], 1e-6)

	Perspective(proj[:], math32.Pi/2, 1, 1, 10)
	clip := proj.Transform(Vec4{0, 0, -1, 1})
	require.NotZero(t, clip[3])
	assert.InDelta(t, 0, clip[2]/clip[3], 1e-6)
	clip = proj.Transform(Vec4{0, 0, -10, 1})
	assert.InDelta(t, 1, clip[2]/clip[3], 1e-6)
}

func TestVectorHelpers(t *testing.T) {
	v := Normalize3(Vec3{3, 0, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[2], 1e-6)
	assert.Equal(t, Vec3{}, Normalize3(Vec3{}))
	assert.InDelta(t, 5, Length3(Vec3{3, 0, 4}), 1e-6)
	assert.Equal(t, float32(11), Dot3(Vec3{1, 2, 3}, Vec3{3, 1, 2}))
	assert.Equal(t, Vec3{-2, 1, 1}, Sub3(Vec3{1, 2, 3}, Vec3{3, 1, 2}))
}

func TestUtils(t *testing.T) {
	assert.Equal(t, "b", Coalesce("", "b", "c"))
	assert.Equal(t, 0, Coalesce(0, 0))
	assert.Equal(t, 3, Clamp(7, 0, 3))
	assert.Equal(t, float32(0), Clamp(float32(-1), 0, 1))
}
