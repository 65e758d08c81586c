package light

import (
	"testing"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/stretchr/testify/assert"
)

func TestNewLightDefaults(t *testing.T) {
	l := NewLight(LightTypePoint, WithPosition(1, 2, 3), WithColor(1, 0.5, 0), WithIntensity(2), WithAttenuation(1, 0.1, 0.01))
	assert.Equal(t, LightTypePoint, l.Type())
	assert.Equal(t, common.Vec3{1, 2, 3}, l.Position())
	assert.Equal(t, common.Vec3{0, -1, 0}, l.Direction())
	assert.Equal(t, common.Vec3{2, 1, 0}, l.Radiance())
	assert.Equal(t, common.Vec3{1, 0.1, 0.01}, l.Attenuation())
	assert.False(t, l.IsMain())

	l.SetDirection(0, 0, 5)
	assert.Equal(t, common.Vec3{0, 0, 1}, l.Direction())
}

func TestMain(t *testing.T) {
	a := NewLight(LightTypePoint)
	b := NewLight(LightTypeDirectional, WithMain())
	assert.Same(t, b, Main(a, b))
	assert.Same(t, a, Main(nil, a))
	assert.Nil(t, Main())

	b.SetMain(false)
	assert.Same(t, a, Main(a, b))
}

func TestShadowViewProjection(t *testing.T) {
	tests := []struct {
		name  string
		light Light
	}{
		{"directional", NewLight(LightTypeDirectional, WithDirection(1, -1, 0))},
		{"straight down", NewLight(LightTypeDirectional)},
		{"point", NewLight(LightTypePoint, WithPosition(0, 10, 5))},
	}
	center := common.Vec3{2, 0, -1}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vp := ShadowViewProjection(tt.light, center, 5)
			c := vp.Transform(common.Vec4{center[0], center[1], center[2], 1})
			assert.InDelta(t, 0, c[0]/c[3], 1e-4)
			assert.InDelta(t, 0, c[1]/c[3], 1e-4)
			assert.Greater(t, c[2]/c[3], float32(0))
			assert.Less(t, c[2]/c[3], float32(1))
		})
	}
}

func TestLightTypeString(t *testing.T) {
	assert.Equal(t, "point", LightTypePoint.String())
	assert.Equal(t, "LightType(9)", LightType(9).String())
}
