package light

import (
	"github.com/Carmen-Shannon/conduit/common"
	"github.com/chewxy/math32"
)

// DefaultShadowNear is the default near plane of the light's orthographic shadow projection.
const DefaultShadowNear float32 = 0.1

// ShadowViewProjection builds the orthographic view-projection matrix the shadow pass renders
// from. The volume is centered on center (typically the camera target) and looks along the
// light direction; a point light looks from its position towards center instead.
//
// Parameters:
//   - l: the light casting the shadow
//   - center: world-space center of the shadow volume
//   - halfExtent: half-size of the orthographic volume in world units
//
// Returns:
//   - common.Mat4: the light view-projection matrix
func ShadowViewProjection(l Light, center common.Vec3, halfExtent float32) common.Mat4 {
	dir := l.Direction()
	far := 4 * halfExtent
	eye := common.Vec3{
		center[0] - dir[0]*far*0.5,
		center[1] - dir[1]*far*0.5,
		center[2] - dir[2]*far*0.5,
	}
	if l.Type() == LightTypePoint {
		eye = l.Position()
		if d := common.Sub3(center, eye); common.Length3(d) > 0 {
			dir = common.Normalize3(d)
			far = common.Length3(d) + 2*halfExtent
		}
	}

	// the up vector must not be parallel to the light direction
	up := common.Vec3{0, 1, 0}
	if math32.Abs(dir[1]) > 0.99 {
		up = common.Vec3{1, 0, 0}
	}

	var view, proj common.Mat4
	common.LookAt(view[:], eye[0], eye[1], eye[2], center[0], center[1], center[2], up[0], up[1], up[2])
	common.Ortho(proj[:], -halfExtent, halfExtent, -halfExtent, halfExtent, DefaultShadowNear, far)
	return proj.Mul(view)
}
