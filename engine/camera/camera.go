package camera

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/chewxy/math32"
)

// Projection selects how a camera maps view space to clip space.
type Projection int

const (
	// ProjectionPerspective uses a vertical field of view and the aspect ratio.
	ProjectionPerspective Projection = iota

	// ProjectionOrthographic uses a fixed view volume whose half-height is the ortho size.
	ProjectionOrthographic
)

func (p Projection) String() string {
	switch p {
	case ProjectionPerspective:
		return "perspective"
	case ProjectionOrthographic:
		return "orthographic"
	default:
		return fmt.Sprintf("Projection(%d)", int(p))
	}
}

type cameraImpl struct {
	mu *sync.Mutex

	projection Projection

	position common.Vec3
	target   common.Vec3
	up       common.Vec3

	fov       float32
	orthoSize float32
	aspect    float32
	near      float32
	far       float32

	viewMatrix           common.Mat4
	projectionMatrix     common.Mat4
	viewProjectionMatrix common.Mat4
}

// Camera is the view the pipeline renders the scene from. It looks from its position at its
// target and keeps its matrices current whenever a property changes.
type Camera interface {
	// Projection returns the projection kind of the camera.
	//
	// Returns:
	//   - Projection: perspective or orthographic
	Projection() Projection

	// Position returns the world-space position of the camera.
	//
	// Returns:
	//   - common.Vec3: the eye position
	Position() common.Vec3

	// Target returns the world-space point the camera looks at.
	//
	// Returns:
	//   - common.Vec3: the look-at target
	Target() common.Vec3

	// Up returns the camera's up vector.
	//
	// Returns:
	//   - common.Vec3: the up vector
	Up() common.Vec3

	// Fov returns the vertical field of view in radians.
	//
	// Returns:
	//   - float32: field of view in radians
	Fov() float32

	// Aspect returns the aspect ratio (width / height).
	//
	// Returns:
	//   - float32: the aspect ratio
	Aspect() float32

	// Near returns the near clipping plane distance.
	//
	// Returns:
	//   - float32: near plane distance
	Near() float32

	// Far returns the far clipping plane distance.
	//
	// Returns:
	//   - float32: far plane distance
	Far() float32

	// ViewMatrix returns the current 4x4 view matrix (column-major).
	//
	// Returns:
	//   - common.Mat4: the view matrix
	ViewMatrix() common.Mat4

	// ProjectionMatrix returns the current 4x4 projection matrix (column-major).
	//
	// Returns:
	//   - common.Mat4: the projection matrix
	ProjectionMatrix() common.Mat4

	// ViewProjectionMatrix returns the current combined view-projection matrix (column-major).
	//
	// Returns:
	//   - common.Mat4: the combined view-projection matrix
	ViewProjectionMatrix() common.Mat4

	// SetPosition moves the camera.
	//
	// Parameters:
	//   - x, y, z: the new eye position
	SetPosition(x, y, z float32)

	// SetTarget changes the point the camera looks at.
	//
	// Parameters:
	//   - x, y, z: the new target
	SetTarget(x, y, z float32)

	// SetUp sets the camera's up vector.
	//
	// Parameters:
	//   - x, y, z: up vector components
	SetUp(x, y, z float32)

	// SetFov sets the vertical field of view.
	//
	// Parameters:
	//   - fov: field of view in radians
	SetFov(fov float32)

	// SetAspect sets the aspect ratio, typically on resize.
	//
	// Parameters:
	//   - aspect: width / height
	SetAspect(aspect float32)

	// SetNear sets the near clipping plane distance.
	//
	// Parameters:
	//   - near: near plane distance
	SetNear(near float32)

	// SetFar sets the far clipping plane distance.
	//
	// Parameters:
	//   - far: far plane distance
	SetFar(far float32)
}

var _ Camera = &cameraImpl{}

// NewCamera creates a perspective camera at (0, 0, 5) looking at the origin with a 45 degree
// field of view, then applies the options.
//
// Parameters:
//   - options: variadic list of CameraBuilderOption functions to configure the camera
//
// Returns:
//   - Camera: the new camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:        &sync.Mutex{},
		position:  common.Vec3{0, 0, 5},
		up:        common.Vec3{0, 1, 0},
		fov:       45.0 * (math32.Pi / 180.0), // radians
		orthoSize: 1,
		aspect:    1.0,
		near:      0.1,
		far:       100.0,
	}
	for _, option := range options {
		option(c)
	}
	c.updateMatrices()
	return c
}

func (c *cameraImpl) Projection() Projection {
	return c.projection
}

func (c *cameraImpl) Position() common.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *cameraImpl) Target() common.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *cameraImpl) Up() common.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Far() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

func (c *cameraImpl) ViewMatrix() common.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewMatrix
}

func (c *cameraImpl) ProjectionMatrix() common.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectionMatrix
}

func (c *cameraImpl) ViewProjectionMatrix() common.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewProjectionMatrix
}

func (c *cameraImpl) SetPosition(x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = common.Vec3{x, y, z}
	c.updateMatrices()
}

func (c *cameraImpl) SetTarget(x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = common.Vec3{x, y, z}
	c.updateMatrices()
}

func (c *cameraImpl) SetUp(x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.up = common.Vec3{x, y, z}
	c.updateMatrices()
}

func (c *cameraImpl) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = fov
	c.updateMatrices()
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.updateMatrices()
}

func (c *cameraImpl) SetNear(near float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near = near
	c.updateMatrices()
}

func (c *cameraImpl) SetFar(far float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.far = far
	c.updateMatrices()
}

// updateMatrices recalculates the view, projection and view-projection matrices.
// Caller must hold the mutex.
func (c *cameraImpl) updateMatrices() {
	common.LookAt(c.viewMatrix[:],
		c.position[0], c.position[1], c.position[2],
		c.target[0], c.target[1], c.target[2],
		c.up[0], c.up[1], c.up[2],
	)

	switch c.projection {
	case ProjectionOrthographic:
		h := c.orthoSize
		w := h * c.aspect
		common.Ortho(c.projectionMatrix[:], -w, w, -h, h, c.near, c.far)
	default:
		common.Perspective(c.projectionMatrix[:], c.fov, c.aspect, c.near, c.far)
	}

	c.viewProjectionMatrix = c.projectionMatrix.Mul(c.viewMatrix)
}
